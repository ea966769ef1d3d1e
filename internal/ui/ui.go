// Package ui renders one colored, name-prefixed output stream per task,
// grounded on the teacher's run.go usage of its ColorCache/PrefixColor
// helper (referenced but not itself retrieved in the pack, so its
// rotating per-name color assignment is reconstructed here) plus
// fatih/color and mattn/go-isatty for terminal/color detection.
//
// Every task's prefixWriter ultimately shares the process's single
// os.Stdout/os.Stderr file descriptor, so concurrent Par siblings'
// writes are serialized through a github.com/hashicorp/go-gatedio
// writer (a teacher dependency) underneath the per-task line buffering,
// preventing two tasks' output from interleaving mid-write.
package ui

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/hashicorp/go-gatedio"
	"github.com/mattn/go-isatty"
)

// palette mirrors the small rotating set of distinguishable colors the
// teacher's ColorCache cycles through for per-package log prefixes.
var palette = []color.Attribute{
	color.FgCyan,
	color.FgMagenta,
	color.FgYellow,
	color.FgGreen,
	color.FgBlue,
	color.FgRed,
}

// ColorCache assigns each task name a stable color for the lifetime of
// one invocation, in first-seen order, mirroring run.go's
// colorCache.PrefixColor(pack.Name).
type ColorCache struct {
	mu     sync.Mutex
	colors map[string]*color.Color
	next   int
}

// NewColorCache builds an empty ColorCache.
func NewColorCache() *ColorCache {
	return &ColorCache{colors: make(map[string]*color.Color)}
}

// Color returns the stable color assigned to name, assigning the next
// unused palette entry the first time name is seen.
func (c *ColorCache) Color(name string) *color.Color {
	c.mu.Lock()
	defer c.mu.Unlock()
	if col, ok := c.colors[name]; ok {
		return col
	}
	col := color.New(palette[c.next%len(palette)])
	c.next++
	c.colors[name] = col
	return col
}

// ColorMode names the auto/always/never color policies. Nothing in this
// package consumes it: NewTerminal takes the NO_COLOR / DL_FORCE_COLOR /
// DL_FORCE_STDOUT_COLOR / DL_FORCE_STDERR_COLOR settings as booleans.
type ColorMode int

const (
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

// Terminal holds the resolved color policy for stdout and stderr,
// computed once from the environment and TTY state at startup.
type Terminal struct {
	Cache       *ColorCache
	StdoutColor bool
	StderrColor bool

	stdout io.Writer
	stderr io.Writer
}

// NewTerminal resolves color policy the way run.go's UI setup does:
// NO_COLOR forces color off everywhere; the DL_FORCE_*_COLOR knobs
// force it on for one stream regardless of TTY; otherwise each stream
// colors only when it is itself a terminal.
func NewTerminal(noColor, forceColor, forceStdout, forceStderr bool) *Terminal {
	stdoutColor := isatty.IsTerminal(os.Stdout.Fd())
	stderrColor := isatty.IsTerminal(os.Stderr.Fd())
	if forceColor {
		stdoutColor, stderrColor = true, true
	}
	if forceStdout {
		stdoutColor = true
	}
	if forceStderr {
		stderrColor = true
	}
	if noColor {
		stdoutColor, stderrColor = false, false
	}
	return &Terminal{
		Cache:       NewColorCache(),
		StdoutColor: stdoutColor,
		StderrColor: stderrColor,
		stdout:      gatedio.NewWriter(os.Stdout),
		stderr:      gatedio.NewWriter(os.Stderr),
	}
}

// Writers builds the prefixed stdout/stderr writers for one task,
// satisfying internal/scheduler.Output. Every call shares this
// Terminal's gated stdout/stderr so concurrent tasks' writes don't
// interleave mid-line.
func (t *Terminal) Writers(taskName string) (stdout, stderr io.Writer) {
	col := t.Cache.Color(taskName)
	return &prefixWriter{dst: t.stdout, prefix: taskName, color: col, colorOn: t.StdoutColor},
		&prefixWriter{dst: t.stderr, prefix: taskName, color: col, colorOn: t.StderrColor}
}

// prefixWriter writes name-prefixed, optionally colorized lines to dst,
// matching run.go's cli.PrefixedUi{OutputPrefix: "%s:%s: "} shape but
// operating directly on an io.Writer so the Scheduler doesn't need to
// know about mitchellh/cli's Ui interface.
type prefixWriter struct {
	dst     io.Writer
	prefix  string
	color   *color.Color
	colorOn bool

	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *prefixWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// incomplete line, put it back for next Write
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.emit(line)
	}
	return len(p), nil
}

func (w *prefixWriter) emit(line string) {
	prefix := w.prefix + ": "
	if w.colorOn {
		prefix = w.color.Sprintf("%s: ", w.prefix)
	}
	fmt.Fprint(w.dst, prefix, line)
}

// Flush writes any buffered partial line, with a trailing newline, so
// output from a task that never ends in '\n' isn't lost.
func (w *prefixWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return
	}
	w.emit(w.buf.String() + "\n")
	w.buf.Reset()
}
