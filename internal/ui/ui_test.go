package ui

import (
	"bytes"
	"strings"
	"testing"
)

func TestColorCacheStableAndDistinctPerName(t *testing.T) {
	c := NewColorCache()
	a1 := c.Color("build")
	a2 := c.Color("build")
	b := c.Color("test")
	if a1 != a2 {
		t.Fatal("expected same name to return the same color instance")
	}
	if a1 == b {
		t.Fatal("expected distinct names to get distinct colors while palette has room")
	}
}

func TestPrefixWriterPrefixesEachLine(t *testing.T) {
	var buf bytes.Buffer
	w := &prefixWriter{dst: &buf, prefix: "build", colorOn: false, color: NewColorCache().Color("build")}
	w.Write([]byte("line one\nline two\n"))
	out := buf.String()
	if !strings.Contains(out, "build: line one") || !strings.Contains(out, "build: line two") {
		t.Fatalf("expected both lines prefixed, got %q", out)
	}
}

func TestPrefixWriterFlushesPartialLine(t *testing.T) {
	var buf bytes.Buffer
	w := &prefixWriter{dst: &buf, prefix: "build", colorOn: false, color: NewColorCache().Color("build")}
	w.Write([]byte("no newline yet"))
	if buf.Len() != 0 {
		t.Fatalf("expected nothing written before flush, got %q", buf.String())
	}
	w.Flush()
	if !strings.Contains(buf.String(), "build: no newline yet") {
		t.Fatalf("expected flushed partial line, got %q", buf.String())
	}
}

func TestNewTerminalRespectsNoColor(t *testing.T) {
	term := NewTerminal(true, true, true, true)
	if term.StdoutColor || term.StderrColor {
		t.Fatal("expected NO_COLOR to override every force-color flag")
	}
}

func TestNewTerminalForceColorOverridesNonTTY(t *testing.T) {
	term := NewTerminal(false, true, false, false)
	if !term.StdoutColor || !term.StderrColor {
		t.Fatal("expected DL_FORCE_COLOR to force both streams on")
	}
}
