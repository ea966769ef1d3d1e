// Package cmdutil wires the shared runtime pieces every subcommand
// needs - logger, config, process manager - into one Helper, the way
// the teacher's internal/cmdutil.Helper is threaded through every
// internal/cmd/*.RunCmd constructor from internal/cmd/root.go.
package cmdutil

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/hashicorp/go-hclog"
	"github.com/mattn/go-isatty"
	"github.com/nightlyone/lockfile"

	"github.com/devloop-run/devloop/internal/config"
	"github.com/devloop-run/devloop/internal/container"
	"github.com/devloop-run/devloop/internal/corpus"
	"github.com/devloop-run/devloop/internal/diag"
	"github.com/devloop-run/devloop/internal/dllog"
	"github.com/devloop-run/devloop/internal/executor"
	"github.com/devloop-run/devloop/internal/fetch"
	"github.com/devloop-run/devloop/internal/process"
	"github.com/devloop-run/devloop/internal/scheduler"
	"github.com/devloop-run/devloop/internal/signals"
	"github.com/devloop-run/devloop/internal/ui"
)

// Exit codes from spec.md §6 "dedicated non-zero codes".
const (
	ExitOK            = 0
	ExitCorpusError   = 2
	ExitUnknownTarget = 3
	ExitCancelled     = 130
)

// Helper bundles the runtime dependencies shared by every subcommand.
type Helper struct {
	Logger      hclog.Logger
	Env         *config.Env
	ProjectRoot string
	Processes   *process.Manager
	Fetcher     *fetch.Fetcher
	Watcher     *signals.Watcher
	Terminal    *ui.Terminal
	lock        lockfile.Lockfile
}

// New builds a Helper rooted at projectRoot, loading Env from the
// process environment, starting the signal watcher, and taking the
// project's single-flight scratch lock (released on Watcher.Close).
func New(projectRoot string) (*Helper, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}
	logger := dllog.New()
	watcher := signals.NewWatcher(context.Background(), logger)

	lock, err := acquireScratchLock(projectRoot)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	watcher.AddOnClose(func() {
		_ = lock.Unlock()
	})

	return &Helper{
		Logger:      logger,
		Env:         env,
		ProjectRoot: projectRoot,
		Processes:   process.NewManager(),
		Fetcher:     fetch.New(),
		Watcher:     watcher,
		Terminal:    ui.NewTerminal(env.NoColor, env.ForceColor, env.ForceStdoutColor, env.ForceStderrColor),
		lock:        lock,
	}, nil
}

// LoadCorpus loads and validates the project's corpus, showing a
// TTY-only progress spinner (github.com/briandowns/spinner, a teacher
// dependency) while *_locations are fetched and parsed.
func (h *Helper) LoadCorpus() (*corpus.Corpus, error) {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		s := spinner.New(spinner.CharSets[9], 100*time.Millisecond)
		s.Suffix = " loading corpus..."
		s.Start()
		defer s.Stop()
	}
	return corpus.Load(h.ProjectRoot)
}

// NewScheduler builds a Scheduler wired to this Helper's shared
// dependencies for one plan invocation against c.
func (h *Helper) NewScheduler(c *corpus.Corpus) *scheduler.Scheduler {
	rt := &executor.Runtime{
		ScratchRoot: config.ScratchRoot(h.ProjectRoot),
		ProjectRoot: h.ProjectRoot,
		Engine:      container.NewCLIEngine(h.Env.ContainerEngine),
		Processes:   h.Processes,
		Logger:      h.Logger.Named("executor"),
		Env:         executor.NewConfigEnv(h.Env.TMPDir, h.Env.NoColor, h.Env.ForceColor, h.Env.ForceStdoutColor, h.Env.ForceStderrColor),
	}
	concurrency := h.Env.WorkerCount
	// network is left empty here: Pool.containerNetwork creates the
	// shared per-invocation network lazily, the first time a
	// container-type executor is actually acquired.
	pool := scheduler.NewPool(rt, c.Helpers, "")
	s := &scheduler.Scheduler{
		Corpus:      c,
		Fetcher:     h.Fetcher,
		ProjectRoot: h.ProjectRoot,
		Pool:        pool,
		Logger:      h.Logger.Named("scheduler"),
		Output:      h.Terminal,
		Concurrency: concurrency,
	}
	h.Watcher.AddOnClose(func() {
		_ = pool.TearDownAll(context.Background())
	})
	return s
}

// ExitCode maps a returned error to the process exit code spec.md §6
// mandates, consulting the Watcher to distinguish a signal-driven abort
// from an ordinary corpus/plan error.
func (h *Helper) ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if h.Watcher != nil && h.Watcher.Interrupted() {
		return ExitCancelled
	}
	var de *diag.Error
	if e, ok := err.(*diag.Error); ok {
		de = e
	}
	if de == nil {
		return 1
	}
	switch de.Kind {
	case diag.KindCorpus:
		return ExitCorpusError
	case diag.KindPlan:
		return ExitUnknownTarget
	case diag.KindCancel:
		return ExitCancelled
	case diag.KindTask:
		return exitCodeFromTaskFailure(de)
	default:
		return 1
	}
}

// exitCodeFromTaskFailure recovers the task's own exit code, encoded in
// diag.Error.Code as "exit-<n>" by internal/scheduler.runLeaf.
func exitCodeFromTaskFailure(de *diag.Error) int {
	rest := strings.TrimPrefix(de.Code, "exit-")
	if rest == de.Code {
		return 1
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n == 0 {
		return 1
	}
	return n
}
