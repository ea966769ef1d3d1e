// Package signals watches for SIGINT/SIGTERM and runs a set of
// registered close callbacks exactly once, mirroring the teacher's
// internal/signals.Watcher referenced throughout internal/daemon/daemon.go
// (signalWatcher.AddOnClose(s.GracefulStop)) and internal/cmd/root.go's
// PersistentPreRunE wiring.
package signals

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hashicorp/go-hclog"
)

// Watcher observes the process's signal channel and, on the first
// SIGINT or SIGTERM, cancels its Context and runs every registered
// close callback exactly once, in the order they were added (spec.md
// §5 "Cancellation & timeouts": "a signal stops the scheduler from
// dispatching new leaves ... and every live executor instance is torn
// down before the process exits").
type Watcher struct {
	logger hclog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	closers     []func()
	closed      bool
	interrupted bool

	sigCh chan os.Signal
}

// NewWatcher starts watching for SIGINT/SIGTERM against parent.
func NewWatcher(parent context.Context, logger hclog.Logger) *Watcher {
	ctx, cancel := context.WithCancel(parent)
	w := &Watcher{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		sigCh:  make(chan os.Signal, 1),
	}
	signal.Notify(w.sigCh, os.Interrupt, syscall.SIGTERM)
	go w.watch()
	return w
}

func (w *Watcher) watch() {
	select {
	case sig, ok := <-w.sigCh:
		if !ok {
			return
		}
		w.logger.Info("received signal, shutting down", "signal", sig)
		w.mu.Lock()
		w.interrupted = true
		w.mu.Unlock()
		w.Close()
	case <-w.ctx.Done():
	}
}

// Context is cancelled the moment a signal is received, so callers
// threading a context through the scheduler observe cancellation
// immediately rather than waiting on their own leaf to finish.
func (w *Watcher) Context() context.Context {
	return w.ctx
}

// AddOnClose registers fn to run when Close is called (by a signal or
// explicitly by the caller on normal exit). Order of registration is
// preserved.
func (w *Watcher) AddOnClose(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		fn()
		return
	}
	w.closers = append(w.closers, fn)
}

// Close cancels the context and runs every registered closer exactly
// once; safe to call multiple times and from multiple goroutines.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	closers := w.closers
	w.closers = nil
	w.mu.Unlock()

	w.cancel()
	signal.Stop(w.sigCh)

	for _, fn := range closers {
		fn()
	}
}

// Interrupted reports whether Close was triggered by a delivered signal
// (as opposed to an explicit, successful-completion Close).
func (w *Watcher) Interrupted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.interrupted
}
