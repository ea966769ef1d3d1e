// Package process supervises host child processes, mirroring the
// teacher's internal/process.Manager used throughout internal/run/run.go
// (e.processes.Exec(cmd), e.processes.Close()). It gives the Scheduler a
// single place to track every spawned child so cancellation (spec.md
// §5 "Cancellation & timeouts") can kill them all on shutdown.
package process

import (
	"errors"
	"os/exec"
	"sync"
)

// ErrClosing is returned by Exec once the Manager has begun shutting
// down; the child is not started. internal/executor reports it as an
// execution error like any other non-exit failure.
var ErrClosing = errors.New("process: manager is closing")

// Manager tracks every child process started through it so it can kill
// them all on Close, guaranteeing clean shutdown under cancellation.
type Manager struct {
	mu      sync.Mutex
	closing bool
	cmds    map[*exec.Cmd]struct{}
}

// NewManager builds an empty Manager.
func NewManager() *Manager {
	return &Manager{cmds: make(map[*exec.Cmd]struct{})}
}

// Exec runs cmd to completion, registering it for cancellation for the
// duration of the call.
func (m *Manager) Exec(cmd *exec.Cmd) error {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return ErrClosing
	}
	m.cmds[cmd] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.cmds, cmd)
		m.mu.Unlock()
	}()

	return cmd.Run()
}

// Close marks the Manager as closing and kills every still-running
// child, idempotently.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closing = true
	cmds := make([]*exec.Cmd, 0, len(m.cmds))
	for c := range m.cmds {
		cmds = append(cmds, c)
	}
	m.mu.Unlock()

	for _, c := range cmds {
		if c.Process != nil {
			_ = c.Process.Kill()
		}
	}
}
