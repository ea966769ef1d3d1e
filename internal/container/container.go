// Package container implements Dev-Loop's narrow abstract contract to a
// container runtime (spec.md §1 "the specific container runtime binary
// ... is external"; §4.E "Container variant"). It shells out to an
// external OCI CLI (docker or podman) the same way the teacher's own
// internal/run/run.go drives an external package-manager binary via
// os/exec, and is grounded on the retrieved invowk container runtime
// reference (other_examples/...invowk-invowk__internal-runtime-
// container_exec.go.go) for the prepare/run-with-retry/teardown shape,
// and the containerd client task reference
// (other_examples/...weiyilai-containerd__client-task.go.go) for the
// create/start/exec/kill/remove lifecycle split.
package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"
)

// Mount is a host:container bind mount.
type Mount struct {
	Host      string
	Container string
}

// CreateSpec describes a container to bring up as a long-lived executor
// instance (spec.md §4.E "Container variant", steps 1-3).
type CreateSpec struct {
	Image      string
	Name       string
	Hostname   string
	User       string
	Network    string
	Mounts     []Mount
	TCPPorts   []int
	UDPPorts   []int
	WorkingDir string
}

// Engine is the narrow contract Dev-Loop speaks to a container runtime.
// A CLI-backed implementation is provided below; tests substitute a fake.
type Engine interface {
	EnsureImage(ctx context.Context, image string) error
	Create(ctx context.Context, spec CreateSpec) (id string, err error)
	Exec(ctx context.Context, id string, argv []string, env map[string]string, cwd string, stdout, stderr io.Writer) (exitCode int, err error)
	Stop(ctx context.Context, id string, grace time.Duration) error
	Remove(ctx context.Context, id string) error
	CreateNetwork(ctx context.Context, name string) error
	RemoveNetwork(ctx context.Context, name string) error
}

// IsTransientExitCode reports whether the container engine's own exit
// code (not the user script's) indicates a transient failure worth
// retrying: 125 is a generic engine error, 126 is an OCI runtime error
// (e.g. a rootless-runtime race). Grounded on the invowk reference.
func IsTransientExitCode(code int) bool {
	return code == 125 || code == 126
}

// CLIEngine drives an external container CLI binary (docker or podman)
// via os/exec, matching the teacher's habit of shelling out to external
// tooling rather than linking a heavyweight SDK.
type CLIEngine struct {
	Binary string // "docker" or "podman"
}

// NewCLIEngine builds a CLIEngine for the given binary name, defaulting
// to "docker" when empty.
func NewCLIEngine(binary string) *CLIEngine {
	if binary == "" {
		binary = "docker"
	}
	return &CLIEngine{Binary: binary}
}

func (e *CLIEngine) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, e.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%s %v: %w: %s", e.Binary, args, err, stderr.String())
	}
	return stdout.String(), nil
}

// EnsureImage pulls the image if it isn't already present locally.
func (e *CLIEngine) EnsureImage(ctx context.Context, image string) error {
	if _, err := e.run(ctx, "image", "inspect", image); err == nil {
		return nil
	}
	_, err := e.run(ctx, "pull", image)
	return err
}

// Create starts a long-lived foreground process inside a fresh
// container (spec.md §4.E "a long-lived foreground process ... so the
// container stays alive between exec calls within one plan invocation"),
// with the mounts, ports, hostname, and user the spec requests.
func (e *CLIEngine) Create(ctx context.Context, spec CreateSpec) (string, error) {
	args := []string{"run", "-d", "--name", spec.Name}
	if spec.Hostname != "" {
		args = append(args, "--hostname", spec.Hostname)
	}
	if spec.User != "" {
		args = append(args, "--user", spec.User)
	}
	if spec.Network != "" {
		args = append(args, "--network", spec.Network)
	}
	for _, m := range spec.Mounts {
		args = append(args, "-v", fmt.Sprintf("%s:%s", m.Host, m.Container))
	}
	for _, p := range spec.TCPPorts {
		args = append(args, "-p", fmt.Sprintf("%d:%d/tcp", p, p))
	}
	for _, p := range spec.UDPPorts {
		args = append(args, "-p", fmt.Sprintf("%d:%d/udp", p, p))
	}
	if spec.WorkingDir != "" {
		args = append(args, "-w", spec.WorkingDir)
	}
	args = append(args, "--entrypoint", "")
	args = append(args, spec.Image, "sh", "-c", "trap : TERM; tail -f /dev/null & wait")

	out, err := e.run(ctx, args...)
	if err != nil {
		return "", err
	}
	id := firstLine(out)
	return id, nil
}

// Exec issues a nested command against the running container (spec.md
// §4.E "Execute issues a nested command ... that sources the preamble
// then runs the task script").
func (e *CLIEngine) Exec(ctx context.Context, id string, argv []string, env map[string]string, cwd string, stdout, stderr io.Writer) (int, error) {
	args := []string{"exec"}
	if cwd != "" {
		args = append(args, "-w", cwd)
	}
	for k, v := range env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, id)
	args = append(args, argv...)

	cmd := exec.CommandContext(ctx, e.Binary, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

// Stop sends a graceful stop, forcing a kill after grace elapses.
func (e *CLIEngine) Stop(ctx context.Context, id string, grace time.Duration) error {
	_, err := e.run(ctx, "stop", "-t", strconv.Itoa(int(grace.Seconds())), id)
	return err
}

// Remove removes a stopped (or still-running, forced) container.
func (e *CLIEngine) Remove(ctx context.Context, id string) error {
	_, err := e.run(ctx, "rm", "-f", id)
	return err
}

// CreateNetwork creates a per-invocation isolated network so that two
// containers in the same pipeline can address each other by hostname
// (spec.md §4.E step 3).
func (e *CLIEngine) CreateNetwork(ctx context.Context, name string) error {
	_, err := e.run(ctx, "network", "create", name)
	return err
}

// RemoveNetwork tears down a per-invocation network.
func (e *CLIEngine) RemoveNetwork(ctx context.Context, name string) error {
	_, err := e.run(ctx, "network", "rm", name)
	return err
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
