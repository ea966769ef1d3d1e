// Package executor implements the Executor Runtime (spec.md §4.E): the
// lifecycle of a host or container runtime environment, preparation of
// the per-invocation workspace, command execution, and teardown.
//
// The state machine from spec.md §3 "ExecutorInstance" is:
//
//	Constructed -> Prepared -> Ready <-> Executing -> Ready -> TornDown
//	                 \-> Failed (terminal) <-/
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/devloop-run/devloop/internal/container"
	"github.com/devloop-run/devloop/internal/corpus"
	"github.com/devloop-run/devloop/internal/diag"
	"github.com/devloop-run/devloop/internal/model"
	"github.com/devloop-run/devloop/internal/process"
)

// State is the ExecutorInstance lifecycle state (spec.md §3).
type State int

const (
	Constructed State = iota
	Prepared
	Ready
	Executing
	Failed
	TornDown
)

const maxRunRetries = 3

// ContainerScratchDir is where a container instance's scratch root is
// mounted, for scripts fetched over HTTP that have no project-relative
// path to bind-mount under /workspace.
const ContainerScratchDir = "/dl-scratch"

// ContainerWorkspaceDir is where the project root is mounted in every
// container instance.
const ContainerWorkspaceDir = "/workspace"

// Instance is a live runtime environment bound to a single plan
// invocation.
type Instance struct {
	Spec *model.ExecutorSpec

	mu                sync.Mutex
	state             State
	execSem           chan struct{} // capacity-1 semaphore, spec.md §5
	workspace         string        // host scratch dir, or empty for container
	containerID       string
	containerPreamble string // container-side path to the sourced preamble, or empty for host
	logger            hclog.Logger

	runtime *Runtime
}

// Runtime builds and drives Instances for one project invocation.
type Runtime struct {
	ScratchRoot string
	ProjectRoot string
	Engine      container.Engine
	Processes   *process.Manager
	Logger      hclog.Logger
	Env         *HostEnv
}

// HostEnv avoids an import cycle with internal/config while still
// giving the Runtime the handful of env-derived knobs it needs (host
// export allowlist plus the fixed PATH/HOME/TMPDIR/color set).
type HostEnv struct {
	TMPDir           string
	NoColor          bool
	ForceColor       bool
	ForceStdoutColor bool
	ForceStderrColor bool
}

// NewConfigEnv builds the Runtime's view of the process environment.
func NewConfigEnv(tmpDir string, noColor, forceColor, forceStdout, forceStderr bool) *HostEnv {
	return &HostEnv{TMPDir: tmpDir, NoColor: noColor, ForceColor: forceColor, ForceStdoutColor: forceStdout, ForceStderrColor: forceStderr}
}

// Prepare brings a fresh Instance for spec to the Ready state: for Host,
// it materializes the preamble + launcher scripts under a scratch
// workspace; for Container, it ensures the image, creates the
// long-lived container, and joins network when it is non-empty.
func (r *Runtime) Prepare(ctx context.Context, spec *model.ExecutorSpec, helpers []corpus.HelperScript, network string) (*Instance, error) {
	inst := &Instance{
		Spec:    spec,
		state:   Constructed,
		execSem: make(chan struct{}, 1),
		logger:  r.Logger.Named(spec.Name),
		runtime: r,
	}

	switch spec.Type {
	case model.ExecutorHost:
		ws, err := r.prepareHostWorkspace(spec, helpers)
		if err != nil {
			inst.state = Failed
			return nil, diag.Wrap(diag.KindExecutor, "prepare", err)
		}
		inst.workspace = ws
	case model.ExecutorContainer:
		id, preamblePath, err := r.prepareContainer(ctx, spec, helpers, network)
		if err != nil {
			inst.state = Failed
			return nil, diag.Wrap(diag.KindExecutor, "prepare", err)
		}
		inst.containerID = id
		inst.containerPreamble = preamblePath
	default:
		inst.state = Failed
		return nil, diag.New(diag.KindExecutor, "prepare", string(spec.Type), nil)
	}

	inst.state = Ready
	return inst, nil
}

func (r *Runtime) prepareHostWorkspace(spec *model.ExecutorSpec, helpers []corpus.HelperScript) (string, error) {
	ws := filepath.Join(r.ScratchRoot, fmt.Sprintf("%s-%s", spec.Name, uuid.NewString()[:8]))
	if err := os.MkdirAll(ws, 0o755); err != nil {
		return "", err
	}
	preamble := buildPreamble(helpers)
	if err := os.WriteFile(filepath.Join(ws, "preamble.sh"), []byte(preamble), 0o755); err != nil {
		return "", err
	}
	return ws, nil
}

// buildPreamble sources every helper in corpus-declaration order,
// without deduplication (spec.md §9 "Helper sourcing order" - the
// open question is resolved in favor of the source's documented
// behavior: no topological sort).
func buildPreamble(helpers []corpus.HelperScript) string {
	var sb strings.Builder
	sb.WriteString("#!/bin/sh\nset -e\n")
	for _, h := range helpers {
		sb.WriteString(fmt.Sprintf("# helper: %s\n", h.Path))
		sb.Write(h.Body)
		sb.WriteString("\n")
	}
	return sb.String()
}

func buildLauncher(preamblePath, scriptPath string, argv []string) string {
	var sb strings.Builder
	sb.WriteString("#!/bin/sh\nset -e\n")
	sb.WriteString(fmt.Sprintf(". %s\n", shellQuote(preamblePath)))
	sb.WriteString(fmt.Sprintf("exec %s", shellQuote(scriptPath)))
	for _, a := range argv {
		sb.WriteString(" " + shellQuote(a))
	}
	sb.WriteString("\n")
	return sb.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// prepareContainer ensures the image, writes this instance's sourced
// preamble under the shared scratch mount, and creates the long-lived
// container. It returns the container ID and the in-container path to
// the preamble (spec.md §4.E "Execute issues a nested command ... that
// sources the preamble then runs the task script").
func (r *Runtime) prepareContainer(ctx context.Context, spec *model.ExecutorSpec, helpers []corpus.HelperScript, network string) (string, string, error) {
	cp := spec.Container
	if err := r.Engine.EnsureImage(ctx, cp.Image); err != nil {
		return "", "", err
	}
	for _, m := range cp.ExtraMounts {
		host := hostSide(m)
		if host != "" {
			if err := os.MkdirAll(host, 0o755); err != nil {
				return "", "", err
			}
		}
	}

	scratchName := fmt.Sprintf("%s-%s", spec.Name, uuid.NewString()[:8])
	scratchDir := filepath.Join(r.ScratchRoot, scratchName)
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return "", "", err
	}
	preamble := buildPreamble(helpers)
	if err := os.WriteFile(filepath.Join(scratchDir, "preamble.sh"), []byte(preamble), 0o755); err != nil {
		return "", "", err
	}
	containerPreamble := path.Join(ContainerScratchDir, scratchName, "preamble.sh")

	name := fmt.Sprintf("dl-%s%s", cp.NamePrefix, uuid.NewString()[:8])
	hostname := cp.Hostname
	if hostname == "" {
		hostname = name
	}
	mounts := toContainerMounts(cp.ExtraMounts)
	if r.ProjectRoot != "" {
		mounts = append(mounts, container.Mount{Host: r.ProjectRoot, Container: ContainerWorkspaceDir})
	}
	if r.ScratchRoot != "" {
		mounts = append(mounts, container.Mount{Host: r.ScratchRoot, Container: ContainerScratchDir})
	}
	id, err := r.Engine.Create(ctx, container.CreateSpec{
		Image:      cp.Image,
		Name:       name,
		Hostname:   hostname,
		User:       cp.User,
		Network:    network,
		Mounts:     mounts,
		TCPPorts:   cp.TCPPortsToExpose,
		UDPPorts:   cp.UDPPortsToExpose,
		WorkingDir: ContainerWorkspaceDir,
	})
	if err != nil {
		return "", "", err
	}
	return id, containerPreamble, nil
}

func hostSide(mount string) string {
	parts := strings.SplitN(mount, ":", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[0]
}

func toContainerMounts(mounts []string) []container.Mount {
	out := make([]container.Mount, 0, len(mounts))
	for _, m := range mounts {
		parts := strings.SplitN(m, ":", 2)
		if len(parts) != 2 {
			continue
		}
		out = append(out, container.Mount{Host: parts[0], Container: parts[1]})
	}
	return out
}

// hostFixedEnv is the small fixed allowlist always forwarded regardless
// of export_env (spec.md §4.E Host variant).
func (r *Runtime) hostFixedEnv() map[string]string {
	env := map[string]string{
		"PATH":   os.Getenv("PATH"),
		"HOME":   hostHome(),
		"TMPDIR": r.Env.TMPDir,
	}
	if r.Env.NoColor {
		env["NO_COLOR"] = "1"
	}
	if r.Env.ForceColor {
		env["DL_FORCE_COLOR"] = "1"
	}
	if r.Env.ForceStdoutColor {
		env["DL_FORCE_STDOUT_COLOR"] = "1"
	}
	if r.Env.ForceStderrColor {
		env["DL_FORCE_STDERR_COLOR"] = "1"
	}
	return env
}

// hostHome resolves the invoking user's home directory for a task
// script's environment, falling back to github.com/mitchellh/go-homedir
// when $HOME isn't set (e.g. some minimal container/cron contexts).
func hostHome() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if home, err := homedir.Dir(); err == nil {
		return home
	}
	return ""
}

// Execute runs argv (the task script plus its resolved args) against
// the instance, serializing with the capacity-1 semaphore from spec.md
// §5, and returns the task's exit code.
func (i *Instance) Execute(ctx context.Context, projectRoot string, argv []string, stdout, stderr io.Writer) (int, error) {
	i.execSem <- struct{}{}
	defer func() { <-i.execSem }()

	i.mu.Lock()
	if i.state != Ready {
		i.mu.Unlock()
		return -1, diag.New(diag.KindExecutor, "not-ready", i.Spec.Name, nil)
	}
	i.state = Executing
	i.mu.Unlock()

	var exitCode int
	var err error
	switch i.Spec.Type {
	case model.ExecutorHost:
		exitCode, err = i.executeHost(ctx, projectRoot, argv, stdout, stderr)
	case model.ExecutorContainer:
		exitCode, err = i.executeContainer(ctx, argv, stdout, stderr)
	}

	i.mu.Lock()
	if err != nil {
		i.state = Failed
	} else {
		i.state = Ready
	}
	i.mu.Unlock()
	return exitCode, err
}

func (i *Instance) executeHost(ctx context.Context, projectRoot string, argv []string, stdout, stderr io.Writer) (int, error) {
	if len(argv) == 0 {
		return -1, fmt.Errorf("executor: empty argv")
	}
	scriptPath, rest := argv[0], argv[1:]
	launcher := filepath.Join(i.workspace, "launcher.sh")
	body := buildLauncher(filepath.Join(i.workspace, "preamble.sh"), scriptPath, rest)
	if err := os.WriteFile(launcher, []byte(body), 0o755); err != nil {
		return -1, err
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", launcher)
	cmd.Dir = projectRoot
	cmd.Env = envPairs(mergeEnv(i.runtime.hostFixedEnv(), exportEnv(i.Spec, nil)))
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := i.runtime.Processes.Exec(cmd)
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

func (i *Instance) executeContainer(ctx context.Context, argv []string, stdout, stderr io.Writer) (int, error) {
	if len(argv) == 0 {
		return -1, fmt.Errorf("executor: empty argv")
	}
	launchArgv := buildContainerLauncher(i.containerPreamble, argv)

	env := exportEnv(i.Spec, nil)
	var lastCode int
	var lastErr error
	for attempt := 0; attempt < maxRunRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
		var outBuf, errBuf bytes.Buffer
		code, err := i.runtime.Engine.Exec(ctx, i.containerID, launchArgv, env, ContainerWorkspaceDir, io.MultiWriter(stdout, &outBuf), io.MultiWriter(stderr, &errBuf))
		if err != nil {
			return -1, err
		}
		if code == 0 || !container.IsTransientExitCode(code) {
			return code, nil
		}
		lastCode, lastErr = code, fmt.Errorf("transient container engine exit code %d", code)
	}
	return lastCode, lastErr
}

// buildContainerLauncher wraps argv (the task script plus its resolved
// args) in a nested shell invocation that sources the preamble first,
// the container analog of buildLauncher's host-side launcher.sh.
func buildContainerLauncher(preamblePath string, argv []string) []string {
	script, rest := argv[0], argv[1:]
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(". %s; exec %s", shellQuote(preamblePath), shellQuote(script)))
	for _, a := range rest {
		sb.WriteString(" " + shellQuote(a))
	}
	return []string{"/bin/sh", "-c", sb.String()}
}

func exportEnv(spec *model.ExecutorSpec, extra map[string]string) map[string]string {
	env := make(map[string]string, len(spec.Container.ExportEnv)+len(extra))
	for _, name := range spec.Container.ExportEnv {
		if v, ok := os.LookupEnv(name); ok {
			env[name] = v
		}
	}
	for k, v := range extra {
		env[k] = v
	}
	return env
}

func mergeEnv(a, b map[string]string) map[string]string {
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func envPairs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}

// Release returns the instance to Ready for reuse; Execute already does
// this on success, Release exists for symmetry with spec.md §4.E and
// for callers that acquire without executing (e.g. dry-run).
func (i *Instance) Release() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == Executing {
		i.state = Ready
	}
}

// TearDown removes a host instance's scratch workspace, or stops and
// removes a container instance's container, idempotently, and
// transitions to TornDown.
func (i *Instance) TearDown(ctx context.Context) error {
	i.mu.Lock()
	if i.state == TornDown {
		i.mu.Unlock()
		return nil
	}
	i.state = TornDown
	i.mu.Unlock()

	switch i.Spec.Type {
	case model.ExecutorHost:
		if i.workspace != "" {
			return os.RemoveAll(i.workspace)
		}
		return nil
	case model.ExecutorContainer:
		if i.containerID == "" {
			return nil
		}
		if err := i.runtime.Engine.Stop(ctx, i.containerID, 5*time.Second); err != nil {
			i.logger.Warn("stop failed, forcing removal", "error", err)
		}
		return i.runtime.Engine.Remove(ctx, i.containerID)
	}
	return nil
}

// State returns the instance's current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}
