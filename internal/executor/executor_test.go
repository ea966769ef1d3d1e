package executor

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/devloop-run/devloop/internal/container"
	"github.com/devloop-run/devloop/internal/corpus"
	"github.com/devloop-run/devloop/internal/model"
	"github.com/devloop-run/devloop/internal/process"
)

func testRuntime(t *testing.T) *Runtime {
	t.Helper()
	return &Runtime{
		ScratchRoot: t.TempDir(),
		Processes:   process.NewManager(),
		Logger:      hclog.NewNullLogger(),
		Env:         NewConfigEnv(t.TempDir(), false, false, false, false),
	}
}

func TestPrepareHostWritesPreambleInOrder(t *testing.T) {
	r := testRuntime(t)
	helpers := []corpus.HelperScript{
		{Path: "a.sh", Body: []byte("A=1\n")},
		{Path: "b.sh", Body: []byte("B=2\n")},
	}
	spec := &model.ExecutorSpec{Name: "node", Type: model.ExecutorHost}

	inst, err := r.Prepare(context.Background(), spec, helpers, "")
	if err != nil {
		t.Fatal(err)
	}
	if inst.State() != Ready {
		t.Fatalf("expected Ready, got %v", inst.State())
	}
	body, err := os.ReadFile(filepath.Join(inst.workspace, "preamble.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(body, []byte("A=1")) || !bytes.Contains(body, []byte("B=2")) {
		t.Fatalf("preamble missing helper bodies: %s", body)
	}
	aIdx := bytes.Index(body, []byte("A=1"))
	bIdx := bytes.Index(body, []byte("B=2"))
	if !(aIdx < bIdx) {
		t.Fatalf("expected a.sh sourced before b.sh, got offsets %d, %d", aIdx, bIdx)
	}
}

func TestExecuteHostRunsScript(t *testing.T) {
	r := testRuntime(t)
	spec := &model.ExecutorSpec{Name: "host", Type: model.ExecutorHost}
	inst, err := r.Prepare(context.Background(), spec, nil, "")
	if err != nil {
		t.Fatal(err)
	}

	root := t.TempDir()
	script := filepath.Join(root, "task.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho hello \"$1\"\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	code, err := inst.Execute(context.Background(), root, []string{script, "world"}, &stdout, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	if !bytes.Contains(stdout.Bytes(), []byte("hello world")) {
		t.Fatalf("unexpected stdout: %s", stdout.String())
	}
	if inst.State() != Ready {
		t.Fatalf("expected Ready after successful execute, got %v", inst.State())
	}
}

func TestExecuteHostNonzeroExitDoesNotError(t *testing.T) {
	r := testRuntime(t)
	spec := &model.ExecutorSpec{Name: "host", Type: model.ExecutorHost}
	inst, err := r.Prepare(context.Background(), spec, nil, "")
	if err != nil {
		t.Fatal(err)
	}

	root := t.TempDir()
	script := filepath.Join(root, "fail.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 7\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	code, err := inst.Execute(context.Background(), root, []string{script}, &stdout, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	if code != 7 {
		t.Fatalf("expected exit 7, got %d", code)
	}
}

func TestTearDownHostRemovesWorkspace(t *testing.T) {
	r := testRuntime(t)
	spec := &model.ExecutorSpec{Name: "host", Type: model.ExecutorHost}
	inst, err := r.Prepare(context.Background(), spec, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	ws := inst.workspace
	if err := inst.TearDown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(ws); !os.IsNotExist(err) {
		t.Fatalf("expected workspace removed, stat err = %v", err)
	}
	if inst.State() != TornDown {
		t.Fatalf("expected TornDown, got %v", inst.State())
	}
	// idempotent
	if err := inst.TearDown(context.Background()); err != nil {
		t.Fatalf("second teardown should be a no-op, got %v", err)
	}
}

type fakeEngine struct {
	created  []container.CreateSpec
	execCode int
	execArgv [][]string
	stopped  []string
	removed  []string
}

func (f *fakeEngine) EnsureImage(ctx context.Context, image string) error { return nil }

func (f *fakeEngine) Create(ctx context.Context, spec container.CreateSpec) (string, error) {
	f.created = append(f.created, spec)
	return "fake-container-id", nil
}

func (f *fakeEngine) Exec(ctx context.Context, id string, argv []string, env map[string]string, cwd string, stdout, stderr io.Writer) (int, error) {
	f.execArgv = append(f.execArgv, argv)
	return f.execCode, nil
}

func (f *fakeEngine) Stop(ctx context.Context, id string, grace time.Duration) error {
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeEngine) Remove(ctx context.Context, id string) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeEngine) CreateNetwork(ctx context.Context, name string) error { return nil }
func (f *fakeEngine) RemoveNetwork(ctx context.Context, name string) error { return nil }

func TestContainerLifecycle(t *testing.T) {
	eng := &fakeEngine{execCode: 0}
	r := &Runtime{
		ScratchRoot: t.TempDir(),
		Engine:      eng,
		Processes:   process.NewManager(),
		Logger:      hclog.NewNullLogger(),
		Env:         NewConfigEnv(t.TempDir(), false, false, false, false),
	}
	spec := &model.ExecutorSpec{
		Name: "builder",
		Type: model.ExecutorContainer,
		Container: model.ContainerParams{
			Image:      "alpine:3",
			NamePrefix: "builder-",
		},
	}

	inst, err := r.Prepare(context.Background(), spec, nil, "dl-net-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(eng.created) != 1 {
		t.Fatalf("expected one Create call, got %d", len(eng.created))
	}
	if eng.created[0].Network != "dl-net-1" {
		t.Fatalf("expected network threaded through, got %q", eng.created[0].Network)
	}

	var stdout, stderr bytes.Buffer
	code, err := inst.Execute(context.Background(), "", []string{"/task.sh"}, &stdout, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}

	if err := inst.TearDown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(eng.stopped) != 1 || len(eng.removed) != 1 {
		t.Fatalf("expected container stopped and removed exactly once, got stopped=%d removed=%d", len(eng.stopped), len(eng.removed))
	}
}

func TestContainerSourcesPreambleBeforeScript(t *testing.T) {
	eng := &fakeEngine{execCode: 0}
	scratch := t.TempDir()
	r := &Runtime{
		ScratchRoot: scratch,
		Engine:      eng,
		Processes:   process.NewManager(),
		Logger:      hclog.NewNullLogger(),
		Env:         NewConfigEnv(t.TempDir(), false, false, false, false),
	}
	spec := &model.ExecutorSpec{
		Name: "builder",
		Type: model.ExecutorContainer,
		Container: model.ContainerParams{
			Image:      "alpine:3",
			NamePrefix: "builder-",
		},
	}
	helpers := []corpus.HelperScript{{Path: "env.sh", Body: []byte("export GREETING=hi\n")}}

	inst, err := r.Prepare(context.Background(), spec, helpers, "")
	if err != nil {
		t.Fatal(err)
	}
	if inst.containerPreamble == "" {
		t.Fatal("expected a container-side preamble path to be set")
	}

	body, err := os.ReadFile(filepath.Join(scratch, filepath.Base(filepath.Dir(inst.containerPreamble)), "preamble.sh"))
	if err != nil {
		t.Fatalf("expected preamble written under scratch root: %v", err)
	}
	if !bytes.Contains(body, []byte("GREETING=hi")) {
		t.Fatalf("expected helper body in preamble, got %s", body)
	}

	var stdout, stderr bytes.Buffer
	if _, err := inst.Execute(context.Background(), "", []string{"/workspace/task.sh", "arg1"}, &stdout, &stderr); err != nil {
		t.Fatal(err)
	}
	if len(eng.execArgv) != 1 {
		t.Fatalf("expected exactly one Exec call, got %d", len(eng.execArgv))
	}
	argv := eng.execArgv[0]
	if len(argv) != 3 || argv[0] != "/bin/sh" || argv[1] != "-c" {
		t.Fatalf("expected a sh -c launcher wrapping the script, got %v", argv)
	}
	if !strings.Contains(argv[2], inst.containerPreamble) || !strings.Contains(argv[2], "/workspace/task.sh") {
		t.Fatalf("expected launcher to source the preamble then exec the script, got %q", argv[2])
	}
}

func TestContainerTransientExitCodeRetried(t *testing.T) {
	eng := &retryingFakeEngine{codes: []int{125, 0}}
	r := &Runtime{
		ScratchRoot: t.TempDir(),
		Engine:      eng,
		Processes:   process.NewManager(),
		Logger:      hclog.NewNullLogger(),
		Env:         NewConfigEnv(t.TempDir(), false, false, false, false),
	}
	spec := &model.ExecutorSpec{
		Name: "builder",
		Type: model.ExecutorContainer,
		Container: model.ContainerParams{
			Image:      "alpine:3",
			NamePrefix: "builder-",
		},
	}
	inst, err := r.Prepare(context.Background(), spec, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	code, err := inst.Execute(context.Background(), "", []string{"/task.sh"}, &stdout, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	if code != 0 {
		t.Fatalf("expected eventual success after transient retry, got %d", code)
	}
	if eng.calls != 2 {
		t.Fatalf("expected exactly 2 Exec attempts, got %d", eng.calls)
	}
}

type retryingFakeEngine struct {
	codes []int
	calls int
}

func (f *retryingFakeEngine) EnsureImage(ctx context.Context, image string) error { return nil }

func (f *retryingFakeEngine) Create(ctx context.Context, spec container.CreateSpec) (string, error) {
	return "fake-id", nil
}

func (f *retryingFakeEngine) Exec(ctx context.Context, id string, argv []string, env map[string]string, cwd string, stdout, stderr io.Writer) (int, error) {
	code := f.codes[f.calls]
	f.calls++
	return code, nil
}

func (f *retryingFakeEngine) Stop(ctx context.Context, id string, grace time.Duration) error { return nil }
func (f *retryingFakeEngine) Remove(ctx context.Context, id string) error                    { return nil }
func (f *retryingFakeEngine) CreateNetwork(ctx context.Context, name string) error            { return nil }
func (f *retryingFakeEngine) RemoveNetwork(ctx context.Context, name string) error            { return nil }
