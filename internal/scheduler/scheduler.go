// Package scheduler drives a resolved plangraph.Node tree to
// completion: Seq nodes run in order and short-circuit on the first
// failure, Par nodes run with bounded concurrency, and every leaf's
// executor instance is selected via execsel and acquired from a Pool
// that is guaranteed to be torn down on every exit path (spec.md §4.F
// "Scheduler & Execution", §5 "Concurrency & Resource Model").
//
// The walk is grounded on the teacher's internal/run/run.go
// execContext.exec(id string) error shape: a small recursive executor
// that resolves one node, runs its children, and propagates the first
// error while still visiting everything concurrency allows.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/devloop-run/devloop/internal/corpus"
	"github.com/devloop-run/devloop/internal/diag"
	"github.com/devloop-run/devloop/internal/execsel"
	"github.com/devloop-run/devloop/internal/fetch"
	"github.com/devloop-run/devloop/internal/fs"
	"github.com/devloop-run/devloop/internal/model"
	"github.com/devloop-run/devloop/internal/plangraph"
)

// Output gives the scheduler a place to stream one leaf task's stdout
// and stderr; internal/ui supplies the prefixed/colored implementation.
type Output interface {
	Writers(taskName string) (stdout, stderr io.Writer)
}

// plainOutput is the zero-dependency fallback used when the caller
// doesn't need prefixed, multiplexed UI output (e.g. tests).
type plainOutput struct{}

func (plainOutput) Writers(string) (io.Writer, io.Writer) { return os.Stdout, os.Stderr }

// Scheduler walks a resolved ExecutionPlan.
type Scheduler struct {
	Corpus      *corpus.Corpus
	Fetcher     *fetch.Fetcher
	ProjectRoot string
	Pool        *Pool
	Logger      hclog.Logger
	Output      Output

	// Concurrency bounds the number of leaves executing at once inside
	// a Par node. Zero means runtime.NumCPU(); one forces fully
	// deterministic, serial execution (spec.md §5 "DL_WORKER_COUNT=1").
	Concurrency int
}

// Run resolves and executes the whole tree rooted at node, tearing
// down every executor instance the Pool created before returning,
// regardless of success, failure, or cancellation.
func (s *Scheduler) Run(ctx context.Context, node *plangraph.Node) error {
	defer func() {
		for _, err := range s.Pool.TearDownAll(context.Background()) {
			s.logger().Warn("teardown failed", "error", err)
		}
	}()
	if s.Corpus != nil && len(s.Corpus.EnsureDirectories) > 0 {
		if err := fs.EnsureDirectories(s.ProjectRoot, s.Corpus.EnsureDirectories); err != nil {
			return diag.Wrap(diag.KindCorpus, "ensure-directories", err)
		}
	}
	return s.runNode(ctx, node)
}

func (s *Scheduler) logger() hclog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return hclog.NewNullLogger()
}

func (s *Scheduler) output() Output {
	if s.Output != nil {
		return s.Output
	}
	return plainOutput{}
}

func (s *Scheduler) runNode(ctx context.Context, node *plangraph.Node) error {
	switch node.Kind {
	case plangraph.LeafNode:
		return s.runLeaf(ctx, node)
	case plangraph.Seq:
		for _, child := range node.Children {
			if err := ctx.Err(); err != nil {
				return diag.Wrap(diag.KindCancel, "cancelled", err)
			}
			if err := s.runNode(ctx, child); err != nil {
				return err
			}
		}
		return nil
	case plangraph.Par:
		return s.runPar(ctx, node.Children)
	default:
		return fmt.Errorf("scheduler: unknown node kind %d", node.Kind)
	}
}

func (s *Scheduler) runPar(ctx context.Context, children []*plangraph.Node) error {
	limit := s.Concurrency
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, limit)
	var mu sync.Mutex
	var firstErr error

	// Slots are taken here, in declaration order, before each child's
	// goroutine starts, so children start in the order they are declared.
	var stopErr error
	for _, child := range children {
		child := child
		select {
		case sem <- struct{}{}:
		case <-gctx.Done():
		}
		if stopErr = gctx.Err(); stopErr != nil {
			break
		}
		g.Go(func() error {
			defer func() { <-sem }()

			err := s.runNode(gctx, child)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		if firstErr != nil {
			return firstErr
		}
		return err
	}
	return stopErr
}

func (s *Scheduler) runLeaf(ctx context.Context, node *plangraph.Node) error {
	task := node.Task
	spec, err := execsel.Select(task, s.Corpus, s.Pool.RunningNames())
	if err != nil {
		return err
	}

	inst, err := s.Pool.Acquire(ctx, spec)
	if err != nil {
		return diag.Wrap(diag.KindExecutor, "acquire", err)
	}

	argv, err := s.resolveArgv(task, spec, node.Args)
	if err != nil {
		return err
	}

	stdout, stderr := s.output().Writers(task.Name)
	code, err := inst.Execute(ctx, s.ProjectRoot, argv, stdout, stderr)
	flushIfFlusher(stdout)
	flushIfFlusher(stderr)
	if err != nil {
		return diag.Wrap(diag.KindExecutor, "execute", err)
	}
	if code != 0 {
		return diag.New(diag.KindTask, fmt.Sprintf("exit-%d", code), task.Name, nil)
	}
	return nil
}

// resolveArgv turns a task's declared location plus the caller's
// composed args into the argv executor.Instance.Execute should run,
// translating the script's host path to the container-visible path
// when the selected executor is a Container variant.
func (s *Scheduler) resolveArgv(task *model.TaskSpec, spec *model.ExecutorSpec, args []string) ([]string, error) {
	if task.Location == nil {
		return nil, diag.New(diag.KindCorpus, "missing-location", task.Name, nil)
	}

	var hostPath string
	switch task.Location.Kind {
	case model.LocationPath:
		hostPath = fetch.ResolvePath(s.ProjectRoot, *task.Location)
	case model.LocationHTTP:
		body, err := s.Fetcher.Fetch(s.ProjectRoot, *task.Location)
		if err != nil {
			return nil, err
		}
		dst := filepath.Join(scratchScriptDir(s.ProjectRoot), task.Name+".sh")
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(dst, body, 0o755); err != nil {
			return nil, err
		}
		hostPath = dst
	default:
		return nil, fmt.Errorf("scheduler: unknown location kind for task %q", task.Name)
	}

	scriptArg := hostPath
	if spec.Type == model.ExecutorContainer {
		scriptArg = containerScriptPath(s.ProjectRoot, hostPath)
	}

	argv := append([]string{scriptArg}, args...)
	return argv, nil
}

func scratchScriptDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".dl", "scratch", "fetched")
}

func containerScriptPath(projectRoot, hostPath string) string {
	if rel, err := filepath.Rel(projectRoot, hostPath); err == nil && !isOutside(rel) {
		return "/workspace/" + filepath.ToSlash(rel)
	}
	rel, err := filepath.Rel(filepath.Join(projectRoot, ".dl", "scratch"), hostPath)
	if err == nil && !isOutside(rel) {
		return "/dl-scratch/" + filepath.ToSlash(rel)
	}
	return hostPath
}

func isOutside(rel string) bool {
	return len(rel) >= 2 && rel[:2] == ".."
}

// flushIfFlusher flushes w if it buffers partial lines (internal/ui's
// prefixed writers do); plain writers like os.Stdout are left alone.
func flushIfFlusher(w io.Writer) {
	if f, ok := w.(interface{ Flush() }); ok {
		f.Flush()
	}
}
