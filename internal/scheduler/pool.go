package scheduler

import (
	"context"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set"
	"github.com/google/uuid"

	"github.com/devloop-run/devloop/internal/corpus"
	"github.com/devloop-run/devloop/internal/diag"
	"github.com/devloop-run/devloop/internal/executor"
	"github.com/devloop-run/devloop/internal/execsel"
	"github.com/devloop-run/devloop/internal/model"
)

// Pool owns every ExecutorInstance created during one plan invocation
// (spec.md §4.E "Reuse policy": instances sharing an executor name are
// reused across leaves within the same invocation) and guarantees each
// is torn down exactly once regardless of how the invocation ends.
type Pool struct {
	runtime *executor.Runtime
	helpers []corpus.HelperScript
	network string

	mu           sync.Mutex
	instances    map[string]*executor.Instance
	networkOwned bool // true once this Pool has created p.network itself
}

// NewPool builds an empty Pool bound to runtime. helpers is the
// project's helper script set, sourced into every Prepared instance in
// corpus-declaration order. network, when non-empty, is the shared
// per-invocation container network (spec.md §4.E step 3); Host-variant
// instances ignore it.
func NewPool(runtime *executor.Runtime, helpers []corpus.HelperScript, network string) *Pool {
	return &Pool{
		runtime:   runtime,
		helpers:   helpers,
		network:   network,
		instances: make(map[string]*executor.Instance),
	}
}

// RunningNames reports the executor-spec names with a live instance in
// this invocation, for execsel.Select's reuse preference.
func (p *Pool) RunningNames() mapset.Set {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := mapset.NewThreadUnsafeSet()
	for name := range p.instances {
		out.Add(name)
	}
	return out
}

// Acquire returns the live instance for spec, creating and preparing one
// if this is the first leaf to need it this invocation. Concurrent
// first-acquires for the same executor briefly race on preparation; the
// loser tears its own instance down and adopts the winner's.
func (p *Pool) Acquire(ctx context.Context, spec *model.ExecutorSpec) (*executor.Instance, error) {
	key := execsel.Identity(spec)

	p.mu.Lock()
	if inst, ok := p.instances[key]; ok {
		p.mu.Unlock()
		return inst, nil
	}
	p.mu.Unlock()

	network, err := p.containerNetwork(ctx, spec)
	if err != nil {
		return nil, err
	}

	inst, err := p.runtime.Prepare(ctx, spec, p.helpers, network)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if existing, ok := p.instances[key]; ok {
		p.mu.Unlock()
		_ = inst.TearDown(ctx)
		return existing, nil
	}
	p.instances[key] = inst
	p.mu.Unlock()
	return inst, nil
}

// containerNetwork returns the shared per-invocation network to join a
// container-type instance to, creating it lazily on the first
// container-type Acquire (spec.md §4.E step 3: "If two containers are
// used in the same pipeline invocation, both are attached to a single
// per-invocation isolated network"). Host-type specs and invocations
// that never acquire a container never shell out to the engine at all.
func (p *Pool) containerNetwork(ctx context.Context, spec *model.ExecutorSpec) (string, error) {
	if spec.Type != model.ExecutorContainer {
		return p.network, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.network != "" {
		return p.network, nil
	}
	name := fmt.Sprintf("dl-net-%s", uuid.NewString()[:8])
	if err := p.runtime.Engine.CreateNetwork(ctx, name); err != nil {
		return "", diag.Wrap(diag.KindExecutor, "network", err)
	}
	p.network = name
	p.networkOwned = true
	return p.network, nil
}

// TearDownAll tears down every instance this Pool created, collecting
// (not short-circuiting on) individual failures, then removes the
// per-invocation container network if this Pool created one.
func (p *Pool) TearDownAll(ctx context.Context) []error {
	p.mu.Lock()
	instances := make([]*executor.Instance, 0, len(p.instances))
	for _, inst := range p.instances {
		instances = append(instances, inst)
	}
	p.instances = make(map[string]*executor.Instance)
	owned, network := p.networkOwned, p.network
	p.networkOwned = false
	p.mu.Unlock()

	var errs []error
	for _, inst := range instances {
		if err := inst.TearDown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if owned {
		if err := p.runtime.Engine.RemoveNetwork(ctx, network); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
