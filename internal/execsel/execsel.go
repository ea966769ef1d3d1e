// Package execsel implements executor selection (spec.md §4.D): for a
// leaf task's needs[], pick an executor from the corpus (plus the
// top-level default_executor sentinel) whose provides[] satisfies every
// need, semver-aware via github.com/Masterminds/semver (a teacher
// dependency). The set of already-running executor names is carried as
// a github.com/deckarep/golang-set, another teacher dependency.
package execsel

import (
	mapset "github.com/deckarep/golang-set"

	"github.com/devloop-run/devloop/internal/corpus"
	"github.com/devloop-run/devloop/internal/diag"
	"github.com/devloop-run/devloop/internal/model"
)

// Select picks the best executor for task given the corpus c and the
// set of executor-spec names that currently have a live, Ready instance
// (running) within this plan invocation.
//
// Preference order: (1) a running candidate, (2) the earliest candidate
// in corpus declaration order, (3) the default executor (always
// evaluated last, per spec.md §4.D).
func Select(task *model.TaskSpec, c *corpus.Corpus, running mapset.Set) (*model.ExecutorSpec, error) {
	if task.CustomExecutor != nil {
		return task.CustomExecutor, nil
	}

	var candidates []*model.ExecutorSpec
	for _, name := range c.ExecutorOrder {
		e := c.Executors[name]
		ok, err := satisfiesAll(e, task.Needs)
		if err != nil {
			return nil, err
		}
		if ok {
			candidates = append(candidates, e)
		}
	}
	if c.DefaultExecutor != nil {
		ok, err := satisfiesAll(c.DefaultExecutor, task.Needs)
		if err != nil {
			return nil, err
		}
		if ok {
			candidates = append(candidates, c.DefaultExecutor)
		}
	}

	if len(candidates) == 0 {
		return nil, diag.New(diag.KindPlan, "no-executor", task.Name, nil)
	}

	for _, cand := range candidates {
		if running != nil && running.Contains(cand.Name) {
			return cand, nil
		}
	}
	return candidates[0], nil
}

func satisfiesAll(e *model.ExecutorSpec, needs []model.NeedEntry) (bool, error) {
	for _, need := range needs {
		satisfied := false
		for _, provide := range e.Provides {
			ok, err := need.Satisfies(provide)
			if err != nil {
				return false, err
			}
			if ok {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return false, nil
		}
	}
	return true, nil
}

// Identity is the (executor-spec, provides-set) reuse key from
// spec.md §4.E "Reuse policy": two leaves sharing the same executor
// name within one plan invocation share one running instance.
func Identity(e *model.ExecutorSpec) string {
	return e.Name
}
