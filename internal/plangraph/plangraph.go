// Package plangraph resolves a user command ({verb, path}) against a
// loaded corpus into an ExecutionPlan: a tree of Seq/Par/Leaf nodes
// (spec.md §3 "ExecutionPlan", §4.C "Task Graph & Plan Resolution").
//
// Choice nodes (oneof) are never materialized in the returned tree -
// they collapse into whichever branch the path selects, matching the
// spec's "Choice(name -> node) ... collapsed during resolution so only
// one branch remains".
package plangraph

import (
	"sort"

	"github.com/devloop-run/devloop/internal/corpus"
	"github.com/devloop-run/devloop/internal/diag"
	"github.com/devloop-run/devloop/internal/model"
)

// NodeKind discriminates the resolved ExecutionPlan tagged union.
type NodeKind int

const (
	Seq NodeKind = iota
	Par
	LeafNode
)

// Node is one element of a resolved ExecutionPlan.
type Node struct {
	Kind NodeKind

	// Seq / Par
	Children []*Node

	// LeafNode
	Task *model.TaskSpec
	Args []string

	// SelectedExecutor is left nil by resolution; internal/scheduler
	// picks each leaf's executor with execsel.Select when the leaf runs
	// and does not record it here.
	SelectedExecutor *model.ExecutorSpec
}

// resolver carries the corpus being resolved against.
type resolver struct {
	c *corpus.Corpus
}

// ResolveExec implements the `exec name [args...]` resolution rule: the
// first path element names the root task, refused if internal; the
// remaining elements are consumed as oneof option selections while
// descending. args are the trailing, caller-supplied arguments that
// follow every step/option's own static args (spec.md §4.C "Argument
// composition").
func ResolveExec(c *corpus.Corpus, path []string, args []string) (*Node, error) {
	if len(path) == 0 {
		return nil, diag.New(diag.KindPlan, "unknown-task", "", c.TaskOrder)
	}
	name := path[0]
	task, ok := c.Tasks[name]
	if !ok {
		return nil, diag.New(diag.KindPlan, "unknown-task", name, c.TaskOrder)
	}
	if task.Internal {
		return nil, diag.New(diag.KindPlan, "internal-task", name, nil)
	}
	r := &resolver{c: c}
	return r.expand(name, args, path[1:])
}

// ResolveRun implements `run preset`: the plan is an implicit
// parallel-pipeline over the tag-matched, non-internal task set in
// deterministic (sorted-by-name) order.
func ResolveRun(c *corpus.Corpus, presetName string) (*Node, error) {
	var preset *model.Preset
	names := make([]string, 0, len(c.Presets))
	for i := range c.Presets {
		names = append(names, c.Presets[i].Name)
		if c.Presets[i].Name == presetName {
			preset = &c.Presets[i]
		}
	}
	if preset == nil {
		return nil, diag.New(diag.KindPlan, "unknown-preset", presetName, names)
	}

	tagSet := make(map[string]bool, len(preset.Tags))
	for _, t := range preset.Tags {
		tagSet[t] = true
	}

	var matched []string
	for name, t := range c.Tasks {
		if t.Internal {
			continue
		}
		if hasIntersectingTag(t.Tags, tagSet) {
			matched = append(matched, name)
		}
	}
	sort.Strings(matched)

	r := &resolver{c: c}
	par := &Node{Kind: Par}
	for _, name := range matched {
		child, err := r.expand(name, nil, nil)
		if err != nil {
			return nil, err
		}
		par.Children = append(par.Children, child)
	}
	return par, nil
}

func hasIntersectingTag(tags []string, set map[string]bool) bool {
	for _, t := range tags {
		if set[t] {
			return true
		}
	}
	return false
}

// expand recursively resolves taskName, prepending each referring
// node's static args to args and consuming path one element at a time
// through oneof selections (spec.md §4.C).
func (r *resolver) expand(taskName string, inherited []string, path []string) (*Node, error) {
	task, ok := r.c.Tasks[taskName]
	if !ok {
		return nil, diag.New(diag.KindPlan, "unknown-task", taskName, r.c.TaskOrder)
	}

	switch task.Kind {
	case model.TaskCommand:
		if len(path) > 0 {
			return nil, diag.New(diag.KindPlan, "unknown-option", path[0], nil)
		}
		return &Node{Kind: LeafNode, Task: task, Args: inherited}, nil

	case model.TaskOneof:
		optionNames := make([]string, 0, len(task.Options))
		for _, o := range task.Options {
			optionNames = append(optionNames, o.Name)
		}
		if len(path) == 0 {
			// Open question (spec.md §9): an empty oneof, or a oneof
			// invoked with no further selection, surfaces
			// PlanError{UnknownOption} at use time rather than at load.
			return nil, diag.New(diag.KindPlan, "unknown-option", "", optionNames)
		}
		var selected *model.Option
		for i := range task.Options {
			if task.Options[i].Name == path[0] {
				selected = &task.Options[i]
				break
			}
		}
		if selected == nil {
			return nil, diag.New(diag.KindPlan, "unknown-option", path[0], optionNames)
		}
		next := append(append([]string{}, selected.Args...), inherited...)
		return r.expand(selected.Task, next, path[1:])

	case model.TaskPipeline:
		if len(path) > 0 {
			return nil, diag.New(diag.KindPlan, "unknown-option", path[0], nil)
		}
		return r.expandSteps(task.Steps, inherited, Seq)

	case model.TaskParallelPipeline:
		if len(path) > 0 {
			return nil, diag.New(diag.KindPlan, "unknown-option", path[0], nil)
		}
		return r.expandSteps(task.Steps, inherited, Par)

	default:
		return nil, diag.New(diag.KindCorpus, "type-mismatch", taskName, nil)
	}
}

func (r *resolver) expandSteps(steps []model.Step, inherited []string, kind NodeKind) (*Node, error) {
	node := &Node{Kind: kind}
	for _, s := range steps {
		args := append(append([]string{}, s.Args...), inherited...)
		child, err := r.expand(s.Task, args, nil)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

// Entry is one rendered row for `list`.
type Entry struct {
	Path        []string
	Description string
	IsOneof     bool
}

// List renders the tree of public tasks reachable from path (or every
// top-level public task, when path is empty), recursing into oneof
// options (spec.md §4.G).
func List(c *corpus.Corpus, path []string) ([]Entry, error) {
	if len(path) == 0 {
		names := make([]string, 0, len(c.Tasks))
		for name, t := range c.Tasks {
			if !t.Internal {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		var entries []Entry
		for _, name := range names {
			sub, err := listTask(c, c.Tasks[name], []string{name})
			if err != nil {
				return nil, err
			}
			entries = append(entries, sub...)
		}
		return entries, nil
	}

	name := path[0]
	task, ok := c.Tasks[name]
	if !ok {
		return nil, diag.New(diag.KindPlan, "unknown-task", name, c.TaskOrder)
	}
	if task.Internal {
		return nil, diag.New(diag.KindPlan, "internal-task", name, nil)
	}
	cur := task
	curPath := []string{name}
	for _, seg := range path[1:] {
		if cur.Kind != model.TaskOneof {
			return nil, diag.New(diag.KindPlan, "not-a-oneof", cur.Name, nil)
		}
		var selected *model.Option
		optionNames := make([]string, 0, len(cur.Options))
		for i := range cur.Options {
			optionNames = append(optionNames, cur.Options[i].Name)
			if cur.Options[i].Name == seg {
				selected = &cur.Options[i]
			}
		}
		if selected == nil {
			return nil, diag.New(diag.KindPlan, "unknown-option", seg, optionNames)
		}
		next, ok := c.Tasks[selected.Task]
		if !ok {
			return nil, diag.New(diag.KindPlan, "unknown-reference", selected.Task, nil)
		}
		cur = next
		curPath = append(curPath, seg)
	}
	return listTask(c, cur, curPath)
}

func listTask(c *corpus.Corpus, t *model.TaskSpec, path []string) ([]Entry, error) {
	entry := Entry{Path: append([]string(nil), path...), Description: t.Description, IsOneof: t.Kind == model.TaskOneof}
	entries := []Entry{entry}
	if t.Kind == model.TaskOneof {
		for _, o := range t.Options {
			next, ok := c.Tasks[o.Task]
			if !ok {
				continue
			}
			sub, err := listTask(c, next, append(append([]string(nil), path...), o.Name))
			if err != nil {
				return nil, err
			}
			entries = append(entries, sub...)
		}
	}
	return entries, nil
}
