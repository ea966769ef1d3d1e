// Package corpus loads and validates the full task/executor/helper
// corpus (spec.md §4.B): it expands the top-level config's *_locations
// through the Fetcher, parses each dl-tasks.yml/dl-executors.yml/helper
// script, and builds the global name tables, checking the invariants
// from spec.md §3 and §8 (name uniqueness, internal reachability,
// acyclic task references).
//
// Cycle detection reuses github.com/pyr-sh/dag, the same library the
// teacher's internal/run/run.go uses for its topological package graph.
package corpus

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"
	"github.com/pyr-sh/dag"
	"gopkg.in/yaml.v3"

	"github.com/devloop-run/devloop/internal/config"
	"github.com/devloop-run/devloop/internal/diag"
	"github.com/devloop-run/devloop/internal/fetch"
	"github.com/devloop-run/devloop/internal/model"
)

// Corpus is the fully loaded and validated set of tasks, executors, and
// helper scripts for one project.
type Corpus struct {
	Tasks             map[string]*model.TaskSpec
	TaskOrder         []string // corpus-declaration order, for §4.D executor preference
	Executors         map[string]*model.ExecutorSpec
	ExecutorOrder     []string
	Helpers           []HelperScript
	DefaultExecutor   *model.ExecutorSpec
	Presets           []model.Preset
	EnsureDirectories []string
}

// HelperScript is one *.sh helper file, preserved in discovery order.
type HelperScript struct {
	Path string
	Body []byte
}

type tasksFile struct {
	Tasks []model.TaskSpec `yaml:"tasks"`
}

type executorsFile struct {
	Executors []model.ExecutorSpec `yaml:"executors"`
}

// Load reads .dl/config.yml under projectRoot, expands its *_locations,
// and builds a validated Corpus.
func Load(projectRoot string) (*Corpus, error) {
	top, err := config.Load(projectRoot)
	if err != nil {
		return nil, diag.Wrap(diag.KindCorpus, "read-config", err)
	}

	f := fetch.New()
	c := &Corpus{
		Tasks:             make(map[string]*model.TaskSpec),
		Executors:         make(map[string]*model.ExecutorSpec),
		DefaultExecutor:   top.DefaultExecutor,
		Presets:           top.Presets,
		EnsureDirectories: top.EnsureDirectories,
	}

	if c.DefaultExecutor != nil {
		if c.DefaultExecutor.Name == "" {
			c.DefaultExecutor.Name = "default"
		}
		if err := c.DefaultExecutor.Validate(); err != nil {
			return nil, diag.Wrap(diag.KindCorpus, "type-mismatch", err)
		}
	}

	for _, loc := range top.TaskLocations {
		if err := loadTasks(f, projectRoot, loc, c); err != nil {
			return nil, err
		}
	}
	for _, loc := range top.ExecutorLocations {
		if err := loadExecutors(f, projectRoot, loc, c); err != nil {
			return nil, err
		}
	}
	for _, loc := range top.HelperLocations {
		if err := loadHelpers(f, projectRoot, loc, c); err != nil {
			return nil, err
		}
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func loadTasks(f *fetch.Fetcher, root string, loc model.Location, c *Corpus) error {
	paths, err := locationFiles(f, root, loc, "dl-tasks.yml")
	if err != nil {
		return err
	}
	for _, p := range paths {
		body, err := f.Fetch(root, model.Location{Kind: model.LocationPath, At: p})
		if err != nil {
			return diag.Wrap(diag.KindFetch, "read-tasks", err)
		}
		var tf tasksFile
		if err := yaml.Unmarshal(body, &tf); err != nil {
			return diag.Wrap(diag.KindCorpus, "type-mismatch", fmt.Errorf("%s: %w", p, err))
		}
		for i := range tf.Tasks {
			t := tf.Tasks[i]
			if err := t.Validate(); err != nil {
				return diag.Wrap(diag.KindCorpus, "type-mismatch", err)
			}
			if _, dup := c.Tasks[t.Name]; dup {
				return diag.New(diag.KindCorpus, "duplicate", t.Name, nil)
			}
			taskCopy := t
			c.Tasks[t.Name] = &taskCopy
			c.TaskOrder = append(c.TaskOrder, t.Name)
		}
	}
	return nil
}

func loadExecutors(f *fetch.Fetcher, root string, loc model.Location, c *Corpus) error {
	paths, err := locationFiles(f, root, loc, "dl-executors.yml")
	if err != nil {
		return err
	}
	for _, p := range paths {
		body, err := f.Fetch(root, model.Location{Kind: model.LocationPath, At: p})
		if err != nil {
			return diag.Wrap(diag.KindFetch, "read-executors", err)
		}
		var ef executorsFile
		if err := yaml.Unmarshal(body, &ef); err != nil {
			return diag.Wrap(diag.KindCorpus, "type-mismatch", fmt.Errorf("%s: %w", p, err))
		}
		for i := range ef.Executors {
			e := ef.Executors[i]
			if err := e.Validate(); err != nil {
				return diag.Wrap(diag.KindCorpus, "type-mismatch", err)
			}
			if _, dup := c.Executors[e.Name]; dup {
				return diag.New(diag.KindCorpus, "duplicate", e.Name, nil)
			}
			execCopy := e
			c.Executors[e.Name] = &execCopy
			c.ExecutorOrder = append(c.ExecutorOrder, e.Name)
		}
	}
	return nil
}

func loadHelpers(f *fetch.Fetcher, root string, loc model.Location, c *Corpus) error {
	paths, err := locationFiles(f, root, loc, "*.sh")
	if err != nil {
		return err
	}
	for _, p := range paths {
		body, err := f.Fetch(root, model.Location{Kind: model.LocationPath, At: p})
		if err != nil {
			return diag.Wrap(diag.KindFetch, "read-helper", err)
		}
		c.Helpers = append(c.Helpers, HelperScript{Path: p, Body: body})
	}
	return nil
}

// locationFiles resolves loc to the file paths it names: the location
// itself for a non-recursing location, or every recursively discovered
// file whose base name matches filterPattern (a github.com/gobwas/glob
// pattern, e.g. "dl-tasks.yml" or "*.sh") for a recursing one.
func locationFiles(f *fetch.Fetcher, root string, loc model.Location, filterPattern string) ([]string, error) {
	if loc.Kind == model.LocationPath && loc.Recurse {
		abs, err := f.FetchRecursive(root, loc)
		if err != nil {
			return nil, err
		}
		if filterPattern == "" {
			return abs, nil
		}
		g, err := glob.Compile(filterPattern)
		if err != nil {
			return nil, diag.Wrap(diag.KindCorpus, "bad-filter-pattern", err)
		}
		var out []string
		for _, p := range abs {
			if g.Match(filepath.Base(p)) {
				out = append(out, p)
			}
		}
		return out, nil
	}
	return []string{loc.At}, nil
}

// validate checks the corpus-level invariants from spec.md §3/§8: task
// name uniqueness (already enforced while loading), reachability of
// internal tasks, and acyclicity of task→task references.
func (c *Corpus) validate() error {
	g := &dag.AcyclicGraph{}
	for name := range c.Tasks {
		g.Add(name)
	}
	addEdge := func(from, to string) error {
		if _, ok := c.Tasks[to]; !ok {
			return diag.New(diag.KindCorpus, "unknown-reference", to, c.taskNames())
		}
		g.Connect(dag.BasicEdge(from, to))
		return nil
	}

	for name, t := range c.Tasks {
		switch t.Kind {
		case model.TaskPipeline, model.TaskParallelPipeline:
			for _, s := range t.Steps {
				if err := addEdge(name, s.Task); err != nil {
					return err
				}
			}
		case model.TaskOneof:
			for _, o := range t.Options {
				if err := addEdge(name, o.Task); err != nil {
					return err
				}
			}
		}
	}

	if err := g.Validate(); err != nil {
		return diag.Wrap(diag.KindCorpus, "cycle", err)
	}

	reachableFromPublic := c.reachableFromPublicRoots()
	for name, t := range c.Tasks {
		if t.Internal && !reachableFromPublic[name] {
			return diag.New(diag.KindCorpus, "unused-internal", name, nil)
		}
	}
	return nil
}

// Dot renders the task→task reference graph in Graphviz DOT form, the
// same github.com/pyr-sh/dag.Graph.Dot the teacher's run.go uses for its
// `--graph` flag's generateDotGraph.
func (c *Corpus) Dot() []byte {
	g := &dag.AcyclicGraph{}
	for name := range c.Tasks {
		g.Add(name)
	}
	for name, t := range c.Tasks {
		switch t.Kind {
		case model.TaskPipeline, model.TaskParallelPipeline:
			for _, s := range t.Steps {
				g.Connect(dag.BasicEdge(name, s.Task))
			}
		case model.TaskOneof:
			for _, o := range t.Options {
				g.Connect(dag.BasicEdge(name, o.Task))
			}
		}
	}
	return g.Dot(&dag.DotOpts{})
}

// reachableFromPublicRoots returns the set of task names reachable (via
// step/option task references, any number of hops) from some
// non-internal task. This is what spec.md §3 means by "referenced from
// at least one non-internal chain": a direct reference from a public
// task, or transitively through other internal tasks that are
// themselves reachable from a public task.
func (c *Corpus) reachableFromPublicRoots() map[string]bool {
	children := func(name string) []string {
		t := c.Tasks[name]
		var out []string
		switch t.Kind {
		case model.TaskPipeline, model.TaskParallelPipeline:
			for _, s := range t.Steps {
				out = append(out, s.Task)
			}
		case model.TaskOneof:
			for _, o := range t.Options {
				out = append(out, o.Task)
			}
		}
		return out
	}

	visited := make(map[string]bool)
	var visit func(string)
	visit = func(name string) {
		for _, child := range children(name) {
			if !visited[child] {
				visited[child] = true
				visit(child)
			}
		}
	}
	for name, t := range c.Tasks {
		if !t.Internal {
			visit(name)
		}
	}
	return visited
}

func (c *Corpus) taskNames() []string {
	names := make([]string, 0, len(c.Tasks))
	for n := range c.Tasks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
