// Package preset implements the user-facing half of component G
// (spec.md §4.G "Presets & Listing"): resolving a preset name to an
// ExecutionPlan and rendering the task tree for `list`. Plan
// resolution itself lives in internal/plangraph; this package adds the
// presentation and name-lookup surface the `run`/`list` commands need
// on top of it, the way the teacher's internal/cmd commands are thin
// wrappers around internal/run's lower-level engine.
package preset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/devloop-run/devloop/internal/corpus"
	"github.com/devloop-run/devloop/internal/diag"
	"github.com/devloop-run/devloop/internal/plangraph"
)

// Resolve resolves a preset name to its ExecutionPlan (spec.md §4.G
// "run preset").
func Resolve(c *corpus.Corpus, name string) (*plangraph.Node, error) {
	return plangraph.ResolveRun(c, name)
}

// Names returns every declared preset name, sorted, for "did you mean"
// suggestions and `list`-of-presets output.
func Names(c *corpus.Corpus) []string {
	names := make([]string, 0, len(c.Presets))
	for _, p := range c.Presets {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the declared description for a preset, or an error
// with a did-you-mean suggestion if name isn't declared.
func Describe(c *corpus.Corpus, name string) (string, error) {
	for _, p := range c.Presets {
		if p.Name == name {
			return p.Description, nil
		}
	}
	return "", diag.New(diag.KindPlan, "unknown-preset", name, Names(c))
}

// List renders the public task tree rooted at path (spec.md §4.G
// "list [path]"), delegating resolution to plangraph.List.
func List(c *corpus.Corpus, path []string) ([]plangraph.Entry, error) {
	return plangraph.List(c, path)
}

// Render formats entries as an indented tree, one line per entry,
// indentation proportional to path depth, oneof entries marked with a
// trailing "...".
func Render(entries []plangraph.Entry) string {
	var sb strings.Builder
	for _, e := range entries {
		indent := strings.Repeat("  ", len(e.Path)-1)
		name := e.Path[len(e.Path)-1]
		line := fmt.Sprintf("%s%s", indent, name)
		if e.IsOneof {
			line += " ..."
		}
		if e.Description != "" {
			line += "  # " + e.Description
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}
