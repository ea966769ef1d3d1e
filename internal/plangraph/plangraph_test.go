package plangraph

import (
	"reflect"
	"testing"

	"github.com/devloop-run/devloop/internal/corpus"
	"github.com/devloop-run/devloop/internal/diag"
	"github.com/devloop-run/devloop/internal/model"
)

func buildCorpus(tasks ...model.TaskSpec) *corpus.Corpus {
	c := &corpus.Corpus{Tasks: make(map[string]*model.TaskSpec)}
	for i := range tasks {
		t := tasks[i]
		c.Tasks[t.Name] = &t
		c.TaskOrder = append(c.TaskOrder, t.Name)
	}
	return c
}

func TestArgumentComposition(t *testing.T) {
	c := buildCorpus(
		model.TaskSpec{Name: "build", Kind: model.TaskCommand, Location: &model.Location{Kind: model.LocationPath, At: "build.sh"}},
		model.TaskSpec{Name: "pipe", Kind: model.TaskPipeline, Steps: []model.Step{
			{Name: "s1", Task: "build", Args: []string{"--static"}},
		}},
	)
	node, err := ResolveExec(c, []string{"pipe"}, []string{"--extra"})
	if err != nil {
		t.Fatal(err)
	}
	if node.Kind != Seq || len(node.Children) != 1 {
		t.Fatalf("expected Seq with one child, got %+v", node)
	}
	leaf := node.Children[0]
	want := []string{"--static", "--extra"}
	if !reflect.DeepEqual(leaf.Args, want) {
		t.Fatalf("expected args %v, got %v", want, leaf.Args)
	}
}

func TestOneofSelectionPrependsOptionArgs(t *testing.T) {
	c := buildCorpus(
		model.TaskSpec{Name: "deploy-env", Kind: model.TaskCommand, Location: &model.Location{Kind: model.LocationPath, At: "deploy.sh"}},
		model.TaskSpec{Name: "deploy", Kind: model.TaskOneof, Options: []model.Option{
			{Name: "staging", Task: "deploy-env", Args: []string{"staging"}},
			{Name: "prod", Task: "deploy-env", Args: []string{"prod"}},
		}},
	)
	node, err := ResolveExec(c, []string{"deploy", "staging"}, []string{"--force"})
	if err != nil {
		t.Fatal(err)
	}
	if node.Kind != LeafNode {
		t.Fatalf("expected leaf, got %+v", node)
	}
	want := []string{"staging", "--force"}
	if !reflect.DeepEqual(node.Args, want) {
		t.Fatalf("expected %v, got %v", want, node.Args)
	}
}

func TestUnknownOptionSuggestsClosestMatch(t *testing.T) {
	c := buildCorpus(
		model.TaskSpec{Name: "deploy-env", Kind: model.TaskCommand, Location: &model.Location{Kind: model.LocationPath, At: "deploy.sh"}},
		model.TaskSpec{Name: "deploy", Kind: model.TaskOneof, Options: []model.Option{
			{Name: "staging", Task: "deploy-env"},
		}},
	)
	_, err := ResolveExec(c, []string{"deploy", "stagng"}, nil)
	if err == nil {
		t.Fatal("expected unknown option error")
	}
	if de, ok := err.(*diag.Error); !ok || de.Suggest != "staging" {
		t.Fatalf("expected suggestion 'staging', got %v", err)
	}
}

func TestInternalTaskRefusedDirectly(t *testing.T) {
	c := buildCorpus(
		model.TaskSpec{Name: "secret", Kind: model.TaskCommand, Internal: true, Location: &model.Location{Kind: model.LocationPath, At: "s.sh"}},
	)
	if _, err := ResolveExec(c, []string{"secret"}, nil); err == nil {
		t.Fatal("expected refusal to run internal task directly")
	}
}

func TestResolveRunDeterministicOrder(t *testing.T) {
	c := buildCorpus(
		model.TaskSpec{Name: "zebra", Kind: model.TaskCommand, Tags: []string{"ci"}, Location: &model.Location{Kind: model.LocationPath, At: "z.sh"}},
		model.TaskSpec{Name: "alpha", Kind: model.TaskCommand, Tags: []string{"ci"}, Location: &model.Location{Kind: model.LocationPath, At: "a.sh"}},
		model.TaskSpec{Name: "omitted", Kind: model.TaskCommand, Tags: []string{"other"}, Location: &model.Location{Kind: model.LocationPath, At: "o.sh"}},
	)
	c.Presets = []model.Preset{{Name: "all-ci", Tags: []string{"ci"}}}

	node, err := ResolveRun(c, "all-ci")
	if err != nil {
		t.Fatal(err)
	}
	if node.Kind != Par || len(node.Children) != 2 {
		t.Fatalf("expected Par with 2 children, got %+v", node)
	}
	if node.Children[0].Task.Name != "alpha" || node.Children[1].Task.Name != "zebra" {
		t.Fatalf("expected sorted-by-name order alpha,zebra; got %s,%s",
			node.Children[0].Task.Name, node.Children[1].Task.Name)
	}
}

func TestPlanDeterminismAcrossResolutions(t *testing.T) {
	c := buildCorpus(
		model.TaskSpec{Name: "build", Kind: model.TaskCommand, Location: &model.Location{Kind: model.LocationPath, At: "build.sh"}},
	)
	n1, err := ResolveExec(c, []string{"build"}, []string{"x"})
	if err != nil {
		t.Fatal(err)
	}
	n2, err := ResolveExec(c, []string{"build"}, []string{"x"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(n1.Args, n2.Args) || n1.Task.Name != n2.Task.Name {
		t.Fatalf("expected identical resolution across invocations")
	}
}
