package corpus

import (
	"os"
	"path/filepath"
	"testing"
)

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, body := range files {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

const minimalConfig = `
task_locations:
  - at: dl-tasks.yml
`

func TestLoadSimpleCorpus(t *testing.T) {
	root := writeProject(t, map[string]string{
		".dl/config.yml": minimalConfig,
		"dl-tasks.yml": `
tasks:
  - name: build
    kind: command
    location:
      at: scripts/build.sh
`,
		"scripts/build.sh": "echo build",
	})
	c, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Tasks["build"]; !ok {
		t.Fatalf("expected 'build' task to be loaded")
	}
}

func TestLoadDuplicateTaskNameFails(t *testing.T) {
	root := writeProject(t, map[string]string{
		".dl/config.yml": minimalConfig,
		"dl-tasks.yml": `
tasks:
  - name: build
    kind: command
    location: { at: a.sh }
  - name: build
    kind: command
    location: { at: b.sh }
`,
		"a.sh": "a",
		"b.sh": "b",
	})
	if _, err := Load(root); err == nil {
		t.Fatal("expected duplicate task name to fail")
	}
}

func TestLoadUnusedInternalFails(t *testing.T) {
	root := writeProject(t, map[string]string{
		".dl/config.yml": minimalConfig,
		"dl-tasks.yml": `
tasks:
  - name: helper-only
    kind: command
    internal: true
    location: { at: a.sh }
  - name: build
    kind: command
    location: { at: b.sh }
`,
		"a.sh": "a",
		"b.sh": "b",
	})
	if _, err := Load(root); err == nil {
		t.Fatal("expected unused internal task to fail validation")
	}
}

func TestLoadInternalReachableFromPipelineSucceeds(t *testing.T) {
	root := writeProject(t, map[string]string{
		".dl/config.yml": minimalConfig,
		"dl-tasks.yml": `
tasks:
  - name: helper
    kind: command
    internal: true
    location: { at: a.sh }
  - name: build
    kind: pipeline
    steps:
      - name: step1
        task: helper
`,
		"a.sh": "a",
	})
	if _, err := Load(root); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestLoadCycleFails(t *testing.T) {
	root := writeProject(t, map[string]string{
		".dl/config.yml": minimalConfig,
		"dl-tasks.yml": `
tasks:
  - name: a
    kind: pipeline
    steps:
      - name: s
        task: b
  - name: b
    kind: pipeline
    steps:
      - name: s
        task: a
`,
	})
	if _, err := Load(root); err == nil {
		t.Fatal("expected cycle to fail validation")
	}
}

func TestLoadUnknownReferenceFails(t *testing.T) {
	root := writeProject(t, map[string]string{
		".dl/config.yml": minimalConfig,
		"dl-tasks.yml": `
tasks:
  - name: a
    kind: pipeline
    steps:
      - name: s
        task: missing
`,
	})
	if _, err := Load(root); err == nil {
		t.Fatal("expected unknown reference to fail validation")
	}
}
