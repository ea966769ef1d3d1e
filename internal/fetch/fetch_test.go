package fetch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/devloop-run/devloop/internal/model"
)

func TestFetchPath(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.sh"), []byte("echo hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	f := New()
	body, err := f.Fetch(dir, model.Location{Kind: model.LocationPath, At: "a.sh"})
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "echo hi" {
		t.Fatalf("got %q", body)
	}
}

func TestFetchRecursiveOrderedAndIgnored(t *testing.T) {
	dir := t.TempDir()
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	must(os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	must(os.WriteFile(filepath.Join(dir, "b.sh"), []byte("b"), 0o644))
	must(os.WriteFile(filepath.Join(dir, "sub", "a.sh"), []byte("a"), 0o644))
	must(os.WriteFile(filepath.Join(dir, "skip.sh"), []byte("skip"), 0o644))
	must(os.WriteFile(filepath.Join(dir, ".dlignore"), []byte("skip.sh\n"), 0o644))

	f := New()
	files, err := f.FetchRecursive(dir, model.Location{Kind: model.LocationPath, At: ".", Recurse: true})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range files {
		if filepath.Base(p) == "skip.sh" {
			t.Fatalf("expected skip.sh to be ignored, got %v", files)
		}
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %v", files)
	}
	if filepath.Base(files[0]) != "b.sh" || filepath.Base(files[1]) != "a.sh" {
		t.Fatalf("expected sorted order b.sh, sub/a.sh; got %v", files)
	}
}

func TestFetchCachesRepeatedReads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.sh")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	f := New()
	loc := model.Location{Kind: model.LocationPath, At: "a.sh"}
	first, err := f.Fetch(dir, loc)
	if err != nil {
		t.Fatal(err)
	}
	// Mutate on disk; cached fetch should still return the first body.
	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	second, err := f.Fetch(dir, loc)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatalf("expected cached body %q, got %q", first, second)
	}
}
