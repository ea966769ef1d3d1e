package fs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/devloop-run/devloop/internal/fs"
)

func TestCopyFileCreatesParentDirs(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src.txt")
	if err := os.WriteFile(src, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(root, "nested", "dir", "dst.txt")

	if err := fs.CopyFile(src, dst, 0o644); err != nil {
		t.Fatalf("CopyFile: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read dst: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestRecursiveCopyCopiesTree(t *testing.T) {
	root := t.TempDir()
	from := filepath.Join(root, "from")
	to := filepath.Join(root, "to")
	if err := os.MkdirAll(filepath.Join(from, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(from, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(from, "sub", "b.txt"), []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := fs.RecursiveCopy(from, to, 0o644); err != nil {
		t.Fatalf("RecursiveCopy: %v", err)
	}
	for _, rel := range []string{"a.txt", filepath.Join("sub", "b.txt")} {
		if _, err := os.Stat(filepath.Join(to, rel)); err != nil {
			t.Errorf("expected %s to exist: %v", rel, err)
		}
	}
}

func TestEnsureDirectoriesCreatesRelativeAndAbsolute(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	abs := filepath.Join(other, "abs-dir")

	err := fs.EnsureDirectories(root, []string{".dl/scratch", abs})
	if err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	if info, err := os.Stat(filepath.Join(root, ".dl", "scratch")); err != nil || !info.IsDir() {
		t.Errorf("expected relative dir to exist: %v", err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		t.Errorf("expected absolute dir to exist: %v", err)
	}
}

func TestWalkVisitsEveryEntry(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "f.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	var sawFile, sawDir bool
	err := fs.Walk(root, func(name string, isDir bool) error {
		if isDir && name == filepath.Join(root, "sub") {
			sawDir = true
		}
		if !isDir && name == filepath.Join(root, "sub", "f.txt") {
			sawFile = true
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if !sawDir || !sawFile {
		t.Errorf("sawDir=%v sawFile=%v", sawDir, sawFile)
	}
}
