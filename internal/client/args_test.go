package client

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveArgs(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "report.pdf")
	if err := os.WriteFile(file, []byte("%PDF"), 0644); err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(root, "photos")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}

	t.Run("files and directories", func(t *testing.T) {
		targets, err := ResolveArgs([]string{file, dir})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		want := []Target{{Path: file}, {Path: dir, IsDir: true}}
		if len(targets) != len(want) {
			t.Fatalf("expected %d targets, got %d", len(want), len(targets))
		}
		for i := range want {
			if targets[i] != want[i] {
				t.Errorf("target %d: expected %+v, got %+v", i, want[i], targets[i])
			}
		}
	})

	t.Run("paths are cleaned and duplicates dropped", func(t *testing.T) {
		messy := root + string(filepath.Separator) + "." + string(filepath.Separator) + "report.pdf"
		targets, err := ResolveArgs([]string{messy, file})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(targets) != 1 || targets[0].Path != file {
			t.Errorf("expected a single cleaned target, got %+v", targets)
		}
	})

	t.Run("no arguments", func(t *testing.T) {
		if _, err := ResolveArgs(nil); !errors.Is(err, ErrNoArgs) {
			t.Errorf("expected ErrNoArgs, got %v", err)
		}
	})

	t.Run("missing path", func(t *testing.T) {
		missing := filepath.Join(root, "nope.txt")
		_, err := ResolveArgs([]string{file, missing})

		var argErr *ArgError
		if !errors.As(err, &argErr) {
			t.Fatalf("expected ArgError, got %T", err)
		}
		if argErr.Arg != missing {
			t.Errorf("expected failing arg %q, got %q", missing, argErr.Arg)
		}
		if !errors.Is(err, ErrMissing) {
			t.Errorf("expected ErrMissing, got %v", err)
		}
	})
}

func TestArgError(t *testing.T) {
	err := &ArgError{Arg: "a.txt", Err: ErrMissing}
	want := `cannot share "a.txt": not found or not accessible`
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}
