package copyutil

import (
	"os"
	"path/filepath"
	"testing"
)

func drain(t *testing.T, progress <-chan string, errc <-chan error) []string {
	t.Helper()
	var got []string
	for progress != nil || errc != nil {
		select {
		case p, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			got = append(got, p)
		case err, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			if err != nil {
				t.Fatalf("copy error: %v", err)
			}
		}
	}
	return got
}

func TestCopyRecursesAndOverwrites(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	mustWrite(t, filepath.Join(src, "a.txt"), "hello")
	mustWrite(t, filepath.Join(src, "sub", "b.txt"), "world")
	mustWrite(t, filepath.Join(dst, "a.txt"), "stale")

	progress, errc := Copy(src, dst, nil, 0o755)
	got := drain(t, progress, errc)
	if len(got) != 2 {
		t.Fatalf("expected 2 copied entries, got %d: %v", len(got), got)
	}

	data, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	if err != nil {
		t.Fatalf("read a.txt: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("expected overwrite, got %q", data)
	}

	data, err = os.ReadFile(filepath.Join(dst, "sub", "b.txt"))
	if err != nil {
		t.Fatalf("read sub/b.txt: %v", err)
	}
	if string(data) != "world" {
		t.Fatalf("got %q, want world", data)
	}
}

func TestCopySkipsExcludedPaths(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	mustWrite(t, filepath.Join(src, "setup.exe"), "binary")
	mustWrite(t, filepath.Join(src, "setup.json"), "{}")
	mustWrite(t, filepath.Join(src, "payload.txt"), "keep me")
	mustWrite(t, filepath.Join(src, "skipdir", "inner.txt"), "skip me")

	progress, errc := Copy(src, dst, []string{"setup.exe", "setup.json", "skipdir"}, 0o755)
	got := drain(t, progress, errc)
	if len(got) != 1 {
		t.Fatalf("expected 1 copied entry, got %d: %v", len(got), got)
	}

	if _, err := os.Stat(filepath.Join(dst, "setup.exe")); !os.IsNotExist(err) {
		t.Fatal("expected setup.exe to be excluded")
	}
	if _, err := os.Stat(filepath.Join(dst, "skipdir")); !os.IsNotExist(err) {
		t.Fatal("expected skipdir to be excluded entirely")
	}
	if _, err := os.Stat(filepath.Join(dst, "payload.txt")); err != nil {
		t.Fatalf("expected payload.txt to be copied: %v", err)
	}
}

func TestCopyRejectsNonDirSource(t *testing.T) {
	src := t.TempDir()
	file := filepath.Join(src, "notadir")
	mustWrite(t, file, "x")

	_, errc := Copy(file, t.TempDir(), nil, 0o755)
	err := <-errc
	if err == nil {
		t.Fatal("expected error for non-directory source")
	}
}

func TestDefaultExcludes(t *testing.T) {
	got := DefaultExcludes("/tmp/x/setup.exe", "setup.json", "keep.dat")
	want := []string{"setup.exe", "setup.json", "keep.dat"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %q: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}
