package registry

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestGGUFScanner_ScanFiltersGGUF(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"b.GGUF":            "", // case-insensitive
		"a.gguf":            "1234",
		"not-model.txt":     "",
		"model.bin":         "",
		"partial.gguf.part": "xx",
	}
	for f, body := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte(body), 0o644); err != nil {
			t.Fatalf("write temp file: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.gguf"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	models, err := NewGGUFScanner().Scan(dir)
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %+v", models)
	}
	if models[0].ID != "a.gguf" || models[1].ID != "b.GGUF" {
		t.Fatalf("unexpected order: %+v", models)
	}
	if models[0].SizeBytes != 4 || models[0].Path != filepath.Join(dir, "a.gguf") {
		t.Fatalf("unexpected metadata: %+v", models[0])
	}
}

func TestGGUFScanner_ExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
	if err := os.MkdirAll(filepath.Join(home, "models"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(home, "models", "x.gguf"), []byte(""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	models, err := NewGGUFScanner().Scan("~/models")
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(models) != 1 || models[0].ID != "x.gguf" {
		t.Fatalf("unexpected models: %+v", models)
	}
}

func TestRegistry_Resolve(t *testing.T) {
	dir := t.TempDir()
	reg := New(dir)
	if models, err := reg.List(); err != nil || len(models) != 0 {
		t.Fatalf("empty dir: %+v %v", models, err)
	}
	// Files that appear after construction are picked up.
	if err := os.WriteFile(filepath.Join(dir, "m.gguf"), []byte(""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := reg.Resolve("m.gguf")
	if err != nil || m.Path != filepath.Join(dir, "m.gguf") {
		t.Fatalf("resolve: %+v %v", m, err)
	}
	if _, err := reg.Resolve("missing.gguf"); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("want ErrModelNotFound, got %v", err)
	}
	if _, err := New(filepath.Join(dir, "nope")).List(); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}
