// Package registry lists the model artifacts available in a directory.
// Only fully materialized files are listed: an in-progress download keeps
// a suffix such as ".part" and is not picked up until it is renamed.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"llamachat/internal/common/fsutil"
	"llamachat/pkg/types"
)

// ErrModelNotFound is returned by Resolve for an unknown id.
var ErrModelNotFound = errors.New("registry: model not found")

// GGUFScanner scans directories for *.gguf files.
type GGUFScanner struct{}

func NewGGUFScanner() GGUFScanner { return GGUFScanner{} }

// Scan builds the model list from filenames in dir. ID is the full filename
// (including extension); Path is the absolute file path.
func (GGUFScanner) Scan(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		m := types.Model{ID: name, Path: filepath.Join(abs, name)}
		if info, err := e.Info(); err == nil {
			m.SizeBytes = info.Size()
		}
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// LoadDir scans dir with the default scanner.
func LoadDir(dir string) ([]types.Model, error) {
	return NewGGUFScanner().Scan(dir)
}

// Registry rescans its directory on every call so newly completed
// downloads show up without a restart.
type Registry struct {
	dir string
}

func New(dir string) *Registry { return &Registry{dir: dir} }

// Dir returns the configured directory.
func (r *Registry) Dir() string { return r.dir }

// List returns the models currently present.
func (r *Registry) List() ([]types.Model, error) {
	return LoadDir(r.dir)
}

// Resolve returns the model with the given id.
func (r *Registry) Resolve(id string) (types.Model, error) {
	models, err := r.List()
	if err != nil {
		return types.Model{}, err
	}
	for _, m := range models {
		if m.ID == id {
			return m, nil
		}
	}
	return types.Model{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
}
