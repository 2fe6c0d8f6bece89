// Package catalog lists the model files available to the llama backends.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"modelproxy/internal/common/fsutil"
	"modelproxy/pkg/types"
)

// ErrNotFound is returned by Resolve when no model file matches.
var ErrNotFound = errors.New("model not found in catalog")

// Catalog resolves model names against a directory of *.gguf files.
// The directory is rescanned on every call so files added at runtime are seen.
type Catalog struct {
	dir string
}

// New returns a catalog rooted at dir. A leading '~' is expanded.
func New(dir string) (*Catalog, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	return &Catalog{dir: abs}, nil
}

// Dir returns the absolute catalog directory.
func (c *Catalog) Dir() string { return c.dir }

// Scan lists the *.gguf files in the catalog directory, sorted by ID.
func (c *Catalog) Scan() ([]types.Model, error) {
	return LoadDir(c.dir)
}

// Resolve maps a model name to its file path. The name matches a file name
// exactly or without its .gguf extension.
func (c *Catalog) Resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	models, err := c.Scan()
	if err != nil {
		return "", err
	}
	for _, m := range models {
		if m.ID == name || m.Name == name {
			return m.Path, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, name)
}

// LoadDir scans a directory for *.gguf files and builds model entries from filenames.
// ID is the full filename (including extension); Path is the absolute file path.
func LoadDir(dir string) ([]types.Model, error) {
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
		id := e.Name()
		ext := filepath.Ext(id)
		if !strings.EqualFold(ext, ".gguf") {
			continue
		}
		models = append(models, types.Model{ID: id, Name: strings.TrimSuffix(id, ext), Path: filepath.Join(abs, id)})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}
