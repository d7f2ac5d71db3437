package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"cadmonkey/internal/common/fsutil"
	"cadmonkey/pkg/types"
)

// quantRe matches a llama.cpp quantization suffix such as q8_0, Q4_K_M or f16.
var quantRe = regexp.MustCompile(`(?i)[-_.]((?:i?q\d+(?:_[a-z0-9]+)*)|bf16|f16|f32)$`)

// FromPath describes a model file. Name is the filename without the .gguf
// extension when name is empty.
func FromPath(path, name string) types.Model {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	m := types.Model{Name: name, Path: path}
	if m.Name == "" {
		m.Name = base
	}
	if sub := quantRe.FindStringSubmatch(base); sub != nil {
		m.Quant = strings.ToLower(sub[1])
	}
	return m
}

// LoadDir scans a directory for *.gguf files and builds a registry from filenames.
// Path is the absolute file path. Results are sorted by name.
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
		name := e.Name()
		if !strings.EqualFold(filepath.Ext(name), ".gguf") {
			continue
		}
		models = append(models, FromPath(filepath.Join(abs, name), ""))
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models, nil
}

// Resolve picks the served model. An explicit path wins; otherwise dir is
// scanned and name is matched against the file stem, ignoring case and the
// quantization suffix. A directory holding a single model needs no name.
func Resolve(name, path, dir string) (types.Model, error) {
	if strings.TrimSpace(path) != "" {
		p, err := fsutil.ExpandHome(path)
		if err != nil {
			return types.Model{}, err
		}
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if !fsutil.FileExists(p) {
			return types.Model{}, fmt.Errorf("model file not found: %s", p)
		}
		return FromPath(p, name), nil
	}
	models, err := LoadDir(dir)
	if err != nil {
		return types.Model{}, err
	}
	if len(models) == 0 {
		return types.Model{}, fmt.Errorf("no *.gguf models in %s", dir)
	}
	if name == "" {
		if len(models) == 1 {
			return models[0], nil
		}
		return types.Model{}, fmt.Errorf("%d models in %s; set model.name", len(models), dir)
	}
	want := strings.ToLower(strings.TrimSuffix(name, ".gguf"))
	var names []string
	for _, m := range models {
		stem := strings.ToLower(m.Name)
		if stem == want || stem == want+"-"+m.Quant || stem == want+"_"+m.Quant || stem == want+"."+m.Quant {
			m.Name = name
			return m, nil
		}
		names = append(names, m.Name)
	}
	return types.Model{}, fmt.Errorf("model %q not found in %s (available: %s)", name, dir, strings.Join(names, ", "))
}
