// Package playbooks holds the diagnostic procedures the monitoring agent can
// execute: built-ins plus user playbooks loaded from YAML files.
package playbooks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var ErrInvalidPlaybook = errors.New("invalid playbook")

// Playbook is a named step-by-step procedure.
type Playbook struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Content     string `yaml:"content"`
	Builtin     bool   `yaml:"-"`
	Source      string `yaml:"-"`
}

// Registry is safe for concurrent use. User playbooks shadow built-ins of the
// same name.
type Registry struct {
	mu      sync.RWMutex
	builtin map[string]Playbook
	user    map[string]Playbook
}

func NewRegistry() *Registry {
	r := &Registry{
		builtin: make(map[string]Playbook, len(builtins)),
		user:    make(map[string]Playbook),
	}
	for _, p := range builtins {
		p.Builtin = true
		r.builtin[p.Name] = p
	}
	return r
}

func (r *Registry) Get(name string) (Playbook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.user[name]; ok {
		return p, true
	}
	p, ok := r.builtin[name]
	return p, ok
}

// List returns every playbook sorted by name.
func (r *Registry) List() []Playbook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	merged := make(map[string]Playbook, len(r.builtin)+len(r.user))
	for name, p := range r.builtin {
		merged[name] = p
	}
	for name, p := range r.user {
		merged[name] = p
	}

	out := make([]Playbook, 0, len(merged))
	for _, p := range merged {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Names() []string {
	list := r.List()
	names := make([]string, len(list))
	for i, p := range list {
		names[i] = p.Name
	}
	return names
}

// LoadDir replaces the user playbooks with the *.yaml and *.yml files in dir.
// On error the previous set is kept.
func (r *Registry) LoadDir(dir string) (int, error) {
	loaded, err := ReadDir(dir)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.user = loaded
	r.mu.Unlock()

	return len(loaded), nil
}

// ReadDir parses every playbook file in dir. Duplicate names are an error.
func ReadDir(dir string) (map[string]Playbook, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading playbook dir: %w", err)
	}

	out := make(map[string]Playbook)
	for _, e := range entries {
		if e.IsDir() || !IsPlaybookFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		p, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := out[p.Name]; ok {
			return nil, fmt.Errorf("%w: %q defined in %s and %s", ErrInvalidPlaybook, p.Name, prev.Source, path)
		}
		out[p.Name] = p
	}
	return out, nil
}

func ParseFile(path string) (Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Playbook{}, fmt.Errorf("reading playbook: %w", err)
	}

	var p Playbook
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Playbook{}, fmt.Errorf("%w: parsing %s: %v", ErrInvalidPlaybook, path, err)
	}

	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return Playbook{}, fmt.Errorf("%w: %s: name is required", ErrInvalidPlaybook, path)
	}
	if strings.ContainsAny(p.Name, " \t\n") {
		return Playbook{}, fmt.Errorf("%w: %s: name %q must not contain whitespace", ErrInvalidPlaybook, path, p.Name)
	}
	if strings.TrimSpace(p.Content) == "" {
		return Playbook{}, fmt.Errorf("%w: %s: content is required", ErrInvalidPlaybook, path)
	}
	p.Source = path
	return p, nil
}

func IsPlaybookFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
