package agent

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"briefer/internal/logging"
)

// Registry holds the loaded agent definitions. The backing YAML file is
// human-edited; the registry reads it on construction and on explicit
// Reload, never piecemeal.
type Registry struct {
	path   string
	logger logging.Logger

	mu     sync.RWMutex
	agents map[string]*Definition
}

type agentsFile struct {
	Agents map[string]*Definition `yaml:"agents"`
}

// NewRegistry loads agent definitions from the YAML file at path. A missing
// file yields an empty registry; a malformed file or definition is a hard
// error so configuration problems surface at startup, not at run time.
func NewRegistry(path string, logger logging.Logger) (*Registry, error) {
	r := &Registry{
		path:   path,
		logger: logging.OrNop(logger),
		agents: make(map[string]*Definition),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the agents file, replacing the in-memory set wholesale.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Info("Registry: no agents file at %s, starting empty", r.path)
			r.mu.Lock()
			r.agents = make(map[string]*Definition)
			r.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read agents file: %w", err)
	}

	var file agentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse agents file %s: %w", r.path, err)
	}

	agents := make(map[string]*Definition, len(file.Agents))
	for id, def := range file.Agents {
		if def == nil {
			return fmt.Errorf("agent %q: empty definition", id)
		}
		def.ID = id
		applyDefaults(def)
		if err := def.Validate(); err != nil {
			return fmt.Errorf("invalid agent definition: %w", err)
		}
		agents[id] = def
	}

	r.mu.Lock()
	r.agents = agents
	r.mu.Unlock()
	r.logger.Info("Registry: loaded %d agent definitions from %s", len(agents), r.path)
	return nil
}

func applyDefaults(def *Definition) {
	if def.Name == "" {
		def.Name = def.ID
	}
	if def.Output.Title == "" {
		def.Output.Title = "{agent_name} - {date}"
	}
	if def.Output.Format == "" {
		def.Output.Format = "markdown"
	}
	if def.Notify.Title == "" {
		def.Notify.Title = "Agent Report Ready"
	}
	if def.Notify.Priority == 0 {
		def.Notify.Priority = 5
	}
	for i := range def.Sources {
		src := &def.Sources[i]
		if src.Type == SourceSearch && src.Count <= 0 {
			src.Count = 5
		}
	}
}

// Get returns the definition for id, or nil if unknown.
func (r *Registry) Get(id string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[id]
}

// List returns all definitions sorted by id.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.agents))
	for _, def := range r.agents {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListEnabled returns all enabled definitions sorted by id.
func (r *Registry) ListEnabled() []*Definition {
	all := r.List()
	out := all[:0]
	for _, def := range all {
		if def.Enabled {
			out = append(out, def)
		}
	}
	return out
}
