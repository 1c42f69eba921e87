// Package agent defines the agent configuration model, the run history
// model, and the registry that loads agent definitions from YAML.
package agent

import (
	"fmt"

	"briefer/internal/ident"
)

// SourceType identifies the resolution strategy for a declared source.
type SourceType string

const (
	SourceFetch  SourceType = "fetch"  // URL content via the fetch capability
	SourceSearch SourceType = "search" // web search via the search capability
	SourceFile   SourceType = "file"   // local file read
	SourceTool   SourceType = "tool"   // arbitrary capability invocation
)

// SourceSpec is the tagged union of source declarations. Type selects which
// of the variant fields are meaningful; Validate enforces the variant's
// required fields.
type SourceSpec struct {
	Type  SourceType `yaml:"type" json:"type"`
	Label string     `yaml:"label,omitempty" json:"label,omitempty"`

	// fetch
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// search
	Query string `yaml:"query,omitempty" json:"query,omitempty"`
	Count int    `yaml:"count,omitempty" json:"count,omitempty"`

	// file
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// tool
	Tool   string         `yaml:"tool,omitempty" json:"tool,omitempty"`
	Action string         `yaml:"action,omitempty" json:"action,omitempty"`
	Args   map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
}

// Validate checks the variant-specific required fields.
func (s SourceSpec) Validate() error {
	switch s.Type {
	case SourceFetch:
		if s.URL == "" {
			return fmt.Errorf("fetch source: url is required")
		}
	case SourceSearch:
		if s.Query == "" {
			return fmt.Errorf("search source: query is required")
		}
	case SourceFile:
		if s.Path == "" {
			return fmt.Errorf("file source: path is required")
		}
	case SourceTool:
		if s.Tool == "" || s.Action == "" {
			return fmt.Errorf("tool source: tool and action are required")
		}
	default:
		return fmt.Errorf("unknown source type %q", s.Type)
	}
	return nil
}

// OutputConfig controls how the generated report is titled.
type OutputConfig struct {
	// Title may reference {agent_name} and {date}.
	Title  string `yaml:"title,omitempty" json:"title"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// NotifyConfig controls push-notification delivery after a completed run.
type NotifyConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Title    string `yaml:"title,omitempty" json:"title"`
	Priority int    `yaml:"priority,omitempty" json:"priority"`
}

// Definition is a static agent configuration. Definitions are immutable at
// runtime and reloaded wholesale from the agents file.
type Definition struct {
	ID          string       `yaml:"-" json:"id"`
	Name        string       `yaml:"name" json:"name"`
	Description string       `yaml:"description,omitempty" json:"description"`
	Enabled     bool         `yaml:"enabled" json:"enabled"`
	Schedule    string       `yaml:"schedule,omitempty" json:"schedule,omitempty"` // cron expression; empty = manual only
	Sources     []SourceSpec `yaml:"sources" json:"sources"`
	Prompt      string       `yaml:"prompt" json:"prompt"`
	Output      OutputConfig `yaml:"output,omitempty" json:"output"`
	Notify      NotifyConfig `yaml:"notify,omitempty" json:"notify"`
}

// Validate checks the definition for load-time configuration errors.
func (d *Definition) Validate() error {
	if !ident.IsSafeSegment(d.ID) {
		return fmt.Errorf("agent id %q is not a safe path segment", d.ID)
	}
	if d.Prompt == "" {
		return fmt.Errorf("agent %q: prompt is required", d.ID)
	}
	for i, src := range d.Sources {
		if err := src.Validate(); err != nil {
			return fmt.Errorf("agent %q source %d: %w", d.ID, i, err)
		}
	}
	return nil
}
