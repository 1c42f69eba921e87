// Package collect resolves an agent's configured sources into labeled text
// blocks ready for report generation.
package collect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"briefer/internal/agent"
	"briefer/internal/logging"
)

// MaxSourceChars caps the content of a single source. Oversized content is
// truncated, never rejected.
const MaxSourceChars = 100_000

const truncationMarker = "\n\n[Content truncated...]"

// Capabilities is the slice of the MCP manager the collector consumes.
type Capabilities interface {
	Has(name string) bool
	Invoke(ctx context.Context, server, tool string, args map[string]any) (string, error)
}

// Item is one resolved source: the outcome record plus the collected text.
// Content is empty when the source failed.
type Item struct {
	Result  agent.SourceResult
	Content string
}

// Collector resolves source specs against MCP capabilities, local files, and
// the web.
type Collector struct {
	caps    Capabilities
	fetcher *webFetcher
	logger  logging.Logger
}

// NewCollector creates a collector. caps may be nil when no MCP servers are
// configured; fetch sources then fall back to direct HTTP.
func NewCollector(caps Capabilities, logger logging.Logger) *Collector {
	return &Collector{
		caps:    caps,
		fetcher: newWebFetcher(),
		logger:  logging.OrNop(logger),
	}
}

// Collect resolves every source in parallel and returns the items in
// declaration order. A failing source yields a failed item; the batch itself
// never errors.
func (c *Collector) Collect(ctx context.Context, specs []agent.SourceSpec) []Item {
	items := make([]Item, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		g.Go(func() error {
			items[i] = c.collectOne(gctx, spec)
			return nil
		})
	}
	_ = g.Wait()

	return items
}

func (c *Collector) collectOne(ctx context.Context, spec agent.SourceSpec) Item {
	started := time.Now().UTC()
	label := c.label(spec)

	content, err := c.resolve(ctx, spec)
	if err != nil {
		c.logger.Warn("Source %q failed: %v", label, err)
		return Item{Result: agent.SourceResult{
			Label:     label,
			Type:      spec.Type,
			Status:    agent.SourceFailed,
			Error:     err.Error(),
			FetchedAt: started,
		}}
	}

	content = truncate(content)
	return Item{
		Result: agent.SourceResult{
			Label:     label,
			Type:      spec.Type,
			Status:    agent.SourceOK,
			Chars:     utf8.RuneCountInString(content),
			FetchedAt: started,
		},
		Content: content,
	}
}

func (c *Collector) resolve(ctx context.Context, spec agent.SourceSpec) (string, error) {
	switch spec.Type {
	case agent.SourceFetch:
		return c.fetch(ctx, spec.URL)
	case agent.SourceSearch:
		return c.search(ctx, spec)
	case agent.SourceFile:
		data, err := os.ReadFile(spec.Path)
		if err != nil {
			return "", fmt.Errorf("read file: %w", err)
		}
		return string(data), nil
	case agent.SourceTool:
		if c.caps == nil || !c.caps.Has(spec.Tool) {
			return "", fmt.Errorf("mcp server %q is not configured", spec.Tool)
		}
		return c.caps.Invoke(ctx, spec.Tool, spec.Action, spec.Args)
	default:
		return "", fmt.Errorf("unknown source type %q", spec.Type)
	}
}

// fetch prefers the MCP fetch server and falls back to a direct HTTP fetch
// with HTML extraction when it is not configured or fails.
func (c *Collector) fetch(ctx context.Context, url string) (string, error) {
	if c.caps != nil && c.caps.Has("fetch") {
		content, err := c.caps.Invoke(ctx, "fetch", "fetch", map[string]any{
			"url":        url,
			"max_length": MaxSourceChars,
		})
		if err == nil {
			return content, nil
		}
		c.logger.Warn("MCP fetch of %s failed, falling back to direct fetch: %v", url, err)
	}
	return c.fetcher.Fetch(ctx, url)
}

func (c *Collector) search(ctx context.Context, spec agent.SourceSpec) (string, error) {
	if c.caps == nil || !c.caps.Has("brave-search") {
		return "", fmt.Errorf("search requires the brave-search mcp server")
	}
	query := expandQuery(spec.Query)
	return c.caps.Invoke(ctx, "brave-search", "brave_web_search", map[string]any{
		"query": query,
		"count": spec.Count,
	})
}

func (c *Collector) label(spec agent.SourceSpec) string {
	if spec.Label != "" {
		return spec.Label
	}
	switch spec.Type {
	case agent.SourceFetch:
		return spec.URL
	case agent.SourceSearch:
		return spec.Query
	case agent.SourceFile:
		return filepath.Base(spec.Path)
	case agent.SourceTool:
		return spec.Tool + "/" + spec.Action
	}
	return string(spec.Type)
}

// expandQuery substitutes the {date} placeholder with today's local date.
func expandQuery(query string) string {
	return strings.ReplaceAll(query, "{date}", time.Now().Format("2006-01-02"))
}

func truncate(content string) string {
	if utf8.RuneCountInString(content) <= MaxSourceChars {
		return content
	}
	runes := []rune(content)
	return string(runes[:MaxSourceChars]) + truncationMarker
}
