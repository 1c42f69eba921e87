// Package report turns collected source content into a finished markdown
// report via one blocking LLM completion.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"briefer/internal/agent"
	"briefer/internal/collect"
	"briefer/internal/llm"
	"briefer/internal/logging"
)

const systemPrompt = `You are a helpful assistant that creates well-formatted markdown reports.
Follow the user's instructions carefully and format your output as clean, readable markdown.
Include appropriate headings, bullet points, and formatting.`

// GenerationError wraps an inference failure. It is run-fatal: a run whose
// generation fails ends as failed.
type GenerationError struct {
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("report generation with %s failed: %v", e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Report is a finished report plus its accounting.
type Report struct {
	Title string
	Text  string
	Usage agent.LLMUsage
}

// Generator assembles prompts and calls the inference backend.
type Generator struct {
	client llm.Client
	logger logging.Logger
}

func NewGenerator(client llm.Client, logger logging.Logger) *Generator {
	return &Generator{client: client, logger: logging.OrNop(logger)}
}

// Generate builds one completion request from the task prompt and the
// successful sources (declaration order, failed sources omitted), calls the
// backend once, and wraps the result in YAML frontmatter.
func (g *Generator) Generate(ctx context.Context, def *agent.Definition, items []collect.Item, runID string) (*Report, error) {
	userPrompt := buildUserPrompt(def.Prompt, items)

	resp, err := g.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.7,
		MaxTokens:   4096,
	})
	if err != nil {
		return nil, &GenerationError{Model: g.client.Model(), Err: err}
	}
	if strings.TrimSpace(resp.Content) == "" {
		return nil, &GenerationError{Model: g.client.Model(), Err: fmt.Errorf("backend returned empty completion")}
	}

	now := time.Now()
	title := renderTitle(def.Output.Title, def.Name, now)
	text := renderReport(title, def, items, runID, resp.Content, now)

	usage := agent.LLMUsage{
		Model:        g.client.Model(),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	// Some backends omit usage counts; fall back to a rough estimate.
	if usage.InputTokens == 0 {
		usage.InputTokens = (len(systemPrompt) + len(userPrompt)) / 4
	}
	if usage.OutputTokens == 0 {
		usage.OutputTokens = len(resp.Content) / 4
	}

	g.logger.Info("Generated report for %s: %d chars, %d+%d tokens",
		def.ID, len(text), usage.InputTokens, usage.OutputTokens)

	return &Report{Title: title, Text: text, Usage: usage}, nil
}

func buildUserPrompt(taskPrompt string, items []collect.Item) string {
	blocks := make([]string, 0, len(items))
	for _, item := range items {
		if item.Result.Status == agent.SourceOK && item.Content != "" {
			blocks = append(blocks, fmt.Sprintf("## %s\n\n%s", item.Result.Label, item.Content))
		}
	}

	return fmt.Sprintf(`%s

---

Here is the source content to analyze:

%s`, taskPrompt, strings.Join(blocks, "\n\n---\n\n"))
}

// renderTitle expands the {agent_name} and {date} placeholders of the output
// title template.
func renderTitle(template, agentName string, now time.Time) string {
	title := strings.ReplaceAll(template, "{agent_name}", agentName)
	return strings.ReplaceAll(title, "{date}", now.Format("January 2, 2006"))
}

func renderReport(title string, def *agent.Definition, items []collect.Item, runID, body string, now time.Time) string {
	var labels strings.Builder
	for _, item := range items {
		if item.Result.Status == agent.SourceOK {
			labels.WriteString("  - " + item.Result.Label + "\n")
		}
	}

	return fmt.Sprintf(`---
title: %q
agent: %s
run_id: %s
generated: %s
sources:
%s---

# %s

%s

---
*Generated by briefer agent: %s*
`, title, def.ID, runID, now.UTC().Format(time.RFC3339), labels.String(), title, body, def.Name)
}
