package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"briefer/internal/agent"
	"briefer/internal/collect"
	"briefer/internal/llm"
	"briefer/internal/logging"
)

type stubClient struct {
	resp *llm.CompletionResponse
	err  error
	last llm.CompletionRequest
}

func (s *stubClient) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func (s *stubClient) Model() string { return "test-model" }

func testDefinition() *agent.Definition {
	return &agent.Definition{
		ID:     "tech-news",
		Name:   "Tech News",
		Prompt: "Summarize the most important stories.",
		Output: agent.OutputConfig{Title: "{agent_name} - {date}", Format: "markdown"},
	}
}

func okItem(label, content string) collect.Item {
	return collect.Item{
		Result:  agent.SourceResult{Label: label, Status: agent.SourceOK},
		Content: content,
	}
}

func TestGenerate_PromptAssembly(t *testing.T) {
	client := &stubClient{resp: &llm.CompletionResponse{
		Content: "## Stories\n\n- one",
		Usage:   llm.TokenUsage{PromptTokens: 100, CompletionTokens: 50},
	}}
	gen := NewGenerator(client, logging.Nop())

	items := []collect.Item{
		okItem("Hacker News", "hn content"),
		{Result: agent.SourceResult{Label: "broken", Status: agent.SourceFailed, Error: "boom"}},
		okItem("Lobsters", "lobsters content"),
	}

	rep, err := gen.Generate(context.Background(), testDefinition(), items, "run-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(client.last.Messages) != 2 || client.last.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v", client.last.Messages)
	}
	user := client.last.Messages[1].Content
	if !strings.Contains(user, "Summarize the most important stories.") {
		t.Error("user prompt missing task prompt")
	}
	hn := strings.Index(user, "## Hacker News\n\nhn content")
	lob := strings.Index(user, "## Lobsters\n\nlobsters content")
	if hn < 0 || lob < 0 || hn > lob {
		t.Errorf("source blocks missing or out of order:\n%s", user)
	}
	if strings.Contains(user, "broken") {
		t.Error("failed source leaked into the prompt")
	}

	if rep.Usage.InputTokens != 100 || rep.Usage.OutputTokens != 50 {
		t.Errorf("usage = %+v", rep.Usage)
	}
	if rep.Usage.Model != "test-model" {
		t.Errorf("model = %q", rep.Usage.Model)
	}
}

func TestGenerate_Frontmatter(t *testing.T) {
	client := &stubClient{resp: &llm.CompletionResponse{Content: "body text"}}
	gen := NewGenerator(client, logging.Nop())

	rep, err := gen.Generate(context.Background(), testDefinition(), []collect.Item{okItem("Source A", "a")}, "20260824_120000_abc12345")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	wantTitle := "Tech News - " + time.Now().Format("January 2, 2006")
	if rep.Title != wantTitle {
		t.Errorf("Title = %q, want %q", rep.Title, wantTitle)
	}
	for _, want := range []string{
		"---\ntitle: \"" + wantTitle + "\"",
		"agent: tech-news",
		"run_id: 20260824_120000_abc12345",
		"  - Source A",
		"# " + wantTitle,
		"body text",
		"*Generated by briefer agent: Tech News*",
	} {
		if !strings.Contains(rep.Text, want) {
			t.Errorf("report missing %q:\n%s", want, rep.Text)
		}
	}
}

func TestGenerate_UsageEstimateFallback(t *testing.T) {
	client := &stubClient{resp: &llm.CompletionResponse{Content: strings.Repeat("word ", 100)}}
	gen := NewGenerator(client, logging.Nop())

	rep, err := gen.Generate(context.Background(), testDefinition(), []collect.Item{okItem("s", "content")}, "r")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if rep.Usage.InputTokens == 0 || rep.Usage.OutputTokens == 0 {
		t.Errorf("expected estimated usage, got %+v", rep.Usage)
	}
}

func TestGenerate_BackendError(t *testing.T) {
	client := &stubClient{err: llm.ErrUnavailable}
	gen := NewGenerator(client, logging.Nop())

	_, err := gen.Generate(context.Background(), testDefinition(), []collect.Item{okItem("s", "c")}, "r")
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected *GenerationError, got %v", err)
	}
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Error("GenerationError must wrap the backend error")
	}
}

func TestGenerate_EmptyCompletion(t *testing.T) {
	client := &stubClient{resp: &llm.CompletionResponse{Content: "   "}}
	gen := NewGenerator(client, logging.Nop())

	_, err := gen.Generate(context.Background(), testDefinition(), []collect.Item{okItem("s", "c")}, "r")
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected *GenerationError, got %v", err)
	}
}
