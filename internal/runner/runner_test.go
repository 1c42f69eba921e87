package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"briefer/internal/agent"
	"briefer/internal/collect"
	"briefer/internal/logging"
	"briefer/internal/notify"
	"briefer/internal/report"
	"briefer/internal/runstore"
)

const testAgents = `
agents:
  digest:
    name: Daily Digest
    enabled: true
    schedule: "0 7 * * *"
    sources:
      - type: file
        label: Notes
        path: /unused
      - type: file
        label: Extra
        path: /unused
    prompt: Summarize.
    notify:
      enabled: true
      title: Digest ready
      priority: 6
  silent:
    name: Silent Agent
    enabled: true
    sources:
      - type: file
        label: Notes
        path: /unused
    prompt: Summarize.
  off:
    name: Disabled Agent
    enabled: false
    sources:
      - type: file
        path: /unused
    prompt: Summarize.
`

type stubCollector struct {
	items []collect.Item
}

func (s *stubCollector) Collect(_ context.Context, specs []agent.SourceSpec) []collect.Item {
	return s.items
}

type stubGenerator struct {
	calls  atomic.Int32
	report *report.Report
	err    error
	panics bool
}

func (s *stubGenerator) Generate(_ context.Context, def *agent.Definition, _ []collect.Item, runID string) (*report.Report, error) {
	s.calls.Add(1)
	if s.panics {
		panic("generator exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.report, nil
}

type stubNotifier struct {
	calls    atomic.Int32
	err      error
	lastMsg  atomic.Value
	lastPrio atomic.Int32
}

func (s *stubNotifier) Send(_ context.Context, title, message string, priority int) error {
	s.calls.Add(1)
	s.lastMsg.Store(message)
	s.lastPrio.Store(int32(priority))
	return s.err
}

type panickingNotifier struct {
	calls atomic.Int32
}

func (p *panickingNotifier) Send(context.Context, string, string, int) error {
	p.calls.Add(1)
	panic("notifier exploded")
}

func okItem(label, content string) collect.Item {
	return collect.Item{
		Result: agent.SourceResult{
			Label:     label,
			Type:      agent.SourceFile,
			Status:    agent.SourceOK,
			Chars:     len(content),
			FetchedAt: time.Now().UTC(),
		},
		Content: content,
	}
}

func failedItem(label, msg string) collect.Item {
	return collect.Item{Result: agent.SourceResult{
		Label:     label,
		Type:      agent.SourceFile,
		Status:    agent.SourceFailed,
		Error:     msg,
		FetchedAt: time.Now().UTC(),
	}}
}

type fixture struct {
	runner    *Runner
	store     *runstore.Store
	generator *stubGenerator
}

func newFixture(t *testing.T, collector Collector, generator *stubGenerator, notifier notify.Sender) *fixture {
	t.Helper()

	dir := t.TempDir()
	agentsPath := filepath.Join(dir, "agents.yaml")
	require.NoError(t, os.WriteFile(agentsPath, []byte(testAgents), 0o644))

	registry, err := agent.NewRegistry(agentsPath, logging.Nop())
	require.NoError(t, err)
	store, err := runstore.NewStore(filepath.Join(dir, "runs"), logging.Nop())
	require.NoError(t, err)

	r := New(registry, store, collector, generator, notifier, nil, "http://localhost:8090", logging.Nop())
	return &fixture{runner: r, store: store, generator: generator}
}

func waitTerminal(t *testing.T, store *runstore.Store, agentID, runID string) *agent.RunRecord {
	t.Helper()
	var record *agent.RunRecord
	require.Eventually(t, func() bool {
		rec, err := store.Get(agentID, runID)
		if err != nil {
			return false
		}
		record = rec
		return rec.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond, "run never reached a terminal status")
	return record
}

func TestRunner_SuccessfulRun(t *testing.T) {
	collector := &stubCollector{items: []collect.Item{
		okItem("Notes", "note content"),
		okItem("Extra", "extra content"),
	}}
	generator := &stubGenerator{report: &report.Report{
		Title: "Daily Digest - today",
		Text:  "# Daily Digest\n\nreport body",
		Usage: agent.LLMUsage{Model: "test-model", InputTokens: 10, OutputTokens: 20},
	}}
	notifier := &stubNotifier{}
	f := newFixture(t, collector, generator, notifier)

	initial, err := f.runner.Start("digest", agent.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, agent.RunPending, initial.Status)
	assert.Equal(t, agent.TriggerManual, initial.Trigger)

	record := waitTerminal(t, f.store, "digest", initial.RunID)
	assert.Equal(t, agent.RunCompleted, record.Status)
	assert.Empty(t, record.Error)
	require.NotNil(t, record.CompletedAt)
	require.NotNil(t, record.DurationMS)
	require.NotNil(t, record.Output)
	assert.Equal(t, "/agents/digest/runs/"+initial.RunID, record.Output.URL)
	assert.Equal(t, utf8.RuneCountInString(generator.report.Text), record.Output.Chars)
	require.NotNil(t, record.LLM)
	assert.Equal(t, "test-model", record.LLM.Model)
	require.Len(t, record.Sources, 2)
	assert.Equal(t, agent.SourceOK, record.Sources[0].Status)

	// report persisted
	text, err := f.store.Report("digest", initial.RunID)
	require.NoError(t, err)
	assert.Contains(t, text, "report body")

	// source artifacts persisted by declaration index
	for i := range collector.items {
		_, err := os.Stat(filepath.Join(f.store.Root(), "digest", initial.RunID, "sources", fmt.Sprintf("source_%d.md", i)))
		assert.NoError(t, err)
	}

	// notification sent with the report link
	require.Eventually(t, func() bool {
		rec, err := f.store.Get("digest", initial.RunID)
		return err == nil && rec.NotificationSent
	}, 5*time.Second, 10*time.Millisecond)
	msg, _ := notifier.lastMsg.Load().(string)
	assert.Equal(t, "Report ready: http://localhost:8090/agents/digest/runs/"+initial.RunID, msg)
	assert.Equal(t, int32(6), notifier.lastPrio.Load())
}

func TestRunner_UnknownAgent(t *testing.T) {
	f := newFixture(t, &stubCollector{}, &stubGenerator{}, &stubNotifier{})

	_, err := f.runner.Start("ghost", agent.TriggerManual)
	assert.ErrorIs(t, err, ErrUnknownAgent)
	assert.Equal(t, 0, f.store.CountRuns("ghost"))
}

func TestRunner_DisabledAgent(t *testing.T) {
	f := newFixture(t, &stubCollector{}, &stubGenerator{}, &stubNotifier{})

	_, err := f.runner.Start("off", agent.TriggerManual)
	assert.ErrorIs(t, err, ErrAgentDisabled)
	assert.Equal(t, 0, f.store.CountRuns("off"))
}

func TestRunner_AllSourcesFailed(t *testing.T) {
	collector := &stubCollector{items: []collect.Item{
		failedItem("Notes", "unreachable"),
		failedItem("Extra", "also unreachable"),
	}}
	generator := &stubGenerator{report: &report.Report{Text: "never"}}
	notifier := &stubNotifier{}
	f := newFixture(t, collector, generator, notifier)

	initial, err := f.runner.Start("digest", agent.TriggerManual)
	require.NoError(t, err)

	record := waitTerminal(t, f.store, "digest", initial.RunID)
	assert.Equal(t, agent.RunFailed, record.Status)
	assert.Contains(t, record.Error, "no content fetched")
	require.NotNil(t, record.CompletedAt)
	require.NotNil(t, record.DurationMS)
	require.Len(t, record.Sources, 2)
	assert.Equal(t, int32(0), generator.calls.Load(), "generation must be skipped")
	assert.Equal(t, int32(0), notifier.calls.Load())
}

func TestRunner_PartialSourceFailure(t *testing.T) {
	collector := &stubCollector{items: []collect.Item{
		failedItem("Notes", "boom"),
		okItem("Extra", "usable content"),
	}}
	generator := &stubGenerator{report: &report.Report{Text: "body", Usage: agent.LLMUsage{Model: "m"}}}
	f := newFixture(t, collector, generator, &stubNotifier{})

	initial, err := f.runner.Start("digest", agent.TriggerManual)
	require.NoError(t, err)

	record := waitTerminal(t, f.store, "digest", initial.RunID)
	assert.Equal(t, agent.RunCompleted, record.Status)
	assert.Equal(t, agent.SourceFailed, record.Sources[0].Status)
	assert.Equal(t, "boom", record.Sources[0].Error)
	assert.Equal(t, agent.SourceOK, record.Sources[1].Status)
}

func TestRunner_GenerationFailure(t *testing.T) {
	collector := &stubCollector{items: []collect.Item{okItem("Notes", "content")}}
	generator := &stubGenerator{err: &report.GenerationError{Model: "m", Err: errors.New("backend down")}}
	notifier := &stubNotifier{}
	f := newFixture(t, collector, generator, notifier)

	initial, err := f.runner.Start("digest", agent.TriggerManual)
	require.NoError(t, err)

	record := waitTerminal(t, f.store, "digest", initial.RunID)
	assert.Equal(t, agent.RunFailed, record.Status)
	assert.Contains(t, record.Error, "backend down")
	assert.Nil(t, record.Output)
	assert.Equal(t, int32(0), notifier.calls.Load(), "failed runs must not notify")
}

func TestRunner_PanicBecomesFailed(t *testing.T) {
	collector := &stubCollector{items: []collect.Item{okItem("Notes", "content")}}
	generator := &stubGenerator{panics: true}
	f := newFixture(t, collector, generator, &stubNotifier{})

	initial, err := f.runner.Start("digest", agent.TriggerManual)
	require.NoError(t, err)

	record := waitTerminal(t, f.store, "digest", initial.RunID)
	assert.Equal(t, agent.RunFailed, record.Status)
	assert.Contains(t, record.Error, "internal error")
	require.NotNil(t, record.CompletedAt)
}

func TestRunner_NotificationFailureKeepsRunCompleted(t *testing.T) {
	collector := &stubCollector{items: []collect.Item{okItem("Notes", "content")}}
	generator := &stubGenerator{report: &report.Report{Text: "body", Usage: agent.LLMUsage{Model: "m"}}}
	notifier := &stubNotifier{err: errors.New("gotify down")}
	f := newFixture(t, collector, generator, notifier)

	initial, err := f.runner.Start("digest", agent.TriggerManual)
	require.NoError(t, err)

	record := waitTerminal(t, f.store, "digest", initial.RunID)
	assert.Equal(t, agent.RunCompleted, record.Status)

	require.Eventually(t, func() bool {
		return notifier.calls.Load() > 0
	}, 5*time.Second, 10*time.Millisecond)
	// give the notification path a moment to (not) update the record
	time.Sleep(50 * time.Millisecond)
	record, err = f.store.Get("digest", initial.RunID)
	require.NoError(t, err)
	assert.False(t, record.NotificationSent)
	assert.Equal(t, agent.RunCompleted, record.Status)
}

func TestRunner_NotifierPanicKeepsRunCompleted(t *testing.T) {
	collector := &stubCollector{items: []collect.Item{okItem("Notes", "content")}}
	generator := &stubGenerator{report: &report.Report{Text: "body", Usage: agent.LLMUsage{Model: "m"}}}
	notifier := &panickingNotifier{}
	f := newFixture(t, collector, generator, notifier)

	initial, err := f.runner.Start("digest", agent.TriggerManual)
	require.NoError(t, err)

	record := waitTerminal(t, f.store, "digest", initial.RunID)
	assert.Equal(t, agent.RunCompleted, record.Status)

	require.Eventually(t, func() bool {
		return notifier.calls.Load() > 0
	}, 5*time.Second, 10*time.Millisecond)
	// give the recovered notification path a moment to (not) touch the record
	time.Sleep(50 * time.Millisecond)
	record, err = f.store.Get("digest", initial.RunID)
	require.NoError(t, err)
	assert.Equal(t, agent.RunCompleted, record.Status, "a notifier panic must not flip a completed run")
	assert.Empty(t, record.Error)
	assert.False(t, record.NotificationSent)
}

func TestRunner_OutputCharsCountRunes(t *testing.T) {
	text := "# Résumé\n\nnaïve café report"
	collector := &stubCollector{items: []collect.Item{okItem("Notes", "content")}}
	generator := &stubGenerator{report: &report.Report{Text: text, Usage: agent.LLMUsage{Model: "m"}}}
	f := newFixture(t, collector, generator, &stubNotifier{})

	initial, err := f.runner.Start("silent", agent.TriggerManual)
	require.NoError(t, err)

	record := waitTerminal(t, f.store, "silent", initial.RunID)
	require.NotNil(t, record.Output)
	assert.Equal(t, utf8.RuneCountInString(text), record.Output.Chars)
	assert.Less(t, record.Output.Chars, len(text), "multibyte text must be counted in runes, not bytes")
}

func TestRunner_NotificationsSkippedWhenDisabled(t *testing.T) {
	collector := &stubCollector{items: []collect.Item{okItem("Notes", "content")}}
	generator := &stubGenerator{report: &report.Report{Text: "body", Usage: agent.LLMUsage{Model: "m"}}}
	notifier := &stubNotifier{}
	f := newFixture(t, collector, generator, notifier)

	initial, err := f.runner.Start("silent", agent.TriggerScheduled)
	require.NoError(t, err)

	record := waitTerminal(t, f.store, "silent", initial.RunID)
	assert.Equal(t, agent.RunCompleted, record.Status)
	assert.Equal(t, agent.TriggerScheduled, record.Trigger)
	assert.Equal(t, int32(0), notifier.calls.Load())
	assert.False(t, record.NotificationSent)
}
