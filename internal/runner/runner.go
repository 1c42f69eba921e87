// Package runner executes agent runs end to end: collect sources, generate
// the report, persist everything, notify.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"briefer/internal/agent"
	"briefer/internal/async"
	"briefer/internal/collect"
	"briefer/internal/logging"
	"briefer/internal/metrics"
	"briefer/internal/notify"
	"briefer/internal/report"
	"briefer/internal/runstore"
)

// Rejections surfaced to callers before any record is created.
var (
	ErrUnknownAgent  = errors.New("agent not found")
	ErrAgentDisabled = errors.New("agent is disabled")
)

// runTimeout bounds one full run including collection and generation.
const runTimeout = 10 * time.Minute

// Collector resolves an agent's sources into ordered items.
type Collector interface {
	Collect(ctx context.Context, specs []agent.SourceSpec) []collect.Item
}

// Generator produces the report from collected items.
type Generator interface {
	Generate(ctx context.Context, def *agent.Definition, items []collect.Item, runID string) (*report.Report, error)
}

// Runner owns the run lifecycle. Each Start creates exactly one run record
// and that record always reaches a terminal status.
type Runner struct {
	registry  *agent.Registry
	store     *runstore.Store
	collector Collector
	generator Generator
	notifier  notify.Sender
	metrics   *metrics.Metrics
	logger    logging.Logger

	// baseURL prefixes report links in notifications, e.g. http://host:port.
	baseURL string
}

func New(registry *agent.Registry, store *runstore.Store, collector Collector, generator Generator, notifier notify.Sender, m *metrics.Metrics, baseURL string, logger logging.Logger) *Runner {
	return &Runner{
		registry:  registry,
		store:     store,
		collector: collector,
		generator: generator,
		notifier:  notifier,
		metrics:   m,
		baseURL:   baseURL,
		logger:    logging.OrNop(logger),
	}
}

// Start validates the agent, persists the initial pending record, and hands
// execution to a background goroutine. The returned record reflects the run
// at creation time; callers observe progress through the store.
func (r *Runner) Start(agentID string, trigger agent.TriggerType) (*agent.RunRecord, error) {
	def := r.registry.Get(agentID)
	if def == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	if !def.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrAgentDisabled, agentID)
	}

	record, err := r.store.Create(def, trigger)
	if err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}

	r.logger.Info("Starting agent run: %s (%s, %s)", def.Name, record.RunID, trigger)
	async.Go(r.logger, "runner.execute", func() {
		r.execute(def, record.RunID)
	})

	return record, nil
}

// execute drives one run to a terminal state. It never panics outward: the
// recover below converts panics into a failed record so no run is left
// running.
func (r *Runner) execute(def *agent.Definition, runID string) {
	start := time.Now()
	status := agent.RunFailed

	r.metrics.RunStarted()
	defer func() {
		r.metrics.RunFinished(def.ID, string(status), time.Since(start))
	}()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Run %s/%s panicked: %v", def.ID, runID, p)
			r.finishFailed(def.ID, runID, fmt.Sprintf("internal error: %v", p), start)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	if _, err := r.store.Update(def.ID, runID, func(rec *agent.RunRecord) {
		rec.Status = agent.RunRunning
	}); err != nil {
		r.logger.Error("Run %s/%s: cannot mark running: %v", def.ID, runID, err)
		return
	}

	items := r.collector.Collect(ctx, def.Sources)
	r.persistSources(def, runID, items)

	results := make([]agent.SourceResult, len(items))
	totalChars := 0
	for i, item := range items {
		results[i] = item.Result
		if item.Result.Status == agent.SourceOK {
			totalChars += item.Result.Chars
		} else {
			r.metrics.SourceFailed(def.ID, string(item.Result.Type))
		}
	}
	if _, err := r.store.Update(def.ID, runID, func(rec *agent.RunRecord) {
		rec.Sources = results
	}); err != nil {
		r.logger.Error("Run %s/%s: cannot record sources: %v", def.ID, runID, err)
	}

	if totalChars == 0 {
		r.finishFailed(def.ID, runID, "no content fetched from any source", start)
		return
	}

	rep, err := r.generator.Generate(ctx, def, items, runID)
	if err != nil {
		r.finishFailed(def.ID, runID, err.Error(), start)
		return
	}

	path, err := r.store.SaveReport(def.ID, runID, rep.Text)
	if err != nil {
		r.finishFailed(def.ID, runID, fmt.Sprintf("save report: %v", err), start)
		return
	}

	output := &agent.OutputInfo{
		Path:  path,
		URL:   fmt.Sprintf("/agents/%s/runs/%s", def.ID, runID),
		Chars: utf8.RuneCountInString(rep.Text),
	}
	record, err := r.store.Update(def.ID, runID, func(rec *agent.RunRecord) {
		rec.Status = agent.RunCompleted
		rec.LLM = &rep.Usage
		rec.Output = output
		markDone(rec, start)
	})
	if err != nil {
		r.logger.Error("Run %s/%s: cannot mark completed: %v", def.ID, runID, err)
		return
	}
	status = agent.RunCompleted

	r.logger.Info("Agent run completed: %s (%s) in %dms, %d chars",
		def.Name, runID, *record.DurationMS, output.Chars)

	if def.Notify.Enabled {
		// Recovered separately: the run is already completed, so a
		// notifier panic must not reach the run-level recover.
		func() {
			defer async.Recover(r.logger, "runner.notify")
			r.sendNotification(ctx, def, runID, output)
		}()
	}
}

// persistSources writes the raw content of each successful source,
// 0-indexed by declaration position.
func (r *Runner) persistSources(def *agent.Definition, runID string, items []collect.Item) {
	for i, item := range items {
		if item.Result.Status != agent.SourceOK || item.Content == "" {
			continue
		}
		if _, err := r.store.SaveSource(def.ID, runID, i, item.Content); err != nil {
			r.logger.Warn("Run %s/%s: cannot save source %d: %v", def.ID, runID, i, err)
		}
	}
}

// sendNotification is best effort. Failure is logged and counted; the run
// stays completed with notification_sent false.
func (r *Runner) sendNotification(ctx context.Context, def *agent.Definition, runID string, output *agent.OutputInfo) {
	if r.notifier == nil {
		r.logger.Warn("Notifications enabled for %s but no notifier configured", def.ID)
		return
	}
	message := fmt.Sprintf("Report ready: %s%s", r.baseURL, output.URL)
	if err := r.notifier.Send(ctx, def.Notify.Title, message, def.Notify.Priority); err != nil {
		r.logger.Warn("Notification for %s/%s failed: %v", def.ID, runID, err)
		r.metrics.NotificationResult(false)
		return
	}
	if _, err := r.store.Update(def.ID, runID, func(rec *agent.RunRecord) {
		rec.NotificationSent = true
	}); err != nil {
		r.logger.Warn("Run %s/%s: cannot record notification: %v", def.ID, runID, err)
	}
	r.metrics.NotificationResult(true)
}

// finishFailed marks the run failed. A record that already reached a
// terminal status is left untouched.
func (r *Runner) finishFailed(agentID, runID, msg string, start time.Time) {
	applied := false
	if _, err := r.store.Update(agentID, runID, func(rec *agent.RunRecord) {
		if rec.Status.Terminal() {
			return
		}
		applied = true
		rec.Status = agent.RunFailed
		rec.Error = msg
		markDone(rec, start)
	}); err != nil {
		r.logger.Error("Run %s/%s: cannot mark failed: %v", agentID, runID, err)
		return
	}
	if applied {
		r.logger.Error("Agent run failed: %s (%s): %s", agentID, runID, msg)
	}
}

func markDone(rec *agent.RunRecord, start time.Time) {
	now := time.Now().UTC()
	duration := time.Since(start).Milliseconds()
	rec.CompletedAt = &now
	rec.DurationMS = &duration
}
