// Package scheduler fires enabled agents on their cron schedules using
// robfig/cron. The job table mirrors the registry: Reload rebuilds it
// wholesale, so the two never drift apart.
package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"briefer/internal/agent"
	"briefer/internal/async"
	"briefer/internal/logging"
)

// RunStarter is the slice of the runner the scheduler needs.
type RunStarter interface {
	Start(agentID string, trigger agent.TriggerType) (*agent.RunRecord, error)
}

// JobStatus describes one scheduled agent.
type JobStatus struct {
	AgentID  string    `json:"agent_id"`
	Schedule string    `json:"schedule"`
	NextRun  time.Time `json:"next_run"`
}

// Status is the scheduler state exposed over the API.
type Status struct {
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}

// Scheduler registers one cron entry per enabled agent with a schedule.
// Missed fires during downtime are not replayed; an agent waits for its next
// natural tick.
type Scheduler struct {
	cron     *cron.Cron
	registry *agent.Registry
	runner   RunStarter
	logger   logging.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID // agent id -> cron entry
	running bool
}

// New creates a scheduler with the standard 5-field cron parser. Overlapping
// fires of the same agent are skipped, not queued.
func New(registry *agent.Registry, runner RunStarter, logger logging.Logger) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		registry: registry,
		runner:   runner,
		logger:   logging.OrNop(logger),
		entries:  make(map[string]cron.EntryID),
	}
}

// Start builds the job table from the registry and starts the cron loop.
func (s *Scheduler) Start() {
	s.Reload()
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("Scheduler started with %d jobs", s.JobCount())
}

// Stop halts the cron loop and waits for in-flight jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// Reload rebuilds the whole job table from the registry under the lock.
// Calling it twice in a row is a no-op; an agent whose schedule cannot be
// parsed is skipped without affecting the others.
func (s *Scheduler) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entryID := range s.entries {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}

	for _, def := range s.registry.ListEnabled() {
		if def.Schedule == "" {
			continue
		}
		agentID := def.ID
		entryID, err := s.cron.AddFunc(def.Schedule, func() {
			s.fire(agentID)
		})
		if err != nil {
			s.logger.Warn("Scheduler: invalid schedule %q for agent %s: %v", def.Schedule, agentID, err)
			continue
		}
		s.entries[agentID] = entryID
		s.logger.Info("Scheduler: registered agent %s (schedule=%s)", agentID, def.Schedule)
	}
}

// fire hands one scheduled run to the runner. It runs on the cron thread, so
// the handoff goes through a panic-guarded goroutine and returns immediately.
func (s *Scheduler) fire(agentID string) {
	async.Go(s.logger, "scheduler.fire", func() {
		if _, err := s.runner.Start(agentID, agent.TriggerScheduled); err != nil {
			s.logger.Warn("Scheduler: run of %s rejected: %v", agentID, err)
		}
	})
}

// JobCount returns the number of registered jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// NextRuns returns the next fire time per scheduled agent.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]time.Time, len(s.entries))
	for id, entryID := range s.entries {
		entry := s.cron.Entry(entryID)
		if !entry.Next.IsZero() {
			next[id] = entry.Next
		}
	}
	return next
}

// Status reports the scheduler state with jobs sorted by agent id.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]JobStatus, 0, len(s.entries))
	for id, entryID := range s.entries {
		schedule := ""
		if def := s.registry.Get(id); def != nil {
			schedule = def.Schedule
		}
		jobs = append(jobs, JobStatus{
			AgentID:  id,
			Schedule: schedule,
			NextRun:  s.cron.Entry(entryID).Next,
		})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].AgentID < jobs[j].AgentID })

	return Status{Running: s.running, Jobs: jobs}
}
