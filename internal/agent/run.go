package agent

import "time"

// TriggerType records how a run was started.
type TriggerType string

const (
	TriggerScheduled TriggerType = "scheduled"
	TriggerManual    TriggerType = "manual"
)

// RunStatus is the lifecycle state of a run.
//
// pending -> running -> {completed, failed}. A record is only ever mutated
// by the runner invocation that created it.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// SourceStatus is the per-source outcome within a run.
type SourceStatus string

const (
	SourceOK     SourceStatus = "ok"
	SourceFailed SourceStatus = "failed"
)

// SourceResult records the outcome of resolving one declared source. Raw
// content is stored as a separate artifact, not embedded here.
type SourceResult struct {
	Label     string       `json:"label"`
	Type      SourceType   `json:"type"`
	Status    SourceStatus `json:"status"`
	Chars     int          `json:"chars"`
	Error     string       `json:"error,omitempty"`
	FetchedAt time.Time    `json:"fetched_at"`
}

// LLMUsage is the token accounting reported by the inference backend.
type LLMUsage struct {
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// OutputInfo describes the persisted report artifact.
type OutputInfo struct {
	Path  string `json:"path"`
	URL   string `json:"url,omitempty"`
	Chars int    `json:"chars"`
}

// RunRecord is the durable metadata for one agent run.
//
// Invariants: a completed run has Output set and Error empty; a failed run
// has Error set. Records are never deleted automatically.
type RunRecord struct {
	RunID            string         `json:"run_id"`
	AgentID          string         `json:"agent_id"`
	AgentName        string         `json:"agent_name"`
	Trigger          TriggerType    `json:"trigger"`
	Status           RunStatus      `json:"status"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	DurationMS       *int64         `json:"duration_ms,omitempty"`
	Sources          []SourceResult `json:"sources"`
	LLM              *LLMUsage      `json:"llm,omitempty"`
	Output           *OutputInfo    `json:"output,omitempty"`
	NotificationSent bool           `json:"notification_sent"`
	Error            string         `json:"error,omitempty"`
}

// RunSummary is the trimmed run view used by history listings.
type RunSummary struct {
	RunID       string      `json:"run_id"`
	AgentID     string      `json:"agent_id"`
	Trigger     TriggerType `json:"trigger"`
	Status      RunStatus   `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	DurationMS  *int64      `json:"duration_ms,omitempty"`
	SourceCount int         `json:"source_count"`
	OutputChars int         `json:"output_chars"`
	Error       string      `json:"error,omitempty"`
}

// Info is an agent listing entry combining static config with aggregate run
// state for dashboard views.
type Info struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Enabled     bool       `json:"enabled"`
	Schedule    string     `json:"schedule,omitempty"`
	SourceCount int        `json:"source_count"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	LastStatus  RunStatus  `json:"last_status,omitempty"`
	TotalRuns   int        `json:"total_runs"`
}
