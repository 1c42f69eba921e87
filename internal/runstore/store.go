// Package runstore persists run metadata and artifacts as a plain file tree:
//
//	<root>/<agent_id>/<run_id>/meta.json
//	<root>/<agent_id>/<run_id>/sources/source_N.md
//	<root>/<agent_id>/<run_id>/report.md
//
// Run ids sort lexicographically by start time, so directory listings double
// as the run index. Nothing is ever evicted.
package runstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"briefer/internal/agent"
	"briefer/internal/ident"
	"briefer/internal/logging"
)

// Store reads and writes the run tree under a single root directory.
type Store struct {
	root   string
	logger logging.Logger

	// mu serializes meta read-modify-write cycles.
	mu sync.Mutex
}

// NewStore creates the root directory if needed.
func NewStore(root string, logger logging.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create run store root: %w", err)
	}
	return &Store{root: root, logger: logging.OrNop(logger)}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) runDir(agentID, runID string) string {
	return filepath.Join(s.root, agentID, runID)
}

// Create allocates a fresh run id and persists the initial pending record.
// The record is durable on disk before Create returns.
func (s *Store) Create(def *agent.Definition, trigger agent.TriggerType) (*agent.RunRecord, error) {
	record := &agent.RunRecord{
		RunID:     ident.NewRunID(),
		AgentID:   def.ID,
		AgentName: def.Name,
		Trigger:   trigger,
		Status:    agent.RunPending,
		StartedAt: time.Now().UTC(),
		Sources:   []agent.SourceResult{},
	}

	if err := os.MkdirAll(filepath.Join(s.root, record.AgentID), 0o755); err != nil {
		return nil, fmt.Errorf("create agent dir: %w", err)
	}
	// Mkdir, not MkdirAll: a second run claiming the same id must fail
	// rather than share the record.
	dir := s.runDir(record.AgentID, record.RunID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	if err := s.writeMeta(record); err != nil {
		return nil, err
	}
	return record, nil
}

// Update applies mutate to the stored record and persists the result
// atomically. It returns the updated record.
func (s *Store) Update(agentID, runID string, mutate func(*agent.RunRecord)) (*agent.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.readMeta(agentID, runID)
	if err != nil {
		return nil, err
	}
	mutate(record)
	if err := s.writeMeta(record); err != nil {
		return nil, err
	}
	return record, nil
}

// Get loads one run record.
func (s *Store) Get(agentID, runID string) (*agent.RunRecord, error) {
	return s.readMeta(agentID, runID)
}

// Report loads the persisted report markdown for a run.
func (s *Store) Report(agentID, runID string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.runDir(agentID, runID), "report.md"))
	if err != nil {
		return "", fmt.Errorf("read report: %w", err)
	}
	return string(data), nil
}

// SaveReport writes the report markdown and returns its path.
func (s *Store) SaveReport(agentID, runID, content string) (string, error) {
	path := filepath.Join(s.runDir(agentID, runID), "report.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	return path, nil
}

// SaveSource writes the raw content of one source, 0-indexed by declaration
// position.
func (s *Store) SaveSource(agentID, runID string, index int, content string) (string, error) {
	dir := filepath.Join(s.runDir(agentID, runID), "sources")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create sources dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("source_%d.md", index))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("save source: %w", err)
	}
	return path, nil
}

// List returns run summaries for an agent, newest first. An agent with no
// runs yields an empty slice.
func (s *Store) List(agentID string, limit, offset int) ([]agent.RunSummary, error) {
	ids, err := s.runIDs(agentID)
	if err != nil {
		return nil, err
	}

	if offset > len(ids) {
		offset = len(ids)
	}
	end := offset + limit
	if limit <= 0 || end > len(ids) {
		end = len(ids)
	}

	summaries := make([]agent.RunSummary, 0, end-offset)
	for _, runID := range ids[offset:end] {
		record, err := s.readMeta(agentID, runID)
		if err != nil {
			s.logger.Warn("Skipping unreadable run %s/%s: %v", agentID, runID, err)
			continue
		}
		summaries = append(summaries, summarize(record))
	}
	return summaries, nil
}

// CountRuns returns the total number of recorded runs for an agent.
func (s *Store) CountRuns(agentID string) int {
	ids, err := s.runIDs(agentID)
	if err != nil {
		return 0
	}
	return len(ids)
}

// Stats is the aggregate run state for one agent, computed by re-scanning
// the tree.
type Stats struct {
	TotalRuns  int
	LastRun    *time.Time
	LastStatus agent.RunStatus
}

// AgentStats scans an agent's run directory and aggregates it.
func (s *Store) AgentStats(agentID string) Stats {
	ids, err := s.runIDs(agentID)
	if err != nil || len(ids) == 0 {
		return Stats{}
	}

	stats := Stats{TotalRuns: len(ids)}
	if record, err := s.readMeta(agentID, ids[0]); err == nil {
		started := record.StartedAt
		stats.LastRun = &started
		stats.LastStatus = record.Status
	}
	return stats
}

// runIDs lists an agent's run directories, newest first.
func (s *Store) runIDs(agentID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, agentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan agent dir: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

func (s *Store) readMeta(agentID, runID string) (*agent.RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.runDir(agentID, runID), "meta.json"))
	if err != nil {
		return nil, fmt.Errorf("read run meta: %w", err)
	}
	var record agent.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse run meta: %w", err)
	}
	return &record, nil
}

// writeMeta persists the record via a temp file and rename, so readers never
// observe a half-written meta.json.
func (s *Store) writeMeta(record *agent.RunRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run meta: %w", err)
	}

	dir := s.runDir(record.AgentID, record.RunID)
	tmp, err := os.CreateTemp(dir, "meta-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp meta: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp meta: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp meta: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, "meta.json")); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace meta: %w", err)
	}
	return nil
}

func summarize(record *agent.RunRecord) agent.RunSummary {
	outputChars := 0
	if record.Output != nil {
		outputChars = record.Output.Chars
	}
	return agent.RunSummary{
		RunID:       record.RunID,
		AgentID:     record.AgentID,
		Trigger:     record.Trigger,
		Status:      record.Status,
		StartedAt:   record.StartedAt,
		CompletedAt: record.CompletedAt,
		DurationMS:  record.DurationMS,
		SourceCount: len(record.Sources),
		OutputChars: outputChars,
		Error:       record.Error,
	}
}
