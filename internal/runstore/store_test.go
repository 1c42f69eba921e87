package runstore

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"briefer/internal/agent"
	"briefer/internal/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), logging.Nop())
	require.NoError(t, err)
	return store
}

func testDef() *agent.Definition {
	return &agent.Definition{ID: "tech-news", Name: "Tech News", Prompt: "p"}
}

func TestStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)

	record, err := store.Create(testDef(), agent.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, agent.RunPending, record.Status)
	assert.Equal(t, "tech-news", record.AgentID)
	assert.NotEmpty(t, record.RunID)

	loaded, err := store.Get("tech-news", record.RunID)
	require.NoError(t, err)
	assert.Equal(t, record.RunID, loaded.RunID)
	assert.Equal(t, agent.TriggerManual, loaded.Trigger)
	assert.False(t, loaded.NotificationSent)
}

func TestStore_Update(t *testing.T) {
	store := newTestStore(t)
	record, err := store.Create(testDef(), agent.TriggerScheduled)
	require.NoError(t, err)

	updated, err := store.Update("tech-news", record.RunID, func(r *agent.RunRecord) {
		r.Status = agent.RunRunning
	})
	require.NoError(t, err)
	assert.Equal(t, agent.RunRunning, updated.Status)

	loaded, err := store.Get("tech-news", record.RunID)
	require.NoError(t, err)
	assert.Equal(t, agent.RunRunning, loaded.Status)

	// No stray temp files after the atomic write.
	entries, err := os.ReadDir(filepath.Join(store.root, "tech-news", record.RunID))
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasSuffix(entry.Name(), ".tmp"), "leftover temp file %s", entry.Name())
	}
}

func TestStore_UpdateMissingRun(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Update("tech-news", "nope", func(r *agent.RunRecord) {})
	assert.Error(t, err)
}

func TestStore_Artifacts(t *testing.T) {
	store := newTestStore(t)
	record, err := store.Create(testDef(), agent.TriggerManual)
	require.NoError(t, err)

	srcPath, err := store.SaveSource("tech-news", record.RunID, 1, "raw source")
	require.NoError(t, err)
	assert.Contains(t, srcPath, filepath.Join("sources", "source_1.md"))

	_, err = store.SaveReport("tech-news", record.RunID, "# Report\n\nbody")
	require.NoError(t, err)

	text, err := store.Report("tech-news", record.RunID)
	require.NoError(t, err)
	assert.Contains(t, text, "# Report")
}

func TestStore_ConcurrentCreatesAreDistinct(t *testing.T) {
	store := newTestStore(t)

	const n = 20
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			record, err := store.Create(testDef(), agent.TriggerManual)
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			ids[i] = record.RunID
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, id := range ids {
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate run id %s", id)
		seen[id] = true
	}
	assert.Equal(t, n, store.CountRuns("tech-news"))
}

func TestStore_ListNewestFirstWithPaging(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		_, err := store.Create(testDef(), agent.TriggerScheduled)
		require.NoError(t, err)
	}

	all, err := store.List("tech-news", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].RunID, all[i].RunID, "not newest-first")
	}

	page, err := store.List("tech-news", 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, all[1].RunID, page[0].RunID)
	assert.Equal(t, all[2].RunID, page[1].RunID)

	past, err := store.List("tech-news", 10, 99)
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestStore_ListUnknownAgent(t *testing.T) {
	store := newTestStore(t)
	runs, err := store.List("ghost", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Equal(t, 0, store.CountRuns("ghost"))
}

func TestStore_AgentStats(t *testing.T) {
	store := newTestStore(t)
	assert.Equal(t, Stats{}, store.AgentStats("tech-news"))

	first, err := store.Create(testDef(), agent.TriggerManual)
	require.NoError(t, err)
	_, err = store.Update("tech-news", first.RunID, func(r *agent.RunRecord) {
		r.Status = agent.RunFailed
		r.Error = "boom"
		now := time.Now().UTC()
		r.CompletedAt = &now
	})
	require.NoError(t, err)

	stats := store.AgentStats("tech-news")
	assert.Equal(t, 1, stats.TotalRuns)
	require.NotNil(t, stats.LastRun)
	assert.Equal(t, agent.RunFailed, stats.LastStatus)
}
