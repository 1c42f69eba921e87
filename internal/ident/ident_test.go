package ident

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNewRunID_Unique(t *testing.T) {
	const n = 200
	var mu sync.Mutex
	seen := make(map[string]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := NewRunID()
			mu.Lock()
			defer mu.Unlock()
			if seen[id] {
				t.Errorf("duplicate run id %q", id)
			}
			seen[id] = true
		}()
	}
	wg.Wait()
}

func TestNewRunID_UniqueWithinOneSecond(t *testing.T) {
	// A tight loop produces thousands of ids sharing the same timestamp
	// prefix; every one must still be distinct.
	const n = 5000
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		id := NewRunID()
		if seen[id] {
			t.Fatalf("duplicate run id %q after %d ids", id, i)
		}
		seen[id] = true
	}
}

func TestNewRunID_Sortable(t *testing.T) {
	first := NewRunID()
	time.Sleep(1100 * time.Millisecond)
	second := NewRunID()

	ids := []string{second, first}
	sort.Strings(ids)
	if ids[0] != first {
		t.Errorf("run ids not chronologically sortable: %v", ids)
	}
}

func TestNewRunID_SafeSegment(t *testing.T) {
	id := NewRunID()
	if !IsSafeSegment(id) {
		t.Errorf("run id %q is not a safe path segment", id)
	}
	if !strings.Contains(id, "_") {
		t.Errorf("run id %q missing timestamp separator", id)
	}
}

func TestIsSafeSegment(t *testing.T) {
	valid := []string{"tech-news", "agent_1", "a", "Run.2026", "20260101_000000_abcd1234"}
	for _, s := range valid {
		if !IsSafeSegment(s) {
			t.Errorf("IsSafeSegment(%q) = false, want true", s)
		}
	}

	invalid := []string{"", ".", "..", ".hidden", "a/b", `a\b`, "-dash", "../../etc/passwd", strings.Repeat("x", 200)}
	for _, s := range invalid {
		if IsSafeSegment(s) {
			t.Errorf("IsSafeSegment(%q) = true, want false", s)
		}
	}
}
