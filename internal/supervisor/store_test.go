package supervisor

import (
	"testing"
	"time"

	"github.com/COSD/internal/coserr"
	"github.com/COSD/internal/types"
)

func newRecordStore(t *testing.T) *RecordStore {
	t.Helper()
	store, err := NewRecordStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewRecordStore: %v", err)
	}
	return store
}

func completedAgent(id string, at time.Time, success bool) *types.Agent {
	return &types.Agent{
		ID:          id,
		TaskID:      "t-" + id,
		Status:      types.StatusCompleted,
		StartedAt:   at.Add(-time.Minute),
		CompletedAt: &at,
		Result:      &types.AgentResult{Success: success, DurationMs: 60_000},
	}
}

func TestLiveRoundTrip(t *testing.T) {
	store := newRecordStore(t)

	agents := []*types.Agent{
		{ID: "agent-2", Status: types.StatusRunning, PID: 123},
		{ID: "agent-1", Status: types.StatusInitializing},
	}
	if err := store.SaveLive(agents); err != nil {
		t.Fatalf("SaveLive: %v", err)
	}

	loaded := store.LoadLive()
	if len(loaded) != 2 {
		t.Fatalf("expected 2 live agents, got %d", len(loaded))
	}
	if loaded[0].ID != "agent-1" {
		t.Error("live agents should be sorted by id")
	}
}

func TestArchiveShardsByDay(t *testing.T) {
	store := newRecordStore(t)

	day1 := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)
	store.Archive(completedAgent("a1", day1, true))
	store.Archive(completedAgent("a2", day1, false))
	store.Archive(completedAgent("a3", day2, true))

	if got := len(store.LoadDay(day1)); got != 2 {
		t.Errorf("day1 shard: got %d agents, want 2", got)
	}
	if got := len(store.LoadDay(day2)); got != 1 {
		t.Errorf("day2 shard: got %d agents, want 1", got)
	}

	recent := store.LoadRecent(2)
	if len(recent) != 2 || recent[0].ID != "a3" {
		t.Errorf("LoadRecent should return newest first, got %v", recent[0].ID)
	}
}

func TestDeleteCompleted(t *testing.T) {
	store := newRecordStore(t)
	day := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	store.Archive(completedAgent("a1", day, true))
	store.Archive(completedAgent("a2", day, true))

	if err := store.DeleteCompleted("a1"); err != nil {
		t.Fatalf("DeleteCompleted: %v", err)
	}
	if got := len(store.LoadDay(day)); got != 1 {
		t.Errorf("shard should have 1 agent left, got %d", got)
	}
	if err := store.DeleteCompleted("ghost"); !coserr.Is(err, coserr.KindNotFound) {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestClearCompleted(t *testing.T) {
	store := newRecordStore(t)
	day := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	store.Archive(completedAgent("a1", day, true))
	store.Archive(completedAgent("a2", day.AddDate(0, 0, 1), false))

	removed, err := store.ClearCompleted()
	if err != nil {
		t.Fatalf("ClearCompleted: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed: got %d, want 2", removed)
	}
	if len(store.LoadRecent(0)) != 0 {
		t.Error("archive should be empty")
	}
}

func TestStats(t *testing.T) {
	store := newRecordStore(t)
	day := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	store.Archive(completedAgent("a1", day, true))
	store.Archive(completedAgent("a2", day, true))
	store.Archive(completedAgent("a3", day, false))

	stats := store.Stats(2)
	if stats.Active != 2 || stats.Completed != 3 || stats.Total != 5 {
		t.Errorf("counts wrong: %+v", stats)
	}
	if stats.Succeeded != 2 || stats.Failed != 1 {
		t.Errorf("outcomes wrong: %+v", stats)
	}
	if stats.SuccessRate < 0.66 || stats.SuccessRate > 0.67 {
		t.Errorf("success rate: got %f", stats.SuccessRate)
	}
}
