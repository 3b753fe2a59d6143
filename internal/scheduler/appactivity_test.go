package scheduler

import (
	"path/filepath"
	"testing"
	"time"
)

func TestActivityCooldownPolicy(t *testing.T) {
	store := NewActivityStore(filepath.Join(t.TempDir(), "app-activity.json"))
	now := time.Now()

	if store.InCooldown("billing", now) {
		t.Error("unknown app should not be in cooldown")
	}

	store.RecordResult("billing", false, 5*time.Minute, 2, now)
	if !store.InCooldown("billing", now.Add(9*time.Minute)) {
		t.Error("cooldown should scale with the multiplier")
	}
	if store.InCooldown("billing", now.Add(11*time.Minute)) {
		t.Error("cooldown should expire")
	}

	store.RecordResult("billing", true, 5*time.Minute, 2, now)
	if store.InCooldown("billing", now) {
		t.Error("success should clear the cooldown")
	}
}

func TestActivityAttemptsAndPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app-activity.json")
	now := time.Now()

	store := NewActivityStore(path)
	store.RecordAttempt("billing", now)
	store.RecordAttempt("billing", now)
	store.RecordResult("billing", true, time.Minute, 1, now)

	reloaded := NewActivityStore(path)
	a, ok := reloaded.Get("billing")
	if !ok {
		t.Fatal("app missing after reload")
	}
	if a.Attempts != 2 || a.Successes != 1 {
		t.Errorf("counters: %+v", a)
	}
}

func TestActivityIgnoresEmptyApp(t *testing.T) {
	store := NewActivityStore("")
	store.RecordAttempt("", time.Now())
	store.RecordResult("", false, time.Minute, 1, time.Now())
	if store.InCooldown("", time.Now()) {
		t.Error("tasks without an app never cool down")
	}
}

func TestActivityMinimumMultiplier(t *testing.T) {
	store := NewActivityStore("")
	now := time.Now()

	// A multiplier below 1 must not shorten the base cooldown
	store.RecordResult("billing", false, 10*time.Minute, 0.5, now)
	if !store.InCooldown("billing", now.Add(9*time.Minute)) {
		t.Error("base cooldown should be the floor")
	}
}
