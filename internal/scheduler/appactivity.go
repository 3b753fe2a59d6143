package scheduler

import (
	"log"
	"sync"
	"time"

	"github.com/COSD/internal/persistence"
)

// AppActivity is the per-app throttle state. Failures push the app into a
// cooldown so one broken repository does not eat every scheduler tick.
type AppActivity struct {
	LastReviewAt  time.Time `json:"lastReviewAt"`
	CooldownUntil time.Time `json:"cooldownUntil"`
	Attempts      int       `json:"attempts"`
	Successes     int       `json:"successes"`
}

// ActivityStore persists per-app activity to app-activity.json
type ActivityStore struct {
	mu   sync.Mutex
	apps map[string]*AppActivity
	path string
}

// NewActivityStore loads the store from path (empty if absent)
func NewActivityStore(path string) *ActivityStore {
	s := &ActivityStore{
		apps: make(map[string]*AppActivity),
		path: path,
	}
	persistence.ReadJSON(path, &s.apps)
	if s.apps == nil {
		s.apps = make(map[string]*AppActivity)
	}
	return s
}

// Get returns a copy of one app's state
func (s *ActivityStore) Get(app string) (AppActivity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.apps[app]
	if !ok {
		return AppActivity{}, false
	}
	return *a, true
}

// InCooldown reports whether the app should not be scheduled yet
func (s *ActivityStore) InCooldown(app string, now time.Time) bool {
	if app == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.apps[app]
	return ok && now.Before(a.CooldownUntil)
}

// RecordAttempt notes that an agent was launched against the app
func (s *ActivityStore) RecordAttempt(app string, now time.Time) {
	if app == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.app(app)
	a.Attempts++
	a.LastReviewAt = now
	s.saveLocked()
}

// RecordResult applies the cooldown policy: a failure sets
// cooldownUntil = now + base * multiplier, a success clears the cooldown
func (s *ActivityStore) RecordResult(app string, success bool, base time.Duration, multiplier float64, now time.Time) {
	if app == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.app(app)
	if success {
		a.Successes++
		a.CooldownUntil = time.Time{}
	} else {
		if multiplier < 1 {
			multiplier = 1
		}
		a.CooldownUntil = now.Add(time.Duration(float64(base) * multiplier))
	}
	s.saveLocked()
}

// app returns the record for an app, creating it if needed. Caller holds s.mu.
func (s *ActivityStore) app(name string) *AppActivity {
	a, ok := s.apps[name]
	if !ok {
		a = &AppActivity{}
		s.apps[name] = a
	}
	return a
}

// saveLocked writes the store through. Caller holds s.mu.
func (s *ActivityStore) saveLocked() {
	if s.path == "" {
		return
	}
	if err := persistence.WriteJSON(s.path, s.apps); err != nil {
		log.Printf("[SCHEDULER] Saving app activity failed: %v", err)
	}
}
