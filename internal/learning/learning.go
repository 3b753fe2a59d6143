// Package learning accumulates per-task-type outcome statistics used by the
// scheduler for routing, skip decisions, and adaptive cooldowns. All writes
// funnel through a single updater goroutine; readers take copies.
package learning

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/COSD/internal/persistence"
)

const (
	// durationWindow bounds the per-type duration deque used for p80
	durationWindow = 50
	// outcomeWindow bounds the recent outcome history used for cooldowns
	outcomeWindow = 10
	// skipMinCompleted and skipMaxSuccessRate define the circuit breaker
	skipMinCompleted   = 5
	skipMaxSuccessRate = 0.30
	// p80MinSamples is the floor below which p80 falls back to the mean
	p80MinSamples = 5

	updateQueueSize = 256
	saveDebounce    = 1 * time.Second
)

// TierStats tracks outcomes for one model tier within a task type
type TierStats struct {
	Attempts  int `json:"attempts"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Record is the learned profile of one task type
type Record struct {
	Attempts        int                   `json:"attempts"`
	Completed       int                   `json:"completed"`
	Failed          int                   `json:"failed"`
	AvgDurationMs   int64                 `json:"avgDurationMs"`
	P80DurationMs   int64                 `json:"p80DurationMs"`
	Durations       []int64               `json:"durations"`
	ErrorCategories map[string]int        `json:"errorCategories,omitempty"`
	ModelTierStats  map[string]*TierStats `json:"modelTierStats,omitempty"`
	RecentOutcomes  []bool                `json:"recentOutcomes,omitempty"`
}

// SuccessRate returns completed / (completed + failed), or 0 with no outcomes
func (r *Record) SuccessRate() float64 {
	total := r.Completed + r.Failed
	if total == 0 {
		return 0
	}
	return float64(r.Completed) / float64(total)
}

// Outcome describes one finished agent run for OnComplete
type Outcome struct {
	Success       bool
	DurationMs    int64
	ErrorCategory string
	ModelTier     string
}

// Stats is the read-side copy of a record
type Stats struct {
	TaskType      string  `json:"taskType"`
	Attempts      int     `json:"attempts"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	SuccessRate   float64 `json:"successRate"`
	AvgDurationMs int64   `json:"avgDurationMs"`
	P80DurationMs int64   `json:"p80DurationMs"`
}

// Store owns all learning records
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
	path    string

	updates   chan func()
	saveTimer *time.Timer
}

// NewStore loads learning.json from path (an empty store if absent)
func NewStore(path string) *Store {
	s := &Store{
		records: make(map[string]*Record),
		path:    path,
		updates: make(chan func(), updateQueueSize),
	}
	persistence.ReadJSON(path, &s.records)
	return s
}

// Run drains the update queue until ctx is cancelled, then flushes to disk
func (s *Store) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return
		case fn := <-s.updates:
			fn()
		}
	}
}

// OnAttempt records that an agent was launched for a task type
func (s *Store) OnAttempt(taskType, model, modelTier string) {
	s.enqueue(func() { s.applyAttempt(taskType, modelTier) })
}

// OnComplete records a finished run asynchronously
func (s *Store) OnComplete(taskType string, outcome Outcome) {
	s.enqueue(func() { s.applyComplete(taskType, outcome) })
}

// OnCompleteSync records a finished run and returns only after the update is
// applied. The supervisor uses this so stats are current before it publishes
// agent:completed.
func (s *Store) OnCompleteSync(taskType string, outcome Outcome) {
	s.applyComplete(taskType, outcome)
}

// OnAttemptSync is the synchronous form of OnAttempt
func (s *Store) OnAttemptSync(taskType, model, modelTier string) {
	s.applyAttempt(taskType, modelTier)
}

func (s *Store) enqueue(fn func()) {
	select {
	case s.updates <- fn:
	default:
		// Queue full; apply inline rather than losing the update
		log.Printf("[LEARNING] Update queue full, applying inline")
		fn()
	}
}

func (s *Store) applyAttempt(taskType, modelTier string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.record(taskType)
	r.Attempts++
	if modelTier != "" {
		s.tier(r, modelTier).Attempts++
	}
	s.scheduleSave()
}

func (s *Store) applyComplete(taskType string, outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.record(taskType)
	if outcome.Success {
		r.Completed++
	} else {
		r.Failed++
		if outcome.ErrorCategory != "" {
			if r.ErrorCategories == nil {
				r.ErrorCategories = make(map[string]int)
			}
			r.ErrorCategories[outcome.ErrorCategory]++
		}
	}
	if outcome.ModelTier != "" {
		t := s.tier(r, outcome.ModelTier)
		if outcome.Success {
			t.Completed++
		} else {
			t.Failed++
		}
	}

	r.Durations = append(r.Durations, outcome.DurationMs)
	if len(r.Durations) > durationWindow {
		r.Durations = r.Durations[len(r.Durations)-durationWindow:]
	}
	r.AvgDurationMs = mean(r.Durations)
	r.P80DurationMs = p80(r.Durations)

	r.RecentOutcomes = append(r.RecentOutcomes, outcome.Success)
	if len(r.RecentOutcomes) > outcomeWindow {
		r.RecentOutcomes = r.RecentOutcomes[len(r.RecentOutcomes)-outcomeWindow:]
	}

	s.scheduleSave()
}

// record returns the record for a type, creating it if needed. Caller holds s.mu.
func (s *Store) record(taskType string) *Record {
	r, ok := s.records[taskType]
	if !ok {
		r = &Record{}
		s.records[taskType] = r
	}
	return r
}

func (s *Store) tier(r *Record, modelTier string) *TierStats {
	if r.ModelTierStats == nil {
		r.ModelTierStats = make(map[string]*TierStats)
	}
	t, ok := r.ModelTierStats[modelTier]
	if !ok {
		t = &TierStats{}
		r.ModelTierStats[modelTier] = t
	}
	return t
}

// GetStats returns a copy of the stats for one task type
func (s *Store) GetStats(taskType string) (Stats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[taskType]
	if !ok {
		return Stats{TaskType: taskType}, false
	}
	return Stats{
		TaskType:      taskType,
		Attempts:      r.Attempts,
		Completed:     r.Completed,
		Failed:        r.Failed,
		SuccessRate:   r.SuccessRate(),
		AvgDurationMs: r.AvgDurationMs,
		P80DurationMs: r.P80DurationMs,
	}, true
}

// GetAllStats returns stats for every known task type
func (s *Store) GetAllStats() []Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Stats, 0, len(s.records))
	for taskType, r := range s.records {
		out = append(out, Stats{
			TaskType:      taskType,
			Attempts:      r.Attempts,
			Completed:     r.Completed,
			Failed:        r.Failed,
			SuccessRate:   r.SuccessRate(),
			AvgDurationMs: r.AvgDurationMs,
			P80DurationMs: r.P80DurationMs,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskType < out[j].TaskType })
	return out
}

// GetAllDurations returns the duration windows per task type
func (s *Store) GetAllDurations() map[string][]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]int64, len(s.records))
	for taskType, r := range s.records {
		out[taskType] = append([]int64(nil), r.Durations...)
	}
	return out
}

// GetSkipped returns task types the scheduler should not attempt: enough
// history to judge, and a success rate below the cutoff
func (s *Store) GetSkipped() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var skipped []string
	for taskType, r := range s.records {
		if r.Completed+r.Failed >= skipMinCompleted && r.SuccessRate() < skipMaxSuccessRate {
			skipped = append(skipped, taskType)
		}
	}
	sort.Strings(skipped)
	return skipped
}

// GetAdaptiveCooldown returns a multiplier in [1, 8] that grows with the
// failure density of the most recent outcomes for a task type
func (s *Store) GetAdaptiveCooldown(taskType string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[taskType]
	if !ok || len(r.RecentOutcomes) == 0 {
		return 1
	}

	failures := 0
	for _, success := range r.RecentOutcomes {
		if !success {
			failures++
		}
	}
	density := float64(failures) / float64(len(r.RecentOutcomes))

	multiplier := 1 + density*7
	if multiplier < 1 {
		multiplier = 1
	}
	if multiplier > 8 {
		multiplier = 8
	}
	return multiplier
}

// scheduleSave debounces disk writes across bursts of updates.
// Caller holds s.mu.
func (s *Store) scheduleSave() {
	if s.path == "" {
		return
	}
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveTimer = time.AfterFunc(saveDebounce, func() {
		s.Flush()
	})
}

// Flush writes the current records to disk immediately
func (s *Store) Flush() {
	if s.path == "" {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := persistence.WriteJSON(s.path, s.records); err != nil {
		log.Printf("[LEARNING] Save failed: %v", err)
	}
}

func mean(durations []int64) int64 {
	if len(durations) == 0 {
		return 0
	}
	var sum int64
	for _, d := range durations {
		sum += d
	}
	return sum / int64(len(durations))
}

// p80 is the 80th percentile over a sorted copy. With few samples the
// percentile is noise, so it falls back to the mean.
func p80(durations []int64) int64 {
	if len(durations) < p80MinSamples {
		return mean(durations)
	}
	sorted := append([]int64(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := (len(sorted)*4 + 4) / 5 // ceil(0.8*n)
	return sorted[idx-1]
}
