// Package productivity tracks completion streaks and time-of-day patterns
// across finished agents. Like the learning store it is a serial updater:
// one owner applies mutations, readers get copies.
package productivity

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/COSD/internal/persistence"
	"github.com/COSD/internal/types"
)

const (
	historyRetentionDays = 90
	insightMinSamples    = 5
	trendWindowDays      = 7
	trendStableBand      = 0.10

	updateQueueSize = 256
	saveDebounce    = 1 * time.Second
)

// Bucket aggregates outcomes for one hour-of-day or day-of-week slot
type Bucket struct {
	Tasks           int   `json:"tasks"`
	Successes       int   `json:"successes"`
	Failures        int   `json:"failures"`
	TotalDurationMs int64 `json:"totalDurationMs"`
}

// AvgDurationMs returns the mean duration for the bucket
func (b *Bucket) AvgDurationMs() int64 {
	if b.Tasks == 0 {
		return 0
	}
	return b.TotalDurationMs / int64(b.Tasks)
}

// SuccessRate returns successes / tasks
func (b *Bucket) SuccessRate() float64 {
	if b.Tasks == 0 {
		return 0
	}
	return float64(b.Successes) / float64(b.Tasks)
}

// Streaks tracks consecutive active days and ISO weeks
type Streaks struct {
	CurrentDaily   int    `json:"currentDaily"`
	LongestDaily   int    `json:"longestDaily"`
	CurrentWeekly  int    `json:"currentWeekly"`
	LongestWeekly  int    `json:"longestWeekly"`
	LastActiveDate string `json:"lastActiveDate,omitempty"` // YYYY-MM-DD
	LastActiveWeek string `json:"lastActiveWeek,omitempty"` // YYYY-Wnn
}

// DayRecord is one entry in the bounded daily history
type DayRecord struct {
	Tasks           int   `json:"tasks"`
	Successes       int   `json:"successes"`
	Failures        int   `json:"failures"`
	TotalDurationMs int64 `json:"totalDurationMs"`
}

// state is the persisted shape of productivity.json
type state struct {
	Streaks        Streaks               `json:"streaks"`
	HourlyPatterns [24]Bucket            `json:"hourlyPatterns"`
	DailyPatterns  [7]Bucket             `json:"dailyPatterns"`
	DailyHistory   map[string]*DayRecord `json:"dailyHistory"`
}

// MilestoneFunc is invoked when a notable streak length is reached
type MilestoneFunc func(kind string, length int)

// Store owns the productivity state
type Store struct {
	mu    sync.RWMutex
	state state
	path  string

	updates   chan func()
	saveTimer *time.Timer

	// OnMilestone, if set, fires on daily streaks of 3, 7, 14, 30, ...
	OnMilestone MilestoneFunc
}

var streakMilestones = []int{3, 7, 14, 30, 60, 100}

// NewStore loads productivity.json from path (empty state if absent)
func NewStore(path string) *Store {
	s := &Store{
		path:    path,
		updates: make(chan func(), updateQueueSize),
	}
	s.state.DailyHistory = make(map[string]*DayRecord)
	persistence.ReadJSON(path, &s.state)
	if s.state.DailyHistory == nil {
		s.state.DailyHistory = make(map[string]*DayRecord)
	}
	return s
}

// Run drains the update queue until ctx is cancelled, then flushes
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

// OnTaskCompleted records a finished agent asynchronously
func (s *Store) OnTaskCompleted(agent *types.Agent) {
	select {
	case s.updates <- func() { s.apply(agent) }:
	default:
		log.Printf("[PRODUCTIVITY] Update queue full, applying inline")
		s.apply(agent)
	}
}

// OnTaskCompletedSync records a finished agent and returns after the update
// is applied, so agent:completed subscribers see current numbers
func (s *Store) OnTaskCompletedSync(agent *types.Agent) {
	s.apply(agent)
}

func (s *Store) apply(agent *types.Agent) {
	if agent == nil || agent.CompletedAt == nil {
		return
	}
	completedAt := *agent.CompletedAt
	success := agent.Result != nil && agent.Result.Success
	var duration int64
	if agent.Result != nil {
		duration = agent.Result.DurationMs
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	date := completedAt.Format("2006-01-02")
	week := weekID(completedAt)
	hour := completedAt.Hour()
	day := int(completedAt.Weekday())

	s.updateBucket(&s.state.HourlyPatterns[hour], success, duration)
	s.updateBucket(&s.state.DailyPatterns[day], success, duration)
	s.updateHistory(date, success, duration, completedAt)
	milestone := s.updateStreaks(date, week, completedAt)

	s.scheduleSave()

	if milestone > 0 && s.OnMilestone != nil {
		go s.OnMilestone("daily", milestone)
	}
}

func (s *Store) updateBucket(b *Bucket, success bool, duration int64) {
	b.Tasks++
	if success {
		b.Successes++
	} else {
		b.Failures++
	}
	b.TotalDurationMs += duration
}

func (s *Store) updateHistory(date string, success bool, duration int64, now time.Time) {
	rec, ok := s.state.DailyHistory[date]
	if !ok {
		rec = &DayRecord{}
		s.state.DailyHistory[date] = rec
	}
	rec.Tasks++
	if success {
		rec.Successes++
	} else {
		rec.Failures++
	}
	rec.TotalDurationMs += duration

	cutoff := now.AddDate(0, 0, -historyRetentionDays).Format("2006-01-02")
	for d := range s.state.DailyHistory {
		if d < cutoff {
			delete(s.state.DailyHistory, d)
		}
	}
}

// updateStreaks advances daily and weekly streaks. Returns the new daily
// streak length if it just hit a milestone, else 0. Caller holds s.mu.
func (s *Store) updateStreaks(date, week string, completedAt time.Time) int {
	st := &s.state.Streaks
	milestone := 0

	switch {
	case date == st.LastActiveDate:
		// Same day, streak unchanged
	case st.LastActiveDate == yesterday(completedAt):
		st.CurrentDaily++
		milestone = milestoneHit(st.CurrentDaily)
	default:
		st.CurrentDaily = 1
	}
	if st.CurrentDaily > st.LongestDaily {
		st.LongestDaily = st.CurrentDaily
	}
	st.LastActiveDate = date

	switch {
	case week == st.LastActiveWeek:
	case st.LastActiveWeek == weekID(completedAt.AddDate(0, 0, -7)):
		st.CurrentWeekly++
	default:
		st.CurrentWeekly = 1
	}
	if st.CurrentWeekly > st.LongestWeekly {
		st.LongestWeekly = st.CurrentWeekly
	}
	st.LastActiveWeek = week

	return milestone
}

func milestoneHit(length int) int {
	for _, m := range streakMilestones {
		if length == m {
			return length
		}
	}
	return 0
}

func yesterday(t time.Time) string {
	return t.AddDate(0, 0, -1).Format("2006-01-02")
}

// weekID formats an ISO week as YYYY-Wnn with the ISO year, so late-December
// days belonging to week 01 of the next year land in that year
func weekID(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// Summary is the read-side snapshot of streaks and today's numbers
type Summary struct {
	Streaks     Streaks `json:"streaks"`
	TodayTasks  int     `json:"todayTasks"`
	TotalTasks  int     `json:"totalTasks"`
	SuccessRate float64 `json:"successRate"`
}

// GetSummary returns streaks plus aggregate counts
func (s *Store) GetSummary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total, successes int
	for _, rec := range s.state.DailyHistory {
		total += rec.Tasks
		successes += rec.Successes
	}

	sum := Summary{
		Streaks:    s.state.Streaks,
		TotalTasks: total,
	}
	if rec, ok := s.state.DailyHistory[time.Now().Format("2006-01-02")]; ok {
		sum.TodayTasks = rec.Tasks
	}
	if total > 0 {
		sum.SuccessRate = float64(successes) / float64(total)
	}
	return sum
}

// Insights names the most productive hour and weekday
type Insights struct {
	BestHour      int     `json:"bestHour"`
	BestHourRate  float64 `json:"bestHourRate"`
	BestDay       string  `json:"bestDay"`
	BestDayRate   float64 `json:"bestDayRate"`
	HasEnoughData bool    `json:"hasEnoughData"`
}

// GetInsights returns the best hour and day by success rate. Slots with
// fewer than five samples are ignored so one lucky run does not win.
func (s *Store) GetInsights() Insights {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Insights{BestHour: -1}
	for h := range s.state.HourlyPatterns {
		b := &s.state.HourlyPatterns[h]
		if b.Tasks < insightMinSamples {
			continue
		}
		if rate := b.SuccessRate(); out.BestHour < 0 || rate > out.BestHourRate {
			out.BestHour = h
			out.BestHourRate = rate
		}
	}

	bestDay := -1
	for d := range s.state.DailyPatterns {
		b := &s.state.DailyPatterns[d]
		if b.Tasks < insightMinSamples {
			continue
		}
		if rate := b.SuccessRate(); bestDay < 0 || rate > out.BestDayRate {
			bestDay = d
			out.BestDayRate = rate
		}
	}
	if bestDay >= 0 {
		out.BestDay = time.Weekday(bestDay).String()
	}
	out.HasEnoughData = out.BestHour >= 0 || bestDay >= 0
	return out
}

// Trend classifies recent change in volume and success rate
type Trend struct {
	VolumeTrend     string  `json:"volumeTrend"`  // increasing | stable | decreasing
	SuccessTrend    string  `json:"successTrend"` // increasing | stable | decreasing
	RecentDaily     float64 `json:"recentDailyAvg"`
	PreviousDaily   float64 `json:"previousDailyAvg"`
	RecentSuccess   float64 `json:"recentSuccessRate"`
	PreviousSuccess float64 `json:"previousSuccessRate"`
}

// GetTrends compares the last seven days against the seven before them
func (s *Store) GetTrends() Trend {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	recentTasks, recentSucc := s.windowTotals(now, 0, trendWindowDays)
	prevTasks, prevSucc := s.windowTotals(now, trendWindowDays, 2*trendWindowDays)

	trend := Trend{
		RecentDaily:   float64(recentTasks) / trendWindowDays,
		PreviousDaily: float64(prevTasks) / trendWindowDays,
	}
	if recentTasks > 0 {
		trend.RecentSuccess = float64(recentSucc) / float64(recentTasks)
	}
	if prevTasks > 0 {
		trend.PreviousSuccess = float64(prevSucc) / float64(prevTasks)
	}
	trend.VolumeTrend = classify(trend.RecentDaily, trend.PreviousDaily)
	trend.SuccessTrend = classify(trend.RecentSuccess, trend.PreviousSuccess)
	return trend
}

// windowTotals sums history over [now-endDays, now-startDays). Caller holds s.mu.
func (s *Store) windowTotals(now time.Time, startDays, endDays int) (tasks, successes int) {
	for i := startDays; i < endDays; i++ {
		date := now.AddDate(0, 0, -i).Format("2006-01-02")
		if rec, ok := s.state.DailyHistory[date]; ok {
			tasks += rec.Tasks
			successes += rec.Successes
		}
	}
	return
}

func classify(recent, previous float64) string {
	if previous == 0 {
		if recent > 0 {
			return "increasing"
		}
		return "stable"
	}
	delta := (recent - previous) / previous
	switch {
	case delta > trendStableBand:
		return "increasing"
	case delta < -trendStableBand:
		return "decreasing"
	default:
		return "stable"
	}
}

// History returns a sorted copy of the daily history
func (s *Store) History() map[string]DayRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]DayRecord, len(s.state.DailyHistory))
	for d, rec := range s.state.DailyHistory {
		out[d] = *rec
	}
	return out
}

// HistoryDates returns the recorded dates in ascending order
func (s *Store) HistoryDates() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dates := make([]string, 0, len(s.state.DailyHistory))
	for d := range s.state.DailyHistory {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// scheduleSave debounces disk writes. Caller holds s.mu.
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

// Flush writes the current state to disk immediately
func (s *Store) Flush() {
	if s.path == "" {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := persistence.WriteJSON(s.path, &s.state); err != nil {
		log.Printf("[PRODUCTIVITY] Save failed: %v", err)
	}
}
