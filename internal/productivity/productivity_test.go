package productivity

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/COSD/internal/types"
)

func completedAgent(at time.Time, success bool, durationMs int64) *types.Agent {
	return &types.Agent{
		Status:      types.StatusCompleted,
		CompletedAt: &at,
		Result:      &types.AgentResult{Success: success, DurationMs: durationMs},
	}
}

func TestDailyStreak(t *testing.T) {
	s := NewStore("")
	day1 := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	s.OnTaskCompletedSync(completedAgent(day1, true, 100))
	s.OnTaskCompletedSync(completedAgent(day1.Add(2*time.Hour), true, 100)) // same day
	s.OnTaskCompletedSync(completedAgent(day1.AddDate(0, 0, 1), true, 100))
	s.OnTaskCompletedSync(completedAgent(day1.AddDate(0, 0, 2), true, 100))

	sum := s.GetSummary()
	if sum.Streaks.CurrentDaily != 3 {
		t.Errorf("current daily: got %d, want 3", sum.Streaks.CurrentDaily)
	}
	if sum.Streaks.LongestDaily != 3 {
		t.Errorf("longest daily: got %d, want 3", sum.Streaks.LongestDaily)
	}

	// A gap resets current but not longest
	s.OnTaskCompletedSync(completedAgent(day1.AddDate(0, 0, 5), true, 100))
	sum = s.GetSummary()
	if sum.Streaks.CurrentDaily != 1 || sum.Streaks.LongestDaily != 3 {
		t.Errorf("after gap: current %d longest %d", sum.Streaks.CurrentDaily, sum.Streaks.LongestDaily)
	}
	if sum.Streaks.CurrentDaily > sum.Streaks.LongestDaily {
		t.Error("current streak must never exceed longest")
	}
}

func TestWeeklyStreakYearRollover(t *testing.T) {
	s := NewStore("")

	// Tue of ISO week 2025-W52, then Tue of 2026-W01
	w52 := time.Date(2025, 12, 23, 9, 0, 0, 0, time.UTC)
	w01 := time.Date(2025, 12, 30, 9, 0, 0, 0, time.UTC)

	if got := weekID(w01); got != "2026-W01" {
		t.Fatalf("ISO year rollover: got %s, want 2026-W01", got)
	}

	s.OnTaskCompletedSync(completedAgent(w52, true, 100))
	s.OnTaskCompletedSync(completedAgent(w01, true, 100))

	sum := s.GetSummary()
	if sum.Streaks.CurrentWeekly != 2 {
		t.Errorf("weekly streak across year boundary: got %d, want 2", sum.Streaks.CurrentWeekly)
	}
}

func TestHistoryPruning(t *testing.T) {
	s := NewStore("")
	now := time.Now()

	s.OnTaskCompletedSync(completedAgent(now.AddDate(0, 0, -120), true, 100))
	if len(s.History()) != 1 {
		t.Fatal("expected the old entry before a fresh completion arrives")
	}

	s.OnTaskCompletedSync(completedAgent(now, true, 100))
	history := s.History()
	if len(history) != 1 {
		t.Errorf("entry older than 90 days should be pruned, history: %v", s.HistoryDates())
	}
	if _, ok := history[now.Format("2006-01-02")]; !ok {
		t.Error("today's entry missing")
	}
}

func TestPatternBuckets(t *testing.T) {
	s := NewStore("")
	// Monday 14:00
	at := time.Date(2026, 8, 17, 14, 0, 0, 0, time.UTC)
	s.OnTaskCompletedSync(completedAgent(at, true, 1000))
	s.OnTaskCompletedSync(completedAgent(at, false, 3000))

	s.mu.RLock()
	hourly := s.state.HourlyPatterns[14]
	daily := s.state.DailyPatterns[int(time.Monday)]
	s.mu.RUnlock()

	if hourly.Tasks != 2 || hourly.Successes != 1 || hourly.Failures != 1 {
		t.Errorf("hourly bucket wrong: %+v", hourly)
	}
	if hourly.AvgDurationMs() != 2000 {
		t.Errorf("avg duration: got %d, want 2000", hourly.AvgDurationMs())
	}
	if daily.SuccessRate() != 0.5 {
		t.Errorf("daily success rate: got %f", daily.SuccessRate())
	}
}

func TestInsightsMinimumSamples(t *testing.T) {
	s := NewStore("")
	at := time.Date(2026, 8, 17, 9, 0, 0, 0, time.UTC)

	// Four completions: below the five-sample floor
	for i := 0; i < 4; i++ {
		s.OnTaskCompletedSync(completedAgent(at, true, 100))
	}
	if s.GetInsights().HasEnoughData {
		t.Error("four samples should not produce insights")
	}

	s.OnTaskCompletedSync(completedAgent(at, true, 100))
	insights := s.GetInsights()
	if !insights.HasEnoughData || insights.BestHour != 9 {
		t.Errorf("expected best hour 9, got %+v", insights)
	}
}

func TestTrends(t *testing.T) {
	s := NewStore("")
	now := time.Now()

	// Previous window: 1 task/day, half succeed; recent window: 3 tasks/day all succeed
	for i := trendWindowDays; i < 2*trendWindowDays; i++ {
		s.OnTaskCompletedSync(completedAgent(now.AddDate(0, 0, -i), i%2 == 0, 100))
	}
	for i := 0; i < trendWindowDays; i++ {
		day := now.AddDate(0, 0, -i)
		for j := 0; j < 3; j++ {
			s.OnTaskCompletedSync(completedAgent(day, true, 100))
		}
	}

	trend := s.GetTrends()
	if trend.VolumeTrend != "increasing" {
		t.Errorf("volume trend: got %s, want increasing", trend.VolumeTrend)
	}
	if trend.SuccessTrend != "increasing" {
		t.Errorf("success trend: got %s, want increasing", trend.SuccessTrend)
	}
}

func TestMilestoneCallback(t *testing.T) {
	s := NewStore("")
	hit := make(chan int, 1)
	s.OnMilestone = func(kind string, length int) {
		if kind == "daily" {
			hit <- length
		}
	}

	start := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		s.OnTaskCompletedSync(completedAgent(start.AddDate(0, 0, i), true, 100))
	}

	select {
	case length := <-hit:
		if length != 3 {
			t.Errorf("milestone length: got %d, want 3", length)
		}
	case <-time.After(time.Second):
		t.Fatal("milestone callback not fired for 3-day streak")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "productivity.json")

	s := NewStore(path)
	at := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	s.OnTaskCompletedSync(completedAgent(at, true, 100))
	s.Flush()

	reloaded := NewStore(path)
	sum := reloaded.GetSummary()
	if sum.Streaks.CurrentDaily != 1 || sum.Streaks.LastActiveDate != "2026-08-20" {
		t.Errorf("state lost across reload: %+v", sum.Streaks)
	}
}
