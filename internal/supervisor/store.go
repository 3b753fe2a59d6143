package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/COSD/internal/coserr"
	"github.com/COSD/internal/persistence"
	"github.com/COSD/internal/types"
)

// RecordStore persists agent records: live.json for non-completed agents
// and one dated shard per day for completed ones.
type RecordStore struct {
	mu  sync.Mutex
	dir string
}

// NewRecordStore creates the store rooted at the agents directory
func NewRecordStore(dir string) (*RecordStore, error) {
	if err := persistence.EnsureDir(dir); err != nil {
		return nil, err
	}
	return &RecordStore{dir: dir}, nil
}

func (s *RecordStore) livePath() string {
	return filepath.Join(s.dir, "live.json")
}

func (s *RecordStore) shardPath(day time.Time) string {
	return filepath.Join(s.dir, day.Format("2006-01-02")+".json")
}

// SaveLive writes the full set of non-completed agents
func (s *RecordStore) SaveLive(agents []*types.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return persistence.WriteJSON(s.livePath(), agents)
}

// LoadLive reads the live agents recorded by a previous run
func (s *RecordStore) LoadLive() []*types.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var agents []*types.Agent
	persistence.ReadJSON(s.livePath(), &agents)
	return agents
}

// Archive appends a completed agent to its day's shard
func (s *RecordStore) Archive(agent *types.Agent) error {
	if agent.CompletedAt == nil {
		return coserr.New(coserr.KindInternal, "supervisor.Archive", "agent %s has no completion time", agent.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.shardPath(*agent.CompletedAt)
	var shard []*types.Agent
	persistence.ReadJSON(path, &shard)
	shard = append(shard, agent)
	return persistence.WriteJSON(path, shard)
}

// LoadDay returns the completed agents archived for one day
func (s *RecordStore) LoadDay(day time.Time) []*types.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var shard []*types.Agent
	persistence.ReadJSON(s.shardPath(day), &shard)
	return shard
}

// LoadRecent returns completed agents from the newest shards, newest first,
// up to limit records (0 means no limit)
func (s *RecordStore) LoadRecent(limit int) []*types.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()

	days, err := s.shardDays()
	if err != nil {
		return nil
	}

	var out []*types.Agent
	for i := len(days) - 1; i >= 0; i-- {
		var shard []*types.Agent
		persistence.ReadJSON(filepath.Join(s.dir, days[i]+".json"), &shard)
		// Within a day, newest last on disk
		for j := len(shard) - 1; j >= 0; j-- {
			out = append(out, shard[j])
			if limit > 0 && len(out) >= limit {
				return out
			}
		}
	}
	return out
}

// DeleteCompleted removes one completed agent from whichever shard holds it
func (s *RecordStore) DeleteCompleted(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	days, err := s.shardDays()
	if err != nil {
		return err
	}

	for _, day := range days {
		path := filepath.Join(s.dir, day+".json")
		var shard []*types.Agent
		persistence.ReadJSON(path, &shard)
		for i, a := range shard {
			if a.ID == agentID {
				shard = append(shard[:i], shard[i+1:]...)
				if len(shard) == 0 {
					return os.Remove(path)
				}
				return persistence.WriteJSON(path, shard)
			}
		}
	}
	return coserr.New(coserr.KindNotFound, "supervisor.DeleteCompleted", "no archived agent %q", agentID)
}

// ClearCompleted removes all shards and returns how many records were dropped
func (s *RecordStore) ClearCompleted() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	days, err := s.shardDays()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, day := range days {
		path := filepath.Join(s.dir, day+".json")
		var shard []*types.Agent
		persistence.ReadJSON(path, &shard)
		removed += len(shard)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, coserr.Wrap(coserr.KindIO, "supervisor.ClearCompleted", err)
		}
	}
	return removed, nil
}

// shardDays lists shard dates ascending. Caller holds s.mu.
func (s *RecordStore) shardDays() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, coserr.Wrap(coserr.KindIO, "supervisor.shardDays", err)
	}

	var days []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == "live.json" || !strings.HasSuffix(name, ".json") {
			continue
		}
		day := strings.TrimSuffix(name, ".json")
		if _, err := time.Parse("2006-01-02", day); err != nil {
			continue
		}
		days = append(days, day)
	}
	sort.Strings(days)
	return days, nil
}

// Stats aggregates archived outcomes plus the given live count
func (s *RecordStore) Stats(activeCount int) types.AgentStats {
	completed := s.LoadRecent(0)

	stats := types.AgentStats{
		Active:    activeCount,
		Completed: len(completed),
		Total:     activeCount + len(completed),
	}

	var totalDuration int64
	for _, a := range completed {
		if a.Result == nil {
			continue
		}
		if a.Result.Success {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
		totalDuration += a.Result.DurationMs
	}
	if len(completed) > 0 {
		stats.AvgDurationMs = totalDuration / int64(len(completed))
		stats.SuccessRate = float64(stats.Succeeded) / float64(len(completed))
	}
	return stats
}

// WritePrompt stores the task prompt for an agent and returns its path
func WritePrompt(promptsDir, agentID, prompt string) (string, error) {
	if err := persistence.EnsureDir(promptsDir); err != nil {
		return "", err
	}
	path := filepath.Join(promptsDir, fmt.Sprintf("%s.md", agentID))
	if err := os.WriteFile(path, []byte(prompt), 0644); err != nil {
		return "", coserr.Wrap(coserr.KindIO, "supervisor.WritePrompt", err)
	}
	return path, nil
}
