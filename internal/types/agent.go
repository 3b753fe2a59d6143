package types

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// AgentStatus represents the lifecycle state of an agent
type AgentStatus string

const (
	StatusInitializing AgentStatus = "initializing"
	StatusRunning      AgentStatus = "running"
	StatusCompleted    AgentStatus = "completed"
)

// AgentPhase is the coarse activity phase reported to subscribers
type AgentPhase string

const (
	PhaseInitializing AgentPhase = "initializing"
	PhaseWorking      AgentPhase = "working"
)

// ModelTier classifies model power for routing
type ModelTier string

const (
	TierHeavy  ModelTier = "heavy"
	TierMedium ModelTier = "medium"
	TierLight  ModelTier = "light"
)

// OutputLine is one captured line of agent output
type OutputLine struct {
	Timestamp time.Time `json:"timestamp"`
	Line      string    `json:"line"`
}

// AgentResult records the outcome of a completed agent
type AgentResult struct {
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	ExitCode   int    `json:"exit_code"`
}

// AgentMetadata carries routing and workspace context for an agent
type AgentMetadata struct {
	Model           string    `json:"model,omitempty"`
	ModelTier       ModelTier `json:"model_tier,omitempty"`
	ModelReason     string    `json:"model_reason,omitempty"`
	TaskDescription string    `json:"task_description,omitempty"`
	TaskType        string    `json:"task_type,omitempty"`
	App             string    `json:"app,omitempty"`
	WorkspacePath   string    `json:"workspace_path,omitempty"`
	SourceRepo      string    `json:"source_repo,omitempty"`
	WorktreeBranch  string    `json:"worktree_branch,omitempty"`
	JiraTicketID    string    `json:"jira_ticket_id,omitempty"`
}

// Agent represents a managed child process executing one task
type Agent struct {
	ID          string        `json:"id"`
	TaskID      string        `json:"task_id"`
	Queue       string        `json:"queue"`
	Status      AgentStatus   `json:"status"`
	Phase       AgentPhase    `json:"phase"`
	PID         int           `json:"pid,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Output      []OutputLine  `json:"output,omitempty"`
	Result      *AgentResult  `json:"result,omitempty"`
	Metadata    AgentMetadata `json:"metadata"`
}

// IsLive reports whether the agent has not yet completed
func (a *Agent) IsLive() bool {
	return a.Status != StatusCompleted
}

// Clone returns a deep copy safe to hand to readers
func (a *Agent) Clone() *Agent {
	dup := *a
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		dup.CompletedAt = &t
	}
	if a.Result != nil {
		r := *a.Result
		dup.Result = &r
	}
	if a.Output != nil {
		dup.Output = make([]OutputLine, len(a.Output))
		copy(dup.Output, a.Output)
	}
	return &dup
}

// NewAgentID creates a time-prefixed sortable agent ID.
// Lexicographic order matches spawn order at millisecond granularity.
func NewAgentID(now time.Time) string {
	buf := make([]byte, 5)
	rand.Read(buf)
	return fmt.Sprintf("agent-%013d-%s", now.UnixMilli(), hex.EncodeToString(buf))
}

// AgentStats aggregates completed-agent outcomes
type AgentStats struct {
	Total         int     `json:"total"`
	Active        int     `json:"active"`
	Completed     int     `json:"completed"`
	Succeeded     int     `json:"succeeded"`
	Failed        int     `json:"failed"`
	AvgDurationMs int64   `json:"avg_duration_ms"`
	SuccessRate   float64 `json:"success_rate"`
}
