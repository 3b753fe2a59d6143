package tasks

import (
	"fmt"
	"time"

	"github.com/COSD/internal/coserr"
)

// Status represents the current state of a task
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
)

// Priority orders tasks within a queue
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// Rank returns the numeric ordering of a priority, higher runs first.
// Unknown priorities rank as MEDIUM.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return priorityRank[PriorityMedium]
}

// Queue identifies which task file a task belongs to
type Queue string

const (
	QueueUser     Queue = "user"
	QueueInternal Queue = "internal"
)

// Task is one unit of work in a queue file. Extra captures fields the core
// does not recognize so the file round-trips without losing them.
type Task struct {
	ID               string                 `yaml:"id" json:"id"`
	Description      string                 `yaml:"description" json:"description"`
	Status           Status                 `yaml:"status,omitempty" json:"status"`
	Priority         Priority               `yaml:"priority,omitempty" json:"priority"`
	ApprovalRequired bool                   `yaml:"approvalRequired,omitempty" json:"approvalRequired"`
	Approved         bool                   `yaml:"approved,omitempty" json:"approved"`
	Metadata         map[string]interface{} `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt        time.Time              `yaml:"createdAt,omitempty" json:"createdAt"`
	Queue            Queue                  `yaml:"-" json:"queue,omitempty"`
	CurrentAgentID   string                 `yaml:"-" json:"currentAgentId,omitempty"`
	Extra            map[string]interface{} `yaml:",inline" json:"-"`
}

// NewTask creates a pending task with a generated ID
func NewTask(description string, priority Priority) *Task {
	now := time.Now()
	return &Task{
		ID:          fmt.Sprintf("task-%d", now.UnixNano()),
		Description: description,
		Status:      StatusPending,
		Priority:    priority,
		CreatedAt:   now,
	}
}

// Validate checks required fields and enum values
func (t *Task) Validate() error {
	if t.Description == "" {
		return coserr.New(coserr.KindValidation, "tasks.Validate", "description is required")
	}
	switch t.Status {
	case StatusPending, StatusInProgress, StatusCompleted, StatusBlocked:
	default:
		return coserr.New(coserr.KindValidation, "tasks.Validate", "unknown status %q", t.Status)
	}
	if _, ok := priorityRank[t.Priority]; !ok {
		return coserr.New(coserr.KindValidation, "tasks.Validate", "unknown priority %q", t.Priority)
	}
	return nil
}

// Meta returns a metadata value as a string, or "" if absent
func (t *Task) Meta(key string) string {
	if t.Metadata == nil {
		return ""
	}
	v, ok := t.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Runnable reports whether the task is eligible for scheduling at all
// (status and approval gates only; cooldowns are the scheduler's concern)
func (t *Task) Runnable() bool {
	if t.Status != StatusPending {
		return false
	}
	if t.ApprovalRequired && !t.Approved {
		return false
	}
	return true
}

// Clone returns a deep copy of the task
func (t *Task) Clone() *Task {
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	if t.Extra != nil {
		c.Extra = make(map[string]interface{}, len(t.Extra))
		for k, v := range t.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// Patch carries partial updates for a task; nil fields are left unchanged
type Patch struct {
	Description      *string                `json:"description,omitempty"`
	Status           *Status                `json:"status,omitempty"`
	Priority         *Priority              `json:"priority,omitempty"`
	ApprovalRequired *bool                  `json:"approvalRequired,omitempty"`
	Approved         *bool                  `json:"approved,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CurrentAgentID   *string                `json:"currentAgentId,omitempty"`
}
