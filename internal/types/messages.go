package types

import "time"

// WSMessage is the frame sent to WebSocket subscribers
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// HealthIssue is one structured finding from a health check
type HealthIssue struct {
	Category string `json:"category"`
	Type     string `json:"type"` // warning or error
	Severity string `json:"severity,omitempty"`
	Message  string `json:"message"`
}

// AgentHealth is one live agent's monitor sample in a health report
type AgentHealth struct {
	AgentID    string  `json:"agent_id"`
	TaskID     string  `json:"task_id"`
	PID        int     `json:"pid"`
	Active     bool    `json:"active"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSMB      float64 `json:"rss_mb"`
}

// HealthReport is the payload of a health:check event
type HealthReport struct {
	CheckedAt    time.Time              `json:"checked_at"`
	ActiveAgents int                    `json:"active_agents"`
	Metrics      map[string]interface{} `json:"metrics"`
	Issues       []HealthIssue          `json:"issues"`
}

// StatusReport is the payload of a status event
type StatusReport struct {
	Running      bool   `json:"running"`
	Paused       bool   `json:"paused"`
	PauseReason  string `json:"pause_reason,omitempty"`
	ActiveAgents int    `json:"active_agents"`
	PendingUser  int    `json:"pending_user"`
	PendingInt   int    `json:"pending_internal"`
}

// LogEntry is the payload of a log event
type LogEntry struct {
	Level    string `json:"level"`
	Category string `json:"category"`
	Message  string `json:"message"`
}
