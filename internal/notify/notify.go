// Package notify fans user-facing notifications out to the configured
// sinks. Delivery is best-effort; a failed sink is logged, never fatal.
package notify

import (
	"fmt"
	"log"
)

// Notification is one user-facing message
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level,omitempty"` // info | warning | error
}

// Notifier delivers a notification to one sink
type Notifier interface {
	Notify(n Notification) error
	Name() string
}

// Manager broadcasts to all registered sinks
type Manager struct {
	sinks []Notifier
}

// NewManager creates a manager over the given sinks
func NewManager(sinks ...Notifier) *Manager {
	return &Manager{sinks: sinks}
}

// Add registers another sink
func (m *Manager) Add(n Notifier) {
	m.sinks = append(m.sinks, n)
}

// Notify sends to every sink, logging failures
func (m *Manager) Notify(n Notification) {
	for _, sink := range m.sinks {
		if err := sink.Notify(n); err != nil {
			log.Printf("[NOTIFY] %s delivery failed: %v", sink.Name(), err)
		}
	}
}

// Milestone formats and sends a streak milestone notification
func (m *Manager) Milestone(kind string, length int) {
	m.Notify(Notification{
		Title:   "Streak milestone",
		Message: formatMilestone(kind, length),
		Level:   "info",
	})
}

func formatMilestone(kind string, length int) string {
	switch kind {
	case "weekly":
		return pluralize(length, "week") + " of consecutive completions"
	default:
		return pluralize(length, "day") + " completion streak"
	}
}

func pluralize(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
