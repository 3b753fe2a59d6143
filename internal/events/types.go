package events

import (
	"time"

	"github.com/google/uuid"
)

// Topic names a bus channel
type Topic string

// Topics emitted by the core
const (
	TopicStatus        Topic = "status"
	TopicUserTasks     Topic = "tasks:user:changed"
	TopicInternalTasks Topic = "tasks:internal:changed"
	TopicAgentSpawned  Topic = "agent:spawned"
	TopicAgentOutput   Topic = "agent:output"
	TopicAgentDone     Topic = "agent:completed"
	TopicHealthCheck   Topic = "health:check"
	TopicLog           Topic = "log"
)

// Event is a published message on the bus
type Event struct {
	ID        string      `json:"id"`
	Topic     Topic       `json:"topic"`
	Payload   interface{} `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewEvent creates an event with generated ID and timestamp
func NewEvent(topic Topic, payload interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// AllTopics returns every topic the core publishes
func AllTopics() []Topic {
	return []Topic{
		TopicStatus,
		TopicUserTasks,
		TopicInternalTasks,
		TopicAgentSpawned,
		TopicAgentOutput,
		TopicAgentDone,
		TopicHealthCheck,
		TopicLog,
	}
}
