package natsio

import (
	"log"
	"strings"

	"github.com/COSD/internal/events"
)

// SubjectPrefix namespaces every bridged event on the NATS side
const SubjectPrefix = "cos."

// Bridge forwards every bus event to NATS. Colons in topic names become
// dots so subjects stay token-per-level ("agent:output" -> "cos.agent.output").
type Bridge struct {
	client *Client
	cancel func()
}

// NewBridge subscribes to all bus topics and starts forwarding
func NewBridge(bus *events.Bus, client *Client) *Bridge {
	b := &Bridge{client: client}
	b.cancel = bus.SubscribeAll(b.forward)
	return b
}

// Subject maps a bus topic to its NATS subject
func Subject(topic events.Topic) string {
	return SubjectPrefix + strings.ReplaceAll(string(topic), ":", ".")
}

func (b *Bridge) forward(e *events.Event) {
	if !b.client.Connected() {
		return
	}
	if err := b.client.PublishJSON(Subject(e.Topic), e); err != nil {
		log.Printf("[NATS] Forwarding %s failed: %v", e.Topic, err)
	}
}

// Close stops forwarding. The client is closed by its owner.
func (b *Bridge) Close() {
	b.cancel()
}
