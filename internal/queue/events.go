package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Event is the cross-process envelope for pipeline events. The worker
// publishes them here and the API process relays them into its websocket
// hub, so browser clients see events no matter which process produced them.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// eventSubject derives the event subject from the task prefix, e.g.
// "tradepulse.tasks." -> "tradepulse.events"
func (q *Queue) eventSubject() string {
	base := strings.TrimSuffix(q.prefix, ".")
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[:i]
	}
	return base + ".events"
}

// PublishEvent fans an event out to every subscribed process. Unlike tasks,
// events use plain pub/sub: every listener sees every event.
func (q *Queue) PublishEvent(eventType string, payload interface{}) error {
	if !q.nc.IsConnected() {
		return fmt.Errorf("event bus not connected")
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	data, err := json.Marshal(Event{
		Type:      eventType,
		Payload:   payloadJSON,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := q.nc.Publish(q.eventSubject(), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// SubscribeEvents delivers every published event to handler
func (q *Queue) SubscribeEvents(handler func(evt *Event)) (*Subscription, error) {
	subject := q.eventSubject()

	sub, err := q.nc.Subscribe(subject, func(natsMsg *nats.Msg) {
		var evt Event
		if err := json.Unmarshal(natsMsg.Data, &evt); err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("Failed to unmarshal event")
			return
		}
		handler(&evt)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}

	log.Info().Str("subject", subject).Msg("Subscribed to pipeline events")
	return &Subscription{sub: sub, subject: subject}, nil
}

// EventPublisher adapts the queue to the ws.Publisher interface so scanner,
// monitor and learning components in the worker can broadcast without a
// local websocket hub. Publish failures are logged, never fatal.
type EventPublisher struct {
	q *Queue
}

// Events returns the ws.Publisher view of the queue
func (q *Queue) Events() *EventPublisher {
	return &EventPublisher{q: q}
}

// Publish implements ws.Publisher over the NATS event bus
func (p *EventPublisher) Publish(eventType string, payload interface{}) {
	if err := p.q.PublishEvent(eventType, payload); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("Failed to publish pipeline event")
	}
}
