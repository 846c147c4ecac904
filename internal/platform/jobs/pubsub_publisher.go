package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/adperception/survey/internal/services"
)

// EventTypeCompleted tags completion messages.
const EventTypeCompleted = "survey.completed"

// PubSubCompletionPublisher publishes survey completion events to a Pub/Sub topic.
type PubSubCompletionPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.CompletionPublisher = (*PubSubCompletionPublisher)(nil)

// NewPubSubCompletionPublisher constructs a Pub/Sub backed completion publisher.
func NewPubSubCompletionPublisher(topic *pubsub.Topic) (*PubSubCompletionPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub completion publisher: topic is required")
	}
	return &PubSubCompletionPublisher{topic: topic, marshal: json.Marshal}, nil
}

type completionMessage struct {
	Type        string    `json:"type"`
	SessionID   string    `json:"session_id"`
	AdCount     int       `json:"ad_count"`
	Persisted   bool      `json:"persisted"`
	Faithful    bool      `json:"faithful"`
	Matched     int       `json:"matched"`
	Planned     int       `json:"planned"`
	CompletedAt time.Time `json:"completed_at"`
}

// PublishCompletion waits for the server to acknowledge the message.
func (p *PubSubCompletionPublisher) PublishCompletion(ctx context.Context, event services.CompletionEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub completion publisher: not initialised")
	}

	data, err := p.marshal(completionMessage{
		Type:        EventTypeCompleted,
		SessionID:   event.SessionID,
		AdCount:     event.AdCount,
		Persisted:   event.Persisted,
		Faithful:    event.Faithful,
		Matched:     event.Matched,
		Planned:     event.Planned,
		CompletedAt: event.CompletedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal completion event: %w", err)
	}

	attrs := map[string]string{
		"type":      EventTypeCompleted,
		"persisted": strconv.FormatBool(event.Persisted),
	}
	setAttr(attrs, "sessionId", event.SessionID)

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish completion event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
