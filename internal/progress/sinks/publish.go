package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/publisher"
)

// Message is the JSON form of an event on message buses.
type Message struct {
	RunID       string    `json:"run_id"`
	TS          time.Time `json:"ts"`
	Stage       string    `json:"stage"`
	Source      string    `json:"source,omitempty"`
	Message     string    `json:"message"`
	Identifier  string    `json:"identifier,omitempty"`
	Page        int       `json:"page,omitempty"`
	StatusClass string    `json:"status_class,omitempty"`
	DurationMS  int64     `json:"duration_ms,omitempty"`
	Count       int64     `json:"count,omitempty"`
	URI         string    `json:"uri,omitempty"`
}

// NewMessage converts an event to its wire form.
func NewMessage(evt progress.Event) Message {
	return Message{
		RunID:       evt.RunUUID().String(),
		TS:          evt.TS.UTC(),
		Stage:       string(evt.Stage),
		Source:      evt.Source,
		Message:     evt.Message,
		Identifier:  evt.Identifier,
		Page:        evt.Page,
		StatusClass: string(evt.StatusClass),
		DurationMS:  evt.Dur.Milliseconds(),
		Count:       evt.Count,
		URI:         evt.URI,
	}
}

// PublishSink forwards every event as a JSON Message to a publisher topic
// (a Pub/Sub topic or a Redis channel).
type PublishSink struct {
	pub   publisher.Publisher
	topic string
}

// NewPublishSink binds pub to topic.
func NewPublishSink(pub publisher.Publisher, topic string) (*PublishSink, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if topic == "" {
		return nil, errors.New("publish topic is required")
	}
	return &PublishSink{pub: pub, topic: topic}, nil
}

// Consume publishes the batch in order. Every event is attempted; failures
// are joined into the returned error.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		payload, err := json.Marshal(NewMessage(evt))
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal progress message: %w", err))
			continue
		}
		if _, err := s.pub.Publish(ctx, s.topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes the publisher.
func (s *PublishSink) Close(context.Context) error {
	if err := s.pub.Close(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	return nil
}
