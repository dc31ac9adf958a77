// Package memory contains an in-memory publisher for tests and local runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("memory publisher closed")

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	closed   bool
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload []byte
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records a copy of the payload and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", ErrClosed
	}
	p.messages = append(p.messages, PublishedMessage{
		Topic:   topic,
		Payload: append([]byte(nil), payload...),
	})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Close rejects further publishes. Recorded messages stay readable.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
