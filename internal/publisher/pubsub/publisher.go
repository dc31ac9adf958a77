// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// Publisher wraps a Pub/Sub client and caches one topic handle per name so
// message batching survives across calls.
type Publisher struct {
	client *pubsub.Client
	owned  bool

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Publisher on an existing client. The caller keeps ownership
// of the client.
func New(client *pubsub.Client) *Publisher {
	return &Publisher{client: client, topics: make(map[string]*pubsub.Topic)}
}

// Dial opens a client for projectID that the Publisher closes on Close.
func Dial(ctx context.Context, projectID string) (*Publisher, error) {
	if projectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	p := New(client)
	p.owned = true
	return p, nil
}

// Publish sends payload to the topic and waits for the server-assigned ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	if p.client == nil {
		return "", errors.New("pubsub publisher is not configured")
	}
	result := p.topic(topic).Publish(ctx, &pubsub.Message{Data: payload})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}

// Close flushes pending messages on every topic handle.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for name, t := range p.topics {
		t.Stop()
		delete(p.topics, name)
	}
	p.mu.Unlock()
	if p.owned && p.client != nil {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}
