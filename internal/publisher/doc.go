// Package publisher defines the fan-out transport progress events are pushed
// through. Backends live in subpackages: memory for tests, pubsub for Google
// Cloud Pub/Sub topics and redis for Redis PUBLISH channels.
package publisher

import "context"

// Publisher delivers one payload to a topic or channel and returns the
// backend's message identifier.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
	Close() error
}
