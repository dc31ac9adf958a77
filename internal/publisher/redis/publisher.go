// Package redis implements a Redis PUBLISH based publisher.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Client is the subset of *goredis.Client the publisher needs.
type Client interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
	Close() error
}

// Config holds connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	// DialTimeout bounds the initial PING.
	DialTimeout time.Duration
}

// Publisher publishes payloads on Redis channels. Redis assigns no message
// IDs, so Publish reports the number of subscribers that received it.
type Publisher struct {
	client Client
}

// New wraps an existing client.
func New(client Client) *Publisher {
	return &Publisher{client: client}
}

// Dial connects to Redis and verifies the server answers PING.
func Dial(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return New(client), nil
}

// Publish sends payload on channel.
func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) (string, error) {
	if p.client == nil {
		return "", errors.New("redis publisher is not configured")
	}
	receivers, err := p.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return "", fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return strconv.FormatInt(receivers, 10), nil
}

// Close closes the underlying client.
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
