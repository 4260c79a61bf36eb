// Package redis implements a Redis pub/sub notification adapter.
//
// Publishes chunk-installed events to a configurable channel.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/justapithecus/fedrun/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "fedrun:chunk_installed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default fedrun:chunk_installed).
	Channel string
	// Encoding is the payload format (default json).
	Encoding adapter.Encoding
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
}

// Adapter publishes chunk-installed events via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis pub/sub adapter from the given config.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	enc, err := adapter.ParseEncoding(string(cfg.Encoding))
	if err != nil {
		return nil, fmt.Errorf("redis adapter: %w", err)
	}
	cfg.Encoding = enc

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish sends the encoded event to the configured channel.
func (a *Adapter) Publish(ctx context.Context, event *adapter.ChunkInstalledEvent) error {
	body, err := a.config.Encoding.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	return adapter.Retry(ctx, "redis", a.config.Retries, func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		return a.client.Publish(publishCtx, a.config.Channel, body).Err()
	})
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
