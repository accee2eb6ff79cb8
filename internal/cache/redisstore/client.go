// Package redisstore is the optional Redis tier that shares serialized
// layer bodies between server replicas.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/vector-layer-cache/internal/core/observability"
)

const defaultPrefix = "vlc:"

type Option func(*settings)

type settings struct {
	ro     redis.Options
	prefix string
}

func WithPoolSize(n int) Option {
	return func(s *settings) { s.ro.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(s *settings) { s.ro.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(s *settings) { s.ro.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(s *settings) { s.ro.WriteTimeout = d }
}

// WithPrefix namespaces every key; the default is "vlc:".
func WithPrefix(p string) Option {
	return func(s *settings) { s.prefix = p }
}

type Client struct {
	rdb    *redis.Client
	prefix string
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	s := settings{
		ro: redis.Options{
			Addr:         addr,
			PoolSize:     16,
			MinIdleConns: 2,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			MaintNotificationsConfig: &maintnotifications.Config{
				Mode: maintnotifications.ModeDisabled,
			},
		},
		prefix: defaultPrefix,
	}
	for _, f := range opts {
		f(&s)
	}

	rdb := redis.NewClient(&s.ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveSharedOp("ping", result(err), time.Since(start))
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb, prefix: s.prefix}, nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Get returns the stored body for key; a missing key is (nil, false, nil).
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	b, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		observability.ObserveSharedOp("get", "miss", time.Since(start))
		return nil, false, nil
	case err != nil:
		observability.ObserveSharedOp("get", "error", time.Since(start))
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	observability.ObserveSharedOp("get", "hit", time.Since(start))
	return b, true, nil
}

// Set stores val under key. A non-positive ttl stores without expiry.
func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	start := time.Now()
	err := c.rdb.Set(ctx, c.prefix+key, val, ttl).Err()
	observability.ObserveSharedOp("set", result(err), time.Since(start))
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	start := time.Now()
	err := c.rdb.Del(ctx, full...).Err()
	observability.ObserveSharedOp("del", result(err), time.Since(start))
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	observability.ObserveSharedOp("ping", result(err), time.Since(start))
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
