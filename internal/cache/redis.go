// Package cache holds the Redis-backed redirect target cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sundayezeilo/shortlinks/internal/clock"
	"github.com/sundayezeilo/shortlinks/internal/errx"
	"github.com/sundayezeilo/shortlinks/internal/shortener"
)

const (
	DefaultKeyPrefix = "link:"
	DefaultTTL       = 10 * time.Minute
)

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	const op = "cache.Connect"

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errx.E(op, errx.Invalid, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errx.E(op, errx.Unavailable, fmt.Errorf("ping redis: %w", err))
	}
	return client, nil
}

// Targets caches shortcode -> {original url, expiry} as JSON strings. Entries
// never outlive the link they describe.
type Targets struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	clock  clock.Clock
}

type TargetsConfig struct {
	KeyPrefix string        // default: "link:"
	TTL       time.Duration // upper bound per entry (default: 10m)
	Clock     clock.Clock
}

func NewTargets(client redis.Cmdable, config *TargetsConfig) *Targets {
	if config == nil {
		config = &TargetsConfig{}
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	return &Targets{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		clock:  clk,
	}
}

func (c *Targets) Get(ctx context.Context, shortcode string) (shortener.Target, bool, error) {
	const op = "cache.Targets.Get"

	val, err := c.client.Get(ctx, c.key(shortcode)).Bytes()
	if errors.Is(err, redis.Nil) {
		return shortener.Target{}, false, nil
	}
	if err != nil {
		return shortener.Target{}, false, errx.E(op, errx.Unavailable, err)
	}

	var t shortener.Target
	if err := json.Unmarshal(val, &t); err != nil {
		return shortener.Target{}, false, errx.E(op, errx.Internal, fmt.Errorf("decode cached target: %w", err))
	}
	return t, true, nil
}

// Set stores t until the earlier of the configured TTL and the link's expiry.
// Already expired targets are not stored.
func (c *Targets) Set(ctx context.Context, shortcode string, t shortener.Target) error {
	const op = "cache.Targets.Set"

	ttl := c.ttlFor(t)
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(t)
	if err != nil {
		return errx.E(op, errx.Internal, err)
	}
	if err := c.client.Set(ctx, c.key(shortcode), data, ttl).Err(); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}

func (c *Targets) Delete(ctx context.Context, shortcode string) error {
	const op = "cache.Targets.Delete"

	if err := c.client.Del(ctx, c.key(shortcode)).Err(); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}

func (c *Targets) ttlFor(t shortener.Target) time.Duration {
	return min(c.ttl, t.ExpiresAt.Sub(c.clock.Now()))
}

func (c *Targets) key(shortcode string) string {
	return c.prefix + shortcode
}

var _ shortener.TargetCache = (*Targets)(nil)
