package shortener

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sundayezeilo/shortlinks/internal/clock"
	"github.com/sundayezeilo/shortlinks/internal/errx"
	"github.com/sundayezeilo/shortlinks/internal/geo"
)

// DefaultLookupTimeout bounds a single geolocation lookup during a redirect.
const DefaultLookupTimeout = 250 * time.Millisecond

// Resolver turns a shortcode into its destination and records the visit.
type Resolver struct {
	store         Store
	cache         TargetCache
	locator       geo.Locator
	lookupTimeout time.Duration
	logger        *slog.Logger
}

type ResolverConfig struct {
	Cache         TargetCache // optional
	Locator       geo.Locator // default: geo.Nop
	LookupTimeout time.Duration
	Logger        *slog.Logger
}

func NewResolver(store Store, config *ResolverConfig) *Resolver {
	if config == nil {
		config = &ResolverConfig{}
	}

	locator := config.Locator
	if locator == nil {
		locator = geo.Nop{}
	}

	timeout := config.LookupTimeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{
		store:         store,
		cache:         config.Cache,
		locator:       locator,
		lookupTimeout: timeout,
		logger:        logger,
	}
}

// Resolve returns the original URL for code and appends one click to its
// history. Expired links fail with ErrExpired and record nothing. A click
// that cannot be stored fails the whole resolve.
func (r *Resolver) Resolve(ctx context.Context, code string, now time.Time, cc ClickContext) (string, error) {
	const op = "shortener.resolver.Resolve"

	target, err := r.target(ctx, code, now)
	if err != nil {
		return "", errx.Wrap(op, err, errx.Unavailable)
	}
	if clock.IsExpired(now, target.ExpiresAt) {
		return "", errx.E(op, errx.Gone, ErrExpired)
	}

	click := r.newClick(ctx, now, cc)
	if err := r.store.AppendClick(ctx, code, click); err != nil {
		if errors.Is(err, ErrNotFound) {
			r.forget(ctx, code)
		}
		return "", errx.Wrap(op, err, errx.Unavailable)
	}
	return target.OriginalURL, nil
}

// target prefers a live cache entry and falls back to the store. Cache
// failures only cost a store read.
func (r *Resolver) target(ctx context.Context, code string, now time.Time) (Target, error) {
	if r.cache != nil {
		t, ok, err := r.cache.Get(ctx, code)
		switch {
		case err != nil:
			r.logger.WarnContext(ctx, "target cache read failed",
				"shortcode", code,
				"error", err.Error(),
			)
		case ok && !clock.IsExpired(now, t.ExpiresAt):
			return t, nil
		}
	}

	rec, err := r.store.FindByCode(ctx, code)
	if err != nil {
		return Target{}, err
	}

	t := Target{OriginalURL: rec.OriginalURL, ExpiresAt: rec.ExpiresAt}
	if r.cache != nil && !clock.IsExpired(now, t.ExpiresAt) {
		if err := r.cache.Set(ctx, code, t); err != nil {
			r.logger.WarnContext(ctx, "target cache write failed",
				"shortcode", code,
				"error", err.Error(),
			)
		}
	}
	return t, nil
}

func (r *Resolver) forget(ctx context.Context, code string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, code); err != nil {
		r.logger.WarnContext(ctx, "target cache delete failed",
			"shortcode", code,
			"error", err.Error(),
		)
	}
}

func (r *Resolver) newClick(ctx context.Context, now time.Time, cc ClickContext) ClickEvent {
	click := ClickEvent{
		Timestamp: now.UTC().Truncate(time.Millisecond),
		Referrer:  cc.Referrer,
		IPAddress: cc.IPAddress,
		UserAgent: cc.UserAgent,
		Location:  geo.UnknownLocation(),
	}
	if click.Referrer == "" {
		click.Referrer = DefaultReferrer
	}
	if click.UserAgent == "" {
		click.UserAgent = DefaultUserAgent
	}
	if cc.IPAddress == "" {
		return click
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	loc, found, err := r.locator.Lookup(lookupCtx, cc.IPAddress)
	switch {
	case err != nil:
		r.logger.DebugContext(ctx, "geo lookup failed",
			"ip", cc.IPAddress,
			"error", err.Error(),
		)
	case found:
		click.Location = loc.OrUnknown()
	}
	return click
}
