package shortener

import (
	"context"
	"log/slog"
	"time"

	"github.com/sundayezeilo/shortlinks/internal/errx"
)

// Summarize derives the stats view of rec at now.
func Summarize(rec Record, now time.Time) Stats {
	clicks := make([]ClickSummary, len(rec.Clicks))
	for i, c := range rec.Clicks {
		clicks[i] = ClickSummary{
			Timestamp: c.Timestamp,
			Referrer:  c.Referrer,
			Location:  c.Location,
		}
	}

	return Stats{
		Shortcode:   rec.Shortcode,
		OriginalURL: rec.OriginalURL,
		CreatedAt:   rec.CreatedAt,
		ExpiresAt:   rec.ExpiresAt,
		TotalClicks: len(rec.Clicks),
		IsExpired:   rec.Expired(now),
		Clicks:      clicks,
	}
}

// Analytics reads and prunes records on behalf of the stats endpoints.
type Analytics struct {
	store  Store
	cache  TargetCache
	logger *slog.Logger
}

type AnalyticsConfig struct {
	Cache  TargetCache // invalidated on Remove, optional
	Logger *slog.Logger
}

func NewAnalytics(store Store, config *AnalyticsConfig) *Analytics {
	if config == nil {
		config = &AnalyticsConfig{}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Analytics{
		store:  store,
		cache:  config.Cache,
		logger: logger,
	}
}

// Summary returns the stats for a single shortcode.
func (a *Analytics) Summary(ctx context.Context, code string, now time.Time) (Stats, error) {
	const op = "shortener.analytics.Summary"

	rec, err := a.store.FindByCode(ctx, code)
	if err != nil {
		return Stats{}, errx.Wrap(op, err, errx.Unavailable)
	}
	return Summarize(rec, now), nil
}

// SummarizeAll returns stats for every record, newest first.
func (a *Analytics) SummarizeAll(ctx context.Context, now time.Time) ([]Stats, error) {
	const op = "shortener.analytics.SummarizeAll"

	recs, err := a.store.ListAll(ctx)
	if err != nil {
		return nil, errx.Wrap(op, err, errx.Unavailable)
	}

	out := make([]Stats, len(recs))
	for i, rec := range recs {
		out[i] = Summarize(rec, now)
	}
	return out, nil
}

// Remove deletes code if it has expired. Active links are kept and reported
// as ErrStillActive.
func (a *Analytics) Remove(ctx context.Context, code string, now time.Time) error {
	const op = "shortener.analytics.Remove"

	if err := a.store.DeleteIfExpired(ctx, code, now); err != nil {
		return errx.Wrap(op, err, errx.Unavailable)
	}

	if a.cache != nil {
		if err := a.cache.Delete(ctx, code); err != nil {
			a.logger.WarnContext(ctx, "target cache delete failed",
				"shortcode", code,
				"error", err.Error(),
			)
		}
	}
	return nil
}
