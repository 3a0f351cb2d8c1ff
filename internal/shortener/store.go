package shortener

import (
	"context"
	"time"
)

// Store persists short link records. Implementations must make each method
// atomic with respect to the others for a given shortcode.
//
// Errors are *errx.Error values wrapping ErrDuplicateKey, ErrNotFound or
// ErrStillActive where applicable; backend failures are errx.Unavailable.
type Store interface {
	// CreateIfAbsent inserts rec unless its shortcode exists. Among concurrent
	// calls for the same shortcode exactly one succeeds.
	CreateIfAbsent(ctx context.Context, rec Record) (Record, error)
	// FindByCode returns a snapshot of the record, clicks included.
	FindByCode(ctx context.Context, shortcode string) (Record, error)
	// AppendClick adds click to the record's history. Concurrent appends are never lost.
	AppendClick(ctx context.Context, shortcode string, click ClickEvent) error
	// DeleteIfExpired removes the record only if it is expired at now.
	DeleteIfExpired(ctx context.Context, shortcode string, now time.Time) error
	// ListAll returns every record, newest first.
	ListAll(ctx context.Context) ([]Record, error)
}

// Target is the part of a record a redirect needs.
type Target struct {
	OriginalURL string    `json:"originalUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// TargetCache is an optional read-through cache in front of Store for redirects.
type TargetCache interface {
	Get(ctx context.Context, shortcode string) (Target, bool, error)
	Set(ctx context.Context, shortcode string, t Target) error
	Delete(ctx context.Context, shortcode string) error
}
