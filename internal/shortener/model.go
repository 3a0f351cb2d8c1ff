package shortener

import (
	"time"

	"github.com/google/uuid"

	"github.com/sundayezeilo/shortlinks/internal/clock"
	"github.com/sundayezeilo/shortlinks/internal/geo"
)

const (
	// DefaultReferrer is recorded when a visit carries no Referer header.
	DefaultReferrer = "direct"
	// DefaultUserAgent is recorded when a visit carries no User-Agent header.
	DefaultUserAgent = "Unknown"
)

// Record is a stored short link together with its click history.
type Record struct {
	ID          uuid.UUID
	Shortcode   string
	OriginalURL string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Clicks      []ClickEvent
	// IsActive is persisted for compatibility but never consulted by redirects.
	IsActive bool
}

// Clone returns a copy of r that shares no click storage with it.
func (r Record) Clone() Record {
	out := r
	if r.Clicks != nil {
		out.Clicks = make([]ClickEvent, len(r.Clicks))
		copy(out.Clicks, r.Clicks)
	}
	return out
}

// Expired reports whether r is past its expiry at now.
func (r Record) Expired(now time.Time) bool {
	return clock.IsExpired(now, r.ExpiresAt)
}

// ClickEvent is one recorded redirect.
type ClickEvent struct {
	Timestamp time.Time
	Referrer  string
	IPAddress string
	UserAgent string
	Location  geo.Location
}

// ClickContext is what the transport knows about a visitor.
// Empty fields are filled with defaults when the click is recorded.
type ClickContext struct {
	Referrer  string
	IPAddress string
	UserAgent string
}

// Stats is the analytics view of a Record.
type Stats struct {
	Shortcode   string
	OriginalURL string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	TotalClicks int
	IsExpired   bool
	Clicks      []ClickSummary
}

// ClickSummary is the per-click detail exposed by Stats.
// IP address and user agent are deliberately left out.
type ClickSummary struct {
	Timestamp time.Time
	Referrer  string
	Location  geo.Location
}
