package shortener

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sundayezeilo/shortlinks/internal/errx"
	"github.com/sundayezeilo/shortlinks/internal/geo"
)

func activeRecord(code string) Record {
	return Record{
		Shortcode:   code,
		OriginalURL: "https://example.com/" + code,
		CreatedAt:   testEpoch,
		ExpiresAt:   testEpoch.Add(time.Minute),
		IsActive:    true,
	}
}

func storeWith(recs ...Record) *mapStore {
	s := newMapStore()
	for _, rec := range recs {
		if _, err := s.CreateIfAbsent(context.Background(), rec); err != nil {
			panic(err)
		}
	}
	return s
}

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("records one click and returns the url", func(t *testing.T) {
		store := storeWith(activeRecord("abc123"))
		r := NewResolver(store, nil)

		got, err := r.Resolve(ctx, "abc123", testEpoch.Add(time.Second), ClickContext{
			Referrer:  "https://news.example/",
			IPAddress: "203.0.113.9",
			UserAgent: "curl/8.5",
		})
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/abc123", got)

		rec, err := store.FindByCode(ctx, "abc123")
		require.NoError(t, err)
		require.Len(t, rec.Clicks, 1)
		click := rec.Clicks[0]
		assert.Equal(t, testEpoch.Add(time.Second), click.Timestamp)
		assert.Equal(t, "https://news.example/", click.Referrer)
		assert.Equal(t, "203.0.113.9", click.IPAddress)
		assert.Equal(t, "curl/8.5", click.UserAgent)
		assert.Equal(t, geo.UnknownLocation(), click.Location)
	})

	t.Run("fills defaults for missing context", func(t *testing.T) {
		store := storeWith(activeRecord("abc123"))
		r := NewResolver(store, nil)

		_, err := r.Resolve(ctx, "abc123", testEpoch, ClickContext{})
		require.NoError(t, err)

		rec, _ := store.FindByCode(ctx, "abc123")
		require.Len(t, rec.Clicks, 1)
		assert.Equal(t, DefaultReferrer, rec.Clicks[0].Referrer)
		assert.Equal(t, DefaultUserAgent, rec.Clicks[0].UserAgent)
		assert.Empty(t, rec.Clicks[0].IPAddress)
	})

	t.Run("missing code", func(t *testing.T) {
		r := NewResolver(newMapStore(), nil)
		_, err := r.Resolve(ctx, "nope", testEpoch, ClickContext{})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, errx.NotFound, errx.KindOf(err))
	})

	t.Run("expiry boundary is still valid", func(t *testing.T) {
		store := storeWith(activeRecord("edge"))
		r := NewResolver(store, nil)

		_, err := r.Resolve(ctx, "edge", testEpoch.Add(time.Minute), ClickContext{})
		assert.NoError(t, err)
	})

	t.Run("expired link records nothing", func(t *testing.T) {
		var appends atomic.Int32
		rec := activeRecord("old")
		store := &mockStore{
			findByCodeFunc: func(context.Context, string) (Record, error) { return rec, nil },
			appendClickFunc: func(context.Context, string, ClickEvent) error {
				appends.Add(1)
				return nil
			},
		}
		r := NewResolver(store, nil)

		_, err := r.Resolve(ctx, "old", rec.ExpiresAt.Add(time.Nanosecond), ClickContext{})
		assert.ErrorIs(t, err, ErrExpired)
		assert.Equal(t, errx.Gone, errx.KindOf(err))
		assert.Zero(t, appends.Load())
	})

	t.Run("append failure fails the resolve", func(t *testing.T) {
		boom := errors.New("disk full")
		store := &mockStore{
			findByCodeFunc:  func(context.Context, string) (Record, error) { return activeRecord("x"), nil },
			appendClickFunc: func(context.Context, string, ClickEvent) error { return boom },
		}
		r := NewResolver(store, nil)

		got, err := r.Resolve(ctx, "x", testEpoch, ClickContext{})
		assert.Empty(t, got)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, errx.Unavailable, errx.KindOf(err))
	})

	t.Run("deleted between lookup and append", func(t *testing.T) {
		cache := newMockCache()
		store := &mockStore{
			findByCodeFunc: func(context.Context, string) (Record, error) { return activeRecord("gone"), nil },
			appendClickFunc: func(context.Context, string, ClickEvent) error {
				return errx.E("mock", errx.NotFound, ErrNotFound)
			},
		}
		r := NewResolver(store, &ResolverConfig{Cache: cache})

		_, err := r.Resolve(ctx, "gone", testEpoch, ClickContext{})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Contains(t, cache.deletes, "gone")
	})

	t.Run("concurrent redirects are all recorded", func(t *testing.T) {
		store := storeWith(activeRecord("hot"))
		r := NewResolver(store, nil)

		const n = 100
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := r.Resolve(ctx, "hot", testEpoch.Add(time.Duration(i)*time.Millisecond), ClickContext{})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		rec, err := store.FindByCode(ctx, "hot")
		require.NoError(t, err)
		assert.Len(t, rec.Clicks, n)
	})
}

func TestResolver_Geolocation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		locator geo.Locator
		want    geo.Location
	}{
		{
			name: "found",
			locator: geo.LocatorFunc(func(context.Context, string) (geo.Location, bool, error) {
				return geo.Location{Country: "NG", Region: "LA", City: "Lagos"}, true, nil
			}),
			want: geo.Location{Country: "NG", Region: "LA", City: "Lagos"},
		},
		{
			name: "partial result",
			locator: geo.LocatorFunc(func(context.Context, string) (geo.Location, bool, error) {
				return geo.Location{Country: "NG"}, true, nil
			}),
			want: geo.Location{Country: "NG", Region: geo.Unknown, City: geo.Unknown},
		},
		{
			name:    "not found",
			locator: geo.Nop{},
			want:    geo.UnknownLocation(),
		},
		{
			name: "lookup error",
			locator: geo.LocatorFunc(func(context.Context, string) (geo.Location, bool, error) {
				return geo.Location{}, false, errors.New("reader closed")
			}),
			want: geo.UnknownLocation(),
		},
		{
			name: "lookup timeout",
			locator: geo.LocatorFunc(func(ctx context.Context, _ string) (geo.Location, bool, error) {
				<-ctx.Done()
				return geo.Location{}, false, ctx.Err()
			}),
			want: geo.UnknownLocation(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storeWith(activeRecord("geo"))
			r := NewResolver(store, &ResolverConfig{Locator: tt.locator, LookupTimeout: 20 * time.Millisecond})

			_, err := r.Resolve(ctx, "geo", testEpoch, ClickContext{IPAddress: "198.51.100.4"})
			require.NoError(t, err)

			rec, _ := store.FindByCode(ctx, "geo")
			require.Len(t, rec.Clicks, 1)
			assert.Equal(t, tt.want, rec.Clicks[0].Location)
		})
	}

	t.Run("no lookup without an address", func(t *testing.T) {
		called := false
		locator := geo.LocatorFunc(func(context.Context, string) (geo.Location, bool, error) {
			called = true
			return geo.Location{}, false, nil
		})
		r := NewResolver(storeWith(activeRecord("geo")), &ResolverConfig{Locator: locator})

		_, err := r.Resolve(ctx, "geo", testEpoch, ClickContext{})
		require.NoError(t, err)
		assert.False(t, called)
	})
}

func TestResolver_Cache(t *testing.T) {
	ctx := context.Background()

	t.Run("populates cache on miss and serves from it", func(t *testing.T) {
		var finds atomic.Int32
		rec := activeRecord("cached")
		store := &mockStore{
			findByCodeFunc: func(context.Context, string) (Record, error) {
				finds.Add(1)
				return rec, nil
			},
		}
		cache := newMockCache()
		r := NewResolver(store, &ResolverConfig{Cache: cache})

		for range 3 {
			got, err := r.Resolve(ctx, "cached", testEpoch, ClickContext{})
			require.NoError(t, err)
			assert.Equal(t, rec.OriginalURL, got)
		}
		assert.Equal(t, int32(1), finds.Load())
		assert.Equal(t, Target{OriginalURL: rec.OriginalURL, ExpiresAt: rec.ExpiresAt}, cache.entries["cached"])
	})

	t.Run("expired cache entry falls through to the store", func(t *testing.T) {
		cache := newMockCache()
		cache.entries["stale"] = Target{OriginalURL: "https://old.example", ExpiresAt: testEpoch.Add(-time.Hour)}
		r := NewResolver(storeWith(activeRecord("stale")), &ResolverConfig{Cache: cache})

		got, err := r.Resolve(ctx, "stale", testEpoch, ClickContext{})
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/stale", got)
	})

	t.Run("expired records are not cached", func(t *testing.T) {
		cache := newMockCache()
		r := NewResolver(storeWith(activeRecord("old")), &ResolverConfig{Cache: cache})

		_, err := r.Resolve(ctx, "old", testEpoch.Add(time.Hour), ClickContext{})
		assert.ErrorIs(t, err, ErrExpired)
		assert.Empty(t, cache.entries)
	})

	t.Run("cache failures degrade to the store", func(t *testing.T) {
		cache := newMockCache()
		cache.err = errors.New("redis: connection refused")
		store := storeWith(activeRecord("flaky"))
		r := NewResolver(store, &ResolverConfig{Cache: cache})

		got, err := r.Resolve(ctx, "flaky", testEpoch, ClickContext{})
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/flaky", got)

		rec, _ := store.FindByCode(ctx, "flaky")
		assert.Len(t, rec.Clicks, 1)
	})
}
