// Package storetest holds the behavioral suite every shortener.Store must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sundayezeilo/shortlinks/internal/errx"
	"github.com/sundayezeilo/shortlinks/internal/geo"
	"github.com/sundayezeilo/shortlinks/internal/shortener"
)

// Epoch is the creation time used by fixtures. Millisecond precision keeps
// round trips exact on every backend.
var Epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// NewRecord returns a record created at Epoch+offset that lives for validity.
func NewRecord(code string, offset, validity time.Duration) shortener.Record {
	created := Epoch.Add(offset)
	return shortener.Record{
		Shortcode:   code,
		OriginalURL: "https://example.com/" + code,
		CreatedAt:   created,
		ExpiresAt:   created.Add(validity),
		IsActive:    true,
	}
}

// Run exercises a Store implementation. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) shortener.Store) {
	t.Run("CreateAndFind", func(t *testing.T) { testCreateAndFind(t, newStore(t)) })
	t.Run("DuplicateShortcode", func(t *testing.T) { testDuplicate(t, newStore(t)) })
	t.Run("ConcurrentCreateOneWinner", func(t *testing.T) { testConcurrentCreate(t, newStore(t)) })
	t.Run("FindMissing", func(t *testing.T) { testFindMissing(t, newStore(t)) })
	t.Run("AppendClickKeepsOrder", func(t *testing.T) { testAppendOrder(t, newStore(t)) })
	t.Run("ConcurrentAppendsLossless", func(t *testing.T) { testConcurrentAppend(t, newStore(t)) })
	t.Run("AppendClickMissing", func(t *testing.T) { testAppendMissing(t, newStore(t)) })
	t.Run("DeleteIfExpired", func(t *testing.T) { testDeleteIfExpired(t, newStore(t)) })
	t.Run("ListAllNewestFirst", func(t *testing.T) { testListAll(t, newStore(t)) })
}

func testCreateAndFind(t *testing.T, s shortener.Store) {
	ctx := context.Background()
	in := NewRecord("roundtrip", 0, 30*time.Minute)

	created, err := s.CreateIfAbsent(ctx, in)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, in.Shortcode, created.Shortcode)

	got, err := s.FindByCode(ctx, "roundtrip")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, in.OriginalURL, got.OriginalURL)
	assert.True(t, in.CreatedAt.Equal(got.CreatedAt), "CreatedAt %v != %v", got.CreatedAt, in.CreatedAt)
	assert.True(t, in.ExpiresAt.Equal(got.ExpiresAt), "ExpiresAt %v != %v", got.ExpiresAt, in.ExpiresAt)
	assert.True(t, got.IsActive)
	assert.Empty(t, got.Clicks)

	again, err := s.FindByCode(ctx, "roundtrip")
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func testDuplicate(t *testing.T, s shortener.Store) {
	ctx := context.Background()

	_, err := s.CreateIfAbsent(ctx, NewRecord("dupe", 0, time.Minute))
	require.NoError(t, err)

	second := NewRecord("dupe", time.Second, time.Hour)
	second.OriginalURL = "https://other.example"
	_, err = s.CreateIfAbsent(ctx, second)
	assert.ErrorIs(t, err, shortener.ErrDuplicateKey)
	assert.Equal(t, errx.Conflict, errx.KindOf(err))

	got, err := s.FindByCode(ctx, "dupe")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/dupe", got.OriginalURL)
}

func testConcurrentCreate(t *testing.T, s shortener.Store) {
	ctx := context.Background()
	const n = 16

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int
		dupes int
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := NewRecord("contested", time.Duration(i)*time.Millisecond, time.Minute)
			_, err := s.CreateIfAbsent(ctx, rec)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, shortener.ErrDuplicateKey):
				dupes++
			default:
				t.Errorf("CreateIfAbsent: unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, dupes)
}

func testFindMissing(t *testing.T, s shortener.Store) {
	_, err := s.FindByCode(context.Background(), "nothere")
	assert.ErrorIs(t, err, shortener.ErrNotFound)
	assert.Equal(t, errx.NotFound, errx.KindOf(err))
}

func testAppendOrder(t *testing.T, s shortener.Store) {
	ctx := context.Background()
	_, err := s.CreateIfAbsent(ctx, NewRecord("ordered", 0, time.Hour))
	require.NoError(t, err)

	want := []shortener.ClickEvent{
		{
			Timestamp: Epoch.Add(time.Second),
			Referrer:  "direct",
			IPAddress: "",
			UserAgent: "Unknown",
			Location:  geo.UnknownLocation(),
		},
		{
			Timestamp: Epoch.Add(2 * time.Second),
			Referrer:  "https://news.example/",
			IPAddress: "203.0.113.7",
			UserAgent: "Mozilla/5.0",
			Location:  geo.Location{Country: "NG", Region: "LA", City: "Lagos"},
		},
		{
			Timestamp: Epoch.Add(2 * time.Second),
			Referrer:  "direct",
			IPAddress: "2001:db8::1",
			UserAgent: "curl/8.5",
			Location:  geo.Location{Country: "DE", Region: "BE", City: "Berlin"},
		},
	}
	for _, c := range want {
		require.NoError(t, s.AppendClick(ctx, "ordered", c))
	}

	got, err := s.FindByCode(ctx, "ordered")
	require.NoError(t, err)
	require.Len(t, got.Clicks, len(want))
	for i := range want {
		assert.True(t, want[i].Timestamp.Equal(got.Clicks[i].Timestamp), "click %d timestamp", i)
		assert.Equal(t, want[i].Referrer, got.Clicks[i].Referrer, "click %d", i)
		assert.Equal(t, want[i].IPAddress, got.Clicks[i].IPAddress, "click %d", i)
		assert.Equal(t, want[i].UserAgent, got.Clicks[i].UserAgent, "click %d", i)
		assert.Equal(t, want[i].Location, got.Clicks[i].Location, "click %d", i)
	}
}

func testConcurrentAppend(t *testing.T, s shortener.Store) {
	ctx := context.Background()
	_, err := s.CreateIfAbsent(ctx, NewRecord("busy", 0, time.Hour))
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.AppendClick(ctx, "busy", shortener.ClickEvent{
				Timestamp: Epoch.Add(time.Duration(i) * time.Millisecond),
				Referrer:  fmt.Sprintf("ref-%d", i),
				UserAgent: "Unknown",
				Location:  geo.UnknownLocation(),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.FindByCode(ctx, "busy")
	require.NoError(t, err)
	assert.Len(t, got.Clicks, n)

	seen := make(map[string]bool, n)
	for _, c := range got.Clicks {
		seen[c.Referrer] = true
	}
	assert.Len(t, seen, n, "every click is distinct")
}

func testAppendMissing(t *testing.T, s shortener.Store) {
	err := s.AppendClick(context.Background(), "ghost", shortener.ClickEvent{Timestamp: Epoch, Location: geo.UnknownLocation()})
	assert.ErrorIs(t, err, shortener.ErrNotFound)
	assert.Equal(t, errx.NotFound, errx.KindOf(err))
}

func testDeleteIfExpired(t *testing.T, s shortener.Store) {
	ctx := context.Background()
	rec := NewRecord("doomed", 0, time.Minute)
	_, err := s.CreateIfAbsent(ctx, rec)
	require.NoError(t, err)
	require.NoError(t, s.AppendClick(ctx, "doomed", shortener.ClickEvent{Timestamp: Epoch, Location: geo.UnknownLocation()}))

	for _, now := range []time.Time{rec.CreatedAt, rec.ExpiresAt} {
		err = s.DeleteIfExpired(ctx, "doomed", now)
		assert.ErrorIs(t, err, shortener.ErrStillActive)
		assert.Equal(t, errx.Conflict, errx.KindOf(err))
	}
	_, err = s.FindByCode(ctx, "doomed")
	require.NoError(t, err, "active record must survive a refused delete")

	require.NoError(t, s.DeleteIfExpired(ctx, "doomed", rec.ExpiresAt.Add(time.Millisecond)))

	_, err = s.FindByCode(ctx, "doomed")
	assert.ErrorIs(t, err, shortener.ErrNotFound)

	err = s.DeleteIfExpired(ctx, "doomed", rec.ExpiresAt.Add(time.Hour))
	assert.ErrorIs(t, err, shortener.ErrNotFound)

	// The shortcode is free again and starts without history.
	_, err = s.CreateIfAbsent(ctx, NewRecord("doomed", time.Hour, time.Minute))
	require.NoError(t, err)
	reborn, err := s.FindByCode(ctx, "doomed")
	require.NoError(t, err)
	assert.Empty(t, reborn.Clicks)
}

func testListAll(t *testing.T, s shortener.Store) {
	ctx := context.Background()

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	for i, code := range []string{"oldest", "middle", "newest"} {
		_, err := s.CreateIfAbsent(ctx, NewRecord(code, time.Duration(i)*time.Minute, time.Hour))
		require.NoError(t, err)
	}
	require.NoError(t, s.AppendClick(ctx, "middle", shortener.ClickEvent{Timestamp: Epoch, Referrer: "direct", Location: geo.UnknownLocation()}))

	all, err = s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "newest", all[0].Shortcode)
	assert.Equal(t, "middle", all[1].Shortcode)
	assert.Equal(t, "oldest", all[2].Shortcode)
	assert.Len(t, all[1].Clicks, 1)
	assert.Empty(t, all[0].Clicks)
}
