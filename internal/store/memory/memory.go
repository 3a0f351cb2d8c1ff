// Package memory is a process-local shortener.Store used for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sundayezeilo/shortlinks/internal/errx"
	"github.com/sundayezeilo/shortlinks/internal/idgen"
	"github.com/sundayezeilo/shortlinks/internal/shortener"
)

// Store keeps records in a map guarded by one RWMutex. Every mutation happens
// inside a single critical section, so a cancelled caller never leaves a
// partial write behind.
type Store struct {
	mu    sync.RWMutex
	data  map[string]*shortener.Record
	idGen idgen.Generator
}

func New() *Store {
	return &Store{
		data:  make(map[string]*shortener.Record),
		idGen: idgen.NewV7(),
	}
}

func (s *Store) CreateIfAbsent(ctx context.Context, rec shortener.Record) (shortener.Record, error) {
	const op = "store.memory.CreateIfAbsent"

	if err := ctx.Err(); err != nil {
		return shortener.Record{}, errx.E(op, errx.Unavailable, err)
	}

	id, err := idgen.Ensure(s.idGen, rec.ID)
	if err != nil {
		return shortener.Record{}, errx.E(op, errx.Internal, err)
	}
	rec.ID = id

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[rec.Shortcode]; exists {
		return shortener.Record{}, errx.E(op, errx.Conflict, shortener.ErrDuplicateKey)
	}

	stored := rec.Clone()
	s.data[rec.Shortcode] = &stored
	return rec.Clone(), nil
}

func (s *Store) FindByCode(ctx context.Context, shortcode string) (shortener.Record, error) {
	const op = "store.memory.FindByCode"

	if err := ctx.Err(); err != nil {
		return shortener.Record{}, errx.E(op, errx.Unavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.data[shortcode]
	if !exists {
		return shortener.Record{}, errx.E(op, errx.NotFound, shortener.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *Store) AppendClick(ctx context.Context, shortcode string, click shortener.ClickEvent) error {
	const op = "store.memory.AppendClick"

	if err := ctx.Err(); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.data[shortcode]
	if !exists {
		return errx.E(op, errx.NotFound, shortener.ErrNotFound)
	}
	rec.Clicks = append(rec.Clicks, click)
	return nil
}

func (s *Store) DeleteIfExpired(ctx context.Context, shortcode string, now time.Time) error {
	const op = "store.memory.DeleteIfExpired"

	if err := ctx.Err(); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.data[shortcode]
	if !exists {
		return errx.E(op, errx.NotFound, shortener.ErrNotFound)
	}
	if !rec.Expired(now) {
		return errx.E(op, errx.Conflict, shortener.ErrStillActive)
	}
	delete(s.data, shortcode)
	return nil
}

func (s *Store) ListAll(ctx context.Context) ([]shortener.Record, error) {
	const op = "store.memory.ListAll"

	if err := ctx.Err(); err != nil {
		return nil, errx.E(op, errx.Unavailable, err)
	}

	s.mu.RLock()
	out := make([]shortener.Record, 0, len(s.data))
	for _, rec := range s.data {
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Shortcode < out[j].Shortcode
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Close is a no-op so the memory store satisfies the same lifecycle as SQL stores.
func (s *Store) Close() error { return nil }

var _ shortener.Store = (*Store)(nil)
