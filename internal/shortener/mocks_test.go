package shortener

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sundayezeilo/shortlinks/internal/errx"
)

/***************
 * Mocks
 ***************/

// mockStore implements Store with overridable behavior per method.
type mockStore struct {
	createIfAbsentFunc  func(ctx context.Context, rec Record) (Record, error)
	findByCodeFunc      func(ctx context.Context, code string) (Record, error)
	appendClickFunc     func(ctx context.Context, code string, click ClickEvent) error
	deleteIfExpiredFunc func(ctx context.Context, code string, now time.Time) error
	listAllFunc         func(ctx context.Context) ([]Record, error)
}

func (m *mockStore) CreateIfAbsent(ctx context.Context, rec Record) (Record, error) {
	if m.createIfAbsentFunc != nil {
		return m.createIfAbsentFunc(ctx, rec)
	}
	rec.ID = uuid.New()
	return rec, nil
}

func (m *mockStore) FindByCode(ctx context.Context, code string) (Record, error) {
	if m.findByCodeFunc != nil {
		return m.findByCodeFunc(ctx, code)
	}
	return Record{}, errx.E("mock.FindByCode", errx.NotFound, ErrNotFound)
}

func (m *mockStore) AppendClick(ctx context.Context, code string, click ClickEvent) error {
	if m.appendClickFunc != nil {
		return m.appendClickFunc(ctx, code, click)
	}
	return nil
}

func (m *mockStore) DeleteIfExpired(ctx context.Context, code string, now time.Time) error {
	if m.deleteIfExpiredFunc != nil {
		return m.deleteIfExpiredFunc(ctx, code, now)
	}
	return nil
}

func (m *mockStore) ListAll(ctx context.Context) ([]Record, error) {
	if m.listAllFunc != nil {
		return m.listAllFunc(ctx)
	}
	return nil, nil
}

// mapStore is a minimal thread-safe Store for tests that need real state.
type mapStore struct {
	mu   sync.Mutex
	recs map[string]*Record
}

func newMapStore() *mapStore {
	return &mapStore{recs: make(map[string]*Record)}
}

func (s *mapStore) CreateIfAbsent(_ context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.Shortcode]; ok {
		return Record{}, errx.E("mapStore.CreateIfAbsent", errx.Conflict, ErrDuplicateKey)
	}
	rec.ID = uuid.New()
	stored := rec.Clone()
	s.recs[rec.Shortcode] = &stored
	return rec, nil
}

func (s *mapStore) FindByCode(_ context.Context, code string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[code]
	if !ok {
		return Record{}, errx.E("mapStore.FindByCode", errx.NotFound, ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *mapStore) AppendClick(_ context.Context, code string, click ClickEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[code]
	if !ok {
		return errx.E("mapStore.AppendClick", errx.NotFound, ErrNotFound)
	}
	rec.Clicks = append(rec.Clicks, click)
	return nil
}

func (s *mapStore) DeleteIfExpired(_ context.Context, code string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[code]
	if !ok {
		return errx.E("mapStore.DeleteIfExpired", errx.NotFound, ErrNotFound)
	}
	if !rec.Expired(now) {
		return errx.E("mapStore.DeleteIfExpired", errx.Conflict, ErrStillActive)
	}
	delete(s.recs, code)
	return nil
}

func (s *mapStore) ListAll(context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// mockSlugGenerator returns slugs in order, then repeats the last one.
type mockSlugGenerator struct {
	generateFunc func(length int) (string, error)
	slugs        []string
	mu           sync.Mutex
	callCount    int
}

func (m *mockSlugGenerator) Generate(length int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++

	if m.generateFunc != nil {
		return m.generateFunc(length)
	}
	if len(m.slugs) > 0 {
		idx := min(m.callCount-1, len(m.slugs)-1)
		return m.slugs[idx], nil
	}
	return "abc123", nil
}

func (m *mockSlugGenerator) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// mockCache implements TargetCache in memory, with optional failures.
type mockCache struct {
	mu      sync.Mutex
	entries map[string]Target
	err     error
	deletes []string
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string]Target)}
}

func (c *mockCache) Get(_ context.Context, code string) (Target, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return Target{}, false, c.err
	}
	t, ok := c.entries[code]
	return t, ok, nil
}

func (c *mockCache) Set(_ context.Context, code string, t Target) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.entries[code] = t
	return nil
}

func (c *mockCache) Delete(_ context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes = append(c.deletes, code)
	if c.err != nil {
		return c.err
	}
	delete(c.entries, code)
	return nil
}
