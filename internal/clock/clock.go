// Package clock holds the validity rules for short links: expiry arithmetic and
// the expiry check. Both are pure functions of the time they are given; the
// Clock interface is how callers obtain "now".
package clock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	DefaultValidityMinutes = 30

	// MaxValidityMinutes keeps createdAt + validity representable as a time.Duration.
	MaxValidityMinutes = 100 * 365 * 24 * 60
)

// ErrInvalidValidity is returned when a validity is not a positive number of minutes.
var ErrInvalidValidity = errors.New("validity must be a positive integer representing minutes")

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Mock is a Clock with controllable time. Safe for concurrent use.
type Mock struct {
	mu      sync.Mutex
	current time.Time
}

// NewMock returns a Mock set to t.
func NewMock(t time.Time) *Mock {
	return &Mock{current: t}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Advance moves the clock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.current = m.current.Add(d)
	m.mu.Unlock()
}

// Set moves the clock to t.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	m.current = t
	m.mu.Unlock()
}

// ComputeExpiry returns createdAt + validityMinutes minutes.
func ComputeExpiry(createdAt time.Time, validityMinutes int) (time.Time, error) {
	if validityMinutes <= 0 {
		return time.Time{}, fmt.Errorf("%w: got %d", ErrInvalidValidity, validityMinutes)
	}
	if validityMinutes > MaxValidityMinutes {
		return time.Time{}, fmt.Errorf("%w: %d exceeds maximum of %d", ErrInvalidValidity, validityMinutes, MaxValidityMinutes)
	}
	return createdAt.Add(time.Duration(validityMinutes) * time.Minute), nil
}

// IsExpired reports whether now is strictly after expiresAt.
// A link is still valid at exactly expiresAt.
func IsExpired(now, expiresAt time.Time) bool {
	return now.After(expiresAt)
}
