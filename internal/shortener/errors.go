package shortener

import (
	"errors"

	"github.com/sundayezeilo/shortlinks/internal/clock"
)

var (
	ErrInvalidURL       = errors.New("invalid url")
	ErrInvalidValidity  = clock.ErrInvalidValidity
	ErrInvalidShortcode = errors.New("shortcode must be 1-20 alphanumeric characters")

	ErrShortcodeTaken      = errors.New("shortcode already exists")
	ErrGenerationExhausted = errors.New("failed to generate unique shortcode")

	// ErrDuplicateKey is returned by stores when a shortcode is already present.
	ErrDuplicateKey = errors.New("duplicate shortcode")
	ErrNotFound     = errors.New("short url not found")
	ErrExpired      = errors.New("short url has expired")
	ErrStillActive  = errors.New("cannot delete an active short url")
)
