// Package sluggen generates random alphanumeric shortcodes.
// Generators should be safe for concurrent use.
package sluggen

import (
	"crypto/rand"
	"errors"
	"io"
)

const (
	// Alphabet is the set of characters a generated code is drawn from.
	Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// bytes >= maxUnbiased are rejected so every character is equally likely.
	maxUnbiased = 256 - (256 % len(Alphabet))
)

// Generator generates shortcodes of a given length.
// Implementations should be safe for concurrent use.
type Generator interface {
	Generate(length int) (string, error)
}

type base62Generator struct {
	rand io.Reader
}

// NewBase62 returns a generator backed by crypto/rand.
func NewBase62() Generator {
	return &base62Generator{rand: rand.Reader}
}

// NewBase62From returns a generator reading randomness from r.
func NewBase62From(r io.Reader) Generator {
	return &base62Generator{rand: r}
}

// Generate returns a random base62 string of the given length.
func (g *base62Generator) Generate(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("length must be positive")
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length+length/2)
	for len(out) < length {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= maxUnbiased {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
