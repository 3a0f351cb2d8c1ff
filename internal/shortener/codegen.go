package shortener

import (
	"context"
	"errors"
	"regexp"

	"github.com/sundayezeilo/shortlinks/internal/errx"
	"github.com/sundayezeilo/shortlinks/sluggen"
)

const (
	DefaultCodeLength  = 6
	MaxShortcodeLength = 20
	DefaultMaxAttempts = 10
)

var shortcodePattern = regexp.MustCompile(`^[A-Za-z0-9]{1,20}$`)

// ValidateShortcode reports whether code is a well-formed shortcode.
func ValidateShortcode(code string) error {
	if !shortcodePattern.MatchString(code) {
		return ErrInvalidShortcode
	}
	return nil
}

// CodeGenerator picks shortcodes that are not yet in use.
type CodeGenerator struct {
	store       Store
	slugs       sluggen.Generator
	length      int
	maxAttempts int
}

type CodeGeneratorConfig struct {
	Slugs       sluggen.Generator
	Length      int // default: 6
	MaxAttempts int // random candidates tried before giving up (default: 10)
}

func NewCodeGenerator(store Store, config *CodeGeneratorConfig) *CodeGenerator {
	if config == nil {
		config = &CodeGeneratorConfig{}
	}

	slugs := config.Slugs
	if slugs == nil {
		slugs = sluggen.NewBase62()
	}

	length := config.Length
	if length <= 0 || length > MaxShortcodeLength {
		length = DefaultCodeLength
	}

	attempts := config.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	return &CodeGenerator{
		store:       store,
		slugs:       slugs,
		length:      length,
		maxAttempts: attempts,
	}
}

// Generate returns requested if it is valid and free, or a fresh random code
// when requested is empty. The result is only a candidate: the caller's
// CreateIfAbsent decides who actually gets it.
func (g *CodeGenerator) Generate(ctx context.Context, requested string) (string, error) {
	const op = "shortener.codegen.Generate"

	if requested != "" {
		if err := ValidateShortcode(requested); err != nil {
			return "", errx.E(op, errx.Invalid, err)
		}
		taken, err := g.inUse(ctx, requested)
		if err != nil {
			return "", errx.Wrap(op, err, errx.Unavailable)
		}
		if taken {
			return "", errx.E(op, errx.Conflict, ErrShortcodeTaken)
		}
		return requested, nil
	}

	code, _, err := g.random(ctx, g.maxAttempts)
	if err != nil {
		return "", errx.Wrap(op, err, errx.Internal)
	}
	return code, nil
}

// random draws at most budget candidates and returns the first one not in use
// along with the number of candidates drawn.
func (g *CodeGenerator) random(ctx context.Context, budget int) (string, int, error) {
	const op = "shortener.codegen.random"

	for attempt := 1; attempt <= budget; attempt++ {
		code, err := g.slugs.Generate(g.length)
		if err != nil {
			return "", attempt, errx.E(op, errx.Internal, err)
		}
		taken, err := g.inUse(ctx, code)
		if err != nil {
			return "", attempt, errx.Wrap(op, err, errx.Unavailable)
		}
		if !taken {
			return code, attempt, nil
		}
	}
	return "", budget, errx.E(op, errx.Internal, ErrGenerationExhausted)
}

func (g *CodeGenerator) inUse(ctx context.Context, code string) (bool, error) {
	_, err := g.store.FindByCode(ctx, code)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
