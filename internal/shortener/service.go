package shortener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/sundayezeilo/shortlinks/internal/clock"
	"github.com/sundayezeilo/shortlinks/internal/errx"
	"github.com/sundayezeilo/shortlinks/internal/geo"
	"github.com/sundayezeilo/shortlinks/sluggen"
)

const MaxURLLength = 2048

// CreateRequest represents the parameters for creating a new short link.
type CreateRequest struct {
	URL             string
	ValidityMinutes *int   // nil means the configured default
	Shortcode       string // optional, generated when empty
}

// Service defines the business logic operations for URL shortening.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (Record, error)
	Resolve(ctx context.Context, code string, cc ClickContext) (string, error)
	Stats(ctx context.Context, code string) (Stats, error)
	ListStats(ctx context.Context) ([]Stats, error)
	Delete(ctx context.Context, code string) error
}

type service struct {
	store           Store
	clock           clock.Clock
	codes           *CodeGenerator
	resolver        *Resolver
	analytics       *Analytics
	defaultValidity int
}

// ServiceConfig holds configuration for the service.
type ServiceConfig struct {
	Clock                  clock.Clock
	Slugs                  sluggen.Generator
	CodeLength             int
	MaxGenerateAttempts    int
	DefaultValidityMinutes int // default: 30
	Cache                  TargetCache
	Locator                geo.Locator
	LookupTimeout          time.Duration
	Logger                 *slog.Logger
}

// NewService creates a new service instance.
func NewService(store Store, config *ServiceConfig) Service {
	if config == nil {
		config = &ServiceConfig{}
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	validity := config.DefaultValidityMinutes
	if validity <= 0 || validity > clock.MaxValidityMinutes {
		validity = clock.DefaultValidityMinutes
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &service{
		store: store,
		clock: clk,
		codes: NewCodeGenerator(store, &CodeGeneratorConfig{
			Slugs:       config.Slugs,
			Length:      config.CodeLength,
			MaxAttempts: config.MaxGenerateAttempts,
		}),
		resolver: NewResolver(store, &ResolverConfig{
			Cache:         config.Cache,
			Locator:       config.Locator,
			LookupTimeout: config.LookupTimeout,
			Logger:        logger,
		}),
		analytics: NewAnalytics(store, &AnalyticsConfig{
			Cache:  config.Cache,
			Logger: logger,
		}),
		defaultValidity: validity,
	}
}

// Create stores a new short link, either under the requested shortcode or a
// generated one.
func (s *service) Create(ctx context.Context, req CreateRequest) (Record, error) {
	const op = "shortener.service.Create"

	if err := validateURL(req.URL); err != nil {
		return Record{}, errx.E(op, errx.Invalid, err)
	}

	validity := s.defaultValidity
	if req.ValidityMinutes != nil {
		validity = *req.ValidityMinutes
	}

	createdAt := s.clock.Now().UTC().Truncate(time.Millisecond)
	expiresAt, err := clock.ComputeExpiry(createdAt, validity)
	if err != nil {
		return Record{}, errx.E(op, errx.Invalid, err)
	}

	rec := Record{
		OriginalURL: req.URL,
		CreatedAt:   createdAt,
		ExpiresAt:   expiresAt,
		IsActive:    true,
	}

	if req.Shortcode != "" {
		code, err := s.codes.Generate(ctx, req.Shortcode)
		if err != nil {
			return Record{}, errx.Wrap(op, err, errx.Internal)
		}

		rec.Shortcode = code
		created, err := s.store.CreateIfAbsent(ctx, rec)
		if errors.Is(err, ErrDuplicateKey) {
			return Record{}, errx.E(op, errx.Conflict, ErrShortcodeTaken)
		}
		if err != nil {
			return Record{}, errx.Wrap(op, err, errx.Unavailable)
		}
		return created, nil
	}

	// Generated codes share one attempt budget across the availability
	// check and the insert, so a lost insert race costs an attempt too.
	budget := s.codes.maxAttempts
	for budget > 0 {
		code, used, err := s.codes.random(ctx, budget)
		budget -= used
		if err != nil {
			return Record{}, errx.Wrap(op, err, errx.Internal)
		}

		rec.Shortcode = code
		created, err := s.store.CreateIfAbsent(ctx, rec)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, ErrDuplicateKey) {
			return Record{}, errx.Wrap(op, err, errx.Unavailable)
		}
	}

	return Record{}, errx.E(op, errx.Internal, ErrGenerationExhausted)
}

func (s *service) Resolve(ctx context.Context, code string, cc ClickContext) (string, error) {
	const op = "shortener.service.Resolve"

	if code == "" {
		return "", errx.E(op, errx.NotFound, ErrNotFound)
	}

	originalURL, err := s.resolver.Resolve(ctx, code, s.clock.Now(), cc)
	if err != nil {
		return "", errx.Wrap(op, err, errx.Unavailable)
	}
	return originalURL, nil
}

func (s *service) Stats(ctx context.Context, code string) (Stats, error) {
	const op = "shortener.service.Stats"

	stats, err := s.analytics.Summary(ctx, code, s.clock.Now())
	if err != nil {
		return Stats{}, errx.Wrap(op, err, errx.Unavailable)
	}
	return stats, nil
}

func (s *service) ListStats(ctx context.Context) ([]Stats, error) {
	const op = "shortener.service.ListStats"

	all, err := s.analytics.SummarizeAll(ctx, s.clock.Now())
	if err != nil {
		return nil, errx.Wrap(op, err, errx.Unavailable)
	}
	return all, nil
}

func (s *service) Delete(ctx context.Context, code string) error {
	const op = "shortener.service.Delete"

	if err := s.analytics.Remove(ctx, code, s.clock.Now()); err != nil {
		return errx.Wrap(op, err, errx.Unavailable)
	}
	return nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	if len(rawURL) > MaxURLLength {
		return fmt.Errorf("%w: too long (max %d characters)", ErrInvalidURL, MaxURLLength)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: malformed", ErrInvalidURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}
