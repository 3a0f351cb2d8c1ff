package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/sundayezeilo/shortlinks/internal/cache"
	"github.com/sundayezeilo/shortlinks/internal/config"
	"github.com/sundayezeilo/shortlinks/internal/geo"
	"github.com/sundayezeilo/shortlinks/internal/server"
	"github.com/sundayezeilo/shortlinks/internal/shortener"
	"github.com/sundayezeilo/shortlinks/internal/store/memory"
	"github.com/sundayezeilo/shortlinks/internal/store/postgres"
	"github.com/sundayezeilo/shortlinks/internal/store/sqlite"
)

// App holds the application dependencies and configuration.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Server  *server.Server
	Handler *shortener.Handler

	closers []closer
}

type closer struct {
	name  string
	close func() error
}

// New initializes and returns a new App instance with all dependencies wired up.
func New(ctx context.Context) (*App, error) {
	if err := loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.App.LogLevel).With(
		"service", cfg.Observability.ServiceName,
	)

	logger.Info("starting application",
		"env", cfg.App.Environment,
		"version", cfg.Observability.ServiceVersion,
		"store", cfg.Store.Driver,
	)

	a := &App{Config: cfg, Logger: logger}

	store, err := a.openStore(ctx)
	if err != nil {
		_ = a.Shutdown()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	svcConfig := &shortener.ServiceConfig{
		CodeLength:             cfg.Link.CodeLength,
		MaxGenerateAttempts:    cfg.Link.MaxGenerateAttempts,
		DefaultValidityMinutes: cfg.Link.DefaultValidityMinutes,
		Logger:                 logger,
	}

	if cfg.Redis.Enabled {
		targets, err := a.connectCache(ctx)
		if err != nil {
			_ = a.Shutdown()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		svcConfig.Cache = targets
	}

	locator, err := a.openLocator()
	if err != nil {
		_ = a.Shutdown()
		return nil, fmt.Errorf("failed to open geoip database: %w", err)
	}
	svcConfig.Locator = locator

	svc := shortener.NewService(store, svcConfig)
	a.Handler = shortener.NewHandler(shortener.HandlerConfig{
		Service: svc,
		Logger:  logger,
		BaseURL: cfg.Server.BaseURL,
	})
	a.Server = server.New(cfg, logger, a.Handler)

	logger.Info("application initialized",
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
		"cache", cfg.Redis.Enabled,
		"geoip", cfg.Geo.DBPath != "",
	)

	return a, nil
}

// Start starts the application server.
func (a *App) Start(ctx context.Context) error {
	if err := a.Server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown releases every resource opened by New, newest first.
func (a *App) Shutdown() error {
	a.Logger.Info("shutting down application")

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.Logger.Error("failed to close resource", "resource", c.name, "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
			continue
		}
		a.Logger.Info("resource closed", "resource", c.name)
	}
	a.closers = nil

	return errors.Join(errs...)
}

func (a *App) onShutdown(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, close: fn})
}

// openStore opens the record store selected by STORE_DRIVER.
func (a *App) openStore(ctx context.Context) (shortener.Store, error) {
	switch a.Config.Store.Driver {
	case config.DriverMemory:
		a.Logger.Warn("using in-memory store, data is lost on restart")
		return memory.New(), nil

	case config.DriverSQLite:
		a.Logger.Info("opening sqlite store", "path", a.Config.Store.SQLitePath)
		s, err := sqlite.Open(ctx, a.Config.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.onShutdown("sqlite", s.Close)
		return s, nil

	default:
		pool, err := connectDatabase(ctx, a.Config, a.Logger)
		if err != nil {
			return nil, err
		}
		a.onShutdown("database", func() error {
			pool.Close()
			return nil
		})

		s := postgres.New(pool, nil)
		if err := s.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		return s, nil
	}
}

func (a *App) connectCache(ctx context.Context) (*cache.Targets, error) {
	client, err := cache.Connect(ctx, a.Config.Redis.URL)
	if err != nil {
		return nil, err
	}
	a.onShutdown("redis", client.Close)

	a.Logger.Info("redis cache enabled", "ttl", a.Config.Redis.CacheTTL.String())
	return cache.NewTargets(client, &cache.TargetsConfig{
		TTL: a.Config.Redis.CacheTTL,
	}), nil
}

func (a *App) openLocator() (geo.Locator, error) {
	if a.Config.Geo.DBPath == "" {
		a.Logger.Info("geoip disabled, click locations will be Unknown")
		return geo.Nop{}, nil
	}

	mm, err := geo.OpenMaxMind(a.Config.Geo.DBPath)
	if err != nil {
		return nil, err
	}
	a.onShutdown("geoip", mm.Close)

	return geo.NewCached(mm, a.Config.Geo.CacheTTL), nil
}

// loadEnv loads a .env file in development and test environments only.
func loadEnv() error {
	env := os.Getenv("APP_ENV")
	if env == "development" || env == "test" {
		if err := godotenv.Load(); err != nil {
			log.Println("no .env file found.")
		}
	}
	return nil
}

// setupLogger creates a structured logger based on the log level.
func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	return slog.New(handler)
}

// connectDatabase establishes a connection to the PostgreSQL database.
func connectDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns

	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established")

	return pool, nil
}
