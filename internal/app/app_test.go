package app

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setAppEnv(t *testing.T, driver string, extra map[string]string) {
	t.Helper()
	env := map[string]string{
		"SERVER_PORT":             "0",
		"SERVER_HOST":             "127.0.0.1",
		"SERVER_BASE_URL":         "http://sho.rt",
		"SERVER_READ_TIMEOUT":     "5s",
		"SERVER_WRITE_TIMEOUT":    "5s",
		"SERVER_IDLE_TIMEOUT":     "30s",
		"SERVER_SHUTDOWN_TIMEOUT": "1s",
		"STORE_DRIVER":            driver,
		"APP_ENV":                 "production",
		"LOG_LEVEL":               "error",
	}
	for k, v := range extra {
		env[k] = v
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
	for _, k := range []string{"REDIS_ENABLED", "REDIS_URL", "GEOIP_DB_PATH", "SERVER_CORS_ORIGINS"} {
		if _, ok := env[k]; !ok {
			t.Setenv(k, "")
			os.Unsetenv(k)
		}
	}
}

func TestNew_MemoryStore(t *testing.T) {
	setAppEnv(t, "memory", nil)

	a, err := New(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown() })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/shorturls", strings.NewReader(`{"url":"https://example.com","shortcode":"boot1"}`))
	a.Server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"shortLink":"http://sho.rt/boot1"`)
}

func TestNew_SQLiteStoreClosedOnShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "links.db")
	setAppEnv(t, "sqlite", map[string]string{"SQLITE_PATH": path})

	a, err := New(context.Background())
	require.NoError(t, err)
	require.Len(t, a.closers, 1)
	assert.Equal(t, "sqlite", a.closers[0].name)

	require.NoError(t, a.Shutdown())
	assert.Empty(t, a.closers)
	assert.FileExists(t, path)
}

func TestNew_BadGeoIPPath(t *testing.T) {
	dir := t.TempDir()
	setAppEnv(t, "sqlite", map[string]string{
		"SQLITE_PATH":   filepath.Join(dir, "links.db"),
		"GEOIP_DB_PATH": filepath.Join(dir, "missing.mmdb"),
	})

	_, err := New(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "geoip")
}

func TestNew_InvalidConfig(t *testing.T) {
	setAppEnv(t, "mongo", nil)

	_, err := New(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := setupLogger(tt.level)
			assert.True(t, logger.Enabled(context.Background(), tt.want))
			if tt.want > slog.LevelDebug {
				assert.False(t, logger.Enabled(context.Background(), tt.want-1))
			}
		})
	}
}
