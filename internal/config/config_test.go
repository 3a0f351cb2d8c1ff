package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"SERVER_PORT":             "8080",
		"SERVER_HOST":             "0.0.0.0",
		"SERVER_BASE_URL":         "http://localhost:8080",
		"SERVER_READ_TIMEOUT":     "10s",
		"SERVER_WRITE_TIMEOUT":    "10s",
		"SERVER_IDLE_TIMEOUT":     "120s",
		"SERVER_SHUTDOWN_TIMEOUT": "30s",

		"STORE_DRIVER": "postgres",

		"DB_HOST":      "localhost",
		"DB_PORT":      "5432",
		"DB_USER":      "testuser",
		"DB_PASSWORD":  "testpass",
		"DB_NAME":      "testdb",
		"DB_SSLMODE":   "disable",
		"DB_MAX_CONNS": "25",
		"DB_MIN_CONNS": "5",

		"APP_ENV":   "test",
		"LOG_LEVEL": "debug",
	}
}

// setEnv applies env and removes every variable in unset, restoring both
// when the test ends.
func setEnv(t *testing.T, env map[string]string, unset ...string) {
	t.Helper()
	for key, value := range env {
		t.Setenv(key, value)
	}
	for _, key := range unset {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// optional lists variables with defaults, cleared so the host env cannot leak in.
var optional = []string{
	"SERVER_TRUST_PROXY_HEADERS", "SERVER_CORS_ORIGINS", "SQLITE_PATH",
	"REDIS_ENABLED", "REDIS_URL", "REDIS_CACHE_TTL", "GEOIP_DB_PATH", "GEOIP_CACHE_TTL",
	"LINK_DEFAULT_VALIDITY_MINUTES", "LINK_CODE_LENGTH", "LINK_MAX_GENERATE_ATTEMPTS",
	"OTEL_SERVICE_NAME", "OTEL_SERVICE_VERSION",
}

func TestLoad_Success(t *testing.T) {
	env := baseEnv()
	env["SERVER_CORS_ORIGINS"] = "https://app.example,https://admin.example"
	env["SERVER_TRUST_PROXY_HEADERS"] = "true"
	env["REDIS_ENABLED"] = "true"
	env["REDIS_URL"] = "redis://localhost:6379/0"
	env["OTEL_SERVICE_VERSION"] = "1.2.3"
	setEnv(t, env)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %s, want 8080", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 10s", cfg.Server.ReadTimeout)
	}
	if !cfg.Server.TrustProxyHeaders {
		t.Error("Server.TrustProxyHeaders = false, want true")
	}
	if want := []string{"https://app.example", "https://admin.example"}; !reflect.DeepEqual(cfg.Server.CORSOrigins, want) {
		t.Errorf("Server.CORSOrigins = %v, want %v", cfg.Server.CORSOrigins, want)
	}
	if cfg.Database.MaxConns != 25 {
		t.Errorf("Database.MaxConns = %d, want 25", cfg.Database.MaxConns)
	}
	if !cfg.Redis.Enabled || cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Observability.ServiceVersion != "1.2.3" {
		t.Errorf("Observability.ServiceVersion = %s, want 1.2.3", cfg.Observability.ServiceVersion)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, baseEnv(), optional...)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Link.DefaultValidityMinutes != 30 {
		t.Errorf("Link.DefaultValidityMinutes = %d, want 30", cfg.Link.DefaultValidityMinutes)
	}
	if cfg.Link.CodeLength != 6 {
		t.Errorf("Link.CodeLength = %d, want 6", cfg.Link.CodeLength)
	}
	if cfg.Link.MaxGenerateAttempts != 10 {
		t.Errorf("Link.MaxGenerateAttempts = %d, want 10", cfg.Link.MaxGenerateAttempts)
	}
	if cfg.Redis.Enabled {
		t.Error("Redis.Enabled = true, want false")
	}
	if cfg.Redis.CacheTTL != 10*time.Minute {
		t.Errorf("Redis.CacheTTL = %v, want 10m", cfg.Redis.CacheTTL)
	}
	if cfg.Geo.DBPath != "" || cfg.Geo.CacheTTL != time.Hour {
		t.Errorf("Geo = %+v, want no path and 1h TTL", cfg.Geo)
	}
	if cfg.Server.TrustProxyHeaders || len(cfg.Server.CORSOrigins) != 0 {
		t.Errorf("Server proxy/CORS defaults = %v/%v", cfg.Server.TrustProxyHeaders, cfg.Server.CORSOrigins)
	}
	if cfg.Observability.ServiceName != "shortlinks" {
		t.Errorf("Observability.ServiceName = %s, want shortlinks", cfg.Observability.ServiceName)
	}
}

func TestLoad_DatabaseOnlyForPostgres(t *testing.T) {
	for _, driver := range []string{DriverMemory, DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			env := baseEnv()
			env["STORE_DRIVER"] = driver
			setEnv(t, env, "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE", "DB_MAX_CONNS", "DB_MIN_CONNS")

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if cfg.Store.Driver != driver {
				t.Errorf("Store.Driver = %s, want %s", cfg.Store.Driver, driver)
			}
			if cfg.Database != (DatabaseConfig{}) {
				t.Errorf("Database = %+v, want zero value", cfg.Database)
			}
		})
	}
}

func TestLoad_MissingRequiredVariable(t *testing.T) {
	for _, key := range []string{"SERVER_PORT", "SERVER_BASE_URL", "DB_HOST", "DB_NAME", "APP_ENV", "LOG_LEVEL"} {
		t.Run(key, func(t *testing.T) {
			setEnv(t, baseEnv(), key)

			if _, err := Load(); err == nil {
				t.Errorf("Load() should fail when %s is missing", key)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		envVar  string
		value   string
		wantMsg string
	}{
		{"invalid duration", "SERVER_READ_TIMEOUT", "invalid", "Server"},
		{"relative base url", "SERVER_BASE_URL", "localhost:8080", "base URL"},
		{"invalid int", "DB_MAX_CONNS", "not-a-number", "Database"},
		{"invalid bool", "REDIS_ENABLED", "maybe", "Redis"},
		{"unknown driver", "STORE_DRIVER", "mongo", "store driver"},
		{"bad environment", "APP_ENV", "qa", "environment"},
		{"zero validity", "LINK_DEFAULT_VALIDITY_MINUTES", "0", "validity"},
		{"long codes", "LINK_CODE_LENGTH", "21", "code length"},
		{"ssl mode", "DB_SSLMODE", "prefer", "SSL mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := baseEnv()
			env[tt.envVar] = tt.value
			setEnv(t, env)

			_, err := Load()
			if err == nil {
				t.Fatalf("Load() should fail when %s=%q", tt.envVar, tt.value)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Load() error = %q, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestRedisConfig_Validate(t *testing.T) {
	if err := (&RedisConfig{}).Validate(); err != nil {
		t.Errorf("disabled redis should validate, got %v", err)
	}
	if err := (&RedisConfig{Enabled: true, CacheTTL: time.Minute}).Validate(); err == nil {
		t.Error("enabled redis without URL should fail")
	}
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	db := DatabaseConfig{
		Host:     "testhost",
		Port:     "5432",
		User:     "testuser",
		Password: "testpass",
		Name:     "testdb",
		SSLMode:  "disable",
	}

	expected := "host=testhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable"
	if got := db.ConnectionString(); got != expected {
		t.Errorf("ConnectionString() = %s, want %s", got, expected)
	}
}
