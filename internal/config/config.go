// Package config loads and validates the BookTracker client configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	API    APIConfig    `yaml:"api"`
	Auth   AuthConfig   `yaml:"auth"`
	Store  StoreConfig  `yaml:"store"`
	Listen ListenConfig `yaml:"listen"`
	TLS    TLSConfig    `yaml:"tls"`
	Log    LogConfig    `yaml:"log"`
}

// APIConfig defines the base URLs of the BookTracker backend services
type APIConfig struct {
	AuthURL          string `yaml:"auth_url"`          // Auth service base (login, register, validate)
	BooksURL         string `yaml:"books_url"`         // Book search service base
	LibraryURL       string `yaml:"library_url"`       // Library (shelves) service base
	AnalyticsURL     string `yaml:"analytics_url"`     // Analytics service base
	NotificationsURL string `yaml:"notifications_url"` // Notification service base
	Timeout          int    `yaml:"timeout"`           // Request timeout in seconds
}

// AuthConfig defines client-side session behavior
type AuthConfig struct {
	LandingRoute      string `yaml:"landing_route"`       // Route shown after login/register
	LoginRoute        string `yaml:"login_route"`         // Route shown after logout or when guarded
	MinPasswordLength int    `yaml:"min_password_length"` // Checked before register reaches the backend
	RestoreCheck      string `yaml:"restore_check"`       // none, expiry, backend, jwks
	JWKSURL           string `yaml:"jwks_url"`            // Required when restore_check is jwks
	Issuer            string `yaml:"issuer"`              // Expected iss for restore_check jwks
}

// StoreConfig defines where the session triple is persisted
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory, file, sqlite, redis
	Path   string `yaml:"path"`   // File or SQLite database path
	Redis  string `yaml:"redis"`  // Redis address (host:port)
	Origin string `yaml:"origin"` // Storage scope; defaults to the auth service origin
}

// ListenConfig defines where the local web front listens
type ListenConfig struct {
	HTTP string `yaml:"http"` // HTTP server address (e.g., "127.0.0.1:5173")
}

// TLSConfig defines TLS settings for the HTTP server
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Restore check modes
const (
	RestoreCheckNone    = "none"
	RestoreCheckExpiry  = "expiry"
	RestoreCheckBackend = "backend"
	RestoreCheckJWKS    = "jwks"
)

// Store drivers
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// DefaultPath returns the default configuration file location.
func DefaultPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// Load reads and parses the configuration file.
// A missing file at the default location is not an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the --config flag
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err) && path == DefaultPath():
		// No config yet; run on defaults.
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Apply environment variable overrides
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			AuthURL:          "http://localhost:8080/api/v1/auth",
			BooksURL:         "http://localhost:8080/api/books",
			LibraryURL:       "http://localhost:8080/api/v1/library",
			AnalyticsURL:     "http://localhost:8080/api/v1/analytics",
			NotificationsURL: "http://localhost:8080/api/v1/notifications",
			Timeout:          10,
		},
		Auth: AuthConfig{
			LandingRoute:      "/",
			LoginRoute:        "/login",
			MinPasswordLength: 8,
			RestoreCheck:      RestoreCheckExpiry,
		},
		Store: StoreConfig{
			Driver: StoreFile,
			Path:   filepath.Join(configDir(), "session.yaml"),
		},
		Listen: ListenConfig{
			HTTP: "127.0.0.1:5173",
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "booktracker")
	}
	return ".booktracker"
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	// API overrides
	if v := os.Getenv("BOOKTRACKER_API_URL"); v != "" {
		c.setAPIBase(v)
	}
	if v := os.Getenv("BOOKTRACKER_AUTH_URL"); v != "" {
		c.API.AuthURL = v
	}

	// Store overrides
	if v := os.Getenv("BOOKTRACKER_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("BOOKTRACKER_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("BOOKTRACKER_STORE_REDIS"); v != "" {
		c.Store.Redis = v
	}

	// Log overrides
	if v := os.Getenv("BOOKTRACKER_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("BOOKTRACKER_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}

	// Listen overrides
	if v := os.Getenv("BOOKTRACKER_LISTEN_HTTP"); v != "" {
		c.Listen.HTTP = v
	}
}

// setAPIBase points every service at one gateway, the way the production
// build of the web app does with VITE_API_URL.
func (c *Config) setAPIBase(base string) {
	base = strings.TrimRight(base, "/")
	c.API.AuthURL = base + "/api/v1/auth"
	c.API.BooksURL = base + "/api/books"
	c.API.LibraryURL = base + "/api/v1/library"
	c.API.AnalyticsURL = base + "/api/v1/analytics"
	c.API.NotificationsURL = base + "/api/v1/notifications"
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Validate API config
	urls := []struct {
		name  string
		value string
	}{
		{"api.auth_url", c.API.AuthURL},
		{"api.books_url", c.API.BooksURL},
		{"api.library_url", c.API.LibraryURL},
		{"api.analytics_url", c.API.AnalyticsURL},
		{"api.notifications_url", c.API.NotificationsURL},
	}
	for _, u := range urls {
		if u.value == "" {
			return fmt.Errorf("%s is required", u.name)
		}
		if !isHTTPURL(u.value) {
			return fmt.Errorf("%s must be a valid HTTP(S) URL", u.name)
		}
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if c.API.Timeout > 120 {
		return fmt.Errorf("api.timeout should not exceed 120 seconds")
	}

	// Validate auth config
	if !strings.HasPrefix(c.Auth.LandingRoute, "/") {
		return fmt.Errorf("auth.landing_route must start with '/'")
	}
	if !strings.HasPrefix(c.Auth.LoginRoute, "/") {
		return fmt.Errorf("auth.login_route must start with '/'")
	}
	if c.Auth.MinPasswordLength < 1 {
		return fmt.Errorf("auth.min_password_length must be at least 1")
	}

	validChecks := map[string]bool{
		RestoreCheckNone:    true,
		RestoreCheckExpiry:  true,
		RestoreCheckBackend: true,
		RestoreCheckJWKS:    true,
	}
	if !validChecks[c.Auth.RestoreCheck] {
		return fmt.Errorf("auth.restore_check must be one of: none, expiry, backend, jwks")
	}
	if c.Auth.RestoreCheck == RestoreCheckJWKS {
		if !isHTTPURL(c.Auth.JWKSURL) {
			return fmt.Errorf("auth.jwks_url must be a valid HTTP(S) URL when restore_check is jwks")
		}
		if c.Auth.Issuer == "" {
			return fmt.Errorf("auth.issuer is required when restore_check is jwks")
		}
	}

	// Validate store config
	switch c.Store.Driver {
	case StoreMemory:
	case StoreFile, StoreSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s driver", c.Store.Driver)
		}
	case StoreRedis:
		if c.Store.Redis == "" {
			return fmt.Errorf("store.redis is required for the redis driver")
		}
	default:
		return fmt.Errorf("store.driver must be one of: memory, file, sqlite, redis")
	}

	// Validate TLS config
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}

		// Check if files exist
		if _, err := os.Stat(c.TLS.CertFile); err != nil {
			return fmt.Errorf("tls.cert_file not found: %w", err)
		}
		if _, err := os.Stat(c.TLS.KeyFile); err != nil {
			return fmt.Errorf("tls.key_file not found: %w", err)
		}
	}

	// Validate log config
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: json, text")
	}

	// Validate listen config
	if c.Listen.HTTP == "" {
		return fmt.Errorf("listen.http is required")
	}

	return nil
}

// StoreOrigin returns the scope under which the session is stored. Like
// browser storage it defaults to the origin of the auth service.
func (c *Config) StoreOrigin() string {
	if c.Store.Origin != "" {
		return c.Store.Origin
	}
	u, err := url.Parse(c.API.AuthURL)
	if err != nil || u.Host == "" {
		return "default"
	}
	return u.Scheme + "://" + u.Host
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// SetupLogging configures the global slog logger based on the LogConfig.
func SetupLogging(cfg *LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// Redact returns a copy of the config that is safe to print.
// Credentials embedded in URLs are masked.
func (c *Config) Redact() *Config {
	redacted := *c
	redacted.Store.Redis = redactURL(c.Store.Redis)
	redacted.API.AuthURL = redactURL(c.API.AuthURL)
	return &redacted
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
