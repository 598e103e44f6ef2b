// Package config loads the service configuration from environment variables.
// A Config is built once by the notesd command and passed down explicitly.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// DBConfig selects the database driver and its connection string.
type DBConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	Path   string // DB_PATH (sqlite)
	URL    string // DATABASE_URL (postgres)
}

// DSN returns the connection string for the configured driver.
func (c DBConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	return c.Path
}

// AuthConfig defines how bearer tokens are verified.
type AuthConfig struct {
	Mode         string // AUTH_MODE: dev|hmac|jwks
	HMACSecret   string // AUTH_HMAC_SECRET
	JWKSURL      string // AUTH_JWKS_URL
	Issuer       string // AUTH_ISSUER
	Audience     string // AUTH_AUDIENCE
	AutoRegister bool   // AUTH_AUTO_REGISTER
}

// GenerationConfig defines the reply generation backend.
type GenerationConfig struct {
	Provider    string        // GENERATION_PROVIDER: echo|gemini|openai
	Model       string        // GENERATION_MODEL
	APIKey      string        // GENERATION_API_KEY
	BaseURL     string        // GENERATION_BASE_URL (openai-compatible servers)
	Timeout     time.Duration // GENERATION_TIMEOUT
	Concurrency int           // GENERATION_CONCURRENCY
	Sync        bool          // GENERATION_SYNC: generate inside the request
}

// TreeConfig bounds conversation tree operations.
type TreeConfig struct {
	MaxDepth     int // MAX_TREE_DEPTH
	MaxTextRunes int // MAX_TEXT_RUNES
	TitleMaxLen  int // TITLE_MAX_LEN
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-notes-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	LogRedact      bool   // LOG_REDACT: scrub PII from access logs
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DB           DBConfig
	Auth         AuthConfig
	Generation   GenerationConfig
	Tree         TreeConfig
	AdminEnabled bool // ADMIN_ENABLED: mount /admin reset & seed routes

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the environment, fills in defaults, normalizes enum-like
// values and validates the result. Every validation problem is reported,
// not just the first one.
func Load() (Config, error) {
	var cfg Config
	cfg.loadServer()
	cfg.loadLogging()

	cfg.DB = DBConfig{
		Driver: strings.ToLower(envString("DB_DRIVER", "sqlite")),
		Path:   envString("DB_PATH", "notes.db"),
		URL:    envString("DATABASE_URL", ""),
	}
	cfg.Auth = AuthConfig{
		Mode:         strings.ToLower(envString("AUTH_MODE", "dev")),
		HMACSecret:   envString("AUTH_HMAC_SECRET", ""),
		JWKSURL:      envString("AUTH_JWKS_URL", ""),
		Issuer:       envString("AUTH_ISSUER", ""),
		Audience:     envString("AUTH_AUDIENCE", ""),
		AutoRegister: envBool("AUTH_AUTO_REGISTER", true),
	}
	cfg.Generation = GenerationConfig{
		Provider:    strings.ToLower(envString("GENERATION_PROVIDER", "echo")),
		Model:       envString("GENERATION_MODEL", ""),
		APIKey:      envString("GENERATION_API_KEY", ""),
		BaseURL:     envString("GENERATION_BASE_URL", ""),
		Timeout:     envDuration("GENERATION_TIMEOUT", time.Minute),
		Concurrency: envInt("GENERATION_CONCURRENCY", 4),
		Sync:        envBool("GENERATION_SYNC", false),
	}
	cfg.Tree = TreeConfig{
		MaxDepth:     envInt("MAX_TREE_DEPTH", 10000),
		MaxTextRunes: envInt("MAX_TEXT_RUNES", 8000),
		TitleMaxLen:  envInt("TITLE_MAX_LEN", 60),
	}
	cfg.AdminEnabled = envBool("ADMIN_ENABLED", false)

	cfg.RateRPS = envFloat("RATE_RPS", 5)
	cfg.RateBurst = envInt("RATE_BURST", 10)
	cfg.CORS.AllowedOrigins = splitCSV(envString("CORS_ALLOWED_ORIGINS", ""))
	cfg.Security = SecurityConfig{
		EnableHSTS: envBool("ENABLE_HSTS", false),
		HSTSMaxAge: envDuration("HSTS_MAX_AGE", 180*24*time.Hour),
	}
	cfg.IdempotencyTTL = envDuration("IDEMPOTENCY_TTL", 24*time.Hour)

	cfg.OTEL = OTELConfig{
		Enabled:     envBool("OTEL_ENABLED", false),
		Endpoint:    envString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		Insecure:    envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		ServiceName: envString("OTEL_SERVICE_NAME", "go-notes-backend"),
		SampleRatio: envFloat("OTEL_TRACES_SAMPLER_ARG", 1),
	}

	return cfg, cfg.Validate()
}

func (c *Config) loadServer() {
	c.Port = envString("PORT", "8080")
	c.ReadTimeout = envDuration("READ_TIMEOUT", 15*time.Second)
	c.ReadHeaderTimeout = envDuration("READ_HEADER_TIMEOUT", 10*time.Second)
	c.WriteTimeout = envDuration("WRITE_TIMEOUT", 20*time.Second)
	c.IdleTimeout = envDuration("IDLE_TIMEOUT", time.Minute)
	c.MaxHeaderBytes = envInt("MAX_HEADER_BYTES", 1<<20)

	// Unknown gin modes fall back to release rather than failing startup.
	switch c.GinMode = strings.ToLower(envString("GIN_MODE", "release")); c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
}

func (c *Config) loadLogging() {
	c.LogLevel = strings.ToLower(envString("LOG_LEVEL", "info"))
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	c.LogPretty = envBool("LOG_PRETTY", false)
	c.LogRedact = envBool("LOG_REDACT", true)
	c.SwaggerEnabled = envBool("SWAGGER_ENABLED", false)
	c.APIBasePath = normalizeBasePath(envString("API_BASE_PATH", "/api/v1"))
}

// Validate checks cross-field constraints and returns all violations joined.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(oneOf(c.LogLevel, "debug", "info", "warn", "error", "fatal", "panic"),
		"LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	check(strings.TrimSpace(c.Port) != "", "PORT must not be empty")
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")

	errs = append(errs, c.DB.validate(), c.Auth.validate(), c.Generation.validate(), c.Tree.validate())

	check(c.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(c.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")

	return errors.Join(errs...)
}

func (c DBConfig) validate() error {
	switch c.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Path) == "" {
			return errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(c.URL) == "" {
			return errors.New("DATABASE_URL must be set when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER %q: must be one of: sqlite, postgres", c.Driver)
	}
	return nil
}

// minHMACSecret is the shortest shared secret accepted for HS256 tokens.
const minHMACSecret = 16

func (c AuthConfig) validate() error {
	switch c.Mode {
	case "dev":
	case "hmac":
		if len(c.HMACSecret) < minHMACSecret {
			return fmt.Errorf("AUTH_HMAC_SECRET must be at least %d bytes when AUTH_MODE=hmac", minHMACSecret)
		}
	case "jwks":
		if strings.TrimSpace(c.JWKSURL) == "" {
			return errors.New("AUTH_JWKS_URL must be set when AUTH_MODE=jwks")
		}
	default:
		return fmt.Errorf("AUTH_MODE %q: must be one of: dev, hmac, jwks", c.Mode)
	}
	return nil
}

func (c GenerationConfig) validate() error {
	var errs []error
	switch c.Provider {
	case "echo":
	case "gemini", "openai":
		if strings.TrimSpace(c.APIKey) == "" {
			errs = append(errs, fmt.Errorf("GENERATION_API_KEY must be set for provider %s", c.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("GENERATION_PROVIDER %q: must be one of: echo, gemini, openai", c.Provider))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("GENERATION_TIMEOUT must be > 0"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, errors.New("GENERATION_CONCURRENCY must be >= 1"))
	}
	return errors.Join(errs...)
}

func (c TreeConfig) validate() error {
	var errs []error
	if c.MaxDepth < 1 {
		errs = append(errs, errors.New("MAX_TREE_DEPTH must be >= 1"))
	}
	if c.MaxTextRunes < 0 {
		errs = append(errs, errors.New("MAX_TEXT_RUNES must be >= 0"))
	}
	if c.TitleMaxLen < 16 || c.TitleMaxLen > 255 {
		errs = append(errs, errors.New("TITLE_MAX_LEN must be between 16 and 255"))
	}
	return errors.Join(errs...)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// envValue returns the parsed value of key, or def when the variable is
// unset, empty, or does not parse.
func envValue[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

func envString(key, def string) string {
	return envValue(key, def, func(s string) (string, error) { return s, nil })
}

func envInt(key string, def int) int { return envValue(key, def, strconv.Atoi) }

func envDuration(key string, def time.Duration) time.Duration {
	return envValue(key, def, time.ParseDuration)
}

func envFloat(key string, def float64) float64 {
	return envValue(key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func envBool(key string, def bool) bool { return envValue(key, def, parseFlag) }

// parseFlag accepts the usual spellings of on/off, case-insensitively.
func parseFlag(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath returns p with one leading slash and no trailing slash;
// blank input means "/".
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
