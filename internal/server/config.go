// Package server provides configuration helpers that define runtime defaults,
// validation, and backend selection for the chatroom service.
package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"

	"github.com/Tyrowin/chatroom/internal/chat"
	"github.com/Tyrowin/chatroom/internal/history"
	"github.com/Tyrowin/chatroom/internal/identity"
	"github.com/Tyrowin/chatroom/internal/transcript"
)

const (
	defaultPort             = ":8080"
	defaultAllowedOrigins   = "http://localhost:8080"
	defaultMaxMessageSize   = 4096
	defaultRateLimitBurst   = 5
	defaultRefillInterval   = time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultSinkTimeout      = 5 * time.Second
	defaultHistoryBackend   = string(history.BackendMemory)
	defaultIdentityProvider = string(identity.ProviderGoogle)
	defaultSinkBackend      = string(transcript.BackendNone)
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration, read from the environment.
type Config struct {
	Port            string        `env:"SERVER_PORT,default=:8080"`
	AllowedOrigins  string        `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE,default=4096"`
	LogLevel        string        `env:"LOG_LEVEL,default=INFO"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST,default=5"`
	RateLimitRefill time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`

	HistoryBackend string `env:"HISTORY_BACKEND,default=memory"`
	HistoryLimit   int    `env:"HISTORY_LIMIT,default=50"`
	BadgerFilepath string `env:"BADGER_FILEPATH,default=data/history"`
	RedisAddr      string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB,default=0"`
	RedisKey       string `env:"REDIS_KEY,default=chatroom:history"`

	IdentityProvider string        `env:"IDENTITY_PROVIDER,default=google"`
	GoogleClientID   string        `env:"GOOGLE_CLIENT_ID"`
	JWTSecret        string        `env:"JWT_SECRET"`
	JWTIssuer        string        `env:"JWT_ISSUER"`
	JWTAudience      string        `env:"JWT_AUDIENCE"`
	VerifyTimeout    time.Duration `env:"VERIFY_TIMEOUT,default=0s"`

	SinkBackend    string        `env:"SINK_BACKEND,default=none"`
	SinkSQLitePath string        `env:"SINK_SQLITE_PATH,default=transcript.db"`
	SinkTimeout    time.Duration `env:"SINK_TIMEOUT,default=5s"`
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := Config{
		Port:             defaultPort,
		AllowedOrigins:   defaultAllowedOrigins,
		MaxMessageSize:   defaultMaxMessageSize,
		LogLevel:         "INFO",
		RateLimitBurst:   defaultRateLimitBurst,
		RateLimitRefill:  defaultRefillInterval,
		ShutdownTimeout:  defaultShutdownTimeout,
		HistoryBackend:   defaultHistoryBackend,
		HistoryLimit:     chat.DefaultHistoryLimit,
		BadgerFilepath:   "data/history",
		RedisAddr:        "localhost:6379",
		RedisKey:         history.DefaultRedisKey,
		IdentityProvider: defaultIdentityProvider,
		SinkBackend:      defaultSinkBackend,
		SinkSQLitePath:   "transcript.db",
		SinkTimeout:      defaultSinkTimeout,
	}
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Unset variables take their defaults and out-of-range values are sanitized.
// Unparseable values and unknown backends are errors.
func NewConfigFromEnv() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Sanitize replaces out-of-range values with defaults.
func (c *Config) Sanitize() {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = defaultRateLimitBurst
	}
	if c.RateLimitRefill <= 0 {
		c.RateLimitRefill = defaultRefillInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = chat.DefaultHistoryLimit
	}
	if c.HistoryBackend == "" {
		c.HistoryBackend = defaultHistoryBackend
	}
	if c.IdentityProvider == "" {
		c.IdentityProvider = defaultIdentityProvider
	}
	if c.SinkBackend == "" {
		c.SinkBackend = defaultSinkBackend
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.VerifyTimeout < 0 {
		c.VerifyTimeout = 0
	}
}

// Validate rejects unknown backends and providers missing their secrets.
func (c *Config) Validate() error {
	var errs []error
	if _, err := history.ParseBackend(c.HistoryBackend); err != nil {
		errs = append(errs, err)
	}
	if _, err := transcript.ParseBackend(c.SinkBackend); err != nil {
		errs = append(errs, err)
	}
	switch identity.Provider(c.IdentityProvider) {
	case identity.ProviderGoogle, identity.ProviderInsecure:
	case identity.ProviderJWT:
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required when IDENTITY_PROVIDER=jwt"))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", identity.ErrUnknownProvider, c.IdentityProvider))
	}
	return errors.Join(errs...)
}

// RateLimit returns the per-connection token bucket parameters.
func (c *Config) RateLimit() RateLimitConfig {
	return RateLimitConfig{Burst: c.RateLimitBurst, RefillInterval: c.RateLimitRefill}
}

// Origins returns the configured allow-list entries.
func (c *Config) Origins() []string {
	return parseOrigins(c.AllowedOrigins)
}

// HistoryOptions maps the configuration onto the history store options.
func (c *Config) HistoryOptions() history.Options {
	return history.Options{
		Backend:       history.Backend(c.HistoryBackend),
		Limit:         c.HistoryLimit,
		BadgerPath:    c.BadgerFilepath,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
		RedisKey:      c.RedisKey,
	}
}

// IdentityOptions maps the configuration onto the verifier options.
func (c *Config) IdentityOptions() identity.Options {
	return identity.Options{
		Provider:       identity.Provider(c.IdentityProvider),
		GoogleClientID: c.GoogleClientID,
		JWTSecret:      c.JWTSecret,
		JWTIssuer:      c.JWTIssuer,
		JWTAudience:    c.JWTAudience,
	}
}

// TranscriptOptions maps the configuration onto the sink options.
func (c *Config) TranscriptOptions() transcript.Options {
	return transcript.Options{
		Backend:    transcript.Backend(c.SinkBackend),
		SQLitePath: c.SinkSQLitePath,
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
