// Package config loads SDK and CLI settings from the environment.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/memoryvault/client/internal/localstate"
)

// Config is parsed from environment variables with the VAULT_ prefix, e.g.
// VAULT_API_URL, VAULT_STATE_BACKEND.
type Config struct {
	APIURL      string        `envconfig:"API_URL"      default:"http://localhost:5000/api"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
	LogLevel    string        `envconfig:"LOG_LEVEL"    default:"info"`
	Debug       Flag          `envconfig:"DEBUG"        default:"false"`

	// Durable client state
	StateBackend string `envconfig:"STATE_BACKEND" default:"sqlite"`
	StatePath    string `envconfig:"STATE_PATH"    default:""`
	RedisAddr    string `envconfig:"REDIS_ADDR"    default:""`
	RedisPrefix  string `envconfig:"REDIS_PREFIX"  default:"vault"`

	MediaCacheBytes int64 `envconfig:"MEDIA_CACHE_BYTES" default:"67108864"`
	FavoriteSync    bool  `envconfig:"FAVORITE_SYNC"     default:"true"`

	// Circuit breaker around backend calls
	BreakerFailures uint32        `envconfig:"BREAKER_FAILURES" default:"5"`
	BreakerTimeout  time.Duration `envconfig:"BREAKER_TIMEOUT"  default:"30s"`
}

// Flag is a boolean setting where an empty value (VAULT_DEBUG= in a .env
// file) means false.
type Flag bool

// Decode implements envconfig.Decoder.
func (f *Flag) Decode(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		*f = false
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid boolean %q", value)
	}
	*f = Flag(b)
	return nil
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("VAULT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the client cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid VAULT_API_URL %q", c.APIURL)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("VAULT_HTTP_TIMEOUT must be positive, got %s", c.HTTPTimeout)
	}
	switch c.StateBackend {
	case localstate.BackendSQLite, localstate.BackendMemory:
	case localstate.BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("VAULT_REDIS_ADDR is required for the redis state backend")
		}
	default:
		return fmt.Errorf("unsupported VAULT_STATE_BACKEND: %s", c.StateBackend)
	}
	if c.MediaCacheBytes < 0 {
		return fmt.Errorf("VAULT_MEDIA_CACHE_BYTES must not be negative")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// StateOptions maps the state settings onto localstate.Open options.
func (c *Config) StateOptions() localstate.Options {
	return localstate.Options{
		Backend:     c.StateBackend,
		Path:        c.StatePath,
		RedisAddr:   c.RedisAddr,
		RedisPrefix: c.RedisPrefix,
	}
}
