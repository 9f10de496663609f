package client

// Functional options for New. They are applied before the state store is
// opened and before the auth and breaker transports are installed, so
// transport options end up beneath the auth wrapper.

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/memoryvault/client/internal/localstate"
)

// Option configures a Client during construction in New.
type Option func(*Client) error

// WithHTTPTimeout sets the http.Client Timeout. Prefer per-call context
// deadlines; this bounds a single request end to end. Must be > 0.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("http timeout must be > 0")
		}
		c.http.Timeout = d
		return nil
	}
}

// WithHTTPClient replaces the underlying http.Client. Its Transport is
// wrapped, not replaced.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("http client must not be nil")
		}
		cp := *hc
		c.http = &cp
		return nil
	}
}

// WithDebugLogging dumps every request and response at debug level. The
// Authorization header is redacted. Not for production use.
func WithDebugLogging(enabled bool) Option {
	return func(c *Client) error {
		if enabled {
			c.http.Transport = &debugTransport{base: c.http.Transport}
		}
		return nil
	}
}

// WithLogger sets the logger used by the stores and executor.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) error {
		c.log = l
		return nil
	}
}

// WithStateStore supplies the durable state store. The Client does not
// close a store it did not open.
func WithStateStore(s localstate.Store) Option {
	return func(c *Client) error {
		if s == nil {
			return fmt.Errorf("state store must not be nil")
		}
		c.state = s
		return nil
	}
}

// WithStateOptions selects the durable state backend opened by New.
func WithStateOptions(o localstate.Options) Option {
	return func(c *Client) error {
		c.stateOpts = o
		return nil
	}
}

// WithFavoriteSync chooses server-tracked (true, default) or client-only
// favorites.
func WithFavoriteSync(enabled bool) Option {
	return func(c *Client) error {
		c.favoriteSync = enabled
		return nil
	}
}

// WithMediaCacheBytes bounds the downloaded-media cache; 0 disables it.
func WithMediaCacheBytes(n int64) Option {
	return func(c *Client) error {
		if n < 0 {
			return fmt.Errorf("media cache size must be >= 0")
		}
		c.mediaCacheBytes = n
		return nil
	}
}

// WithBreaker opens the circuit after failures consecutive backend
// failures and probes again after timeout. failures == 0 disables it.
func WithBreaker(failures uint32, timeout time.Duration) Option {
	return func(c *Client) error {
		if failures > 0 && timeout <= 0 {
			return fmt.Errorf("breaker timeout must be > 0")
		}
		c.breakerFailures = failures
		c.breakerTimeout = timeout
		return nil
	}
}
