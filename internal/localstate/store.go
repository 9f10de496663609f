// Package localstate is the durable key-value store backing client state:
// the bearer credential, the encryption key and the tour flag. Values are
// plain strings without schema versioning.
package localstate

import (
	"context"
	"fmt"
)

// Well-known keys.
const (
	KeyCredential    = "token"
	KeyEncryptionKey = "encryptionKey"
	KeyTourSeen      = "hasSeenTour"
)

// Store is a durable string key-value store.
type Store interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Options selects and parameterises a backend.
type Options struct {
	Backend     string
	Path        string // sqlite file; empty means DBPath()
	RedisAddr   string
	RedisPrefix string
}

// Open constructs the configured backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendSQLite:
		path := opts.Path
		if path == "" {
			p, err := DBPath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		return OpenSQLite(ctx, path)
	case BackendRedis:
		return OpenRedis(ctx, opts.RedisAddr, opts.RedisPrefix)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported state backend: %s", opts.Backend)
	}
}
