package shardqueue

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Config groups all tunables. Values load from environment variables with
// the prefix "SQ_", e.g. SQ_SHARDS=8 SQ_MAX_ATTEMPTS=3.
type Config struct {
	Shards         int           `envconfig:"SHARDS"          default:"4"`
	QueueSize      int           `envconfig:"QUEUE_SIZE"      default:"128"`
	EnqueueTimeout time.Duration `envconfig:"ENQUEUE_TIMEOUT" default:"100ms"`

	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"5"`
	BaseBackoff time.Duration `envconfig:"BASE_BACKOFF" default:"200ms"`
	MaxInterval time.Duration `envconfig:"MAX_INTERVAL" default:"10s"`

	// ErrorHandler receives the key and final error of a job that gave up.
	// It runs on the worker goroutine.
	ErrorHandler func(key string, err error) `envconfig:"-"`

	Logger zerolog.Logger `envconfig:"-"`
}

// LoadConfig populates Config from the environment (prefix SQ_). The logger
// defaults to a no-op.
func LoadConfig() (Config, error) {
	c := Config{Logger: zerolog.Nop()}
	return c, envconfig.Process("SQ", &c)
}
