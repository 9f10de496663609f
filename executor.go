package client

import (
	"context"
	"errors"

	"github.com/memoryvault/client/internal/job"
	"github.com/memoryvault/client/internal/memstore"
	"github.com/memoryvault/client/internal/shardqueue"
)

// executor runs favorite sync jobs; it is what the memory store queues on.
type executor interface {
	memstore.Executor
	Stop()
}

var _ executor = (*shardqueue.Executor)(nil)

// newFavoriteExecutor builds the shard executor from SQ_* settings and
// routes jobs that give up back to the memory store.
func (c *Client) newFavoriteExecutor() *shardqueue.Executor {
	cfg, err := shardqueue.LoadConfig()
	if err != nil {
		c.log.Warn().Err(err).Msg("invalid SQ_* settings; using executor defaults")
		cfg = shardqueue.Config{}
	}
	cfg.Logger = c.log
	cfg.ErrorHandler = func(memoryID string, err error) {
		if errors.Is(err, context.Canceled) {
			return
		}
		favoriteSyncFailuresTotal.WithLabelValues(job.ShardLabel(memoryID)).Inc()
		if c.memories != nil {
			c.memories.FavoriteSyncFailed(memoryID, err)
		}
	}
	return shardqueue.NewExecutor(cfg)
}
