// Package job adapts closures into shard executor jobs and labels memory ids
// for low-cardinality logging and metrics.
package job

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
)

// ErrNilJobFunc is returned when a nil closure is run.
var ErrNilJobFunc = errors.New("nil job func")

type jobFunc func(context.Context) error

func (f jobFunc) Run(ctx context.Context) error {
	if f == nil {
		return fmt.Errorf("job: %w", ErrNilJobFunc)
	}
	return f(ctx)
}

// New wraps fn as a job.
func New(fn func(context.Context) error) jobFunc {
	return jobFunc(fn)
}

// ShardLabel hashes a memory id to a stable label in 0-31.
func ShardLabel(memoryID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(memoryID))
	return fmt.Sprintf("%d", h.Sum32()%32)
}
