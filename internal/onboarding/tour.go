// Package onboarding gates the one-time guided tour on a persisted flag.
package onboarding

import (
	"context"

	"github.com/memoryvault/client/internal/localstate"
)

const seenValue = "true"

// Tour reads and writes the "tour seen" flag.
type Tour struct {
	state localstate.Store
}

// NewTour returns a gate over state.
func NewTour(state localstate.Store) *Tour {
	return &Tour{state: state}
}

// ShouldShow reports whether the tour has not been marked seen. A read
// failure is returned with false so the tour is never shown twice because
// of a transient error.
func (t *Tour) ShouldShow(ctx context.Context) (bool, error) {
	v, ok, err := t.state.Get(ctx, localstate.KeyTourSeen)
	if err != nil {
		return false, err
	}
	return !ok || v != seenValue, nil
}

// MarkSeen persists the flag.
func (t *Tour) MarkSeen(ctx context.Context) error {
	return t.state.Set(ctx, localstate.KeyTourSeen, seenValue)
}

// Reset clears the flag so the tour shows again.
func (t *Tour) Reset(ctx context.Context) error {
	return t.state.Delete(ctx, localstate.KeyTourSeen)
}
