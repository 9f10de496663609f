package memstore

import (
	"fmt"

	"github.com/memoryvault/client/internal/types"
)

// RemoveOutcome tags what happened to the local collection after Remove.
type RemoveOutcome int

const (
	// Applied means the record is gone locally (and at the backend unless an
	// error says otherwise).
	Applied RemoveOutcome = iota + 1
	// RolledBack means the backend refused and the record was restored.
	RolledBack
)

func (o RemoveOutcome) String() string {
	switch o {
	case Applied:
		return "Applied"
	case RolledBack:
		return "RolledBack"
	default:
		return fmt.Sprintf("RemoveOutcome(%d)", int(o))
	}
}

// EventKind identifies a collection change.
type EventKind int

const (
	LoadStarted EventKind = iota + 1
	Loaded
	LoadFailed
	LoadSuperseded
	Added
	Updated
	Removed
	Restored
	FavoriteChanged
	FavoriteSyncFailed
	Cleared
)

var eventNames = map[EventKind]string{
	LoadStarted:        "load_started",
	Loaded:             "loaded",
	LoadFailed:         "load_failed",
	LoadSuperseded:     "load_superseded",
	Added:              "added",
	Updated:            "updated",
	Removed:            "removed",
	Restored:           "restored",
	FavoriteChanged:    "favorite_changed",
	FavoriteSyncFailed: "favorite_sync_failed",
	Cleared:            "cleared",
}

func (k EventKind) String() string {
	if n, ok := eventNames[k]; ok {
		return n
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is delivered to subscribers after each change, in mutation order.
type Event struct {
	Kind    EventKind
	ID      string        // memory id for single-record events
	Memory  *types.Memory // copy of the record after the change, if any
	Loading bool          // loading flag after the change
	Err     error         // LoadFailed, FavoriteSyncFailed
}
