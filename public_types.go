package client

import (
	"github.com/memoryvault/client/internal/api"
	"github.com/memoryvault/client/internal/media"
	"github.com/memoryvault/client/internal/memstore"
	"github.com/memoryvault/client/internal/onboarding"
	"github.com/memoryvault/client/internal/session"
	"github.com/memoryvault/client/internal/types"
)

// Public aliases so SDK consumers import only the client package.
type (
	// Domain entities
	User     = types.User
	Memory   = types.Memory
	Location = types.Location

	// Requests
	RegisterRequest = types.RegisterRequest
	MemoryDraft     = types.MemoryDraft
	MemoryPatch     = types.MemoryPatch

	// Media
	Media   = api.Media
	Preview = media.Preview

	// Stores
	SessionStore = session.Store
	MemoryStore  = memstore.Store
	Tour         = onboarding.Tour
	Previews     = media.Previews

	// Session state
	Status          = session.Status
	SessionChange   = session.Change
	SessionSnapshot = session.Snapshot

	// Collection state
	MemoryEvent     = memstore.Event
	MemoryEventKind = memstore.EventKind
	RemoveOutcome   = memstore.RemoveOutcome
	Bounds          = memstore.Bounds
)

// Session statuses.
const (
	Unresolved      = session.Unresolved
	Authenticating  = session.Authenticating
	Authenticated   = session.Authenticated
	Unauthenticated = session.Unauthenticated
)

// Remove outcomes.
const (
	Applied    = memstore.Applied
	RolledBack = memstore.RolledBack
)
