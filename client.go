// Package client is the Memory Vault SDK: session handling, the memory
// collection with favorites, media download and the first-run tour, over
// the Memory Vault REST backend.
package client

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/memoryvault/client/internal/api"
	vaulterrors "github.com/memoryvault/client/internal/errors"
	"github.com/memoryvault/client/internal/localstate"
	"github.com/memoryvault/client/internal/media"
	"github.com/memoryvault/client/internal/memstore"
	"github.com/memoryvault/client/internal/onboarding"
	"github.com/memoryvault/client/internal/session"
	"github.com/memoryvault/client/internal/types"
)

// Defaults applied by New before options.
const (
	DefaultHTTPTimeout     = 30 * time.Second
	DefaultMediaCacheBytes = 64 << 20
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 30 * time.Second
)

// --------------------------------------------------------------------
// Client core
// --------------------------------------------------------------------

// Client wires the session and memory stores to one authorized HTTP client.
// Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	state     localstate.Store
	stateOpts localstate.Options
	ownsState bool

	favoriteSync    bool
	mediaCacheBytes int64
	breakerFailures uint32
	breakerTimeout  time.Duration

	exec     executor
	session  *session.Store
	memories *memstore.Store
	media    *media.Cache
	previews *media.Previews
	tour     *onboarding.Tour

	unsubscribe []func()
	closedOnce  uint32
}

// New constructs a Client for the backend at baseURL (including any /api
// prefix). The durable state store is opened here unless WithStateStore
// supplied one. Call Initialize before relying on the session status.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("baseURL cannot be empty")
	}

	c := &Client{
		baseURL:         baseURL,
		http:            &http.Client{Timeout: DefaultHTTPTimeout},
		log:             zerolog.Nop(),
		stateOpts:       localstate.Options{Backend: localstate.BackendSQLite},
		favoriteSync:    true,
		mediaCacheBytes: DefaultMediaCacheBytes,
		breakerFailures: DefaultBreakerFailures,
		breakerTimeout:  DefaultBreakerTimeout,
	}

	if debugLoggingRequested() {
		opts = append(opts, WithDebugLogging(true))
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.state == nil {
		st, err := localstate.Open(context.Background(), c.stateOpts)
		if err != nil {
			return nil, err
		}
		c.state, c.ownsState = st, true
	}

	cache, err := media.NewCache(c.mediaCacheBytes)
	if err != nil {
		c.closeState()
		return nil, err
	}
	c.media = cache

	auth := c.wrapTransport()
	c.session = session.New(c.http, c.baseURL, c.state, session.WithLogger(c.log))
	auth.source = c.session

	c.previews = media.NewPreviews(nil)
	c.tour = onboarding.NewTour(c.state)
	c.wireStores()
	return c, nil
}

// wrapTransport installs auth > breaker > (debug) > base and returns the
// auth layer so the session can be attached once it exists.
func (c *Client) wrapTransport() *authTransport {
	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if c.breakerFailures > 0 {
		base = newBreakerTransport(base, c.breakerFailures, c.breakerTimeout, c.log)
	}
	auth := &authTransport{base: base, log: c.log}
	c.http.Transport = auth
	return auth
}

// wireStores builds the memory store and the cross-store effects: the
// collection and media cache are cleared whenever the session stops being
// Authenticated.
func (c *Client) wireStores() {
	memOpts := []memstore.Option{memstore.WithLogger(c.log)}
	if c.favoriteSync {
		ex := c.newFavoriteExecutor()
		c.exec = ex
		memOpts = append(memOpts, memstore.WithFavoriteSync(ex))
	}
	c.memories = memstore.New(c.http, c.baseURL, memOpts...)

	c.unsubscribe = append(c.unsubscribe,
		c.session.Subscribe(func(ch session.Change) {
			if ch.LeftAuthenticated() {
				c.memories.Clear()
				c.media.Purge()
			}
		}),
		c.memories.Subscribe(func(ev memstore.Event) {
			switch ev.Kind {
			case memstore.LoadSuperseded:
				supersededLoadsTotal.Inc()
			case memstore.Restored:
				deleteRollbacksTotal.Inc()
			case memstore.Removed:
				c.media.Invalidate(ev.ID)
			}
		}),
	)
}

// Close stops the favorite executor after draining it, releases previews
// and the media cache, and closes a state store opened by New. Safe to call
// multiple times.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closedOnce, 0, 1) {
		return nil
	}
	for _, cancel := range c.unsubscribe {
		cancel()
	}
	if c.exec != nil {
		c.exec.Stop()
	}
	c.memories.Close()
	c.previews.Close()
	c.media.Close()
	return c.closeState()
}

func (c *Client) closeState() error {
	if c.ownsState && c.state != nil {
		return c.state.Close()
	}
	return nil
}

// Session is the session store.
func (c *Client) Session() *SessionStore { return c.session }

// Memories is the memory store.
func (c *Client) Memories() *MemoryStore { return c.memories }

// Tour is the first-run tour gate.
func (c *Client) Tour() *Tour { return c.tour }

// Previews holds local media previews.
func (c *Client) Previews() *Previews { return c.previews }

// --------------------------------------------------------------------
// Session operations - delegated to internal/session
// --------------------------------------------------------------------

// Initialize rehydrates the session from durable state. It resolves once.
func (c *Client) Initialize(ctx context.Context) SessionSnapshot {
	return c.session.Initialize(ctx)
}

// Login authenticates with email and password.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	return c.session.Login(ctx, email, password)
}

// Register creates an account and logs in.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	return c.session.Register(ctx, req)
}

// Logout ends the session. It never fails.
func (c *Client) Logout() { c.session.Logout() }

// --------------------------------------------------------------------
// Memory operations - delegated to internal/memstore
// --------------------------------------------------------------------

// Load refreshes the collection.
func (c *Client) Load(ctx context.Context) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	return c.memories.Load(ctx)
}

// Add uploads a new memory.
func (c *Client) Add(ctx context.Context, draft MemoryDraft) (Memory, error) {
	if err := c.requireSession(); err != nil {
		return Memory{}, err
	}
	return c.memories.Add(ctx, draft)
}

// Update merges patch into memory id.
func (c *Client) Update(ctx context.Context, id string, patch MemoryPatch) (Memory, error) {
	return c.memories.Update(ctx, id, patch)
}

// Remove deletes memory id, optimistically.
func (c *Client) Remove(ctx context.Context, id string) (RemoveOutcome, error) {
	return c.memories.Remove(ctx, id)
}

// ToggleFavorite flips favorite membership of id.
func (c *Client) ToggleFavorite(id string) (bool, error) {
	return c.memories.ToggleFavorite(id)
}

// Favorites yields favorited memories, newest first.
func (c *Client) Favorites() iter.Seq[Memory] {
	return c.memories.FavoritesView()
}

// FetchMemory refreshes one memory from the backend.
func (c *Client) FetchMemory(ctx context.Context, id string) (Memory, error) {
	if err := c.requireSession(); err != nil {
		return Memory{}, err
	}
	return c.memories.Fetch(ctx, id)
}

// AwaitFavoriteSync blocks until queued favorite changes for id have been
// sent to the backend (or given up on).
func (c *Client) AwaitFavoriteSync(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.memories.AwaitFavoriteSync(ctx, id)
}

// DownloadMedia returns the media bytes of memory id, from the cache when
// present.
func (c *Client) DownloadMedia(ctx context.Context, id string) (Media, error) {
	if err := types.ValidateIDPresent(id, "memoryId"); err != nil {
		return Media{}, err
	}
	if m, ok := c.media.Get(id); ok {
		return m, nil
	}
	if err := c.requireSession(); err != nil {
		return Media{}, err
	}
	m, err := api.DownloadMedia(ctx, c.http, c.baseURL, id)
	if err != nil {
		return Media{}, err
	}
	c.media.Put(id, *m)
	return *m, nil
}

func (c *Client) requireSession() error {
	if c.session.Status() != session.Authenticated {
		return &vaulterrors.AuthError{Message: "Not logged in"}
	}
	return nil
}
