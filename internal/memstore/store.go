// Package memstore holds the current user's memories and favorite
// membership and reconciles local changes with backend writes.
package memstore

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/memoryvault/client/internal/api"
	vaulterrors "github.com/memoryvault/client/internal/errors"
	"github.com/memoryvault/client/internal/job"
	"github.com/memoryvault/client/internal/notify"
	"github.com/memoryvault/client/internal/shardqueue"
	"github.com/memoryvault/client/internal/types"
)

// Executor runs favorite sync jobs in FIFO order per memory id.
type Executor interface {
	Submit(ctx context.Context, key string, job shardqueue.Job) error
	Barrier(ctx context.Context, key string) error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for failures that are also returned to callers.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithFavoriteSync makes favorites server-tracked: each toggle is pushed to
// the backend through ex. Without it favorites are client-only and survive
// reloads by id.
func WithFavoriteSync(ex Executor) Option {
	return func(s *Store) { s.sync = ex }
}

type pendingFavorite struct {
	favorite bool
	seq      uint64
}

// tombstone keeps a removed id out of loads that could still list it.
type tombstone struct {
	gen      uint64 // last load issued when the record was removed
	inflight bool   // backend delete not finished yet
}

// turn orders favorite submissions for one id.
type turn struct{ issued, served uint64 }

// Store is the in-memory view of the user's memories. Safe for concurrent
// use; events are delivered outside the lock in mutation order.
type Store struct {
	hc      api.HTTPClient
	baseURL string
	log     zerolog.Logger
	sync    Executor

	mu       sync.Mutex
	items    []types.Memory // collection order, newest first as served
	loaded   bool
	inflight int
	gen      uint64 // last issued load
	epoch    uint64 // bumped by Clear; results from older epochs are dropped

	// Local removes and adds that a load issued earlier must not undo.
	tombs map[string]tombstone
	added map[string]uint64 // id -> last load issued when inserted

	pending    map[string]pendingFavorite
	syncSeq    uint64
	syncCtx    context.Context
	syncCancel context.CancelFunc

	turnMu   sync.Mutex
	turnCond *sync.Cond
	turns    map[string]*turn

	events notify.Queue[Event]
}

// New constructs an empty Store.
func New(hc api.HTTPClient, baseURL string, opts ...Option) *Store {
	s := &Store{
		hc:      hc,
		baseURL: baseURL,
		log:     zerolog.Nop(),
		tombs:   make(map[string]tombstone),
		added:   make(map[string]uint64),
		pending: make(map[string]pendingFavorite),
		turns:   make(map[string]*turn),
	}
	s.turnCond = sync.NewCond(&s.turnMu)
	for _, opt := range opts {
		opt(s)
	}
	s.syncCtx, s.syncCancel = context.WithCancel(context.Background())
	return s
}

// Subscribe registers fn for every change and returns a cancel func.
func (s *Store) Subscribe(fn func(Event)) (cancel func()) {
	return s.events.Subscribe(fn)
}

// ServerTrackedFavorites reports whether toggles are synced to the backend.
func (s *Store) ServerTrackedFavorites() bool { return s.sync != nil }

// ------------------------------
// Load
// ------------------------------

// Load fetches the full collection and replaces the local one. When loads
// overlap only the most recently issued one is applied; superseded calls
// return nil. On failure the previous collection stays visible unless no
// load has succeeded yet.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	s.gen++
	gen, epoch := s.gen, s.epoch
	s.inflight++
	s.events.Push(Event{Kind: LoadStarted, Loading: true})
	s.mu.Unlock()
	s.events.Flush()

	list, err := api.ListMemories(ctx, s.hc, s.baseURL)

	s.mu.Lock()
	if s.epoch == epoch {
		s.inflight--
	}
	loading := s.inflight > 0
	switch {
	case s.epoch != epoch:
		s.mu.Unlock()
		return err
	case gen != s.gen:
		s.events.Push(Event{Kind: LoadSuperseded, Loading: loading})
		s.mu.Unlock()
		s.events.Flush()
		s.log.Debug().Uint64("generation", gen).Msg("memstore: discarding superseded load")
		return nil
	case err != nil:
		if !s.loaded {
			s.items = nil
		}
		s.events.Push(Event{Kind: LoadFailed, Loading: loading, Err: err})
		s.mu.Unlock()
		s.events.Flush()
		s.log.Warn().Err(err).Msg("memstore: load failed")
		return err
	}

	s.items = s.applyLoadLocked(gen, list)
	s.loaded = true
	s.events.Push(Event{Kind: Loaded, Loading: loading})
	s.mu.Unlock()
	s.events.Flush()
	return nil
}

// applyLoadLocked installs the list of load gen, the newest issued. Records
// removed since gen was issued, or still being deleted, stay out; records
// added locally since then stay in, ahead of the server list.
func (s *Store) applyLoadLocked(gen uint64, fresh []types.Memory) []types.Memory {
	listed := make(map[string]bool, len(fresh))
	kept := fresh[:0]
	for _, m := range fresh {
		if t, ok := s.tombs[m.ID]; ok && (t.inflight || gen <= t.gen) {
			continue
		}
		listed[m.ID] = true
		kept = append(kept, m)
	}
	var local []types.Memory
	for _, m := range s.items {
		if g, ok := s.added[m.ID]; ok && g >= gen && !listed[m.ID] {
			local = append(local, m)
		}
	}
	out := append(local, s.reconcileLocked(kept)...)

	// Every older load is superseded now.
	for id, t := range s.tombs {
		if !t.inflight {
			delete(s.tombs, id)
		}
	}
	clear(s.added)
	return out
}

// noteAddedLocked remembers a locally inserted id while loads are in flight.
func (s *Store) noteAddedLocked(id string) {
	if s.inflight > 0 {
		s.added[id] = s.gen
	}
}

// reconcileLocked carries local favorite state over a fresh server list.
func (s *Store) reconcileLocked(fresh []types.Memory) []types.Memory {
	if s.sync == nil {
		prev := make(map[string]bool, len(s.items))
		for _, m := range s.items {
			if m.IsFavorite {
				prev[m.ID] = true
			}
		}
		for i := range fresh {
			fresh[i].IsFavorite = prev[fresh[i].ID]
		}
		return fresh
	}
	for i := range fresh {
		if p, ok := s.pending[fresh[i].ID]; ok {
			fresh[i].IsFavorite = p.favorite
		}
	}
	return fresh
}

// ------------------------------
// Mutations
// ------------------------------

// Add uploads draft and inserts the created record at the front. On failure
// the collection is untouched and an *errors.UploadError is returned.
func (s *Store) Add(ctx context.Context, draft types.MemoryDraft) (types.Memory, error) {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	created, err := api.CreateMemory(ctx, s.hc, s.baseURL, draft)
	if err != nil {
		s.log.Warn().Err(err).Str("title", draft.Title).Msg("memstore: add failed")
		return types.Memory{}, err
	}

	m := created.Clone()
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return m, nil
	}
	if i := s.indexLocked(m.ID); i >= 0 {
		s.items = slices.Delete(s.items, i, i+1)
	}
	s.items = slices.Insert(s.items, 0, m)
	s.noteAddedLocked(m.ID)
	out := m.Clone()
	s.events.Push(Event{Kind: Added, ID: m.ID, Memory: &out})
	s.mu.Unlock()
	s.events.Flush()
	return m.Clone(), nil
}

// Update merges patch into the record both at the backend and locally.
// An id absent from the local collection fails with *errors.NotFoundError
// before any network call.
func (s *Store) Update(ctx context.Context, id string, patch types.MemoryPatch) (types.Memory, error) {
	if err := types.Validate(patch); err != nil {
		return types.Memory{}, err
	}
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return types.Memory{}, &vaulterrors.NotFoundError{ID: id}
	}
	current, epoch := s.items[i].Clone(), s.epoch
	s.mu.Unlock()
	if patch.Empty() {
		return current, nil
	}

	server, err := api.UpdateMemory(ctx, s.hc, s.baseURL, id, patch)
	if err != nil {
		s.log.Warn().Err(err).Str("memory_id", id).Msg("memstore: update failed")
		return types.Memory{}, err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return patch.Apply(current), nil
	}
	i = s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return types.Memory{}, &vaulterrors.NotFoundError{ID: id}
	}
	var next types.Memory
	if server != nil && server.ID == id {
		next = server.Clone()
		if patch.IsFavorite == nil {
			next.IsFavorite = s.items[i].IsFavorite
		}
	} else {
		next = patch.Apply(s.items[i])
	}
	s.items[i] = next
	out := next.Clone()
	s.events.Push(Event{Kind: Updated, ID: id, Memory: &out})
	s.mu.Unlock()
	s.events.Flush()
	return next.Clone(), nil
}

// Remove deletes id optimistically: the record and its favorite membership
// disappear together at once, and are restored if the backend refuses. A
// backend 404 counts as success. Loads issued before the removal, or
// answered while the delete is in flight, do not bring the record back.
func (s *Store) Remove(ctx context.Context, id string) (RemoveOutcome, error) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return 0, &vaulterrors.NotFoundError{ID: id}
	}
	removed, epoch := s.items[i], s.epoch
	s.items = slices.Delete(s.items, i, i+1)
	delete(s.pending, id)
	delete(s.added, id)
	tomb := tombstone{gen: s.gen, inflight: true}
	s.tombs[id] = tomb
	s.events.Push(Event{Kind: Removed, ID: id})
	s.mu.Unlock()
	s.events.Flush()

	err := api.DeleteMemory(ctx, s.hc, s.baseURL, id)
	if err == nil || errors.Is(err, vaulterrors.ErrNotFound) {
		s.mu.Lock()
		if s.epoch == epoch {
			if s.inflight > 0 {
				s.tombs[id] = tombstone{gen: tomb.gen}
			} else {
				delete(s.tombs, id)
			}
			// A Fetch may have shown the record again while the delete ran.
			if j := s.indexLocked(id); j >= 0 {
				s.items = slices.Delete(s.items, j, j+1)
				delete(s.pending, id)
				s.events.Push(Event{Kind: Removed, ID: id})
			}
		}
		s.mu.Unlock()
		s.events.Flush()
		return Applied, nil
	}
	s.log.Warn().Err(err).Str("memory_id", id).Msg("memstore: delete failed")

	s.mu.Lock()
	if s.epoch != epoch {
		// Cleared meanwhile; the record is gone locally either way.
		s.mu.Unlock()
		return Applied, &vaulterrors.DeleteError{ID: id, Err: err}
	}
	delete(s.tombs, id)
	if s.indexLocked(id) >= 0 {
		s.mu.Unlock()
		return RolledBack, &vaulterrors.DeleteError{ID: id, RolledBack: true, Err: err}
	}
	at := min(i, len(s.items))
	s.items = slices.Insert(s.items, at, removed)
	out := removed.Clone()
	s.events.Push(Event{Kind: Restored, ID: id, Memory: &out, Err: err})
	s.mu.Unlock()
	s.events.Flush()
	return RolledBack, &vaulterrors.DeleteError{ID: id, RolledBack: true, Err: err}
}

// ToggleFavorite flips favorite membership of id and returns the new state.
// With server-tracked favorites the change is queued for the backend; if it
// cannot be queued the flip is undone and the error is returned.
func (s *Store) ToggleFavorite(id string) (bool, error) {
	if s.sync == nil {
		return s.toggleLocal(id)
	}
	done := s.awaitTurn(id)
	defer done()

	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false, &vaulterrors.NotFoundError{ID: id}
	}
	fav := !s.items[i].IsFavorite
	s.syncSeq++
	seq, epoch, ctx := s.syncSeq, s.epoch, s.syncCtx
	prev, hadPrev := s.pending[id]
	s.pending[id] = pendingFavorite{favorite: fav, seq: seq}
	s.items[i].IsFavorite = fav
	out := s.items[i].Clone()
	s.events.Push(Event{Kind: FavoriteChanged, ID: id, Memory: &out})
	s.mu.Unlock()
	s.events.Flush()

	err := s.sync.Submit(ctx, id, s.favoriteJob(id, fav, seq))
	if err == nil {
		return fav, nil
	}
	s.log.Warn().Err(err).Str("memory_id", id).Msg("memstore: favorite sync not queued")

	s.mu.Lock()
	if s.epoch == epoch {
		if p, ok := s.pending[id]; ok && p.seq == seq {
			if hadPrev {
				s.pending[id] = prev
			} else {
				delete(s.pending, id)
			}
		}
		if j := s.indexLocked(id); j >= 0 && s.items[j].IsFavorite == fav {
			s.items[j].IsFavorite = !fav
			back := s.items[j].Clone()
			s.events.Push(Event{Kind: FavoriteChanged, ID: id, Memory: &back, Err: err})
		}
	}
	s.mu.Unlock()
	s.events.Flush()
	return !fav, err
}

func (s *Store) toggleLocal(id string) (bool, error) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false, &vaulterrors.NotFoundError{ID: id}
	}
	fav := !s.items[i].IsFavorite
	s.items[i].IsFavorite = fav
	out := s.items[i].Clone()
	s.events.Push(Event{Kind: FavoriteChanged, ID: id, Memory: &out})
	s.mu.Unlock()
	s.events.Flush()
	return fav, nil
}

// awaitTurn blocks until every earlier toggle of id has been submitted, so
// the executor sees one id's changes in toggle order. The store lock is not
// held while waiting.
func (s *Store) awaitTurn(id string) (done func()) {
	s.turnMu.Lock()
	t := s.turns[id]
	if t == nil {
		t = &turn{}
		s.turns[id] = t
	}
	ticket := t.issued
	t.issued++
	for t.served != ticket {
		s.turnCond.Wait()
	}
	s.turnMu.Unlock()
	return func() {
		s.turnMu.Lock()
		t.served++
		if t.served == t.issued {
			delete(s.turns, id)
		}
		s.turnMu.Unlock()
		s.turnCond.Broadcast()
	}
}

func (s *Store) favoriteJob(id string, fav bool, seq uint64) shardqueue.Job {
	return job.New(func(ctx context.Context) error {
		if _, err := api.UpdateMemory(ctx, s.hc, s.baseURL, id, types.MemoryPatch{IsFavorite: &fav}); err != nil {
			s.log.Debug().Err(err).Str("memory_id", id).Str("shard", job.ShardLabel(id)).Msg("memstore: favorite sync attempt failed")
			return err
		}
		s.mu.Lock()
		if p, ok := s.pending[id]; ok && p.seq == seq {
			delete(s.pending, id)
		}
		s.mu.Unlock()
		return nil
	})
}

// FavoriteSyncFailed records that the backend never accepted the queued
// favorite change for id. The local flag stays; the next Load reconciles.
func (s *Store) FavoriteSyncFailed(id string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.log.Warn().Err(err).Str("memory_id", id).Msg("memstore: favorite sync gave up")
	s.mu.Lock()
	delete(s.pending, id)
	s.events.Push(Event{Kind: FavoriteSyncFailed, ID: id, Err: err})
	s.mu.Unlock()
	s.events.Flush()
}

// AwaitFavoriteSync waits until favorite changes queued for id so far have
// been attempted. It returns nil at once for client-only favorites.
func (s *Store) AwaitFavoriteSync(ctx context.Context, id string) error {
	if s.sync == nil {
		return nil
	}
	return s.sync.Barrier(ctx, id)
}

// Fetch refreshes one record from the backend, inserting it in createdAt
// order when absent. A backend 404 drops the local copy.
func (s *Store) Fetch(ctx context.Context, id string) (types.Memory, error) {
	if err := types.ValidateIDPresent(id, "memoryID"); err != nil {
		return types.Memory{}, err
	}
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	m, err := api.GetMemory(ctx, s.hc, s.baseURL, id)
	if err != nil {
		if errors.Is(err, vaulterrors.ErrNotFound) {
			s.mu.Lock()
			if i := s.indexLocked(id); i >= 0 && s.epoch == epoch {
				s.items = slices.Delete(s.items, i, i+1)
				delete(s.pending, id)
				delete(s.added, id)
				if s.inflight > 0 {
					s.tombs[id] = tombstone{gen: s.gen}
				}
				s.events.Push(Event{Kind: Removed, ID: id})
			}
			s.mu.Unlock()
			s.events.Flush()
		}
		return types.Memory{}, err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return m.Clone(), nil
	}
	next := s.reconcileLocked([]types.Memory{m.Clone()})[0]
	if i := s.indexLocked(id); i >= 0 {
		if s.sync == nil {
			next.IsFavorite = s.items[i].IsFavorite
		}
		s.items[i] = next
		out := next.Clone()
		s.events.Push(Event{Kind: Updated, ID: id, Memory: &out})
	} else {
		at, _ := slices.BinarySearchFunc(s.items, next, func(e, t types.Memory) int {
			return t.CreatedAt.Compare(e.CreatedAt)
		})
		s.items = slices.Insert(s.items, at, next)
		s.noteAddedLocked(id)
		out := next.Clone()
		s.events.Push(Event{Kind: Added, ID: id, Memory: &out})
	}
	s.mu.Unlock()
	s.events.Flush()
	return next.Clone(), nil
}

// Clear drops every record and pending favorite sync. In-flight operations
// started before Clear do not touch the collection afterwards.
func (s *Store) Clear() {
	s.mu.Lock()
	s.epoch++
	s.gen++
	s.items = nil
	s.loaded = false
	s.inflight = 0
	s.tombs = make(map[string]tombstone)
	s.added = make(map[string]uint64)
	s.pending = make(map[string]pendingFavorite)
	s.syncCancel()
	s.syncCtx, s.syncCancel = context.WithCancel(context.Background())
	s.events.Push(Event{Kind: Cleared})
	s.mu.Unlock()
	s.events.Flush()
}

// Close cancels queued favorite syncs.
func (s *Store) Close() {
	s.mu.Lock()
	s.syncCancel()
	s.mu.Unlock()
}

// ------------------------------
// Reads
// ------------------------------

// Memories returns a copy of the collection in collection order.
func (s *Store) Memories() []types.Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Memory, len(s.items))
	for i, m := range s.items {
		out[i] = m.Clone()
	}
	return out
}

// Get returns a copy of the record with id.
func (s *Store) Get(id string) (types.Memory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.items[i].Clone(), true
	}
	return types.Memory{}, false
}

// Len is the collection size.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Loading reports whether a load is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

// Loaded reports whether a load has succeeded since construction or Clear.
func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// IsFavorite reports favorite membership of id.
func (s *Store) IsFavorite(id string) bool {
	m, ok := s.Get(id)
	return ok && m.IsFavorite
}

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.items, func(m types.Memory) bool { return m.ID == id })
}

// ------------------------------
// Views
// ------------------------------

// FavoritesView yields favorited memories, newest first. Each iteration
// reads the current collection.
func (s *Store) FavoritesView() iter.Seq[types.Memory] {
	return s.view(func(m types.Memory) bool { return m.IsFavorite })
}

// Located yields memories carrying a location, newest first.
func (s *Store) Located() iter.Seq[types.Memory] {
	return s.view(func(m types.Memory) bool { return m.Location != nil })
}

// Tagged yields memories carrying tag, newest first.
func (s *Store) Tagged(tag string) iter.Seq[types.Memory] {
	return s.view(func(m types.Memory) bool { return m.HasTag(tag) })
}

func (s *Store) view(keep func(types.Memory) bool) iter.Seq[types.Memory] {
	return func(yield func(types.Memory) bool) {
		s.mu.Lock()
		var picked []types.Memory
		for _, m := range s.items {
			if keep(m) {
				picked = append(picked, m.Clone())
			}
		}
		s.mu.Unlock()

		slices.SortStableFunc(picked, func(a, b types.Memory) int {
			return b.CreatedAt.Compare(a.CreatedAt)
		})
		for _, m := range picked {
			if !yield(m) {
				return
			}
		}
	}
}

// Bounds is the lat/lng box enclosing every located memory.
type Bounds struct {
	MinLat, MinLng float64
	MaxLat, MaxLng float64
}

// Bounds returns the box around located memories; ok is false when none
// carry a location.
func (s *Store) Bounds() (b Bounds, ok bool) {
	for m := range s.Located() {
		loc := *m.Location
		if !ok {
			b = Bounds{MinLat: loc.Lat, MaxLat: loc.Lat, MinLng: loc.Lng, MaxLng: loc.Lng}
			ok = true
			continue
		}
		b.MinLat = min(b.MinLat, loc.Lat)
		b.MaxLat = max(b.MaxLat, loc.Lat)
		b.MinLng = min(b.MinLng, loc.Lng)
		b.MaxLng = max(b.MaxLng, loc.Lng)
	}
	return b, ok
}
