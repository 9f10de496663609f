package memstore

import (
	"bytes"
	"context"
	"net/http"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoryvault/client/internal/backendtest"
	vaulterrors "github.com/memoryvault/client/internal/errors"
	"github.com/memoryvault/client/internal/shardqueue"
	"github.com/memoryvault/client/internal/types"
)

const email = "a@b.co"

type staticBearer struct{ token string }

func (b staticBearer) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+b.token)
	return http.DefaultTransport.RoundTrip(r)
}

type fixture struct {
	srv *backendtest.Server
	hc  *http.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := backendtest.New()
	t.Cleanup(srv.Close)
	srv.AddUser(email, "ann", "secret1")
	return &fixture{srv: srv, hc: &http.Client{Transport: staticBearer{token: srv.IssueToken(email)}}}
}

func (f *fixture) seed(title string, age time.Duration) types.Memory {
	return f.srv.SeedMemory(email, types.Memory{Title: title, CreatedAt: time.Now().Add(-age).UTC()})
}

func (f *fixture) store(opts ...Option) *Store {
	return New(f.hc, f.srv.URL(), opts...)
}

type eventLog struct {
	mu  sync.Mutex
	evs []Event
}

func (l *eventLog) add(e Event) {
	l.mu.Lock()
	l.evs = append(l.evs, e)
	l.mu.Unlock()
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, len(l.evs))
	for i, e := range l.evs {
		out[i] = e.Kind
	}
	return out
}

func ids(ms []types.Memory) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func collect(seq func(func(types.Memory) bool)) []string {
	var out []string
	for m := range seq {
		out = append(out, m.ID)
	}
	return out
}

func draft(title string) types.MemoryDraft {
	return types.MemoryDraft{Title: title, FileName: "trip.jpg", File: bytes.NewReader([]byte("img"))}
}

func TestLoad_ReplacesCollection(t *testing.T) {
	f := newFixture(t)
	older := f.seed("older", time.Hour)
	newer := f.seed("newer", time.Minute)
	st := f.store()
	log := &eventLog{}
	st.Subscribe(log.add)

	require.NoError(t, st.Load(context.Background()))

	assert.Equal(t, []string{newer.ID, older.ID}, ids(st.Memories()))
	assert.True(t, st.Loaded())
	assert.False(t, st.Loading())
	assert.Equal(t, []EventKind{LoadStarted, Loaded}, log.kinds())
}

func TestLoad_LastIssuedWins(t *testing.T) {
	f := newFixture(t)
	a := f.seed("a", time.Hour)
	st := f.store()
	log := &eventLog{}
	st.Subscribe(log.add)

	f.srv.Delay(backendtest.RouteList, 200*time.Millisecond)
	firstDone := make(chan error, 1)
	go func() { firstDone <- st.Load(context.Background()) }()
	require.Eventually(t, func() bool { return f.srv.Calls(backendtest.RouteList) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, st.Load(context.Background()))
	assert.True(t, st.Loading(), "first load still in flight")

	// Only the delayed first response will see this record.
	f.seed("late", time.Minute)
	require.NoError(t, <-firstDone)

	assert.Equal(t, []string{a.ID}, ids(st.Memories()))
	assert.False(t, st.Loading())
	assert.Contains(t, log.kinds(), LoadSuperseded)
}

func TestLoad_FailureKeepsStaleCollection(t *testing.T) {
	f := newFixture(t)
	a := f.seed("a", time.Hour)
	st := f.store()
	require.NoError(t, st.Load(context.Background()))

	f.srv.Fail(backendtest.RouteList, http.StatusServiceUnavailable, `{"message":"down"}`, 1)
	err := st.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, "down", vaulterrors.Message(err))
	assert.Equal(t, []string{a.ID}, ids(st.Memories()))
	assert.True(t, st.Loaded())
}

func TestLoad_FirstFailureLeavesEmpty(t *testing.T) {
	f := newFixture(t)
	f.seed("a", time.Hour)
	st := f.store()
	f.srv.Fail(backendtest.RouteList, http.StatusInternalServerError, "", 1)

	require.Error(t, st.Load(context.Background()))
	assert.Empty(t, st.Memories())
	assert.False(t, st.Loaded())
}

func TestAdd_InsertsAtFront(t *testing.T) {
	f := newFixture(t)
	f.seed("a", time.Hour)
	st := f.store()
	require.NoError(t, st.Load(context.Background()))

	m, err := st.Add(context.Background(), draft("Trip"))
	require.NoError(t, err)
	require.NotEmpty(t, m.ID)
	assert.Equal(t, "Trip", m.Title)

	list := st.Memories()
	require.Len(t, list, 2)
	assert.Equal(t, m.ID, list[0].ID)
	_, onServer := f.srv.Memory(email, m.ID)
	assert.True(t, onServer)
}

func TestAdd_FailureLeavesCollection(t *testing.T) {
	f := newFixture(t)
	f.seed("a", time.Hour)
	st := f.store()
	require.NoError(t, st.Load(context.Background()))
	before := st.Memories()

	f.srv.Fail(backendtest.RouteCreate, http.StatusRequestEntityTooLarge, `{"message":"File too large"}`, 1)
	_, err := st.Add(context.Background(), draft("Trip"))
	require.ErrorIs(t, err, vaulterrors.ErrUpload)
	assert.Equal(t, "File too large", vaulterrors.Message(err))
	assert.Equal(t, before, st.Memories())

	_, err = st.Add(context.Background(), types.MemoryDraft{Title: "no file"})
	require.ErrorIs(t, err, vaulterrors.ErrUpload)
	assert.Equal(t, 1, f.srv.Calls(backendtest.RouteCreate))
}

func TestUpdate_MergesLocallyAndRemotely(t *testing.T) {
	f := newFixture(t)
	a := f.seed("a", time.Hour)
	st := f.store()
	require.NoError(t, st.Load(context.Background()))

	title := "renamed"
	tags := []string{"beach"}
	got, err := st.Update(context.Background(), a.ID, types.MemoryPatch{Title: &title, Tags: &tags})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)

	local, _ := st.Get(a.ID)
	assert.Equal(t, "renamed", local.Title)
	assert.Equal(t, []string{"beach"}, local.Tags)
	remote, _ := f.srv.Memory(email, a.ID)
	assert.Equal(t, "renamed", remote.Title)
}

func TestUpdate_UnknownIDIsNotFound(t *testing.T) {
	f := newFixture(t)
	st := f.store()
	title := "x"
	_, err := st.Update(context.Background(), "missing", types.MemoryPatch{Title: &title})

	var nf *vaulterrors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.ID)
	assert.Equal(t, 0, f.srv.Calls(backendtest.RouteUpdate))
}

func TestRemove_DropsFavoriteMembership(t *testing.T) {
	f := newFixture(t)
	a := f.seed("a", time.Hour)
	b := f.seed("b", time.Minute)
	st := f.store()
	require.NoError(t, st.Load(context.Background()))
	_, err := st.ToggleFavorite(a.ID)
	require.NoError(t, err)

	// No subscriber may observe a favorited-but-deleted record.
	st.Subscribe(func(e Event) {
		if e.Kind == Removed {
			assert.NotContains(t, collect(st.FavoritesView()), a.ID)
			_, present := st.Get(a.ID)
			assert.False(t, present)
		}
	})

	outcome, err := st.Remove(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Empty(t, collect(st.FavoritesView()))
	assert.Equal(t, []string{b.ID}, ids(st.Memories()))
	_, onServer := f.srv.Memory(email, a.ID)
	assert.False(t, onServer)
}

func TestRemove_RollsBackOnBackendFailure(t *testing.T) {
	f := newFixture(t)
	a := f.seed("a", time.Hour)
	b := f.seed("b", time.Minute)
	st := f.store()
	require.NoError(t, st.Load(context.Background()))
	_, err := st.ToggleFavorite(a.ID)
	require.NoError(t, err)
	log := &eventLog{}
	st.Subscribe(log.add)

	f.srv.Fail(backendtest.RouteDelete, http.StatusInternalServerError, `{"message":"db down"}`, 1)
	outcome, err := st.Remove(context.Background(), a.ID)

	assert.Equal(t, RolledBack, outcome)
	var de *vaulterrors.DeleteError
	require.ErrorAs(t, err, &de)
	assert.True(t, de.RolledBack)
	assert.Equal(t, []string{b.ID, a.ID}, ids(st.Memories()))
	assert.Equal(t, []string{a.ID}, collect(st.FavoritesView()))
	assert.Equal(t, []EventKind{Removed, Restored}, log.kinds())
}

func TestRemove_BackendNotFoundCountsAsApplied(t *testing.T) {
	f := newFixture(t)
	a := f.seed("a", time.Hour)
	st := f.store()
	require.NoError(t, st.Load(context.Background()))
	f.srv.Fail(backendtest.RouteDelete, http.StatusNotFound, `{"message":"Memory not found"}`, 1)

	outcome, err := st.Remove(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Zero(t, st.Len())
}

func TestRemove_UnknownID(t *testing.T) {
	f := newFixture(t)
	st := f.store()
	_, err := st.Remove(context.Background(), "nope")
	assert.ErrorIs(t, err, vaulterrors.ErrNotFound)
	assert.Equal(t, 0, f.srv.Calls(backendtest.RouteDelete))
}

func TestToggleFavorite_Involution(t *testing.T) {
	f := newFixture(t)
	a := f.seed("a", time.Hour)
	st := f.store()
	require.NoError(t, st.Load(context.Background()))

	for n := 1; n <= 7; n++ {
		fav, err := st.ToggleFavorite(a.ID)
		require.NoError(t, err)
		assert.Equal(t, n%2 == 1, fav)
		assert.Equal(t, n%2 == 1, st.IsFavorite(a.ID))
	}

	_, err := st.ToggleFavorite("missing")
	assert.ErrorIs(t, err, vaulterrors.ErrNotFound)
}

func TestToggleFavorite_ClientOnlySurvivesReload(t *testing.T) {
	f := newFixture(t)
	a := f.seed("a", time.Hour)
	st := f.store()
	require.NoError(t, st.Load(context.Background()))
	_, err := st.ToggleFavorite(a.ID)
	require.NoError(t, err)

	require.NoError(t, st.Load(context.Background()))
	assert.True(t, st.IsFavorite(a.ID))
	assert.Equal(t, 0, f.srv.Calls(backendtest.RouteUpdate))
}

func newExecutor(t *testing.T, st **Store) *shardqueue.Executor {
	t.Helper()
	ex := shardqueue.NewExecutor(shardqueue.Config{
		Shards: 2, QueueSize: 16, MaxAttempts: 2, BaseBackoff: time.Millisecond,
		ErrorHandler: func(key string, err error) { (*st).FavoriteSyncFailed(key, err) },
	})
	t.Cleanup(ex.Stop)
	return ex
}

func TestToggleFavorite_ServerTracked(t *testing.T) {
	f := newFixture(t)
	a := f.seed("a", time.Hour)
	var st *Store
	st = f.store(WithFavoriteSync(newExecutor(t, &st)))
	require.True(t, st.ServerTrackedFavorites())
	require.NoError(t, st.Load(context.Background()))

	_, err := st.ToggleFavorite(a.ID)
	require.NoError(t, err)
	require.NoError(t, st.AwaitFavoriteSync(context.Background(), a.ID))
	remote, _ := f.srv.Memory(email, a.ID)
	assert.True(t, remote.IsFavorite)

	for i := 0; i < 3; i++ {
		_, err = st.ToggleFavorite(a.ID)
		require.NoError(t, err)
	}
	require.NoError(t, st.AwaitFavoriteSync(context.Background(), a.ID))
	remote, _ = f.srv.Memory(email, a.ID)
	assert.False(t, remote.IsFavorite)
	assert.False(t, st.IsFavorite(a.ID))
}

func TestToggleFavorite_SyncFailureReported(t *testing.T) {
	f := newFixture(t)
	a := f.seed("a", time.Hour)
	var st *Store
	st = f.store(WithFavoriteSync(newExecutor(t, &st)))
	require.NoError(t, st.Load(context.Background()))
	log := &eventLog{}
	st.Subscribe(log.add)

	f.srv.Fail(backendtest.RouteUpdate, http.StatusNotFound, `{"message":"Memory not found"}`, 1)
	_, err := st.ToggleFavorite(a.ID)
	require.NoError(t, err)
	require.NoError(t, st.AwaitFavoriteSync(context.Background(), a.ID))

	assert.Equal(t, []EventKind{FavoriteChanged, FavoriteSyncFailed}, log.kinds())
	assert.True(t, st.IsFavorite(a.ID), "local flag stays until the next load")
	assert.Equal(t, 1, f.srv.Calls(backendtest.RouteUpdate))
}

func TestViews_OrderAndRestart(t *testing.T) {
	f := newFixture(t)
	old := f.srv.SeedMemory(email, types.Memory{
		Title: "old", Tags: []string{"beach"}, CreatedAt: time.Now().Add(-3 * time.Hour),
		Location: &types.Location{Lat: 10, Lng: 20},
	})
	mid := f.srv.SeedMemory(email, types.Memory{
		Title: "mid", CreatedAt: time.Now().Add(-2 * time.Hour),
		Location: &types.Location{Lat: -5, Lng: 40},
	})
	recent := f.srv.SeedMemory(email, types.Memory{
		Title: "recent", Tags: []string{"beach", "sun"}, CreatedAt: time.Now().Add(-time.Hour),
	})
	st := f.store()
	require.NoError(t, st.Load(context.Background()))

	for _, id := range []string{old.ID, recent.ID} {
		_, err := st.ToggleFavorite(id)
		require.NoError(t, err)
	}

	favs := st.FavoritesView()
	assert.Equal(t, []string{recent.ID, old.ID}, collect(favs))
	assert.Equal(t, []string{recent.ID, old.ID}, collect(favs), "view must be restartable")

	// Early break stops the sequence.
	for m := range favs {
		assert.Equal(t, recent.ID, m.ID)
		break
	}

	assert.Equal(t, []string{mid.ID, old.ID}, collect(st.Located()))
	assert.Equal(t, []string{recent.ID, old.ID}, collect(st.Tagged("beach")))

	b, ok := st.Bounds()
	require.True(t, ok)
	assert.Equal(t, Bounds{MinLat: -5, MinLng: 20, MaxLat: 10, MaxLng: 40}, b)

	// Views see later changes.
	_, err := st.ToggleFavorite(mid.ID)
	require.NoError(t, err)
	assert.True(t, slices.Contains(collect(favs), mid.ID))
	assert.Len(t, st.Memories(), 3, "views must not mutate the collection")
}

func TestBounds_NoneLocated(t *testing.T) {
	f := newFixture(t)
	f.seed("a", time.Hour)
	st := f.store()
	require.NoError(t, st.Load(context.Background()))
	_, ok := st.Bounds()
	assert.False(t, ok)
}

func TestFetch_RefreshesAndInserts(t *testing.T) {
	f := newFixture(t)
	a := f.seed("a", 3*time.Hour)
	c := f.seed("c", time.Hour)
	st := f.store()
	require.NoError(t, st.Load(context.Background()))

	b := f.seed("b", 2*time.Hour)
	got, err := st.Fetch(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, ids(st.Memories()))

	f.srv.Fail(backendtest.RouteGet, http.StatusNotFound, `{"message":"Memory not found"}`, 1)
	_, err = st.Fetch(context.Background(), a.ID)
	assert.ErrorIs(t, err, vaulterrors.ErrNotFound)
	assert.Equal(t, []string{c.ID, b.ID}, ids(st.Memories()))
}

func TestClear_DropsCollectionAndInflightLoads(t *testing.T) {
	f := newFixture(t)
	f.seed("a", time.Hour)
	st := f.store()
	require.NoError(t, st.Load(context.Background()))

	f.srv.Delay(backendtest.RouteList, 100*time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- st.Load(context.Background()) }()
	require.Eventually(t, func() bool { return f.srv.Calls(backendtest.RouteList) == 2 }, time.Second, time.Millisecond)

	st.Clear()
	assert.Empty(t, st.Memories())
	assert.False(t, st.Loading())

	require.NoError(t, <-done)
	assert.Empty(t, st.Memories(), "load issued before Clear must not repopulate")
	assert.False(t, st.Loaded())
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestLoad_OlderResponseKeepsRemovedRecordOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.seed("a", time.Hour)
	b := f.seed("b", time.Minute)
	var st *Store
	st = f.store(WithFavoriteSync(newExecutor(t, &st)))
	require.NoError(t, st.Load(ctx))
	_, err := st.ToggleFavorite(a.ID)
	require.NoError(t, err)
	require.NoError(t, st.AwaitFavoriteSync(ctx, a.ID))

	hold := f.srv.Hold(backendtest.RouteList)
	t.Cleanup(hold.Release)
	loaded := make(chan error, 1)
	go func() { loaded <- st.Load(ctx) }()
	waitClosed(t, hold.Arrived(), "list request")

	outcome, err := st.Remove(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, Applied, outcome)

	hold.Release()
	require.NoError(t, <-loaded)
	assert.Equal(t, []string{b.ID}, ids(st.Memories()))
	assert.NotContains(t, collect(st.FavoritesView()), a.ID)
}

func TestLoad_DuringDeleteKeepsRecordOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.seed("a", time.Hour)
	b := f.seed("b", time.Minute)
	st := f.store()
	require.NoError(t, st.Load(ctx))
	_, err := st.ToggleFavorite(a.ID)
	require.NoError(t, err)

	hold := f.srv.Hold(backendtest.RouteDelete)
	t.Cleanup(hold.Release)
	type result struct {
		outcome RemoveOutcome
		err     error
	}
	removed := make(chan result, 1)
	go func() {
		o, err := st.Remove(ctx, a.ID)
		removed <- result{o, err}
	}()
	waitClosed(t, hold.Arrived(), "delete request")

	// The backend still lists a until the delete answers.
	require.NoError(t, st.Load(ctx))
	assert.Equal(t, []string{b.ID}, ids(st.Memories()))
	assert.Empty(t, collect(st.FavoritesView()))

	hold.Release()
	r := <-removed
	require.NoError(t, r.err)
	assert.Equal(t, Applied, r.outcome)

	require.NoError(t, st.Load(ctx))
	assert.Equal(t, []string{b.ID}, ids(st.Memories()))
}

func TestLoad_OlderResponseKeepsAddedRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.seed("a", time.Hour)
	st := f.store()
	require.NoError(t, st.Load(ctx))

	hold := f.srv.Hold(backendtest.RouteList)
	t.Cleanup(hold.Release)
	loaded := make(chan error, 1)
	go func() { loaded <- st.Load(ctx) }()
	waitClosed(t, hold.Arrived(), "list request")

	created, err := st.Add(ctx, draft("Trip"))
	require.NoError(t, err)

	hold.Release()
	require.NoError(t, <-loaded)
	assert.Equal(t, []string{created.ID, a.ID}, ids(st.Memories()))

	// A load issued after the add lists it from the backend; no duplicate.
	require.NoError(t, st.Load(ctx))
	assert.Equal(t, []string{created.ID, a.ID}, ids(st.Memories()))
}

func TestRemove_FailureWhileRecordShownAgainIsRolledBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.seed("a", time.Hour)
	b := f.seed("b", time.Minute)
	st := f.store()
	require.NoError(t, st.Load(ctx))

	f.srv.Fail(backendtest.RouteDelete, http.StatusInternalServerError, `{"message":"db down"}`, 1)
	hold := f.srv.Hold(backendtest.RouteDelete)
	t.Cleanup(hold.Release)
	type result struct {
		outcome RemoveOutcome
		err     error
	}
	removed := make(chan result, 1)
	go func() {
		o, err := st.Remove(ctx, a.ID)
		removed <- result{o, err}
	}()
	waitClosed(t, hold.Arrived(), "delete request")

	_, err := st.Fetch(ctx, a.ID)
	require.NoError(t, err)
	_, visible := st.Get(a.ID)
	require.True(t, visible)

	hold.Release()
	r := <-removed
	assert.Equal(t, RolledBack, r.outcome)
	var de *vaulterrors.DeleteError
	require.ErrorAs(t, r.err, &de)
	assert.True(t, de.RolledBack)
	assert.Equal(t, []string{b.ID, a.ID}, ids(st.Memories()))
}

func TestRemove_SuccessDropsRecordShownAgain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.seed("a", time.Hour)
	b := f.seed("b", time.Minute)
	st := f.store()
	require.NoError(t, st.Load(ctx))

	hold := f.srv.Hold(backendtest.RouteDelete)
	t.Cleanup(hold.Release)
	removed := make(chan RemoveOutcome, 1)
	go func() {
		o, err := st.Remove(ctx, a.ID)
		assert.NoError(t, err)
		removed <- o
	}()
	waitClosed(t, hold.Arrived(), "delete request")
	_, err := st.Fetch(ctx, a.ID)
	require.NoError(t, err)

	hold.Release()
	assert.Equal(t, Applied, <-removed)
	assert.Equal(t, []string{b.ID}, ids(st.Memories()))
}

// gatedExecutor blocks every Submit until the gate opens, then runs the
// job inline.
type gatedExecutor struct {
	entered chan struct{}
	gate    chan struct{}
	err     error
}

func (g *gatedExecutor) Submit(ctx context.Context, _ string, job shardqueue.Job) error {
	g.entered <- struct{}{}
	<-g.gate
	if g.err != nil {
		return g.err
	}
	return job.Run(ctx)
}

func (g *gatedExecutor) Barrier(context.Context, string) error { return nil }

func TestToggleFavorite_BlockedSubmitDoesNotHoldStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.seed("a", time.Hour)
	ex := &gatedExecutor{entered: make(chan struct{}, 2), gate: make(chan struct{})}
	st := f.store(WithFavoriteSync(ex))
	require.NoError(t, st.Load(ctx))

	first := make(chan bool, 1)
	go func() {
		fav, err := st.ToggleFavorite(a.ID)
		assert.NoError(t, err)
		first <- fav
	}()
	select {
	case <-ex.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first toggle never reached Submit")
	}

	// Readers are not blocked behind the pending enqueue.
	readDone := make(chan struct{})
	go func() {
		_ = st.Len()
		_ = collect(st.FavoritesView())
		close(readDone)
	}()
	waitClosed(t, readDone, "reads while Submit blocks")

	// A second toggle of the same id waits its turn behind the first.
	second := make(chan bool, 1)
	go func() {
		fav, err := st.ToggleFavorite(a.ID)
		assert.NoError(t, err)
		second <- fav
	}()
	select {
	case <-ex.entered:
		t.Fatal("second toggle submitted before the first finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(ex.gate)
	assert.True(t, <-first)
	<-ex.entered
	assert.False(t, <-second)

	remote, _ := f.srv.Memory(email, a.ID)
	assert.False(t, remote.IsFavorite, "backend saw the toggles out of order")
	assert.False(t, st.IsFavorite(a.ID))
}

func TestToggleFavorite_NotQueuedIsUndone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.seed("a", time.Hour)
	ex := &gatedExecutor{entered: make(chan struct{}, 1), gate: make(chan struct{}), err: shardqueue.ErrQueueFull}
	close(ex.gate)
	st := f.store(WithFavoriteSync(ex))
	require.NoError(t, st.Load(ctx))

	fav, err := st.ToggleFavorite(a.ID)
	assert.ErrorIs(t, err, shardqueue.ErrQueueFull)
	assert.False(t, fav)
	assert.False(t, st.IsFavorite(a.ID))

	require.NoError(t, st.Load(ctx))
	assert.False(t, st.IsFavorite(a.ID))
}
