package datasync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/playersync/internal/common"
	"github.com/dmitrijs2005/playersync/internal/identity"
	"github.com/dmitrijs2005/playersync/internal/worker"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSnapshot struct {
	ID    uuid.UUID
	Value int
}

type testHolder struct {
	*Base
	mu     sync.Mutex
	value  int
	closed atomic.Int32
}

func newTestHolder(r *identity.Record) *testHolder {
	return &testHolder{Base: NewBase(r)}
}

func (h *testHolder) Close() error {
	h.closed.Add(1)
	return nil
}

func (h *testHolder) Snapshot() testSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return testSnapshot{ID: h.ID(), Value: h.value}
}

func (h *testHolder) set(v int) {
	h.mu.Lock()
	h.value = v
	h.mu.Unlock()
}

type saveCall struct {
	id       uuid.UUID
	value    int
	autosave bool
}

type fakeHandler struct {
	mu       sync.Mutex
	stored   map[uuid.UUID]int
	loads    map[uuid.UUID]int
	saves    []saveCall
	loadErr  error
	saveErr  error
	gate     chan struct{}
	setups   int
	closes   int
	setupErr error
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{stored: map[uuid.UUID]int{}, loads: map[uuid.UUID]int{}}
}

func (f *fakeHandler) Setup(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setups++
	return f.setupErr
}

func (f *fakeHandler) Load(ctx context.Context, h *testHolder) error {
	f.mu.Lock()
	f.loads[h.ID()]++
	gate, err := f.gate, f.loadErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	v := f.stored[h.ID()]
	f.mu.Unlock()
	h.set(v)
	return nil
}

func (f *fakeHandler) Save(_ context.Context, h *testHolder, autosave bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	s := h.Snapshot()
	f.saves = append(f.saves, saveCall{id: s.ID, value: s.Value, autosave: autosave})
	f.stored[s.ID] = s.Value
	return nil
}

func (f *fakeHandler) Offline(_ context.Context, id uuid.UUID) testSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return testSnapshot{ID: id, Value: f.stored[id]}
}

func (f *fakeHandler) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeHandler) loadCount(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads[id]
}

func (f *fakeHandler) saveCalls() []saveCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]saveCall(nil), f.saves...)
}

type testManager = Manager[*testHolder, testSnapshot]

func newTestManager(t *testing.T, h *fakeHandler) (*testManager, *identity.Cache) {
	t.Helper()
	cache := identity.NewCache()
	m, err := NewManager[*testHolder, testSnapshot](context.Background(), "test", cache, h, newTestHolder, WithPool(worker.NewPool(4)))
	require.NoError(t, err)
	return m, cache
}

func TestAttach_LoadsAndMarks(t *testing.T) {
	fh := newFakeHandler()
	m, cache := newTestManager(t, fh)
	ctx := context.Background()

	id := uuid.New()
	fh.stored[id] = 7

	events := make(chan LoadEvent[*testHolder, testSnapshot], 1)
	m.Subscribe(func(ev LoadEvent[*testHolder, testSnapshot]) { events <- ev })

	h := m.Attach(ctx, cache.AttachSession(id, nil))
	m.Wait()

	assert.True(t, h.Synchronized())
	assert.True(t, m.IsLoaded(id))
	assert.Equal(t, 7, h.Snapshot().Value)

	select {
	case ev := <-events:
		assert.Same(t, h, ev.Holder)
		assert.Same(t, m, ev.Manager)
	case <-time.After(time.Second):
		t.Fatal("no load event")
	}
}

func TestAttach_IdempotentSingleLoad(t *testing.T) {
	fh := newFakeHandler()
	fh.gate = make(chan struct{})
	m, cache := newTestManager(t, fh)
	ctx := context.Background()

	id := uuid.New()
	r := cache.AttachSession(id, nil)

	var wg sync.WaitGroup
	holders := make([]*testHolder, 8)
	for i := range holders {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			holders[i] = m.Attach(ctx, r)
		}(i)
	}
	wg.Wait()

	for _, h := range holders[1:] {
		assert.Same(t, holders[0], h)
	}
	assert.False(t, holders[0].Synchronized(), "load still gated")
	assert.Equal(t, 1, m.Len())

	close(fh.gate)
	m.Wait()

	assert.Equal(t, 1, fh.loadCount(id))
	assert.True(t, holders[0].Synchronized())
}

func TestMarkSynchronized_Duplicate(t *testing.T) {
	b := NewBase(identity.NewCache().AttachSession(uuid.New(), nil))

	require.NoError(t, b.MarkSynchronized())
	err := b.MarkSynchronized()
	assert.ErrorIs(t, err, common.ErrDuplicateTransition)
	assert.True(t, b.Synchronized())
	assert.NoError(t, b.Close())
}

func TestLoadFailure_LeavesUnsynchronized(t *testing.T) {
	fh := newFakeHandler()
	fh.loadErr = common.ErrBackendUnavailable
	m, cache := newTestManager(t, fh)
	ctx := context.Background()

	id := uuid.New()
	var events atomic.Int32
	m.Subscribe(func(LoadEvent[*testHolder, testSnapshot]) { events.Add(1) })

	h := m.Attach(ctx, cache.AttachSession(id, nil))
	m.Wait()

	assert.False(t, h.Synchronized())
	assert.False(t, m.IsLoaded(id))
	assert.Equal(t, int32(0), events.Load())

	m.Detach(ctx, h)
	m.Wait()
	assert.Empty(t, fh.saveCalls(), "unsynchronized holder must not be saved")
	assert.Equal(t, int32(1), h.closed.Load())
}

func TestDetach_WithoutLoadDoesNotSave(t *testing.T) {
	fh := newFakeHandler()
	fh.gate = make(chan struct{})
	m, cache := newTestManager(t, fh)
	ctx := context.Background()

	id := uuid.New()
	var events atomic.Int32
	m.Subscribe(func(LoadEvent[*testHolder, testSnapshot]) { events.Add(1) })

	h := m.Attach(ctx, cache.AttachSession(id, nil))
	m.Detach(ctx, h)

	_, err := m.Get(id)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Equal(t, int32(1), h.closed.Load())

	close(fh.gate)
	m.Wait()

	assert.False(t, h.Synchronized(), "late load is discarded")
	assert.Equal(t, int32(0), events.Load())
	assert.Empty(t, fh.saveCalls())
	assert.Equal(t, 1, fh.loadCount(id))
}

func TestDetach_SavesSynchronizedHolder(t *testing.T) {
	fh := newFakeHandler()
	m, cache := newTestManager(t, fh)
	ctx := context.Background()

	id := uuid.New()
	h := m.Attach(ctx, cache.AttachSession(id, nil))
	m.Wait()
	require.True(t, h.Synchronized())

	h.set(42)
	m.Detach(ctx, h)
	m.Detach(ctx, h) // second detach is a no-op
	m.Wait()

	assert.Equal(t, []saveCall{{id: id, value: 42, autosave: false}}, fh.saveCalls())
	assert.Equal(t, int32(1), h.closed.Load())
	assert.Equal(t, 0, m.Len())
}

func TestReattach_LoadsAfterDetachSave(t *testing.T) {
	fh := newFakeHandler()
	m, cache := newTestManager(t, fh)
	ctx := context.Background()

	id := uuid.New()
	r := cache.AttachSession(id, nil)

	h := m.Attach(ctx, r)
	m.Wait()
	h.set(9)

	m.DetachID(ctx, id)
	h2 := m.Attach(ctx, r)
	m.Wait()

	assert.NotSame(t, h, h2)
	assert.True(t, h2.Synchronized())
	assert.Equal(t, 9, h2.Snapshot().Value, "reload observed the detach save")
}

func TestGet_NotFoundAndOfflineDefault(t *testing.T) {
	fh := newFakeHandler()
	m, cache := newTestManager(t, fh)
	ctx := context.Background()

	never := uuid.New()
	_, err := m.Get(never)
	assert.True(t, errors.Is(err, common.ErrorNotFound))
	assert.Nil(t, m.GetOrNil(never))

	snap := m.Offline(ctx, never)
	assert.Equal(t, testSnapshot{ID: never}, snap)

	id := uuid.New()
	h := m.Attach(ctx, cache.AttachSession(id, nil))
	m.Wait()
	h.set(5)
	assert.Equal(t, 5, m.Offline(ctx, id).Value, "active holder wins over backend")
}

func TestAttachID_UnknownIdentity(t *testing.T) {
	m, _ := newTestManager(t, newFakeHandler())

	_, err := m.AttachID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Equal(t, 0, m.Len())
}

func TestAttachAll_OnlineOnly(t *testing.T) {
	m, cache := newTestManager(t, newFakeHandler())
	ctx := context.Background()

	a, b, off := uuid.New(), uuid.New(), uuid.New()
	cache.AttachSession(a, nil)
	cache.AttachSession(b, nil)
	cache.AttachSession(off, nil)
	cache.DetachSession(off)

	m.AttachAll(ctx)
	m.Wait()

	assert.True(t, m.IsLoaded(a))
	assert.True(t, m.IsLoaded(b))
	assert.Nil(t, m.GetOrNil(off))
	assert.Len(t, m.Loaded(), 2)
}

func TestSaveAll(t *testing.T) {
	fh := newFakeHandler()
	m, cache := newTestManager(t, fh)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	ha := m.Attach(ctx, cache.AttachSession(a, nil))
	m.Attach(ctx, cache.AttachSession(b, nil))
	m.Wait()
	ha.set(3)

	require.NoError(t, m.SaveAll(ctx, true))
	calls := fh.saveCalls()
	assert.Len(t, calls, 2)
	for _, c := range calls {
		assert.True(t, c.autosave)
	}
	assert.Equal(t, 3, fh.Offline(ctx, a).Value)
	assert.Equal(t, 2, m.Len(), "autosave keeps holders active")

	fh.saveErr = errors.New("disk full")
	err := m.SaveAll(ctx, true)
	assert.ErrorContains(t, err, "disk full")
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	m, cache := newTestManager(t, newFakeHandler())
	ctx := context.Background()

	var n atomic.Int32
	unsubscribe := m.Subscribe(func(LoadEvent[*testHolder, testSnapshot]) { n.Add(1) })

	m.Attach(ctx, cache.AttachSession(uuid.New(), nil))
	m.Wait()
	unsubscribe()
	m.Attach(ctx, cache.AttachSession(uuid.New(), nil))
	m.Wait()

	assert.Equal(t, int32(1), n.Load())
}

func TestSetHandler(t *testing.T) {
	first := newFakeHandler()
	m, _ := newTestManager(t, first)
	assert.Equal(t, 1, first.setups)

	second := newFakeHandler()
	require.NoError(t, m.SetHandler(context.Background(), second))
	assert.Equal(t, 1, second.setups)
	assert.Equal(t, 1, first.closes)
	assert.Same(t, second, m.Handler())

	broken := newFakeHandler()
	broken.setupErr = errors.New("no tables")
	assert.Error(t, m.SetHandler(context.Background(), broken))
	assert.Same(t, second, m.Handler(), "failed setup keeps the current handler")
}

func TestShutdown(t *testing.T) {
	fh := newFakeHandler()
	m, cache := newTestManager(t, fh)
	ctx := context.Background()

	loaded := m.Attach(ctx, cache.AttachSession(uuid.New(), nil))
	m.Wait()
	loaded.set(11)

	// a load stuck in the backend is aborted by shutdown
	fh.mu.Lock()
	fh.gate = make(chan struct{})
	fh.mu.Unlock()
	pending := m.Attach(ctx, cache.AttachSession(uuid.New(), nil))

	require.NoError(t, m.Shutdown(ctx))

	assert.False(t, pending.Synchronized())
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, int32(1), loaded.closed.Load())
	assert.Equal(t, int32(1), pending.closed.Load())
	assert.Equal(t, []saveCall{{id: loaded.ID(), value: 11, autosave: false}}, fh.saveCalls())
	assert.Equal(t, 1, fh.closes)
}
