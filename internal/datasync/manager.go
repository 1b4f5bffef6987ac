package datasync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/playersync/internal/common"
	"github.com/dmitrijs2005/playersync/internal/identity"
	"github.com/dmitrijs2005/playersync/internal/logging"
	"github.com/dmitrijs2005/playersync/internal/metrics"
	"github.com/dmitrijs2005/playersync/internal/worker"
	"github.com/google/uuid"
)

// NewHolderFunc builds a fresh, unsynchronized holder for a presence record.
type NewHolderFunc[H Holder[O], O any] func(r *identity.Record) H

// Manager owns the active holders of one kind and drives their lifecycle.
//
// Loads and saves run on a worker pool. Jobs for one identity run strictly in
// the order they were scheduled, so a re-attach never loads before the
// previous detach save has finished.
type Manager[H Holder[O], O any] struct {
	kind      string
	cache     *identity.Cache
	newHolder NewHolderFunc[H, O]
	logger    logging.Logger
	metrics   *metrics.Metrics
	pool      *worker.Pool

	// ctx scopes in-flight loads; Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	hmu     sync.RWMutex
	handler Handler[H, O]

	mu      sync.RWMutex
	active  map[uuid.UUID]H
	tails   map[uuid.UUID]chan struct{}
	pending sync.WaitGroup

	subsMu  sync.RWMutex
	subs    []subscriber[H, O]
	nextSub int
}

type Option func(*options)

type options struct {
	logger  logging.Logger
	metrics *metrics.Metrics
	pool    *worker.Pool
}

func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithPool shares a worker pool between managers.
func WithPool(p *worker.Pool) Option {
	return func(o *options) { o.pool = p }
}

// NewManager creates a manager for the given kind and runs handler.Setup.
func NewManager[H Holder[O], O any](ctx context.Context, kind string, cache *identity.Cache, handler Handler[H, O], newHolder NewHolderFunc[H, O], opts ...Option) (*Manager[H, O], error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	if o.pool == nil {
		o.pool = worker.NewPool(worker.DefaultSize)
	}

	mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m := &Manager[H, O]{
		kind:      kind,
		cache:     cache,
		newHolder: newHolder,
		logger:    o.logger.With("module", "datasync", "kind", kind),
		metrics:   o.metrics,
		pool:      o.pool,
		ctx:       mctx,
		cancel:    cancel,
		active:    make(map[uuid.UUID]H),
		tails:     make(map[uuid.UUID]chan struct{}),
	}

	if err := m.SetHandler(ctx, handler); err != nil {
		cancel()
		return nil, err
	}
	return m, nil
}

func (m *Manager[H, O]) Kind() string {
	return m.kind
}

// Handler returns the current backend.
func (m *Manager[H, O]) Handler() Handler[H, O] {
	m.hmu.RLock()
	defer m.hmu.RUnlock()
	return m.handler
}

// SetHandler initializes h and makes it the backend for subsequent loads and
// saves. The previous handler is closed. Loaded data is not migrated.
func (m *Manager[H, O]) SetHandler(ctx context.Context, h Handler[H, O]) error {
	if err := h.Setup(ctx); err != nil {
		return fmt.Errorf("handler setup: %w", err)
	}

	m.hmu.Lock()
	old := m.handler
	m.handler = h
	m.hmu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			m.logger.Warn(ctx, "closing previous handler failed", "error", err)
		}
	}
	return nil
}

// Attach returns the active holder for r's identity, creating it and
// scheduling its load when there is none.
func (m *Manager[H, O]) Attach(ctx context.Context, r *identity.Record) H {
	id := r.ID()

	m.mu.Lock()
	if h, ok := m.active[id]; ok {
		m.mu.Unlock()
		return h
	}
	h := m.newHolder(r)
	m.active[id] = h
	n := len(m.active)
	m.enqueueLocked(id, func() { m.load(h) })
	m.mu.Unlock()

	m.metrics.SetActive(m.kind, n)
	m.logger.Debug(ctx, "holder attached", "uuid", id)
	return h
}

// AttachID attaches the identity by its presence record. It fails with
// common.ErrorNotFound when the identity was never registered in the cache.
func (m *Manager[H, O]) AttachID(ctx context.Context, id uuid.UUID) (H, error) {
	r, err := m.cache.Get(id)
	if err != nil {
		var zero H
		return zero, err
	}
	return m.Attach(ctx, r), nil
}

// AttachAll attaches every identity the cache reports online.
func (m *Manager[H, O]) AttachAll(ctx context.Context) {
	m.cache.ForEachOnline(func(r *identity.Record) {
		m.Attach(ctx, r)
	})
}

// Detach evicts h. A synchronized holder gets a final save scheduled before
// it leaves the active map; Detach does not wait for it. h is closed
// afterwards. Detaching a holder that is not active is a no-op.
func (m *Manager[H, O]) Detach(ctx context.Context, h H) {
	id := h.ID()

	m.mu.Lock()
	cur, ok := m.active[id]
	if !ok || !sameHolder(cur, h) {
		m.mu.Unlock()
		return
	}
	if h.Synchronized() {
		m.enqueueLocked(id, func() {
			_ = m.save(context.WithoutCancel(m.ctx), h, false)
		})
	}
	delete(m.active, id)
	n := len(m.active)
	m.mu.Unlock()

	m.metrics.SetActive(m.kind, n)

	if err := h.Close(); err != nil {
		m.logger.Warn(ctx, "closing holder failed", "uuid", id, "op", "close", "error", err)
	}
	m.logger.Debug(ctx, "holder detached", "uuid", id)
}

// DetachID detaches the active holder of id, if any.
func (m *Manager[H, O]) DetachID(ctx context.Context, id uuid.UUID) {
	m.mu.RLock()
	h, ok := m.active[id]
	m.mu.RUnlock()
	if ok {
		m.Detach(ctx, h)
	}
}

// SaveAll saves every synchronized holder and waits for the saves to
// finish. Each save is queued behind earlier jobs of its identity, so it
// cannot overtake a detach save. Failures are logged and returned joined.
func (m *Manager[H, O]) SaveAll(ctx context.Context, autosave bool) error {
	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)

	m.mu.Lock()
	for id, h := range m.active {
		if !h.Synchronized() {
			continue
		}
		wg.Add(1)
		m.enqueueLocked(id, func() {
			defer wg.Done()
			if err := m.save(ctx, h, autosave); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
		})
	}
	m.mu.Unlock()

	wg.Wait()
	return errors.Join(errs...)
}

// Get returns the active holder of id or common.ErrorNotFound.
func (m *Manager[H, O]) Get(id uuid.UUID) (H, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.active[id]
	if !ok {
		return h, fmt.Errorf("%s holder %s: %w", m.kind, id, common.ErrorNotFound)
	}
	return h, nil
}

// GetOrNil returns the active holder of id or the zero H.
func (m *Manager[H, O]) GetOrNil(id uuid.UUID) H {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[id]
}

// IsLoaded reports whether id has an active, synchronized holder.
func (m *Manager[H, O]) IsLoaded(id uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.active[id]
	return ok && h.Synchronized()
}

// Loaded returns the synchronized holders currently active.
func (m *Manager[H, O]) Loaded() []H {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]H, 0, len(m.active))
	for _, h := range m.active {
		if h.Synchronized() {
			out = append(out, h)
		}
	}
	return out
}

func (m *Manager[H, O]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Offline returns a snapshot of id: from the active holder when there is
// one, otherwise from the backend. It never fails.
func (m *Manager[H, O]) Offline(ctx context.Context, id uuid.UUID) O {
	m.mu.RLock()
	h, ok := m.active[id]
	m.mu.RUnlock()
	if ok {
		return h.Snapshot()
	}
	return m.Handler().Offline(ctx, id)
}

// Wait blocks until every scheduled load and save has finished.
func (m *Manager[H, O]) Wait() {
	m.pending.Wait()
}

// Shutdown aborts in-flight loads, waits for scheduled saves, saves every
// synchronized holder, then clears the active map and closes the handler.
func (m *Manager[H, O]) Shutdown(ctx context.Context) error {
	m.cancel()
	m.Wait()

	err := m.SaveAll(ctx, false)

	m.mu.Lock()
	holders := make([]H, 0, len(m.active))
	for _, h := range m.active {
		holders = append(holders, h)
	}
	clear(m.active)
	m.mu.Unlock()
	m.metrics.SetActive(m.kind, 0)

	for _, h := range holders {
		if cerr := h.Close(); cerr != nil {
			m.logger.Warn(ctx, "closing holder failed", "uuid", h.ID(), "op", "close", "error", cerr)
		}
	}

	if cerr := m.Handler().Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("handler close: %w", cerr))
	}
	return err
}

// enqueueLocked schedules fn after the last job queued for id. m.mu must be
// held.
func (m *Manager[H, O]) enqueueLocked(id uuid.UUID, fn func()) {
	prev := m.tails[id]
	done := make(chan struct{})
	m.tails[id] = done

	m.pending.Add(1)
	m.pool.Go(prev, func() {
		defer m.pending.Done()
		defer func() {
			if p := recover(); p != nil {
				m.logger.Error(m.ctx, "job panicked", "uuid", id, "panic", p)
			}
			close(done)
			m.mu.Lock()
			if m.tails[id] == done {
				delete(m.tails, id)
			}
			m.mu.Unlock()
		}()
		fn()
	})
}

func (m *Manager[H, O]) load(h H) {
	ctx := m.ctx
	id := h.ID()

	if err := m.Handler().Load(ctx, h); err != nil {
		if errors.Is(err, common.ErrAborted) || errors.Is(err, context.Canceled) {
			m.metrics.Load(m.kind, metrics.ResultAborted)
			m.logger.Debug(ctx, "load aborted", "uuid", id, "op", "load", "error", err)
			return
		}
		m.metrics.Load(m.kind, metrics.ResultError)
		m.logger.Error(ctx, "load failed", "uuid", id, "op", "load", "error", err)
		return
	}

	m.mu.Lock()
	cur, ok := m.active[id]
	if !ok || !sameHolder(cur, h) {
		m.mu.Unlock()
		m.metrics.Load(m.kind, metrics.ResultDiscarded)
		m.logger.Debug(ctx, "holder detached before load completed", "uuid", id)
		return
	}
	err := h.MarkSynchronized()
	m.mu.Unlock()
	if err != nil {
		m.metrics.Load(m.kind, metrics.ResultError)
		m.logger.Error(ctx, "marking holder synchronized failed", "uuid", id, "op", "load", "error", err)
		return
	}

	m.metrics.Load(m.kind, metrics.ResultOK)
	m.logger.Debug(ctx, "holder synchronized", "uuid", id)
	m.emit(h)
}

func (m *Manager[H, O]) save(ctx context.Context, h H, autosave bool) error {
	if err := m.Handler().Save(ctx, h, autosave); err != nil {
		m.metrics.Save(m.kind, autosave, metrics.ResultError)
		m.logger.Error(ctx, "save failed", "uuid", h.ID(), "op", "save", "autosave", autosave, "error", err)
		return fmt.Errorf("save %s: %w", h.ID(), err)
	}
	m.metrics.Save(m.kind, autosave, metrics.ResultOK)
	return nil
}

func sameHolder[H any](a, b H) bool {
	return any(a) == any(b)
}
