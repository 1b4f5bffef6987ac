// Package presence turns online/offline transitions into identity cache
// updates and holder attach/detach calls.
package presence

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/dmitrijs2005/playersync/internal/datasync"
	"github.com/dmitrijs2005/playersync/internal/identity"
	"github.com/dmitrijs2005/playersync/internal/logging"
	"github.com/google/uuid"
)

// Participant is a subsystem that keeps per-identity state while the
// identity is online.
type Participant interface {
	Join(ctx context.Context, id uuid.UUID) error
	Quit(ctx context.Context, id uuid.UUID)
}

type managerParticipant[H datasync.Holder[O], O any] struct {
	m *datasync.Manager[H, O]
}

// Managed adapts a datasync manager to a Participant.
func Managed[H datasync.Holder[O], O any](m *datasync.Manager[H, O]) Participant {
	return managerParticipant[H, O]{m: m}
}

func (p managerParticipant[H, O]) Join(ctx context.Context, id uuid.UUID) error {
	_, err := p.m.AttachID(ctx, id)
	return err
}

func (p managerParticipant[H, O]) Quit(ctx context.Context, id uuid.UUID) {
	p.m.DetachID(ctx, id)
}

// Tracker fans presence transitions out to its participants. The cache is
// updated before participants join and after they quit.
type Tracker struct {
	cache  *identity.Cache
	logger logging.Logger

	mu    sync.RWMutex
	parts []Participant
}

func NewTracker(cache *identity.Cache, l logging.Logger, parts ...Participant) *Tracker {
	if l == nil {
		l = logging.NewNop()
	}
	return &Tracker{
		cache:  cache,
		logger: l.With("module", "presence"),
		parts:  parts,
	}
}

// Register adds p. Identities already online are not joined retroactively.
func (t *Tracker) Register(p Participant) {
	t.mu.Lock()
	t.parts = append(t.parts, p)
	t.mu.Unlock()
}

func (t *Tracker) participants() []Participant {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.parts)
}

// Join marks id online with session and joins every participant.
func (t *Tracker) Join(ctx context.Context, id uuid.UUID, session any) error {
	t.cache.AttachSession(id, session)

	var errs []error
	for _, p := range t.participants() {
		if err := p.Join(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	t.logger.Debug(ctx, "joined", "uuid", id)
	return errors.Join(errs...)
}

// Quit detaches id from every participant, last registered first, then
// marks it offline.
func (t *Tracker) Quit(ctx context.Context, id uuid.UUID) {
	parts := t.participants()
	for i := len(parts) - 1; i >= 0; i-- {
		parts[i].Quit(ctx, id)
	}
	t.cache.DetachSession(id)
	t.logger.Debug(ctx, "quit", "uuid", id)
}

// Online reports whether id is currently online.
func (t *Tracker) Online(id uuid.UUID) bool {
	r := t.cache.GetOrNil(id)
	return r != nil && r.Online()
}
