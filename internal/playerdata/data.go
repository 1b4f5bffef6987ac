// Package playerdata is the player progression kind managed by datasync:
// level, experience, balance and free-form attributes.
package playerdata

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/dmitrijs2005/playersync/internal/datasync"
	"github.com/dmitrijs2005/playersync/internal/identity"
	"github.com/google/uuid"
)

// Kind names this holder kind in logs and metrics.
const Kind = "player"

const DefaultLevel = 1

var ErrInsufficientFunds = errors.New("insufficient funds")

// PlayerData is the live holder of one player's progression.
type PlayerData struct {
	*datasync.Base

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	level      int
	experience int64
	balance    float64
	attributes map[string]string
}

// New returns an empty, unsynchronized holder for r.
func New(r *identity.Record) *PlayerData {
	ctx, cancel := context.WithCancel(context.Background())
	return &PlayerData{
		Base:       datasync.NewBase(r),
		ctx:        ctx,
		cancel:     cancel,
		level:      DefaultLevel,
		attributes: map[string]string{},
	}
}

// Context is cancelled once the holder is detached. Work started on behalf
// of the player should derive from it.
func (p *PlayerData) Context() context.Context {
	return p.ctx
}

// Close cancels the holder context.
func (p *PlayerData) Close() error {
	p.cancel()
	return nil
}

func (p *PlayerData) Level() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.level
}

func (p *PlayerData) SetLevel(level int) {
	p.mu.Lock()
	p.level = max(level, DefaultLevel)
	p.mu.Unlock()
}

func (p *PlayerData) Experience() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.experience
}

func (p *PlayerData) AddExperience(n int64) {
	p.mu.Lock()
	p.experience = max(p.experience+n, 0)
	p.mu.Unlock()
}

func (p *PlayerData) Balance() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balance
}

func (p *PlayerData) Deposit(amount float64) {
	p.mu.Lock()
	p.balance += amount
	p.mu.Unlock()
}

// Withdraw takes amount from the balance or fails with ErrInsufficientFunds.
func (p *PlayerData) Withdraw(amount float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if amount > p.balance {
		return ErrInsufficientFunds
	}
	p.balance -= amount
	return nil
}

func (p *PlayerData) Attribute(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.attributes[key]
	return v, ok
}

func (p *PlayerData) SetAttribute(key, value string) {
	p.mu.Lock()
	p.attributes[key] = value
	p.mu.Unlock()
}

func (p *PlayerData) Snapshot() Offline {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Offline{
		ID:         p.ID(),
		Level:      p.level,
		Experience: p.experience,
		Balance:    p.balance,
		Attributes: maps.Clone(p.attributes),
	}
}

func (p *PlayerData) restore(o Offline) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = max(o.Level, DefaultLevel)
	p.experience = o.Experience
	p.balance = o.Balance
	p.attributes = maps.Clone(o.Attributes)
	if p.attributes == nil {
		p.attributes = map[string]string{}
	}
}

// Offline is a read-only copy of a player's progression.
type Offline struct {
	ID         uuid.UUID
	Level      int
	Experience int64
	Balance    float64
	Attributes map[string]string
}

// DefaultOffline is the snapshot of a player with no stored data.
func DefaultOffline(id uuid.UUID) Offline {
	return Offline{ID: id, Level: DefaultLevel, Attributes: map[string]string{}}
}
