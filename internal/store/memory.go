// internal/store/memory.go
//
// In-memory implementation of the Store interface for live game state.
// This is a lightweight persistence layer for ephemeral sessions and rounds;
// durable history (owners, stats, daily results) lives in SQLite.
//
// Characteristics:
//   - Stores *game.Session and *game.Round keyed by ID in maps.
//   - Concurrency-safe via RWMutex (concurrent reads allowed, writes exclusive).
//   - State is lost when the process restarts.
//   - Errors are returned for missing IDs on Get.

package store

import (
	"context"
	"errors"
	"sync"

	"github.com/kaiyuanwu/idiomfill/internal/game"
)

// ErrNotFound is returned when a session or round ID is unknown.
var ErrNotFound = errors.New("not found")

// Store defines the live-state persistence interface.
// Implementations may be backed by memory (this package), Redis, SQL, etc.
type Store interface {
	// SaveSession persists or updates a session.
	SaveSession(ctx context.Context, s *game.Session) error

	// GetSession retrieves a session by ID.
	GetSession(ctx context.Context, id string) (*game.Session, error)

	// SaveRound persists or updates a round.
	SaveRound(ctx context.Context, r *game.Round) error

	// GetRound retrieves a round by ID.
	GetRound(ctx context.Context, id string) (*game.Round, error)

	// DeleteRound discards a round once it has resolved or been abandoned.
	DeleteRound(ctx context.Context, id string) error
}

// memory is an in-memory map-based Store implementation.
type memory struct {
	mu       sync.RWMutex
	sessions map[string]*game.Session
	rounds   map[string]*game.Round
}

// NewMemoryStore constructs a new in-memory Store.
func NewMemoryStore() Store {
	return &memory{
		sessions: make(map[string]*game.Session),
		rounds:   make(map[string]*game.Round),
	}
}

func (m *memory) SaveSession(ctx context.Context, s *game.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memory) GetSession(ctx context.Context, id string) (*game.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return nil, ErrNotFound
}

func (m *memory) SaveRound(ctx context.Context, r *game.Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds[r.ID] = r
	return nil
}

func (m *memory) GetRound(ctx context.Context, id string) (*game.Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.rounds[id]; ok {
		return r, nil
	}
	return nil, ErrNotFound
}

func (m *memory) DeleteRound(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rounds, id)
	return nil
}
