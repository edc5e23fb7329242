package session

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/persona-lab/internal/dialogue"
	"github.com/ashureev/persona-lab/internal/domain"
)

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrForbidden is returned when a session belongs to another owner.
	ErrForbidden = errors.New("session belongs to another user")
)

// Manager keeps the live sessions of this process.
type Manager struct {
	gen       dialogue.Generator
	timing    Timing
	logger    *slog.Logger
	observers []Observer

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager whose sessions share gen, timing and observers.
func NewManager(gen dialogue.Generator, timing Timing, logger *slog.Logger, observers ...Observer) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		gen:       gen,
		timing:    timing,
		logger:    logger,
		observers: observers,
		sessions:  make(map[string]*Session),
	}
}

// Create registers a new, not yet started session for ownerID.
func (m *Manager) Create(ownerID string, persona domain.Persona, company domain.Company) (*Session, error) {
	s, err := New(Config{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Persona:   persona,
		Company:   company,
		Generator: m.gen,
		Timing:    m.timing,
		Observers: m.observers,
		Logger:    m.logger,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

// Get returns the session id if it belongs to ownerID.
func (m *Manager) Get(ownerID, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if s.OwnerID() != ownerID {
		return nil, ErrForbidden
	}
	return s, nil
}

// List returns snapshots of ownerID's sessions, oldest first.
func (m *Manager) List(ownerID string) []Snapshot {
	m.mu.RLock()
	owned := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.OwnerID() == ownerID {
			owned = append(owned, s)
		}
	}
	m.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(owned))
	for _, s := range owned {
		snaps = append(snaps, s.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
	return snaps
}

// Reset discards and forgets the session id.
func (m *Manager) Reset(ownerID, id string) error {
	s, err := m.Get(ownerID, id)
	if err != nil {
		return err
	}
	m.remove(id)
	s.Reset()
	return nil
}

// ResetIdle discards sessions with no activity for longer than ttl, except
// those with a generation in flight. It returns the number discarded.
func (m *Manager) ResetIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	m.mu.RLock()
	var idle []*Session
	for _, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, s := range idle {
		switch s.State() {
		case StateEvaluating, StateAwaitingQuestion:
			continue
		}
		m.remove(s.ID())
		s.Reset()
		n++
		m.logger.Info("idle session reset", "session_id", s.ID(), "owner_id", s.OwnerID())
	}
	return n
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close discards every session.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.Reset()
	}
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}
