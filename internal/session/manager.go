package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager tracks live sessions and archives them when they end.
type Manager struct {
	sessions sync.Map // id → *Session
	store    Store
}

// NewManager returns a Manager archiving into store; nil means NopStore.
func NewManager(store Store) *Manager {
	if store == nil {
		store = NopStore{}
	}
	return &Manager{store: store}
}

// Start creates a session with a fresh id.
func (m *Manager) Start() *Session {
	s := New(uuid.NewString())
	m.sessions.Store(s.ID, s)
	slog.Debug("session started", "session", s.ID)
	return s
}

func (m *Manager) Get(id string) (*Session, bool) {
	v, ok := m.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// List returns the live sessions, oldest first.
func (m *Manager) List() []*Session {
	var out []*Session
	m.sessions.Range(func(_, v any) bool {
		out = append(out, v.(*Session))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// End cancels any in-flight turn, waits for it to finish, archives the
// transcript and forgets the session. Empty sessions are not archived.
func (m *Manager) End(ctx context.Context, id string) error {
	v, ok := m.sessions.LoadAndDelete(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s := v.(*Session)
	if err := s.Stop(ctx); err != nil {
		slog.Warn("archiving a session whose turn is still running", "session", id, "err", err)
	}

	turns := s.Snapshot()
	if len(turns) == 0 {
		return nil
	}
	rec := Record{ID: s.ID, CreatedAt: s.CreatedAt, EndedAt: time.Now(), Turns: turns}
	if err := m.store.Archive(ctx, rec); err != nil {
		return fmt.Errorf("archive session %s: %w", id, err)
	}
	slog.Debug("session archived", "session", id, "turns", len(turns))
	return nil
}

// Store returns the archive backing this manager.
func (m *Manager) Store() Store { return m.store }
