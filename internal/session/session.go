// Package session holds the per-conversation turn log the orchestration
// loop reads and appends to, and archives finished conversations.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/toolrelay/toolrelay/internal/schema"
)

// ErrBusy is returned by Begin while another turn is in flight.
var ErrBusy = errors.New("session: a turn is already in progress")

// Session is one conversation. Turns are append-only; readers get copies.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu        sync.RWMutex
	turns     schema.Turns
	updatedAt time.Time

	// in-flight turn; done closes when its end func runs
	cancel context.CancelFunc
	done   chan struct{}
}

func New(id string) *Session {
	now := time.Now()
	return &Session{ID: id, CreatedAt: now, updatedAt: now}
}

// Append adds turns at the end of the log.
func (s *Session) Append(turns ...schema.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turns...)
	s.updatedAt = time.Now()
}

// Snapshot returns a copy of the whole log.
func (s *Session) Snapshot() schema.Turns {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turns.Clone()
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Window returns the newest turns that fit budget. See Window.
func (s *Session) Window(budget schema.ContextBudget) schema.Turns {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Window(s.turns, budget).Clone()
}

// Begin starts a turn. The returned context is cancelled by Cancel or by
// the returned end func, which must be called when the turn finishes.
func (s *Session) Begin(ctx context.Context) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil, nil, ErrBusy
	}
	tctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	var once sync.Once
	end := func() {
		once.Do(func() {
			cancel()
			s.mu.Lock()
			s.cancel, s.done = nil, nil
			s.mu.Unlock()
			close(done)
		})
	}
	return tctx, end, nil
}

// Cancel aborts the in-flight turn. It reports whether there was one.
func (s *Session) Cancel() bool {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Stop cancels the in-flight turn and waits until it has ended, so its
// last observations are in the log. It gives up when ctx is done.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.RLock()
	cancel, done := s.cancel, s.done
	s.mu.RUnlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session %s: turn did not stop: %w", s.ID, ctx.Err())
	}
}

// Busy reports whether a turn is in flight.
func (s *Session) Busy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancel != nil
}
