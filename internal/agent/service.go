package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/toolrelay/toolrelay/internal/session"
	"github.com/toolrelay/toolrelay/internal/shared/llmutils"
)

// Service is the session boundary: callers start sessions, post messages
// into them and end them. Every failure comes back as an error value.
type Service struct {
	loop     *Loop
	sessions *session.Manager
}

func NewService(loop *Loop, sessions *session.Manager) *Service {
	return &Service{loop: loop, sessions: sessions}
}

// StartSession creates a session and returns its id.
func (s *Service) StartSession() string {
	return s.sessions.Start().ID
}

// PostUserMessage runs one turn. It fails with session.ErrBusy when the
// session already has a turn in flight.
func (s *Service) PostUserMessage(ctx context.Context, id, text string) (string, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return "", err
	}
	tctx, end, err := sess.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("session %s: %w", id, err)
	}
	defer end()

	slog.Info("Processing message", "session", id, "content", llmutils.Truncate(text, 80))
	return s.loop.RunTurn(tctx, sess, text)
}

// Cancel aborts the in-flight turn of session id, if any.
func (s *Service) Cancel(id string) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	if sess.Cancel() {
		slog.Info("turn cancelled", "session", id)
	}
	return nil
}

// EndSession cancels any in-flight turn and archives the session.
func (s *Service) EndSession(ctx context.Context, id string) error {
	return s.sessions.End(ctx, id)
}

// Session returns the live session with the given id.
func (s *Service) Session(id string) (*session.Session, bool) {
	return s.sessions.Get(id)
}

func (s *Service) lookup(id string) (*session.Session, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	return sess, nil
}
