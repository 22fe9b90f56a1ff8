package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/toolrelay/toolrelay/internal/schema"
	"github.com/toolrelay/toolrelay/internal/session"
)

func newTestService(oracle schema.Oracle, router Router) *Service {
	return NewService(NewLoop(oracle, router, settings(5), nil), session.NewManager(nil))
}

// memoryStore keeps archived records in memory.
type memoryStore struct {
	session.NopStore
	mu      sync.Mutex
	records []session.Record
}

func (s *memoryStore) Archive(_ context.Context, rec session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func TestService_PostUserMessage(t *testing.T) {
	oracle := &scriptedOracle{fn: func(int, []schema.Turn) (schema.Decision, error) {
		return schema.FinalAnswer("pong"), nil
	}}
	svc := newTestService(oracle, &fakeRouter{})
	id := svc.StartSession()

	answer, err := svc.PostUserMessage(context.Background(), id, "ping")
	if err != nil || answer != "pong" {
		t.Fatalf("PostUserMessage = %q, %v", answer, err)
	}
	sess, ok := svc.Session(id)
	if !ok || sess.Len() != 2 {
		t.Errorf("session not updated")
	}
}

func TestService_UnknownSession(t *testing.T) {
	svc := newTestService(&scriptedOracle{}, &fakeRouter{})
	if _, err := svc.PostUserMessage(context.Background(), "nope", "x"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := svc.Cancel("nope"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Cancel err = %v", err)
	}
}

func TestService_BusyAndCancel(t *testing.T) {
	started := make(chan struct{})
	router := &fakeRouter{tools: map[string]handler{
		"hang": func(ctx context.Context, req schema.ToolCallRequest) schema.ToolCallResult {
			close(started)
			<-ctx.Done()
			return schema.Failure(req, schema.KindCancelled, "cancelled")
		},
	}}
	oracle := &scriptedOracle{fn: func(int, []schema.Turn) (schema.Decision, error) {
		return schema.CallTools(call("hang")), nil
	}}
	svc := newTestService(oracle, router)
	id := svc.StartSession()

	done := make(chan error, 1)
	go func() {
		_, err := svc.PostUserMessage(context.Background(), id, "first")
		done <- err
	}()
	<-started

	if _, err := svc.PostUserMessage(context.Background(), id, "second"); !errors.Is(err, session.ErrBusy) {
		t.Errorf("second message err = %v, want ErrBusy", err)
	}
	if err := svc.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	select {
	case err := <-done:
		if schema.KindOf(err) != schema.KindCancelled {
			t.Errorf("err = %v, want Cancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not stop after Cancel")
	}
}

func TestService_EndSession(t *testing.T) {
	svc := newTestService(&scriptedOracle{}, &fakeRouter{})
	id := svc.StartSession()
	if err := svc.EndSession(context.Background(), id); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, ok := svc.Session(id); ok {
		t.Error("session still live after EndSession")
	}
}

func TestService_EndSessionDuringToolCallArchivesPairs(t *testing.T) {
	started := make(chan struct{})
	slow := sleeper(time.Minute)
	router := &fakeRouter{tools: map[string]handler{
		"weather": func(ctx context.Context, req schema.ToolCallRequest) schema.ToolCallResult {
			close(started)
			return slow(ctx, req)
		},
	}}
	oracle := &scriptedOracle{fn: func(int, []schema.Turn) (schema.Decision, error) {
		return schema.CallTools(call("weather", "city", "London")), nil
	}}
	store := &memoryStore{}
	svc := NewService(NewLoop(oracle, router, settings(5), nil), session.NewManager(store))
	id := svc.StartSession()

	go svc.PostUserMessage(context.Background(), id, "weather?")
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.EndSession(ctx, id); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.records) != 1 {
		t.Fatalf("archived %d records, want 1", len(store.records))
	}
	turns := store.records[0].Turns
	assertPaired(t, turns)
	last := turns[len(turns)-1]
	if last.Kind != schema.TurnObservation || last.Observation.Kind() != schema.KindCancelled {
		t.Errorf("last archived turn = %+v, want a Cancelled observation", last)
	}
}
