package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/toolrelay/toolrelay/internal/schema"
)

func req(id, tool string) schema.ToolCallRequest {
	return schema.ToolCallRequest{CorrelationID: id, Tool: tool, Arguments: schema.NewArguments("q", id)}
}

func obs(id, tool, text string) schema.ToolCallResult {
	return schema.Success(req(id, tool), nil, text)
}

// conversation: user, two calls whose observations arrive interleaved
// with a third call's, then the answer.
func conversation() schema.Turns {
	return schema.Turns{
		schema.UserTurn("plan my day"),                         // 0
		schema.InvocationTurn(1, req("c1", "weather")),         // 1
		schema.InvocationTurn(1, req("c2", "calendar")),        // 2
		schema.ObservationTurn(1, obs("c2", "calendar", "ok")), // 3
		schema.ObservationTurn(1, obs("c1", "weather", "sun")), // 4
		schema.AgentTurn(2, "sunny, meeting booked"),           // 5
		schema.UserTurn("thanks"),                              // 6
	}
}

// ─── Window ─────────────────────────────────────────────────────────────────

func TestUnits_KeepPairsTogether(t *testing.T) {
	us := units(conversation())
	var got []string
	for _, u := range us {
		got = append(got, strings.Repeat("x", u.end-u.start))
	}
	// user | c1,c2 block | answer | user
	if strings.Join(got, " ") != "x xxxx x x" {
		t.Errorf("units = %v", got)
	}
}

func TestWindow_Unlimited(t *testing.T) {
	turns := conversation()
	if got := Window(turns, schema.ContextBudget{}); len(got) != len(turns) {
		t.Errorf("len = %d, want %d", len(got), len(turns))
	}
}

func TestWindow_MaxTurnsNeverSplitsPairs(t *testing.T) {
	turns := conversation()
	cases := map[int]int{
		1: 1, // only "thanks"
		2: 2, // answer + thanks
		3: 2, // the call block does not fit
		5: 2,
		6: 6, // block fits
		7: 7,
	}
	for max, want := range cases {
		got := Window(turns, schema.ContextBudget{MaxTurns: max})
		if len(got) != want {
			t.Errorf("MaxTurns=%d: len = %d, want %d", max, len(got), want)
		}
		if len(got) > 0 && got[0].Kind == schema.TurnObservation {
			t.Errorf("MaxTurns=%d: window starts with an orphan observation", max)
		}
	}
}

func TestWindow_NewestUnitAlwaysKept(t *testing.T) {
	turns := schema.Turns{
		schema.UserTurn("old"),
		schema.InvocationTurn(1, req("c1", "search")),
		schema.ObservationTurn(1, obs("c1", "search", strings.Repeat("r", 500))),
	}
	got := Window(turns, schema.ContextBudget{MaxChars: 10})
	if len(got) != 3 || got[0].Kind != schema.TurnUser || got[1].Kind != schema.TurnInvocation {
		t.Errorf("window = %+v", got)
	}
}

func TestWindow_LongTurnKeepsQuestion(t *testing.T) {
	turns := schema.Turns{
		schema.UserTurn("old question"),
		schema.AgentTurn(1, "old answer"),
		schema.UserTurn("compare thirty cities"),
	}
	for i := range 30 {
		id := fmt.Sprintf("c%d", i)
		turns = append(turns,
			schema.InvocationTurn(i+1, req(id, "weather")),
			schema.ObservationTurn(i+1, obs(id, "weather", "sun")))
	}

	got := Window(turns, schema.ContextBudget{MaxTurns: 50})
	if len(got) > 50 {
		t.Errorf("window has %d turns, budget is 50", len(got))
	}
	if got[0].Kind != schema.TurnUser || got[0].Text != "compare thirty cities" {
		t.Fatalf("window starts with %s %q, want the current question", got[0].Kind, got[0].Text)
	}
	for i, tr := range got[1:] {
		want := schema.TurnInvocation
		if i%2 == 1 {
			want = schema.TurnObservation
		}
		if tr.Kind != want || tr.CorrelationID() != got[1+i-i%2].CorrelationID() {
			t.Fatalf("turn %d = %s %s, pairs split", i+1, tr.Kind, tr.CorrelationID())
		}
	}
	if last := got[len(got)-1]; last.CorrelationID() != "c29" {
		t.Errorf("newest step missing, last turn is %s", last.CorrelationID())
	}
}

func TestWindow_MaxChars(t *testing.T) {
	turns := schema.Turns{
		schema.UserTurn(strings.Repeat("a", 100)),
		schema.AgentTurn(1, strings.Repeat("b", 100)),
		schema.UserTurn(strings.Repeat("c", 100)),
	}
	if got := Window(turns, schema.ContextBudget{MaxChars: 250}); len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

// ─── Session ────────────────────────────────────────────────────────────────

func TestSession_SnapshotIsIndependent(t *testing.T) {
	s := New("s1")
	s.Append(schema.UserTurn("hi"))
	snap := s.Snapshot()
	s.Append(schema.AgentTurn(1, "hello"))
	if len(snap) != 1 || s.Len() != 2 {
		t.Errorf("snapshot len %d, session len %d", len(snap), s.Len())
	}
}

func TestSession_BeginIsExclusive(t *testing.T) {
	s := New("s1")
	ctx, end, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, _, err := s.Begin(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("second Begin = %v, want ErrBusy", err)
	}
	if !s.Cancel() {
		t.Error("Cancel should report an in-flight turn")
	}
	if ctx.Err() == nil {
		t.Error("turn context not cancelled")
	}
	end()
	if s.Busy() {
		t.Error("session still busy after end")
	}
	if s.Cancel() {
		t.Error("Cancel with nothing in flight should report false")
	}
}

// ─── Manager + SQLite ───────────────────────────────────────────────────────

func TestManager_EndArchives(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer store.Close()

	m := NewManager(store)
	s := m.Start()
	s.Append(conversation()...)
	if got, ok := m.Get(s.ID); !ok || got != s {
		t.Fatal("Get did not return the started session")
	}
	if len(m.List()) != 1 {
		t.Errorf("List = %d sessions", len(m.List()))
	}

	ctx := context.Background()
	if err := m.End(ctx, s.ID); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, ok := m.Get(s.ID); ok {
		t.Error("ended session still live")
	}
	if err := m.End(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second End = %v, want ErrNotFound", err)
	}

	rec, err := store.Load(ctx, s.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(rec.Turns) != len(conversation()) {
		t.Fatalf("archived %d turns", len(rec.Turns))
	}
	inv := rec.Turns[1].Invocation
	if inv == nil || inv.CorrelationID != "c1" || inv.Arguments.String() != `{"q":"c1"}` {
		t.Errorf("invocation = %+v", inv)
	}
	if o := rec.Turns[4].Observation; o == nil || o.Content != "sun" {
		t.Errorf("observation = %+v", o)
	}

	list, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Turns != len(conversation()) {
		t.Errorf("summaries = %+v", list)
	}
	if _, err := store.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load missing = %v", err)
	}
}

func TestManager_EndCancelsInFlightTurn(t *testing.T) {
	m := NewManager(nil)
	s := m.Start()
	ctx, end, err := s.Begin(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		<-ctx.Done()
		end()
	}()
	if err := m.End(context.Background(), s.ID); err != nil {
		t.Fatalf("End: %v", err)
	}
	if ctx.Err() == nil {
		t.Error("in-flight turn not cancelled")
	}
}

func TestManager_EndWaitsForTurnToFinish(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	m := NewManager(store)
	s := m.Start()
	tctx, end, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	s.Append(schema.UserTurn("weather?"), schema.InvocationTurn(1, req("c1", "weather")))

	// The turn writes its observation only after it sees the cancellation.
	go func() {
		<-tctx.Done()
		time.Sleep(50 * time.Millisecond)
		s.Append(schema.ObservationTurn(1, schema.Failure(req("c1", "weather"), schema.KindCancelled, "cancelled")))
		end()
	}()

	if err := m.End(ctx, s.ID); err != nil {
		t.Fatalf("End: %v", err)
	}
	rec, err := store.Load(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Turns) != 3 || rec.Turns[2].Kind != schema.TurnObservation {
		t.Fatalf("archived turns = %d, want user, invocation, observation", len(rec.Turns))
	}
}

func TestSession_StopGivesUpWithContext(t *testing.T) {
	s := New("s")
	_, end, err := s.Begin(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer end()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop = %v, want deadline exceeded", err)
	}
}
