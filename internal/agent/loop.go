// Package agent runs the decide/dispatch/observe cycle that answers a user
// message with the help of the registered tools.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/toolrelay/toolrelay/internal/registry"
	"github.com/toolrelay/toolrelay/internal/schema"
	"github.com/toolrelay/toolrelay/internal/session"
	"github.com/toolrelay/toolrelay/internal/shared/llmutils"
	"github.com/toolrelay/toolrelay/internal/telemetry"
)

const fallbackAnswer = "I've completed processing but have no response to give."

// Router is the view of the tool registry the loop needs.
type Router interface {
	Catalog() []schema.ToolDescriptor
	Available() bool
	Invoke(ctx context.Context, req schema.ToolCallRequest) (schema.ToolCallResult, error)
}

// Loop executes the oracle ↔ tool iteration for one session turn at a time.
// It holds no per-session state and may serve many sessions concurrently.
type Loop struct {
	oracle   schema.Oracle
	router   Router
	settings schema.AgentSettings
	observer *telemetry.Observer
}

// NewLoop creates a Loop. observer may be nil.
func NewLoop(oracle schema.Oracle, router Router, settings schema.AgentSettings, observer *telemetry.Observer) *Loop {
	return &Loop{oracle: oracle, router: router, settings: settings, observer: observer}
}

// RunTurn appends text to sess and iterates until the oracle answers, the
// step budget runs out, or ctx is cancelled. Failed tool calls do not end
// the turn; they are recorded as observations for the next decision.
func (l *Loop) RunTurn(ctx context.Context, sess *session.Session, text string) (answer string, err error) {
	ctx, endTurn := l.observer.StartTurn(ctx, sess.ID)
	defer func() { endTurn(err) }()

	sess.Append(schema.UserTurn(text))

	for step := 1; step <= l.settings.StepBudget; step++ {
		d, err := l.decide(ctx, sess, step)
		if err != nil {
			return "", err
		}

		if d.IsFinal() {
			answer := llmutils.StringOrDefault(llmutils.StripThink(d.Answer), fallbackAnswer)
			sess.Append(schema.AgentTurn(step, answer))
			slog.Info("Response", "session", sess.ID, "step", step, "length", len(answer))
			return answer, nil
		}

		if clean := llmutils.StripThink(d.Answer); clean != "" {
			report(ctx, ProgressEvent{Kind: ProgressThinking, Step: step, Text: clean})
		}
		if err := l.dispatch(ctx, sess, step, d.Calls); err != nil {
			return "", err
		}
	}

	slog.Warn("step budget exhausted", "session", sess.ID, "steps", l.settings.StepBudget)
	return "", schema.NewTurnError(schema.KindBudgetExceeded, nil, "no final answer after %d steps", l.settings.StepBudget)
}

func (l *Loop) decide(ctx context.Context, sess *session.Session, step int) (schema.Decision, error) {
	dctx := ctx
	if l.settings.OracleTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, l.settings.OracleTimeout)
		defer cancel()
	}

	dctx, end := l.observer.StartDecision(dctx, step)
	d, err := l.oracle.Decide(dctx, sess.Window(l.settings.Window), l.router.Catalog())
	end(d, err)

	if err != nil {
		if ctx.Err() != nil {
			return schema.Decision{}, schema.NewTurnError(schema.KindCancelled, ctx.Err(), "turn cancelled while awaiting a decision")
		}
		slog.Error("oracle error", "session", sess.ID, "step", step, "err", err)
		return schema.Decision{}, schema.NewTurnError(schema.KindOracleUnavailable, err, "decision failed at step %d", step)
	}
	return d, nil
}

// dispatch runs every call of one step concurrently and returns once all
// of them have an observation in sess.
func (l *Loop) dispatch(ctx context.Context, sess *session.Session, step int, calls []schema.ProposedCall) error {
	if !l.router.Available() {
		return schema.NewTurnError(schema.KindUnavailable, registry.ErrUnavailable, "cannot run %s", llmutils.ToolHints(calls))
	}

	reqs := make([]schema.ToolCallRequest, len(calls))
	invocations := make([]schema.Turn, len(calls))
	for i, c := range calls {
		reqs[i] = schema.ToolCallRequest{
			CorrelationID: "call_" + uuid.NewString(),
			Tool:          c.Name,
			Arguments:     c.Arguments,
		}
		invocations[i] = schema.InvocationTurn(step, reqs[i])
	}
	sess.Append(invocations...)
	report(ctx, ProgressEvent{Kind: ProgressCalls, Step: step, Text: llmutils.ToolHints(calls), Calls: reqs})

	// A failed call must not cancel its siblings, so no errgroup context.
	var g errgroup.Group
	if l.settings.MaxParallel > 0 {
		g.SetLimit(l.settings.MaxParallel)
	}
	var unavailable atomic.Bool
	for _, req := range reqs {
		g.Go(func() error {
			res, err := l.call(ctx, req)
			if errors.Is(err, registry.ErrUnavailable) {
				unavailable.Store(true)
			}
			sess.Append(schema.ObservationTurn(step, res))
			report(ctx, ProgressEvent{Kind: ProgressObservation, Step: step, Result: &res})
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return schema.NewTurnError(schema.KindCancelled, ctx.Err(), "turn cancelled during step %d", step)
	}
	if unavailable.Load() {
		return schema.NewTurnError(schema.KindUnavailable, registry.ErrUnavailable, "all tool servers went away during step %d", step)
	}
	return nil
}

func (l *Loop) call(ctx context.Context, req schema.ToolCallRequest) (schema.ToolCallResult, error) {
	if ctx.Err() != nil {
		return schema.Failure(req, schema.KindCancelled, "turn cancelled before dispatch"), nil
	}

	slog.Info("Tool call", "tool", req.Tool, "id", req.CorrelationID, "args", llmutils.Truncate(req.Arguments.String(), 200))

	cctx, end := l.observer.StartToolCall(ctx, req)
	res, err := l.router.Invoke(cctx, req)
	end(res)

	if !res.OK() {
		slog.Warn("Tool call failed", "tool", req.Tool, "id", req.CorrelationID, "server", res.Server, "kind", res.Kind(), "msg", llmutils.Truncate(res.Err.Message, 200))
	}
	return res, err
}
