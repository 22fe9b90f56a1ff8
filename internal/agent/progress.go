package agent

import (
	"context"

	"github.com/toolrelay/toolrelay/internal/schema"
)

// ProgressKind tags a ProgressEvent.
type ProgressKind string

const (
	ProgressThinking    ProgressKind = "thinking"    // text the oracle emitted alongside tool calls
	ProgressCalls       ProgressKind = "calls"       // a step's calls are about to be dispatched
	ProgressObservation ProgressKind = "observation" // one call resolved
)

// ProgressEvent reports what a running turn is doing. Only the fields
// relevant to Kind are set.
type ProgressEvent struct {
	Kind   ProgressKind
	Step   int
	Text   string
	Calls  []schema.ToolCallRequest
	Result *schema.ToolCallResult
}

// ProgressFunc is called from the loop's goroutines; it must be safe for
// concurrent use and must not block.
type ProgressFunc func(ProgressEvent)

type progressKey struct{}

// WithProgress returns a child context that reports turn progress to fn.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

func report(ctx context.Context, ev ProgressEvent) {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok && fn != nil {
		fn(ev)
	}
}
