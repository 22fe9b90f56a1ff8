package providers

import (
	"github.com/toolrelay/toolrelay/internal/schema"
)

// toolStep groups the invocations one decision produced with their
// observations, which follow in completion order.
type toolStep struct {
	invocations  []schema.ToolCallRequest
	observations []schema.ToolCallResult
}

// segment is either a plain text turn or a tool step.
type segment struct {
	turn *schema.Turn
	step *toolStep
}

// segments folds the window into the shape both wire formats need: one
// assistant message per step carrying every call, then the results.
// Observations whose invocation fell out of the window are dropped.
func segments(turns []schema.Turn) []segment {
	var out []segment
	var cur *toolStep
	curStep := -1
	open := map[string]*toolStep{}

	for i := range turns {
		t := &turns[i]
		switch t.Kind {
		case schema.TurnInvocation:
			if t.Invocation == nil {
				continue
			}
			if cur == nil || t.Step != curStep || len(cur.observations) > 0 {
				cur = &toolStep{}
				curStep = t.Step
				out = append(out, segment{step: cur})
			}
			cur.invocations = append(cur.invocations, *t.Invocation)
			open[t.Invocation.CorrelationID] = cur
		case schema.TurnObservation:
			if t.Observation == nil {
				continue
			}
			if st, ok := open[t.Observation.CorrelationID]; ok {
				st.observations = append(st.observations, *t.Observation)
				delete(open, t.Observation.CorrelationID)
			}
		default:
			cur = nil
			out = append(out, segment{turn: t})
		}
	}
	return out
}

// openAIMessages renders the window as chat completion messages.
func openAIMessages(system string, turns []schema.Turn) []map[string]any {
	var out []map[string]any
	if system != "" {
		out = append(out, map[string]any{"role": "system", "content": system})
	}
	for _, seg := range segments(turns) {
		if seg.turn != nil {
			role := "user"
			if seg.turn.Kind == schema.TurnAgent {
				role = "assistant"
			}
			out = append(out, map[string]any{"role": role, "content": seg.turn.Text})
			continue
		}

		calls := make([]map[string]any, len(seg.step.invocations))
		for i, req := range seg.step.invocations {
			calls[i] = map[string]any{
				"id":   req.CorrelationID,
				"type": "function",
				"function": map[string]any{
					"name":      req.Tool,
					"arguments": req.Arguments.String(),
				},
			}
		}
		// Strict providers require "content" even for tool-call-only messages.
		out = append(out, map[string]any{"role": "assistant", "content": nil, "tool_calls": calls})
		for _, res := range seg.step.observations {
			out = append(out, map[string]any{
				"role":         "tool",
				"tool_call_id": res.CorrelationID,
				"name":         res.Tool,
				"content":      res.Text(),
			})
		}
	}
	return out
}
