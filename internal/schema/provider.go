package schema

import "context"

// ProposedCall is a tool call suggested by the oracle, before the loop
// assigns it a correlation id.
type ProposedCall struct {
	Name      string
	Arguments Arguments
}

// Decision is the normalised output of one oracle query: a final answer
// when Calls is empty, otherwise the tool calls to dispatch.
type Decision struct {
	Answer       string
	Calls        []ProposedCall
	FinishReason string
	Usage        map[string]int // "input_tokens", "output_tokens"
}

// IsFinal reports whether the decision ends the turn.
func (d Decision) IsFinal() bool { return len(d.Calls) == 0 }

func FinalAnswer(text string) Decision { return Decision{Answer: text, FinishReason: "stop"} }

func CallTools(calls ...ProposedCall) Decision {
	return Decision{Calls: calls, FinishReason: "tool_calls"}
}

// Oracle is the decision-making collaborator. It is stateless per call:
// everything it knows arrives through turns and tools.
type Oracle interface {
	Decide(ctx context.Context, turns []Turn, tools []ToolDescriptor) (Decision, error)
}
