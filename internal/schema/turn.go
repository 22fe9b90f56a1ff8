package schema

import "time"

// TurnKind tags the variant held by a Turn.
type TurnKind string

const (
	TurnUser        TurnKind = "user_message"
	TurnAgent       TurnKind = "agent_message"
	TurnInvocation  TurnKind = "tool_invocation"
	TurnObservation TurnKind = "tool_observation"
)

// Turn is one entry of a session's conversation. Exactly one of Text,
// Invocation or Observation is meaningful, depending on Kind.
type Turn struct {
	Kind        TurnKind         `json:"kind"`
	Step        int              `json:"step,omitempty"`
	Text        string           `json:"text,omitempty"`
	Invocation  *ToolCallRequest `json:"invocation,omitempty"`
	Observation *ToolCallResult  `json:"observation,omitempty"`
	At          time.Time        `json:"at"`
}

func UserTurn(text string) Turn {
	return Turn{Kind: TurnUser, Text: text, At: time.Now()}
}

func AgentTurn(step int, text string) Turn {
	return Turn{Kind: TurnAgent, Step: step, Text: text, At: time.Now()}
}

func InvocationTurn(step int, req ToolCallRequest) Turn {
	return Turn{Kind: TurnInvocation, Step: step, Invocation: &req, At: time.Now()}
}

func ObservationTurn(step int, res ToolCallResult) Turn {
	return Turn{Kind: TurnObservation, Step: step, Observation: &res, At: time.Now()}
}

// CorrelationID returns the call id of an invocation or observation turn.
func (t Turn) CorrelationID() string {
	switch {
	case t.Invocation != nil:
		return t.Invocation.CorrelationID
	case t.Observation != nil:
		return t.Observation.CorrelationID
	}
	return ""
}

// Size approximates how much context the turn occupies, in characters.
func (t Turn) Size() int {
	switch t.Kind {
	case TurnInvocation:
		if t.Invocation != nil {
			return len(t.Invocation.Tool) + len(t.Invocation.Arguments.String())
		}
	case TurnObservation:
		if t.Observation != nil {
			return len(t.Observation.Text())
		}
	}
	return len(t.Text)
}

// Turns is an ordered conversation.
type Turns []Turn

// Clone returns a copy with an independent backing slice.
func (ts Turns) Clone() Turns {
	out := make(Turns, len(ts))
	copy(out, ts)
	return out
}

// ContextBudget bounds the window of turns presented to the oracle.
// Zero fields mean unlimited.
type ContextBudget struct {
	MaxTurns int
	MaxChars int
}
