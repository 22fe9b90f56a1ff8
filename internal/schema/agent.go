package schema

import "time"

// AgentSettings bounds one orchestration loop.
type AgentSettings struct {
	StepBudget    int
	CallTimeout   time.Duration
	OracleTimeout time.Duration
	MaxParallel   int
	Window        ContextBudget
}

func NewAgentSettings(stepBudget int, callTimeout, oracleTimeout time.Duration, maxParallel int, window ContextBudget) AgentSettings {
	return AgentSettings{
		StepBudget:    stepBudget,
		CallTimeout:   callTimeout,
		OracleTimeout: oracleTimeout,
		MaxParallel:   maxParallel,
		Window:        window,
	}
}

// ServerState is the lifecycle of one tool server connection.
type ServerState int32

const (
	StateStarting ServerState = iota
	StateReady
	StateDegraded
	StateTerminated
)

func (s ServerState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}
