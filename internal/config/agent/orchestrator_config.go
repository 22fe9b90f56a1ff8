package agent

import "time"

// OrchestratorConfig bounds the reasoning loop.
type OrchestratorConfig struct {
	StepBudget      int `json:"stepBudget" yaml:"stepBudget" validate:"min=1"`
	CallTimeoutMs   int `json:"callTimeoutMs" yaml:"callTimeoutMs" validate:"min=1"`
	OracleTimeoutMs int `json:"oracleTimeoutMs" yaml:"oracleTimeoutMs" validate:"min=1"`
	MaxParallel     int `json:"maxParallel" yaml:"maxParallel" validate:"min=1"`
	// HealthIntervalSec is in whole seconds, the health schedule's
	// resolution; 0 disables probing.
	HealthIntervalSec int `json:"healthIntervalSec" yaml:"healthIntervalSec" validate:"min=0"`
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		StepBudget:        10,
		CallTimeoutMs:     60_000,
		OracleTimeoutMs:   120_000,
		MaxParallel:       8,
		HealthIntervalSec: 30,
	}
}

func (c OrchestratorConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMs) * time.Millisecond
}

func (c OrchestratorConfig) OracleTimeout() time.Duration {
	return time.Duration(c.OracleTimeoutMs) * time.Millisecond
}

// HealthInterval is zero when health probing is disabled.
func (c OrchestratorConfig) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalSec) * time.Second
}

// SessionsConfig controls how much history the oracle sees and where
// finished transcripts go.
type SessionsConfig struct {
	// ArchiveDSN is a sqlite path; empty disables archiving.
	ArchiveDSN      string `json:"archiveDsn" yaml:"archiveDsn"`
	ContextMaxTurns int    `json:"contextMaxTurns" yaml:"contextMaxTurns" validate:"min=0"`
	ContextMaxChars int    `json:"contextMaxChars" yaml:"contextMaxChars" validate:"min=0"`
}

func DefaultSessionsConfig() SessionsConfig {
	return SessionsConfig{
		ContextMaxTurns: 50,
		ContextMaxChars: 64_000,
	}
}
