// Package config defines the configuration schema for toolrelay.
//
// Keys use camelCase in both JSON and YAML files.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/toolrelay/toolrelay/internal/config/agent"
	"github.com/toolrelay/toolrelay/internal/config/provider"
	"github.com/toolrelay/toolrelay/internal/config/tool"
)

// TelemetryConfig controls OpenTelemetry export. Metrics are always
// collected in-process; traces are exported only when an endpoint is set.
type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlpEndpoint,omitempty" yaml:"otlpEndpoint,omitempty"`
	Insecure     bool   `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	ServiceName  string `json:"serviceName" yaml:"serviceName"`
}

// Config is the root configuration object, loaded from ~/.toolrelay/config.json.
type Config struct {
	Orchestrator agent.OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
	Oracle       provider.OracleConfig    `json:"oracle" yaml:"oracle"`
	Servers      []tool.ServerConfig      `json:"servers" yaml:"servers" validate:"dive"`
	Sessions     agent.SessionsConfig     `json:"sessions" yaml:"sessions"`
	Telemetry    TelemetryConfig          `json:"telemetry" yaml:"telemetry"`
}

// DefaultConfig returns a Config populated with all default values. The
// only server is the built-in demo server run from this binary.
func DefaultConfig() Config {
	return Config{
		Orchestrator: agent.DefaultOrchestratorConfig(),
		Oracle:       provider.DefaultOracleConfig(),
		Servers: []tool.ServerConfig{{
			ID:        "demo",
			Transport: tool.TransportStdio,
			Command:   selfCommand(),
			Args:      []string{"toolserver", "demo"},
		}},
		Sessions:  agent.DefaultSessionsConfig(),
		Telemetry: TelemetryConfig{ServiceName: "toolrelay"},
	}
}

func selfCommand() string {
	exe, err := os.Executable()
	if err != nil {
		return "toolrelay"
	}
	return exe
}

// EnabledServers returns the servers not marked disabled, in config order.
func (c *Config) EnabledServers() []tool.ServerConfig {
	out := make([]tool.ServerConfig, 0, len(c.Servers))
	for _, s := range c.Servers {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}

// ArchivePath returns the expanded sqlite archive path, or "" when
// archiving is off.
func (c *Config) ArchivePath() string {
	return expandHome(c.Sessions.ArchiveDSN)
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
