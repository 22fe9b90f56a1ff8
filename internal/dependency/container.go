// Package dependency wires core toolrelay services using go.uber.org/dig.
package dependency

import (
	"context"
	"errors"

	"go.uber.org/dig"

	"github.com/toolrelay/toolrelay/internal/agent"
	"github.com/toolrelay/toolrelay/internal/config"
	"github.com/toolrelay/toolrelay/internal/mcp"
	"github.com/toolrelay/toolrelay/internal/providers"
	"github.com/toolrelay/toolrelay/internal/registry"
	"github.com/toolrelay/toolrelay/internal/schema"
	"github.com/toolrelay/toolrelay/internal/session"
	"github.com/toolrelay/toolrelay/internal/telemetry"
)

// Container holds the resolved core service singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	cfg       *config.Config
	registry  *registry.Registry
	servers   *mcp.Manager
	health    *mcp.HealthMonitor
	sessions  *session.Manager
	telemetry *telemetry.Provider
	service   *agent.Service
}

func (c *Container) Config() *config.Config         { return c.cfg }
func (c *Container) Registry() *registry.Registry   { return c.registry }
func (c *Container) Servers() *mcp.Manager          { return c.servers }
func (c *Container) Health() *mcp.HealthMonitor     { return c.health }
func (c *Container) Sessions() *session.Manager     { return c.sessions }
func (c *Container) Telemetry() *telemetry.Provider { return c.telemetry }
func (c *Container) Service() *agent.Service        { return c.service }

// ClientVersion is a named string type so dig can distinguish it from
// plain strings; it is sent to tool servers during the handshake.
type ClientVersion string

func provideAll(d *dig.Container, cfg *config.Config, version string) error {
	ctors := []any{
		func() *config.Config { return cfg },
		func() ClientVersion { return ClientVersion(version) },
		newRegistry,
		newServerManager,
		newHealthMonitor,
		newSessionStore,
		newSessionManager,
		newTelemetry,
		newOracle,
		newLoop,
		agent.NewService,
	}
	for _, ctor := range ctors {
		if err := d.Provide(ctor); err != nil {
			return err
		}
	}
	return nil
}

// New builds and wires every service from cfg, including the oracle.
// Tool servers are not started; call Servers().Start.
func New(cfg *config.Config, version string) (*Container, error) {
	d := dig.New()
	if err := provideAll(d, cfg, version); err != nil {
		return nil, err
	}

	var result *Container
	err := d.Invoke(func(
		reg *registry.Registry,
		servers *mcp.Manager,
		health *mcp.HealthMonitor,
		sessions *session.Manager,
		tel *telemetry.Provider,
		svc *agent.Service,
	) {
		result = &Container{
			cfg:       cfg,
			registry:  reg,
			servers:   servers,
			health:    health,
			sessions:  sessions,
			telemetry: tel,
			service:   svc,
		}
	})
	return result, dig.RootCause(err)
}

// NewTooling wires only the tool-server side: registry, manager and health
// monitor. It needs no oracle credentials; Service() returns nil.
func NewTooling(cfg *config.Config, version string) (*Container, error) {
	d := dig.New()
	if err := provideAll(d, cfg, version); err != nil {
		return nil, err
	}

	var result *Container
	err := d.Invoke(func(reg *registry.Registry, servers *mcp.Manager, health *mcp.HealthMonitor) {
		result = &Container{cfg: cfg, registry: reg, servers: servers, health: health}
	})
	return result, dig.RootCause(err)
}

// Close stops tool servers, flushes telemetry and closes the archive.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.servers != nil {
		errs = append(errs, c.servers.Close(ctx))
	}
	if c.telemetry != nil {
		errs = append(errs, c.telemetry.Shutdown(ctx))
	}
	if c.sessions != nil {
		errs = append(errs, c.sessions.Store().Close())
	}
	return errors.Join(errs...)
}

func newRegistry(cfg *config.Config) *registry.Registry {
	return registry.New(cfg.Orchestrator.CallTimeout())
}

func newServerManager(cfg *config.Config, reg *registry.Registry, version ClientVersion) *mcp.Manager {
	return mcp.NewManager(cfg.EnabledServers(), reg, mcp.Options{
		CallTimeout:   cfg.Orchestrator.CallTimeout(),
		ClientVersion: string(version),
	})
}

func newHealthMonitor(cfg *config.Config, m *mcp.Manager) *mcp.HealthMonitor {
	return mcp.NewHealthMonitor(m, cfg.Orchestrator.HealthInterval(), 0)
}

func newSessionStore(cfg *config.Config) (session.Store, error) {
	path := cfg.ArchivePath()
	if path == "" {
		return session.NopStore{}, nil
	}
	return session.OpenSQLite(path)
}

func newSessionManager(store session.Store) *session.Manager {
	return session.NewManager(store)
}

func newTelemetry(cfg *config.Config) (*telemetry.Provider, error) {
	return telemetry.Setup(context.Background(), cfg.Telemetry)
}

func newOracle(cfg *config.Config) (schema.Oracle, error) {
	return providers.New(cfg.Oracle)
}

func newLoop(oracle schema.Oracle, reg *registry.Registry, cfg *config.Config, tel *telemetry.Provider) *agent.Loop {
	o := cfg.Orchestrator
	settings := schema.NewAgentSettings(
		o.StepBudget,
		o.CallTimeout(),
		o.OracleTimeout(),
		o.MaxParallel,
		schema.ContextBudget{
			MaxTurns: cfg.Sessions.ContextMaxTurns,
			MaxChars: cfg.Sessions.ContextMaxChars,
		},
	)
	return agent.NewLoop(oracle, reg, settings, tel.Observer)
}
