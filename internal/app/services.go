package app

import (
	"context"
	"fmt"

	"pfctl/internal/config"
	"pfctl/internal/events"
	"pfctl/internal/session"
	"pfctl/internal/tunnel"
	"pfctl/pkg/logging"
)

// Services holds the event bus and the engine a manager is built on.
type Services struct {
	Bus    *events.Bus
	Engine session.Engine
}

// InitializeServices connects to the configured cluster and creates the
// tunnel engine publishing on a fresh bus.
func InitializeServices(cfg config.PfctlConfig) (*Services, error) {
	cluster, err := tunnel.LoadCluster(cfg.KubeContext)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}
	logging.Info("Bootstrap", "Using Kubernetes context %s", cluster.Context)

	bus := events.NewBus()
	return &Services{
		Bus:    bus,
		Engine: tunnel.NewForCluster(cluster, bus, cfg.TunnelOptions()),
	}, nil
}

// NewManager creates a session manager on top of the services.
func (s *Services) NewManager(opts ...session.Option) *session.Manager {
	return session.NewManager(s.Engine, s.Bus, opts...)
}

// Shutdown stops the forwards the engine still runs after the manager
// has stopped its sessions. Engines without a Shutdown method are skipped.
func (s *Services) Shutdown(ctx context.Context) error {
	if e, ok := s.Engine.(interface{ Shutdown(context.Context) error }); ok {
		return e.Shutdown(ctx)
	}
	return nil
}

// Close releases the bus. Forwards must have been stopped before.
func (s *Services) Close() {
	s.Bus.Close()
}
