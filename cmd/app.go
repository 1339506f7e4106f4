package cmd

import (
	"fmt"

	"github.com/bebsworthy/diagmcp/internal/config"
	"github.com/bebsworthy/diagmcp/internal/delegation"
	"github.com/bebsworthy/diagmcp/internal/diagnostics"
	"github.com/bebsworthy/diagmcp/internal/logging"
	"github.com/bebsworthy/diagmcp/internal/metrics"
	"github.com/bebsworthy/diagmcp/internal/orchestrator"
)

// app bundles the components every local command needs
type app struct {
	cfg          *config.Config
	logger       *logging.Logger
	monitor      *metrics.Monitor
	registry     *diagnostics.Registry
	orchestrator *orchestrator.Orchestrator
}

// newApp wires the registry, delegation coordinator and orchestrator from cfg.
// registry may be nil, in which case the built-in capabilities are used.
func newApp(cfg *config.Config, logger *logging.Logger, registry *diagnostics.Registry) (*app, error) {
	monitor := metrics.NewMonitor()
	monitor.SetLogger(logger.Logger)

	if registry == nil {
		var err error
		registry, err = diagnostics.NewDefaultRegistry(cfg.Diagnostics)
		if err != nil {
			return nil, fmt.Errorf("failed to build capability registry: %w", err)
		}
	}

	orchCfg := orchestrator.Config{
		Registry: registry,
		Monitor:  monitor,
		Logger:   logger.Component("orchestrator"),
		Settings: cfg.Orchestrator,
	}

	if cfg.Delegation.Enabled {
		coordinator, err := delegation.NewCoordinator(delegation.Config{
			Registry: registry,
			Settings: cfg.Delegation,
			Version:  BuildDate,
			Logger:   logger.Component("delegation"),
			Monitor:  monitor,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create delegation coordinator: %w", err)
		}
		orchCfg.Delegator = coordinator
	}

	orch, err := orchestrator.New(orchCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	return &app{
		cfg:          cfg,
		logger:       logger,
		monitor:      monitor,
		registry:     registry,
		orchestrator: orch,
	}, nil
}
