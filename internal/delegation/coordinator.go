// Package delegation runs task plans through a coordinator and a set of
// specialists that reach the capabilities only as MCP tools.
//
// Each run gets its own in-process mcp-go server carrying the capability
// tools and a client connected to it. The coordinator hands every planned
// step to the specialist owning the step's category; a specialist only calls
// tools on its allowlist.
//
// Example usage:
//
//	coordinator, err := delegation.NewCoordinator(delegation.Config{
//		Registry: registry,
//		Settings: cfg.Delegation,
//	})
//	orch, err := orchestrator.New(orchestrator.Config{
//		Registry:  registry,
//		Delegator: coordinator,
//	})
package delegation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/bebsworthy/diagmcp/internal/config"
	"github.com/bebsworthy/diagmcp/internal/diagnostics"
	diagerrors "github.com/bebsworthy/diagmcp/internal/errors"
	"github.com/bebsworthy/diagmcp/internal/logging"
	"github.com/bebsworthy/diagmcp/internal/metrics"
	"github.com/bebsworthy/diagmcp/internal/orchestrator"
	"github.com/bebsworthy/diagmcp/internal/protocol"
	"github.com/bebsworthy/diagmcp/internal/server"
)

// Config holds what the coordinator needs. Registry is required.
type Config struct {
	Registry    *diagnostics.Registry
	Settings    config.DelegationConfig
	Specialists []Specialist
	Version     string
	Logger      *logging.Logger
	Monitor     *metrics.Monitor
}

// Coordinator implements orchestrator.Delegator
type Coordinator struct {
	registry    *diagnostics.Registry
	settings    config.DelegationConfig
	specialists []Specialist
	version     string
	logger      *logging.Logger
	monitor     *metrics.Monitor
}

// NewCoordinator creates a coordinator. Specialists default to DefaultSpecialists.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Registry == nil {
		return nil, diagerrors.ConfigurationError(protocol.ErrorCodeConfiguration,
			"coordinator requires a capability registry", nil)
	}

	c := &Coordinator{
		registry:    cfg.Registry,
		settings:    cfg.Settings,
		specialists: cfg.Specialists,
		version:     cfg.Version,
		logger:      cfg.Logger,
		monitor:     cfg.Monitor,
	}
	if len(c.specialists) == 0 {
		c.specialists = DefaultSpecialists
	}
	if c.version == "" {
		c.version = "dev"
	}
	if c.settings.InitTimeout <= 0 {
		c.settings.InitTimeout = 10 * time.Second
	}
	if c.settings.MaxInitAttempts < 1 {
		c.settings.MaxInitAttempts = 1
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	if c.monitor == nil {
		c.monitor = metrics.NewMonitor()
	}

	for _, s := range c.specialists {
		if s.Name == "" || len(s.Categories) == 0 {
			return nil, diagerrors.ConfigurationError(protocol.ErrorCodeConfiguration,
				"specialists need a name and at least one category", nil)
		}
	}

	return c, nil
}

// Acquire connects a fresh in-process session. Any failure is reported as
// Unavailable so the orchestrator can fall back.
func (c *Coordinator) Acquire(ctx context.Context) orchestrator.Availability {
	if !c.settings.Enabled {
		return orchestrator.Unavailable("delegated execution is disabled")
	}

	start := time.Now()
	sess, err := c.connect(ctx)
	if err != nil {
		c.monitor.TrackConnection(metrics.EventConnectFailed, time.Since(start))
		c.logger.LogWarnError(ctx, "Delegated layer unavailable", err)
		return orchestrator.Unavailable(err.Error())
	}
	c.monitor.TrackConnection(metrics.EventConnect, time.Since(start))

	return orchestrator.Ready(sess)
}

func (c *Coordinator) connect(ctx context.Context) (*session, error) {
	start := time.Now()
	mcpServer := server.NewCapabilityServer(c.registry, c.version)

	mcpClient, err := client.NewInProcessClient(mcpServer)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-process client: %w", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("failed to start in-process client: %w", err)
	}

	if err := c.initialize(ctx, mcpClient); err != nil {
		mcpClient.Close()
		return nil, err
	}

	if err := c.verifyTools(ctx, mcpClient); err != nil {
		mcpClient.Close()
		return nil, err
	}

	c.logger.LogTiming(ctx, "delegated_connect", start,
		slog.Int("specialists", len(c.specialists)))

	return &session{
		coordinator: c,
		client:      mcpClient,
	}, nil
}

// initialize runs the MCP handshake with exponential backoff
func (c *Coordinator) initialize(ctx context.Context, mcpClient *client.Client) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 0 // attempt limit only
	bo.RandomizationFactor = 0.1

	retries := backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(c.settings.MaxInitAttempts-1))

	attempt := 0
	operation := func() error {
		attempt++

		initCtx, cancel := context.WithTimeout(ctx, c.settings.InitTimeout)
		defer cancel()

		initRequest := mcp.InitializeRequest{}
		initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
		initRequest.Params.ClientInfo = mcp.Implementation{
			Name:    "diagmcp-coordinator",
			Version: c.version,
		}
		initRequest.Params.Capabilities = mcp.ClientCapabilities{}

		if _, err := mcpClient.Initialize(initCtx, initRequest); err != nil {
			c.monitor.TrackConnection(metrics.EventReconnectAttempt, 0)
			c.logger.WarnContext(ctx, "Delegated layer initialization failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, retries); err != nil {
		return diagerrors.ModeFallbackError(protocol.ErrorCodeDelegationFailed,
			fmt.Sprintf("initialization failed after %d attempt(s)", attempt), err)
	}
	return nil
}

// verifyTools checks that every allowlisted tool backed by the registry is exposed
func (c *Coordinator) verifyTools(ctx context.Context, mcpClient *client.Client) error {
	listed, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return diagerrors.ModeFallbackError(protocol.ErrorCodeDelegationFailed, "failed to list tools", err)
	}

	exposed := make(map[string]bool, len(listed.Tools))
	for _, tool := range listed.Tools {
		exposed[tool.Name] = true
	}

	var missing []string
	for _, s := range c.specialists {
		for _, tool := range s.Tools {
			if _, registered := c.registry.Get(tool); registered && !exposed[tool] {
				missing = append(missing, tool)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return diagerrors.ModeFallbackError(protocol.ErrorCodeDelegationFailed,
			"tool list incomplete: missing "+strings.Join(missing, ", "), nil)
	}
	return nil
}

// assign picks the specialist for a step: the owner of its category, unless
// that specialist may not call the step's tool.
func (c *Coordinator) assign(step orchestrator.Step) (Specialist, bool) {
	var byCategory *Specialist
	for i := range c.specialists {
		if c.specialists[i].Handles(step.Category) {
			byCategory = &c.specialists[i]
			break
		}
	}

	if step.Capability == "" {
		if byCategory != nil {
			return *byCategory, true
		}
		return Specialist{}, false
	}
	if byCategory != nil && byCategory.Allows(step.Capability) {
		return *byCategory, true
	}
	for _, s := range c.specialists {
		if s.Allows(step.Capability) {
			return s, true
		}
	}
	return Specialist{}, false
}

// session is one connected run of the delegated layer
type session struct {
	coordinator *Coordinator
	client      *client.Client
}

// Execute groups the steps by specialist and lets the specialists work
// concurrently. Results are returned in step order.
func (s *session) Execute(ctx context.Context, steps []orchestrator.Step) ([]protocol.CapabilityResult, error) {
	c := s.coordinator
	results := make([]protocol.CapabilityResult, len(steps))

	batches := make(map[string][]int)
	var order []Specialist
	for i, step := range steps {
		specialist, ok := c.assign(step)
		if !ok {
			return nil, diagerrors.ModeFallbackError(protocol.ErrorCodeDelegationFailed,
				fmt.Sprintf("no specialist can run %q", step.Task), nil)
		}
		if _, seen := batches[specialist.Name]; !seen {
			order = append(order, specialist)
		}
		batches[specialist.Name] = append(batches[specialist.Name], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, specialist := range order {
		specialist := specialist
		indices := batches[specialist.Name]

		g.Go(func() error {
			c.logger.DebugContext(gctx, "Specialist handling tasks",
				"specialist", specialist.Name,
				"task_count", len(indices))

			for _, i := range indices {
				result, err := s.run(gctx, specialist, steps[i])
				if err != nil {
					return err
				}
				results[i] = result
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// run executes one step on behalf of specialist
func (s *session) run(ctx context.Context, specialist Specialist, step orchestrator.Step) (protocol.CapabilityResult, error) {
	if step.Capability == "" {
		return orchestrator.Acknowledged(step), nil
	}
	if !specialist.Allows(step.Capability) {
		return protocol.CapabilityResult{}, fmt.Errorf("specialist %s may not call %s", specialist.Name, step.Capability)
	}

	request := mcp.CallToolRequest{}
	request.Params.Name = step.Capability
	request.Params.Arguments = map[string]any{
		"task":     step.Task,
		"category": string(step.Category),
	}

	timer := metrics.NewTimer("delegated:"+step.Capability, s.coordinator.monitor)
	response, err := s.client.CallTool(ctx, request)
	if err != nil {
		timer.Stop(false)
		return protocol.CapabilityResult{}, fmt.Errorf("%s: %w", step.Capability, err)
	}

	result, err := server.DecodeCapabilityResult(response)
	timer.Stop(err == nil && result.Success)
	if err != nil {
		return protocol.CapabilityResult{}, fmt.Errorf("%s: %w", step.Capability, err)
	}

	result.Task = step.Task
	result.Category = step.Category
	result.Capability = step.Capability
	return result, nil
}

// Close shuts down the in-process client
func (s *session) Close() error {
	return s.client.Close()
}
