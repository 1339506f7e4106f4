package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bebsworthy/diagmcp/internal/history"
	"github.com/bebsworthy/diagmcp/internal/logging"
	"github.com/bebsworthy/diagmcp/internal/server"
)

var (
	// Serve command flags
	websocketPort int
	host          string
	noWebSocket   bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the diagmcp server",
	Long: `Start the diagmcp server which provides:
- MCP interface over stdio for LLM clients (execute_tasks, parse_tasks,
  list_capabilities, run history and one tool per capability)
- WebSocket endpoint for remote clients with per-task progress
- /health endpoint reporting connections, capabilities and run history

Both transports share one orchestrator and one run history.`,
	Example: `  # Start server with default settings (localhost:8765)
  diagmcp serve

  # Start server on specific host and port
  diagmcp serve --host 0.0.0.0 --websocket-port 9000

  # MCP over stdio only
  diagmcp serve --no-websocket`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Serve-specific flags (these override config file values)
	serveCmd.Flags().IntVar(&websocketPort, "websocket-port", 0, "WebSocket server port (overrides config)")
	serveCmd.Flags().StringVar(&host, "host", "", "Host to bind the WebSocket server to (overrides config)")
	serveCmd.Flags().BoolVar(&noWebSocket, "no-websocket", false, "only serve MCP over stdio")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	actualHost := cfg.Server.Host
	actualPort := cfg.Server.WebSocketPort
	if host != "" {
		actualHost = host
	}
	if websocketPort != 0 {
		actualPort = websocketPort
	}

	if actualPort < 1 || actualPort > 65535 {
		return fmt.Errorf("invalid websocket port: %d (must be 1-65535)", actualPort)
	}
	if actualHost == "" {
		return fmt.Errorf("host cannot be empty")
	}

	// Logs go to stderr or a file; stdout belongs to the MCP transport
	logger, err := logging.NewServerLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	a, err := newApp(cfg, logger, nil)
	if err != nil {
		return err
	}

	ring := history.NewRingFromConfig(cfg.History)
	defer ring.Close()

	mcpServer := server.NewMCPServer(a.orchestrator, logger.Component("mcp"), a.monitor, BuildDate)
	mcpServer.SetHistory(ring)

	wsServer := server.NewWebSocketServerWithConfig(a.orchestrator, logger.Component("websocket"), a.monitor,
		server.WebSocketServerConfigFrom(cfg.WebSocket))
	wsServer.SetHistory(ring)
	defer wsServer.Close()

	fmt.Fprintf(os.Stderr, "diagmcp server starting...\n")
	fmt.Fprintf(os.Stderr, "   Capabilities: %d enabled\n", a.registry.Len())
	fmt.Fprintf(os.Stderr, "   Default mode: %s (delegation enabled: %v)\n", cfg.Orchestrator.DefaultMode, cfg.Delegation.Enabled)
	fmt.Fprintf(os.Stderr, "   MCP interface: %s\n", cfg.Server.MCPTransport)
	if !noWebSocket {
		fmt.Fprintf(os.Stderr, "   WebSocket server: ws://%s:%d/\n", actualHost, actualPort)
	}
	fmt.Fprintf(os.Stderr, "   Run history: %d reports / %v\n", cfg.History.Capacity, cfg.History.MaxAge)
	if cfg.Development.DebugMode {
		fmt.Fprintf(os.Stderr, "   Debug mode: enabled\n")
	}
	fmt.Fprintln(os.Stderr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if !noWebSocket {
		addr := fmt.Sprintf("%s:%d", actualHost, actualPort)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := wsServer.ListenAndServe(ctx, addr, cfg.Server.GracefulShutdownTimeout); err != nil {
				errCh <- fmt.Errorf("websocket server: %w", err)
			}
		}()
	}

	// The MCP server blocks until stdin closes, which also ends the process
	stdioDone := make(chan struct{})
	go func() {
		defer close(stdioDone)
		if err := mcpServer.Serve(); err != nil {
			errCh <- fmt.Errorf("mcp server: %w", err)
		}
	}()

	fmt.Fprintf(os.Stderr, "Server is ready. Press Ctrl+C to stop.\n")

	var runErr error
	select {
	case <-sigChan:
	case <-stdioDone:
		if noWebSocket {
			break
		}
		// Keep serving WebSocket clients after the MCP client disconnects
		select {
		case <-sigChan:
		case runErr = <-errCh:
		}
	case runErr = <-errCh:
	}

	fmt.Fprintf(os.Stderr, "\nShutting down diagmcp server...\n")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		fmt.Fprintf(os.Stderr, "Server stopped gracefully.\n")
	case <-time.After(cfg.Server.GracefulShutdownTimeout):
		fmt.Fprintf(os.Stderr, "Server shutdown timeout - force stopping.\n")
	}

	if cfg.Development.MetricsEnabled {
		a.monitor.LogMetricsSummary(context.Background())
	}

	return runErr
}
