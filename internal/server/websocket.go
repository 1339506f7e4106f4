package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bebsworthy/diagmcp/internal/config"
	diagerrors "github.com/bebsworthy/diagmcp/internal/errors"
	"github.com/bebsworthy/diagmcp/internal/history"
	"github.com/bebsworthy/diagmcp/internal/logging"
	"github.com/bebsworthy/diagmcp/internal/metrics"
	"github.com/bebsworthy/diagmcp/internal/orchestrator"
	"github.com/bebsworthy/diagmcp/internal/protocol"
	"github.com/bebsworthy/diagmcp/internal/tasks"
)

// WebSocketServer runs pipeline requests received over WebSocket connections.
//
// Client to Server Messages:
// - execute: run the task block found in model output
// - parse: extract and classify without running
//
// Server to Client Messages:
// - ack: an execute request was accepted
// - progress: one result, sent as soon as it is produced
// - report / parsed / extraction_failed / error: the terminal answer
type WebSocketServer struct {
	orchestrator *orchestrator.Orchestrator
	logger       *logging.Logger
	monitor      *metrics.Monitor
	history      *history.Ring
	upgrader     websocket.Upgrader
	connections  map[*websocket.Conn]*ConnectionInfo
	connMutex    sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup

	// Configuration
	readTimeout  time.Duration
	writeTimeout time.Duration
	pingInterval time.Duration
}

// ConnectionInfo stores information about a WebSocket connection
type ConnectionInfo struct {
	RemoteAddr   string
	ConnectedAt  time.Time
	LastPing     time.Time
	LastActivity time.Time
	Requests     int
	mutex        sync.RWMutex
	writeMutex   sync.Mutex // Protects WebSocket writes
}

// WebSocketServerConfig contains configuration options for the WebSocket server
type WebSocketServerConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	CheckOrigin  func(r *http.Request) bool
}

// DefaultWebSocketServerConfig returns default configuration for the WebSocket server
func DefaultWebSocketServerConfig() WebSocketServerConfig {
	return WebSocketServerConfig{
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		CheckOrigin:  nil, // Allow all origins by default (dev mode)
	}
}

// WebSocketServerConfigFrom maps the websocket section of the config file
func WebSocketServerConfigFrom(cfg config.WebSocketConfig) WebSocketServerConfig {
	wsConfig := DefaultWebSocketServerConfig()
	if cfg.ReadTimeout > 0 {
		wsConfig.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		wsConfig.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.PingInterval > 0 {
		wsConfig.PingInterval = cfg.PingInterval
	}
	return wsConfig
}

// NewWebSocketServer creates a new WebSocket server with default configuration
func NewWebSocketServer(orch *orchestrator.Orchestrator, logger *logging.Logger, monitor *metrics.Monitor) *WebSocketServer {
	return NewWebSocketServerWithConfig(orch, logger, monitor, DefaultWebSocketServerConfig())
}

// NewWebSocketServerWithConfig creates a new WebSocket server with custom configuration
func NewWebSocketServerWithConfig(orch *orchestrator.Orchestrator, logger *logging.Logger, monitor *metrics.Monitor, cfg WebSocketServerConfig) *WebSocketServer {
	ctx, cancel := context.WithCancel(context.Background())

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     cfg.CheckOrigin,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	if logger == nil {
		logger = logging.Discard()
	}
	if monitor == nil {
		monitor = metrics.NewMonitor()
	}

	return &WebSocketServer{
		orchestrator: orch,
		logger:       logger,
		monitor:      monitor,
		upgrader:     upgrader,
		connections:  make(map[*websocket.Conn]*ConnectionInfo),
		ctx:          ctx,
		cancel:       cancel,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		pingInterval: cfg.PingInterval,
	}
}

// HandleWebSocket handles HTTP requests and upgrades them to WebSocket connections
func (ws *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if ws.ctx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.WarnContext(r.Context(), "WebSocket upgrade failed", slog.String("error", err.Error()))
		ws.monitor.TrackConnection(metrics.EventConnectFailed, 0)
		return
	}

	ws.wg.Add(1)
	defer ws.wg.Done()
	ws.handleConnection(conn, r.RemoteAddr)
}

// handleConnection manages a single WebSocket connection
func (ws *WebSocketServer) handleConnection(conn *websocket.Conn, remoteAddr string) {
	defer conn.Close()

	now := time.Now()
	connInfo := &ConnectionInfo{
		RemoteAddr:   remoteAddr,
		ConnectedAt:  now,
		LastPing:     now,
		LastActivity: now,
	}

	ws.connMutex.Lock()
	ws.connections[conn] = connInfo
	ws.connMutex.Unlock()
	ws.monitor.TrackConnection(metrics.EventConnect, 0)

	ctx, cancel := context.WithCancel(ws.ctx)
	defer cancel()

	// Requests run beside the reader so pongs keep arriving during long scans
	var requests sync.WaitGroup

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		ws.handlePing(ctx, conn, connInfo)
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		ws.handleMessages(ctx, conn, connInfo, &requests)
	}()

	wg.Wait()
	requests.Wait()

	ws.cleanup(conn, connInfo)
}

// handleMessages reads requests until the connection fails or ctx ends
func (ws *WebSocketServer) handleMessages(ctx context.Context, conn *websocket.Conn, connInfo *ConnectionInfo, requests *sync.WaitGroup) {
	conn.SetReadDeadline(time.Now().Add(ws.readTimeout))

	conn.SetPongHandler(func(string) error {
		connInfo.mutex.Lock()
		connInfo.LastPing = time.Now()
		connInfo.mutex.Unlock()
		conn.SetReadDeadline(time.Now().Add(ws.readTimeout))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.WarnContext(ctx, "WebSocket read error", slog.String("error", err.Error()))
			}
			return
		}

		connInfo.mutex.Lock()
		connInfo.LastActivity = time.Now()
		connInfo.Requests++
		connInfo.mutex.Unlock()

		if err := ws.processMessage(ctx, conn, connInfo, message, requests); err != nil {
			ws.logger.LogWarnError(ctx, "Error processing message", err)
			ws.sendMessage(conn, connInfo, errorMessageFor(requestIDOf(message), "Message processing failed", err))
		}

		conn.SetReadDeadline(time.Now().Add(ws.readTimeout))
	}
}

// errorMessageFor converts err into a wire error. A DiagError keeps its code
// and details; any other error is classified first. The underlying error
// travels as the "cause" detail.
func errorMessageFor(requestID, prefix string, err error) *protocol.ErrorMessage {
	wrapped := diagerrors.WrapError(err, prefix)
	if wrapped.Underlying != nil {
		wrapped.WithDetails("cause", wrapped.Underlying.Error())
	}
	return wrapped.ToProtocolError(requestID)
}

// processMessage validates a request and dispatches it
func (ws *WebSocketServer) processMessage(ctx context.Context, conn *websocket.Conn, connInfo *ConnectionInfo, message []byte, requests *sync.WaitGroup) error {
	msg, err := protocol.ParseMessageBytes(message)
	if err != nil {
		return diagerrors.ProtocolError(protocol.ErrorCodeInvalidMessage, "failed to parse message", err)
	}

	if err := protocol.ValidateMessage(msg); err != nil {
		return diagerrors.ProtocolError(protocol.ErrorCodeInvalidMessage, "invalid message", err)
	}

	switch m := msg.(type) {
	case *protocol.ExecuteMessage:
		requests.Add(1)
		go func() {
			defer requests.Done()
			ws.handleExecute(ctx, conn, connInfo, m)
		}()
		return nil
	case *protocol.ParseMessage:
		return ws.sendMessage(conn, connInfo, protocol.NewParsedMessage(m.RequestID, tasks.Parse(m.ModelOutput)))
	default:
		return diagerrors.NewErrorf(diagerrors.ErrorTypeProtocol, protocol.ErrorCodeInvalidRequest,
			"unsupported request type: %T", msg)
	}
}

// handleExecute runs one execute request, streaming progress before the answer
func (ws *WebSocketServer) handleExecute(ctx context.Context, conn *websocket.Conn, connInfo *ConnectionInfo, msg *protocol.ExecuteMessage) {
	ctx = logging.WithCorrelationID(ctx, msg.RequestID)

	if err := ws.sendMessage(conn, connInfo, protocol.NewAckMessage(msg.RequestID, true, "execution started")); err != nil {
		ws.logger.LogWarnError(ctx, "Failed to acknowledge request", err)
		return
	}

	opts := orchestrator.Options{
		OnResult: func(index, total int, result protocol.CapabilityResult) {
			if err := ws.sendMessage(conn, connInfo, protocol.NewProgressMessage(msg.RequestID, index, total, result)); err != nil {
				ws.logger.LogWarnError(ctx, "Failed to send progress", err)
			}
		},
	}
	if msg.UseDelegated {
		opts.Mode = protocol.ModeDelegated
	}

	var (
		report  *protocol.ExecutionReport
		failure *protocol.ExtractionFailure
	)
	err := ws.monitor.TrackOperation(ctx, "ws_execute_tasks", func() error {
		var execErr error
		report, failure, execErr = ws.orchestrator.Execute(ctx, msg.ModelOutput, opts)
		return execErr
	})

	var answer interface{}
	switch {
	case err != nil:
		ws.logger.LogError(ctx, "Execute request failed", err)
		answer = errorMessageFor(msg.RequestID, "Execute request failed", err)
	case failure != nil:
		answer = protocol.NewExtractionFailedMessage(msg.RequestID, failure)
	default:
		ws.recordReport(report)
		answer = protocol.NewReportMessage(msg.RequestID, report)
	}

	if err := ws.sendMessage(conn, connInfo, answer); err != nil {
		ws.logger.LogWarnError(ctx, "Failed to send answer", err)
	}
}

// requestIDOf digs the request ID out of a message that failed to parse
func requestIDOf(message []byte) string {
	var base protocol.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		return ""
	}
	return base.RequestID
}

// handlePing manages ping/pong heartbeat for a connection
func (ws *WebSocketServer) handlePing(ctx context.Context, conn *websocket.Conn, connInfo *ConnectionInfo) {
	ticker := time.NewTicker(ws.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			connInfo.writeMutex.Lock()
			conn.SetWriteDeadline(time.Now().Add(ws.writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			connInfo.writeMutex.Unlock()

			if err != nil {
				ws.logger.DebugContext(ctx, "Failed to send ping", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// sendMessage sends a message over a WebSocket connection
func (ws *WebSocketServer) sendMessage(conn *websocket.Conn, connInfo *ConnectionInfo, msg interface{}) error {
	data, err := protocol.SerializeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	connInfo.writeMutex.Lock()
	defer connInfo.writeMutex.Unlock()

	conn.SetWriteDeadline(time.Now().Add(ws.writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// cleanup removes a connection from tracking
func (ws *WebSocketServer) cleanup(conn *websocket.Conn, connInfo *ConnectionInfo) {
	ws.connMutex.Lock()
	delete(ws.connections, conn)
	ws.connMutex.Unlock()

	ws.monitor.TrackConnection(metrics.EventDisconnect, 0)

	connInfo.mutex.RLock()
	requests := connInfo.Requests
	connInfo.mutex.RUnlock()

	ws.logger.Debug("WebSocket connection closed",
		slog.String("remote_addr", connInfo.RemoteAddr),
		slog.Int("requests", requests))
}

// GetConnectionStats returns statistics about active connections
func (ws *WebSocketServer) GetConnectionStats() ConnectionStats {
	ws.connMutex.RLock()
	defer ws.connMutex.RUnlock()

	stats := ConnectionStats{TotalConnections: len(ws.connections)}
	for _, connInfo := range ws.connections {
		connInfo.mutex.RLock()
		stats.TotalRequests += connInfo.Requests
		connInfo.mutex.RUnlock()
	}
	return stats
}

// Close shuts down the WebSocket server
func (ws *WebSocketServer) Close() error {
	ws.cancel()

	ws.connMutex.Lock()
	for conn := range ws.connections {
		conn.Close()
	}
	ws.connMutex.Unlock()

	ws.wg.Wait()
	return nil
}

// ConnectionStats represents statistics about WebSocket connections
type ConnectionStats struct {
	TotalConnections int `json:"total_connections"`
	TotalRequests    int `json:"total_requests"`
}

// String returns a human-readable string representation of the connection stats
func (s ConnectionStats) String() string {
	return fmt.Sprintf("Connections: %d active, %d requests", s.TotalConnections, s.TotalRequests)
}

// SetHistory records every report the server produces in ring
func (ws *WebSocketServer) SetHistory(ring *history.Ring) {
	ws.history = ring
}

func (ws *WebSocketServer) recordReport(report *protocol.ExecutionReport) {
	if ws.history != nil {
		ws.history.Record(report)
	}
}

// Health check methods

// IsHealthy returns true if the WebSocket server is operating normally
func (ws *WebSocketServer) IsHealthy() bool {
	return ws.ctx.Err() == nil
}

// GetHealth returns detailed health information about the WebSocket server
func (ws *WebSocketServer) GetHealth() WebSocketServerHealth {
	health := WebSocketServerHealth{
		IsHealthy:       ws.IsHealthy(),
		ConnectionStats: ws.GetConnectionStats(),
		Capabilities:    ws.orchestrator.Registry().Len(),
		Runs:            ws.monitor.GetRunMetrics(),
	}
	if ws.history != nil {
		stats := ws.history.GetStats()
		health.History = &stats
	}
	return health
}

// WebSocketServerHealth represents the health status of the WebSocket server
type WebSocketServerHealth struct {
	IsHealthy       bool               `json:"is_healthy"`
	ConnectionStats ConnectionStats    `json:"connection_stats"`
	Capabilities    int                `json:"capabilities"`
	Runs            metrics.RunMetrics `json:"runs"`
	History         *history.Stats     `json:"history,omitempty"`
}

// Handler returns the HTTP handler: the WebSocket endpoint at "/" and a JSON
// health report at "/health".
func (ws *WebSocketServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.HandleWebSocket)
	return mux
}

func (ws *WebSocketServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	health := ws.GetHealth()

	status := http.StatusOK
	if !health.IsHealthy {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(health)

	ws.logger.LogRequest(r.Context(), r.Method, r.URL.Path, status, time.Since(start))
}

// ListenAndServe serves the WebSocket endpoint on addr until ctx is cancelled,
// then shuts down gracefully within shutdownTimeout.
func (ws *WebSocketServer) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return diagerrors.NetworkError(protocol.ErrorCodeConfiguration,
			fmt.Sprintf("failed to listen on %s", addr), err)
	}
	return ws.Serve(ctx, listener, shutdownTimeout)
}

// Serve serves on an existing listener until ctx is cancelled
func (ws *WebSocketServer) Serve(ctx context.Context, listener net.Listener, shutdownTimeout time.Duration) error {
	httpServer := &http.Server{
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		ws.logger.Info("WebSocket server starting", slog.String("addr", listener.Addr().String()))
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked connections are not tracked by http.Server
	ws.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("websocket server shutdown: %w", err)
	}
	<-errCh
	return nil
}
