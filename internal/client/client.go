// Package client provides the WebSocket client for a remote diagmcp server.
//
// The client dials the server's WebSocket endpoint, sends execute or parse
// requests and collects the replies for each request ID until a terminal
// message arrives. It provides:
//
// - Connection management with exponential backoff retry
// - Request routing by request ID, so several requests may be in flight
// - Per-result progress callbacks while a task bundle executes
// - Heartbeat handling in both directions
//
// Example usage:
//
//	c := client.NewWebSocketClient("ws://localhost:8765")
//	if err := c.ConnectWithRetry(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	report, failure, err := c.Execute(ctx, modelOutput, false, func(p *protocol.ProgressMessage) {
//		fmt.Printf("%d/%d %s\n", p.Index+1, p.Total, p.Result.Task)
//	})
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bebsworthy/diagmcp/internal/config"
	diagerrors "github.com/bebsworthy/diagmcp/internal/errors"
	"github.com/bebsworthy/diagmcp/internal/logging"
	"github.com/bebsworthy/diagmcp/internal/metrics"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

// Error codes reported by the client
const (
	ErrorCodeInvalidURL       = "INVALID_URL"
	ErrorCodeConnectionFailed = "CONNECTION_FAILED"
	ErrorCodeNotConnected     = "NOT_CONNECTED"
)

// WebSocketClient manages the connection to a diagmcp server
type WebSocketClient struct {
	serverURL string

	// Connection state
	conn      *websocket.Conn
	connected bool
	connMutex sync.RWMutex
	// gorilla allows one concurrent writer
	writeMutex sync.Mutex

	// Replies are routed to the request that is waiting for them
	pending      map[string]*pendingRequest
	pendingMutex sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Configuration
	reconnectDelay       time.Duration
	maxReconnectDelay    time.Duration
	maxReconnectAttempts int
	pingInterval         time.Duration
	writeTimeout         time.Duration
	readTimeout          time.Duration
	handshakeTimeout     time.Duration

	attempts int

	logger  *logging.Logger
	monitor *metrics.Monitor
}

// WebSocketClientConfig contains configuration options for the WebSocket client
type WebSocketClientConfig struct {
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
	PingInterval         time.Duration
	WriteTimeout         time.Duration
	ReadTimeout          time.Duration
	HandshakeTimeout     time.Duration
}

// DefaultWebSocketClientConfig returns default configuration for the WebSocket client
func DefaultWebSocketClientConfig() WebSocketClientConfig {
	return WebSocketClientConfig{
		ReconnectDelay:       1 * time.Second,
		MaxReconnectDelay:    30 * time.Second,
		MaxReconnectAttempts: 10,
		PingInterval:         30 * time.Second,
		WriteTimeout:         10 * time.Second,
		ReadTimeout:          60 * time.Second,
		HandshakeTimeout:     10 * time.Second,
	}
}

// WebSocketClientConfigFrom maps the websocket section of the config file.
// Zero values keep the defaults.
func WebSocketClientConfigFrom(cfg config.WebSocketConfig) WebSocketClientConfig {
	out := DefaultWebSocketClientConfig()
	if cfg.ReconnectInitialDelay > 0 {
		out.ReconnectDelay = cfg.ReconnectInitialDelay
	}
	if cfg.ReconnectMaxDelay > 0 {
		out.MaxReconnectDelay = cfg.ReconnectMaxDelay
	}
	if cfg.ReconnectMaxAttempts > 0 {
		out.MaxReconnectAttempts = cfg.ReconnectMaxAttempts
	}
	if cfg.PingInterval > 0 {
		out.PingInterval = cfg.PingInterval
	}
	if cfg.WriteTimeout > 0 {
		out.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.ReadTimeout > 0 {
		out.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.HandshakeTimeout > 0 {
		out.HandshakeTimeout = cfg.HandshakeTimeout
	}
	return out
}

// NewWebSocketClient creates a new WebSocket client
func NewWebSocketClient(serverURL string) *WebSocketClient {
	return NewWebSocketClientWithConfig(serverURL, DefaultWebSocketClientConfig())
}

// NewWebSocketClientWithConfig creates a new WebSocket client with custom configuration
func NewWebSocketClientWithConfig(serverURL string, cfg WebSocketClientConfig) *WebSocketClient {
	ctx, cancel := context.WithCancel(context.Background())

	return &WebSocketClient{
		serverURL:            serverURL,
		pending:              make(map[string]*pendingRequest),
		ctx:                  ctx,
		cancel:               cancel,
		reconnectDelay:       cfg.ReconnectDelay,
		maxReconnectDelay:    cfg.MaxReconnectDelay,
		maxReconnectAttempts: cfg.MaxReconnectAttempts,
		pingInterval:         cfg.PingInterval,
		writeTimeout:         cfg.WriteTimeout,
		readTimeout:          cfg.ReadTimeout,
		handshakeTimeout:     cfg.HandshakeTimeout,
		logger:               logging.Discard(),
		monitor:              metrics.NewMonitor(),
	}
}

// SetLogger sets the logger for the client
func (c *WebSocketClient) SetLogger(logger *logging.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetMonitor sets the metrics monitor for the client
func (c *WebSocketClient) SetMonitor(monitor *metrics.Monitor) {
	if monitor != nil {
		c.monitor = monitor
	}
}

// Connect establishes the connection to the WebSocket server
func (c *WebSocketClient) Connect(ctx context.Context) error {
	start := time.Now()
	var connectErr error

	defer func() {
		if connectErr != nil {
			c.monitor.TrackConnection(metrics.EventConnectFailed, time.Since(start))
			c.monitor.TrackError(ctx, string(diagerrors.GetType(connectErr)), diagerrors.GetCode(connectErr), "websocket_client", connectErr.Error())
		} else {
			c.monitor.TrackConnection(metrics.EventConnect, time.Since(start))
		}
	}()

	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		connectErr = fmt.Errorf("already connected")
		return connectErr
	}

	u, err := url.Parse(c.serverURL)
	if err != nil {
		connectErr = diagerrors.ValidationError(ErrorCodeInvalidURL, "Invalid server URL", err)
		return connectErr
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		connectErr = diagerrors.ValidationError(ErrorCodeInvalidURL,
			fmt.Sprintf("unsupported URL scheme %q", u.Scheme), nil)
		return connectErr
	}

	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: c.handshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		connectErr = diagerrors.NetworkError(ErrorCodeConnectionFailed, "Failed to connect to server", err)
		return connectErr
	}

	c.conn = conn
	c.connected = true

	c.wg.Add(2)
	go c.handleMessages(conn)
	go c.handlePing(conn)

	c.logger.InfoContext(ctx, "WebSocket connection established",
		slog.String("server_url", c.serverURL))

	return nil
}

// ConnectWithRetry connects with automatic retry logic using exponential backoff
func (c *WebSocketClient) ConnectWithRetry(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.reconnectDelay
	bo.MaxInterval = c.maxReconnectDelay
	bo.MaxElapsedTime = 0 // attempt limit only
	bo.Multiplier = 2.0
	bo.RandomizationFactor = 0.1

	var policy backoff.BackOff = backoff.WithContext(bo, ctx)
	if c.maxReconnectAttempts > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(c.maxReconnectAttempts-1))
	}

	c.attempts = 0
	operation := func() error {
		c.attempts++
		err := c.Connect(ctx)
		if err == nil {
			return nil
		}
		if isPermanentError(err) {
			return backoff.Permanent(err)
		}

		c.monitor.TrackConnection(metrics.EventReconnectAttempt, 0)
		c.logger.WarnContext(ctx, "Connection attempt failed",
			slog.Int("attempt", c.attempts),
			slog.String("error", err.Error()))
		return err
	}

	return backoff.Retry(operation, policy)
}

// Attempts returns the number of dial attempts made by the last ConnectWithRetry
func (c *WebSocketClient) Attempts() int {
	return c.attempts
}

// isPermanentError determines if an error should not be retried
func isPermanentError(err error) bool {
	if diagerrors.IsType(err, diagerrors.ErrorTypeValidation) || diagerrors.IsType(err, diagerrors.ErrorTypePermission) {
		return true
	}

	msg := err.Error()
	for _, permanent := range []string{
		"unsupported protocol scheme",
		"malformed ws or wss URL",
		"no such host",
		"bad handshake",
	} {
		if strings.Contains(msg, permanent) {
			return true
		}
	}
	return false
}

// Execute asks the server to run every task in modelOutput. onProgress, when
// set, is called once per result before the report arrives.
func (c *WebSocketClient) Execute(ctx context.Context, modelOutput string, useDelegated bool, onProgress func(*protocol.ProgressMessage)) (*protocol.ExecutionReport, *protocol.ExtractionFailure, error) {
	requestID := uuid.NewString()

	var (
		report  *protocol.ExecutionReport
		failure *protocol.ExtractionFailure
	)
	err := c.roundTrip(ctx, requestID, protocol.NewExecuteMessage(requestID, modelOutput, useDelegated), func(msg interface{}) (bool, error) {
		switch m := msg.(type) {
		case *protocol.AckMessage:
			if !m.Success {
				return true, diagerrors.ProtocolError(protocol.ErrorCodeInvalidRequest, "request rejected: "+m.Message, nil)
			}
		case *protocol.ProgressMessage:
			if onProgress != nil {
				onProgress(m)
			}
		case *protocol.ReportMessage:
			report = m.Report
			return true, nil
		case *protocol.ExtractionFailedMessage:
			failure = m.Failure
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return report, failure, nil
}

// Parse asks the server to extract and classify the tasks in modelOutput
func (c *WebSocketClient) Parse(ctx context.Context, modelOutput string) (*protocol.ParseResult, error) {
	requestID := uuid.NewString()

	var result *protocol.ParseResult
	err := c.roundTrip(ctx, requestID, protocol.NewParseMessage(requestID, modelOutput), func(msg interface{}) (bool, error) {
		if m, ok := msg.(*protocol.ParsedMessage); ok {
			result = m.Parse
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// pendingRequest is one in-flight request. The read loop delivers to replies
// and closes it on disconnect; the requester closes done when it returns.
type pendingRequest struct {
	replies chan interface{}
	done    chan struct{}
}

func newPendingRequest() *pendingRequest {
	return &pendingRequest{
		replies: make(chan interface{}, 16),
		done:    make(chan struct{}),
	}
}

// roundTrip sends request and feeds every reply carrying requestID to handle
// until handle reports done or a terminal message arrives. Error messages
// from the server end the exchange with a protocol error.
func (c *WebSocketClient) roundTrip(ctx context.Context, requestID string, request interface{}, handle func(msg interface{}) (bool, error)) error {
	start := time.Now()
	pending := newPendingRequest()
	replies := pending.replies

	c.pendingMutex.Lock()
	c.pending[requestID] = pending
	c.pendingMutex.Unlock()

	defer func() {
		c.pendingMutex.Lock()
		if c.pending[requestID] == pending {
			delete(c.pending, requestID)
		}
		c.pendingMutex.Unlock()
		close(pending.done)
	}()

	if err := c.sendMessage(request); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return diagerrors.TimeoutError(protocol.ErrorCodeTimeout, "request cancelled", ctx.Err()).
				WithDuration(time.Since(start))
		case <-c.ctx.Done():
			return diagerrors.NetworkError(protocol.ErrorCodeConnectionLost, "client closed", nil)
		case msg, ok := <-replies:
			if !ok {
				return diagerrors.NetworkError(protocol.ErrorCodeConnectionLost, "connection lost before the request completed", nil)
			}

			if errMsg, isErr := msg.(*protocol.ErrorMessage); isErr {
				return diagerrors.ProtocolError(errMsg.ErrorCode, errMsg.Message, nil)
			}

			done, err := handle(msg)
			if err != nil || done {
				return err
			}
			if t := messageType(msg); t.IsTerminal() {
				return diagerrors.ProtocolError(protocol.ErrorCodeInvalidMessage,
					fmt.Sprintf("unexpected terminal message %s", t), nil)
			}
		}
	}
}

// handleMessages reads from conn and routes replies until the connection fails
func (c *WebSocketClient) handleMessages(conn *websocket.Conn) {
	defer c.wg.Done()
	defer c.disconnect(conn)

	_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	})
	// Server pings keep the connection alive while long probes run
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.writeTimeout))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.WarnContext(c.ctx, "WebSocket read error", slog.String("error", err.Error()))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))

		msg, err := protocol.ParseMessageBytes(message)
		if err != nil {
			c.logger.LogWarnError(c.ctx, "Failed to parse server message", err)
			continue
		}
		c.route(msg)
	}
}

// route delivers msg to the request waiting for it
func (c *WebSocketClient) route(msg interface{}) {
	requestID := requestIDOf(msg)

	c.pendingMutex.Lock()
	pending, ok := c.pending[requestID]
	c.pendingMutex.Unlock()

	if !ok {
		c.logger.Debug("Dropping reply for unknown request",
			slog.String("request_id", requestID),
			slog.String("message_type", string(messageType(msg))))
		return
	}

	// A requester that gave up no longer drains its replies
	select {
	case pending.replies <- msg:
	case <-pending.done:
	case <-c.ctx.Done():
	}
}

// disconnect marks the client disconnected and fails every pending request
func (c *WebSocketClient) disconnect(conn *websocket.Conn) {
	c.connMutex.Lock()
	if c.conn == conn {
		c.connected = false
		c.conn = nil
	}
	c.connMutex.Unlock()
	conn.Close()

	c.monitor.TrackConnection(metrics.EventDisconnect, 0)

	c.pendingMutex.Lock()
	for id, pending := range c.pending {
		close(pending.replies)
		delete(c.pending, id)
	}
	c.pendingMutex.Unlock()
}

// sendMessage sends a message to the server
func (c *WebSocketClient) sendMessage(msg interface{}) error {
	c.connMutex.RLock()
	conn := c.conn
	connected := c.connected
	c.connMutex.RUnlock()

	if !connected || conn == nil {
		return diagerrors.NetworkError(ErrorCodeNotConnected, "not connected", nil)
	}

	data, err := protocol.SerializeMessage(msg)
	if err != nil {
		return err
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return diagerrors.NetworkError(protocol.ErrorCodeConnectionLost, "failed to send message", err)
	}
	return nil
}

// handlePing manages the ping heartbeat
func (c *WebSocketClient) handlePing(conn *websocket.Conn) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if !c.IsConnected() {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.WarnContext(c.ctx, "Ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// IsConnected returns true if the client is connected
func (c *WebSocketClient) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// Close closes the connection and waits for the background goroutines
func (c *WebSocketClient) Close() error {
	c.cancel()

	c.connMutex.Lock()
	conn := c.conn
	c.connMutex.Unlock()

	var err error
	if conn != nil {
		c.writeMutex.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.writeTimeout))
		c.writeMutex.Unlock()
		err = conn.Close()
	}

	c.wg.Wait()
	return err
}

func messageType(msg interface{}) protocol.MessageType {
	switch m := msg.(type) {
	case *protocol.AckMessage:
		return m.Type
	case *protocol.ProgressMessage:
		return m.Type
	case *protocol.ReportMessage:
		return m.Type
	case *protocol.ParsedMessage:
		return m.Type
	case *protocol.ExtractionFailedMessage:
		return m.Type
	case *protocol.ErrorMessage:
		return m.Type
	}
	return ""
}

func requestIDOf(msg interface{}) string {
	switch m := msg.(type) {
	case *protocol.AckMessage:
		return m.RequestID
	case *protocol.ProgressMessage:
		return m.RequestID
	case *protocol.ReportMessage:
		return m.RequestID
	case *protocol.ParsedMessage:
		return m.RequestID
	case *protocol.ExtractionFailedMessage:
		return m.RequestID
	case *protocol.ErrorMessage:
		return m.RequestID
	}
	return ""
}
