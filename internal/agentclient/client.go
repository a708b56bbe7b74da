package agentclient

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/graph8-com/g8browser/internal/observability"
	"github.com/graph8-com/g8browser/internal/utils"
	id "github.com/graph8-com/g8browser/internal/utils/id"
)

// Config holds the coordinator connection settings.
type Config struct {
	URL                  string
	UserID               string
	AuthToken            string
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	ConnectTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	out.URL = strings.TrimSpace(out.URL)
	if out.ReconnectInterval <= 0 {
		out.ReconnectInterval = 5 * time.Second
	}
	if out.MaxReconnectAttempts <= 0 {
		out.MaxReconnectAttempts = 10
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 5 * time.Second
	}
	return out
}

// Client owns the single persistent socket to the task coordinator: it
// connects, registers, receives task assignments, sends acknowledgements and
// results, and reconnects on unclean closes with exponential backoff. No
// other component closes or recreates the socket.
type Client struct {
	mu                sync.RWMutex
	cfg               Config
	configured        bool
	conn              *websocket.Conn
	connecting        bool
	closed            bool
	reconnectAttempts int
	reconnectTimer    *time.Timer
	handlers          map[MessageType]Handler
	taskHandler       TaskHandler

	writeMu sync.Mutex

	agentID string
	logger  *utils.Logger
	metrics *observability.Metrics

	// dial is swapped out in tests.
	dial func(cfg Config) (*websocket.Conn, error)
}

// New creates a disconnected client. The agent id is generated once and is
// stable for the process lifetime, across reconnects.
func New(metrics *observability.Metrics) *Client {
	if metrics == nil {
		metrics = observability.Nop()
	}
	return &Client{
		agentID:  id.NewAgentID(),
		handlers: make(map[MessageType]Handler),
		logger:   utils.NewComponentLogger("AgentClient"),
		metrics:  metrics,
		dial:     dialCoordinator,
	}
}

func dialCoordinator(cfg Config) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout}
	header := http.Header{}
	if cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}
	conn, resp, err := dialer.Dial(cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// AgentID returns the stable agent identifier.
func (c *Client) AgentID() string {
	return c.agentID
}

// Connected reports whether the socket is currently open.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// OnMessage registers the handler for a message type, replacing any prior
// handler for that type.
func (c *Client) OnMessage(msgType MessageType, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = handler
}

// OnTask registers the consumer of validated task assignments.
func (c *Client) OnTask(handler TaskHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taskHandler = handler
}

// Connect opens the socket and registers the agent. Already connected or
// connecting is a no-op returning true. Returns false on dial failure or
// handshake timeout; the failed socket is closed and the reconnect policy is
// not engaged for an explicit connect call.
func (c *Client) Connect(cfg Config) bool {
	c.mu.Lock()
	if c.connecting || c.conn != nil {
		c.mu.Unlock()
		c.logger.Info("Already connected or connecting to coordinator")
		return true
	}
	// An explicit connect supersedes any pending reconnect attempt; two live
	// sockets must never coexist.
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	cfg = cfg.withDefaults()
	c.cfg = cfg
	c.configured = true
	c.closed = false
	c.connecting = true
	c.mu.Unlock()

	ok := c.connect(cfg)
	if !ok {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}
	return ok
}

// connect performs one dial attempt against cfg.
func (c *Client) connect(cfg Config) bool {
	c.logger.Info("Connecting to coordinator: %s", cfg.URL)

	conn, err := c.dial(cfg)
	if err != nil {
		c.logger.Error("Failed to connect to coordinator: %v", err)
		return false
	}

	c.mu.Lock()
	if c.closed {
		// Disconnect raced the dial; drop the socket.
		c.mu.Unlock()
		_ = conn.Close()
		return false
	}
	if c.conn != nil {
		// Another path already holds a live socket; keep it and drop ours.
		c.mu.Unlock()
		_ = conn.Close()
		return true
	}
	c.conn = conn
	c.connecting = false
	c.reconnectAttempts = 0
	c.mu.Unlock()

	c.metrics.ConnectionUp.Set(1)
	c.registerAgent()

	go c.readLoop(conn)
	return true
}

// Disconnect cancels any pending reconnect, closes the socket with a normal
// closure code, and clears the configuration. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.closed = true
	c.configured = false
	c.cfg = Config{}
	c.connecting = false
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "manual disconnect"))
		c.writeMu.Unlock()
		_ = conn.Close()
	}

	c.metrics.ConnectionUp.Set(0)
	c.logger.Info("Disconnected from coordinator")
}

// SendTaskAck acknowledges a task assignment with status busy. Returns false
// when the socket is not open.
func (c *Client) SendTaskAck(taskID string) bool {
	c.mu.RLock()
	userID := c.cfg.UserID
	c.mu.RUnlock()

	return c.sendMessage(AgentMessage{
		Type:      TypeTaskAck,
		AgentID:   c.agentID,
		UserID:    userID,
		TaskID:    taskID,
		Status:    StatusBusy,
		Timestamp: timestamp(),
	})
}

// SendTaskResult reports a finished task. Returns false when the socket is
// not open.
func (c *Client) SendTaskResult(taskID string, result any, success bool) bool {
	c.mu.RLock()
	userID := c.cfg.UserID
	c.mu.RUnlock()

	status := StatusReady
	if !success {
		status = StatusError
	}
	return c.sendMessage(AgentMessage{
		Type:      TypeTaskResult,
		AgentID:   c.agentID,
		UserID:    userID,
		TaskID:    taskID,
		Status:    status,
		Result:    result,
		Timestamp: timestamp(),
	})
}

func (c *Client) registerAgent() {
	c.mu.RLock()
	userID := c.cfg.UserID
	c.mu.RUnlock()

	ok := c.sendMessage(AgentMessage{
		Type:      TypeAgentRegister,
		AgentID:   c.agentID,
		UserID:    userID,
		Status:    StatusReady,
		Timestamp: timestamp(),
	})
	if ok {
		c.logger.Info("Agent registered: %s", c.agentID)
	}
}

func (c *Client) sendStatus(status string) bool {
	c.mu.RLock()
	userID := c.cfg.UserID
	c.mu.RUnlock()

	return c.sendMessage(AgentMessage{
		Type:      TypeAgentStatus,
		AgentID:   c.agentID,
		UserID:    userID,
		Status:    status,
		Timestamp: timestamp(),
	})
}

// sendMessage serializes and writes one frame. Transport failures never
// propagate past the client boundary.
func (c *Client) sendMessage(msg AgentMessage) bool {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		c.logger.Info("Cannot send %s: socket not connected", msg.Type)
		return false
	}

	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Error("Error sending %s: %v", msg.Type, err)
		return false
	}
	return true
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		c.handleFrame(data)
	}

	c.mu.Lock()
	wasClean := c.closed
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
	c.metrics.ConnectionUp.Set(0)

	if !wasClean {
		c.logger.Warn("Coordinator socket closed uncleanly")
		c.scheduleReconnect()
	}
}

func (c *Client) handleFrame(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		c.logger.Error("Dropping malformed coordinator frame: %v", err)
		return
	}

	switch env.Type {
	case TypeTask:
		var task TaskMessage
		if err := json.Unmarshal(data, &task); err != nil || task.TaskID == "" {
			c.logger.Error("Dropping malformed task frame: %v", err)
			return
		}
		c.logger.Info("Received task: %s", task.TaskID)
		c.SendTaskAck(task.TaskID)

		c.mu.RLock()
		handler := c.taskHandler
		c.mu.RUnlock()
		if handler != nil {
			handler(task)
		}

	case TypeAgentRegistered:
		c.logger.Info("Agent registration confirmed: %s", env.AgentID)

	case TypePing:
		c.sendStatus(StatusReady)

	default:
		c.logger.Info("Unknown message type: %s", env.Type)
	}

	c.mu.RLock()
	handler := c.handlers[env.Type]
	c.mu.RUnlock()
	if handler != nil {
		handler(json.RawMessage(data))
	}
}

// scheduleReconnect arms a one-shot retry after an unclean close. The delay
// doubles every attempt from the configured base interval; once the attempt
// cap is reached the client gives up permanently.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closed || !c.configured {
		c.mu.Unlock()
		return
	}
	if c.reconnectAttempts >= c.cfg.MaxReconnectAttempts {
		c.mu.Unlock()
		c.logger.Error("Max reconnection attempts reached")
		return
	}
	c.reconnectAttempts++
	attempt := c.reconnectAttempts
	cfg := c.cfg
	delay := reconnectDelay(cfg.ReconnectInterval, attempt)
	c.logger.Info("Scheduling reconnection attempt %d in %s", attempt, delay)
	c.metrics.SocketReconnects.Inc()
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		stale := c.closed || c.connecting || c.conn != nil
		c.mu.Unlock()
		if stale {
			// A Disconnect or explicit Connect won the race; stand down.
			return
		}
		if !c.connect(cfg) {
			c.scheduleReconnect()
		}
	})
	c.mu.Unlock()
}

// reconnectDelay is base * 2^(attempt-1).
func reconnectDelay(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(1<<uint(attempt-1))
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
