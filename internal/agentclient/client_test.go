package agentclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// coordServer is a minimal in-process coordinator endpoint.
type coordServer struct {
	srv    *httptest.Server
	frames chan map[string]any
	conns  chan *websocket.Conn
}

func newCoordServer(t *testing.T) *coordServer {
	t.Helper()
	cs := &coordServer{
		frames: make(chan map[string]any, 16),
		conns:  make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cs.conns <- conn
		for {
			var frame map[string]any
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			cs.frames <- frame
		}
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *coordServer) url() string {
	return "ws" + strings.TrimPrefix(cs.srv.URL, "http")
}

func (cs *coordServer) waitFrame(t *testing.T) map[string]any {
	t.Helper()
	select {
	case frame := <-cs.frames:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func (cs *coordServer) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-cs.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func TestReconnectDelayDoubling(t *testing.T) {
	base := 5000 * time.Millisecond
	assert.Equal(t, 5000*time.Millisecond, reconnectDelay(base, 1))
	assert.Equal(t, 10000*time.Millisecond, reconnectDelay(base, 2))
	assert.Equal(t, 20000*time.Millisecond, reconnectDelay(base, 3))
}

func TestConnectRegistersAgent(t *testing.T) {
	cs := newCoordServer(t)
	client := New(nil)
	defer client.Disconnect()

	ok := client.Connect(Config{URL: cs.url(), UserID: "user-1"})
	require.True(t, ok)
	assert.True(t, client.Connected())

	frame := cs.waitFrame(t)
	assert.Equal(t, "agent_register", frame["type"])
	assert.Equal(t, client.AgentID(), frame["agent_id"])
	assert.Equal(t, "user-1", frame["user_id"])
	assert.Equal(t, StatusReady, frame["status"])
	assert.NotEmpty(t, frame["timestamp"])
}

func TestConnectIsNoOpWhenConnected(t *testing.T) {
	cs := newCoordServer(t)
	client := New(nil)
	defer client.Disconnect()

	require.True(t, client.Connect(Config{URL: cs.url(), UserID: "user-1"}))
	assert.True(t, client.Connect(Config{URL: cs.url(), UserID: "user-1"}))
}

func TestConnectDialFailure(t *testing.T) {
	client := New(nil)
	client.dial = func(cfg Config) (*websocket.Conn, error) {
		return nil, fmt.Errorf("connection refused")
	}

	assert.False(t, client.Connect(Config{URL: "ws://127.0.0.1:1/agent", UserID: "user-1"}))
	assert.False(t, client.Connected())
}

func TestTaskFrameAckedAndDispatched(t *testing.T) {
	cs := newCoordServer(t)
	client := New(nil)
	defer client.Disconnect()

	received := make(chan TaskMessage, 1)
	client.OnTask(func(task TaskMessage) {
		received <- task
	})

	require.True(t, client.Connect(Config{URL: cs.url(), UserID: "user-1"}))
	conn := cs.waitConn(t)
	cs.waitFrame(t) // agent_register

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":        "task",
		"task_id":     "coord-task-1",
		"instruction": "Visit the profile",
		"metadata":    map[string]any{"url": "https://linkedin.com/in/jane"},
	}))

	ack := cs.waitFrame(t)
	assert.Equal(t, "task_ack", ack["type"])
	assert.Equal(t, "coord-task-1", ack["task_id"])
	assert.Equal(t, StatusBusy, ack["status"])

	select {
	case task := <-received:
		assert.Equal(t, "coord-task-1", task.TaskID)
		assert.Equal(t, "Visit the profile", task.Instruction)
		require.NotNil(t, task.Metadata)
		assert.Equal(t, "https://linkedin.com/in/jane", task.Metadata.URL)
	case <-time.After(2 * time.Second):
		t.Fatal("task handler not invoked")
	}
}

func TestPingAnswersWithReadyStatus(t *testing.T) {
	cs := newCoordServer(t)
	client := New(nil)
	defer client.Disconnect()

	require.True(t, client.Connect(Config{URL: cs.url(), UserID: "user-1"}))
	conn := cs.waitConn(t)
	cs.waitFrame(t) // agent_register

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))

	frame := cs.waitFrame(t)
	assert.Equal(t, "agent_status", frame["type"])
	assert.Equal(t, StatusReady, frame["status"])
}

func TestMalformedFramesDropped(t *testing.T) {
	cs := newCoordServer(t)
	client := New(nil)
	defer client.Disconnect()

	require.True(t, client.Connect(Config{URL: cs.url(), UserID: "user-1"}))
	conn := cs.waitConn(t)
	cs.waitFrame(t) // agent_register

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(map[string]any{"task_id": "no-type"}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "task"})) // missing task_id

	// The client survives and still answers pings.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	frame := cs.waitFrame(t)
	assert.Equal(t, "agent_status", frame["type"])
}

func TestOnMessageHandlerReceivesRawFrame(t *testing.T) {
	cs := newCoordServer(t)
	client := New(nil)
	defer client.Disconnect()

	raw := make(chan json.RawMessage, 1)
	client.OnMessage(TypeAgentRegistered, func(data json.RawMessage) {
		raw <- data
	})

	require.True(t, client.Connect(Config{URL: cs.url(), UserID: "user-1"}))
	conn := cs.waitConn(t)
	cs.waitFrame(t) // agent_register

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "agent_registered", "agent_id": client.AgentID()}))

	select {
	case data := <-raw:
		assert.Contains(t, string(data), "agent_registered")
	case <-time.After(2 * time.Second):
		t.Fatal("message handler not invoked")
	}
}

func TestSendWhenDisconnected(t *testing.T) {
	client := New(nil)
	assert.False(t, client.SendTaskAck("task-1"))
	assert.False(t, client.SendTaskResult("task-1", nil, true))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	cs := newCoordServer(t)
	client := New(nil)

	require.True(t, client.Connect(Config{URL: cs.url(), UserID: "user-1"}))
	client.Disconnect()
	client.Disconnect()
	assert.False(t, client.Connected())
}

func TestUncleanCloseSchedulesReconnect(t *testing.T) {
	cs := newCoordServer(t)
	client := New(nil)
	defer client.Disconnect()

	var dials int32
	client.dial = func(cfg Config) (*websocket.Conn, error) {
		atomic.AddInt32(&dials, 1)
		return dialCoordinator(cfg)
	}

	require.True(t, client.Connect(Config{
		URL:               cs.url(),
		UserID:            "user-1",
		ReconnectInterval: 10 * time.Millisecond,
	}))
	conn := cs.waitConn(t)
	cs.waitFrame(t) // agent_register

	// Drop the socket server-side without a close handshake.
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&dials) >= 2 && client.Connected()
	}, 2*time.Second, 10*time.Millisecond)

	// The replacement socket registers again.
	cs.waitConn(t)
	frame := cs.waitFrame(t)
	assert.Equal(t, "agent_register", frame["type"])
}

func TestExplicitConnectCancelsPendingReconnect(t *testing.T) {
	cs := newCoordServer(t)
	client := New(nil)
	defer client.Disconnect()

	var dials int32
	client.dial = func(cfg Config) (*websocket.Conn, error) {
		atomic.AddInt32(&dials, 1)
		return dialCoordinator(cfg)
	}

	cfg := Config{
		URL:               cs.url(),
		UserID:            "user-1",
		ReconnectInterval: time.Hour,
	}
	require.True(t, client.Connect(cfg))
	conn := cs.waitConn(t)
	cs.waitFrame(t) // agent_register

	// Drop the socket server-side so a reconnect gets armed far in the future.
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		client.mu.RLock()
		defer client.mu.RUnlock()
		return client.conn == nil && client.reconnectTimer != nil
	}, 2*time.Second, 10*time.Millisecond)

	// An explicit connect takes over and disarms the pending attempt.
	require.True(t, client.Connect(cfg))
	assert.True(t, client.Connected())
	client.mu.RLock()
	timer := client.reconnectTimer
	client.mu.RUnlock()
	assert.Nil(t, timer)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&dials))

	// Only the replacement socket registered a second time.
	cs.waitConn(t)
	frame := cs.waitFrame(t)
	assert.Equal(t, "agent_register", frame["type"])
}

func TestReconnectGivesUpAtCap(t *testing.T) {
	cs := newCoordServer(t)
	client := New(nil)
	defer client.Disconnect()

	var dials int32
	client.dial = func(cfg Config) (*websocket.Conn, error) {
		n := atomic.AddInt32(&dials, 1)
		if n == 1 {
			return dialCoordinator(cfg)
		}
		return nil, fmt.Errorf("connection refused")
	}

	require.True(t, client.Connect(Config{
		URL:                  cs.url(),
		UserID:               "user-1",
		ReconnectInterval:    5 * time.Millisecond,
		MaxReconnectAttempts: 2,
	}))
	conn := cs.waitConn(t)
	cs.waitFrame(t) // agent_register

	require.NoError(t, conn.Close())

	// One initial dial plus exactly two failed reconnect attempts.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&dials) == 3
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&dials))
	assert.False(t, client.Connected())
}

func TestNoReconnectAfterDisconnect(t *testing.T) {
	cs := newCoordServer(t)
	client := New(nil)

	var dials int32
	client.dial = func(cfg Config) (*websocket.Conn, error) {
		atomic.AddInt32(&dials, 1)
		return dialCoordinator(cfg)
	}

	require.True(t, client.Connect(Config{
		URL:               cs.url(),
		UserID:            "user-1",
		ReconnectInterval: 5 * time.Millisecond,
	}))
	cs.waitConn(t)
	cs.waitFrame(t) // agent_register

	client.Disconnect()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{URL: " ws://coordinator/agent "}.withDefaults()
	assert.Equal(t, "ws://coordinator/agent", cfg.URL)
	assert.Equal(t, 5*time.Second, cfg.ReconnectInterval)
	assert.Equal(t, 10, cfg.MaxReconnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
}
