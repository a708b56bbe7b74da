package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graph8-com/g8browser/internal/config"
	"github.com/graph8-com/g8browser/internal/tracker"
)

func newTestDispatcher(t *testing.T, whcfg config.WebhookConfig) (*Dispatcher, *[]time.Duration) {
	t.Helper()
	mgr := config.NewManager(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, mgr.SetWebhook(whcfg))

	d := NewDispatcher(mgr, nil)
	sleeps := &[]time.Duration{}
	d.sleep = func(dur time.Duration) {
		*sleeps = append(*sleeps, dur)
	}
	return d, sleeps
}

func enabledConfig(url string) config.WebhookConfig {
	return config.WebhookConfig{
		Enabled:       true,
		URL:           url,
		RetryAttempts: 3,
		RetryDelayMS:  1000,
		TimeoutMS:     5000,
	}
}

func TestSendDisabledWebhookMakesNoCalls(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	cfg := enabledConfig(srv.URL)
	cfg.Enabled = false
	d, _ := newTestDispatcher(t, cfg)

	resp := d.SendTaskResult(context.Background(), tracker.TaskResult{TaskID: "task-1"})
	assert.False(t, resp.Success)
	assert.Equal(t, ErrNotConfigured, resp.Error)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestSendWithoutURLMakesNoCalls(t *testing.T) {
	d, _ := newTestDispatcher(t, enabledConfig(""))

	resp := d.SendTaskResult(context.Background(), tracker.TaskResult{TaskID: "task-1"})
	assert.False(t, resp.Success)
	assert.Equal(t, ErrNotConfigured, resp.Error)
}

func TestSendTaskResultEnvelope(t *testing.T) {
	var received map[string]any
	var auth, custom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		custom = r.Header.Get("X-Webhook-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	defer srv.Close()

	cfg := enabledConfig(srv.URL)
	cfg.AuthToken = "secret-token"
	cfg.Headers = map[string]string{"X-Webhook-Key": "abc"}
	d, sleeps := newTestDispatcher(t, cfg)

	result := tracker.TaskResult{
		TaskID:  "task-1",
		Success: true,
		Results: tracker.ActionResult{ConnectionMade: tracker.Yes, ActionPerformed: tracker.ActionSendConnectionRequest},
	}
	resp := d.SendTaskResult(context.Background(), result)

	require.True(t, resp.Success)
	assert.JSONEq(t, `{"received":true}`, string(resp.Data))
	assert.Empty(t, *sleeps)

	assert.Equal(t, "Bearer secret-token", auth)
	assert.Equal(t, "abc", custom)
	assert.Equal(t, "task-1", received["task_id"])
	assert.Equal(t, "chrome_extension", received["source"])
	assert.NotEmpty(t, received["timestamp"])
	results, ok := received["results"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "yes", results["connection_made"])
	assert.Equal(t, "no", results["liked_post"])
}

func TestSendRetriesWithConstantDelay(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, sleeps := newTestDispatcher(t, enabledConfig(srv.URL))
	resp := d.SendTaskResult(context.Background(), tracker.TaskResult{TaskID: "task-1"})

	assert.True(t, resp.Success)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	require.Len(t, *sleeps, 2)
	assert.Equal(t, time.Second, (*sleeps)[0])
	assert.Equal(t, time.Second, (*sleeps)[1])
}

func TestSendExhaustsRetryBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d, sleeps := newTestDispatcher(t, enabledConfig(srv.URL))
	resp := d.SendTaskResult(context.Background(), tracker.TaskResult{TaskID: "task-1"})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "HTTP 502")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	// No sleep after the final attempt.
	assert.Len(t, *sleeps, 2)
}

func TestSendTaskPayload(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(t, enabledConfig(srv.URL))
	resp := d.SendTask(context.Background(), TaskPayload{
		ID:        "task-1",
		Task:      "Visit the profile",
		ContextID: "ctx",
		Timestamp: time.Now().UnixMilli(),
	})

	require.True(t, resp.Success)
	assert.Equal(t, "task-1", received["id"])
	assert.Equal(t, "Visit the profile", received["task"])
	assert.Equal(t, "ctx", received["context_id"])
}

func TestTestSendsConnectivityPayload(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(t, enabledConfig(srv.URL))
	resp := d.Test(context.Background())

	require.True(t, resp.Success)
	assert.Equal(t, "test", received["type"])
}

func TestTestNotConfigured(t *testing.T) {
	d, _ := newTestDispatcher(t, enabledConfig(""))
	resp := d.Test(context.Background())
	assert.False(t, resp.Success)
	assert.Equal(t, ErrNotConfigured, resp.Error)
}

func TestSendNonJSONResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(t, enabledConfig(srv.URL))
	resp := d.SendTaskResult(context.Background(), tracker.TaskResult{TaskID: "task-1"})
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Data)
}
