package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/graph8-com/g8browser/internal/config"
	"github.com/graph8-com/g8browser/internal/observability"
	"github.com/graph8-com/g8browser/internal/tracker"
	"github.com/graph8-com/g8browser/internal/utils"
)

// ErrNotConfigured is the failure message reported when the webhook is
// disabled or has no URL. Configuration absence is not a transient error and
// never consumes the retry budget.
const ErrNotConfigured = "Webhook not configured"

// Source tags every outbound result envelope.
const Source = "chrome_extension"

// Response is the typed outcome of one delivery. Failures are values, never
// panics or escaped transport errors.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// TaskPayload is the envelope posted when a new task is created.
type TaskPayload struct {
	ID        string         `json:"id"`
	Task      string         `json:"task"`
	ContextID string         `json:"context_id"`
	Timestamp int64          `json:"timestamp"`
	URL       string         `json:"url,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// resultEnvelope wraps a finalized task result for delivery.
type resultEnvelope struct {
	tracker.TaskResult
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

type updateEnvelope struct {
	Type      string `json:"type"`
	TaskID    string `json:"task_id"`
	Timestamp int64  `json:"timestamp"`
	Update    any    `json:"update"`
}

// Dispatcher delivers JSON payloads to the configured endpoint with bounded
// retries and a constant inter-attempt delay.
type Dispatcher struct {
	cfg     *config.Manager
	client  *http.Client
	logger  *utils.Logger
	metrics *observability.Metrics

	// sleep is swapped out in tests to observe retry pacing.
	sleep func(time.Duration)
}

// NewDispatcher wires a dispatcher against the live configuration.
func NewDispatcher(cfg *config.Manager, metrics *observability.Metrics) *Dispatcher {
	if metrics == nil {
		metrics = observability.Nop()
	}
	return &Dispatcher{
		cfg:     cfg,
		client:  &http.Client{},
		logger:  utils.NewComponentLogger("WebhookDispatcher"),
		metrics: metrics,
		sleep:   time.Sleep,
	}
}

// SendTaskResult delivers a finalized outcome record with the fixed
// timestamp/source envelope.
func (d *Dispatcher) SendTaskResult(ctx context.Context, result tracker.TaskResult) Response {
	whcfg := d.cfg.Webhook()
	if !whcfg.Enabled || strings.TrimSpace(whcfg.URL) == "" {
		return Response{Success: false, Error: ErrNotConfigured}
	}
	payload := resultEnvelope{
		TaskResult: result,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Source:     Source,
	}
	return d.Send(ctx, whcfg.URL, payload, whcfg)
}

// SendTask posts the task-creation envelope for a newly stored task.
func (d *Dispatcher) SendTask(ctx context.Context, payload TaskPayload) Response {
	whcfg := d.cfg.Webhook()
	if !whcfg.Enabled || strings.TrimSpace(whcfg.URL) == "" {
		return Response{Success: false, Error: ErrNotConfigured}
	}
	return d.Send(ctx, whcfg.URL, payload, whcfg)
}

// SendTaskUpdate posts a status-change envelope for an existing task.
func (d *Dispatcher) SendTaskUpdate(ctx context.Context, taskID string, update any) Response {
	whcfg := d.cfg.Webhook()
	if !whcfg.Enabled || strings.TrimSpace(whcfg.URL) == "" {
		return Response{Success: false, Error: ErrNotConfigured}
	}
	payload := updateEnvelope{
		Type:      "task_update",
		TaskID:    taskID,
		Timestamp: time.Now().UnixMilli(),
		Update:    update,
	}
	return d.Send(ctx, whcfg.URL, payload, whcfg)
}

// Test sends a connectivity-check payload to the configured endpoint.
func (d *Dispatcher) Test(ctx context.Context) Response {
	whcfg := d.cfg.Webhook()
	if !whcfg.Enabled || strings.TrimSpace(whcfg.URL) == "" {
		return Response{Success: false, Error: ErrNotConfigured}
	}
	payload := map[string]any{
		"type":      "test",
		"timestamp": time.Now().UnixMilli(),
		"message":   "Test webhook connection from g8agent",
	}
	return d.Send(ctx, whcfg.URL, payload, whcfg)
}

// Send posts payload to url with the retry policy from whcfg. Invalid
// configurations block delivery before any network I/O.
func (d *Dispatcher) Send(ctx context.Context, url string, payload any, whcfg config.WebhookConfig) Response {
	if errs := whcfg.Validate(); errs != nil {
		d.logger.Warn("Webhook delivery blocked: %v", errs)
		return Response{Success: false, Error: errs.Error()}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{Success: false, Error: fmt.Sprintf("marshal payload: %v", err)}
	}

	headers := map[string]string{"Content-Type": "application/json"}
	for k, v := range whcfg.Headers {
		headers[k] = v
	}
	if whcfg.AuthToken != "" {
		headers["Authorization"] = "Bearer " + whcfg.AuthToken
	}

	retryDelay := time.Duration(whcfg.RetryDelayMS) * time.Millisecond
	timeout := time.Duration(whcfg.TimeoutMS) * time.Millisecond

	var lastErr string
	for attempt := 1; attempt <= whcfg.RetryAttempts; attempt++ {
		d.metrics.WebhookAttempts.Inc()
		data, err := d.attempt(ctx, url, body, headers, timeout)
		if err == nil {
			d.logger.Info("Webhook delivered to %s (attempt %d)", url, attempt)
			d.metrics.WebhookDeliveries.WithLabelValues("success").Inc()
			return Response{Success: true, Data: data}
		}

		lastErr = err.Error()
		d.logger.Warn("Webhook attempt %d/%d failed: %v", attempt, whcfg.RetryAttempts, err)

		if attempt < whcfg.RetryAttempts {
			d.sleep(retryDelay)
		}
	}

	d.metrics.WebhookDeliveries.WithLabelValues("failure").Inc()
	return Response{Success: false, Error: lastErr}
}

func (d *Dispatcher) attempt(ctx context.Context, url string, body []byte, headers map[string]string, timeout time.Duration) (json.RawMessage, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(data) == 0 || !json.Valid(data) {
		return nil, nil
	}
	return json.RawMessage(data), nil
}
