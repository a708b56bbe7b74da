package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/graph8-com/g8browser/internal/agentclient"
	"github.com/graph8-com/g8browser/internal/config"
	"github.com/graph8-com/g8browser/internal/observability"
	"github.com/graph8-com/g8browser/internal/taskstore"
	"github.com/graph8-com/g8browser/internal/tracker"
	"github.com/graph8-com/g8browser/internal/utils"
	id "github.com/graph8-com/g8browser/internal/utils/id"
	"github.com/graph8-com/g8browser/internal/webhook"
)

// Task is what the external automation engine executes.
type Task struct {
	ID                string
	Instruction       string
	ContextID         string
	URL               string
	CoordinatorTaskID string
	ExpectedActions   []string
}

// Engine is the external browser-automation engine. Planning and page
// execution live entirely behind this boundary.
type Engine interface {
	Execute(ctx context.Context, task Task) (any, error)
	Cancel()
}

// AgentLink is the slice of the protocol client the facade needs to report
// results back over the socket.
type AgentLink interface {
	SendTaskResult(taskID string, result any, success bool) bool
}

// Origin labels where a task entered the facade.
type Origin string

const (
	OriginSocket Origin = "socket"
	OriginLocal  Origin = "local"
)

// Request is one inbound task assignment, from either the protocol client or
// the local API.
type Request struct {
	Instruction       string
	ContextID         string
	URL               string
	CoordinatorTaskID string
	ExpectedActions   []string
	Origin            Origin
}

// Facade owns task lifecycle transitions: it consults the store for reuse,
// creates or reuses an outcome tracker, triggers execution, and on completion
// routes the result through the webhook dispatcher and the protocol client.
type Facade struct {
	store    *taskstore.Store
	cfg      *config.Manager
	webhooks *webhook.Dispatcher
	link     AgentLink
	engine   Engine

	trackerMu sync.Mutex
	trackers  map[string]*tracker.Tracker

	logger  *utils.Logger
	metrics *observability.Metrics
}

// New wires the facade. engine may be nil when execution is driven entirely
// through the local API's completion endpoint.
func New(store *taskstore.Store, cfg *config.Manager, webhooks *webhook.Dispatcher, link AgentLink, engine Engine, metrics *observability.Metrics) *Facade {
	if metrics == nil {
		metrics = observability.Nop()
	}
	return &Facade{
		store:    store,
		cfg:      cfg,
		webhooks: webhooks,
		link:     link,
		engine:   engine,
		trackers: make(map[string]*tracker.Tracker),
		logger:   utils.NewComponentLogger("Coordinator"),
		metrics:  metrics,
	}
}

// HandleSocketTask adapts protocol-client task assignments into requests.
func (f *Facade) HandleSocketTask(msg agentclient.TaskMessage) {
	req := Request{
		Instruction:       msg.Instruction,
		ContextID:         "coordinator",
		CoordinatorTaskID: msg.TaskID,
		Origin:            OriginSocket,
	}
	if msg.Metadata != nil {
		req.URL = msg.Metadata.URL
		req.ExpectedActions = msg.Metadata.ExpectedActions
	}
	if _, err := f.HandleTask(context.Background(), req); err != nil {
		f.logger.Error("Error handling coordinator task %s: %v", msg.TaskID, err)
	}
}

// HandleTask accepts a task, applying reuse when a sufficiently similar
// completed task exists in the same context. It returns the local task id;
// all failures come back as a single structured error.
func (f *Facade) HandleTask(ctx context.Context, req Request) (string, error) {
	if req.Instruction == "" {
		return "", fmt.Errorf("task instruction is required")
	}
	origin := req.Origin
	if origin == "" {
		origin = OriginLocal
	}
	f.metrics.TasksReceived.WithLabelValues(string(origin)).Inc()

	reuseCfg := f.cfg.TaskReuse()
	var existing *taskstore.TaskRecord
	if reuseCfg.Enabled {
		existing = f.store.FindSimilar(req.Instruction, req.ContextID, reuseCfg.SimilarityThreshold)
	}

	var taskID string
	var tr *tracker.Tracker

	if existing != nil {
		taskID = existing.ID
		trackerID := req.CoordinatorTaskID
		if trackerID == "" {
			trackerID = taskID
		}
		tr = tracker.New(trackerID, req.URL)
		tr.ParseTaskInstruction(req.Instruction)

		reused := *existing
		reused.Status = taskstore.StatusRunning
		reused.CompletedAt = nil
		reused.Metadata.IsReused = true
		reused.Metadata.ExecutionCount++
		if req.CoordinatorTaskID != "" {
			reused.Metadata.CoordinatorTaskID = req.CoordinatorTaskID
		}
		if err := f.store.Store(&reused); err != nil {
			return "", fmt.Errorf("reuse task %s: %w", taskID, err)
		}
		if resp := f.webhooks.SendTaskUpdate(ctx, taskID, map[string]any{
			"status":          taskstore.StatusRunning,
			"is_reused":       true,
			"execution_count": reused.Metadata.ExecutionCount,
		}); !resp.Success && resp.Error != webhook.ErrNotConfigured {
			f.logger.Warn("Task update webhook failed: %s", resp.Error)
		}
		f.metrics.TasksReused.Inc()
		f.logger.Info("Reusing existing task %s for coordinator task %s", taskID, req.CoordinatorTaskID)
	} else {
		taskID = id.NewTaskID()
		trackerID := req.CoordinatorTaskID
		if trackerID == "" {
			trackerID = taskID
		}
		tr = tracker.New(trackerID, req.URL)
		tr.ParseTaskInstruction(req.Instruction)

		// New tasks announce themselves to the webhook before execution;
		// reused tasks skip this.
		resp := f.webhooks.SendTask(ctx, webhook.TaskPayload{
			ID:        taskID,
			Task:      req.Instruction,
			ContextID: req.ContextID,
			Timestamp: time.Now().UnixMilli(),
			URL:       req.URL,
			Metadata: map[string]any{
				"is_reused":       false,
				"execution_count": 1,
				"task_id":         req.CoordinatorTaskID,
			},
		})
		if !resp.Success && resp.Error != webhook.ErrNotConfigured {
			f.logger.Warn("Task submission webhook failed: %s", resp.Error)
		}

		record := &taskstore.TaskRecord{
			ID:        taskID,
			Task:      req.Instruction,
			ContextID: req.ContextID,
			Status:    taskstore.StatusPending,
			CreatedAt: time.Now(),
			URL:       req.URL,
			Metadata: taskstore.Metadata{
				CoordinatorTaskID: req.CoordinatorTaskID,
				IsReused:          false,
				ExecutionCount:    1,
				ContentHash:       contentHash(req.Instruction),
			},
		}
		if err := f.store.Store(record); err != nil {
			return "", fmt.Errorf("store task: %w", err)
		}
		f.logger.Info("Created new task %s for coordinator task %s", taskID, req.CoordinatorTaskID)
	}

	f.trackerMu.Lock()
	f.trackers[taskID] = tr
	f.trackerMu.Unlock()

	if f.engine != nil {
		go f.execute(ctx, taskID, req)
	}

	return taskID, nil
}

func (f *Facade) execute(ctx context.Context, taskID string, req Request) {
	if err := f.store.UpdateStatus(taskID, taskstore.StatusRunning, nil, ""); err != nil {
		f.logger.Warn("Failed to mark task %s running: %v", taskID, err)
	}

	result, err := f.engine.Execute(ctx, Task{
		ID:                taskID,
		Instruction:       req.Instruction,
		ContextID:         req.ContextID,
		URL:               req.URL,
		CoordinatorTaskID: req.CoordinatorTaskID,
		ExpectedActions:   req.ExpectedActions,
	})
	if err != nil {
		if tr := f.tracker(taskID); tr != nil {
			tr.SetError(err.Error())
		}
	}
	if _, completeErr := f.Complete(ctx, taskID, result, err == nil); completeErr != nil {
		f.logger.Error("Error completing task %s: %v", taskID, completeErr)
	}
}

// ReportAction feeds one discrete action observation into the task's tracker.
func (f *Facade) ReportAction(taskID, action, url, details string) (tracker.ActionResult, error) {
	tr := f.tracker(taskID)
	if tr == nil {
		return tracker.ActionResult{}, fmt.Errorf("task tracker %s: %w", taskID, taskstore.ErrNotFound)
	}

	switch action {
	case "connection_made":
		tr.MarkConnectionMade(details)
	case "comment_submitted":
		tr.MarkCommentSubmitted(details)
	case "post_liked":
		tr.MarkPostLiked(details)
	case "company_followed":
		tr.MarkCompanyFollowed(details)
	case "profile_followed":
		tr.MarkProfileFollowed(details)
	case "message_sent":
		tr.MarkMessageSent(details)
	case "profile_visited":
		tr.MarkProfileVisited(url, details)
	default:
		if details == "" {
			details = "Action: " + action
		}
		tr.AddDetails(details)
	}

	return tr.Results(), nil
}

// Outcome returns the live tracker snapshot for an in-flight task.
func (f *Facade) Outcome(taskID string) (tracker.ActionResult, error) {
	tr := f.tracker(taskID)
	if tr == nil {
		return tracker.ActionResult{}, fmt.Errorf("task tracker %s: %w", taskID, taskstore.ErrNotFound)
	}
	return tr.Results(), nil
}

// Complete finalizes a task: the outcome record is generated, delivered
// through the webhook dispatcher and the protocol client (in no guaranteed
// order; each failure is logged independently), and the store is updated
// last. The tracker is discarded once the result has been routed.
func (f *Facade) Complete(ctx context.Context, taskID string, execResult any, success bool) (tracker.TaskResult, error) {
	tr := f.tracker(taskID)
	if tr == nil {
		return tracker.TaskResult{}, fmt.Errorf("task tracker %s: %w", taskID, taskstore.ErrNotFound)
	}

	if execResult != nil {
		if data, err := json.Marshal(execResult); err == nil {
			tr.AddDetails("Execution completed: " + string(data))
		}
	}

	result := tr.GenerateResult(success)

	if resp := f.webhooks.SendTaskResult(ctx, result); !resp.Success {
		f.logger.Warn("Webhook delivery for task %s failed: %s", taskID, resp.Error)
	}
	if f.link != nil {
		if ok := f.link.SendTaskResult(result.TaskID, result, success); !ok {
			f.logger.Warn("Socket result delivery for task %s failed", taskID)
		}
	}

	status := taskstore.StatusCompleted
	taskErr := ""
	if !success {
		status = taskstore.StatusFailed
		taskErr = "Task execution failed"
		if result.Results.ErrorMessage != "" {
			taskErr = result.Results.ErrorMessage
		}
	}
	payload, err := json.Marshal(result)
	if err != nil {
		payload = nil
	}
	if err := f.store.UpdateStatus(taskID, status, payload, taskErr); err != nil {
		return result, fmt.Errorf("update task %s: %w", taskID, err)
	}
	f.metrics.TasksCompleted.WithLabelValues(string(status)).Inc()

	f.trackerMu.Lock()
	delete(f.trackers, taskID)
	f.trackerMu.Unlock()

	f.logger.Info("Task %s completed (success=%t)", taskID, success)
	return result, nil
}

// Cancel aborts an in-flight task, marking it cancelled without delivering
// an outcome record.
func (f *Facade) Cancel(taskID string) error {
	if f.engine != nil {
		f.engine.Cancel()
	}

	f.trackerMu.Lock()
	delete(f.trackers, taskID)
	f.trackerMu.Unlock()

	if err := f.store.UpdateStatus(taskID, taskstore.StatusCancelled, nil, ""); err != nil {
		return fmt.Errorf("cancel task %s: %w", taskID, err)
	}
	if resp := f.webhooks.SendTaskUpdate(context.Background(), taskID, map[string]any{
		"status": taskstore.StatusCancelled,
	}); !resp.Success && resp.Error != webhook.ErrNotConfigured {
		f.logger.Warn("Task update webhook failed: %s", resp.Error)
	}
	f.metrics.TasksCompleted.WithLabelValues(string(taskstore.StatusCancelled)).Inc()
	return nil
}

func (f *Facade) tracker(taskID string) *tracker.Tracker {
	f.trackerMu.Lock()
	defer f.trackerMu.Unlock()
	return f.trackers[taskID]
}

// contentHash gives a short stable fingerprint of the instruction text for
// correlating retries of the same task.
func contentHash(text string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	s := strconv.FormatUint(uint64(h.Sum32()), 36)
	if len(s) > 6 {
		s = s[:6]
	}
	return s
}
