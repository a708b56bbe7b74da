package taskstore

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a stored task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are permitted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Metadata carries correlation and reuse bookkeeping for a task.
type Metadata struct {
	CoordinatorTaskID string `json:"coordinator_task_id,omitempty"`
	IsReused          bool   `json:"is_reused"`
	ExecutionCount    int    `json:"execution_count"`
	OriginalTaskID    string `json:"original_task_id,omitempty"`
	ContentHash       string `json:"content_hash,omitempty"`
}

// TaskRecord is one persisted task. CompletedAt is set exactly when the
// status is terminal.
type TaskRecord struct {
	ID          string          `json:"id"`
	Task        string          `json:"task"`
	ContextID   string          `json:"context_id"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	URL         string          `json:"url,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Metadata    Metadata        `json:"metadata"`
}

// SortField selects the timestamp used for ordering search results.
type SortField string

const (
	SortByCreatedAt   SortField = "createdAt"
	SortByUpdatedAt   SortField = "updatedAt"
	SortByCompletedAt SortField = "completedAt"
)

// SearchOptions filters, orders, and paginates task queries.
type SearchOptions struct {
	Status    Status
	ContextID string
	SortBy    SortField
	Ascending bool
	Offset    int
	Limit     int
}

// Stats counts tasks per status.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}
