package agentclient

import "encoding/json"

// MessageType tags every frame on the coordinator socket.
type MessageType string

const (
	// Agent → coordinator.
	TypeAgentRegister MessageType = "agent_register"
	TypeAgentStatus   MessageType = "agent_status"
	TypeTaskAck       MessageType = "task_ack"
	TypeTaskResult    MessageType = "task_result"

	// Coordinator → agent.
	TypeTask            MessageType = "task"
	TypeAgentRegistered MessageType = "agent_registered"
	TypePing            MessageType = "ping"
)

// Agent status values carried in outbound frames.
const (
	StatusReady = "ready"
	StatusBusy  = "busy"
	StatusError = "error"
)

// AgentMessage is the outbound frame format.
type AgentMessage struct {
	Type      MessageType `json:"type"`
	AgentID   string      `json:"agent_id,omitempty"`
	UserID    string      `json:"user_id"`
	TaskID    string      `json:"task_id,omitempty"`
	Status    string      `json:"status,omitempty"`
	Result    any         `json:"result,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// TaskMetadata is the optional hint block on a task assignment.
type TaskMetadata struct {
	URL             string   `json:"url,omitempty"`
	Priority        string   `json:"priority,omitempty"`
	ExpectedActions []string `json:"expected_actions,omitempty"`
}

// TaskMessage is a task assignment from the coordinator.
type TaskMessage struct {
	Type        MessageType   `json:"type"`
	TaskID      string        `json:"task_id"`
	Instruction string        `json:"instruction"`
	Timestamp   string        `json:"timestamp"`
	Metadata    *TaskMetadata `json:"metadata,omitempty"`
}

// envelope is the minimal frame parsed at the boundary before dispatch.
// Malformed frames are logged and dropped, never passed through untyped.
type envelope struct {
	Type    MessageType `json:"type"`
	AgentID string      `json:"agent_id,omitempty"`
}

// Handler consumes the raw frame for one message type. At most one handler
// is registered per type; registering again replaces the previous one.
type Handler func(raw json.RawMessage)

// TaskHandler receives validated task assignments.
type TaskHandler func(task TaskMessage)
