package types

import "time"

// EventType enumerates the broadcast message taxonomy.
type EventType string

const (
	// EventStatusUpdate is the coarse signal that some prompt changed
	// state; consumers refetch full state if they need detail.
	EventStatusUpdate EventType = "status_update"

	// EventExecutionStarted marks the start of an executor invocation.
	EventExecutionStarted EventType = "execution_started"

	// EventExecutionCompleted marks the end of an executor invocation.
	EventExecutionCompleted EventType = "execution_completed"

	// EventIdleTick is the heartbeat emitted when the queue is empty.
	EventIdleTick EventType = "idle_tick"
)

// Event is the small structured payload pushed to subscribers on state
// transitions. It carries no queue detail on purpose: observers fetch
// full state through the control plane on receipt.
type Event struct {
	Type      EventType    `json:"type"`
	PromptID  string       `json:"prompt_id,omitempty"`
	Status    PromptStatus `json:"status,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, promptID string, status PromptStatus) Event {
	return Event{Type: t, PromptID: promptID, Status: status, Timestamp: time.Now().UTC()}
}
