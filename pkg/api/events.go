package api

import "time"

// Event is the tagged union carried by the event broadcaster. Type tags are
// namespaced: workflow:*, node:*, error:*, system:*. The broadcaster routes
// events to category listeners by prefix-matching the tag, and the remote
// channel wraps each event in a {type: "ws:<tag>", payload, timestamp}
// envelope.
type Event interface {
	// EventType returns the namespaced type tag.
	EventType() string

	// At returns the event's creation time.
	At() time.Time
}

// Event type tags.
const (
	TypeWorkflowStarted    = "workflow:started"
	TypeWorkflowCompleted  = "workflow:completed"
	TypeWorkflowFailed     = "workflow:failed"
	TypeWorkflowCancelled  = "workflow:cancelled"
	TypeWorkflowProgress   = "workflow:progress"
	TypeNodeStarted        = "node:started"
	TypeNodeCompleted      = "node:completed"
	TypeErrorNotification  = "error:notification"
	TypeSystemNotification = "system:notification"
)

// Error severities used by ErrorNotification.
const (
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

type eventBase struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e eventBase) At() time.Time { return e.Timestamp }

func newBase() eventBase { return eventBase{Timestamp: time.Now()} }

// WorkflowStarted marks the beginning of a run.
type WorkflowStarted struct {
	eventBase
	RunID        string `json:"runId"`
	WorkflowID   string `json:"workflowId"`
	WorkflowName string `json:"workflowName"`
	TotalNodes   int    `json:"totalNodes"`
}

func (WorkflowStarted) EventType() string { return TypeWorkflowStarted }

// NewWorkflowStarted stamps the event with the current time.
func NewWorkflowStarted(runID, workflowID, name string, totalNodes int) WorkflowStarted {
	return WorkflowStarted{eventBase: newBase(), RunID: runID, WorkflowID: workflowID, WorkflowName: name, TotalNodes: totalNodes}
}

// WorkflowCompleted marks a successful run end.
type WorkflowCompleted struct {
	eventBase
	RunID      string `json:"runId"`
	WorkflowID string `json:"workflowId"`
	Steps      int    `json:"steps"`
}

func (WorkflowCompleted) EventType() string { return TypeWorkflowCompleted }

func NewWorkflowCompleted(runID, workflowID string, steps int) WorkflowCompleted {
	return WorkflowCompleted{eventBase: newBase(), RunID: runID, WorkflowID: workflowID, Steps: steps}
}

// WorkflowFailed is the terminal lifecycle event of a failed run. It is
// always emitted before Run returns so telemetry layers never need to poll.
type WorkflowFailed struct {
	eventBase
	RunID      string `json:"runId"`
	WorkflowID string `json:"workflowId"`
	Message    string `json:"message"`
}

func (WorkflowFailed) EventType() string { return TypeWorkflowFailed }

func NewWorkflowFailed(runID, workflowID, message string) WorkflowFailed {
	return WorkflowFailed{eventBase: newBase(), RunID: runID, WorkflowID: workflowID, Message: message}
}

// WorkflowCancelled is emitted when a caller's cancellation signal stops a
// run between node invocations.
type WorkflowCancelled struct {
	eventBase
	RunID      string `json:"runId"`
	WorkflowID string `json:"workflowId"`
}

func (WorkflowCancelled) EventType() string { return TypeWorkflowCancelled }

func NewWorkflowCancelled(runID, workflowID string) WorkflowCancelled {
	return WorkflowCancelled{eventBase: newBase(), RunID: runID, WorkflowID: workflowID}
}

// WorkflowProgress reports completion as a pre-computed percentage.
// Percent is round(completed/total*100), capped at 100: loop iterations and
// jump re-entries can push completed past the static node count. Callers
// must not assume it is monotonic across retries of the same node.
type WorkflowProgress struct {
	eventBase
	RunID          string `json:"runId"`
	CompletedNodes int    `json:"completedNodes"`
	TotalNodes     int    `json:"totalNodes"`
	Percent        int    `json:"percent"`
}

func (WorkflowProgress) EventType() string { return TypeWorkflowProgress }

func NewWorkflowProgress(runID string, completed, total int) WorkflowProgress {
	percent := 0
	if total > 0 {
		percent = int(float64(completed)/float64(total)*100 + 0.5)
		if percent > 100 {
			percent = 100
		}
	}
	return WorkflowProgress{eventBase: newBase(), RunID: runID, CompletedNodes: completed, TotalNodes: total, Percent: percent}
}

// NodeStarted marks the start of one node invocation.
type NodeStarted struct {
	eventBase
	RunID  string `json:"runId"`
	NodeID string `json:"nodeId"`
	Type   string `json:"nodeType"`
}

func (NodeStarted) EventType() string { return TypeNodeStarted }

func NewNodeStarted(runID, nodeID, nodeType string) NodeStarted {
	return NodeStarted{eventBase: newBase(), RunID: runID, NodeID: nodeID, Type: nodeType}
}

// NodeCompleted marks the end of one node invocation with its outcome.
type NodeCompleted struct {
	eventBase
	RunID    string        `json:"runId"`
	NodeID   string        `json:"nodeId"`
	Type     string        `json:"nodeType"`
	Outcome  string        `json:"outcome"`
	Duration time.Duration `json:"durationNs"`
}

func (NodeCompleted) EventType() string { return TypeNodeCompleted }

func NewNodeCompleted(runID, nodeID, nodeType, outcome string, d time.Duration) NodeCompleted {
	return NodeCompleted{eventBase: newBase(), RunID: runID, NodeID: nodeID, Type: nodeType, Outcome: outcome, Duration: d}
}

// ErrorNotification reports a node or run level failure.
type ErrorNotification struct {
	eventBase
	RunID    string `json:"runId"`
	NodeID   string `json:"nodeId,omitempty"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

func (ErrorNotification) EventType() string { return TypeErrorNotification }

func NewErrorNotification(runID, nodeID, severity, message string) ErrorNotification {
	return ErrorNotification{eventBase: newBase(), RunID: runID, NodeID: nodeID, Severity: severity, Message: message}
}

// SystemNotification carries advisory engine messages, such as the implicit
// iteration cap applied to a loop node missing its bound.
type SystemNotification struct {
	eventBase
	RunID   string `json:"runId,omitempty"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (SystemNotification) EventType() string { return TypeSystemNotification }

func NewSystemNotification(runID, level, message string) SystemNotification {
	return SystemNotification{eventBase: newBase(), RunID: runID, Level: level, Message: message}
}

// Emitter accepts outbound events. The engine depends only on this; the
// broadcast package provides the buffering implementation.
type Emitter interface {
	Emit(ev Event)
}

// NoopEmitter discards every event. It is the default when no broadcaster
// is configured.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}
