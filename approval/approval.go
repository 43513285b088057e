// Package approval runs business approval processes on top of the graph
// engine.
//
// A Service starts instances of catalogued templates, applies APPROVE and
// REJECT decisions from the people assigned to pending tasks, and keeps a
// revision of every instance after each change in a store.Store. The
// store history doubles as the audit trail of the instance.
package approval

import (
	"errors"
	"time"

	"github.com/dshills/approvalflow/graph"
)

var (
	// ErrInstanceNotFound is returned for an unknown instance ID.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceClosed is returned when deciding on an instance that is
	// no longer running.
	ErrInstanceClosed = errors.New("instance is closed")

	// ErrTaskNotPending is returned when a decision names a node that has
	// no pending task.
	ErrTaskNotPending = errors.New("task is not pending")

	// ErrInvalidRequest is returned for requests with missing or unknown
	// fields.
	ErrInvalidRequest = errors.New("invalid request")
)

// Status is the lifecycle state of an instance.
type Status string

const (
	StatusRunning  Status = "RUNNING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Decision is what an assignee does with a pending task.
type Decision string

const (
	// Approve completes the task and advances the process.
	Approve Decision = "APPROVE"

	// Reject terminates the whole instance. Other pending tasks are
	// recorded as skipped and the graph does not advance.
	Reject Decision = "REJECT"
)

// Valid reports whether d is Approve or Reject.
func (d Decision) Valid() bool {
	return d == Approve || d == Reject
}

// actionStart marks the audit entry written when an instance is created.
const actionStart = "START"

// Instance is the persisted view of one process instance.
type Instance struct {
	ID          string         `json:"id"`
	TemplateID  string         `json:"templateId"`
	BusinessKey string         `json:"businessKey,omitempty"`
	StartedBy   string         `json:"startedBy,omitempty"`
	Status      Status         `json:"status"`
	Revision    int            `json:"revision"`
	Snapshot    graph.Snapshot `json:"snapshot"`
	Skipped     []string       `json:"skipped,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Pending returns the open tasks of a running instance. Closed instances
// have none.
func (i *Instance) Pending() []graph.PendingTask {
	if i.Status != StatusRunning {
		return []graph.PendingTask{}
	}
	return append([]graph.PendingTask{}, i.Snapshot.Pending...)
}

// Action is one entry of an instance's audit trail.
type Action struct {
	Revision int       `json:"revision"`
	Action   string    `json:"action"`
	NodeID   string    `json:"nodeId,omitempty"`
	ActedBy  string    `json:"actedBy,omitempty"`
	Comment  string    `json:"comment,omitempty"`
	Status   Status    `json:"status"`
	At       time.Time `json:"at"`
}

// Record is the unit stored for every revision of an instance: the
// instance as it stood after the action, and the action itself.
type Record struct {
	Instance Instance `json:"instance"`
	Action   Action   `json:"action"`
}

// StartRequest creates a new instance.
type StartRequest struct {
	TemplateID  string
	BusinessKey string
	StartedBy   string

	// Context is overlaid on the template's base context.
	Context map[string]any
}

// DecisionRequest records an assignee's decision on a pending task.
type DecisionRequest struct {
	InstanceID string
	NodeID     string
	ActedBy    string
	Decision   Decision
	Comment    string

	// ContextUpdate is merged into the instance context on approval.
	ContextUpdate map[string]any
}
