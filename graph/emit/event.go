package emit

// Level values carried in Event.Meta["level"].
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Event is a single observability record produced while an instance
// advances.
//
// The runner emits events for lifecycle changes (instance_started,
// instance_finished), task bookkeeping (task_created, task_completed) and
// soft failures (missing_node, guard_error, not_pending, instance_stalled).
// Soft failures carry Meta["level"] = LevelWarn.
type Event struct {
	// InstanceID identifies the process instance that emitted this event.
	InstanceID string

	// Step is the runner's operation counter at the time of the event.
	// Zero for events emitted before Start completes its first visit.
	Step int

	// NodeID identifies the node the event is about. Empty for
	// instance-level events.
	NodeID string

	// Msg is the event kind, e.g. "task_created".
	Msg string

	// Meta holds event-specific fields. Common keys:
	//   - "level": LevelInfo, LevelWarn or LevelError
	//   - "type": node type
	//   - "role": assignee role of a task
	//   - "branch": branch tag of a taken transition
	//   - "to": target of a transition
	//   - "expression": guard source text
	//   - "error": error details
	Meta map[string]interface{}
}

// Level returns the event's level, defaulting to LevelInfo.
func (e Event) Level() string {
	if lvl, ok := e.Meta["level"].(string); ok && lvl != "" {
		return lvl
	}
	return LevelInfo
}
