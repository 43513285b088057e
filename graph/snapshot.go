package graph

import "context"

// PendingTask is a unit of work waiting for an external decision.
type PendingTask struct {
	NodeID string   `json:"nodeId"`
	Name   string   `json:"name,omitempty"`
	Role   string   `json:"role,omitempty"`
	Type   NodeType `json:"type,omitempty"`
}

// SequenceCursor tracks a sequential split.
//
// Next is the position (in Order-sorted transitions) of the next
// transition to consider. Awaiting is the target node whose completion
// advances the cursor; empty once the sequence is exhausted.
type SequenceCursor struct {
	Next     int    `json:"next"`
	Awaiting string `json:"awaiting,omitempty"`
}

// Snapshot is the complete execution state of one instance.
//
// The persistence hook receives a Snapshot after every state-changing
// operation, and RestoreState accepts exactly what the hook received.
type Snapshot struct {
	InstanceID string                    `json:"instanceId"`
	Step       int                       `json:"step"`
	LastNode   string                    `json:"lastNode,omitempty"`
	Completed  []string                  `json:"completed"`
	Pending    []PendingTask             `json:"pending"`
	Context    map[string]any            `json:"context"`
	Finished   bool                      `json:"finished"`
	Branches   []string                  `json:"branches,omitempty"`
	Sequences  map[string]SequenceCursor `json:"sequences,omitempty"`
}

// PersistHook stores a snapshot durably. It is called synchronously after
// Start and every CompleteTask; a returned error fails that call.
type PersistHook func(ctx context.Context, snap Snapshot) error

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Completed = append([]string(nil), s.Completed...)
	out.Pending = append([]PendingTask(nil), s.Pending...)
	out.Context = cloneMap(s.Context)
	out.Branches = append([]string(nil), s.Branches...)
	if s.Sequences != nil {
		out.Sequences = make(map[string]SequenceCursor, len(s.Sequences))
		for k, v := range s.Sequences {
			out.Sequences[k] = v
		}
	}
	return out
}

// IsCompleted reports whether nodeID is in the completed set.
func (s Snapshot) IsCompleted(nodeID string) bool {
	for _, id := range s.Completed {
		if id == nodeID {
			return true
		}
	}
	return false
}

// cloneMap deep-copies the maps and slices reachable from m so that
// callers never share mutable context with the runner.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	default:
		return v
	}
}
