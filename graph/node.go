package graph

// NodeType is the closed set of node kinds a workflow template may use.
//
// The runner dispatches on NodeType with an exhaustive switch; templates
// containing any other value are rejected by Model.Validate.
type NodeType string

const (
	// NodeStart is the unique entry point of a template. It completes as
	// soon as the instance starts.
	NodeStart NodeType = "start"

	// NodeTask is a unit of work performed by an assignee. It stays pending
	// until the caller completes it.
	NodeTask NodeType = "task"

	// NodeApproval is a human decision point. It behaves like NodeTask; the
	// distinction is carried through to pending tasks for the caller.
	NodeApproval NodeType = "approval"

	// NodeCondition branches automatically according to transition guards.
	NodeCondition NodeType = "condition"

	// NodeParallel fans out into concurrent branches.
	NodeParallel NodeType = "parallel"

	// NodeEnd terminates a branch (or the whole process).
	NodeEnd NodeType = "end"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeStart, NodeTask, NodeApproval, NodeCondition, NodeParallel, NodeEnd:
		return true
	}
	return false
}

// Actionable reports whether nodes of this type wait for an external
// decision (and therefore produce pending tasks).
func (t NodeType) Actionable() bool {
	return t == NodeTask || t == NodeApproval
}

// SplitMode governs how a node's outgoing transitions are interpreted.
type SplitMode string

const (
	// SplitExclusive takes every transition whose guard passes. Guards on
	// an exclusive split are expected to be mutually exclusive.
	SplitExclusive SplitMode = "exclusive"

	// SplitParallel takes every transition whose guard passes.
	SplitParallel SplitMode = "parallel"

	// SplitSequential takes one transition at a time in Order, waiting for
	// the target of the active transition to complete before taking the
	// next passing one.
	SplitSequential SplitMode = "sequential"
)

// Valid reports whether m is empty (default) or a known split mode.
func (m SplitMode) Valid() bool {
	switch m {
	case "", SplitExclusive, SplitParallel, SplitSequential:
		return true
	}
	return false
}

// JoinMode governs how many predecessors must complete before a node
// activates.
type JoinMode string

const (
	// JoinAll waits for every predecessor (AND join). This is the default.
	JoinAll JoinMode = "all"

	// JoinAny activates on the first arriving predecessor (OR join).
	JoinAny JoinMode = "any"
)

// Valid reports whether m is empty (default) or a known join mode.
func (m JoinMode) Valid() bool {
	switch m {
	case "", JoinAll, JoinAny:
		return true
	}
	return false
}

// Node is a single step of a workflow template.
//
// Only the attributes relevant to Type are meaningful:
//   - Role: task and approval nodes
//   - Conditions: condition nodes
//   - Branch: end nodes
type Node struct {
	// ID uniquely identifies the node within its template.
	ID string `json:"id" yaml:"id"`

	// Type selects the node's behavior.
	Type NodeType `json:"type" yaml:"type"`

	// Name is the display label copied onto pending tasks.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Role identifies the assignee role of a task or approval. It is opaque
	// to the engine.
	Role string `json:"role,omitempty" yaml:"role,omitempty"`

	// Conditions documents the branches of a condition node. Transitions
	// are authoritative; see Model.Normalize.
	Conditions []ConditionBranch `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	// SplitMode governs outgoing transitions. Empty means SplitParallel
	// for parallel nodes and SplitExclusive otherwise; both take every
	// passing transition.
	SplitMode SplitMode `json:"splitMode,omitempty" yaml:"splitMode,omitempty"`

	// JoinMode governs incoming transitions. Empty means JoinAll.
	JoinMode JoinMode `json:"joinMode,omitempty" yaml:"joinMode,omitempty"`

	// Branch tags an end node as the terminator of a parallel branch.
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty"`
}

// ConditionBranch is one documented outcome of a condition node.
type ConditionBranch struct {
	Label      string `json:"label,omitempty" yaml:"label,omitempty"`
	Target     string `json:"target" yaml:"target"`
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// Join returns the effective join mode.
func (n Node) Join() JoinMode {
	if n.JoinMode == "" {
		return JoinAll
	}
	return n.JoinMode
}

// Split returns the effective split mode.
func (n Node) Split() SplitMode {
	if n.SplitMode != "" {
		return n.SplitMode
	}
	if n.Type == NodeParallel {
		return SplitParallel
	}
	return SplitExclusive
}
