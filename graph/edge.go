package graph

import "strings"

// Transition connects two nodes of a workflow template.
//
// Transitions can be:
//   - Unconditional: always taken (ConditionExpression empty).
//   - Guarded: taken only when ConditionExpression evaluates true against
//     the instance context.
//
// A template may hold several transitions between the same pair of nodes
// only when they carry different Branch tags.
type Transition struct {
	// From is the source node ID.
	From string `json:"from" yaml:"from"`

	// To is the destination node ID. An ID that does not resolve is skipped
	// at runtime with a warning.
	To string `json:"to" yaml:"to"`

	// ConditionExpression is an optional guard (see package expr).
	ConditionExpression string `json:"conditionExpression,omitempty" yaml:"conditionExpression,omitempty"`

	// Branch tags the path for fan-out/fan-in bookkeeping. Taking the
	// transition activates the branch; the instance is not finished until
	// every end node carrying an active branch tag has completed.
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty"`

	// Order positions the transition within a sequential split.
	Order int `json:"order,omitempty" yaml:"order,omitempty"`
}

// Guarded reports whether the transition carries a guard expression.
func (t Transition) Guarded() bool {
	return strings.TrimSpace(t.ConditionExpression) != ""
}
