package graph

import (
	"fmt"

	"github.com/dshills/approvalflow/graph/expr"
)

// Index answers structural queries about a Model.
//
// NewIndex never fails: dangling references and uncompilable guards are
// tolerated and surface as soft failures at run time. An Index is
// immutable and safe for concurrent use by any number of runners.
type Index struct {
	model    *Model
	nodes    map[string]Node
	outgoing map[string][]Transition
	incoming map[string][]string
	guards   map[string]guard
}

type guard struct {
	prog *expr.Program
	err  error
}

// NewIndex builds an index over a private copy of m.
func NewIndex(m *Model) *Index {
	m = m.Clone()
	ix := &Index{
		model:    m,
		nodes:    make(map[string]Node, len(m.Nodes)),
		outgoing: make(map[string][]Transition),
		incoming: make(map[string][]string),
		guards:   make(map[string]guard),
	}
	for _, n := range m.Nodes {
		// First declaration wins; Validate rejects duplicates.
		if _, dup := ix.nodes[n.ID]; !dup {
			ix.nodes[n.ID] = n
		}
	}

	seenIn := make(map[[2]string]bool)
	for _, t := range m.Transitions {
		ix.outgoing[t.From] = append(ix.outgoing[t.From], t)

		if _, ok := ix.nodes[t.From]; ok && !seenIn[[2]string{t.To, t.From}] {
			seenIn[[2]string{t.To, t.From}] = true
			ix.incoming[t.To] = append(ix.incoming[t.To], t.From)
		}

		if t.Guarded() {
			if _, done := ix.guards[t.ConditionExpression]; !done {
				prog, err := expr.Compile(t.ConditionExpression)
				ix.guards[t.ConditionExpression] = guard{prog: prog, err: err}
			}
		}
	}
	return ix
}

// Model returns a copy of the indexed template.
func (ix *Index) Model() *Model {
	return ix.model.Clone()
}

// TemplateID returns the indexed template's ID.
func (ix *Index) TemplateID() string {
	return ix.model.ID
}

// BaseContext returns a copy of the template's base context (never nil).
func (ix *Index) BaseContext() map[string]any {
	if out := cloneMap(ix.model.BaseContext); out != nil {
		return out
	}
	return map[string]any{}
}

// Node returns the node with the given id.
func (ix *Index) Node(id string) (Node, bool) {
	n, ok := ix.nodes[id]
	return n, ok
}

// StartNode returns the unique start node. Zero or several start nodes
// yield an error wrapping ErrGraphMalformed.
func (ix *Index) StartNode() (Node, error) {
	var found []Node
	for _, n := range ix.model.Nodes {
		if n.Type == NodeStart {
			found = append(found, n)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return Node{}, fmt.Errorf("%w: no start node", ErrGraphMalformed)
	default:
		return Node{}, fmt.Errorf("%w: %d start nodes", ErrGraphMalformed, len(found))
	}
}

// Outgoing returns the transitions leaving id in declaration order.
func (ix *Index) Outgoing(id string) []Transition {
	return append([]Transition(nil), ix.outgoing[id]...)
}

// Successors returns the resolved targets of Outgoing(id). Unknown targets
// are omitted.
func (ix *Index) Successors(id string) []Node {
	var out []Node
	for _, t := range ix.outgoing[id] {
		if n, ok := ix.nodes[t.To]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Incoming returns the nodes with a transition into id, deduplicated, in
// declaration order. Unknown sources are omitted.
func (ix *Index) Incoming(id string) []Node {
	ids := ix.incoming[id]
	out := make([]Node, 0, len(ids))
	for _, from := range ids {
		out = append(out, ix.nodes[from])
	}
	return out
}

// EndNodes returns the end nodes tagged with branch, in declaration order.
func (ix *Index) EndNodes(branch string) []Node {
	var out []Node
	for _, n := range ix.model.Nodes {
		if n.Type == NodeEnd && n.Branch == branch {
			out = append(out, n)
		}
	}
	return out
}

// EvaluateGuard reports whether expression holds against vars. Empty
// expressions, syntax errors and references to missing keys all yield
// false.
func (ix *Index) EvaluateGuard(expression string, vars map[string]any) bool {
	ok, _ := ix.CheckGuard(expression, vars)
	return ok
}

// CheckGuard is EvaluateGuard that also returns the reason a guard did not
// produce a clean result. The decision is false whenever err is non-nil.
func (ix *Index) CheckGuard(expression string, vars map[string]any) (bool, error) {
	g, ok := ix.guards[expression]
	if !ok {
		prog, err := expr.Compile(expression)
		g = guard{prog: prog, err: err}
	}
	if g.err != nil {
		return false, g.err
	}
	return g.prog.Eval(vars)
}
