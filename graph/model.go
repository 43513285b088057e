package graph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/approvalflow/graph/expr"
)

// Model is an immutable workflow template.
//
// Templates are authored as YAML or stored as JSON:
//
//	id: contract-approval
//	name: Contract approval
//	base_context:
//	  currency: EUR
//	nodes:
//	  - {id: start, type: start}
//	  - {id: review, type: approval, name: Manager review, role: manager}
//	  - {id: end, type: end}
//	transitions:
//	  - {from: start, to: review}
//	  - {from: review, to: end}
//
// A Model is never mutated once an Index has been built from it.
type Model struct {
	ID          string         `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes       []Node         `json:"nodes" yaml:"nodes"`
	Transitions []Transition   `json:"transitions" yaml:"transitions"`
	BaseContext map[string]any `json:"base_context,omitempty" yaml:"base_context,omitempty"`
}

// ParseModel decodes a template, normalizes it and validates it.
//
// format is "json", "yaml" or "yml"; an empty format sniffs the first
// non-blank byte ('{' means JSON).
func ParseModel(data []byte, format string) (*Model, error) {
	if format == "" {
		format = "yaml"
		if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
			format = "json"
		}
	}

	var m Model
	switch strings.ToLower(format) {
	case "json":
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode json template: %w", err)
		}
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode yaml template: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported template format %q", format)
	}

	m.Normalize()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadModelFile reads and parses the template at path. The format follows
// the file extension (.json, .yaml, .yml).
func LoadModelFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := ParseModel(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Normalize copies each condition-branch expression onto the matching
// unguarded transition of its node. Transitions that already carry a guard
// are left alone; Validate reports conflicts.
func (m *Model) Normalize() {
	for _, n := range m.Nodes {
		for _, c := range n.Conditions {
			if strings.TrimSpace(c.Expression) == "" {
				continue
			}
			for i := range m.Transitions {
				t := &m.Transitions[i]
				if t.From == n.ID && t.To == c.Target && !t.Guarded() {
					t.ConditionExpression = c.Expression
				}
			}
		}
	}
}

// Validate checks the structural rules of a template. Every error wraps
// ErrInvalidModel; all problems are reported together.
//
// Transitions pointing at unknown nodes are not errors (they are skipped at
// runtime); use Dangling to list them.
func (m *Model) Validate() error {
	var problems []error
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf("%w: "+format, append([]any{ErrInvalidModel}, args...)...))
	}

	ids := make(map[string]bool, len(m.Nodes))
	var starts, ends int
	for i, n := range m.Nodes {
		switch {
		case n.ID == "":
			fail("node %d has an empty id", i)
		case ids[n.ID]:
			fail("duplicate node id %q", n.ID)
		}
		ids[n.ID] = true

		if !n.Type.Valid() {
			fail("node %q has unknown type %q", n.ID, n.Type)
		}
		if !n.SplitMode.Valid() {
			fail("node %q has unknown splitMode %q", n.ID, n.SplitMode)
		}
		if !n.JoinMode.Valid() {
			fail("node %q has unknown joinMode %q", n.ID, n.JoinMode)
		}
		switch n.Type {
		case NodeStart:
			starts++
		case NodeEnd:
			ends++
		}
	}
	if starts != 1 {
		fail("expected exactly one start node, found %d", starts)
	}
	if ends == 0 {
		fail("expected at least one end node")
	}

	type edgeKey struct{ from, to, branch string }
	seen := make(map[edgeKey]bool, len(m.Transitions))
	for i, t := range m.Transitions {
		if t.From == "" || t.To == "" {
			fail("transition %d needs both from and to", i)
			continue
		}
		k := edgeKey{t.From, t.To, t.Branch}
		if seen[k] {
			fail("duplicate transition %s -> %s (branch %q)", t.From, t.To, t.Branch)
		}
		seen[k] = true

		if t.Guarded() {
			if _, err := expr.Compile(t.ConditionExpression); err != nil {
				fail("transition %s -> %s: %v", t.From, t.To, err)
			}
		}
	}

	for _, n := range m.Nodes {
		for _, c := range n.Conditions {
			matched := false
			for _, t := range m.Transitions {
				if t.From != n.ID || t.To != c.Target {
					continue
				}
				matched = true
				if c.Expression != "" && t.Guarded() &&
					strings.TrimSpace(c.Expression) != strings.TrimSpace(t.ConditionExpression) {
					fail("condition %q on node %q conflicts with guard %q of transition to %q",
						c.Expression, n.ID, t.ConditionExpression, c.Target)
				}
			}
			if !matched {
				fail("condition on node %q targets %q but no transition %s -> %s exists",
					n.ID, c.Target, n.ID, c.Target)
			}
		}
	}

	return errors.Join(problems...)
}

// Dangling returns the transitions whose source or target is not a node of
// the model.
func (m *Model) Dangling() []Transition {
	ids := make(map[string]bool, len(m.Nodes))
	for _, n := range m.Nodes {
		ids[n.ID] = true
	}
	var out []Transition
	for _, t := range m.Transitions {
		if !ids[t.From] || !ids[t.To] {
			out = append(out, t)
		}
	}
	return out
}

// Clone returns a deep copy of m.
func (m *Model) Clone() *Model {
	out := &Model{
		ID:          m.ID,
		Name:        m.Name,
		Nodes:       make([]Node, len(m.Nodes)),
		Transitions: append([]Transition(nil), m.Transitions...),
		BaseContext: cloneMap(m.BaseContext),
	}
	for i, n := range m.Nodes {
		n.Conditions = append([]ConditionBranch(nil), n.Conditions...)
		out.Nodes[i] = n
	}
	return out
}
