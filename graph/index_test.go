package graph

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/dshills/approvalflow/graph/expr"
)

func nodeIDs(nodes []Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func TestIndex_Queries(t *testing.T) {
	m := &Model{
		ID: "fan",
		Nodes: []Node{
			{ID: "start", Type: NodeStart},
			{ID: "split", Type: NodeParallel},
			{ID: "a", Type: NodeTask},
			{ID: "b", Type: NodeTask},
			{ID: "join", Type: NodeParallel},
			{ID: "end", Type: NodeEnd, Branch: "b1"},
			{ID: "end2", Type: NodeEnd},
		},
		Transitions: []Transition{
			{From: "start", To: "split"},
			{From: "split", To: "a", Branch: "b1"},
			{From: "split", To: "ghost"},
			{From: "split", To: "b", Branch: "b1"},
			{From: "a", To: "join"},
			{From: "b", To: "join"},
			{From: "a", To: "join", Branch: "extra"},
			{From: "phantom", To: "join"},
			{From: "join", To: "end"},
		},
	}
	ix := NewIndex(m)

	t.Run("node", func(t *testing.T) {
		n, ok := ix.Node("a")
		if !ok || n.Type != NodeTask {
			t.Errorf("expected task node a, got %+v %v", n, ok)
		}
		if _, ok := ix.Node("ghost"); ok {
			t.Error("ghost must not resolve")
		}
	})

	t.Run("start node", func(t *testing.T) {
		n, err := ix.StartNode()
		if err != nil || n.ID != "start" {
			t.Errorf("expected start, got %q %v", n.ID, err)
		}
	})

	t.Run("outgoing keeps declaration order and dangling targets", func(t *testing.T) {
		var to []string
		for _, tr := range ix.Outgoing("split") {
			to = append(to, tr.To)
		}
		if !reflect.DeepEqual(to, []string{"a", "ghost", "b"}) {
			t.Errorf("unexpected outgoing %v", to)
		}
		if len(ix.Outgoing("end")) != 0 {
			t.Error("end has no outgoing transitions")
		}
	})

	t.Run("successors omit unknown targets", func(t *testing.T) {
		if got := nodeIDs(ix.Successors("split")); !reflect.DeepEqual(got, []string{"a", "b"}) {
			t.Errorf("unexpected successors %v", got)
		}
	})

	t.Run("incoming is deduplicated and resolved", func(t *testing.T) {
		if got := nodeIDs(ix.Incoming("join")); !reflect.DeepEqual(got, []string{"a", "b"}) {
			t.Errorf("unexpected incoming %v", got)
		}
		if got := ix.Incoming("start"); len(got) != 0 {
			t.Errorf("start has no predecessors, got %v", nodeIDs(got))
		}
	})

	t.Run("end nodes by branch", func(t *testing.T) {
		if got := nodeIDs(ix.EndNodes("b1")); !reflect.DeepEqual(got, []string{"end"}) {
			t.Errorf("unexpected b1 ends %v", got)
		}
		if got := nodeIDs(ix.EndNodes("")); !reflect.DeepEqual(got, []string{"end2"}) {
			t.Errorf("unexpected untagged ends %v", got)
		}
	})

	t.Run("results are copies", func(t *testing.T) {
		out := ix.Outgoing("split")
		out[0].To = "mutated"
		if ix.Outgoing("split")[0].To != "a" {
			t.Error("Outgoing must return a copy")
		}
	})

	t.Run("model is private", func(t *testing.T) {
		m.Nodes[2].Type = NodeEnd
		if n, _ := ix.Node("a"); n.Type != NodeTask {
			t.Error("index must not observe later changes to the source model")
		}
	})
}

func TestIndex_StartNodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		nodes []Node
	}{
		{"none", []Node{{ID: "a", Type: NodeTask}, {ID: "end", Type: NodeEnd}}},
		{"two", []Node{{ID: "s1", Type: NodeStart}, {ID: "s2", Type: NodeStart}, {ID: "end", Type: NodeEnd}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewIndex(&Model{Nodes: tt.nodes}).StartNode()
			if !errors.Is(err, ErrGraphMalformed) {
				t.Errorf("expected ErrGraphMalformed, got %v", err)
			}
		})
	}
}

func TestIndex_EvaluateGuard(t *testing.T) {
	ix := NewIndex(&Model{
		Transitions: []Transition{{From: "a", To: "b", ConditionExpression: "amount > 100"}},
	})
	vars := map[string]any{"amount": 50, "x": map[string]any{"y": 1}}

	tests := []struct {
		expr    string
		want    bool
		wantErr error
	}{
		{"amount > 100", false, nil},
		{"amount <= 100", true, nil},
		{"", false, expr.ErrEmpty},
		{"x.y.z == 1", false, expr.ErrUndefined},
		{"missing > 1", false, expr.ErrUndefined},
		{"amount >", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			if got := ix.EvaluateGuard(tt.expr, vars); got != tt.want {
				t.Errorf("EvaluateGuard = %v, want %v", got, tt.want)
			}
			ok, err := ix.CheckGuard(tt.expr, vars)
			if ok != tt.want {
				t.Errorf("CheckGuard = %v, want %v", ok, tt.want)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	t.Run("syntax error is reported", func(t *testing.T) {
		_, err := ix.CheckGuard("amount >", vars)
		var syn *expr.SyntaxError
		if !errors.As(err, &syn) {
			t.Errorf("expected *expr.SyntaxError, got %v", err)
		}
	})
}

func TestIndex_ConcurrentUse(t *testing.T) {
	m, err := ParseModel([]byte(contractYAML), "yaml")
	if err != nil {
		t.Fatal(err)
	}
	ix := NewIndex(m)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(amount int) {
			defer wg.Done()
			want := amount > 1000
			if got := ix.EvaluateGuard("amount > 1000", map[string]any{"amount": amount}); got != want {
				t.Errorf("amount %d: expected %v, got %v", amount, want, got)
			}
			_ = ix.Successors("gate")
			_ = ix.Incoming("end")
		}(i * 100)
	}
	wg.Wait()
}
