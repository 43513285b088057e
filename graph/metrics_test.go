package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusMetrics_RunnerActivity(t *testing.T) {
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetrics(registry)

	r, _ := newTestRunner(t, linearModel(), WithMetrics(pm), WithPersistHook(func(context.Context, Snapshot) error { return nil }))
	mustStart(t, r, nil)

	if got := testutil.ToFloat64(pm.instancesStarted.WithLabelValues("linear")); got != 1 {
		t.Errorf("expected 1 started instance, got %v", got)
	}
	if got := testutil.ToFloat64(pm.tasksCreated.WithLabelValues("linear", "approval")); got != 1 {
		t.Errorf("expected 1 created approval, got %v", got)
	}
	if got := testutil.ToFloat64(pm.pendingTasks.WithLabelValues("linear")); got != 1 {
		t.Errorf("expected pending gauge 1, got %v", got)
	}

	mustComplete(t, r, "review", nil)

	if got := testutil.ToFloat64(pm.tasksCompleted.WithLabelValues("linear", "approval")); got != 1 {
		t.Errorf("expected 1 completed approval, got %v", got)
	}
	if got := testutil.ToFloat64(pm.instancesFinished.WithLabelValues("linear")); got != 1 {
		t.Errorf("expected 1 finished instance, got %v", got)
	}
	if got := testutil.ToFloat64(pm.pendingTasks.WithLabelValues("linear")); got != 0 {
		t.Errorf("expected pending gauge 0, got %v", got)
	}
	if n := testutil.CollectAndCount(pm.persistLatency, "approvalflow_persist_latency_ms"); n != 1 {
		t.Errorf("expected one persist latency series, got %d", n)
	}
}

func TestPrometheusMetrics_Guards(t *testing.T) {
	pm := NewPrometheusMetrics(prometheus.NewRegistry())

	m := conditionModel()
	m.Transitions = append(m.Transitions, Transition{From: "C", To: "ghost"})
	r, _ := newTestRunner(t, m, WithMetrics(pm))
	mustStart(t, r, map[string]any{"amount": 50})

	if got := testutil.ToFloat64(pm.guardEvaluations.WithLabelValues("pass")); got != 1 {
		t.Errorf("expected 1 passing guard, got %v", got)
	}
	if got := testutil.ToFloat64(pm.guardEvaluations.WithLabelValues("fail")); got != 1 {
		t.Errorf("expected 1 failing guard, got %v", got)
	}
	if got := testutil.ToFloat64(pm.skipped.WithLabelValues("guard")); got != 1 {
		t.Errorf("expected 1 guard skip, got %v", got)
	}
	if got := testutil.ToFloat64(pm.skipped.WithLabelValues("missing_node")); got != 1 {
		t.Errorf("expected 1 missing_node skip, got %v", got)
	}
}

func TestPrometheusMetrics_StalledAndPersistErrors(t *testing.T) {
	pm := NewPrometheusMetrics(prometheus.NewRegistry())

	m := conditionModel()
	m.Transitions[2].ConditionExpression = "amount > 1000"
	failing := func(context.Context, Snapshot) error { return errors.New("nope") }
	r, _ := newTestRunner(t, m, WithMetrics(pm), WithPersistHook(failing))

	if _, err := r.Start(context.Background(), map[string]any{"amount": 500}); err == nil {
		t.Fatal("expected persist error")
	}
	if got := testutil.ToFloat64(pm.instancesStalled.WithLabelValues("condition")); got != 1 {
		t.Errorf("expected 1 stalled instance, got %v", got)
	}
	if n := testutil.CollectAndCount(pm.persistLatency); n != 1 {
		t.Errorf("expected one error latency series, got %d", n)
	}
}

func TestPrometheusMetrics_EnableDisable(t *testing.T) {
	pm := NewPrometheusMetrics(prometheus.NewRegistry())

	pm.Disable()
	pm.IncInstancesStarted("t")
	pm.AddPendingTasks("t", 3)
	if got := testutil.ToFloat64(pm.instancesStarted.WithLabelValues("t")); got != 0 {
		t.Errorf("disabled metrics recorded %v", got)
	}

	pm.Enable()
	pm.IncInstancesStarted("t")
	pm.AddPendingTasks("t", 3)
	pm.RecordPersistLatency(3*time.Millisecond, "success")
	if got := testutil.ToFloat64(pm.instancesStarted.WithLabelValues("t")); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}

	pm.Reset()
	if got := testutil.ToFloat64(pm.pendingTasks.WithLabelValues("t")); got != 0 {
		t.Errorf("expected gauge reset, got %v", got)
	}
	if got := testutil.ToFloat64(pm.instancesStarted.WithLabelValues("t")); got != 1 {
		t.Errorf("counters must survive Reset, got %v", got)
	}
}

func TestPrometheusMetrics_NilSafe(t *testing.T) {
	var pm *PrometheusMetrics
	pm.IncInstancesStarted("t")
	pm.IncTasksCreated("t", NodeTask)
	pm.RecordPersistLatency(time.Millisecond, "success")
	pm.AddPendingTasks("t", 1)
}
