package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects runner activity for Prometheus.
//
// Metrics (namespace "approvalflow"):
//
//   - instances_started_total{template}
//   - instances_finished_total{template}
//   - instances_stalled_total{template}: operations that left an instance
//     with no pending task and unfinished branches
//   - tasks_created_total{template,type}
//   - tasks_completed_total{template,type}
//   - guard_evaluations_total{outcome}: outcome is pass, fail or error
//   - transitions_skipped_total{reason}: reason is guard or missing_node
//   - persist_latency_ms{status}: histogram, status is success or error
//   - pending_tasks{template}: gauge of pending tasks held by live runners
//
// One PrometheusMetrics may be shared by any number of runners.
type PrometheusMetrics struct {
	instancesStarted  *prometheus.CounterVec
	instancesFinished *prometheus.CounterVec
	instancesStalled  *prometheus.CounterVec
	tasksCreated      *prometheus.CounterVec
	tasksCompleted    *prometheus.CounterVec
	guardEvaluations  *prometheus.CounterVec
	skipped           *prometheus.CounterVec
	persistLatency    *prometheus.HistogramVec
	pendingTasks      *prometheus.GaugeVec

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates the metrics and registers them with
// registry (prometheus.DefaultRegisterer when nil). Registering twice with
// the same registry panics, as with any promauto metric.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	const ns = "approvalflow"
	return &PrometheusMetrics{
		enabled: true,
		instancesStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "instances_started_total",
			Help:      "Process instances started",
		}, []string{"template"}),
		instancesFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "instances_finished_total",
			Help:      "Process instances that reached the finished state",
		}, []string{"template"}),
		instancesStalled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "instances_stalled_total",
			Help:      "Operations that left an instance with nothing pending but not finished",
		}, []string{"template"}),
		tasksCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "tasks_created_total",
			Help:      "Pending tasks created",
		}, []string{"template", "type"}),
		tasksCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "tasks_completed_total",
			Help:      "Pending tasks completed by callers",
		}, []string{"template", "type"}),
		guardEvaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "guard_evaluations_total",
			Help:      "Transition guard evaluations by outcome",
		}, []string{"outcome"}),
		skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "transitions_skipped_total",
			Help:      "Transitions not taken during fan-out",
		}, []string{"reason"}),
		persistLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "persist_latency_ms",
			Help:      "Persistence hook duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		}, []string{"status"}),
		pendingTasks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "pending_tasks",
			Help:      "Pending tasks held by live runners",
		}, []string{"template"}),
	}
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// IncInstancesStarted counts a started instance.
func (pm *PrometheusMetrics) IncInstancesStarted(template string) {
	if pm.on() {
		pm.instancesStarted.WithLabelValues(template).Inc()
	}
}

// IncInstancesFinished counts an instance reaching the finished state.
func (pm *PrometheusMetrics) IncInstancesFinished(template string) {
	if pm.on() {
		pm.instancesFinished.WithLabelValues(template).Inc()
	}
}

// IncInstancesStalled counts an operation that left an instance stalled.
func (pm *PrometheusMetrics) IncInstancesStalled(template string) {
	if pm.on() {
		pm.instancesStalled.WithLabelValues(template).Inc()
	}
}

// IncTasksCreated counts a new pending task.
func (pm *PrometheusMetrics) IncTasksCreated(template string, nodeType NodeType) {
	if pm.on() {
		pm.tasksCreated.WithLabelValues(template, string(nodeType)).Inc()
	}
}

// IncTasksCompleted counts a pending task completed by a caller.
func (pm *PrometheusMetrics) IncTasksCompleted(template string, nodeType NodeType) {
	if pm.on() {
		pm.tasksCompleted.WithLabelValues(template, string(nodeType)).Inc()
	}
}

// IncGuardEvaluations counts a guard evaluation ("pass", "fail", "error").
func (pm *PrometheusMetrics) IncGuardEvaluations(outcome string) {
	if pm.on() {
		pm.guardEvaluations.WithLabelValues(outcome).Inc()
	}
}

// IncSkippedTransitions counts a transition not taken ("guard",
// "missing_node").
func (pm *PrometheusMetrics) IncSkippedTransitions(reason string) {
	if pm.on() {
		pm.skipped.WithLabelValues(reason).Inc()
	}
}

// RecordPersistLatency observes one persistence hook call.
func (pm *PrometheusMetrics) RecordPersistLatency(latency time.Duration, status string) {
	if pm.on() {
		pm.persistLatency.WithLabelValues(status).Observe(float64(latency.Milliseconds()))
	}
}

// AddPendingTasks adjusts the pending-tasks gauge by delta.
func (pm *PrometheusMetrics) AddPendingTasks(template string, delta int) {
	if pm.on() && delta != 0 {
		pm.pendingTasks.WithLabelValues(template).Add(float64(delta))
	}
}

// Disable stops recording until Enable is called.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset zeroes the pending-tasks gauge. Counters and histograms are
// cumulative and are left untouched.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.pendingTasks.Reset()
}
