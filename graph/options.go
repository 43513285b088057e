package graph

import (
	"github.com/dshills/approvalflow/graph/emit"
)

// Option configures a Runner.
//
// Example:
//
//	runner, err := graph.NewRunner(ix,
//	    graph.WithInstanceID("inst-42"),
//	    graph.WithPersistHook(graph.StoreHook(st)),
//	    graph.WithEmitter(emit.NewZapEmitter(logger)),
//	)
type Option func(*runnerConfig) error

type runnerConfig struct {
	instanceID string
	hook       PersistHook
	emitter    emit.Emitter
	metrics    *PrometheusMetrics
}

// WithInstanceID sets the ID stamped on snapshots and events.
func WithInstanceID(id string) Option {
	return func(cfg *runnerConfig) error {
		if id == "" {
			return &EngineError{Message: "instance ID cannot be empty", Code: CodeInvalidOption}
		}
		cfg.instanceID = id
		return nil
	}
}

// WithPersistHook sets the hook invoked with a full snapshot after every
// state-changing operation. A hook error fails the operation with code
// PERSIST_FAILED; the in-memory state has already advanced by then.
func WithPersistHook(hook PersistHook) Option {
	return func(cfg *runnerConfig) error {
		if hook == nil {
			return &EngineError{Message: "persist hook cannot be nil", Code: CodeInvalidOption}
		}
		cfg.hook = hook
		return nil
	}
}

// WithEmitter routes runner events to emitter. The default discards them.
func WithEmitter(emitter emit.Emitter) Option {
	return func(cfg *runnerConfig) error {
		if emitter == nil {
			return &EngineError{Message: "emitter cannot be nil", Code: CodeInvalidOption}
		}
		cfg.emitter = emitter
		return nil
	}
}

// WithMetrics records runner activity in Prometheus metrics.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	runner, _ := graph.NewRunner(ix, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *runnerConfig) error {
		cfg.metrics = metrics
		return nil
	}
}
