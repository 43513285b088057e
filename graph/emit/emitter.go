package emit

// Emitter receives observability events from the runner.
//
// Implementations must be safe for concurrent use: separate runners may
// share one emitter. Emit must not block for long and must not panic; the
// runner calls it while holding its own lock.
type Emitter interface {
	Emit(event Event)
}

// MultiEmitter fans each event out to several emitters in order.
type MultiEmitter []Emitter

// NewMultiEmitter returns an emitter that forwards to every non-nil
// emitter given.
//
// Example:
//
//	emitter := emit.NewMultiEmitter(
//	    emit.NewZapEmitter(logger),
//	    emit.NewOTelEmitter(otel.Tracer("approvalflow")),
//	)
func NewMultiEmitter(emitters ...Emitter) MultiEmitter {
	out := make(MultiEmitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// Emit forwards event to every wrapped emitter.
func (m MultiEmitter) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}
