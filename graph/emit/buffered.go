package emit

import "sync"

// BufferedEmitter keeps every event in memory, grouped by instance.
//
// It backs tests and debugging tools that need to inspect what an instance
// did. Memory grows without bound; call Clear when an instance is no longer
// of interest.
//
// Example:
//
//	events := emit.NewBufferedEmitter()
//	runner, _ := graph.NewRunner(ix, graph.WithInstanceID("inst-1"), graph.WithEmitter(events))
//	_, _ = runner.Start(ctx, nil)
//
//	warnings := events.GetHistoryWithFilter("inst-1", emit.HistoryFilter{Level: emit.LevelWarn})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// HistoryFilter selects events. Empty fields match everything; set fields
// are combined with AND.
type HistoryFilter struct {
	NodeID  string
	Msg     string
	Level   string
	MinStep *int
	MaxStep *int
}

func (f HistoryFilter) matches(event Event) bool {
	if f.NodeID != "" && event.NodeID != f.NodeID {
		return false
	}
	if f.Msg != "" && event.Msg != f.Msg {
		return false
	}
	if f.Level != "" && event.Level() != f.Level {
		return false
	}
	if f.MinStep != nil && event.Step < *f.MinStep {
		return false
	}
	if f.MaxStep != nil && event.Step > *f.MaxStep {
		return false
	}
	return true
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit appends event to its instance's history.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.InstanceID] = append(b.events[event.InstanceID], event)
}

// GetHistory returns a copy of every event recorded for instanceID, in
// emission order. The result is never nil.
func (b *BufferedEmitter) GetHistory(instanceID string) []Event {
	return b.GetHistoryWithFilter(instanceID, HistoryFilter{})
}

// GetHistoryWithFilter returns the events of instanceID matching filter, in
// emission order. The result is never nil.
func (b *BufferedEmitter) GetHistoryWithFilter(instanceID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[instanceID] {
		if filter.matches(event) {
			result = append(result, event)
		}
	}
	return result
}

// Messages returns the Msg of every event recorded for instanceID, in
// order. Handy for asserting on event sequences.
func (b *BufferedEmitter) Messages(instanceID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.events[instanceID]))
	for _, event := range b.events[instanceID] {
		out = append(out, event.Msg)
	}
	return out
}

// Clear drops the history of instanceID, or of every instance when
// instanceID is empty.
func (b *BufferedEmitter) Clear(instanceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if instanceID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, instanceID)
}
