package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store.
//
// Data is lost when the process exits. MemStore is safe for concurrent
// use. States are stored as given; callers that keep mutating a state
// after saving it should save a copy.
type MemStore[S any] struct {
	mu    sync.RWMutex
	steps map[string][]StepRecord[S]
	now   func() time.Time
}

// NewMemStore creates an empty in-memory store.
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		steps: make(map[string][]StepRecord[S]),
		now:   time.Now,
	}
}

// SaveStep implements Store.
func (m *MemStore[S]) SaveStep(_ context.Context, instanceID string, step int, nodeID string, state S) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record := StepRecord[S]{
		Step:      step,
		NodeID:    nodeID,
		State:     state,
		CreatedAt: m.now(),
	}

	records := m.steps[instanceID]
	i := sort.Search(len(records), func(i int) bool { return records[i].Step >= step })
	switch {
	case i < len(records) && records[i].Step == step:
		records[i] = record
	default:
		records = append(records, StepRecord[S]{})
		copy(records[i+1:], records[i:])
		records[i] = record
	}
	m.steps[instanceID] = records
	return nil
}

// LoadLatest implements Store.
func (m *MemStore[S]) LoadLatest(_ context.Context, instanceID string) (state S, step int, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.steps[instanceID]
	if len(records) == 0 {
		var zero S
		return zero, 0, ErrNotFound
	}
	latest := records[len(records)-1]
	return latest.State, latest.Step, nil
}

// History implements Store.
func (m *MemStore[S]) History(_ context.Context, instanceID string) ([]StepRecord[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.steps[instanceID]
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	out := make([]StepRecord[S], len(records))
	copy(out, records)
	return out, nil
}

// Instances implements Store.
func (m *MemStore[S]) Instances(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.steps))
	for id := range m.steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
