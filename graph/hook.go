package graph

import (
	"context"
	"fmt"

	"github.com/dshills/approvalflow/graph/store"
)

// StoreHook returns a PersistHook that records every snapshot as a step of
// its instance in st.
func StoreHook(st store.Store[Snapshot]) PersistHook {
	return func(ctx context.Context, snap Snapshot) error {
		return st.SaveStep(ctx, snap.InstanceID, snap.Step, snap.LastNode, snap)
	}
}

// ChainHooks returns a PersistHook that calls each hook in order and stops
// at the first error.
func ChainHooks(hooks ...PersistHook) PersistHook {
	return func(ctx context.Context, snap Snapshot) error {
		for _, h := range hooks {
			if h == nil {
				continue
			}
			if err := h(ctx, snap); err != nil {
				return err
			}
		}
		return nil
	}
}

// Resume rebuilds the runner of instanceID from its latest snapshot in st.
// opts are applied as for NewRunner; the instance ID always comes from the
// stored snapshot.
//
// Example:
//
//	runner, err := graph.Resume(ctx, ix, st, "inst-42", graph.WithPersistHook(graph.StoreHook(st)))
//	if errors.Is(err, store.ErrNotFound) {
//	    // unknown instance
//	}
func Resume(ctx context.Context, ix *Index, st store.Store[Snapshot], instanceID string, opts ...Option) (*Runner, error) {
	snap, _, err := st.LoadLatest(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("load instance %s: %w", instanceID, err)
	}
	snap.InstanceID = instanceID

	r, err := NewRunner(ix, append(append([]Option(nil), opts...), WithInstanceID(instanceID))...)
	if err != nil {
		return nil, err
	}
	r.RestoreState(snap)
	return r, nil
}
