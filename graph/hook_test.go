package graph

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/dshills/approvalflow/graph/store"
)

func TestStoreHook(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[Snapshot]()

	r, _ := newTestRunner(t, linearModel(), WithPersistHook(StoreHook(st)))
	mustStart(t, r, map[string]any{"amount": 5})
	mustComplete(t, r, "review", nil)

	history, err := st.History(ctx, "inst-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 recorded steps, got %d", len(history))
	}
	if history[0].Step != 1 || history[0].NodeID != "start" {
		t.Errorf("unexpected first record %+v", history[0])
	}
	if history[1].Step != 2 || history[1].NodeID != "review" || !history[1].State.Finished {
		t.Errorf("unexpected second record %+v", history[1])
	}
}

func TestChainHooks(t *testing.T) {
	var calls []string
	record := func(name string, err error) PersistHook {
		return func(context.Context, Snapshot) error {
			calls = append(calls, name)
			return err
		}
	}
	boom := errors.New("boom")

	hook := ChainHooks(record("a", nil), nil, record("b", boom), record("c", nil))
	if err := hook(context.Background(), Snapshot{}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if !reflect.DeepEqual(calls, []string{"a", "b"}) {
		t.Errorf("expected chain to stop after b, got %v", calls)
	}
}

func TestResume(t *testing.T) {
	ctx := context.Background()

	backends := map[string]func(t *testing.T) store.Store[Snapshot]{
		"memory": func(*testing.T) store.Store[Snapshot] {
			return store.NewMemStore[Snapshot]()
		},
		"sqlite": func(t *testing.T) store.Store[Snapshot] {
			st, err := store.NewSQLiteStore[Snapshot](filepath.Join(t.TempDir(), "flow.db"))
			if err != nil {
				t.Fatalf("NewSQLiteStore: %v", err)
			}
			t.Cleanup(func() { _ = st.Close() })
			return st
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ix := NewIndex(fanModel())

			first, err := NewRunner(ix, WithInstanceID("contract-9"), WithPersistHook(StoreHook(st)))
			if err != nil {
				t.Fatalf("NewRunner: %v", err)
			}
			mustStart(t, first, map[string]any{"amount": 1200})
			mustComplete(t, first, "A", map[string]any{"legal": "ok"})

			resumed, err := Resume(ctx, ix, st, "contract-9", WithPersistHook(StoreHook(st)))
			if err != nil {
				t.Fatalf("Resume: %v", err)
			}
			if resumed.InstanceID() != "contract-9" {
				t.Errorf("expected instance contract-9, got %q", resumed.InstanceID())
			}
			if got := pendingIDs(resumed.PendingTasks()); !reflect.DeepEqual(got, []string{"B"}) {
				t.Fatalf("expected pending [B], got %v", got)
			}
			if resumed.Context()["legal"] != "ok" {
				t.Errorf("expected restored context, got %v", resumed.Context())
			}

			mustComplete(t, resumed, "B", nil)
			mustComplete(t, resumed, "final", nil)
			if !resumed.Finished() {
				t.Error("expected resumed instance to finish")
			}

			_, step, err := st.LoadLatest(ctx, "contract-9")
			if err != nil {
				t.Fatalf("LoadLatest: %v", err)
			}
			if step != 4 {
				t.Errorf("expected latest step 4, got %d", step)
			}
		})
	}
}

func TestResume_UnknownInstance(t *testing.T) {
	st := store.NewMemStore[Snapshot]()
	_, err := Resume(context.Background(), NewIndex(linearModel()), st, "ghost")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}

func TestResume_DoesNotMutateOptions(t *testing.T) {
	st := store.NewMemStore[Snapshot]()
	if err := st.SaveStep(context.Background(), "i-1", 1, "start", Snapshot{Step: 1}); err != nil {
		t.Fatalf("SaveStep: %v", err)
	}

	opts := make([]Option, 1, 4)
	opts[0] = WithPersistHook(StoreHook(st))
	if _, err := Resume(context.Background(), NewIndex(linearModel()), st, "i-1", opts...); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if opts[:cap(opts)][1] != nil {
		t.Error("Resume wrote into the caller's option slice")
	}
}
