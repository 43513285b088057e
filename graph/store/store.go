// Package store persists the step history of process instances.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an instance has no recorded steps.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("store is closed")

// Store records the state of each instance after every step.
//
// Every state-changing operation on an instance produces one step. The
// store keeps the full sequence so that callers can both resume from the
// latest state and present an audit trail.
//
// Implementations:
//   - MemStore: in-process maps, for tests and single-shot CLI runs
//   - SQLiteStore: single-file database with WAL
//   - MySQLStore: shared database for multi-process deployments
//
// Type parameter S is the state type (JSON-serializable for the SQL
// stores).
type Store[S any] interface {
	// SaveStep records state as step number step of instanceID. nodeID
	// names the node whose completion produced the step (empty when none
	// did). Saving an existing step number replaces it.
	SaveStep(ctx context.Context, instanceID string, step int, nodeID string, state S) error

	// LoadLatest returns the state with the highest step number, or
	// ErrNotFound.
	LoadLatest(ctx context.Context, instanceID string) (state S, step int, err error)

	// History returns every recorded step of instanceID in ascending step
	// order, or ErrNotFound.
	History(ctx context.Context, instanceID string) ([]StepRecord[S], error)

	// Instances lists the IDs of all instances with at least one step, in
	// lexical order.
	Instances(ctx context.Context) ([]string, error)
}

// StepRecord is one entry of an instance's history.
type StepRecord[S any] struct {
	Step      int
	NodeID    string
	State     S
	CreatedAt time.Time
}
