package sync

import (
	"context"
	"time"
)

// Orchestrator is the engine surface the trigger layer and UI depend on.
// It allows mocking in tests and alternative implementations.
type Orchestrator interface {
	// Sync performs one full synchronization pass. A call arriving while
	// a pass is in flight returns a zero-work result.
	Sync(ctx context.Context) (*Result, error)

	// Subscribe registers a progress observer; the returned token is
	// passed to Unsubscribe.
	Subscribe(fn ProgressFunc) int

	// Unsubscribe removes a progress observer.
	Unsubscribe(id int)

	// Status returns the orchestrator's current state.
	Status() Status

	// LastSync returns when the last successful pass finished.
	LastSync() *time.Time

	// PendingChanges returns the number of queued operations.
	PendingChanges() int

	// LastError returns the error from the most recent pass.
	LastError() error
}

// compile-time check
var _ Orchestrator = (*Engine)(nil)
