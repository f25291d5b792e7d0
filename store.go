package invoiceflow

import (
	"context"
)

// StateStore owns the durable copy of every thread. The engine holds only a
// working copy during a single step's execution and hands it back through
// SaveThread, which must land atomically together with the transition log
// entry: either the new step index, payload delta and status are all
// visible, or none of them are.
type StateStore interface {
	// CreateThread persists a brand new thread. Fails with a conflict if
	// the identifier already exists.
	CreateThread(ctx context.Context, thread *Thread, transition *Transition) error

	// SaveThread atomically writes a checkpoint and appends its transition.
	SaveThread(ctx context.Context, thread *Thread, transition *Transition) error

	// GetThread returns the most recently persisted checkpoint for the
	// identifier, or a not-found error.
	GetThread(ctx context.Context, threadID string) (*Thread, error)

	// ListThreads scans stored threads, filtered by status when status is
	// non-empty.
	ListThreads(ctx context.Context, status Status) ([]*Thread, error)

	// Transitions returns the ordered execution log for a thread.
	Transitions(ctx context.Context, threadID string) ([]*Transition, error)
}
