// Package journal persists the outcome of every provisioning step. The disk
// sequence is irreversible and un-retryable, so the journal is what lets an
// operator see the last completed state and resume or recover manually after
// a mid-sequence fatal failure.
package journal

import (
	"context"
	"time"

	"github.com/slok/firstboot/internal/model"
)

// Entry is a single journaled step outcome.
type Entry struct {
	ID    string
	RunID string
	Step  string
	// State is the storage state reached by this step, empty for steps
	// outside the storage sequence.
	State     model.StorageState
	Status    model.TaskStatus
	Error     string
	CreatedAt time.Time
}

// Repository is the interface for journal persistence.
type Repository interface {
	RecordEntry(ctx context.Context, e Entry) error
	ListEntries(ctx context.Context) ([]Entry, error)
	// LastState returns the most recent successfully reached storage state.
	// Returns model.ErrNotFound when no storage step has completed.
	LastState(ctx context.Context) (model.StorageState, error)
}
