// Package repository defines the store contracts the engine depends on. The
// mongodb subpackage is the only implementation; tests substitute fakes.
package repository

import (
	"context"
	"time"

	"cdi-alert-engine/internal/domain"
)

// Queue is the evaluation work queue.
type Queue interface {
	// Dequeue atomically removes and returns the entry with the smallest
	// TimeQueued, or nil when the queue is empty. No two concurrent callers
	// ever receive the same entry.
	Dequeue(ctx context.Context) (*domain.QueueEntry, error)
	// Enqueue inserts a new entry timestamped now. Used by the compensating
	// requeue path and by test producers.
	Enqueue(ctx context.Context, accountID, source string) error
}

// Accounts loads account records.
type Accounts interface {
	// FindByID fetches an account, merges externally stored discrete values
	// newer than the retention cutoff, and builds the derived caches. A
	// missing account reports an error satisfying errors.IsNotFound.
	FindByID(ctx context.Context, id string, now time.Time, dvRetentionDays, medRetentionDays int) (*domain.Account, error)
}

// ResultRecord is one persisted evaluation result document, a sparse map of
// script name to alert payload.
type ResultRecord interface {
	// Alert returns the persisted alert for the script, whether a field for
	// the script exists, and any error parsing the field into an Alert.
	Alert(scriptName string) (*domain.Alert, bool, error)
}

// Results is the persisted evaluation result store, one record per account.
type Results interface {
	// Fetch returns the account's result record, or nil when none exists.
	Fetch(ctx context.Context, accountID string) (ResultRecord, error)
	// Upsert replaces the account's record with one field per alert, keyed by
	// script name.
	Upsert(ctx context.Context, accountID string, alerts []*domain.Alert) error
}
