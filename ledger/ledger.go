// Package ledger defines the durable record store that serves as the source
// of truth for a tier. The vector index can always be rebuilt from the
// ledger, never the other way around.
package ledger

import (
	"context"
	"errors"

	"github.com/hupe1980/tiermem/model"
)

var (
	// ErrNotFound is returned when a record ID is not present.
	ErrNotFound = errors.New("record not found")

	// ErrClosed is returned when operating on a closed ledger.
	ErrClosed = errors.New("ledger is closed")
)

// Ledger stores records keyed by ID.
//
// Implementations can provide different durability strategies (in-memory,
// append-log on disk, DynamoDB). All implementations must be safe for
// concurrent use.
type Ledger interface {
	// Put stores a record, replacing any existing record with the same ID.
	Put(ctx context.Context, record *model.Record) error

	// Get retrieves the record with the given ID.
	// Returns ErrNotFound if the ID is not present.
	Get(ctx context.Context, id string) (*model.Record, error)

	// Delete removes the record with the given ID.
	// Returns ErrNotFound if the ID is not present.
	Delete(ctx context.Context, id string) error

	// List returns all records. Order is unspecified.
	List(ctx context.Context) ([]*model.Record, error)

	// Keys returns all record IDs. Order is unspecified.
	Keys(ctx context.Context) ([]string, error)

	// Count returns the number of records.
	Count(ctx context.Context) (int, error)

	// Clear removes all records.
	Clear(ctx context.Context) error

	// Close releases resources held by the ledger. Records written through
	// a durable ledger survive Close.
	Close() error
}
