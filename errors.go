package tiermem

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/tiermem/ledger"
	"github.com/hupe1980/tiermem/model"
	"github.com/hupe1980/tiermem/store"
)

var (
	// ErrNotFound is returned when a record is not found in any tier.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned when an operation is attempted after Close.
	ErrClosed = errors.New("memory is closed")

	// ErrInvalidDimension is returned when the configured dimension is not
	// positive.
	ErrInvalidDimension = errors.New("dimension must be positive")

	// ErrNoEmbedder is returned by text operations when no embedder was
	// configured.
	ErrNoEmbedder = errors.New("no embedder configured")

	// ErrTimeout is returned when an operation exceeds its deadline.
	ErrTimeout = errors.New("operation timed out")
)

// DriftError reports an index/ledger count mismatch for one tier.
type DriftError struct {
	Tier        model.Tier
	IndexLen    int
	LedgerCount int
}

// Error implements the error interface.
func (e *DriftError) Error() string {
	return fmt.Sprintf("tier %s drifted: index has %d entries, ledger has %d", e.Tier, e.IndexLen, e.LedgerCount)
}

// translateError maps subpackage errors onto the public error contract.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrNotFound) || errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, ledger.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return err
	}
}
