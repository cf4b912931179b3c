// Package index provides interfaces and types for approximate vector search indexes.
package index

import (
	"errors"
	"fmt"
)

// ErrInvalidK is returned when k is not positive.
var ErrInvalidK = errors.New("k must be positive")

// ErrDimensionMismatch is a named error type for dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch.
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Entry is an (id, vector) pair submitted to the index.
type Entry struct {
	ID     string
	Vector []float32
}

// SearchResult represents a single search hit.
type SearchResult struct {
	// ID is the identifier of the matched entry.
	ID string

	// Similarity is the cosine similarity between the query and the match,
	// in [-1,1]. Results are ordered highest similarity first.
	Similarity float32
}

// Index is an in-memory approximate nearest neighbor index.
//
// Implementations allow unlimited concurrent Search calls or one exclusive
// writer (Insert/Remove/Clear); rebuilds take the writer lock so readers
// never observe a half-built graph.
type Index interface {
	// Insert adds a vector under the given id. Inserting an existing id
	// replaces its vector.
	Insert(id string, vector []float32) error

	// InsertBatch adds many entries under a single writer lock.
	InsertBatch(entries []Entry) error

	// Search returns up to k entries ordered by descending cosine
	// similarity to the query. An empty index returns an empty slice.
	Search(query []float32, k int) ([]SearchResult, error)

	// Remove deletes an id from the index. It reports whether the id
	// was present.
	Remove(id string) (bool, error)

	// Contains reports whether the id is present and live.
	Contains(id string) bool

	// Len returns the number of live entries.
	Len() int

	// Clear removes all entries.
	Clear()
}
