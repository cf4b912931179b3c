package store

// SyncState tracks whether the vector index is known to match the ledger.
//
// The ledger is the source of truth: writes land there first, then in the
// index. When an index write fails the store keeps serving from whatever the
// index holds and marks itself NeedsResync until a resync reconciles the two.
type SyncState int32

const (
	// StateSynced means index and ledger are believed consistent.
	StateSynced SyncState = iota

	// StateNeedsResync means at least one index write failed or drift was
	// detected; a resync is required.
	StateNeedsResync

	// StateResyncing means a resync is currently running.
	StateResyncing
)

// String returns a string representation of the SyncState.
func (s SyncState) String() string {
	switch s {
	case StateSynced:
		return "synced"
	case StateNeedsResync:
		return "needs_resync"
	case StateResyncing:
		return "resyncing"
	default:
		return "unknown"
	}
}
