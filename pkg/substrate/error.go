package substrate

import "fmt"

// NotFoundError is returned when a record doesn't exist in the store.
type NotFoundError struct {
	Kind string // "envelope", "fact", "embedding", "checkpoint"
	ID   string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return e.Kind + " not found"
	}
	return e.Kind + " not found: " + e.ID
}

// AlreadyExistsError is returned on a duplicate packet id write.
// SameContent distinguishes an idempotent re-run (treated as success by the
// pipeline) from a conflicting write under a reused id.
type AlreadyExistsError struct {
	PacketID    string
	SameContent bool
}

func (e AlreadyExistsError) Error() string {
	if e.SameContent {
		return fmt.Sprintf("envelope %s already exists with identical content", e.PacketID)
	}
	return fmt.Sprintf("envelope %s already exists with conflicting content", e.PacketID)
}

// BrokenLineageError is returned when a thread's chain shape is violated:
// a child submitted before its predecessor was durably written, a gap in a
// stored chain, a second root, or a fork off an already-extended predecessor.
// Reason carries the shape violation when it isn't a missing predecessor.
type BrokenLineageError struct {
	ThreadID      string
	PacketID      string
	PredecessorID string
	Reason        string
}

func (e BrokenLineageError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("broken lineage in thread %s: packet %s %s",
			e.ThreadID, e.PacketID, e.Reason)
	}
	return fmt.Sprintf(
		"broken lineage in thread %s: packet %s references missing predecessor %s",
		e.ThreadID, e.PacketID, e.PredecessorID,
	)
}
