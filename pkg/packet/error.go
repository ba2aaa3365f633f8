package packet

import "fmt"

// ValidationError indicates malformed intake input. Fatal, never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid packet: %s: %s", e.Field, e.Reason)
}

// CorruptionError indicates a content hash mismatch on read. Fatal, surfaced
// loudly, never auto-repaired.
type CorruptionError struct {
	PacketID string
	Stored   string
	Computed string
}

func (e CorruptionError) Error() string {
	return fmt.Sprintf(
		"content hash mismatch for packet %s: stored %s, computed %s",
		e.PacketID, e.Stored, e.Computed,
	)
}
