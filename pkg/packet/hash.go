package packet

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json/jsontext"
	"encoding/json/v2"
	"fmt"
)

// ComputeHash calculates the content-addressed digest for an envelope's
// hashable content: the packet type plus the entire payload. Metadata and
// assignment-time fields are deliberately excluded. Hashing a subset of the
// payload is a correctness bug, so the whole map is serialized.
func ComputeHash(packetType string, payload map[string]any) (string, error) {
	data, err := json.Marshal(struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}{
		Type:    packetType,
		Payload: payload,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling hash input: %w", err)
	}

	// Canonicalize per RFC 8785 so the digest is stable regardless of
	// field ordering in the serialized form. Requires the jsonv2
	// GOEXPERIMENT as of Go 1.25.x.
	j := jsontext.Value(data)
	if err := j.Canonicalize(); err != nil {
		return "", fmt.Errorf("canonicalizing hash input: %w", err)
	}

	h := sha256.Sum256(j)
	return hex.EncodeToString(h[:]), nil
}

// VerifyHash recomputes the envelope's content hash and compares it to the
// stored one. A mismatch is a corruption signal and is never repaired here.
func VerifyHash(e *Envelope) error {
	computed, err := ComputeHash(e.PacketType, e.Payload)
	if err != nil {
		return err
	}

	if computed != e.ContentHash {
		return CorruptionError{
			PacketID: e.PacketID,
			Stored:   e.ContentHash,
			Computed: computed,
		}
	}

	return nil
}
