package packet

import "time"

// EmbeddingRecord is the vector representation of one envelope under one
// embedding model version. One record per (packet_id, model_version);
// re-embedding under a new version creates a new record, and old versions
// are retained until pruned by consolidation.
type EmbeddingRecord struct {
	PacketID     string    `json:"packet_id"`
	ModelVersion string    `json:"model_version"`
	Vector       []float32 `json:"vector"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewEmbeddingRecord creates an embedding record for the given envelope.
func NewEmbeddingRecord(packetID, modelVersion string, vector []float32) (*EmbeddingRecord, error) {
	if packetID == "" {
		return nil, ValidationError{Field: "packet_id", Reason: "missing"}
	}
	if modelVersion == "" {
		return nil, ValidationError{Field: "model_version", Reason: "missing"}
	}
	if len(vector) == 0 {
		return nil, ValidationError{Field: "vector", Reason: "must be non-empty"}
	}

	return &EmbeddingRecord{
		PacketID:     packetID,
		ModelVersion: modelVersion,
		Vector:       vector,
		CreatedAt:    time.Now().UTC(),
	}, nil
}
