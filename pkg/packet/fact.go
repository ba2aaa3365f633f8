package packet

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Statement is a structured predicate, not free text.
type Statement struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// Fact is a structured assertion derived from one or more envelopes.
// Facts are created only by insight extraction and never mutated; a
// superseded fact is marked via SupersededBy, never deleted in place.
type Fact struct {
	FactID          string    `json:"fact_id"`
	SourcePacketIDs []string  `json:"source_packet_ids"`
	Statement       Statement `json:"statement"`
	Confidence      float64   `json:"confidence"`
	DerivedAt       time.Time `json:"derived_at"`
	SupersededBy    *string   `json:"superseded_by,omitempty"`
}

// NewFact creates a fact over the given source envelopes. Fact ids are ULIDs
// so derived records sort by creation time.
func NewFact(sourcePacketIDs []string, stmt Statement, confidence float64) (*Fact, error) {
	if len(sourcePacketIDs) == 0 {
		return nil, ValidationError{Field: "source_packet_ids", Reason: "must be non-empty"}
	}
	if confidence < 0 || confidence > 1 {
		return nil, ValidationError{Field: "confidence", Reason: "must be in [0.0, 1.0]"}
	}

	return &Fact{
		FactID:          ulid.Make().String(),
		SourcePacketIDs: sourcePacketIDs,
		Statement:       stmt,
		Confidence:      confidence,
		DerivedAt:       time.Now().UTC(),
	}, nil
}
