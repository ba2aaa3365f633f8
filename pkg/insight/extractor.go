// Package insight provides a pluggable extraction layer that distills
// structured knowledge facts from packet envelopes.
//
// Extractors are best-effort enrichment: the ingestion pipeline logs and
// skips extraction failures rather than failing the packet. Producing no
// insights is a valid, successful outcome.
package insight

import (
	"context"

	"github.com/papercomputeco/substrate/pkg/packet"
)

// Insight is one candidate fact produced by an extractor, before it is
// assigned an identity and persisted.
type Insight struct {
	// Statement is the subject-predicate-object triple.
	Statement packet.Statement `json:"statement"`

	// Confidence is the extractor's confidence in [0, 1].
	Confidence float64 `json:"confidence"`
}

// Extractor derives structured insights from an envelope's content.
type Extractor interface {
	// Extract returns zero or more insights for the envelope. An empty
	// result is not an error.
	Extract(ctx context.Context, env *packet.Envelope) ([]Insight, error)

	// Close releases extractor resources.
	Close() error
}
