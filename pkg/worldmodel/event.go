package worldmodel

import (
	"time"

	"github.com/papercomputeco/substrate/pkg/packet"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeInsightsDerived is emitted after a packet's facts are persisted.
	EventTypeInsightsDerived = "substrate.insights.derived"
)

// InsightsDerivedEvent is a transport-neutral event payload announcing
// the facts derived from one packet.
type InsightsDerivedEvent struct {
	SchemaVersion int           `json:"schema_version"`
	EventType     string        `json:"event_type"`
	EventID       string        `json:"event_id"`
	EmittedAt     time.Time     `json:"emitted_at"`
	Source        EventSource   `json:"source"`
	Packet        PacketMeta    `json:"packet"`
	Facts         []packet.Fact `json:"facts"`
}

// EventSource identifies the emitting substrate instance.
type EventSource struct {
	Instance string `json:"instance,omitempty"`
	Env      string `json:"env,omitempty"`
}

// PacketMeta carries envelope identity for the event without the payload.
type PacketMeta struct {
	PacketID    string  `json:"packet_id"`
	ContentHash string  `json:"content_hash"`
	PacketType  string  `json:"packet_type"`
	ThreadID    *string `json:"thread_id,omitempty"`
}
