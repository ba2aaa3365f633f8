// Package packet defines the immutable unit of memory and its derived records.
//
// An Envelope is the atomic, append-only record of one piece of memory. Once
// persisted no field may change; an amendment is a new Envelope whose Lineage
// points at its predecessor, forming a singly-linked chain within a thread.
package packet

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known packet types. The type tag determines how downstream stages
// interpret the payload.
const (
	TypeConversationTurn = "conversation.turn"
	TypeToolAudit        = "tool.audit"
	TypeInsight          = "insight"
)

// Envelope is the immutable unit of stored memory.
type Envelope struct {
	// PacketID is the globally unique identifier, assigned at creation.
	PacketID string `json:"packet_id"`

	// ContentHash is the deterministic digest over the canonical
	// serialization of Payload + PacketType (SHA-256, hex-encoded).
	ContentHash string `json:"content_hash"`

	// PacketType is a closed tag (e.g. "conversation.turn") that
	// determines how the payload is interpreted.
	PacketType string `json:"packet_type"`

	// ThreadID groups envelopes into a conversational lineage.
	// Nil for envelopes outside any thread.
	ThreadID *string `json:"thread_id,omitempty"`

	// Lineage references the packet id of the immediate predecessor in
	// the same thread. Nil for thread roots.
	Lineage *string `json:"lineage,omitempty"`

	// Tags are coarse filtering labels.
	Tags []string `json:"tags,omitempty"`

	// TTL is the optional expiry instant. Nil means retain indefinitely.
	TTL *time.Time `json:"ttl,omitempty"`

	// Payload is the opaque structured content, type-determined by
	// PacketType. Participates in ContentHash.
	Payload map[string]any `json:"payload"`

	// Metadata is side-channel key/value data (source, creator, trace id).
	// Does not participate in ContentHash.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is the assignment time, immutable.
	CreatedAt time.Time `json:"created_at"`
}

// New creates an envelope with a fresh packet id, the computed content hash,
// and the creation timestamp. The envelope must not be modified afterward;
// use Amend to express a change.
func New(packetType string, payload map[string]any, opts ...Option) (*Envelope, error) {
	e := &Envelope{
		PacketID:   uuid.NewString(),
		PacketType: packetType,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(e)
	}

	hash, err := ComputeHash(packetType, payload)
	if err != nil {
		return nil, err
	}
	e.ContentHash = hash

	if err := e.Validate(); err != nil {
		return nil, err
	}

	return e, nil
}

// Option configures optional envelope fields at creation time.
type Option func(*Envelope)

// WithThread places the envelope in a thread.
func WithThread(threadID string) Option {
	return func(e *Envelope) {
		e.ThreadID = &threadID
	}
}

// WithLineage links the envelope to its predecessor packet id.
func WithLineage(predecessorID string) Option {
	return func(e *Envelope) {
		e.Lineage = &predecessorID
	}
}

// WithTags sets the filtering tags.
func WithTags(tags ...string) Option {
	return func(e *Envelope) {
		e.Tags = tags
	}
}

// WithTTL sets the expiry instant.
func WithTTL(ttl time.Time) Option {
	return func(e *Envelope) {
		e.TTL = &ttl
	}
}

// WithMetadata sets side-channel metadata. Metadata never participates in
// the content hash.
func WithMetadata(md map[string]string) Option {
	return func(e *Envelope) {
		e.Metadata = md
	}
}

// Amend creates a successor envelope carrying the new payload, linked to this
// envelope via Lineage and sharing its thread. The original is untouched.
func (e *Envelope) Amend(payload map[string]any) (*Envelope, error) {
	opts := []Option{WithLineage(e.PacketID)}
	if e.ThreadID != nil {
		opts = append(opts, WithThread(*e.ThreadID))
	}
	if len(e.Tags) > 0 {
		opts = append(opts, WithTags(e.Tags...))
	}

	return New(e.PacketType, payload, opts...)
}

// Validate checks the structural requirements for persisting the envelope.
func (e *Envelope) Validate() error {
	if e.PacketID == "" {
		return ValidationError{Field: "packet_id", Reason: "missing"}
	}
	if e.PacketType == "" {
		return ValidationError{Field: "packet_type", Reason: "missing"}
	}
	if e.Payload == nil {
		return ValidationError{Field: "payload", Reason: "missing"}
	}
	if e.ContentHash == "" {
		return ValidationError{Field: "content_hash", Reason: "missing"}
	}
	if e.Lineage != nil && e.ThreadID == nil {
		return ValidationError{Field: "lineage", Reason: "lineage requires a thread_id"}
	}
	if e.Lineage != nil && *e.Lineage == e.PacketID {
		return ValidationError{Field: "lineage", Reason: "envelope cannot be its own predecessor"}
	}

	return nil
}

// Expired reports whether the envelope's TTL has passed at the given instant.
// Envelopes without a TTL never expire.
func (e *Envelope) Expired(now time.Time) bool {
	return e.TTL != nil && e.TTL.Before(now)
}

// ExtractText returns the concatenated string values of the payload in
// sorted-key order. Deterministic, so embeddings over the same payload are
// reproducible.
func (e *Envelope) ExtractText() string {
	return strings.Join(SortedStringValues(e.Payload), "\n")
}

// SortedStringValues returns the non-empty string values of a payload in
// sorted-key order.
func SortedStringValues(payload map[string]any) []string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var texts []string
	for _, k := range keys {
		if s, ok := payload[k].(string); ok && s != "" {
			texts = append(texts, s)
		}
	}

	return texts
}
