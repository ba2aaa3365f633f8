// Package substrate defines the repository contract for the durable packet
// store. The repository exclusively owns all persisted records; every other
// component holds derived, rebuildable projections at most.
package substrate

import (
	"context"
	"time"

	"github.com/papercomputeco/substrate/pkg/packet"
)

// Repository is the narrow write/read API over the four logical collections:
// envelopes, facts, embeddings, and checkpoints. All mutation in the system
// goes through this interface.
//
// Writes are idempotent keyed by packet id or content hash as documented per
// method. Logical deletion (tombstoning) is the only online-path delete;
// physical removal belongs to consolidation alone.
type Repository interface {
	// PutEnvelope persists an envelope. Rejects a duplicate packet id
	// with AlreadyExistsError; the error reports whether the stored
	// content hash matches so callers can treat identical re-writes as
	// success. A duplicate content hash under a different packet id is
	// accepted — deduplication is a consolidation concern.
	PutEnvelope(ctx context.Context, e *packet.Envelope) error

	// GetEnvelope retrieves a live envelope by packet id. Returns
	// NotFoundError if absent or tombstoned. The content hash is
	// verified on read; a mismatch surfaces packet.CorruptionError.
	GetEnvelope(ctx context.Context, packetID string) (*packet.Envelope, error)

	// GetByContentHash returns the live envelopes carrying the given
	// content hash, ordered by creation time ascending.
	GetByContentHash(ctx context.Context, contentHash string) ([]*packet.Envelope, error)

	// HasEnvelope checks existence (including tombstoned rows) by packet id.
	HasEnvelope(ctx context.Context, packetID string) (bool, error)

	// GetThread returns the thread's envelopes in lineage order, oldest
	// first. Returns BrokenLineageError if a lineage pointer cannot be
	// resolved; the gap is surfaced, never silently skipped.
	GetThread(ctx context.Context, threadID string) ([]*packet.Envelope, error)

	// PutFact persists a derived fact. Idempotent by fact id.
	PutFact(ctx context.Context, f *packet.Fact) error

	// GetFactsByPacket returns facts derived from the given envelope.
	GetFactsByPacket(ctx context.Context, packetID string) ([]*packet.Fact, error)

	// SupersedeFact marks a fact as superseded by another. The superseded
	// fact is never deleted in place.
	SupersedeFact(ctx context.Context, factID, supersededBy string) error

	// PutEmbedding persists an embedding record. Idempotent by
	// (packet_id, model_version).
	PutEmbedding(ctx context.Context, r *packet.EmbeddingRecord) error

	// GetEmbedding retrieves the embedding for one envelope under one
	// model version. Returns NotFoundError if absent.
	GetEmbedding(ctx context.Context, packetID, modelVersion string) (*packet.EmbeddingRecord, error)

	// ListEmbeddings returns all embedding records for a model version.
	// Used to rebuild the semantic index and by consolidation pruning.
	ListEmbeddings(ctx context.Context, modelVersion string) ([]*packet.EmbeddingRecord, error)

	// PutCheckpoint persists a pipeline checkpoint. A later checkpoint
	// for the same packet replaces the visible latest.
	PutCheckpoint(ctx context.Context, c *packet.Checkpoint) error

	// GetLatestCheckpoint returns the most recent checkpoint for the
	// packet, or NotFoundError if the run never checkpointed.
	GetLatestCheckpoint(ctx context.Context, packetID string) (*packet.Checkpoint, error)

	// MarkExpired tombstones envelopes whose TTL has passed before the
	// given instant. Logical deletion only; returns the count marked.
	MarkExpired(ctx context.Context, before time.Time) (int, error)

	// MarkEmbeddingPending flags or clears the packet's pending-embedding
	// state, used by the degraded Embed path and its background sweep.
	MarkEmbeddingPending(ctx context.Context, packetID string, pending bool) error

	// PendingEmbeddings returns the packet ids awaiting an embedding retry.
	PendingEmbeddings(ctx context.Context) ([]string, error)

	// Resumable returns the packet ids of live envelopes whose latest
	// checkpoint is missing or partial, i.e. runs to re-enter on restart.
	Resumable(ctx context.Context) ([]string, error)

	// Consolidation support; see the Consolidator interface notes below.

	// DuplicateGroups returns, per content hash held by more than one
	// live envelope, the envelopes ordered by creation time ascending.
	DuplicateGroups(ctx context.Context) (map[string][]*packet.Envelope, error)

	// Tombstone logically deletes an envelope. duplicateOf optionally
	// back-references the retained envelope for deduplicated rows.
	Tombstone(ctx context.Context, packetID string, duplicateOf string) error

	// ExpiredEnvelopes returns the packet ids tombstoned for TTL expiry
	// and not yet purged. Consolidation uses it to clear the semantic
	// index before physical removal.
	ExpiredEnvelopes(ctx context.Context) ([]string, error)

	// PurgeExpired physically removes envelopes that were tombstoned for
	// expiry before the cutoff and created before minAge. Returns the
	// count removed. Consolidation-only; never an online-path operation.
	PurgeExpired(ctx context.Context, tombstonedBefore, createdBefore time.Time) (int, error)

	// EmbeddingModelVersions returns the distinct model versions present
	// in the embeddings collection.
	EmbeddingModelVersions(ctx context.Context) ([]string, error)

	// PruneEmbeddings removes embedding records for the given superseded
	// model version. Returns the count removed.
	PruneEmbeddings(ctx context.Context, modelVersion string) (int, error)

	// Stats reports store counts for the health surface.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases the underlying resources.
	Close() error
}

// Stats is the repository's health/observability snapshot.
type Stats struct {
	LiveEnvelopes     int `json:"live_envelopes"`
	Tombstoned        int `json:"tombstoned"`
	Facts             int `json:"facts"`
	Embeddings        int `json:"embeddings"`
	Checkpoints       int `json:"checkpoints"`
	PendingEmbeddings int `json:"pending_embeddings"`
}
