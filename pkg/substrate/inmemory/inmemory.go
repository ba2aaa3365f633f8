// Package inmemory provides an in-process implementation of the substrate
// Repository, used for tests and zero-dependency local mode.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/papercomputeco/substrate/pkg/packet"
	"github.com/papercomputeco/substrate/pkg/substrate"
)

// row wraps an envelope with its storage-side lifecycle flags. The envelope
// itself is never mutated after insert.
type row struct {
	env          *packet.Envelope
	tombstoned   bool
	tombstonedAt time.Time
	expired      bool
	duplicateOf  string
	pending      bool
}

// Driver implements substrate.Repository over in-process maps.
type Driver struct {
	mu sync.RWMutex

	envelopes map[string]*row                               // packet id -> row
	byHash    map[string][]string                           // content hash -> packet ids
	facts     map[string]*packet.Fact                       // fact id -> fact
	byPacket  map[string][]string                           // packet id -> fact ids
	embeds    map[string]map[string]*packet.EmbeddingRecord // model version -> packet id -> record
	ckpts     map[string][]*packet.Checkpoint               // packet id -> checkpoints, oldest first
}

// NewDriver creates an empty in-memory repository.
func NewDriver() *Driver {
	return &Driver{
		envelopes: make(map[string]*row),
		byHash:    make(map[string][]string),
		facts:     make(map[string]*packet.Fact),
		byPacket:  make(map[string][]string),
		embeds:    make(map[string]map[string]*packet.EmbeddingRecord),
		ckpts:     make(map[string][]*packet.Checkpoint),
	}
}

// PutEnvelope persists an envelope. Duplicate packet ids are rejected with
// AlreadyExistsError carrying whether the stored content matches.
func (d *Driver) PutEnvelope(_ context.Context, e *packet.Envelope) error {
	if e == nil {
		return packet.ValidationError{Field: "envelope", Reason: "nil"}
	}
	if err := e.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.envelopes[e.PacketID]; ok {
		return substrate.AlreadyExistsError{
			PacketID:    e.PacketID,
			SameContent: existing.env.ContentHash == e.ContentHash,
		}
	}

	d.envelopes[e.PacketID] = &row{env: e}
	d.byHash[e.ContentHash] = append(d.byHash[e.ContentHash], e.PacketID)

	return nil
}

// GetEnvelope retrieves a live envelope and verifies its content hash.
func (d *Driver) GetEnvelope(_ context.Context, packetID string) (*packet.Envelope, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.envelopes[packetID]
	if !ok || r.tombstoned {
		return nil, substrate.NotFoundError{Kind: "envelope", ID: packetID}
	}

	if err := packet.VerifyHash(r.env); err != nil {
		return nil, err
	}

	return r.env, nil
}

// GetByContentHash returns live envelopes with the given hash, oldest first.
func (d *Driver) GetByContentHash(_ context.Context, contentHash string) ([]*packet.Envelope, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var result []*packet.Envelope
	for _, id := range d.byHash[contentHash] {
		if r, ok := d.envelopes[id]; ok && !r.tombstoned {
			result = append(result, r.env)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// HasEnvelope checks existence by packet id, tombstoned rows included.
func (d *Driver) HasEnvelope(_ context.Context, packetID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.envelopes[packetID]
	return ok, nil
}

// GetThread returns the thread's envelopes in lineage order, oldest first.
func (d *Driver) GetThread(_ context.Context, threadID string) ([]*packet.Envelope, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var members []*packet.Envelope
	for _, r := range d.envelopes {
		if r.tombstoned || r.env.ThreadID == nil || *r.env.ThreadID != threadID {
			continue
		}
		members = append(members, r.env)
	}

	return substrate.OrderThread(threadID, members)
}

// PutFact persists a fact. Idempotent by fact id.
func (d *Driver) PutFact(_ context.Context, f *packet.Fact) error {
	if f == nil {
		return packet.ValidationError{Field: "fact", Reason: "nil"}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.facts[f.FactID]; ok {
		return nil
	}

	d.facts[f.FactID] = f
	for _, pid := range f.SourcePacketIDs {
		d.byPacket[pid] = append(d.byPacket[pid], f.FactID)
	}

	return nil
}

// GetFactsByPacket returns facts derived from the given envelope,
// oldest first by fact id (ULIDs sort by creation time).
func (d *Driver) GetFactsByPacket(_ context.Context, packetID string) ([]*packet.Fact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := d.byPacket[packetID]
	result := make([]*packet.Fact, 0, len(ids))
	for _, id := range ids {
		if f, ok := d.facts[id]; ok {
			result = append(result, f)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FactID < result[j].FactID
	})

	return result, nil
}

// SupersedeFact marks a fact as superseded. The stored fact value is
// replaced with a copy carrying the back-reference; the original statement
// is untouched.
func (d *Driver) SupersedeFact(_ context.Context, factID, supersededBy string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, ok := d.facts[factID]
	if !ok {
		return substrate.NotFoundError{Kind: "fact", ID: factID}
	}

	updated := *f
	updated.SupersededBy = &supersededBy
	d.facts[factID] = &updated

	return nil
}

// PutEmbedding persists an embedding record, idempotent by
// (packet_id, model_version).
func (d *Driver) PutEmbedding(_ context.Context, r *packet.EmbeddingRecord) error {
	if r == nil {
		return packet.ValidationError{Field: "embedding", Reason: "nil"}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	byPacket, ok := d.embeds[r.ModelVersion]
	if !ok {
		byPacket = make(map[string]*packet.EmbeddingRecord)
		d.embeds[r.ModelVersion] = byPacket
	}

	if _, ok := byPacket[r.PacketID]; ok {
		return nil
	}
	byPacket[r.PacketID] = r

	return nil
}

// GetEmbedding retrieves the embedding for one envelope and model version.
func (d *Driver) GetEmbedding(_ context.Context, packetID, modelVersion string) (*packet.EmbeddingRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if r, ok := d.embeds[modelVersion][packetID]; ok {
		return r, nil
	}

	return nil, substrate.NotFoundError{Kind: "embedding", ID: packetID + "@" + modelVersion}
}

// ListEmbeddings returns all embedding records for a model version.
func (d *Driver) ListEmbeddings(_ context.Context, modelVersion string) ([]*packet.EmbeddingRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	byPacket := d.embeds[modelVersion]
	result := make([]*packet.EmbeddingRecord, 0, len(byPacket))
	for _, r := range byPacket {
		result = append(result, r)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// PutCheckpoint appends a checkpoint for the packet.
func (d *Driver) PutCheckpoint(_ context.Context, c *packet.Checkpoint) error {
	if c == nil {
		return packet.ValidationError{Field: "checkpoint", Reason: "nil"}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.ckpts[c.PacketID] = append(d.ckpts[c.PacketID], c)
	return nil
}

// GetLatestCheckpoint returns the most recent checkpoint for the packet.
func (d *Driver) GetLatestCheckpoint(_ context.Context, packetID string) (*packet.Checkpoint, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := d.ckpts[packetID]
	if len(list) == 0 {
		return nil, substrate.NotFoundError{Kind: "checkpoint", ID: packetID}
	}

	return list[len(list)-1], nil
}

// MarkExpired tombstones live envelopes whose TTL passed before the cutoff.
func (d *Driver) MarkExpired(_ context.Context, before time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	count := 0
	now := time.Now().UTC()
	for _, r := range d.envelopes {
		if r.tombstoned || r.env.TTL == nil || !r.env.TTL.Before(before) {
			continue
		}
		r.tombstoned = true
		r.tombstonedAt = now
		r.expired = true
		count++
	}

	return count, nil
}

// MarkEmbeddingPending flags or clears the packet's pending-embedding state.
func (d *Driver) MarkEmbeddingPending(_ context.Context, packetID string, pending bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.envelopes[packetID]
	if !ok {
		return substrate.NotFoundError{Kind: "envelope", ID: packetID}
	}
	r.pending = pending

	return nil
}

// PendingEmbeddings returns the live packet ids awaiting an embedding retry.
func (d *Driver) PendingEmbeddings(_ context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ids []string
	for id, r := range d.envelopes {
		if r.pending && !r.tombstoned {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	return ids, nil
}

// Resumable returns live packet ids whose latest checkpoint is missing or
// records a strict prefix of the canonical stage sequence.
func (d *Driver) Resumable(_ context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ids []string
	for id, r := range d.envelopes {
		if r.tombstoned {
			continue
		}
		list := d.ckpts[id]
		if len(list) == 0 || !list[len(list)-1].Complete() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	return ids, nil
}

// DuplicateGroups returns live envelopes grouped by shared content hash,
// only for hashes held by more than one packet id, oldest first per group.
func (d *Driver) DuplicateGroups(_ context.Context) (map[string][]*packet.Envelope, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	groups := make(map[string][]*packet.Envelope)
	for hash, ids := range d.byHash {
		var live []*packet.Envelope
		for _, id := range ids {
			if r, ok := d.envelopes[id]; ok && !r.tombstoned {
				live = append(live, r.env)
			}
		}
		if len(live) > 1 {
			sort.Slice(live, func(i, j int) bool {
				return live[i].CreatedAt.Before(live[j].CreatedAt)
			})
			groups[hash] = live
		}
	}

	return groups, nil
}

// Tombstone logically deletes an envelope, optionally back-referencing the
// retained duplicate.
func (d *Driver) Tombstone(_ context.Context, packetID string, duplicateOf string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.envelopes[packetID]
	if !ok {
		return substrate.NotFoundError{Kind: "envelope", ID: packetID}
	}

	r.tombstoned = true
	r.tombstonedAt = time.Now().UTC()
	r.duplicateOf = duplicateOf

	return nil
}

// ExpiredEnvelopes returns packet ids tombstoned for TTL expiry and not yet
// purged.
func (d *Driver) ExpiredEnvelopes(_ context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ids []string
	for id, r := range d.envelopes {
		if r.expired {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	return ids, nil
}

// PurgeExpired physically removes expiry-tombstoned envelopes past the grace
// period and older than the minimum age.
func (d *Driver) PurgeExpired(_ context.Context, tombstonedBefore, createdBefore time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	count := 0
	for id, r := range d.envelopes {
		if !r.expired || !r.tombstonedAt.Before(tombstonedBefore) || !r.env.CreatedAt.Before(createdBefore) {
			continue
		}

		delete(d.envelopes, id)
		d.byHash[r.env.ContentHash] = remove(d.byHash[r.env.ContentHash], id)
		count++
	}

	return count, nil
}

// PruneEmbeddings removes all embedding records for a superseded model version.
func (d *Driver) PruneEmbeddings(_ context.Context, modelVersion string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	count := len(d.embeds[modelVersion])
	delete(d.embeds, modelVersion)

	return count, nil
}

// EmbeddingModelVersions returns the distinct model versions present in the
// embeddings collection.
func (d *Driver) EmbeddingModelVersions(_ context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	versions := make([]string, 0, len(d.embeds))
	for v, byPacket := range d.embeds {
		if len(byPacket) > 0 {
			versions = append(versions, v)
		}
	}
	sort.Strings(versions)

	return versions, nil
}

// Stats reports store counts for the health surface.
func (d *Driver) Stats(_ context.Context) (*substrate.Stats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := &substrate.Stats{Facts: len(d.facts)}
	for _, r := range d.envelopes {
		if r.tombstoned {
			s.Tombstoned++
		} else {
			s.LiveEnvelopes++
		}
		if r.pending && !r.tombstoned {
			s.PendingEmbeddings++
		}
	}
	for _, byPacket := range d.embeds {
		s.Embeddings += len(byPacket)
	}
	for _, list := range d.ckpts {
		s.Checkpoints += len(list)
	}

	return s, nil
}

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error {
	return nil
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Ensure Driver implements the repository contract.
var _ substrate.Repository = (*Driver)(nil)
