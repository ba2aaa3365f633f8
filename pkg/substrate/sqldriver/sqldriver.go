// Package sqldriver implements the substrate repository over database/sql.
// It is shared by the sqlite and postgres packages, which differ only in the
// driver they register, the placeholder style, and a few column types.
package sqldriver

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/papercomputeco/substrate/pkg/packet"
	"github.com/papercomputeco/substrate/pkg/substrate"
)

// Dialect selects placeholder style and column-type quirks.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// timeLayout is RFC 3339 with fixed-width nanoseconds so that stored
// timestamps compare chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Driver implements substrate.Repository over a *sql.DB.
type Driver struct {
	db      *sql.DB
	dialect Dialect
}

// NewDriver wraps an open database handle and runs migration.
func NewDriver(db *sql.DB, dialect Dialect) (*Driver, error) {
	d := &Driver{db: db, dialect: dialect}

	if err := d.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return d, nil
}

// migrate creates the four logical collections if they don't exist.
// Schema changes are append-only: new tables, columns, indexes.
func (d *Driver) migrate() error {
	blob := "BLOB"
	if d.dialect == DialectPostgres {
		blob = "BYTEA"
	}

	schema := `
	CREATE TABLE IF NOT EXISTS envelopes (
		packet_id TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		packet_type TEXT NOT NULL,
		thread_id TEXT,
		lineage TEXT,
		tags TEXT NOT NULL DEFAULT '[]',
		ttl TEXT,
		payload TEXT NOT NULL,
		metadata TEXT,
		created_at TEXT NOT NULL,
		tombstoned INTEGER NOT NULL DEFAULT 0,
		tombstoned_at TEXT,
		expired INTEGER NOT NULL DEFAULT 0,
		duplicate_of TEXT,
		embedding_pending INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_envelopes_content_hash ON envelopes(content_hash);
	CREATE INDEX IF NOT EXISTS idx_envelopes_thread_id ON envelopes(thread_id);

	CREATE TABLE IF NOT EXISTS facts (
		fact_id TEXT PRIMARY KEY,
		source_packet_ids TEXT NOT NULL,
		subject TEXT NOT NULL,
		predicate TEXT NOT NULL,
		object TEXT NOT NULL,
		confidence REAL NOT NULL,
		derived_at TEXT NOT NULL,
		superseded_by TEXT
	);

	CREATE TABLE IF NOT EXISTS fact_sources (
		fact_id TEXT NOT NULL,
		packet_id TEXT NOT NULL,
		PRIMARY KEY (fact_id, packet_id)
	);

	CREATE INDEX IF NOT EXISTS idx_fact_sources_packet ON fact_sources(packet_id);

	CREATE TABLE IF NOT EXISTS embeddings (
		packet_id TEXT NOT NULL,
		model_version TEXT NOT NULL,
		vector ` + blob + ` NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (packet_id, model_version)
	);

	CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(model_version);

	CREATE TABLE IF NOT EXISTS checkpoints (
		checkpoint_id TEXT PRIMARY KEY,
		packet_id TEXT NOT NULL,
		stages TEXT NOT NULL,
		stages_skipped TEXT NOT NULL DEFAULT '[]',
		completed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_packet ON checkpoints(packet_id);
	`

	_, err := d.db.Exec(schema)
	return err
}

// rebind converts ?-style placeholders to $n for postgres.
func (d *Driver) rebind(query string) string {
	if d.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}

// PutEnvelope persists an envelope, rejecting duplicate packet ids.
func (d *Driver) PutEnvelope(ctx context.Context, e *packet.Envelope) error {
	if e == nil {
		return packet.ValidationError{Field: "envelope", Reason: "nil"}
	}
	if err := e.Validate(); err != nil {
		return err
	}

	var existingHash string
	err := d.db.QueryRowContext(ctx,
		d.rebind(`SELECT content_hash FROM envelopes WHERE packet_id = ?`), e.PacketID,
	).Scan(&existingHash)
	switch {
	case err == nil:
		return substrate.AlreadyExistsError{
			PacketID:    e.PacketID,
			SameContent: existingHash == e.ContentHash,
		}
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("checking for existing envelope: %w", err)
	}

	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	tagsJSON, err := json.Marshal(e.Tags)
	if err != nil {
		return fmt.Errorf("marshaling tags: %w", err)
	}
	metadataJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	_, err = d.db.ExecContext(ctx, d.rebind(`
		INSERT INTO envelopes
			(packet_id, content_hash, packet_type, thread_id, lineage, tags, ttl, payload, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.PacketID, e.ContentHash, e.PacketType,
		nullable(e.ThreadID), nullable(e.Lineage),
		string(tagsJSON), nullableTime(e.TTL),
		string(payloadJSON), string(metadataJSON),
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting envelope: %w", err)
	}

	return nil
}

const envelopeColumns = `packet_id, content_hash, packet_type, thread_id, lineage, tags, ttl, payload, metadata, created_at`

// GetEnvelope retrieves a live envelope and verifies its content hash.
func (d *Driver) GetEnvelope(ctx context.Context, packetID string) (*packet.Envelope, error) {
	row := d.db.QueryRowContext(ctx,
		d.rebind(`SELECT `+envelopeColumns+` FROM envelopes WHERE packet_id = ? AND tombstoned = 0`),
		packetID,
	)

	e, err := scanEnvelope(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, substrate.NotFoundError{Kind: "envelope", ID: packetID}
	}
	if err != nil {
		return nil, err
	}

	if err := packet.VerifyHash(e); err != nil {
		return nil, err
	}

	return e, nil
}

// GetByContentHash returns live envelopes with the given hash, oldest first.
func (d *Driver) GetByContentHash(ctx context.Context, contentHash string) ([]*packet.Envelope, error) {
	rows, err := d.db.QueryContext(ctx,
		d.rebind(`SELECT `+envelopeColumns+` FROM envelopes
		 WHERE content_hash = ? AND tombstoned = 0 ORDER BY created_at`),
		contentHash,
	)
	if err != nil {
		return nil, fmt.Errorf("querying by content hash: %w", err)
	}
	defer rows.Close()

	return scanEnvelopes(rows)
}

// HasEnvelope checks existence by packet id, tombstoned rows included.
func (d *Driver) HasEnvelope(ctx context.Context, packetID string) (bool, error) {
	var exists int
	err := d.db.QueryRowContext(ctx,
		d.rebind(`SELECT 1 FROM envelopes WHERE packet_id = ? LIMIT 1`), packetID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking existence: %w", err)
	}

	return true, nil
}

// GetThread returns the thread's envelopes in lineage order, oldest first.
func (d *Driver) GetThread(ctx context.Context, threadID string) ([]*packet.Envelope, error) {
	rows, err := d.db.QueryContext(ctx,
		d.rebind(`SELECT `+envelopeColumns+` FROM envelopes WHERE thread_id = ? AND tombstoned = 0`),
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}
	defer rows.Close()

	members, err := scanEnvelopes(rows)
	if err != nil {
		return nil, err
	}

	return substrate.OrderThread(threadID, members)
}

// PutFact persists a fact. Idempotent by fact id.
func (d *Driver) PutFact(ctx context.Context, f *packet.Fact) error {
	if f == nil {
		return packet.ValidationError{Field: "fact", Reason: "nil"}
	}

	sourcesJSON, err := json.Marshal(f.SourcePacketIDs)
	if err != nil {
		return fmt.Errorf("marshaling source packet ids: %w", err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, d.rebind(`
		INSERT INTO facts
			(fact_id, source_packet_ids, subject, predicate, object, confidence, derived_at, superseded_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fact_id) DO NOTHING`),
		f.FactID, string(sourcesJSON),
		f.Statement.Subject, f.Statement.Predicate, f.Statement.Object,
		f.Confidence, f.DerivedAt.UTC().Format(timeLayout),
		nullable(f.SupersededBy),
	)
	if err != nil {
		return fmt.Errorf("inserting fact: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		for _, pid := range f.SourcePacketIDs {
			if _, err := tx.ExecContext(ctx, d.rebind(`
				INSERT INTO fact_sources (fact_id, packet_id) VALUES (?, ?)
				ON CONFLICT (fact_id, packet_id) DO NOTHING`),
				f.FactID, pid,
			); err != nil {
				return fmt.Errorf("inserting fact source: %w", err)
			}
		}
	}

	return tx.Commit()
}

// GetFactsByPacket returns facts derived from the given envelope, oldest
// first (fact ids are ULIDs, so lexicographic order is creation order).
func (d *Driver) GetFactsByPacket(ctx context.Context, packetID string) ([]*packet.Fact, error) {
	rows, err := d.db.QueryContext(ctx, d.rebind(`
		SELECT f.fact_id, f.source_packet_ids, f.subject, f.predicate, f.object,
		       f.confidence, f.derived_at, f.superseded_by
		FROM facts f
		INNER JOIN fact_sources fs ON fs.fact_id = f.fact_id
		WHERE fs.packet_id = ?
		ORDER BY f.fact_id`),
		packetID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying facts: %w", err)
	}
	defer rows.Close()

	var facts []*packet.Fact
	for rows.Next() {
		var f packet.Fact
		var sourcesJSON, derivedAt string
		var supersededBy sql.NullString

		if err := rows.Scan(
			&f.FactID, &sourcesJSON,
			&f.Statement.Subject, &f.Statement.Predicate, &f.Statement.Object,
			&f.Confidence, &derivedAt, &supersededBy,
		); err != nil {
			return nil, fmt.Errorf("scanning fact: %w", err)
		}

		if err := json.Unmarshal([]byte(sourcesJSON), &f.SourcePacketIDs); err != nil {
			return nil, fmt.Errorf("unmarshaling source packet ids: %w", err)
		}
		if f.DerivedAt, err = time.Parse(time.RFC3339Nano, derivedAt); err != nil {
			return nil, fmt.Errorf("parsing derived_at: %w", err)
		}
		if supersededBy.Valid {
			f.SupersededBy = &supersededBy.String
		}

		facts = append(facts, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating facts: %w", err)
	}

	return facts, nil
}

// SupersedeFact marks a fact as superseded by another.
func (d *Driver) SupersedeFact(ctx context.Context, factID, supersededBy string) error {
	res, err := d.db.ExecContext(ctx,
		d.rebind(`UPDATE facts SET superseded_by = ? WHERE fact_id = ?`),
		supersededBy, factID,
	)
	if err != nil {
		return fmt.Errorf("superseding fact: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return substrate.NotFoundError{Kind: "fact", ID: factID}
	}

	return nil
}

// PutEmbedding persists an embedding record, idempotent by
// (packet_id, model_version).
func (d *Driver) PutEmbedding(ctx context.Context, r *packet.EmbeddingRecord) error {
	if r == nil {
		return packet.ValidationError{Field: "embedding", Reason: "nil"}
	}

	_, err := d.db.ExecContext(ctx, d.rebind(`
		INSERT INTO embeddings (packet_id, model_version, vector, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (packet_id, model_version) DO NOTHING`),
		r.PacketID, r.ModelVersion,
		serializeFloat32(r.Vector),
		r.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting embedding: %w", err)
	}

	return nil
}

// GetEmbedding retrieves the embedding for one envelope and model version.
func (d *Driver) GetEmbedding(ctx context.Context, packetID, modelVersion string) (*packet.EmbeddingRecord, error) {
	var blob []byte
	var createdAt string

	err := d.db.QueryRowContext(ctx,
		d.rebind(`SELECT vector, created_at FROM embeddings WHERE packet_id = ? AND model_version = ?`),
		packetID, modelVersion,
	).Scan(&blob, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, substrate.NotFoundError{Kind: "embedding", ID: packetID + "@" + modelVersion}
	}
	if err != nil {
		return nil, fmt.Errorf("querying embedding: %w", err)
	}

	vec, err := deserializeFloat32(blob)
	if err != nil {
		return nil, err
	}

	r := &packet.EmbeddingRecord{
		PacketID:     packetID,
		ModelVersion: modelVersion,
		Vector:       vec,
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return r, nil
}

// ListEmbeddings returns all embedding records for a model version.
func (d *Driver) ListEmbeddings(ctx context.Context, modelVersion string) ([]*packet.EmbeddingRecord, error) {
	rows, err := d.db.QueryContext(ctx,
		d.rebind(`SELECT packet_id, vector, created_at FROM embeddings
		 WHERE model_version = ? ORDER BY created_at`),
		modelVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	var records []*packet.EmbeddingRecord
	for rows.Next() {
		var blob []byte
		var createdAt string
		r := &packet.EmbeddingRecord{ModelVersion: modelVersion}

		if err := rows.Scan(&r.PacketID, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning embedding: %w", err)
		}
		if r.Vector, err = deserializeFloat32(blob); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating embeddings: %w", err)
	}

	return records, nil
}

// PutCheckpoint appends a checkpoint for the packet.
func (d *Driver) PutCheckpoint(ctx context.Context, c *packet.Checkpoint) error {
	if c == nil {
		return packet.ValidationError{Field: "checkpoint", Reason: "nil"}
	}

	stagesJSON, err := json.Marshal(c.StagesCompleted)
	if err != nil {
		return fmt.Errorf("marshaling stages: %w", err)
	}
	skipped := c.StagesSkipped
	if skipped == nil {
		skipped = []packet.Stage{}
	}
	skippedJSON, err := json.Marshal(skipped)
	if err != nil {
		return fmt.Errorf("marshaling skipped stages: %w", err)
	}

	_, err = d.db.ExecContext(ctx, d.rebind(`
		INSERT INTO checkpoints (checkpoint_id, packet_id, stages, stages_skipped, completed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (checkpoint_id) DO NOTHING`),
		c.CheckpointID, c.PacketID, string(stagesJSON), string(skippedJSON),
		c.CompletedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting checkpoint: %w", err)
	}

	return nil
}

// GetLatestCheckpoint returns the most recent checkpoint for the packet.
// Checkpoint ids are ULIDs, so lexicographic order is creation order.
func (d *Driver) GetLatestCheckpoint(ctx context.Context, packetID string) (*packet.Checkpoint, error) {
	var c packet.Checkpoint
	var stagesJSON, skippedJSON, completedAt string

	err := d.db.QueryRowContext(ctx,
		d.rebind(`SELECT checkpoint_id, packet_id, stages, stages_skipped, completed_at FROM checkpoints
		 WHERE packet_id = ? ORDER BY checkpoint_id DESC LIMIT 1`),
		packetID,
	).Scan(&c.CheckpointID, &c.PacketID, &stagesJSON, &skippedJSON, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, substrate.NotFoundError{Kind: "checkpoint", ID: packetID}
	}
	if err != nil {
		return nil, fmt.Errorf("querying checkpoint: %w", err)
	}

	if err := json.Unmarshal([]byte(stagesJSON), &c.StagesCompleted); err != nil {
		return nil, fmt.Errorf("unmarshaling stages: %w", err)
	}
	if err := json.Unmarshal([]byte(skippedJSON), &c.StagesSkipped); err != nil {
		return nil, fmt.Errorf("unmarshaling skipped stages: %w", err)
	}
	if len(c.StagesSkipped) == 0 {
		c.StagesSkipped = nil
	}
	if c.CompletedAt, err = time.Parse(time.RFC3339Nano, completedAt); err != nil {
		return nil, fmt.Errorf("parsing completed_at: %w", err)
	}

	return &c, nil
}

// MarkExpired tombstones live envelopes whose TTL passed before the cutoff.
func (d *Driver) MarkExpired(ctx context.Context, before time.Time) (int, error) {
	res, err := d.db.ExecContext(ctx, d.rebind(`
		UPDATE envelopes
		SET tombstoned = 1, tombstoned_at = ?, expired = 1
		WHERE tombstoned = 0 AND ttl IS NOT NULL AND ttl < ?`),
		time.Now().UTC().Format(timeLayout),
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("marking expired: %w", err)
	}

	n, err := res.RowsAffected()
	return int(n), err
}

// MarkEmbeddingPending flags or clears the packet's pending-embedding state.
func (d *Driver) MarkEmbeddingPending(ctx context.Context, packetID string, pending bool) error {
	flag := 0
	if pending {
		flag = 1
	}

	res, err := d.db.ExecContext(ctx,
		d.rebind(`UPDATE envelopes SET embedding_pending = ? WHERE packet_id = ?`),
		flag, packetID,
	)
	if err != nil {
		return fmt.Errorf("marking embedding pending: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return substrate.NotFoundError{Kind: "envelope", ID: packetID}
	}

	return nil
}

// PendingEmbeddings returns the live packet ids awaiting an embedding retry.
func (d *Driver) PendingEmbeddings(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT packet_id FROM envelopes
		WHERE embedding_pending = 1 AND tombstoned = 0 ORDER BY packet_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying pending embeddings: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// Resumable returns live packet ids whose latest checkpoint is missing or
// partial.
func (d *Driver) Resumable(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT e.packet_id, c.stages, c.stages_skipped
		FROM envelopes e
		LEFT JOIN checkpoints c ON c.checkpoint_id = (
			SELECT checkpoint_id FROM checkpoints
			WHERE packet_id = e.packet_id
			ORDER BY checkpoint_id DESC LIMIT 1
		)
		WHERE e.tombstoned = 0
		ORDER BY e.packet_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying resumable packets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		var stagesJSON, skippedJSON sql.NullString

		if err := rows.Scan(&id, &stagesJSON, &skippedJSON); err != nil {
			return nil, fmt.Errorf("scanning resumable row: %w", err)
		}

		if !stagesJSON.Valid {
			ids = append(ids, id)
			continue
		}

		c := packet.Checkpoint{PacketID: id}
		if err := json.Unmarshal([]byte(stagesJSON.String), &c.StagesCompleted); err != nil {
			return nil, fmt.Errorf("unmarshaling stages: %w", err)
		}
		if skippedJSON.Valid {
			if err := json.Unmarshal([]byte(skippedJSON.String), &c.StagesSkipped); err != nil {
				return nil, fmt.Errorf("unmarshaling skipped stages: %w", err)
			}
		}
		if !c.Complete() {
			ids = append(ids, id)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating resumable rows: %w", err)
	}

	return ids, nil
}

// DuplicateGroups returns live envelopes grouped by shared content hash,
// only for hashes held by more than one packet id, oldest first per group.
func (d *Driver) DuplicateGroups(ctx context.Context) (map[string][]*packet.Envelope, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+envelopeColumns+` FROM envelopes
		WHERE tombstoned = 0 AND content_hash IN (
			SELECT content_hash FROM envelopes
			WHERE tombstoned = 0
			GROUP BY content_hash HAVING COUNT(*) > 1
		)
		ORDER BY content_hash, created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying duplicate groups: %w", err)
	}
	defer rows.Close()

	envs, err := scanEnvelopes(rows)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]*packet.Envelope)
	for _, e := range envs {
		groups[e.ContentHash] = append(groups[e.ContentHash], e)
	}

	return groups, nil
}

// Tombstone logically deletes an envelope, optionally back-referencing the
// retained duplicate.
func (d *Driver) Tombstone(ctx context.Context, packetID string, duplicateOf string) error {
	res, err := d.db.ExecContext(ctx, d.rebind(`
		UPDATE envelopes SET tombstoned = 1, tombstoned_at = ?, duplicate_of = ?
		WHERE packet_id = ?`),
		time.Now().UTC().Format(timeLayout),
		sql.NullString{String: duplicateOf, Valid: duplicateOf != ""},
		packetID,
	)
	if err != nil {
		return fmt.Errorf("tombstoning envelope: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return substrate.NotFoundError{Kind: "envelope", ID: packetID}
	}

	return nil
}

// ExpiredEnvelopes returns packet ids tombstoned for TTL expiry and not yet
// purged.
func (d *Driver) ExpiredEnvelopes(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT packet_id FROM envelopes
		WHERE expired = 1 AND tombstoned = 1 ORDER BY packet_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying expired envelopes: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// PurgeExpired physically removes expiry-tombstoned envelopes past the grace
// period and older than the minimum age.
func (d *Driver) PurgeExpired(ctx context.Context, tombstonedBefore, createdBefore time.Time) (int, error) {
	res, err := d.db.ExecContext(ctx, d.rebind(`
		DELETE FROM envelopes
		WHERE expired = 1 AND tombstoned = 1
		  AND tombstoned_at < ? AND created_at < ?`),
		tombstonedBefore.UTC().Format(timeLayout),
		createdBefore.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("purging expired envelopes: %w", err)
	}

	n, err := res.RowsAffected()
	return int(n), err
}

// PruneEmbeddings removes all embedding records for a superseded model version.
func (d *Driver) PruneEmbeddings(ctx context.Context, modelVersion string) (int, error) {
	res, err := d.db.ExecContext(ctx,
		d.rebind(`DELETE FROM embeddings WHERE model_version = ?`), modelVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning embeddings: %w", err)
	}

	n, err := res.RowsAffected()
	return int(n), err
}

// EmbeddingModelVersions returns the distinct model versions present in the
// embeddings collection.
func (d *Driver) EmbeddingModelVersions(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT DISTINCT model_version FROM embeddings ORDER BY model_version`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying model versions: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// Stats reports store counts for the health surface.
func (d *Driver) Stats(ctx context.Context) (*substrate.Stats, error) {
	s := &substrate.Stats{}

	err := d.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN tombstoned = 0 THEN 1 END),
			COUNT(CASE WHEN tombstoned = 1 THEN 1 END),
			COUNT(CASE WHEN embedding_pending = 1 AND tombstoned = 0 THEN 1 END)
		FROM envelopes`,
	).Scan(&s.LiveEnvelopes, &s.Tombstoned, &s.PendingEmbeddings)
	if err != nil {
		return nil, fmt.Errorf("counting envelopes: %w", err)
	}

	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts`).Scan(&s.Facts); err != nil {
		return nil, fmt.Errorf("counting facts: %w", err)
	}
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&s.Embeddings); err != nil {
		return nil, fmt.Errorf("counting embeddings: %w", err)
	}
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM checkpoints`).Scan(&s.Checkpoints); err != nil {
		return nil, fmt.Errorf("counting checkpoints: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	return d.db.Close()
}

// scanEnvelope scans a single row into an Envelope.
func scanEnvelope(row *sql.Row) (*packet.Envelope, error) {
	var e packet.Envelope
	var threadID, lineage, ttl sql.NullString
	var tagsJSON, payloadJSON, createdAt string
	var metadataJSON sql.NullString

	err := row.Scan(
		&e.PacketID, &e.ContentHash, &e.PacketType,
		&threadID, &lineage, &tagsJSON, &ttl,
		&payloadJSON, &metadataJSON, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	return buildEnvelope(&e, threadID, lineage, ttl, tagsJSON, payloadJSON, metadataJSON, createdAt)
}

// scanEnvelopes scans multiple rows into Envelopes.
func scanEnvelopes(rows *sql.Rows) ([]*packet.Envelope, error) {
	var envs []*packet.Envelope

	for rows.Next() {
		var e packet.Envelope
		var threadID, lineage, ttl sql.NullString
		var tagsJSON, payloadJSON, createdAt string
		var metadataJSON sql.NullString

		if err := rows.Scan(
			&e.PacketID, &e.ContentHash, &e.PacketType,
			&threadID, &lineage, &tagsJSON, &ttl,
			&payloadJSON, &metadataJSON, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning envelope: %w", err)
		}

		built, err := buildEnvelope(&e, threadID, lineage, ttl, tagsJSON, payloadJSON, metadataJSON, createdAt)
		if err != nil {
			return nil, err
		}
		envs = append(envs, built)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating envelopes: %w", err)
	}

	return envs, nil
}

func buildEnvelope(
	e *packet.Envelope,
	threadID, lineage, ttl sql.NullString,
	tagsJSON, payloadJSON string,
	metadataJSON sql.NullString,
	createdAt string,
) (*packet.Envelope, error) {
	if threadID.Valid {
		e.ThreadID = &threadID.String
	}
	if lineage.Valid {
		e.Lineage = &lineage.String
	}
	if ttl.Valid {
		t, err := time.Parse(time.RFC3339Nano, ttl.String)
		if err != nil {
			return nil, fmt.Errorf("parsing ttl: %w", err)
		}
		e.TTL = &t
	}

	if err := json.Unmarshal([]byte(tagsJSON), &e.Tags); err != nil {
		return nil, fmt.Errorf("unmarshaling tags: %w", err)
	}
	if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
		return nil, fmt.Errorf("unmarshaling payload: %w", err)
	}
	if metadataJSON.Valid && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}

	var err error
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return e, nil
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ids: %w", err)
	}

	return ids, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

// serializeFloat32 converts a float32 slice to a little-endian byte slice.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeFloat32 converts a little-endian byte slice back to float32s.
func deserializeFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d: must be divisible by 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// Ensure Driver implements the repository contract.
var _ substrate.Repository = (*Driver)(nil)
