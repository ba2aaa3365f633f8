// Package sqlitevec provides a SQLite-backed semantic index using sqlite-vec.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/papercomputeco/substrate/pkg/semindex"
)

// timeLayout stores created_at fixed-width so text comparison is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Index implements semindex.Index using SQLite with sqlite-vec.
type Index struct {
	db     *sql.DB
	logger *zap.Logger
}

// Config holds configuration for the sqlite-vec index.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string

	// Dimensions is the width of the embedding vectors.
	Dimensions uint
}

// NewIndex creates a sqlite-vec backed semantic index.
func NewIndex(c Config, logger *zap.Logger) (*Index, error) {
	// enable connections to load the sqlite-vec extension
	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("sqlite-vec embedding dimensions cannot be 0, must be configured")
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Verify sqlite-vec is loaded
	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec not available: %w", err)
	}

	// Mapping table from packet ids to vec0 integer rowids, carrying the
	// filterable metadata. Tags are stored comma-delimited with sentinel
	// commas so a single LIKE matches whole tags only.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS vec_documents (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			packet_id TEXT NOT NULL UNIQUE,
			packet_type TEXT NOT NULL DEFAULT '',
			thread_id TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT ',,',
			created_at TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating documents table: %w", err)
	}

	// vec0 virtual table for vector storage and KNN queries, rowid-aligned
	// with vec_documents.
	createVec := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(embedding float[%d] distance_metric=cosine)`,
		c.Dimensions,
	)
	if _, err := db.Exec(createVec); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating vec0 table: %w", err)
	}

	logger.Info("sqlite-vec semantic index initialized",
		zap.String("db_path", c.DBPath),
		zap.Uint("dimensions", c.Dimensions),
		zap.String("vec_version", vecVersion),
	)

	return &Index{db: db, logger: logger}, nil
}

// Index upserts a document.
func (i *Index) Index(ctx context.Context, doc semindex.Document) error {
	if len(doc.Vector) == 0 {
		return semindex.ErrEmptyVector
	}

	embBlob := serializeFloat32(doc.Vector)
	tags := "," + strings.Join(doc.Tags, ",") + ","

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var existingRowID int64
	err = tx.QueryRowContext(ctx,
		`SELECT rowid FROM vec_documents WHERE packet_id = ?`, doc.PacketID,
	).Scan(&existingRowID)

	switch err {
	case nil:
		if _, err := tx.ExecContext(ctx, `
			UPDATE vec_documents SET packet_type = ?, thread_id = ?, tags = ?, created_at = ?
			WHERE rowid = ?`,
			doc.PacketType, doc.ThreadID, tags,
			doc.CreatedAt.UTC().Format(timeLayout), existingRowID,
		); err != nil {
			return fmt.Errorf("updating document %s: %w", doc.PacketID, err)
		}

		// vec0 does not support UPDATE, so replace via DELETE + INSERT
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM vec_embeddings WHERE rowid = ?`, existingRowID,
		); err != nil {
			return fmt.Errorf("deleting old embedding for %s: %w", doc.PacketID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vec_embeddings(rowid, embedding) VALUES (?, ?)`,
			existingRowID, embBlob,
		); err != nil {
			return fmt.Errorf("re-inserting embedding for %s: %w", doc.PacketID, err)
		}
	case sql.ErrNoRows:
		result, err := tx.ExecContext(ctx, `
			INSERT INTO vec_documents(packet_id, packet_type, thread_id, tags, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			doc.PacketID, doc.PacketType, doc.ThreadID, tags,
			doc.CreatedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("inserting document %s: %w", doc.PacketID, err)
		}

		rowID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("getting rowid for %s: %w", doc.PacketID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vec_embeddings(rowid, embedding) VALUES (?, ?)`,
			rowID, embBlob,
		); err != nil {
			return fmt.Errorf("inserting embedding for %s: %w", doc.PacketID, err)
		}
	default:
		return fmt.Errorf("checking for existing document %s: %w", doc.PacketID, err)
	}

	return tx.Commit()
}

// Search runs a filtered KNN query. The metadata filter is applied as a
// rowid pre-filter inside the vec0 MATCH so ranking only sees candidates.
func (i *Index) Search(ctx context.Context, vector []float32, k int, f semindex.Filter) ([]semindex.Match, error) {
	if k <= 0 {
		return nil, semindex.ErrInvalidK
	}
	if len(vector) == 0 {
		return nil, semindex.ErrEmptyVector
	}

	queryBlob := serializeFloat32(vector)

	where, args := filterClause(f)
	query := fmt.Sprintf(`
		SELECT d.packet_id, ve.distance
		FROM vec_embeddings ve
		INNER JOIN vec_documents d ON d.rowid = ve.rowid
		WHERE ve.embedding MATCH ?
			AND ve.k = ?
			AND ve.rowid IN (SELECT rowid FROM vec_documents WHERE %s)
		ORDER BY ve.distance, d.created_at DESC`,
		where,
	)

	queryArgs := append([]any{queryBlob, k}, args...)
	rows, err := i.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var matches []semindex.Match
	for rows.Next() {
		var packetID string
		var distance float64
		if err := rows.Scan(&packetID, &distance); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}

		// cosine distance = 1 - cosine similarity
		matches = append(matches, semindex.Match{
			PacketID: packetID,
			Score:    float32(1.0 - distance),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating matches: %w", err)
	}

	return matches, nil
}

// filterClause builds the pre-filter WHERE clause over vec_documents.
func filterClause(f semindex.Filter) (string, []any) {
	where := []string{"1=1"}
	var args []any

	if len(f.PacketTypes) > 0 {
		placeholders := make([]string, len(f.PacketTypes))
		for i, t := range f.PacketTypes {
			placeholders[i] = "?"
			args = append(args, t)
		}
		where = append(where, fmt.Sprintf("packet_type IN (%s)", strings.Join(placeholders, ",")))
	}

	if f.ThreadID != "" {
		where = append(where, "thread_id = ?")
		args = append(args, f.ThreadID)
	}

	for _, tag := range f.Tags {
		where = append(where, "tags LIKE '%,' || ? || ',%'")
		args = append(args, tag)
	}

	return strings.Join(where, " AND "), args
}

// Remove deletes documents by packet id.
func (i *Index) Remove(ctx context.Context, packetIDs []string) error {
	if len(packetIDs) == 0 {
		return nil
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := make([]string, len(packetIDs))
	args := make([]any, len(packetIDs))
	for n, id := range packetIDs {
		placeholders[n] = "?"
		args[n] = id
	}
	inClause := strings.Join(placeholders, ",")

	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT rowid FROM vec_documents WHERE packet_id IN (%s)`, inClause),
		args...,
	)
	if err != nil {
		return fmt.Errorf("querying rowids for deletion: %w", err)
	}

	var rowIDs []int64
	for rows.Next() {
		var rowID int64
		if err := rows.Scan(&rowID); err != nil {
			rows.Close()
			return fmt.Errorf("scanning rowid: %w", err)
		}
		rowIDs = append(rowIDs, rowID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating rowids: %w", err)
	}

	for _, rowID := range rowIDs {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM vec_embeddings WHERE rowid = ?`, rowID,
		); err != nil {
			return fmt.Errorf("deleting embedding rowid %d: %w", rowID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM vec_documents WHERE packet_id IN (%s)`, inClause),
		args...,
	); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	i.logger.Debug("removed documents from sqlite-vec",
		zap.Int("count", len(packetIDs)),
	)

	return nil
}

// Close releases resources held by the index.
func (i *Index) Close() error {
	return i.db.Close()
}

// serializeFloat32 converts a float32 slice to the little-endian BLOB
// format sqlite-vec expects.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for n, f := range v {
		binary.LittleEndian.PutUint32(buf[n*4:], math.Float32bits(f))
	}
	return buf
}

// Ensure Index implements the contract.
var _ semindex.Index = (*Index)(nil)
