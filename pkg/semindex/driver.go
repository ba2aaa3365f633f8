// Package semindex provides the semantic index over envelope embeddings.
//
// The index is a derived, rebuildable projection of the repository's
// embedding records. It is never the source of truth: every implementation
// must be fully reconstructible by replaying EmbeddingRecord rows.
package semindex

import (
	"context"
	"time"
)

// Document is one indexed envelope: its vector plus the metadata fields the
// index pre-filters on.
type Document struct {
	// PacketID identifies the envelope.
	PacketID string

	// Vector is the embedding under the index's model version.
	Vector []float32

	// PacketType, ThreadID, and Tags are the filterable fields.
	PacketType string
	ThreadID   string
	Tags       []string

	// CreatedAt is the envelope's creation time, used for tie-breaking.
	CreatedAt time.Time
}

// Filter restricts candidates before ranking. Zero values mean no
// restriction on that field. Filtering happens pre-ranking so a search
// returns up to k relevant results, not k results later narrowed down.
type Filter struct {
	PacketTypes []string
	ThreadID    string
	Tags        []string
}

// Match is one search result.
type Match struct {
	PacketID string  `json:"packet_id"`
	Score    float32 `json:"score"`
}

// Index handles storage and retrieval of envelope vectors.
type Index interface {
	// Index upserts a document.
	Index(ctx context.Context, doc Document) error

	// Search returns up to k matches for the query vector, ranked by
	// descending cosine similarity, ties broken by most recent envelope
	// first. k must be positive.
	Search(ctx context.Context, vector []float32, k int, f Filter) ([]Match, error)

	// Remove deletes documents by packet id. Missing ids are not an error.
	Remove(ctx context.Context, packetIDs []string) error

	// Close releases any resources held by the index.
	Close() error
}

// Matches reports whether a document passes the filter.
func (f Filter) Matches(doc Document) bool {
	if len(f.PacketTypes) > 0 {
		ok := false
		for _, t := range f.PacketTypes {
			if doc.PacketType == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	if f.ThreadID != "" && doc.ThreadID != f.ThreadID {
		return false
	}

	for _, want := range f.Tags {
		found := false
		for _, have := range doc.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}
