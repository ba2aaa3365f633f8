// Package memory provides an in-process semantic index using exact cosine
// similarity. Suitable for tests and modest local stores; large deployments
// use the sqlitevec or qdrant backends.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/papercomputeco/substrate/pkg/semindex"
)

// Index implements semindex.Index over an in-process map.
type Index struct {
	mu   sync.RWMutex
	docs map[string]semindex.Document
}

// NewIndex creates an empty in-memory semantic index.
func NewIndex() *Index {
	return &Index{
		docs: make(map[string]semindex.Document),
	}
}

// Index upserts a document keyed by packet id.
func (i *Index) Index(_ context.Context, doc semindex.Document) error {
	if len(doc.Vector) == 0 {
		return semindex.ErrEmptyVector
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.docs[doc.PacketID] = doc
	return nil
}

// Search ranks pre-filtered documents by cosine similarity, descending,
// ties broken by most recent envelope first.
func (i *Index) Search(_ context.Context, vector []float32, k int, f semindex.Filter) ([]semindex.Match, error) {
	if k <= 0 {
		return nil, semindex.ErrInvalidK
	}
	if len(vector) == 0 {
		return nil, semindex.ErrEmptyVector
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	type scored struct {
		doc   semindex.Document
		score float32
	}

	var candidates []scored
	for _, doc := range i.docs {
		if !f.Matches(doc) {
			continue
		}
		candidates = append(candidates, scored{doc: doc, score: cosine(vector, doc.Vector)})
	}

	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		return candidates[a].doc.CreatedAt.After(candidates[b].doc.CreatedAt)
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	matches := make([]semindex.Match, 0, len(candidates))
	for _, c := range candidates {
		matches = append(matches, semindex.Match{
			PacketID: c.doc.PacketID,
			Score:    c.score,
		})
	}

	return matches, nil
}

// Remove deletes documents by packet id.
func (i *Index) Remove(_ context.Context, packetIDs []string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, id := range packetIDs {
		delete(i.docs, id)
	}

	return nil
}

// Close is a no-op for the in-memory index.
func (i *Index) Close() error {
	return nil
}

// cosine computes cosine similarity between two vectors. Mismatched lengths
// and zero vectors score 0.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Ensure Index implements the contract.
var _ semindex.Index = (*Index)(nil)
