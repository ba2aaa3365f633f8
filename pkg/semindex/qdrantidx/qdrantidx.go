// Package qdrantidx provides a Qdrant-backed semantic index for
// deployments where the vector set outgrows an embedded database.
package qdrantidx

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/papercomputeco/substrate/pkg/semindex"
)

// Index implements semindex.Index against a Qdrant server.
type Index struct {
	client     *qdrant.Client
	collection string
	logger     *zap.Logger
}

// Config holds configuration for the Qdrant index.
type Config struct {
	// Host is the Qdrant server hostname.
	Host string

	// Port is the Qdrant gRPC port.
	Port int

	// Collection is the collection name. Created on startup if missing.
	Collection string

	// Dimensions is the width of the embedding vectors.
	Dimensions uint64
}

// NewIndex connects to Qdrant and ensures the collection exists.
func NewIndex(ctx context.Context, c Config, logger *zap.Logger) (*Index, error) {
	if c.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("qdrant embedding dimensions cannot be 0, must be configured")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: c.Host,
		Port: c.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating qdrant client: %w", semindex.ErrConnection, err)
	}

	exists, err := client.CollectionExists(ctx, c.Collection)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: checking collection: %w", semindex.ErrConnection, err)
	}

	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: c.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     c.Dimensions,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("creating collection %s: %w", c.Collection, err)
		}
	}

	logger.Info("qdrant semantic index initialized",
		zap.String("host", c.Host),
		zap.Int("port", c.Port),
		zap.String("collection", c.Collection),
		zap.Uint64("dimensions", c.Dimensions),
	)

	return &Index{
		client:     client,
		collection: c.Collection,
		logger:     logger,
	}, nil
}

// Index upserts a document. Packet ids are UUIDs so they serve directly
// as Qdrant point ids, which makes the upsert idempotent.
func (i *Index) Index(ctx context.Context, doc semindex.Document) error {
	if len(doc.Vector) == 0 {
		return semindex.ErrEmptyVector
	}

	tags := make([]any, len(doc.Tags))
	for n, t := range doc.Tags {
		tags[n] = t
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(doc.PacketID),
		Vectors: qdrant.NewVectors(doc.Vector...),
		Payload: qdrant.NewValueMap(map[string]any{
			"packet_id":   doc.PacketID,
			"packet_type": doc.PacketType,
			"thread_id":   doc.ThreadID,
			"tags":        tags,
			"created_at":  doc.CreatedAt.UTC().UnixNano(),
		}),
	}

	_, err := i.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: i.collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("upserting point %s: %w", doc.PacketID, err)
	}

	return nil
}

// Search runs a filtered KNN query. The filter translates to Qdrant
// payload conditions so candidates are restricted before ranking.
func (i *Index) Search(ctx context.Context, vector []float32, k int, f semindex.Filter) ([]semindex.Match, error) {
	if k <= 0 {
		return nil, semindex.ErrInvalidK
	}
	if len(vector) == 0 {
		return nil, semindex.ErrEmptyVector
	}

	limit := uint64(k)
	points, err := i.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: i.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		Filter:         buildFilter(f),
	})
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", i.collection, err)
	}

	matches := make([]semindex.Match, 0, len(points))
	for _, p := range points {
		matches = append(matches, semindex.Match{
			PacketID: p.GetId().GetUuid(),
			Score:    p.GetScore(),
		})
	}

	return matches, nil
}

// buildFilter converts a semindex.Filter into Qdrant payload conditions.
func buildFilter(f semindex.Filter) *qdrant.Filter {
	var must []*qdrant.Condition

	if len(f.PacketTypes) > 0 {
		must = append(must, qdrant.NewMatchKeywords("packet_type", f.PacketTypes...))
	}
	if f.ThreadID != "" {
		must = append(must, qdrant.NewMatch("thread_id", f.ThreadID))
	}
	for _, tag := range f.Tags {
		must = append(must, qdrant.NewMatch("tags", tag))
	}

	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// Remove deletes documents by packet id.
func (i *Index) Remove(ctx context.Context, packetIDs []string) error {
	if len(packetIDs) == 0 {
		return nil
	}

	ids := make([]*qdrant.PointId, len(packetIDs))
	for n, id := range packetIDs {
		ids[n] = qdrant.NewID(id)
	}

	_, err := i.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: i.collection,
		Points:         qdrant.NewPointsSelector(ids...),
	})
	if err != nil {
		return fmt.Errorf("deleting points: %w", err)
	}

	i.logger.Debug("removed documents from qdrant",
		zap.Int("count", len(packetIDs)),
	)

	return nil
}

// Close releases the gRPC connection.
func (i *Index) Close() error {
	return i.client.Close()
}

var _ semindex.Index = (*Index)(nil)
