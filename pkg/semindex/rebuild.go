package semindex

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/substrate/pkg/substrate"
)

// Rebuild repopulates an index from the repository's embedding records
// for one model version. The repository is the source of truth; the index
// is a rebuildable projection. Records whose envelope has been tombstoned
// since the embedding was written are skipped.
func Rebuild(ctx context.Context, repo substrate.Repository, idx Index, modelVersion string, logger *zap.Logger) (int, error) {
	records, err := repo.ListEmbeddings(ctx, modelVersion)
	if err != nil {
		return 0, fmt.Errorf("listing embeddings: %w", err)
	}

	indexed := 0
	for _, rec := range records {
		env, err := repo.GetEnvelope(ctx, rec.PacketID)
		if err != nil {
			var nf substrate.NotFoundError
			if errors.As(err, &nf) {
				continue
			}
			return indexed, fmt.Errorf("loading envelope %s: %w", rec.PacketID, err)
		}

		doc := Document{
			PacketID:   env.PacketID,
			Vector:     rec.Vector,
			PacketType: env.PacketType,
			Tags:       env.Tags,
			CreatedAt:  env.CreatedAt,
		}
		if env.ThreadID != nil {
			doc.ThreadID = *env.ThreadID
		}

		if err := idx.Index(ctx, doc); err != nil {
			return indexed, fmt.Errorf("indexing %s: %w", rec.PacketID, err)
		}
		indexed++
	}

	logger.Info("semantic index rebuilt",
		zap.String("model_version", modelVersion),
		zap.Int("records", len(records)),
		zap.Int("indexed", indexed),
	)

	return indexed, nil
}
