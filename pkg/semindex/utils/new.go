package semindexutils

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/substrate/pkg/semindex"
	"github.com/papercomputeco/substrate/pkg/semindex/memory"
	"github.com/papercomputeco/substrate/pkg/semindex/qdrantidx"
	"github.com/papercomputeco/substrate/pkg/semindex/sqlitevec"
)

type NewIndexOpts struct {
	ProviderType string
	DBPath       string
	Host         string
	Port         int
	Collection   string
	Dimensions   uint
	Logger       *zap.Logger
}

func NewIndex(ctx context.Context, o *NewIndexOpts) (semindex.Index, error) {
	switch o.ProviderType {
	case "memory":
		return memory.NewIndex(), nil
	case "sqlitevec":
		return sqlitevec.NewIndex(sqlitevec.Config{
			DBPath:     o.DBPath,
			Dimensions: o.Dimensions,
		}, o.Logger)
	case "qdrant":
		return qdrantidx.NewIndex(ctx, qdrantidx.Config{
			Host:       o.Host,
			Port:       o.Port,
			Collection: o.Collection,
			Dimensions: uint64(o.Dimensions),
		}, o.Logger)
	default:
		return nil, fmt.Errorf("unsupported semantic index provider: %s", o.ProviderType)
	}
}
