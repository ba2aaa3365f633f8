// Package substrateutils provides factory helpers for constructing
// substrate repositories from configuration.
package substrateutils

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/substrate/pkg/substrate"
	"github.com/papercomputeco/substrate/pkg/substrate/inmemory"
	"github.com/papercomputeco/substrate/pkg/substrate/postgres"
	"github.com/papercomputeco/substrate/pkg/substrate/sqlite"
)

type NewRepositoryOpts struct {
	DriverType  string
	SQLitePath  string
	PostgresURL string
	Logger      *zap.Logger
}

func NewRepository(ctx context.Context, o *NewRepositoryOpts) (substrate.Repository, error) {
	switch o.DriverType {
	case "memory":
		if o.Logger != nil {
			o.Logger.Info("using in-memory repository")
		}
		return inmemory.NewDriver(), nil
	case "sqlite":
		path := o.SQLitePath
		if path == "" {
			path = ":memory:"
		}
		if o.Logger != nil {
			o.Logger.Info("using SQLite repository", zap.String("path", path))
		}
		return sqlite.NewDriver(path)
	case "postgres":
		if o.PostgresURL == "" {
			return nil, fmt.Errorf("postgres repository requires a connection URL")
		}
		if o.Logger != nil {
			o.Logger.Info("using PostgreSQL repository")
		}
		return postgres.NewDriver(ctx, o.PostgresURL)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", o.DriverType)
	}
}
