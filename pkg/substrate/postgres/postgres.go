// Package postgres provides a PostgreSQL-backed substrate repository.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register the pgx PostgreSQL driver as "pgx"

	"github.com/papercomputeco/substrate/pkg/substrate/sqldriver"
)

// Driver implements substrate.Repository using PostgreSQL via the shared SQL driver.
type Driver struct {
	*sqldriver.Driver
}

// NewDriver creates a new PostgreSQL-backed repository.
// The connStr is a PostgreSQL connection string, e.g.
// "host=localhost port=5432 user=substrate dbname=substrate sslmode=disable"
// or a connection URI like "postgres://substrate@localhost:5432/substrate".
func NewDriver(ctx context.Context, connStr string) (*Driver, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify the connection is reachable
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	inner, err := sqldriver.NewDriver(db, sqldriver.DialectPostgres)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Driver{Driver: inner}, nil
}
