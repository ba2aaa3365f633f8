// Package sqlite provides a SQLite-backed substrate repository using the
// pure-Go modernc driver.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/papercomputeco/substrate/pkg/substrate/sqldriver"
)

// Driver implements substrate.Repository using SQLite via the shared SQL driver.
type Driver struct {
	*sqldriver.Driver
}

// NewDriver creates a new SQLite-backed repository.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func NewDriver(dbPath string) (*Driver, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single pooled connection also keeps
	// ":memory:" databases from splitting across connections.
	db.SetMaxOpenConns(1)

	inner, err := sqldriver.NewDriver(db, sqldriver.DialectSQLite)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Driver{Driver: inner}, nil
}
