// Package sqlite provides the SQLite source provider backed by
// mattn/go-sqlite3. It serves single-file deployments and tests that
// need a second backend kind without a server.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/stagepipe/stagepipe/pkg/backend"
	"github.com/stagepipe/stagepipe/pkg/source"
)

// Provider is a named SQLite source.
type Provider struct {
	name string
	db   *sql.DB
}

var _ source.Provider = (*Provider)(nil)

// New opens the database file named by dsn. The file is created when it
// does not exist; ":memory:" opens an in-memory database. Writes in
// SQLite serialize on one connection, so the pool is capped at one open
// connection to avoid SQLITE_BUSY under concurrent requests.
func New(ctx context.Context, name, dsn string) (*Provider, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite source %s: %w", name, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite source %s: %w", name, err)
	}

	return &Provider{name: name, db: db}, nil
}

// Kind returns backend.SQLite.
func (p *Provider) Kind() backend.Kind { return backend.SQLite }

// Name returns the configured source name.
func (p *Provider) Name() string { return p.name }

// DB returns the connection handle.
func (p *Provider) DB() *sql.DB { return p.db }

// Close releases the connection.
func (p *Provider) Close() error { return p.db.Close() }
