// Package postgres provides the PostgreSQL source provider backed by
// lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Registers the postgres driver.
	_ "github.com/lib/pq"

	"github.com/stagepipe/stagepipe/pkg/backend"
	"github.com/stagepipe/stagepipe/pkg/source"
)

// Options tune the connection pool. Zero values fall back to defaults.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
)

// Provider is a named PostgreSQL source.
type Provider struct {
	name string
	db   *sql.DB
}

var _ source.Provider = (*Provider)(nil)

// New opens a pooled connection for the given DSN and verifies it with
// a ping so misconfiguration fails at startup, not on the first request.
func New(ctx context.Context, name, dsn string, opts Options) (*Provider, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres source %s: %w", name, err)
	}

	if opts.MaxOpenConns == 0 {
		opts.MaxOpenConns = defaultMaxOpenConns
	}
	if opts.MaxIdleConns == 0 {
		opts.MaxIdleConns = defaultMaxIdleConns
	}
	if opts.ConnMaxLifetime == 0 {
		opts.ConnMaxLifetime = defaultConnMaxLifetime
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres source %s: %w", name, err)
	}

	return &Provider{name: name, db: db}, nil
}

// Kind returns backend.Postgres.
func (p *Provider) Kind() backend.Kind { return backend.Postgres }

// Name returns the configured source name.
func (p *Provider) Name() string { return p.name }

// DB returns the pooled connection handle.
func (p *Provider) DB() *sql.DB { return p.db }

// Close releases the pool.
func (p *Provider) Close() error { return p.db.Close() }
