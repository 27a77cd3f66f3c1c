package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/stagepipe/stagepipe/pkg/pipeline"
	"github.com/stagepipe/stagepipe/pkg/query"
)

// queryer is the slice of *sql.DB the engine uses, split out so tests
// can drive it with sqlmock.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQL executes resolved statements through database/sql. Statements
// that return rows (selects and anything with RETURNING) go through the
// query path; everything else goes through the exec path and reports
// rows affected.
type SQL struct {
	name string
	log  *slog.Logger
}

var _ Engine = (*SQL)(nil)

// NewSQL returns the database/sql engine. A nil logger falls back to
// the default logger.
func NewSQL(log *slog.Logger) *SQL {
	if log == nil {
		log = slog.Default()
	}
	return &SQL{name: "sql", log: log}
}

// Name returns "sql".
func (e *SQL) Name() string { return e.name }

// Execute runs stmt against the provider in ec.
func (e *SQL) Execute(ctx context.Context, stmt *query.Resolved, ec ExecutionContext) (*query.Result, error) {
	if ec.Provider == nil {
		return nil, pipeline.Configurationf("no source provider selected for %s", stmt.Operation)
	}

	start := time.Now()
	db := ec.Provider.DB()

	var (
		res *query.Result
		err error
	)
	if stmt.ReturnsRows {
		res, err = e.queryRows(ctx, db, stmt)
	} else {
		res, err = e.execStatement(ctx, db, stmt)
	}
	if err != nil {
		return nil, pipeline.Executionf(err, "executing %s on source %s%s",
			stmt.Operation, ec.Provider.Name(), backendDetail(err))
	}

	e.log.Debug("statement executed",
		"operation", ec.Operation,
		"request_id", ec.RequestID,
		"source", ec.Provider.Name(),
		"rows", len(res.Rows),
		"affected", res.Affected,
		"duration", time.Since(start))
	return res, nil
}

func (e *SQL) queryRows(ctx context.Context, db queryer, stmt *query.Resolved) (*query.Result, error) {
	rows, err := db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("reading column types: %w", err)
	}

	names := make([]string, len(types))
	columns := make([]query.Column, len(types))
	for i, ct := range types {
		names[i] = ct.Name()
		nullable, _ := ct.Nullable()
		columns[i] = query.Column{
			Name:     ct.Name(),
			Type:     ct.DatabaseTypeName(),
			Nullable: nullable,
		}
	}

	out := make([]map[string]any, 0)
	for rows.Next() {
		vals := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row %d: %w", len(out), err)
		}
		row := make(map[string]any, len(names))
		for i, n := range names {
			row[n] = normalizeValue(vals[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &query.Result{Rows: out, Columns: columns, Affected: int64(len(out))}, nil
}

func (e *SQL) execStatement(ctx context.Context, db queryer, stmt *query.Resolved) (*query.Result, error) {
	res, err := db.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		// Drivers without rows-affected support still count as success.
		affected = 0
	}
	return &query.Result{Rows: []map[string]any{}, Columns: []query.Column{}, Affected: affected}, nil
}

// backendDetail appends driver-specific diagnostics when the cause is a
// postgres error, so constraint names survive into logs.
func backendDetail(err error) string {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return ""
	}
	detail := " (" + pqErr.Code.Name()
	if pqErr.Constraint != "" {
		detail += ", constraint " + pqErr.Constraint
	}
	return detail + ")"
}

// normalizeValue makes driver values JSON-friendly. lib/pq hands text
// columns back as []byte.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
