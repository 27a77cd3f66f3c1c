package engine

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagepipe/stagepipe/pkg/backend"
	"github.com/stagepipe/stagepipe/pkg/pipeline"
	"github.com/stagepipe/stagepipe/pkg/query"
)

const (
	engTestSelect = "SELECT id, title FROM articles WHERE is_published = $1"
	engTestInsert = "INSERT INTO authors (id,username) VALUES ($1,$2)"
	engTestSource = "primary"
)

// mockProvider wraps a sqlmock database in the provider interface.
type mockProvider struct {
	db *sql.DB
}

func (m *mockProvider) Kind() backend.Kind { return backend.Postgres }
func (m *mockProvider) Name() string       { return engTestSource }
func (m *mockProvider) DB() *sql.DB        { return m.db }
func (m *mockProvider) Close() error       { return m.db.Close() }

func newMockEngine(t *testing.T) (*SQL, *mockProvider, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQL(nil), &mockProvider{db: db}, mock
}

func TestSQL_QueryPathPreservesOrder(t *testing.T) {
	eng, prov, mock := newMockEngine(t)

	rows := sqlmock.NewRows([]string{"id", "title"}).
		AddRow("a1", []byte("Down the Rabbit Hole")).
		AddRow("a2", "Advice from a Caterpillar").
		AddRow("a3", "A Mad Tea Party")
	mock.ExpectQuery(regexp.QuoteMeta(engTestSelect)).
		WithArgs(true).
		WillReturnRows(rows)

	stmt := &query.Resolved{
		SQL:         engTestSelect,
		Args:        []any{true},
		Dialect:     backend.Postgres,
		Operation:   query.OpSelect,
		ReturnsRows: true,
	}
	res, err := eng.Execute(context.Background(), stmt, ExecutionContext{Provider: prov})
	require.NoError(t, err)

	require.Len(t, res.Rows, 3)
	assert.Equal(t, "a1", res.Rows[0]["id"])
	assert.Equal(t, "Down the Rabbit Hole", res.Rows[0]["title"], "byte slices normalize to strings")
	assert.Equal(t, "a3", res.Rows[2]["id"])
	require.Len(t, res.Columns, 2)
	assert.Equal(t, "id", res.Columns[0].Name)
	assert.Equal(t, "title", res.Columns[1].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_ExecPathRecordsAffected(t *testing.T) {
	eng, prov, mock := newMockEngine(t)

	mock.ExpectExec(regexp.QuoteMeta(engTestInsert)).
		WithArgs("u1", "lcarroll").
		WillReturnResult(sqlmock.NewResult(0, 1))

	stmt := &query.Resolved{
		SQL:       engTestInsert,
		Args:      []any{"u1", "lcarroll"},
		Operation: query.OpInsert,
	}
	res, err := eng.Execute(context.Background(), stmt, ExecutionContext{Provider: prov})
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Affected)
	assert.Empty(t, res.Rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_BackendFailureIsExecutionClass(t *testing.T) {
	eng, prov, mock := newMockEngine(t)

	cause := errors.New("connection refused")
	mock.ExpectQuery(regexp.QuoteMeta(engTestSelect)).WillReturnError(cause)

	stmt := &query.Resolved{SQL: engTestSelect, Operation: query.OpSelect, ReturnsRows: true}
	_, err := eng.Execute(context.Background(), stmt, ExecutionContext{Provider: prov})

	require.Error(t, err)
	assert.Equal(t, pipeline.ClassExecution, pipeline.Classify(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), engTestSource)
}

func TestSQL_MissingProviderIsConfigurationClass(t *testing.T) {
	eng := NewSQL(nil)

	stmt := &query.Resolved{SQL: "SELECT 1", Operation: query.OpSelect, ReturnsRows: true}
	_, err := eng.Execute(context.Background(), stmt, ExecutionContext{})

	require.Error(t, err)
	assert.Equal(t, pipeline.ClassConfiguration, pipeline.Classify(err))
}

func TestSQL_EmptyResultKeepsColumns(t *testing.T) {
	eng, prov, mock := newMockEngine(t)

	mock.ExpectQuery(regexp.QuoteMeta(engTestSelect)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}))

	stmt := &query.Resolved{SQL: engTestSelect, Operation: query.OpSelect, ReturnsRows: true}
	res, err := eng.Execute(context.Background(), stmt, ExecutionContext{Provider: prov})
	require.NoError(t, err)

	assert.NotNil(t, res.Rows)
	assert.Empty(t, res.Rows)
	assert.Len(t, res.Columns, 2)
}
