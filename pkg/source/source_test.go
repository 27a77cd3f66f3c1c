package source

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagepipe/stagepipe/pkg/backend"
)

type fakeProvider struct {
	kind   backend.Kind
	name   string
	closed bool
}

func (f *fakeProvider) Kind() backend.Kind { return f.kind }
func (f *fakeProvider) Name() string       { return f.name }
func (f *fakeProvider) DB() *sql.DB        { return nil }
func (f *fakeProvider) Close() error       { f.closed = true; return nil }

func TestSet_FirstByKindIsRegistrationOrdered(t *testing.T) {
	s := NewSet()
	first := &fakeProvider{kind: backend.Postgres, name: "primary"}
	second := &fakeProvider{kind: backend.Postgres, name: "replica"}

	require.NoError(t, s.Register(first))
	require.NoError(t, s.Register(second))
	require.NoError(t, s.Register(&fakeProvider{kind: backend.SQLite, name: "local"}))

	got, err := s.FirstByKind(backend.Postgres)
	require.NoError(t, err)
	assert.Equal(t, "primary", got.Name())

	got, err = s.FirstByKind(backend.SQLite)
	require.NoError(t, err)
	assert.Equal(t, "local", got.Name())
}

func TestSet_FirstByKindNotFound(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.Register(&fakeProvider{kind: backend.SQLite, name: "local"}))

	_, err := s.FirstByKind(backend.Postgres)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSet_RegisterRejectsDuplicates(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.Register(&fakeProvider{kind: backend.Postgres, name: "primary"}))

	err := s.Register(&fakeProvider{kind: backend.SQLite, name: "primary"})
	assert.Error(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestSet_CloseClosesAll(t *testing.T) {
	s := NewSet()
	a := &fakeProvider{kind: backend.Postgres, name: "a"}
	b := &fakeProvider{kind: backend.SQLite, name: "b"}
	require.NoError(t, s.Register(a))
	require.NoError(t, s.Register(b))

	require.NoError(t, s.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestSet_Names(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.Register(&fakeProvider{kind: backend.Postgres, name: "primary"}))
	require.NoError(t, s.Register(&fakeProvider{kind: backend.SQLite, name: "local"}))

	assert.Equal(t, []string{"primary", "local"}, s.Names())
}
