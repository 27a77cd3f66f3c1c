package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagepipe/stagepipe/pkg/auth"
	"github.com/stagepipe/stagepipe/pkg/backend"
	"github.com/stagepipe/stagepipe/pkg/config"
	"github.com/stagepipe/stagepipe/pkg/health"
	"github.com/stagepipe/stagepipe/pkg/source"
)

// pingProvider wraps a sqlmock database in the provider interface so
// probe behavior can be driven from expectations.
type pingProvider struct {
	name string
	db   *sql.DB
}

func (p *pingProvider) Kind() backend.Kind { return backend.Postgres }
func (p *pingProvider) Name() string       { return p.name }
func (p *pingProvider) DB() *sql.DB        { return p.db }
func (p *pingProvider) Close() error       { return p.db.Close() }

// nilDBProvider has no usable connection handle.
type nilDBProvider struct{}

func (*nilDBProvider) Kind() backend.Kind { return backend.SQLite }
func (*nilDBProvider) Name() string       { return "detached" }
func (*nilDBProvider) DB() *sql.DB        { return nil }
func (*nilDBProvider) Close() error       { return nil }

func newPingSet(t *testing.T, name string) (*source.Set, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	set := source.NewSet()
	require.NoError(t, set.Register(&pingProvider{name: name, db: db}))
	return set, mock
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.LoggingConfig
		wantDebugOn bool
		wantInfoOn  bool
	}{
		{"default level is info", config.LoggingConfig{}, false, true},
		{"debug enables debug", config.LoggingConfig{Level: "debug"}, true, true},
		{"warn silences info", config.LoggingConfig{Level: "warn"}, false, false},
		{"error silences info", config.LoggingConfig{Level: "error", Format: "json"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := newLogger(tt.cfg)
			ctx := context.Background()
			assert.Equal(t, tt.wantDebugOn, log.Enabled(ctx, slog.LevelDebug))
			assert.Equal(t, tt.wantInfoOn, log.Enabled(ctx, slog.LevelInfo))
		})
	}
}

func TestBuildAuthMiddleware_NoneConfigured(t *testing.T) {
	mw, err := buildAuthMiddleware(config.AuthConfig{})
	require.NoError(t, err)
	assert.Nil(t, mw, "no authenticators means no middleware")
}

func TestBuildAuthMiddleware_APIKeys(t *testing.T) {
	hash, err := auth.HashKey("sk-test-123")
	require.NoError(t, err)

	mw, err := buildAuthMiddleware(config.AuthConfig{
		APIKeys: config.APIKeyAuthConfig{
			Enabled: true,
			Keys:    []config.APIKeyDef{{Name: "ci", Hash: hash}},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, mw)

	var principal *auth.Principal
	inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		principal = auth.GetPrincipal(r.Context())
	})
	handler := mw(inner)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "no credentials should be rejected")

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-API-Key", "sk-test-123")
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, principal)
	assert.Equal(t, "ci", principal.Name)
	assert.Equal(t, "apikey", principal.Method)
}

func TestBuildAuthMiddleware_RejectsBadJWTConfig(t *testing.T) {
	_, err := buildAuthMiddleware(config.AuthConfig{
		JWT: config.JWTAuthConfig{Enabled: true},
	})
	assert.Error(t, err)
}

func TestProbeSources(t *testing.T) {
	t.Run("all sources reachable", func(t *testing.T) {
		set, mock := newPingSet(t, "blog-primary")
		mock.ExpectPing()

		s := &Server{sources: set}
		assert.NoError(t, s.probeSources(context.Background()))
	})

	t.Run("failing source named in error", func(t *testing.T) {
		set, mock := newPingSet(t, "blog-primary")
		mock.ExpectPing().WillReturnError(assert.AnError)

		s := &Server{sources: set}
		err := s.probeSources(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "blog-primary")
	})

	t.Run("provider without handle is skipped", func(t *testing.T) {
		set := source.NewSet()
		require.NoError(t, set.Register(&nilDBProvider{}))

		s := &Server{sources: set}
		assert.NoError(t, s.probeSources(context.Background()))
	})
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(context.Background(), &config.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestRun_UnknownTransport(t *testing.T) {
	s := &Server{
		cfg: &config.Config{Server: config.ServerConfig{Transport: "carrier-pigeon"}},
		log: newLogger(config.LoggingConfig{}),
	}
	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestServeHTTP_GracefulShutdown(t *testing.T) {
	s := &Server{
		cfg: &config.Config{Server: config.ServerConfig{
			Transport: config.TransportREST,
			Address:   "127.0.0.1:0",
		}},
		log:     newLogger(config.LoggingConfig{Level: "error"}),
		checker: health.NewChecker(nil),
	}

	srv := &http.Server{
		Addr:              s.cfg.Server.Address,
		Handler:           http.NewServeMux(),
		ReadHeaderTimeout: time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serveHTTP(ctx, srv) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.Equal(t, "draining", s.checker.State())
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
