// Package server assembles a running process from configuration: it
// opens sources, applies migrations, builds the operation service, and
// serves it over the configured transport.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/stagepipe/stagepipe/internal/apidocs"
	"github.com/stagepipe/stagepipe/pkg/auth"
	"github.com/stagepipe/stagepipe/pkg/backend"
	"github.com/stagepipe/stagepipe/pkg/config"
	"github.com/stagepipe/stagepipe/pkg/database/migrate"
	"github.com/stagepipe/stagepipe/pkg/engine"
	"github.com/stagepipe/stagepipe/pkg/health"
	"github.com/stagepipe/stagepipe/pkg/mcpapi"
	"github.com/stagepipe/stagepipe/pkg/operation"
	"github.com/stagepipe/stagepipe/pkg/rest"
	"github.com/stagepipe/stagepipe/pkg/source"
	"github.com/stagepipe/stagepipe/pkg/source/postgres"
	"github.com/stagepipe/stagepipe/pkg/source/sqlite"
)

// Build information, set at link time.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// mcpEndpoint is where the streamable MCP handler mounts on the
// mcp-http transport.
const mcpEndpoint = "/mcp/v1"

const shutdownTimeout = 10 * time.Second

// Server is the assembled process: one operation service plus the
// transport it is exposed over.
type Server struct {
	cfg     *config.Config
	log     *slog.Logger
	sources *source.Set
	svc     *operation.Service
	checker *health.Checker
}

// New assembles a server from the configuration. Sources are opened
// and pinged here so misconfiguration fails before any transport
// starts accepting traffic.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := newLogger(cfg.Logging)
	slog.SetDefault(log)

	sources, err := openSources(ctx, cfg.Sources, log)
	if err != nil {
		return nil, err
	}

	if cfg.Database.Migrate {
		if err := applyMigrations(sources, log); err != nil {
			_ = sources.Close()
			return nil, err
		}
	}

	defs, err := cfg.Definitions()
	if err != nil {
		_ = sources.Close()
		return nil, err
	}
	reg, err := operation.NewRegistry(defs)
	if err != nil {
		_ = sources.Close()
		return nil, err
	}

	svc, err := operation.NewService(reg, engine.NewSQL(log), sources, operation.WithLogger(log))
	if err != nil {
		_ = sources.Close()
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		log:     log,
		sources: sources,
		svc:     svc,
	}
	s.checker = health.NewChecker(s.probeSources)

	log.Info("server assembled",
		"name", cfg.Server.Name,
		"transport", cfg.Server.Transport,
		"sources", sources.Len(),
		"operations", reg.Len(),
	)
	return s, nil
}

// Config returns the server configuration.
func (s *Server) Config() *config.Config { return s.cfg }

// Service returns the operation service.
func (s *Server) Service() *operation.Service { return s.svc }

// Checker returns the health checker.
func (s *Server) Checker() *health.Checker { return s.checker }

// Run serves the configured transport until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	switch s.cfg.Server.Transport {
	case config.TransportREST:
		return s.runREST(ctx)
	case config.TransportMCPStdio:
		return s.runMCPStdio(ctx)
	case config.TransportMCPHTTP:
		return s.runMCPHTTP(ctx)
	default:
		return fmt.Errorf("unknown transport %q", s.cfg.Server.Transport)
	}
}

// Close releases all sources.
func (s *Server) Close() error {
	if err := s.sources.Close(); err != nil {
		return fmt.Errorf("closing sources: %w", err)
	}
	return nil
}

func (s *Server) runREST(ctx context.Context) error {
	authMiddleware, err := buildAuthMiddleware(s.cfg.Auth)
	if err != nil {
		return err
	}
	handler := rest.NewHandler(s.svc, rest.Options{
		Checker:        s.checker,
		AuthMiddleware: authMiddleware,
		Info: rest.Info{
			Name:      s.cfg.Server.Name,
			Version:   Version,
			Commit:    Commit,
			BuildDate: BuildDate,
			Transport: config.TransportREST,
		},
		Logger: s.log,
	})
	apidocs.SwaggerInfo.Version = Version

	srv := &http.Server{
		Addr:         s.cfg.Server.Address,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.serveHTTP(ctx, srv)
}

func (s *Server) runMCPStdio(ctx context.Context) error {
	m := mcpapi.NewServer(s.svc, mcpapi.Options{
		Name:    s.cfg.Server.Name,
		Version: Version,
		Logger:  s.log,
	})
	s.checker.SetReady()
	return m.Run(ctx)
}

func (s *Server) runMCPHTTP(ctx context.Context) error {
	m := mcpapi.NewServer(s.svc, mcpapi.Options{
		Name:    s.cfg.Server.Name,
		Version: Version,
		Logger:  s.log,
	})

	mw, err := buildAuthMiddleware(s.cfg.Auth)
	if err != nil {
		return err
	}
	var endpoint http.Handler = m.HTTPHandler()
	if mw != nil {
		endpoint = mw(endpoint)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.checker.LivenessHandler())
	mux.HandleFunc("GET /readyz", s.checker.ReadinessHandler())
	mux.Handle(mcpEndpoint, endpoint)

	// Sessions stream responses, so only the header read is bounded.
	srv := &http.Server{
		Addr:              s.cfg.Server.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s.serveHTTP(ctx, srv)
}

// serveHTTP runs srv until it fails or ctx is canceled, then drains.
func (s *Server) serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening",
			"address", srv.Addr,
			"transport", s.cfg.Server.Transport,
			"tls", s.cfg.Server.TLS.Enabled,
		)
		s.checker.SetReady()
		if s.cfg.Server.TLS.Enabled {
			errCh <- srv.ListenAndServeTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.checker.SetDraining()
		s.log.Info("shutting down", "timeout", shutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("draining: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving %s: %w", s.cfg.Server.Transport, err)
		}
		return nil
	}
}

// probeSources pings every source so readiness tracks backend
// connectivity, not just process liveness.
func (s *Server) probeSources(ctx context.Context) error {
	for _, name := range s.sources.Names() {
		p, ok := s.sources.Get(name)
		if !ok {
			continue
		}
		db := p.DB()
		if db == nil {
			continue
		}
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping %s: %w", name, err)
		}
	}
	return nil
}

// newLogger builds the process logger from the logging configuration.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// openSources opens every configured source and registers it in a set.
// Any failure closes what was already opened.
func openSources(ctx context.Context, configs []config.SourceConfig, log *slog.Logger) (*source.Set, error) {
	set := source.NewSet()
	for _, sc := range configs {
		kind, err := backend.Parse(sc.Kind)
		if err != nil {
			_ = set.Close()
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}

		var p source.Provider
		switch kind {
		case backend.Postgres:
			p, err = postgres.New(ctx, sc.Name, sc.DSN, postgres.Options{
				MaxOpenConns:    sc.MaxOpenConns,
				MaxIdleConns:    sc.MaxIdleConns,
				ConnMaxLifetime: sc.ConnMaxLifetime,
			})
		case backend.SQLite:
			p, err = sqlite.New(ctx, sc.Name, sc.DSN)
		}
		if err != nil {
			_ = set.Close()
			return nil, err
		}

		if err := set.Register(p); err != nil {
			_ = p.Close()
			_ = set.Close()
			return nil, err
		}
		log.Info("source ready", "name", sc.Name, "kind", kind.String())
	}
	return set, nil
}

// applyMigrations brings the first postgres source up to the embedded
// schema version.
func applyMigrations(sources *source.Set, log *slog.Logger) error {
	p, err := sources.FirstByKind(backend.Postgres)
	if err != nil {
		return fmt.Errorf("database.migrate requires a postgres source: %w", err)
	}
	log.Info("applying migrations", "source", p.Name())
	if err := migrate.Run(p.DB()); err != nil {
		return fmt.Errorf("migrating %s: %w", p.Name(), err)
	}
	return nil
}

// buildAuthMiddleware assembles the authenticator chain, or nil when
// no authentication is configured.
func buildAuthMiddleware(cfg config.AuthConfig) (func(http.Handler) http.Handler, error) {
	var authenticators []auth.Authenticator

	if cfg.APIKeys.Enabled {
		keys := make([]auth.APIKey, 0, len(cfg.APIKeys.Keys))
		for _, k := range cfg.APIKeys.Keys {
			keys = append(keys, auth.APIKey{Name: k.Name, Hash: k.Hash})
		}
		authenticators = append(authenticators, auth.NewAPIKeyAuthenticator(keys))
	}

	if cfg.JWT.Enabled {
		jwtAuth, err := auth.NewJWTAuthenticator(auth.JWTConfig{
			Issuer:     cfg.JWT.Issuer,
			SigningKey: []byte(cfg.JWT.SigningKey),
		})
		if err != nil {
			return nil, fmt.Errorf("configuring jwt auth: %w", err)
		}
		authenticators = append(authenticators, jwtAuth)
	}

	if len(authenticators) == 0 {
		return nil, nil
	}

	chain := auth.NewChain(auth.ChainConfig{AllowAnonymous: cfg.AllowAnonymous}, authenticators...)
	return auth.Middleware(chain), nil
}
