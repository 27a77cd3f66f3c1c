// Package mcpapi exposes the operation catalog over the Model Context
// Protocol. Every registered operation becomes an MCP tool, and the
// catalog itself is readable through operation:// resources, so agent
// clients can discover and invoke operations without any REST plumbing.
package mcpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/stagepipe/stagepipe/pkg/operation"
)

// Options configures the MCP server surface.
type Options struct {
	// Name is the implementation name reported to clients.
	Name string

	// Version is the implementation version reported to clients.
	Version string

	// Logger receives server lifecycle events. Defaults to slog.Default.
	Logger *slog.Logger
}

// Server adapts an operation service to the MCP protocol.
type Server struct {
	svc *operation.Service
	mcp *mcp.Server
	log *slog.Logger
}

// NewServer builds the MCP surface for the given service, registering
// one tool per operation plus the catalog resources.
func NewServer(svc *operation.Service, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "stagepipe"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		svc: svc,
		log: log,
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    opts.Name,
		Version: opts.Version,
	}, nil)

	s.registerTools()
	s.registerResources()

	log.Info("mcp server ready",
		"name", opts.Name,
		"operations", svc.Registry().Len(),
	)
	return s
}

// MCP returns the underlying protocol server for transports that need
// direct access.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// Run serves a single session over stdio until the context is canceled
// or the peer disconnects.
func (s *Server) Run(ctx context.Context) error {
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp stdio session: %w", err)
	}
	return nil
}

// HTTPHandler returns the streamable HTTP handler for mounting under an
// HTTP server.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}
