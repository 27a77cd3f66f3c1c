package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Authenticator validates authentication credentials.
type Authenticator interface {
	// Authenticate validates credentials and returns the caller's principal.
	Authenticate(ctx context.Context) (*Principal, error)
}

// Chain tries multiple authenticators in order.
type Chain struct {
	authenticators []Authenticator
	allowAnonymous bool
}

// ChainConfig configures the chained authenticator.
type ChainConfig struct {
	AllowAnonymous bool
}

// NewChain creates a new chained authenticator.
func NewChain(cfg ChainConfig, authenticators ...Authenticator) *Chain {
	return &Chain{
		authenticators: authenticators,
		allowAnonymous: cfg.AllowAnonymous,
	}
}

// Authenticate tries each authenticator in order. The first success
// wins; when all fail, an anonymous principal is returned only if the
// chain allows it.
func (c *Chain) Authenticate(ctx context.Context) (*Principal, error) {
	var lastErr error

	for _, a := range c.authenticators {
		p, err := a.Authenticate(ctx)
		if err == nil && p != nil {
			return p, nil
		}
		if err != nil {
			lastErr = err
		}
	}

	if c.allowAnonymous {
		return &Principal{Name: "anonymous", Method: "anonymous"}, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("authentication failed")
}

// Verify interface compliance.
var _ Authenticator = (*Chain)(nil)

// Middleware extracts credentials from HTTP headers, authenticates
// them, and stores the principal in the request context. Requests that
// fail authentication receive 401 without reaching the handler.
func Middleware(authenticator Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			var token string

			// Extract Bearer token from Authorization header
			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}

			// If no Bearer token, try X-API-Key header
			if token == "" {
				token = r.Header.Get("X-API-Key")
			}

			if token != "" {
				ctx = WithToken(ctx, token)
			}

			p, err := authenticator.Authenticate(ctx)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx = WithPrincipal(ctx, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
