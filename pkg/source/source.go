// Package source manages the named database source providers a request
// can execute against. A provider owns one *sql.DB pool; the Set keeps
// providers in registration order so kind-based selection is
// deterministic.
package source

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/stagepipe/stagepipe/pkg/backend"
)

// Provider owns a pooled connection to one backend.
type Provider interface {
	// Kind returns the backend family this provider serves.
	Kind() backend.Kind

	// Name returns the configured provider name.
	Name() string

	// DB returns the pooled connection handle.
	DB() *sql.DB

	// Close releases the pool.
	Close() error
}

// ErrNotFound is returned when no provider matches a lookup.
var ErrNotFound = errors.New("source: no provider found")

// Set is an ordered collection of providers. Lookup by kind returns the
// first registered match, so registration order decides ties the same
// way on every request.
type Set struct {
	providers []Provider
	byName    map[string]Provider
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{byName: make(map[string]Provider)}
}

// Register appends p to the set. Provider names must be unique.
func (s *Set) Register(p Provider) error {
	if p == nil {
		return errors.New("source: provider is nil")
	}
	if p.Name() == "" {
		return errors.New("source: provider name is required")
	}
	if _, exists := s.byName[p.Name()]; exists {
		return fmt.Errorf("source: provider %q already registered", p.Name())
	}
	s.providers = append(s.providers, p)
	s.byName[p.Name()] = p
	return nil
}

// Get returns the provider registered under name.
func (s *Set) Get(name string) (Provider, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// FirstByKind returns the first registered provider of the given kind.
func (s *Set) FirstByKind(kind backend.Kind) (Provider, error) {
	for _, p := range s.providers {
		if p.Kind() == kind {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w for backend kind %q", ErrNotFound, kind)
}

// Names returns the provider names in registration order.
func (s *Set) Names() []string {
	out := make([]string, len(s.providers))
	for i, p := range s.providers {
		out[i] = p.Name()
	}
	return out
}

// Len returns the number of registered providers.
func (s *Set) Len() int { return len(s.providers) }

// Close closes every provider, returning the joined errors.
func (s *Set) Close() error {
	var errs []error
	for _, p := range s.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing source %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
