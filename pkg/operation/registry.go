// Package operation holds the operation catalog and the service that
// turns a named operation plus runtime parameters into a normalized
// response by running the pipeline.
package operation

import (
	"fmt"

	"github.com/stagepipe/stagepipe/pkg/query"
)

// Shaping declares optional post-stage output shaping for one
// operation.
type Shaping struct {
	// Rename maps top-level response data fields to new names.
	Rename map[string]string `yaml:"rename,omitempty"`

	// Mask lists row columns to blank out in responses.
	Mask []string `yaml:"mask,omitempty"`

	// Pagination adds the derived pagination block to responses.
	Pagination bool `yaml:"pagination,omitempty"`
}

// Definition binds an operation name to its statement template and
// shaping rules.
type Definition struct {
	Name        string
	Description string
	Template    *query.Template
	Shaping     Shaping
}

// Registry is the immutable operation catalog. It is built once from
// configuration at startup; nothing mutates it afterwards, so lookups
// need no locking.
type Registry struct {
	defs  map[string]*Definition
	names []string
}

// NewRegistry builds the catalog. Names must be unique and every
// definition needs a validated template.
func NewRegistry(defs []*Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("operation with empty name")
		}
		if def.Template == nil {
			return nil, fmt.Errorf("operation %s: template is required", def.Name)
		}
		if _, exists := r.defs[def.Name]; exists {
			return nil, fmt.Errorf("operation %s: duplicate name", def.Name)
		}
		r.defs[def.Name] = def
		r.names = append(r.names, def.Name)
	}
	return r, nil
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (*Definition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Names returns the operation names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of registered operations.
func (r *Registry) Len() int { return len(r.names) }
