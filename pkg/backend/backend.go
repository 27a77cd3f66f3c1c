// Package backend defines the relational backend kinds the pipeline can
// execute against. It is a leaf package with no dependencies so every
// layer (query resolution, source providers, engines, configuration) can
// share the same kind vocabulary without import cycles.
package backend

import "fmt"

// Kind identifies a relational backend family. The kind selects both the
// placeholder dialect used during query resolution and the source provider
// a statement is executed against.
type Kind string

const (
	// Postgres backends use dollar placeholders ($1, $2, ...).
	Postgres Kind = "postgres"

	// SQLite backends use question-mark placeholders (?).
	SQLite Kind = "sqlite"
)

// Kinds returns the supported backend kinds in stable order.
func Kinds() []Kind {
	return []Kind{Postgres, SQLite}
}

// Parse converts a configuration string into a Kind.
func Parse(s string) (Kind, error) {
	switch Kind(s) {
	case Postgres, SQLite:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown backend kind %q (supported: postgres, sqlite)", s)
	}
}

// Valid reports whether k is a supported backend kind.
func (k Kind) Valid() bool {
	switch k {
	case Postgres, SQLite:
		return true
	}
	return false
}

// String returns the configuration name of the kind.
func (k Kind) String() string { return string(k) }
