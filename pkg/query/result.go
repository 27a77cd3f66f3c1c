package query

import "github.com/stagepipe/stagepipe/pkg/backend"

// Resolved is the executable statement a template resolves to for one
// request. It is consumed by the engine and discarded; nothing caches
// or reuses it.
type Resolved struct {
	SQL         string
	Args        []any
	Dialect     backend.Kind
	Operation   Op
	ReturnsRows bool
}

// Column describes one result column as declared by the backend.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// Result is the normalized outcome of executing a resolved statement.
// Rows preserve the backend's return order exactly. Affected carries
// the driver's rows-affected count for statements that return no rows.
type Result struct {
	Rows     []map[string]any `json:"rows"`
	Columns  []Column         `json:"columns"`
	Affected int64            `json:"affected"`
}
