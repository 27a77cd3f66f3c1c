// Package engine executes resolved statements against a source
// provider and normalizes driver results.
package engine

import (
	"context"
	"time"

	"github.com/stagepipe/stagepipe/pkg/query"
	"github.com/stagepipe/stagepipe/pkg/source"
)

// ExecutionContext carries per-invocation state the engine needs beyond
// the statement itself: the selected provider, request identification
// for logging, and free-form attributes callers want recorded.
type ExecutionContext struct {
	RequestID string
	Operation string
	StartedAt time.Time
	Provider  source.Provider
	Attrs     map[string]any
}

// Engine executes one resolved statement. Implementations do not retry
// and do not interpret results beyond normalization; classification of
// failures is part of the contract.
type Engine interface {
	// Name identifies the engine in envelope metadata and logs.
	Name() string

	// Execute runs the statement. The context bounds the driver call;
	// cancellation surfaces as an execution-class error.
	Execute(ctx context.Context, stmt *query.Resolved, ec ExecutionContext) (*query.Result, error)
}
