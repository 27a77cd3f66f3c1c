package stage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/stagepipe/stagepipe/pkg/engine"
	"github.com/stagepipe/stagepipe/pkg/pipeline"
	"github.com/stagepipe/stagepipe/pkg/query"
	"github.com/stagepipe/stagepipe/pkg/source"
)

// Exec is the execution stage: it binds runtime parameters into the
// operation's template, selects engine and source from the envelope
// metadata, executes, and normalizes the result into the canonical
// count/data/columns shape.
type Exec struct {
	name     string
	template *query.Template
	log      *slog.Logger
}

var _ pipeline.Executor = (*Exec)(nil)

// ExecOption configures an Exec stage.
type ExecOption func(*Exec)

// WithExecLogger sets the stage logger.
func WithExecLogger(log *slog.Logger) ExecOption {
	return func(e *Exec) { e.log = log }
}

// NewExec builds the execution stage for one operation.
func NewExec(name string, tmpl *query.Template, opts ...ExecOption) (*Exec, error) {
	if name == "" {
		return nil, errors.New("executor name is required")
	}
	if tmpl == nil {
		return nil, errors.New("executor template is required")
	}
	e := &Exec{name: name, template: tmpl, log: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Apply runs the stage. Steps, in order: extract parameters, resolve
// the template, resolve engine and source from metadata, execute, and
// normalize. Engine and source lookups happen before any backend work
// so a wiring defect aborts the request without touching the backend.
func (e *Exec) Apply(ctx context.Context, in pipeline.Input, run *pipeline.Context) (pipeline.Output, error) {
	run.SetIfAbsent(pipeline.CtxExecutedAt, time.Now().UTC().Format(time.RFC3339Nano))

	params, err := extractParameters(in)
	if err != nil {
		return pipeline.Output{}, err
	}

	resolved, err := query.Resolve(e.template, params)
	if err != nil {
		return pipeline.Output{}, err
	}

	eng, ok := pipeline.MetadataAs[engine.Engine](in, pipeline.KeyEngine)
	if !ok {
		return pipeline.Output{}, pipeline.Configurationf(
			"metadata carries no query engine under %q", pipeline.KeyEngine)
	}

	set, ok := pipeline.MetadataAs[*source.Set](in, pipeline.KeySources)
	if !ok {
		return pipeline.Output{}, pipeline.Configurationf(
			"metadata carries no source set under %q", pipeline.KeySources)
	}
	provider, err := set.FirstByKind(resolved.Dialect)
	if err != nil {
		return pipeline.Output{}, pipeline.Configurationf(
			"no source provider for backend kind %q", resolved.Dialect).Wrap(err)
	}

	opName, _ := pipeline.MetadataAs[string](in, pipeline.KeyOperation)
	var requestID string
	if v, ok := run.Get(pipeline.CtxRequestID); ok {
		requestID, _ = v.(string)
	}

	result, err := eng.Execute(ctx, resolved, engine.ExecutionContext{
		RequestID: requestID,
		Operation: opName,
		StartedAt: time.Now().UTC(),
		Provider:  provider,
	})
	if err != nil {
		return pipeline.Output{}, err
	}

	data := normalizeResult(result)
	meta := in.Metadata()
	meta.Set(pipeline.KeyExecutorName, e.name)
	meta.Set(pipeline.KeyExecutorTemplateResolved, resolved.SQL)

	e.log.Debug("execute complete",
		"stage", e.name,
		"operation", opName,
		"rows", len(result.Rows),
		"affected", result.Affected)
	return pipeline.NewOutput(data, meta), nil
}

func extractParameters(in pipeline.Input) (map[string]any, error) {
	raw, ok := in.DataValue(pipeline.KeyParameters)
	if !ok {
		return map[string]any{}, nil
	}
	switch m := raw.(type) {
	case map[string]any:
		return m, nil
	case *pipeline.Fields:
		return m.Map(), nil
	default:
		return nil, pipeline.Validationf(pipeline.KeyParameters,
			"data key %q must hold a parameter map, got %T", pipeline.KeyParameters, raw)
	}
}

// normalizeResult produces the canonical output data fields. The total
// count prefers the first row's window-aggregate column so paginated
// templates report the full match count without a second query; rows
// keep that column so callers can cross-check.
func normalizeResult(result *query.Result) *pipeline.Fields {
	count := pipeline.NewFields()
	count.Set("total_found", totalFound(result))
	count.Set("page_size", len(result.Rows))

	return pipeline.NewFields().
		Set("count", count).
		Set("data", result.Rows).
		Set("columns", result.Columns)
}

func totalFound(result *query.Result) any {
	if len(result.Rows) == 0 {
		return 0
	}
	if v, ok := result.Rows[0][query.TotalColumn]; ok && v != nil {
		return v
	}
	return len(result.Rows)
}
