package operation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stagepipe/stagepipe/pkg/engine"
	"github.com/stagepipe/stagepipe/pkg/pipeline"
	"github.com/stagepipe/stagepipe/pkg/source"
	"github.com/stagepipe/stagepipe/pkg/stage"
)

// Service owns one runner per registered operation and invokes them.
// The engine and source set are injected into every request's metadata,
// so the execution stage finds its capabilities the same way regardless
// of which protocol adapter called.
type Service struct {
	registry *Registry
	engine   engine.Engine
	sources  *source.Set
	runners  map[string]*pipeline.Runner
	log      *slog.Logger
	ser      *pipeline.Serializer
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

// WithSerializer sets the diagnostics serializer used for debug dumps
// of run annotations.
func WithSerializer(ser *pipeline.Serializer) ServiceOption {
	return func(s *Service) { s.ser = ser }
}

// NewService builds the three-stage runner for every operation in the
// registry. A definition that cannot produce a runner fails startup.
func NewService(reg *Registry, eng engine.Engine, sources *source.Set, opts ...ServiceOption) (*Service, error) {
	if reg == nil {
		return nil, fmt.Errorf("operation registry is required")
	}
	if eng == nil {
		return nil, fmt.Errorf("query engine is required")
	}
	if sources == nil || sources.Len() == 0 {
		return nil, fmt.Errorf("at least one source provider is required")
	}

	s := &Service{
		registry: reg,
		engine:   eng,
		sources:  sources,
		runners:  make(map[string]*pipeline.Runner, reg.Len()),
		log:      slog.Default(),
		ser:      pipeline.NewSerializer(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, name := range reg.Names() {
		def, _ := reg.Get(name)
		runner, err := buildRunner(def, s.log)
		if err != nil {
			return nil, fmt.Errorf("building runner for operation %s: %w", name, err)
		}
		s.runners[name] = runner
	}
	return s, nil
}

func buildRunner(def *Definition, log *slog.Logger) (*pipeline.Runner, error) {
	pre := stage.NewPre(def.Name, stage.WithPreLogger(log))

	exec, err := stage.NewExec(def.Name, def.Template, stage.WithExecLogger(log))
	if err != nil {
		return nil, err
	}

	var shapers []stage.Shaper
	if len(def.Shaping.Rename) > 0 {
		shapers = append(shapers, stage.RenameFields(def.Shaping.Rename))
	}
	if len(def.Shaping.Mask) > 0 {
		shapers = append(shapers, stage.MaskFields(def.Shaping.Mask...))
	}
	if def.Shaping.Pagination {
		shapers = append(shapers, stage.PaginationEnvelope())
	}
	post := stage.NewPost(def.Name, stage.WithShapers(shapers...), stage.WithPostLogger(log))

	return pipeline.NewRunner(def.Name, pre, exec, post)
}

// Registry exposes the catalog for protocol adapters.
func (s *Service) Registry() *Registry { return s.registry }

// Invoke runs the named operation with the caller's parameters and
// shapes the outcome. It never returns an error; failures become
// classified error responses so every adapter shares one mapping.
func (s *Service) Invoke(ctx context.Context, name string, params map[string]any) *Response {
	runner, ok := s.runners[name]
	if !ok {
		s.log.Warn("unknown operation requested", "operation", name)
		return notFoundResponse(name)
	}

	requestID := uuid.NewString()
	start := time.Now()

	run := pipeline.NewContext()
	run.Set(pipeline.CtxRequestID, requestID)

	data := pipeline.NewFields().Set(pipeline.KeyParameters, params)
	meta := pipeline.NewFields().
		Set(pipeline.KeyOperation, name).
		Set(pipeline.KeyEngine, s.engine).
		Set(pipeline.KeySources, s.sources)

	out, err := runner.Run(ctx, pipeline.NewInput(data, meta), run)
	if err != nil {
		s.log.Error("operation failed",
			"operation", name,
			"request_id", requestID,
			"class", string(pipeline.Classify(err)),
			"duration", time.Since(start),
			"error", err)
		return failureResponse(err)
	}

	// The response takes only the output's data fields; metadata, with
	// the resolved statement text, stays behind.
	resp := &Response{Success: true, Body: out.Data()}
	s.log.Info("operation complete",
		"operation", name,
		"request_id", requestID,
		"rows", resp.PageSize(),
		"duration", time.Since(start))
	if s.log.Enabled(ctx, slog.LevelDebug) {
		s.log.Debug("run annotations", "operation", name, "annotations", s.ser.Stringify(run.Snapshot()))
	}
	return resp
}
