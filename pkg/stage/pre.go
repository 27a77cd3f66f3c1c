// Package stage provides the three concrete pipeline stages: input
// normalization, template resolution plus execution, and output
// shaping.
package stage

import (
	"log/slog"
	"time"

	"github.com/stagepipe/stagepipe/pkg/pipeline"
)

// EntryFilter decides whether a data or metadata entry survives
// pre-processing.
type EntryFilter func(key string, value any) bool

// KeyTransform rewrites a data key during pre-processing.
type KeyTransform func(key string) string

// ValueTransform rewrites a data value during pre-processing.
type ValueTransform func(key string, value any) any

// Pre is the pre-processing stage. The default configuration is
// identity: every entry passes, keys and values are unchanged. Filters
// and transforms are extension points wired per operation.
type Pre struct {
	name        string
	entryFilter EntryFilter
	metaFilter  EntryFilter
	keyTf       KeyTransform
	valueTf     ValueTransform
	log         *slog.Logger
}

var _ pipeline.PreProcessor = (*Pre)(nil)

// PreOption configures a Pre stage.
type PreOption func(*Pre)

// WithEntryFilter filters data entries.
func WithEntryFilter(fn EntryFilter) PreOption {
	return func(p *Pre) { p.entryFilter = fn }
}

// WithMetadataFilter filters metadata entries.
func WithMetadataFilter(fn EntryFilter) PreOption {
	return func(p *Pre) { p.metaFilter = fn }
}

// WithKeyTransform rewrites data keys.
func WithKeyTransform(fn KeyTransform) PreOption {
	return func(p *Pre) { p.keyTf = fn }
}

// WithValueTransform rewrites data values.
func WithValueTransform(fn ValueTransform) PreOption {
	return func(p *Pre) { p.valueTf = fn }
}

// WithPreLogger sets the stage logger.
func WithPreLogger(log *slog.Logger) PreOption {
	return func(p *Pre) { p.log = log }
}

// NewPre builds the pre-processing stage for one operation.
func NewPre(name string, opts ...PreOption) *Pre {
	p := &Pre{
		name:        name,
		entryFilter: func(string, any) bool { return true },
		metaFilter:  func(string, any) bool { return true },
		keyTf:       func(k string) string { return k },
		valueTf:     func(_ string, v any) any { return v },
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Apply rebuilds the envelope: data entries are filtered and
// transformed in input order, metadata is filtered and carried forward,
// and the stage-completion timestamp is recorded if no earlier stage
// wrote one. When the key transform maps two input keys to the same
// output key, the later entry's value wins and the earlier entry's
// position is kept.
func (p *Pre) Apply(in pipeline.Input, _ *pipeline.Context) pipeline.Input {
	data := pipeline.NewFields()
	in.Data().Range(func(k string, v any) bool {
		if !p.entryFilter(k, v) {
			return true
		}
		data.Set(p.keyTf(k), p.valueTf(k, v))
		return true
	})

	meta := pipeline.NewFields()
	in.Metadata().Range(func(k string, v any) bool {
		if p.metaFilter(k, v) {
			meta.Set(k, v)
		}
		return true
	})
	meta.SetIfAbsent(pipeline.KeyPreProcessedAt, time.Now().UTC().Format(time.RFC3339Nano))

	p.log.Debug("pre-process complete", "stage", p.name, "entries", data.Len())
	return pipeline.NewInput(data, meta)
}
