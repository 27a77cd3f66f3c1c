package stage

import (
	"log/slog"
	"time"

	"github.com/stagepipe/stagepipe/pkg/pipeline"
)

// Shaper rewrites the output data fields. Shapers compose over the
// existing fields and run in registration order; they cannot touch
// metadata, which always propagates unchanged.
type Shaper func(data *pipeline.Fields) *pipeline.Fields

// Post is the post-processing stage. The default configuration passes
// the execution output through untouched and records a run-context
// timestamp; shapers are an extension point wired per operation.
type Post struct {
	name    string
	shapers []Shaper
	log     *slog.Logger
}

var _ pipeline.PostProcessor = (*Post)(nil)

// PostOption configures a Post stage.
type PostOption func(*Post)

// WithShapers appends data shapers.
func WithShapers(shapers ...Shaper) PostOption {
	return func(p *Post) { p.shapers = append(p.shapers, shapers...) }
}

// WithPostLogger sets the stage logger.
func WithPostLogger(log *slog.Logger) PostOption {
	return func(p *Post) { p.log = log }
}

// NewPost builds the post-processing stage for one operation.
func NewPost(name string, opts ...PostOption) *Post {
	p := &Post{name: name, log: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Apply records the stage timestamp and applies the configured shapers
// to a clone of the data fields. With no shapers the output is returned
// as-is.
func (p *Post) Apply(out pipeline.Output, run *pipeline.Context) pipeline.Output {
	run.SetIfAbsent(pipeline.CtxPostProcessedAt, time.Now().UTC().Format(time.RFC3339Nano))

	if len(p.shapers) == 0 {
		return out
	}

	data := out.Data()
	for _, shape := range p.shapers {
		data = shape(data)
	}
	p.log.Debug("post-process complete", "stage", p.name, "shapers", len(p.shapers))
	return pipeline.NewOutput(data, out.Metadata())
}

// RenameFields returns a shaper that renames top-level data fields.
// Renamed fields keep their position; names without a mapping pass
// through.
func RenameFields(mapping map[string]string) Shaper {
	return func(data *pipeline.Fields) *pipeline.Fields {
		shaped := pipeline.NewFields()
		data.Range(func(k string, v any) bool {
			if to, ok := mapping[k]; ok {
				k = to
			}
			shaped.Set(k, v)
			return true
		})
		return shaped
	}
}

// MaskFields returns a shaper that replaces named row columns with
// "***" in every result row. Fields outside the row list are untouched.
func MaskFields(columns ...string) Shaper {
	masked := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		masked[c] = struct{}{}
	}
	return func(data *pipeline.Fields) *pipeline.Fields {
		raw, ok := data.Get("data")
		if !ok {
			return data
		}
		rows, ok := raw.([]map[string]any)
		if !ok {
			return data
		}
		shapedRows := make([]map[string]any, len(rows))
		for i, row := range rows {
			shaped := make(map[string]any, len(row))
			for k, v := range row {
				if _, hide := masked[k]; hide {
					shaped[k] = "***"
				} else {
					shaped[k] = v
				}
			}
			shapedRows[i] = shaped
		}
		return data.Clone().Set("data", shapedRows)
	}
}

// PaginationEnvelope returns a shaper that adds a pagination block
// derived from the canonical count fields: total rows, page size, and
// the page arithmetic callers would otherwise redo.
func PaginationEnvelope() Shaper {
	return func(data *pipeline.Fields) *pipeline.Fields {
		rawCount, ok := data.Get("count")
		if !ok {
			return data
		}
		count, ok := rawCount.(*pipeline.Fields)
		if !ok {
			return data
		}

		total := asInt(count, "total_found")
		pageSize := asInt(count, "page_size")
		totalPages := 1
		if pageSize > 0 && total > pageSize {
			totalPages = (total + pageSize - 1) / pageSize
		}

		pagination := pipeline.NewFields().
			Set("totalRows", total).
			Set("pageSize", pageSize).
			Set("currentPage", 1).
			Set("totalPages", totalPages)
		return data.Clone().Set("pagination", pagination)
	}
}

func asInt(f *pipeline.Fields, key string) int {
	v, ok := f.Get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
