package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagepipe/stagepipe/pkg/pipeline"
)

const postTestName = "blog-post"

func resultEnvelope(rows []map[string]any, total int) pipeline.Output {
	count := pipeline.NewFields().Set("total_found", total).Set("page_size", len(rows))
	data := pipeline.NewFields().Set("count", count).Set("data", rows).Set("columns", nil)
	meta := pipeline.NewFields().Set("executor-name", "blog-exec")
	return pipeline.NewOutput(data, meta)
}

func TestPost_DefaultPassesThrough(t *testing.T) {
	post := NewPost(postTestName)
	out := resultEnvelope([]map[string]any{{"id": "a1"}}, 1)

	run := pipeline.NewContext()
	shaped := post.Apply(out, run)

	assert.Equal(t, []string{"count", "data", "columns"}, shaped.Data().Keys())
	_, ok := run.Get(pipeline.CtxPostProcessedAt)
	assert.True(t, ok)
}

func TestPost_TimestampOnlyIfAbsent(t *testing.T) {
	post := NewPost(postTestName)
	run := pipeline.NewContext()
	run.Set(pipeline.CtxPostProcessedAt, "earlier")

	post.Apply(resultEnvelope(nil, 0), run)

	v, _ := run.Get(pipeline.CtxPostProcessedAt)
	assert.Equal(t, "earlier", v)
}

func TestPost_ShapersComposeInOrder(t *testing.T) {
	post := NewPost(postTestName, WithShapers(
		RenameFields(map[string]string{"data": "rows"}),
		RenameFields(map[string]string{"rows": "records"}),
	))

	shaped := post.Apply(resultEnvelope([]map[string]any{{"id": "a1"}}, 1), pipeline.NewContext())

	assert.Equal(t, []string{"count", "records", "columns"}, shaped.Data().Keys())
}

func TestPost_ShapersNeverTouchMetadata(t *testing.T) {
	post := NewPost(postTestName, WithShapers(RenameFields(map[string]string{"count": "meta_count"})))
	out := resultEnvelope(nil, 0)

	shaped := post.Apply(out, pipeline.NewContext())

	v, ok := shaped.MetadataValue("executor-name")
	require.True(t, ok)
	assert.Equal(t, "blog-exec", v)
}

func TestMaskFields(t *testing.T) {
	rows := []map[string]any{
		{"username": "lcarroll", "email": "lewis@wonderland.example"},
		{"username": "cduck", "email": "duck@wonderland.example"},
	}
	post := NewPost(postTestName, WithShapers(MaskFields("email")))

	shaped := post.Apply(resultEnvelope(rows, 2), pipeline.NewContext())

	raw, _ := shaped.DataValue("data")
	got := raw.([]map[string]any)
	assert.Equal(t, "***", got[0]["email"])
	assert.Equal(t, "lcarroll", got[0]["username"])
	assert.Equal(t, "***", got[1]["email"])

	// Source rows are untouched.
	assert.Equal(t, "lewis@wonderland.example", rows[0]["email"])
}

func TestPaginationEnvelope(t *testing.T) {
	rows := []map[string]any{{"id": "a1"}, {"id": "a2"}}
	post := NewPost(postTestName, WithShapers(PaginationEnvelope()))

	shaped := post.Apply(resultEnvelope(rows, 25), pipeline.NewContext())

	raw, ok := shaped.DataValue("pagination")
	require.True(t, ok)
	pg := raw.(*pipeline.Fields)

	total, _ := pg.Get("totalRows")
	assert.Equal(t, 25, total)
	size, _ := pg.Get("pageSize")
	assert.Equal(t, 2, size)
	pages, _ := pg.Get("totalPages")
	assert.Equal(t, 13, pages)
}
