package stage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagepipe/stagepipe/pkg/pipeline"
)

const preTestName = "blog-pre"

func TestPre_DefaultIsIdentity(t *testing.T) {
	pre := NewPre(preTestName)
	in := pipeline.NewInput(
		pipeline.NewFields().Set("parameters", map[string]any{"page": 1}),
		pipeline.NewFields().Set("engine", "sql"),
	)

	out := pre.Apply(in, pipeline.NewContext())

	v, ok := out.DataValue("parameters")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"page": 1}, v)
	_, ok = out.MetadataValue("engine")
	assert.True(t, ok)
}

func TestPre_TimestampOnlyIfAbsent(t *testing.T) {
	pre := NewPre(preTestName)

	t.Run("written when absent", func(t *testing.T) {
		out := pre.Apply(pipeline.NewInput(nil, nil), pipeline.NewContext())

		v, ok := out.MetadataValue(pipeline.KeyPreProcessedAt)
		require.True(t, ok)
		_, err := time.Parse(time.RFC3339Nano, v.(string))
		assert.NoError(t, err)
	})

	t.Run("kept when present", func(t *testing.T) {
		meta := pipeline.NewFields().Set(pipeline.KeyPreProcessedAt, "existing")
		out := pre.Apply(pipeline.NewInput(nil, meta), pipeline.NewContext())

		v, _ := out.MetadataValue(pipeline.KeyPreProcessedAt)
		assert.Equal(t, "existing", v)
	})
}

func TestPre_KeyCollisionLastWriteWins(t *testing.T) {
	// Lowercasing maps Title and TITLE onto title; the later entry's
	// value must win while the first entry's position is kept.
	pre := NewPre(preTestName, WithKeyTransform(strings.ToLower))
	data := pipeline.NewFields().
		Set("Title", "first").
		Set("author", "lcarroll").
		Set("TITLE", "second")

	out := pre.Apply(pipeline.NewInput(data, nil), pipeline.NewContext())

	got := out.Data()
	assert.Equal(t, []string{"title", "author"}, got.Keys())
	v, _ := got.Get("title")
	assert.Equal(t, "second", v)
}

func TestPre_EntryFilterDrops(t *testing.T) {
	pre := NewPre(preTestName, WithEntryFilter(func(k string, _ any) bool {
		return k != "internal"
	}))
	data := pipeline.NewFields().Set("keep", 1).Set("internal", 2)

	out := pre.Apply(pipeline.NewInput(data, nil), pipeline.NewContext())

	assert.Equal(t, []string{"keep"}, out.Data().Keys())
}

func TestPre_ValueTransform(t *testing.T) {
	pre := NewPre(preTestName, WithValueTransform(func(k string, v any) any {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
		return v
	}))
	data := pipeline.NewFields().Set("username", "  lcarroll  ")

	out := pre.Apply(pipeline.NewInput(data, nil), pipeline.NewContext())

	v, _ := out.DataValue("username")
	assert.Equal(t, "lcarroll", v)
}

func TestPre_NeverMutatesInput(t *testing.T) {
	pre := NewPre(preTestName, WithKeyTransform(strings.ToUpper))
	data := pipeline.NewFields().Set("title", "A Mad Tea Party")
	in := pipeline.NewInput(data, nil)

	_ = pre.Apply(in, pipeline.NewContext())

	_, ok := in.DataValue("title")
	assert.True(t, ok, "input envelope must be unchanged")
	_, ok = in.DataValue("TITLE")
	assert.False(t, ok)
}
