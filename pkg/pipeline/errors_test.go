package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"validation", Validationf("author_id", "parameter is required"), ClassValidation},
		{"configuration", Configurationf("no engine in metadata"), ClassConfiguration},
		{"execution", Executionf(errors.New("timeout"), "select failed"), ClassExecution},
		{"internal", Internalf("unexpected state"), ClassInternal},
		{"plain error", errors.New("plain"), ClassInternal},
		{"wrapped classified", fmt.Errorf("outer: %w", Validationf("page", "not an int")), ClassValidation},
		{"nil-ish chain", fmt.Errorf("outer: %w", errors.New("inner")), ClassInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestError_AtKeepsInnermostAttribution(t *testing.T) {
	e := Validationf("limit", "not an int")
	e.At(StageExec, "list-authors")
	e.At(StagePost, "other-op")

	assert.Equal(t, StageExec, e.Stage)
	assert.Equal(t, "list-authors", e.Operation)
}

func TestError_UnwrapChain(t *testing.T) {
	cause := errors.New("connection reset")
	e := Executionf(cause, "executing insert")

	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "connection reset")
	assert.Contains(t, e.Error(), "execution")
}

func TestError_MessageIncludesAttribution(t *testing.T) {
	e := Configurationf("metadata has no engine").At(StageExec, "create-author")

	msg := e.Error()
	assert.Contains(t, msg, "create-author")
	assert.Contains(t, msg, StageExec)
}

func TestFieldOf(t *testing.T) {
	require.Equal(t, "author_id", FieldOf(Validationf("author_id", "missing")))
	require.Equal(t, "", FieldOf(errors.New("plain")))
}
