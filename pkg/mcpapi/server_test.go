package mcpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagepipe/stagepipe/pkg/backend"
	"github.com/stagepipe/stagepipe/pkg/engine"
	"github.com/stagepipe/stagepipe/pkg/operation"
	"github.com/stagepipe/stagepipe/pkg/query"
	"github.com/stagepipe/stagepipe/pkg/source"
)

const (
	mcpTestListOp   = "list-articles"
	mcpTestCreateOp = "create-author"
)

type mcpEngine struct {
	calls  int
	last   *query.Resolved
	result *query.Result
	err    error
}

func (e *mcpEngine) Name() string { return "mcp-test" }

func (e *mcpEngine) Execute(_ context.Context, resolved *query.Resolved, _ engine.ExecutionContext) (*query.Result, error) {
	e.calls++
	e.last = resolved
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

type mcpProvider struct{}

func (p *mcpProvider) Kind() backend.Kind { return backend.Postgres }
func (p *mcpProvider) Name() string       { return "blog-primary" }
func (p *mcpProvider) DB() *sql.DB        { return nil }
func (p *mcpProvider) Close() error       { return nil }

func newTestServer(t *testing.T, eng engine.Engine) *Server {
	t.Helper()

	listTmpl, err := query.ParseTemplate([]byte(`{
		"operation": "select",
		"table": "articles",
		"columns": ["id", "title"],
		"filters": [
			{"column": "is_published", "op": "eq", "param": "is_published", "type": "bool", "required": true}
		],
		"pagination": {"page_param": "page", "limit_param": "limit", "default_limit": 10, "with_total": true}
	}`))
	require.NoError(t, err)

	createTmpl, err := query.ParseTemplate([]byte(`{
		"operation": "insert",
		"table": "authors",
		"values": [
			{"column": "id", "generator": "uuid"},
			{"column": "username", "param": "username", "required": true},
			{"column": "email", "param": "email", "required": true},
			{"column": "created_at", "generator": "now"}
		],
		"returning": ["id", "username"]
	}`))
	require.NoError(t, err)

	reg, err := operation.NewRegistry([]*operation.Definition{
		{Name: mcpTestListOp, Description: "List articles.", Template: listTmpl},
		{Name: mcpTestCreateOp, Description: "Create an author.", Template: createTmpl},
	})
	require.NoError(t, err)

	set := source.NewSet()
	require.NoError(t, set.Register(&mcpProvider{}))

	svc, err := operation.NewService(reg, eng, set)
	require.NoError(t, err)

	return NewServer(svc, Options{Name: "stagepipe-test", Version: "v0.0.1"})
}

// connectTestSession wires an in-memory client session to the server
// and tears both ends down with the test.
func connectTestSession(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	t1, t2 := mcp.NewInMemoryTransports()
	serverSession, err := s.MCP().Connect(ctx, t1, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, t2, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = session.Close()
		_ = serverSession.Close()
	})
	return session
}

func textResult(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(tc.Text), &body))
	return body
}

func TestListTools(t *testing.T) {
	s := newTestServer(t, &mcpEngine{result: &query.Result{}})
	session := connectTestSession(t, s)

	listed, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, listed.Tools, 2)

	byName := make(map[string]*mcp.Tool, len(listed.Tools))
	for _, tool := range listed.Tools {
		byName[tool.Name] = tool
	}

	listTool, ok := byName[mcpTestListOp]
	require.True(t, ok)
	assert.Equal(t, "List articles.", listTool.Description)
	require.NotNil(t, listTool.Annotations)
	assert.True(t, listTool.Annotations.ReadOnlyHint, "select operations should be marked read-only")

	createTool, ok := byName[mcpTestCreateOp]
	require.True(t, ok)
	assert.Equal(t, "Create an author.", createTool.Description)

	// The advertised schema carries the template's runtime parameters.
	raw, err := json.Marshal(listTool.InputSchema)
	require.NoError(t, err)
	var schema map[string]any
	require.NoError(t, json.Unmarshal(raw, &schema))
	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	published, ok := props["is_published"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "boolean", published["type"])
	assert.Contains(t, props, "page")
	assert.Contains(t, props, "limit")
	assert.Contains(t, schema["required"], "is_published")
}

func TestCallTool(t *testing.T) {
	eng := &mcpEngine{result: &query.Result{
		Rows: []map[string]any{
			{"id": "a1", "title": "First", "total_found": int64(2)},
			{"id": "a2", "title": "Second", "total_found": int64(2)},
		},
		Columns: []query.Column{{Name: "id"}, {Name: "title"}, {Name: "total_found"}},
	}}
	s := newTestServer(t, eng)
	session := connectTestSession(t, s)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      mcpTestListOp,
		Arguments: map[string]any{"is_published": true, "page": 1},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, 1, eng.calls)

	body := textResult(t, result)
	assert.Equal(t, true, body["success"])

	count, ok := body["count"].(map[string]any)
	require.True(t, ok, "count should be an object")
	assert.Equal(t, float64(2), count["total_found"])
	assert.Equal(t, float64(2), count["page_size"])

	data, ok := body["data"].([]any)
	require.True(t, ok, "data should be a list")
	assert.Len(t, data, 2)

	require.NotNil(t, eng.last)
	assert.Equal(t, []any{true}, eng.last.Args[:1])
}

func TestCallTool_UnknownTool(t *testing.T) {
	s := newTestServer(t, &mcpEngine{result: &query.Result{}})
	session := connectTestSession(t, s)

	_, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "no-such-op",
		Arguments: map[string]any{},
	})
	assert.Error(t, err)
}

func TestInvokeHandler_MissingRequiredParameter(t *testing.T) {
	eng := &mcpEngine{result: &query.Result{}}
	s := newTestServer(t, eng)

	handler := s.invokeHandler(mcpTestListOp)
	result, err := handler(context.Background(), &mcp.CallToolRequest{
		Params: &mcp.CallToolParamsRaw{
			Name:      mcpTestListOp,
			Arguments: json.RawMessage(`{}`),
		},
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Zero(t, eng.calls, "validation failures must not reach the backend")

	body := textResult(t, result)
	assert.Equal(t, false, body["success"])
	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(http.StatusBadRequest), errBody["code"])
	assert.Contains(t, errBody["message"], "is_published")
}

func TestInvokeHandler_MalformedArguments(t *testing.T) {
	eng := &mcpEngine{result: &query.Result{}}
	s := newTestServer(t, eng)

	handler := s.invokeHandler(mcpTestListOp)
	result, err := handler(context.Background(), &mcp.CallToolRequest{
		Params: &mcp.CallToolParamsRaw{
			Name:      mcpTestListOp,
			Arguments: json.RawMessage(`["not", "an", "object"]`),
		},
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Zero(t, eng.calls)

	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, tc.Text, "arguments must be a JSON object")
}

func TestReadResource_Catalog(t *testing.T) {
	s := newTestServer(t, &mcpEngine{result: &query.Result{}})
	session := connectTestSession(t, s)

	result, err := session.ReadResource(context.Background(), &mcp.ReadResourceParams{
		URI: catalogResourceURI,
	})
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	assert.Equal(t, catalogResourceURI, result.Contents[0].URI)
	assert.Equal(t, "application/json", result.Contents[0].MIMEType)

	var catalog catalogDescriptor
	require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &catalog))
	assert.Equal(t, 2, catalog.Count)
	require.Len(t, catalog.Operations, 2)
	assert.Equal(t, mcpTestListOp, catalog.Operations[0].Name)
	assert.Equal(t, "select", catalog.Operations[0].Statement)
	assert.Equal(t, "articles", catalog.Operations[0].Table)
	require.Len(t, catalog.Operations[0].Parameters, 3)
	assert.Equal(t, query.Parameter{Name: "is_published", Type: query.TypeBool, Required: true, Source: "filter"}, catalog.Operations[0].Parameters[0])
}

func TestReadResource_Operation(t *testing.T) {
	s := newTestServer(t, &mcpEngine{result: &query.Result{}})
	session := connectTestSession(t, s)

	result, err := session.ReadResource(context.Background(), &mcp.ReadResourceParams{
		URI: "operation://create-author",
	})
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)

	var desc operationDescriptor
	require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &desc))
	assert.Equal(t, mcpTestCreateOp, desc.Name)
	assert.Equal(t, "insert", desc.Statement)
	assert.Equal(t, "authors", desc.Table)
	require.Len(t, desc.Parameters, 2, "generated columns should not be listed")
	assert.Equal(t, "username", desc.Parameters[0].Name)
	assert.Equal(t, "email", desc.Parameters[1].Name)
}

func TestReadResource_UnknownOperation(t *testing.T) {
	s := newTestServer(t, &mcpEngine{result: &query.Result{}})
	session := connectTestSession(t, s)

	_, err := session.ReadResource(context.Background(), &mcp.ReadResourceParams{
		URI: "operation://no-such-op",
	})
	assert.Error(t, err)
}

func TestStreamableHTTP(t *testing.T) {
	eng := &mcpEngine{result: &query.Result{
		Rows:    []map[string]any{{"id": "b7", "username": "casey"}},
		Columns: []query.Column{{Name: "id"}, {Name: "username"}},
	}}
	s := newTestServer(t, eng)

	httpServer := httptest.NewServer(s.HTTPHandler())
	defer httpServer.Close()

	ctx := context.Background()
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: httpServer.URL}, nil)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      mcpTestCreateOp,
		Arguments: map[string]any{"username": "casey", "email": "casey@example.com"},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)

	body := textResult(t, result)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 1, eng.calls)
}

func TestInputSchemaFor(t *testing.T) {
	tmpl, err := query.ParseTemplate([]byte(`{
		"operation": "select",
		"table": "comments",
		"filters": [
			{"column": "article_id", "op": "eq", "param": "article_id", "type": "uuid", "required": true},
			{"column": "rating", "op": "gte", "param": "min_rating", "type": "float"}
		],
		"pagination": {"page_param": "page", "limit_param": "limit", "default_limit": 20}
	}`))
	require.NoError(t, err)

	schema := inputSchemaFor(tmpl)
	assert.Equal(t, "object", schema.Type)
	assert.Equal(t, schemaProperty{Type: "string", Format: "uuid"}, schema.Properties["article_id"])
	assert.Equal(t, schemaProperty{Type: "number"}, schema.Properties["min_rating"])
	assert.Equal(t, schemaProperty{Type: "integer"}, schema.Properties["page"])
	assert.Equal(t, schemaProperty{Type: "integer"}, schema.Properties["limit"])
	assert.Equal(t, []string{"article_id"}, schema.Required)
}
