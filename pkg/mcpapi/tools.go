package mcpapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/stagepipe/stagepipe/pkg/operation"
	"github.com/stagepipe/stagepipe/pkg/query"
)

// toolSchema is the JSON Schema document attached to each tool.
type toolSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]schemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

type schemaProperty struct {
	Type   string `json:"type"`
	Format string `json:"format,omitempty"`
}

// registerTools adds one MCP tool per registered operation.
func (s *Server) registerTools() {
	reg := s.svc.Registry()
	for _, name := range reg.Names() {
		def, ok := reg.Get(name)
		if !ok {
			continue
		}
		tool := &mcp.Tool{
			Name:        def.Name,
			Description: toolDescription(def),
			InputSchema: inputSchemaFor(def.Template),
		}
		if def.Template.Operation == query.OpSelect {
			tool.Annotations = &mcp.ToolAnnotations{ReadOnlyHint: true}
		}
		s.mcp.AddTool(tool, s.invokeHandler(def.Name))
	}
}

// toolDescription prefers the configured description and falls back to
// a generic one so every tool carries usable text.
func toolDescription(def *operation.Definition) string {
	if def.Description != "" {
		return def.Description
	}
	return fmt.Sprintf("Runs the %s operation against its configured data source.", def.Name)
}

// inputSchemaFor derives a tool input schema from the template's
// runtime parameters.
func inputSchemaFor(tmpl *query.Template) toolSchema {
	schema := toolSchema{
		Type:       "object",
		Properties: map[string]schemaProperty{},
	}
	for _, p := range tmpl.Parameters() {
		schema.Properties[p.Name] = propertyFor(p.Type)
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}

func propertyFor(t query.ParamType) schemaProperty {
	switch t {
	case query.TypeInt:
		return schemaProperty{Type: "integer"}
	case query.TypeFloat:
		return schemaProperty{Type: "number"}
	case query.TypeBool:
		return schemaProperty{Type: "boolean"}
	case query.TypeUUID:
		return schemaProperty{Type: "string", Format: "uuid"}
	default:
		return schemaProperty{Type: "string"}
	}
}

// invokeHandler returns the tool handler for one operation. The full
// response envelope is serialized into the tool result so clients see
// the same shape the REST surface returns.
func (s *Server) invokeHandler(name string) func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var params map[string]any
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &params); err != nil {
				return &mcp.CallToolResult{
					Content: []mcp.Content{&mcp.TextContent{Text: "Error: arguments must be a JSON object: " + err.Error()}},
					IsError: true,
				}, nil
			}
		}

		resp := s.svc.Invoke(ctx, name, params)
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling %s response: %w", name, err)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
			IsError: !resp.Success,
		}, nil
	}
}
