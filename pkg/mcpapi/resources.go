package mcpapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/yosida95/uritemplate/v3"

	"github.com/stagepipe/stagepipe/pkg/operation"
	"github.com/stagepipe/stagepipe/pkg/query"
)

// Resource URI patterns.
const (
	catalogResourceURI   = "operation://catalog"
	operationTemplateURI = "operation://{name}"
)

// operationDescriptor is the serializable catalog entry for one
// operation.
type operationDescriptor struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Statement   string            `json:"statement"`
	Table       string            `json:"table"`
	Parameters  []query.Parameter `json:"parameters"`
}

// catalogDescriptor is the full catalog listing.
type catalogDescriptor struct {
	Operations []operationDescriptor `json:"operations"`
	Count      int                   `json:"count"`
}

// registerResources exposes the catalog as a static resource and each
// operation through the operation://{name} template.
func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		URI:         catalogResourceURI,
		Name:        "Operation Catalog",
		Description: "All registered operations with their statement kinds and runtime parameters",
		MIMEType:    "application/json",
	}, s.handleCatalogResource)

	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: operationTemplateURI,
		Name:        "Operation",
		Description: "A single operation's statement kind, target table, and runtime parameters",
		MIMEType:    "application/json",
	}, s.handleOperationResource)
}

// handleCatalogResource handles operation://catalog requests.
func (s *Server) handleCatalogResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	reg := s.svc.Registry()
	entries := make([]operationDescriptor, 0, reg.Len())
	for _, name := range reg.Names() {
		def, ok := reg.Get(name)
		if !ok {
			continue
		}
		entries = append(entries, newOperationDescriptor(def))
	}
	return marshalResourceResult(req.Params.URI, catalogDescriptor{
		Operations: entries,
		Count:      len(entries),
	})
}

// handleOperationResource handles operation://{name} requests.
func (s *Server) handleOperationResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	vars, err := parseTemplateVars(operationTemplateURI, uri)
	if err != nil {
		return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error returned as-is for SDK type matching
	}

	name := vars["name"]
	def, ok := s.svc.Registry().Get(name)
	if !ok {
		return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error returned as-is for SDK type matching
	}

	return marshalResourceResult(uri, newOperationDescriptor(def))
}

func newOperationDescriptor(def *operation.Definition) operationDescriptor {
	params := def.Template.Parameters()
	if params == nil {
		params = []query.Parameter{}
	}
	return operationDescriptor{
		Name:        def.Name,
		Description: def.Description,
		Statement:   string(def.Template.Operation),
		Table:       def.Template.Table,
		Parameters:  params,
	}
}

// parseTemplateVars extracts named variables from a URI using a URI
// template. Returns an error if the URI does not match the template.
func parseTemplateVars(templateStr, uri string) (map[string]string, error) {
	tmpl, err := uritemplate.New(templateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid template %q: %w", templateStr, err)
	}

	match := tmpl.Match(uri)
	if match == nil {
		return nil, fmt.Errorf("uri %q does not match template %q", uri, templateStr)
	}

	result := make(map[string]string)
	for _, name := range tmpl.Varnames() {
		val := match.Get(name)
		result[name] = val.String()
	}
	return result, nil
}

// marshalResourceResult wraps v as a JSON resource content block.
func marshalResourceResult(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling resource %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(data),
			},
		},
	}, nil
}
