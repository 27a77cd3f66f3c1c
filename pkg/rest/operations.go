package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/stagepipe/stagepipe/pkg/query"
)

// catalogParameter describes one runtime parameter of an operation.
type catalogParameter struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Source   string `json:"source"`
}

// catalogOperation is one catalog listing entry.
type catalogOperation struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Statement   string             `json:"statement"`
	Table       string             `json:"table"`
	Parameters  []catalogParameter `json:"parameters"`
}

// catalogResponse is the catalog listing body.
type catalogResponse struct {
	Operations []catalogOperation `json:"operations"`
	Count      int                `json:"count"`
}

// infoResponse is the info endpoint body.
type infoResponse struct {
	Info
	Operations int `json:"operations"`
}

// invokeRequest is the POST invocation body.
type invokeRequest struct {
	Parameters map[string]any `json:"parameters"`
}

// getInfo handles GET /api/v1/info.
//
// @Summary      Get server info
// @Description  Returns server identity, build metadata, and catalog size.
// @Tags         System
// @Produce      json
// @Success      200  {object}  infoResponse
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /info [get]
func (h *Handler) getInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{
		Info:       h.opts.Info,
		Operations: h.svc.Registry().Len(),
	})
}

// listOperations handles GET /api/v1/operations.
//
// @Summary      List operations
// @Description  Returns every configured operation with its statement kind, target table, and accepted parameters.
// @Tags         Operations
// @Produce      json
// @Success      200  {object}  catalogResponse
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /operations [get]
func (h *Handler) listOperations(w http.ResponseWriter, _ *http.Request) {
	reg := h.svc.Registry()
	names := reg.Names()

	ops := make([]catalogOperation, 0, len(names))
	for _, name := range names {
		def, ok := reg.Get(name)
		if !ok {
			continue
		}
		ops = append(ops, newCatalogOperation(def.Name, def.Description, def.Template))
	}

	writeJSON(w, http.StatusOK, catalogResponse{Operations: ops, Count: len(ops)})
}

func newCatalogOperation(name, description string, tmpl *query.Template) catalogOperation {
	params := tmpl.Parameters()
	listed := make([]catalogParameter, 0, len(params))
	for _, p := range params {
		listed = append(listed, catalogParameter{
			Name:     p.Name,
			Type:     string(p.Type),
			Required: p.Required,
			Source:   p.Source,
		})
	}
	return catalogOperation{
		Name:        name,
		Description: description,
		Statement:   string(tmpl.Operation),
		Table:       tmpl.Table,
		Parameters:  listed,
	}
}

// invokeFromQuery handles GET /api/v1/operations/{name}.
//
// Query string values arrive as strings; typed templates coerce them
// during resolution. Repeated keys become a list for in-filters.
//
// @Summary      Invoke an operation
// @Description  Runs the named operation with parameters taken from the query string.
// @Tags         Operations
// @Produce      json
// @Param        name  path  string  true  "Operation name"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Failure      502  {object}  map[string]interface{}
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /operations/{name} [get]
func (h *Handler) invokeFromQuery(w http.ResponseWriter, r *http.Request) {
	params := make(map[string]any)
	for key, values := range r.URL.Query() {
		if len(values) == 1 {
			params[key] = values[0]
			continue
		}
		params[key] = values
	}
	h.invoke(w, r, params)
}

// invokeFromBody handles POST /api/v1/operations/{name}.
//
// @Summary      Invoke an operation with a JSON body
// @Description  Runs the named operation with parameters taken from the request body.
// @Tags         Operations
// @Accept       json
// @Produce      json
// @Param        name     path  string         true   "Operation name"
// @Param        request  body  invokeRequest  false  "Runtime parameters"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Failure      502  {object}  map[string]interface{}
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /operations/{name} [post]
func (h *Handler) invokeFromBody(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object with a parameters field")
		return
	}
	h.invoke(w, r, req.Parameters)
}

func (h *Handler) invoke(w http.ResponseWriter, r *http.Request, params map[string]any) {
	name := r.PathValue("name")
	resp := h.svc.Invoke(r.Context(), name, params)
	writeJSON(w, resp.Status(), resp)
}
