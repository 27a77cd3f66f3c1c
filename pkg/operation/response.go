package operation

import (
	"encoding/json"
	"net/http"

	"github.com/stagepipe/stagepipe/pkg/pipeline"
)

// ErrorBody is the error block of a failed response.
type ErrorBody struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Response is the protocol-independent outcome of one invocation. A
// success carries the pipeline's ordered output data fields (count,
// data, columns by default; shapers may have reworked them); a failure
// carries only the classified error block. Envelope metadata never
// reaches a Response.
type Response struct {
	Success bool
	Body    *pipeline.Fields
	Err     *ErrorBody

	status int
}

// Status returns the HTTP-equivalent status code for the response.
func (r *Response) Status() int {
	if r.Success {
		return http.StatusOK
	}
	return r.status
}

// PageSize returns count.page_size from the body, or 0.
func (r *Response) PageSize() int {
	count, ok := r.countFields()
	if !ok {
		return 0
	}
	v, _ := count.Get("page_size")
	n, _ := v.(int)
	return n
}

// TotalFound returns count.total_found from the body, or 0.
func (r *Response) TotalFound() any {
	count, ok := r.countFields()
	if !ok {
		return 0
	}
	if v, ok := count.Get("total_found"); ok {
		return v
	}
	return 0
}

// Rows returns the result rows from the body, or nil.
func (r *Response) Rows() []map[string]any {
	if r.Body == nil {
		return nil
	}
	raw, ok := r.Body.Get("data")
	if !ok {
		return nil
	}
	rows, _ := raw.([]map[string]any)
	return rows
}

func (r *Response) countFields() (*pipeline.Fields, bool) {
	if r.Body == nil {
		return nil, false
	}
	raw, ok := r.Body.Get("count")
	if !ok {
		return nil, false
	}
	count, ok := raw.(*pipeline.Fields)
	return count, ok
}

type failureBody struct {
	Success bool       `json:"success"`
	Error   *ErrorBody `json:"error"`
}

// MarshalJSON renders the envelope. Success responses emit the success
// flag followed by the body fields in their pipeline order, so the
// default shape is exactly success, count, data, columns.
func (r *Response) MarshalJSON() ([]byte, error) {
	if !r.Success {
		return json.Marshal(failureBody{Success: false, Error: r.Err})
	}
	merged := pipeline.NewFields().Set("success", true)
	if r.Body != nil {
		r.Body.Range(func(k string, v any) bool {
			merged.Set(k, v)
			return true
		})
	}
	return json.Marshal(merged)
}

// statusFor maps an error class to its HTTP-equivalent code.
func statusFor(class pipeline.Class) int {
	switch class {
	case pipeline.ClassValidation:
		return http.StatusBadRequest
	case pipeline.ClassConfiguration:
		return http.StatusInternalServerError
	case pipeline.ClassExecution:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// failureResponse shapes a classified pipeline failure.
func failureResponse(err error) *Response {
	class := pipeline.Classify(err)
	status := statusFor(class)

	details := map[string]any{"class": string(class)}
	if field := pipeline.FieldOf(err); field != "" {
		details["field"] = field
	}

	return &Response{
		Success: false,
		Err: &ErrorBody{
			Code:    status,
			Message: err.Error(),
			Details: details,
		},
		status: status,
	}
}

// notFoundResponse rejects an unknown operation name.
func notFoundResponse(name string) *Response {
	return &Response{
		Success: false,
		Err: &ErrorBody{
			Code:    http.StatusNotFound,
			Message: "unknown operation " + name,
			Details: map[string]any{"operation": name},
		},
		status: http.StatusNotFound,
	}
}
