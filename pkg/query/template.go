// Package query defines the declarative statement templates operations
// are written in, and resolves a template plus runtime parameters into
// an executable statement with bound arguments.
package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/stagepipe/stagepipe/pkg/backend"
)

// Op is the statement kind a template produces.
type Op string

const (
	// OpSelect reads rows.
	OpSelect Op = "select"

	// OpInsert creates rows.
	OpInsert Op = "insert"

	// OpUpdate modifies rows.
	OpUpdate Op = "update"

	// OpDelete removes rows.
	OpDelete Op = "delete"
)

// FilterOp is a comparison operator in a template filter.
type FilterOp string

// Supported filter operators.
const (
	FilterEq   FilterOp = "eq"
	FilterNeq  FilterOp = "neq"
	FilterGt   FilterOp = "gt"
	FilterGte  FilterOp = "gte"
	FilterLt   FilterOp = "lt"
	FilterLte  FilterOp = "lte"
	FilterLike FilterOp = "like"
	FilterIn   FilterOp = "in"
)

// ParamType declares how a runtime parameter is coerced before binding.
// An empty type binds the value as given.
type ParamType string

// Supported parameter types.
const (
	TypeString ParamType = "string"
	TypeInt    ParamType = "int"
	TypeFloat  ParamType = "float"
	TypeBool   ParamType = "bool"
	TypeUUID   ParamType = "uuid"
)

// Generator names a server-side value source for insert and update
// columns.
type Generator string

// Supported value generators.
const (
	// GenUUID generates a random UUID string.
	GenUUID Generator = "uuid"

	// GenNow generates the current UTC time.
	GenNow Generator = "now"
)

// Filter declares one WHERE predicate. The comparison value comes from
// the named runtime parameter, or from Value when the predicate is
// fixed by the template author.
type Filter struct {
	Column   string    `json:"column"`
	Op       FilterOp  `json:"op"`
	Param    string    `json:"param,omitempty"`
	Value    any       `json:"value,omitempty"`
	Required bool      `json:"required,omitempty"`
	Type     ParamType `json:"type,omitempty"`
}

// Aggregate declares one aggregate select expression.
type Aggregate struct {
	Func   string `json:"func"`
	Column string `json:"column,omitempty"`
	Alias  string `json:"alias"`
}

// Join declares one join clause.
type Join struct {
	Kind  string `json:"kind"`
	Table string `json:"table"`
	On    string `json:"on"`
}

// Order declares one ORDER BY term.
type Order struct {
	Column string `json:"column"`
	Dir    string `json:"dir,omitempty"`
}

// Pagination declares page-based limiting for a select template. When
// WithTotal is set the resolved statement also computes the total match
// count via a window aggregate, so one round trip serves both the page
// and the overall count.
type Pagination struct {
	PageParam    string `json:"page_param,omitempty"`
	LimitParam   string `json:"limit_param,omitempty"`
	DefaultLimit uint64 `json:"default_limit,omitempty"`
	MaxLimit     uint64 `json:"max_limit,omitempty"`
	WithTotal    bool   `json:"with_total,omitempty"`
}

// Value declares one column written by an insert or update. The value
// comes from the named runtime parameter or a server-side generator.
type Value struct {
	Column    string    `json:"column"`
	Param     string    `json:"param,omitempty"`
	Generator Generator `json:"generator,omitempty"`
	Required  bool      `json:"required,omitempty"`
	Type      ParamType `json:"type,omitempty"`
}

// Template is the declarative description of one operation's statement.
// Templates are parsed and validated once at startup and are read-only
// afterwards; per-request state lives in the Resolved statement.
type Template struct {
	Operation  Op          `json:"operation"`
	Table      string      `json:"table"`
	Columns    []string    `json:"columns,omitempty"`
	Aggregates []Aggregate `json:"aggregates,omitempty"`
	Joins      []Join      `json:"joins,omitempty"`
	Filters    []Filter    `json:"filters,omitempty"`
	GroupBy    []string    `json:"group_by,omitempty"`
	OrderBy    []Order     `json:"order_by,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Values     []Value     `json:"values,omitempty"`
	Returning  []string    `json:"returning,omitempty"`
	Dialect    string      `json:"dialect,omitempty"`
}

// Parameter describes one runtime parameter a template accepts, for
// catalog listings and tool schemas.
type Parameter struct {
	Name     string    `json:"name"`
	Type     ParamType `json:"type"`
	Required bool      `json:"required"`
	Source   string    `json:"source"` // "filter", "value", "pagination"
}

// Parameters lists the runtime parameters the template binds, in
// template order. Fixed filter values and generated columns take no
// caller input and are omitted.
func (t *Template) Parameters() []Parameter {
	var params []Parameter
	add := func(name string, typ ParamType, required bool, source string) {
		if typ == "" {
			typ = TypeString
		}
		params = append(params, Parameter{Name: name, Type: typ, Required: required, Source: source})
	}

	for _, f := range t.Filters {
		if f.Param != "" {
			add(f.Param, f.Type, f.Required, "filter")
		}
	}
	for _, v := range t.Values {
		if v.Param != "" {
			add(v.Param, v.Type, v.Required, "value")
		}
	}
	if p := t.Pagination; p != nil {
		if p.PageParam != "" {
			add(p.PageParam, TypeInt, false, "pagination")
		}
		if p.LimitParam != "" {
			add(p.LimitParam, TypeInt, false, "pagination")
		}
	}
	return params
}

// identRe accepts plain or single-qualified SQL identifiers. Templates
// are operator-authored, but rejecting anything else at load time keeps
// identifier text out of the injection surface entirely.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// joinOnRe restricts join conditions to a single identifier equality,
// for the same reason.
var joinOnRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?\s*=\s*[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

var aggregateFuncs = map[string]struct{}{
	"count": {}, "sum": {}, "avg": {}, "min": {}, "max": {},
}

var joinKinds = map[string]struct{}{
	"inner": {}, "left": {}, "right": {},
}

// ParseTemplate parses and validates a JSON template document.
func ParseTemplate(raw []byte) (*Template, error) {
	var t Template
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("parsing template: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Backend returns the template's backend kind. An unset dialect
// defaults to postgres.
func (t *Template) Backend() backend.Kind {
	if t.Dialect == "" {
		return backend.Postgres
	}
	return backend.Kind(t.Dialect)
}

// Validate checks structural correctness. It runs at load time so a
// bad template fails startup, never a request.
func (t *Template) Validate() error {
	switch t.Operation {
	case OpSelect, OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("template operation %q is not one of select, insert, update, delete", t.Operation)
	}
	if !identRe.MatchString(t.Table) {
		return fmt.Errorf("template table %q is not a valid identifier", t.Table)
	}
	if t.Dialect != "" && !backend.Kind(t.Dialect).Valid() {
		return fmt.Errorf("template dialect %q: unknown backend kind", t.Dialect)
	}

	for _, c := range t.Columns {
		if !identRe.MatchString(c) {
			return fmt.Errorf("template column %q is not a valid identifier", c)
		}
	}
	for _, g := range t.GroupBy {
		if !identRe.MatchString(g) {
			return fmt.Errorf("template group_by %q is not a valid identifier", g)
		}
	}
	for _, r := range t.Returning {
		if !identRe.MatchString(r) {
			return fmt.Errorf("template returning %q is not a valid identifier", r)
		}
	}
	for i, a := range t.Aggregates {
		if _, ok := aggregateFuncs[a.Func]; !ok {
			return fmt.Errorf("aggregate %d: function %q is not supported", i, a.Func)
		}
		if a.Column != "" && a.Column != "*" && !identRe.MatchString(a.Column) {
			return fmt.Errorf("aggregate %d: column %q is not a valid identifier", i, a.Column)
		}
		if a.Alias == "" || !identRe.MatchString(a.Alias) {
			return fmt.Errorf("aggregate %d: alias %q is required and must be a valid identifier", i, a.Alias)
		}
	}
	for i, j := range t.Joins {
		if _, ok := joinKinds[j.Kind]; !ok {
			return fmt.Errorf("join %d: kind %q is not one of inner, left, right", i, j.Kind)
		}
		if !identRe.MatchString(j.Table) {
			return fmt.Errorf("join %d: table %q is not a valid identifier", i, j.Table)
		}
		if !joinOnRe.MatchString(strings.TrimSpace(j.On)) {
			return fmt.Errorf("join %d: on condition %q must be an identifier equality", i, j.On)
		}
	}
	for i, f := range t.Filters {
		if err := f.validate(i); err != nil {
			return err
		}
	}
	for i, o := range t.OrderBy {
		if !identRe.MatchString(o.Column) {
			return fmt.Errorf("order_by %d: column %q is not a valid identifier", i, o.Column)
		}
		switch strings.ToLower(o.Dir) {
		case "", "asc", "desc":
		default:
			return fmt.Errorf("order_by %d: direction %q is not asc or desc", i, o.Dir)
		}
	}
	for i, v := range t.Values {
		if err := v.validate(i); err != nil {
			return err
		}
	}

	return t.validateShape()
}

func (f Filter) validate(i int) error {
	if !identRe.MatchString(f.Column) {
		return fmt.Errorf("filter %d: column %q is not a valid identifier", i, f.Column)
	}
	switch f.Op {
	case FilterEq, FilterNeq, FilterGt, FilterGte, FilterLt, FilterLte, FilterLike, FilterIn:
	default:
		return fmt.Errorf("filter %d (%s): operator %q is not supported", i, f.Column, f.Op)
	}
	if f.Param == "" && f.Value == nil {
		return fmt.Errorf("filter %d (%s): either param or value is required", i, f.Column)
	}
	if f.Param != "" && f.Value != nil {
		return fmt.Errorf("filter %d (%s): param and value are mutually exclusive", i, f.Column)
	}
	if err := validParamType(f.Type); err != nil {
		return fmt.Errorf("filter %d (%s): %w", i, f.Column, err)
	}
	return nil
}

func (v Value) validate(i int) error {
	if !identRe.MatchString(v.Column) {
		return fmt.Errorf("value %d: column %q is not a valid identifier", i, v.Column)
	}
	if v.Param == "" && v.Generator == "" {
		return fmt.Errorf("value %d (%s): either param or generator is required", i, v.Column)
	}
	if v.Param != "" && v.Generator != "" {
		return fmt.Errorf("value %d (%s): param and generator are mutually exclusive", i, v.Column)
	}
	switch v.Generator {
	case "", GenUUID, GenNow:
	default:
		return fmt.Errorf("value %d (%s): generator %q is not uuid or now", i, v.Column, v.Generator)
	}
	if err := validParamType(v.Type); err != nil {
		return fmt.Errorf("value %d (%s): %w", i, v.Column, err)
	}
	return nil
}

func validParamType(t ParamType) error {
	switch t {
	case "", TypeString, TypeInt, TypeFloat, TypeBool, TypeUUID:
		return nil
	default:
		return fmt.Errorf("parameter type %q is not one of string, int, float, bool, uuid", t)
	}
}

// validateShape rejects clause combinations the operation cannot carry.
func (t *Template) validateShape() error {
	selectOnly := func(name string, present bool) error {
		if present && t.Operation != OpSelect {
			return fmt.Errorf("%s is only valid on select templates", name)
		}
		return nil
	}
	if err := selectOnly("aggregates", len(t.Aggregates) > 0); err != nil {
		return err
	}
	if err := selectOnly("joins", len(t.Joins) > 0); err != nil {
		return err
	}
	if err := selectOnly("group_by", len(t.GroupBy) > 0); err != nil {
		return err
	}
	if err := selectOnly("order_by", len(t.OrderBy) > 0); err != nil {
		return err
	}
	if err := selectOnly("pagination", t.Pagination != nil); err != nil {
		return err
	}

	switch t.Operation {
	case OpSelect:
		if len(t.Values) > 0 {
			return fmt.Errorf("values are not valid on select templates")
		}
		if len(t.Returning) > 0 {
			return fmt.Errorf("returning is not valid on select templates")
		}
	case OpInsert:
		if len(t.Values) == 0 {
			return fmt.Errorf("insert templates require at least one value")
		}
		if len(t.Filters) > 0 {
			return fmt.Errorf("filters are not valid on insert templates")
		}
	case OpUpdate:
		if len(t.Values) == 0 {
			return fmt.Errorf("update templates require at least one value")
		}
		if len(t.Filters) == 0 {
			return fmt.Errorf("update templates require at least one filter")
		}
	case OpDelete:
		if len(t.Values) > 0 {
			return fmt.Errorf("values are not valid on delete templates")
		}
		if len(t.Filters) == 0 {
			return fmt.Errorf("delete templates require at least one filter")
		}
	}
	return nil
}
