package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/stagepipe/stagepipe/pkg/backend"
	"github.com/stagepipe/stagepipe/pkg/pipeline"
)

// TotalColumn is the window-aggregate alias paginated selects use to
// carry the overall match count alongside each page row.
const TotalColumn = "total_found"

const defaultPageLimit = 20

// Resolve binds runtime parameters into a template and produces the
// executable statement. Every caller-supplied value travels as a bound
// argument; identifier text comes only from the validated template.
// Failures are validation-class and name the offending parameter.
func Resolve(t *Template, params map[string]any) (*Resolved, error) {
	if params == nil {
		params = map[string]any{}
	}

	builder := sq.StatementBuilder.PlaceholderFormat(placeholderFor(t.Backend()))

	var (
		sql  string
		args []any
		err  error
	)
	switch t.Operation {
	case OpSelect:
		sql, args, err = resolveSelect(t, params, builder)
	case OpInsert:
		sql, args, err = resolveInsert(t, params, builder)
	case OpUpdate:
		sql, args, err = resolveUpdate(t, params, builder)
	case OpDelete:
		sql, args, err = resolveDelete(t, params, builder)
	default:
		return nil, pipeline.Internalf("template for table %s has unknown operation %q", t.Table, t.Operation)
	}
	if err != nil {
		return nil, err
	}

	return &Resolved{
		SQL:         sql,
		Args:        args,
		Dialect:     t.Backend(),
		Operation:   t.Operation,
		ReturnsRows: t.Operation == OpSelect || len(t.Returning) > 0,
	}, nil
}

func placeholderFor(kind backend.Kind) sq.PlaceholderFormat {
	if kind == backend.Postgres {
		return sq.Dollar
	}
	return sq.Question
}

func resolveSelect(t *Template, params map[string]any, builder sq.StatementBuilderType) (string, []any, error) {
	cols := make([]string, 0, len(t.Columns)+len(t.Aggregates)+1)
	cols = append(cols, t.Columns...)
	for _, a := range t.Aggregates {
		col := a.Column
		if col == "" {
			col = "*"
		}
		cols = append(cols, fmt.Sprintf("%s(%s) AS %s", strings.ToUpper(a.Func), col, a.Alias))
	}
	if len(cols) == 0 {
		cols = append(cols, "*")
	}
	if t.Pagination != nil && t.Pagination.WithTotal {
		cols = append(cols, "COUNT(*) OVER() AS "+TotalColumn)
	}

	q := builder.Select(cols...).From(t.Table)

	for _, j := range t.Joins {
		clause := j.Table + " ON " + j.On
		switch j.Kind {
		case "left":
			q = q.LeftJoin(clause)
		case "right":
			q = q.RightJoin(clause)
		default:
			q = q.Join(clause)
		}
	}

	preds, _, err := resolveFilters(t.Filters, params)
	if err != nil {
		return "", nil, err
	}
	for _, p := range preds {
		q = q.Where(p)
	}

	if len(t.GroupBy) > 0 {
		q = q.GroupBy(t.GroupBy...)
	}
	for _, o := range t.OrderBy {
		dir := strings.ToUpper(o.Dir)
		if dir != "DESC" {
			dir = "ASC"
		}
		q = q.OrderBy(o.Column + " " + dir)
	}

	if t.Pagination != nil {
		limit, offset, err := resolvePage(t.Pagination, params)
		if err != nil {
			return "", nil, err
		}
		q = q.Limit(limit).Offset(offset)
	}

	return q.ToSql()
}

func resolveInsert(t *Template, params map[string]any, builder sq.StatementBuilderType) (string, []any, error) {
	cols := make([]string, 0, len(t.Values))
	vals := make([]any, 0, len(t.Values))
	for _, v := range t.Values {
		bound, ok, err := resolveValue(v, params)
		if err != nil {
			return "", nil, err
		}
		if !ok {
			continue
		}
		cols = append(cols, v.Column)
		vals = append(vals, bound)
	}
	if len(cols) == 0 {
		return "", nil, pipeline.Validationf(t.Values[0].Param, "insert into %s resolves to no columns", t.Table)
	}

	q := builder.Insert(t.Table).Columns(cols...).Values(vals...)
	if len(t.Returning) > 0 {
		q = q.Suffix("RETURNING " + strings.Join(t.Returning, ", "))
	}
	return q.ToSql()
}

func resolveUpdate(t *Template, params map[string]any, builder sq.StatementBuilderType) (string, []any, error) {
	q := builder.Update(t.Table)

	set := 0
	for _, v := range t.Values {
		bound, ok, err := resolveValue(v, params)
		if err != nil {
			return "", nil, err
		}
		if !ok {
			continue
		}
		q = q.Set(v.Column, bound)
		set++
	}
	if set == 0 {
		return "", nil, pipeline.Validationf(t.Values[0].Param, "update of %s resolves to no columns", t.Table)
	}

	preds, resolved, err := resolveFilters(t.Filters, params)
	if err != nil {
		return "", nil, err
	}
	if resolved == 0 {
		return "", nil, unscopedErr(t, "update")
	}
	for _, p := range preds {
		q = q.Where(p)
	}

	if len(t.Returning) > 0 {
		q = q.Suffix("RETURNING " + strings.Join(t.Returning, ", "))
	}
	return q.ToSql()
}

func resolveDelete(t *Template, params map[string]any, builder sq.StatementBuilderType) (string, []any, error) {
	q := builder.Delete(t.Table)

	preds, resolved, err := resolveFilters(t.Filters, params)
	if err != nil {
		return "", nil, err
	}
	if resolved == 0 {
		return "", nil, unscopedErr(t, "delete")
	}
	for _, p := range preds {
		q = q.Where(p)
	}

	if len(t.Returning) > 0 {
		q = q.Suffix("RETURNING " + strings.Join(t.Returning, ", "))
	}
	return q.ToSql()
}

// unscopedErr rejects an update or delete whose optional filters all
// went unresolved, which would otherwise touch the whole table.
func unscopedErr(t *Template, verb string) error {
	return pipeline.Validationf(t.Filters[0].Param,
		"%s of %s requires at least one filter parameter", verb, t.Table)
}

// resolveFilters turns declared filters into squirrel predicates. It
// returns the predicates and how many filters actually resolved;
// optional filters with absent parameters are omitted.
func resolveFilters(filters []Filter, params map[string]any) ([]sq.Sqlizer, int, error) {
	preds := make([]sq.Sqlizer, 0, len(filters))
	for _, f := range filters {
		var raw any
		switch {
		case f.Param != "":
			v, ok := params[f.Param]
			if !ok {
				if f.Required {
					return nil, 0, pipeline.Validationf(f.Param, "required parameter %q is missing", f.Param)
				}
				continue
			}
			raw = v
		default:
			raw = f.Value
		}

		name := f.Param
		if name == "" {
			name = f.Column
		}
		bound, err := coerceFilterValue(name, raw, f)
		if err != nil {
			return nil, 0, err
		}

		pred, err := predicate(f, bound)
		if err != nil {
			return nil, 0, err
		}
		preds = append(preds, pred)
	}
	return preds, len(preds), nil
}

func coerceFilterValue(name string, raw any, f Filter) (any, error) {
	if f.Op != FilterIn {
		return coerceValue(name, raw, f.Type)
	}

	var elems []any
	switch v := raw.(type) {
	case []any:
		elems = v
	case []string:
		elems = make([]any, len(v))
		for i, s := range v {
			elems[i] = s
		}
	default:
		elems = []any{raw}
	}
	out := make([]any, len(elems))
	for i, e := range elems {
		c, err := coerceValue(name, e, f.Type)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func predicate(f Filter, v any) (sq.Sqlizer, error) {
	switch f.Op {
	case FilterEq, FilterIn:
		return sq.Eq{f.Column: v}, nil
	case FilterNeq:
		return sq.NotEq{f.Column: v}, nil
	case FilterGt:
		return sq.Gt{f.Column: v}, nil
	case FilterGte:
		return sq.GtOrEq{f.Column: v}, nil
	case FilterLt:
		return sq.Lt{f.Column: v}, nil
	case FilterLte:
		return sq.LtOrEq{f.Column: v}, nil
	case FilterLike:
		return sq.Like{f.Column: v}, nil
	default:
		return nil, pipeline.Internalf("filter on %s has unknown operator %q", f.Column, f.Op)
	}
}

// resolveValue produces the bound value for an insert or update column.
// The second return reports whether the column participates at all; an
// optional parameter that is absent drops the column.
func resolveValue(v Value, params map[string]any) (any, bool, error) {
	switch v.Generator {
	case GenUUID:
		return uuid.NewString(), true, nil
	case GenNow:
		return time.Now().UTC(), true, nil
	}

	raw, ok := params[v.Param]
	if !ok {
		if v.Required {
			return nil, false, pipeline.Validationf(v.Param, "required parameter %q is missing", v.Param)
		}
		return nil, false, nil
	}
	bound, err := coerceValue(v.Param, raw, v.Type)
	if err != nil {
		return nil, false, err
	}
	return bound, true, nil
}

func resolvePage(p *Pagination, params map[string]any) (limit, offset uint64, err error) {
	page := uint64(1)
	if p.PageParam != "" {
		if raw, ok := params[p.PageParam]; ok {
			page, err = coercePositive(p.PageParam, raw)
			if err != nil {
				return 0, 0, err
			}
		}
	}

	limit = p.DefaultLimit
	if limit == 0 {
		limit = defaultPageLimit
	}
	if p.LimitParam != "" {
		if raw, ok := params[p.LimitParam]; ok {
			limit, err = coercePositive(p.LimitParam, raw)
			if err != nil {
				return 0, 0, err
			}
		}
	}
	if p.MaxLimit > 0 && limit > p.MaxLimit {
		limit = p.MaxLimit
	}
	return limit, (page - 1) * limit, nil
}

func coercePositive(name string, raw any) (uint64, error) {
	v, err := coerceValue(name, raw, TypeInt)
	if err != nil {
		return 0, err
	}
	n := v.(int64)
	if n < 1 {
		return 0, pipeline.Validationf(name, "parameter %q must be a positive integer, got %d", name, n)
	}
	return uint64(n), nil
}

// coerceValue converts a runtime value to its declared parameter type.
// String-born values (HTTP query parameters) parse; JSON-born numbers
// arrive as float64 and narrow when integral. An empty type binds the
// value unchanged.
func coerceValue(name string, raw any, t ParamType) (any, error) {
	switch t {
	case "":
		return raw, nil

	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return nil, pipeline.Validationf(name, "parameter %q must be a string, got %T", name, raw)
		}
		return s, nil

	case TypeInt:
		switch v := raw.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != math.Trunc(v) {
				return nil, pipeline.Validationf(name, "parameter %q must be an integer, got %v", name, v)
			}
			return int64(v), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, pipeline.Validationf(name, "parameter %q must be an integer, got %q", name, v)
			}
			return n, nil
		default:
			return nil, pipeline.Validationf(name, "parameter %q must be an integer, got %T", name, raw)
		}

	case TypeFloat:
		switch v := raw.(type) {
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, pipeline.Validationf(name, "parameter %q must be a number, got %q", name, v)
			}
			return f, nil
		default:
			return nil, pipeline.Validationf(name, "parameter %q must be a number, got %T", name, raw)
		}

	case TypeBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, pipeline.Validationf(name, "parameter %q must be a boolean, got %q", name, v)
			}
			return b, nil
		default:
			return nil, pipeline.Validationf(name, "parameter %q must be a boolean, got %T", name, raw)
		}

	case TypeUUID:
		s, ok := raw.(string)
		if !ok {
			return nil, pipeline.Validationf(name, "parameter %q must be a UUID string, got %T", name, raw)
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, pipeline.Validationf(name, "parameter %q is not a valid UUID: %q", name, s)
		}
		return u.String(), nil

	default:
		return nil, pipeline.Internalf("parameter %q has unknown type %q", name, t)
	}
}
