package store

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Op string

const (
	Eq             Op = "=="
	LessOrEqual    Op = "<="
	GreaterOrEqual Op = ">="
	ArrayContains  Op = "array-contains"
	// Contains is a case-insensitive substring match on a string field.
	Contains Op = "contains"
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

type Query struct {
	Path       string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Collection starts a query over every document directly under path,
// ordered by creation time.
func Collection(path string) Query {
	return Query{Path: path, OrderBy: FieldCreatedAt}
}

func (q Query) Where(field string, op Op, value any) Query {
	q.Filters = append(slices.Clone(q.Filters), Filter{Field: field, Op: op, Value: value})
	return q
}

func (q Query) Order(field string, descending bool) Query {
	q.OrderBy = field
	q.Descending = descending
	return q
}

func (q Query) Take(n int) Query {
	q.Limit = n
	return q
}

var fieldNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

func fieldExpr(field string) (string, error) {
	if field == FieldCreatedAt {
		return "created_at", nil
	}
	if !fieldNameRe.MatchString(field) {
		return "", errors.Wrap(ErrInvalidField, field)
	}
	return fmt.Sprintf("json_extract(data, '$.%s')", field), nil
}

func bindValue(field string, v any) any {
	if field == FieldCreatedAt {
		if t, ok := v.(time.Time); ok {
			return t.UnixNano()
		}
	}
	return v
}

func (q Query) build() (string, []any, error) {
	var sb strings.Builder
	args := []any{q.Path}
	sb.WriteString(`SELECT path, id, data, created_at FROM documents WHERE path = ?`)

	for _, f := range q.Filters {
		switch f.Op {
		case Eq, LessOrEqual, GreaterOrEqual:
			expr, err := fieldExpr(f.Field)
			if err != nil {
				return "", nil, err
			}
			op := string(f.Op)
			if f.Op == Eq {
				op = "="
			}
			sb.WriteString(" AND " + expr + " " + op + " ?")
			args = append(args, bindValue(f.Field, f.Value))
		case ArrayContains:
			if !fieldNameRe.MatchString(f.Field) {
				return "", nil, errors.Wrap(ErrInvalidField, f.Field)
			}
			sb.WriteString(fmt.Sprintf(
				" AND EXISTS (SELECT 1 FROM json_each(data, '$.%s') WHERE json_each.value = ?)", f.Field))
			args = append(args, f.Value)
		case Contains:
			expr, err := fieldExpr(f.Field)
			if err != nil {
				return "", nil, err
			}
			sb.WriteString(" AND instr(fold(" + expr + "), fold(?)) > 0")
			args = append(args, f.Value)
		default:
			return "", nil, errors.Errorf("unsupported operator %q", f.Op)
		}
	}

	if q.OrderBy != "" {
		expr, err := fieldExpr(q.OrderBy)
		if err != nil {
			return "", nil, err
		}
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		sb.WriteString(" ORDER BY " + expr + " " + dir + ", id " + dir)
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	return sb.String(), args, nil
}
