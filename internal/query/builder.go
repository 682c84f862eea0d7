package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/donorline/donorline-go/internal/apierr"
	"github.com/donorline/donorline-go/internal/domain"
	"github.com/donorline/donorline-go/internal/params"
)

// Mode selects which entity table a Builder renders for.
type Mode int

const (
	ModeContribute Mode = iota + 1
	ModeRelationship
)

func (m Mode) String() string {
	switch m {
	case ModeContribute:
		return "contribute"
	case ModeRelationship:
		return "relationship"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Clauses are the rendered fragments of a select. Args bind to $1..$n in Where and Having.
type Clauses struct {
	Select string
	From   string
	Where  string
	Having string
	Args   []any
	Fields []string
}

type Builder interface {
	Build(filters params.Bag, projection []string, mode Mode) (Clauses, error)
	OrderBy(mode Mode, sort []SortField) (string, error)
}

type Column struct {
	Expr string
	Type params.Type
	// Coerce overrides the conversion implied by Type for filter values.
	Coerce func(any) (any, error)
}

// Table describes how one entity's API fields map onto SQL.
type Table struct {
	Mode          Mode
	From          string
	Key           string
	Columns       map[string]Column
	DefaultReturn []string
}

type TableBuilder struct {
	tables map[Mode]*Table
}

func NewBuilder(tables ...*Table) *TableBuilder {
	b := &TableBuilder{tables: make(map[Mode]*Table, len(tables))}
	for _, t := range tables {
		b.tables[t.Mode] = t
	}
	return b
}

func (b *TableBuilder) table(mode Mode) (*Table, error) {
	t, ok := b.tables[mode]
	if !ok {
		return nil, apierr.Newf(apierr.Internal, "no table registered for %s", mode)
	}
	return t, nil
}

// Build renders select, from and where for mode. Unknown filter keys are ignored and
// unknown projection fields dropped; the table key is always selected.
func (b *TableBuilder) Build(filters params.Bag, projection []string, mode Mode) (Clauses, error) {
	t, err := b.table(mode)
	if err != nil {
		return Clauses{}, err
	}
	fields := t.projection(projection)
	selects := make([]string, 0, len(fields))
	for _, f := range fields {
		selects = append(selects, fmt.Sprintf("%s AS %q", t.Columns[f].Expr, f))
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		if _, ok := t.Columns[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var (
		where []string
		args  []any
	)
	for _, k := range keys {
		cond, err := ParseCondition(k, filters[k])
		if err != nil {
			return Clauses{}, err
		}
		sql, condArgs, err := render(t.Columns[k], cond, len(args))
		if err != nil {
			return Clauses{}, err
		}
		where = append(where, sql)
		args = append(args, condArgs...)
	}

	return Clauses{
		Select: strings.Join(selects, ", "),
		From:   t.From,
		Where:  strings.Join(where, " AND "),
		Args:   args,
		Fields: fields,
	}, nil
}

func (b *TableBuilder) OrderBy(mode Mode, fields []SortField) (string, error) {
	t, err := b.table(mode)
	if err != nil {
		return "", err
	}
	if len(fields) == 0 {
		return t.Columns[t.Key].Expr, nil
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		col, ok := t.Columns[f.Field]
		if !ok {
			return "", apierr.Newf(apierr.Validation, "Unknown sort field: %s", f.Field)
		}
		dir := "ASC"
		if f.Desc {
			dir = "DESC"
		}
		parts = append(parts, col.Expr+" "+dir)
	}
	return strings.Join(parts, ", "), nil
}

func (t *Table) projection(requested []string) []string {
	if len(requested) == 0 {
		requested = t.DefaultReturn
	}
	seen := map[string]bool{t.Key: true}
	out := []string{t.Key}
	for _, f := range requested {
		if seen[f] {
			continue
		}
		if _, ok := t.Columns[f]; !ok {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func render(col Column, cond Condition, offset int) (string, []any, error) {
	args := make([]any, 0, len(cond.Values))
	for _, v := range cond.Values {
		if cond.Op == OpLike || cond.Op == OpNotLike {
			args = append(args, params.ToString(v))
			continue
		}
		convert := col.Coerce
		if convert == nil {
			convert = func(v any) (any, error) { return coerce(col.Type, v) }
		}
		arg, err := convert(v)
		if err != nil {
			return "", nil, apierr.Wrap(apierr.Validation, fmt.Sprintf("%s: invalid value", cond.Field), err)
		}
		args = append(args, arg)
	}
	ph := func(i int) string { return fmt.Sprintf("$%d", offset+i+1) }

	switch cond.Op {
	case OpIsNull, OpIsNotNull:
		return fmt.Sprintf("%s %s", col.Expr, cond.Op), nil, nil
	case OpIn, OpNotIn:
		list := make([]string, len(args))
		for i := range args {
			list[i] = ph(i)
		}
		return fmt.Sprintf("%s %s (%s)", col.Expr, cond.Op, strings.Join(list, ", ")), args, nil
	case OpBetween, OpNotBetween:
		return fmt.Sprintf("%s %s %s AND %s", col.Expr, cond.Op, ph(0), ph(1)), args, nil
	case OpNe:
		return fmt.Sprintf("%s <> %s", col.Expr, ph(0)), args, nil
	default:
		return fmt.Sprintf("%s %s %s", col.Expr, cond.Op, ph(0)), args, nil
	}
}

func coerce(typ params.Type, v any) (any, error) {
	switch typ {
	case params.TypeInt:
		if n, ok := params.ToInt64(v); ok {
			return n, nil
		}
	case params.TypeBool:
		if b, ok := params.ToBool(v); ok {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case params.TypeMoney:
		if f, ok := params.ToFloat(v); ok {
			return f, nil
		}
	case params.TypeDate:
		return domain.ParseDate(v)
	default:
		return params.ToString(v), nil
	}
	return nil, fmt.Errorf("cannot use %v as %s", v, typ)
}

// SQL concatenates the clauses with orderBy and paging into one statement. Limit 0 means no
// limit.
func (c Clauses) SQL(orderBy string, limit, offset int) string {
	var b strings.Builder
	b.WriteString("SELECT " + c.Select + " FROM " + c.From)
	if c.Where != "" {
		b.WriteString(" WHERE " + c.Where)
	}
	if c.Having != "" {
		b.WriteString(" HAVING " + c.Having)
	}
	if orderBy != "" {
		b.WriteString(" ORDER BY " + orderBy)
	}
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}
