// Package query assembles parameterised SELECT statements from typed steps:
// joins, filters, restriction lists, grouping and ordering. The statement is
// rendered once by Build; nothing is spliced into generated SQL afterwards.
package query

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var identRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrEmptyRestriction is returned when a restriction list has no values.
var ErrEmptyRestriction = errors.New("query: restriction list is empty")

type join struct {
	srcAlias string
	srcCol   string
	table    string
	col      string
	alias    string
}

type fragment struct {
	sql  string
	args []any
}

type restriction struct {
	name    string
	values  []any
	onAlias string
	onCol   string
}

// Builder builds a single SELECT statement.
type Builder struct {
	columns      []string
	table        string
	alias        string
	restrictions []restriction
	joins        []join
	where        []fragment
	groupBy      []string
	orderBy      []string
	limit        int
	offset       int
	errs         []error
}

// Select starts a statement selecting the given column expressions.
func Select(columns ...string) *Builder {
	return &Builder{columns: columns, limit: -1}
}

// From sets the root table and its alias.
func (b *Builder) From(table, alias string) *Builder {
	b.checkIdent(table, alias)
	b.table = table
	b.alias = alias
	return b
}

// InnerJoin adds "INNER JOIN table AS alias ON alias.col = srcAlias.srcCol"
// and returns the new alias so that later steps can refer to it.
func (b *Builder) InnerJoin(srcAlias, srcCol, table, col, alias string) string {
	b.checkIdent(srcAlias, srcCol, table, col, alias)
	b.joins = append(b.joins, join{srcAlias: srcAlias, srcCol: srcCol, table: table, col: col, alias: alias})
	return alias
}

// RestrictTo inner-joins a VALUES list named name against alias.col, so only
// rows whose column value is in values survive. The list is bound as
// parameters.
func (b *Builder) RestrictTo(name string, alias, col string, values []int64) *Builder {
	b.checkIdent(name, alias, col)
	if len(values) == 0 {
		b.errs = append(b.errs, ErrEmptyRestriction)
		return b
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	b.restrictions = append(b.restrictions, restriction{name: name, values: args, onAlias: alias, onCol: col})
	return b
}

// Where adds a filter fragment. Fragments are ANDed together; each is wrapped
// in parentheses. Placeholders are "?".
func (b *Builder) Where(expr string, args ...any) *Builder {
	if strings.Count(expr, "?") != len(args) {
		b.errs = append(b.errs, fmt.Errorf("query: %q expects %d args, got %d", expr, strings.Count(expr, "?"), len(args)))
		return b
	}
	b.where = append(b.where, fragment{sql: expr, args: args})
	return b
}

// WhereIn adds "expr IN (?, ...)". An empty value list matches nothing.
func (b *Builder) WhereIn(expr string, values ...any) *Builder {
	if len(values) == 0 {
		return b.Where("0 = 1")
	}
	return b.Where(expr+" IN ("+placeholders(len(values))+")", values...)
}

// GroupBy appends grouping expressions.
func (b *Builder) GroupBy(exprs ...string) *Builder {
	b.groupBy = append(b.groupBy, exprs...)
	return b
}

// OrderBy appends ordering expressions.
func (b *Builder) OrderBy(exprs ...string) *Builder {
	b.orderBy = append(b.orderBy, exprs...)
	return b
}

// Limit sets LIMIT and OFFSET.
func (b *Builder) Limit(limit, offset int) *Builder {
	b.limit = limit
	b.offset = offset
	return b
}

// Build renders the statement and its arguments in placeholder order.
func (b *Builder) Build() (string, []any, error) {
	if b.table == "" {
		b.errs = append(b.errs, errors.New("query: missing FROM"))
	}
	if len(b.columns) == 0 {
		b.errs = append(b.errs, errors.New("query: no columns selected"))
	}
	if len(b.errs) > 0 {
		return "", nil, errors.Join(b.errs...)
	}

	var sb strings.Builder
	var args []any

	if len(b.restrictions) > 0 {
		sb.WriteString("WITH ")
		for i, r := range b.restrictions {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s(v) AS (VALUES %s)", quote(r.name), valueRows(len(r.values)))
			args = append(args, r.values...)
		}
		sb.WriteString(" ")
	}

	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(b.columns, ", "))
	fmt.Fprintf(&sb, " FROM %s AS %s", quote(b.table), quote(b.alias))

	for _, r := range b.restrictions {
		fmt.Fprintf(&sb, " INNER JOIN %s ON %s.v = %s.%s", quote(r.name), quote(r.name), quote(r.onAlias), quote(r.onCol))
	}

	for _, j := range b.joins {
		fmt.Fprintf(&sb, " INNER JOIN %s AS %s ON %s.%s = %s.%s",
			quote(j.table), quote(j.alias),
			quote(j.alias), quote(j.col), quote(j.srcAlias), quote(j.srcCol))
	}

	if len(b.where) > 0 {
		sb.WriteString(" WHERE ")
		for i, w := range b.where {
			if i > 0 {
				sb.WriteString(" AND ")
			}
			sb.WriteString("(" + w.sql + ")")
			args = append(args, w.args...)
		}
	}

	if len(b.groupBy) > 0 {
		sb.WriteString(" GROUP BY " + strings.Join(b.groupBy, ", "))
	}
	if len(b.orderBy) > 0 {
		sb.WriteString(" ORDER BY " + strings.Join(b.orderBy, ", "))
	}
	if b.limit >= 0 {
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, b.limit, b.offset)
	}

	return sb.String(), args, nil
}

func (b *Builder) checkIdent(names ...string) {
	for _, n := range names {
		if !identRegexp.MatchString(n) {
			b.errs = append(b.errs, fmt.Errorf("query: invalid identifier %q", n))
		}
	}
}

// Col renders alias.column with quoting.
func Col(alias, column string) string {
	return quote(alias) + "." + quote(column)
}

func quote(ident string) string {
	return `"` + ident + `"`
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func valueRows(n int) string {
	return strings.TrimSuffix(strings.Repeat("(?), ", n), ", ")
}
