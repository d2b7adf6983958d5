package sql

import (
	"context"
	"strings"

	core "tablecore/data/db"
	"tablecore/data/db/dialect"
)

type selectBuilder struct {
	db      core.IDatabase
	dialect dialect.Dialect

	cols     []string
	colArgs  []any
	table    string
	fromArgs []any
	joins    []string
	where    []string
	args     []any
	groupBy  []string
	orderBy  []string
	limit    int
	offset   int
	locking  string
}

// From 设置表名；安全标识符会按方言加引号，其余原样写入
func (b *selectBuilder) From(table string) ISelectBuilder {
	if isSafeIdentifier(table) {
		table = b.dialect.QuoteIdentifier(table)
	}
	b.table = table
	b.fromArgs = nil
	return b
}

func (b *selectBuilder) FromExpr(expr Expr, alias string) ISelectBuilder {
	q, args := expr.ToSQL(b.dialect)
	b.table = "(" + q + ")"
	if alias != "" {
		b.table += " AS " + b.dialect.QuoteIdentifier(alias)
	}
	b.fromArgs = args
	return b
}

func (b *selectBuilder) Column(expr string, args ...any) ISelectBuilder {
	if expr != "" {
		b.cols = append(b.cols, expr)
		b.colArgs = append(b.colArgs, args...)
	}
	return b
}

func (b *selectBuilder) Join(table, on string) ISelectBuilder {
	if isSafeIdentifier(table) {
		table = b.dialect.QuoteIdentifier(table)
	}
	b.joins = append(b.joins, "JOIN "+table+" ON "+on)
	return b
}

func (b *selectBuilder) Where(cond string, args ...any) ISelectBuilder {
	if cond != "" {
		b.where = append(b.where, cond)
		b.args = append(b.args, args...)
	}
	return b
}

func (b *selectBuilder) WhereExpr(expr Expr) ISelectBuilder {
	if expr == nil {
		return b
	}
	q, args := expr.ToSQL(b.dialect)
	return b.Where(q, args...)
}

func (b *selectBuilder) WhereIn(col string, sub Expr) ISelectBuilder {
	q, args := sub.ToSQL(b.dialect)
	return b.Where(col+" IN ("+q+")", args...)
}

func (b *selectBuilder) And(cond string, args ...any) ISelectBuilder {
	return b.Where(cond, args...)
}

func (b *selectBuilder) Or(cond string, args ...any) ISelectBuilder {
	if cond == "" {
		return b
	}
	if len(b.where) == 0 {
		return b.Where(cond, args...)
	}
	last := b.where[len(b.where)-1]
	b.where[len(b.where)-1] = "(" + last + " OR " + cond + ")"
	b.args = append(b.args, args...)
	return b
}

func (b *selectBuilder) GroupBy(cols ...string) ISelectBuilder {
	b.groupBy = append(b.groupBy, cols...)
	return b
}

func (b *selectBuilder) OrderBy(exprs ...string) ISelectBuilder {
	for _, e := range exprs {
		if e != "" {
			b.orderBy = append(b.orderBy, e)
		}
	}
	return b
}

func (b *selectBuilder) Limit(n int) ISelectBuilder {
	b.limit = n
	return b
}

func (b *selectBuilder) Offset(n int) ISelectBuilder {
	b.offset = n
	return b
}

func (b *selectBuilder) ForUpdate() ISelectBuilder {
	switch b.dialect.Kind() {
	case dialect.MySQL, dialect.Postgres:
		b.locking = " FOR UPDATE"
	default:
		// SQLite/MSSQL 不支持 FOR UPDATE 子句，忽略
	}
	return b
}

func (b *selectBuilder) Clone() ISelectBuilder {
	c := *b
	c.cols = append([]string(nil), b.cols...)
	c.colArgs = append([]any(nil), b.colArgs...)
	c.fromArgs = append([]any(nil), b.fromArgs...)
	c.joins = append([]string(nil), b.joins...)
	c.where = append([]string(nil), b.where...)
	c.args = append([]any(nil), b.args...)
	c.groupBy = append([]string(nil), b.groupBy...)
	c.orderBy = append([]string(nil), b.orderBy...)
	return &c
}

func (b *selectBuilder) Build() (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if len(b.cols) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(b.cols, ", "))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(b.table)

	// 参数顺序与占位符出现顺序一致：选择列、FROM 子查询、WHERE、分页
	args := make([]any, 0, len(b.colArgs)+len(b.fromArgs)+len(b.args)+2)
	args = append(args, b.colArgs...)
	args = append(args, b.fromArgs...)

	for _, j := range b.joins {
		sb.WriteString(" ")
		sb.WriteString(j)
	}
	if len(b.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.where, " AND "))
		args = append(args, b.args...)
	}
	if len(b.groupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(b.groupBy, ", "))
	}
	if len(b.orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.orderBy, ", "))
	}
	if clause, pageArgs := b.dialect.Paginate(b.limit, b.offset, len(b.orderBy) > 0); clause != "" {
		sb.WriteString(" ")
		sb.WriteString(clause)
		args = append(args, pageArgs...)
	}
	if b.locking != "" {
		sb.WriteString(b.locking)
	}
	return sb.String(), args
}

// ToSQL 作为子查询嵌入其他语句
func (b *selectBuilder) ToSQL(dialect.Dialect) (string, []any) {
	return b.Build()
}

func (b *selectBuilder) Query(ctx context.Context) (core.IRows, error) {
	q, args := b.Build()
	return b.db.Query(ctx, q, args...)
}

func (b *selectBuilder) QueryRow(ctx context.Context) core.IRow {
	q, args := b.Build()
	return b.db.QueryRow(ctx, q, args...)
}
