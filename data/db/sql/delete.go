package sql

import (
	"context"
	"database/sql"
	"strings"

	core "tablecore/data/db"
	"tablecore/data/db/dialect"
)

type deleteBuilder struct {
	db      core.IDatabase
	dialect dialect.Dialect

	table string
	where []string
	args  []any
	limit int
}

func (b *deleteBuilder) Where(cond string, args ...any) IDeleteBuilder {
	if cond != "" {
		b.where = append(b.where, cond)
		b.args = append(b.args, args...)
	}
	return b
}

func (b *deleteBuilder) WhereExpr(expr Expr) IDeleteBuilder {
	if expr == nil {
		return b
	}
	q, args := expr.ToSQL(b.dialect)
	return b.Where(q, args...)
}

func (b *deleteBuilder) Limit(n int) IDeleteBuilder {
	b.limit = n
	return b
}

func (b *deleteBuilder) Build() (string, []any) {
	mustSafe("deleteBuilder", b.table)

	var sb strings.Builder
	args := make([]any, len(b.args))
	copy(args, b.args)

	sb.WriteString("DELETE FROM ")
	sb.WriteString(b.dialect.QuoteIdentifier(b.table))

	if len(b.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.where, " AND "))
	}

	if b.limit > 0 && b.dialect.SupportsDeleteLimit() {
		sb.WriteString(" LIMIT ?")
		args = append(args, b.limit)
	}

	return sb.String(), args
}

func (b *deleteBuilder) Exec(ctx context.Context) (sql.Result, error) {
	q, args := b.Build()
	return b.db.Exec(ctx, q, args...)
}
