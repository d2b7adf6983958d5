package sql

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	core "tablecore/data/db"
	"tablecore/data/db/dialect"
)

type updateBuilder struct {
	db      core.IDatabase
	dialect dialect.Dialect

	table     string
	setCols   []string
	setArgs   []any
	exprSet   []string
	exprArgs  []any
	whereExpr []string
	whereArgs []any
}

func (b *updateBuilder) Set(col string, val any) IUpdateBuilder {
	if col == "" {
		return b
	}
	b.setCols = append(b.setCols, col)
	b.setArgs = append(b.setArgs, val)
	return b
}

// SetMap 按列名排序写入，保证生成的 SQL 稳定
func (b *updateBuilder) SetMap(values map[string]any) IUpdateBuilder {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.Set(k, values[k])
	}
	return b
}

func (b *updateBuilder) SetExpr(expr string, args ...any) IUpdateBuilder {
	if expr == "" {
		return b
	}
	b.exprSet = append(b.exprSet, expr)
	b.exprArgs = append(b.exprArgs, args...)
	return b
}

func (b *updateBuilder) SetCase(column, keyColumn string, whens []When) IUpdateBuilder {
	if len(whens) == 0 {
		return b
	}
	mustSafe("updateBuilder", column)
	mustSafe("updateBuilder", keyColumn)

	col := b.dialect.QuoteIdentifier(column)
	var sb strings.Builder
	sb.WriteString(col)
	sb.WriteString(" = CASE ")
	sb.WriteString(b.dialect.QuoteIdentifier(keyColumn))
	args := make([]any, 0, len(whens)*2)
	for _, w := range whens {
		sb.WriteString(" WHEN ? THEN ?")
		args = append(args, w.Key, w.Value)
	}
	sb.WriteString(" ELSE ")
	sb.WriteString(col)
	sb.WriteString(" END")
	return b.SetExpr(sb.String(), args...)
}

func (b *updateBuilder) Where(cond string, args ...any) IUpdateBuilder {
	if cond != "" {
		b.whereExpr = append(b.whereExpr, cond)
		b.whereArgs = append(b.whereArgs, args...)
	}
	return b
}

func (b *updateBuilder) WhereExpr(expr Expr) IUpdateBuilder {
	if expr == nil {
		return b
	}
	q, args := expr.ToSQL(b.dialect)
	return b.Where(q, args...)
}

func (b *updateBuilder) WhereIn(column string, values []any) IUpdateBuilder {
	if len(values) == 0 {
		return b.Where("1 = 0")
	}
	mustSafe("updateBuilder", column)
	placeholders := strings.TrimRight(strings.Repeat("?, ", len(values)), ", ")
	return b.Where(b.dialect.QuoteIdentifier(column)+" IN ("+placeholders+")", values...)
}

func (b *updateBuilder) Build() (string, []any) {
	if len(b.setCols) == 0 && len(b.exprSet) == 0 {
		panic("updateBuilder: no columns or expressions to set")
	}
	mustSafe("updateBuilder", b.table)

	var sb strings.Builder
	args := make([]any, 0, len(b.setArgs)+len(b.exprArgs)+len(b.whereArgs))

	sb.WriteString("UPDATE ")
	sb.WriteString(b.dialect.QuoteIdentifier(b.table))
	sb.WriteString(" SET ")

	parts := make([]string, 0, len(b.setCols)+len(b.exprSet))
	for i, col := range b.setCols {
		mustSafe("updateBuilder", col)
		parts = append(parts, b.dialect.QuoteIdentifier(col)+" = ?")
		args = append(args, b.setArgs[i])
	}
	parts = append(parts, b.exprSet...)
	sb.WriteString(strings.Join(parts, ", "))
	args = append(args, b.exprArgs...)

	if len(b.whereExpr) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.whereExpr, " AND "))
		args = append(args, b.whereArgs...)
	}

	return sb.String(), args
}

func (b *updateBuilder) Exec(ctx context.Context) (sql.Result, error) {
	q, args := b.Build()
	return b.db.Exec(ctx, q, args...)
}
