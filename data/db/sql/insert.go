package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	core "tablecore/data/db"
	"tablecore/data/db/dialect"
)

// Statement 一条待执行的语句
type Statement struct {
	Query string
	Args  []any
}

type insertBuilder struct {
	db      core.IDatabase
	dialect dialect.Dialect

	table   string
	columns []string
	rows    [][]any
	// maxParams 单条语句的绑定参数上限，0 取方言默认值
	maxParams int
}

// paramLimit 各方言单条语句允许的绑定参数个数
func paramLimit(k dialect.Kind) int {
	switch k {
	case dialect.MySQL, dialect.Postgres:
		return 65535
	case dialect.MSSQL:
		return 2100 - 1
	default:
		return 999
	}
}

func (b *insertBuilder) Columns(cols ...string) IInsertBuilder {
	b.columns = cols
	return b
}

func (b *insertBuilder) Values(vals ...any) IInsertBuilder {
	if len(vals) == 0 {
		return b
	}
	b.rows = append(b.rows, vals)
	return b
}

func (b *insertBuilder) Rows(rows ...[]any) IInsertBuilder {
	for _, r := range rows {
		b.Values(r...)
	}
	return b
}

func (b *insertBuilder) MaxParams(n int) IInsertBuilder {
	b.maxParams = n
	return b
}

func (b *insertBuilder) validate() error {
	if len(b.columns) == 0 {
		return fmt.Errorf("insertBuilder: Columns is required")
	}
	if len(b.rows) == 0 {
		return fmt.Errorf("insertBuilder: at least one row is required")
	}
	if !isSafeIdentifier(b.table) {
		return fmt.Errorf("insertBuilder: unsafe table name %s", b.table)
	}
	for _, col := range b.columns {
		if !isSafeIdentifier(col) {
			return fmt.Errorf("insertBuilder: unsafe column name %s", col)
		}
	}
	for i, row := range b.rows {
		if len(row) != len(b.columns) {
			return fmt.Errorf("insertBuilder: row %d has %d values for %d columns", i, len(row), len(b.columns))
		}
	}
	return nil
}

// Build 把全部行拼成一条语句；输入非法时 panic，需要错误返回时用 Exec
func (b *insertBuilder) Build() (string, []any) {
	if err := b.validate(); err != nil {
		panic(err.Error())
	}
	return b.render(b.rows)
}

// BuildBatches 按参数上限把行拆成多条语句，保持行的顺序
func (b *insertBuilder) BuildBatches() ([]Statement, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	limit := b.maxParams
	if limit <= 0 {
		limit = paramLimit(b.dialect.Kind())
	}
	per := max(limit/len(b.columns), 1)

	out := make([]Statement, 0, (len(b.rows)+per-1)/per)
	for start := 0; start < len(b.rows); start += per {
		end := min(start+per, len(b.rows))
		q, args := b.render(b.rows[start:end])
		out = append(out, Statement{Query: q, Args: args})
	}
	return out, nil
}

func (b *insertBuilder) render(rows [][]any) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(rows)*len(b.columns))

	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.dialect.QuoteIdentifier(b.table))
	sb.WriteString(" (")
	quoted := make([]string, len(b.columns))
	for i, col := range b.columns {
		quoted[i] = b.dialect.QuoteIdentifier(col)
	}
	sb.WriteString(strings.Join(quoted, ", "))
	sb.WriteString(") VALUES ")

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(b.columns)), ", ") + ")"
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(placeholder)
		args = append(args, row...)
	}
	return sb.String(), args
}

// Exec 依次执行各批语句；多批时 RowsAffected 为各批之和
func (b *insertBuilder) Exec(ctx context.Context) (sql.Result, error) {
	batches, err := b.BuildBatches()
	if err != nil {
		return nil, err
	}
	if len(batches) == 1 {
		return b.db.Exec(ctx, batches[0].Query, batches[0].Args...)
	}

	total := &batchResult{}
	for _, st := range batches {
		res, err := b.db.Exec(ctx, st.Query, st.Args...)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total.affected += n
		total.last = res
	}
	return total, nil
}

type batchResult struct {
	affected int64
	last     sql.Result
}

func (r *batchResult) LastInsertId() (int64, error) {
	if r.last == nil {
		return 0, fmt.Errorf("insertBuilder: no statement executed")
	}
	return r.last.LastInsertId()
}

func (r *batchResult) RowsAffected() (int64, error) {
	return r.affected, nil
}
