package basic

import (
	"context"
	"database/sql"
	"fmt"

	core "tablecore/data/db"
	"tablecore/data/db/dialect"
)

// Tx 事务实现，委托给 *sql.Tx，同时实现 core.IDatabase，
// 批量更新在事务内复用同一套 SQL 构建与执行路径
type Tx struct {
	db      *sql.DB
	tx      *sql.Tx
	dialect dialect.Dialect
}

func (t *Tx) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	rows, err := t.tx.QueryContext(ctx, t.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	return &Row{row: t.tx.QueryRowContext(ctx, t.dialect.Rebind(query), args...)}
}

func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
}

// 嵌套事务不支持：一次批量更新独占一个事务句柄。
func (t *Tx) Begin(ctx context.Context) (core.ITransaction, error) {
	return nil, fmt.Errorf("basic.Tx: nested transactions are not supported")
}

func (t *Tx) BeginTx(ctx context.Context, opts *sql.TxOptions) (core.ITransaction, error) {
	return nil, fmt.Errorf("basic.Tx: nested transactions are not supported")
}

func (t *Tx) Ping(ctx context.Context) error { return t.db.PingContext(ctx) }
func (t *Tx) Close() error                   { return nil }
func (t *Tx) Raw() any                       { return t.tx }

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// GetDialectName 实现 core.IDialectNameProvider，便于在事务上下文中复用方言能力。
func (t *Tx) GetDialectName() string {
	return t.dialect.Name()
}
