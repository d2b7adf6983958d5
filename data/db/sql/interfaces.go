// Package sql 提供按方言生成 SQL 的轻量构建器
package sql

import (
	"context"
	"database/sql"

	core "tablecore/data/db"
	"tablecore/data/db/dialect"
)

// Expr 可按方言渲染为 SQL 片段与参数的表达式
//
// 主键谓词、子查询、原始片段都实现该接口，
// 构建器通过 WhereExpr 统一接入。
type Expr interface {
	ToSQL(d dialect.Dialect) (string, []any)
}

// ISql 提供统一的 SQL 构建与执行接口。
type ISql interface {
	Select(columns ...string) ISelectBuilder
	InsertInto(table string) IInsertBuilder
	Update(table string) IUpdateBuilder
	DeleteFrom(table string) IDeleteBuilder

	// Quote 按方言转义标识符
	Quote(name string) string
	// Dialect 返回当前方言
	Dialect() dialect.Dialect
	// WithDB 返回绑定到另一个执行器（通常是事务）的 ISql
	WithDB(db core.IDatabase) ISql
}

// ISelectBuilder 构建 SELECT 语句。
type ISelectBuilder interface {
	Expr

	From(table string) ISelectBuilder
	FromExpr(expr Expr, alias string) ISelectBuilder
	// Column 追加带参数的原始选择列，参数排在 WHERE 参数之前
	Column(expr string, args ...any) ISelectBuilder
	Join(table, on string) ISelectBuilder
	Where(cond string, args ...any) ISelectBuilder
	WhereExpr(expr Expr) ISelectBuilder
	// WhereIn 生成 col IN (子查询)
	WhereIn(col string, sub Expr) ISelectBuilder
	And(cond string, args ...any) ISelectBuilder
	Or(cond string, args ...any) ISelectBuilder
	GroupBy(cols ...string) ISelectBuilder
	OrderBy(exprs ...string) ISelectBuilder
	Limit(n int) ISelectBuilder
	Offset(n int) ISelectBuilder
	ForUpdate() ISelectBuilder

	// Clone 深拷贝，UNION 的每个分支从同一个形状查询派生
	Clone() ISelectBuilder
	Build() (query string, args []any)
	Query(ctx context.Context) (core.IRows, error)
	QueryRow(ctx context.Context) core.IRow
}

// IInsertBuilder 构建 INSERT 语句。
//
// 行数超过方言的绑定参数上限时，Exec 会拆成多条语句依次执行。
type IInsertBuilder interface {
	Columns(cols ...string) IInsertBuilder
	Values(vals ...any) IInsertBuilder
	Rows(rows ...[]any) IInsertBuilder
	// MaxParams 覆盖单条语句的参数上限
	MaxParams(n int) IInsertBuilder
	Build() (query string, args []any)
	BuildBatches() ([]Statement, error)
	Exec(ctx context.Context) (sql.Result, error)
}

// When CASE 表达式中的一个分支
type When struct {
	Key   any
	Value any
}

// IUpdateBuilder 构建 UPDATE 语句。
type IUpdateBuilder interface {
	Set(column string, val any) IUpdateBuilder
	SetMap(values map[string]any) IUpdateBuilder
	// SetExpr 设置原始表达式，例如 "col = col + ?"
	SetExpr(expr string, args ...any) IUpdateBuilder
	// SetCase 生成 col = CASE key WHEN ? THEN ? ... ELSE col END
	SetCase(column, keyColumn string, whens []When) IUpdateBuilder
	Where(cond string, args ...any) IUpdateBuilder
	WhereExpr(expr Expr) IUpdateBuilder
	WhereIn(column string, values []any) IUpdateBuilder
	Build() (query string, args []any)
	Exec(ctx context.Context) (sql.Result, error)
}

// IDeleteBuilder 构建 DELETE 语句。
type IDeleteBuilder interface {
	Where(cond string, args ...any) IDeleteBuilder
	WhereExpr(expr Expr) IDeleteBuilder
	Limit(n int) IDeleteBuilder
	Build() (query string, args []any)
	Exec(ctx context.Context) (sql.Result, error)
}

type sqlImpl struct {
	db      core.IDatabase
	dialect dialect.Dialect
}

// New 基于 IDatabase 创建 ISql，方言从数据库实例推断
func New(db core.IDatabase) ISql {
	return &sqlImpl{db: db, dialect: dialect.FromDatabase(db)}
}

// NewWithDialect 显式指定方言
func NewWithDialect(db core.IDatabase, d dialect.Dialect) ISql {
	return &sqlImpl{db: db, dialect: d}
}

func (s *sqlImpl) Select(columns ...string) ISelectBuilder {
	return &selectBuilder{
		db:      s.db,
		dialect: s.dialect,
		cols:    append([]string(nil), columns...),
	}
}

func (s *sqlImpl) InsertInto(table string) IInsertBuilder {
	return &insertBuilder{
		db:      s.db,
		dialect: s.dialect,
		table:   table,
	}
}

func (s *sqlImpl) Update(table string) IUpdateBuilder {
	return &updateBuilder{
		db:      s.db,
		dialect: s.dialect,
		table:   table,
	}
}

func (s *sqlImpl) DeleteFrom(table string) IDeleteBuilder {
	return &deleteBuilder{
		db:      s.db,
		dialect: s.dialect,
		table:   table,
	}
}

func (s *sqlImpl) Quote(name string) string {
	return s.dialect.QuoteIdentifier(name)
}

func (s *sqlImpl) Dialect() dialect.Dialect {
	return s.dialect
}

func (s *sqlImpl) WithDB(db core.IDatabase) ISql {
	return &sqlImpl{db: db, dialect: s.dialect}
}
