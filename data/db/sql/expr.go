package sql

import (
	"strings"

	"tablecore/data/db/dialect"
)

type rawExpr struct {
	sql  string
	args []any
}

// Raw 原样 SQL 片段
func Raw(sql string, args ...any) Expr {
	return rawExpr{sql: sql, args: args}
}

func (r rawExpr) ToSQL(dialect.Dialect) (string, []any) {
	return r.sql, r.args
}

type junction struct {
	op    string
	exprs []Expr
}

// And 以 AND 连接多个表达式，单个表达式不加括号
func And(exprs ...Expr) Expr {
	return junction{op: " AND ", exprs: exprs}
}

// Or 以 OR 连接多个表达式
func Or(exprs ...Expr) Expr {
	return junction{op: " OR ", exprs: exprs}
}

func (j junction) ToSQL(d dialect.Dialect) (string, []any) {
	parts := make([]string, 0, len(j.exprs))
	var args []any
	for _, e := range j.exprs {
		if e == nil {
			continue
		}
		q, a := e.ToSQL(d)
		if q == "" {
			continue
		}
		parts = append(parts, q)
		args = append(args, a...)
	}
	switch len(parts) {
	case 0:
		return "", nil
	case 1:
		return parts[0], args
	default:
		return "(" + strings.Join(parts, j.op) + ")", args
	}
}
