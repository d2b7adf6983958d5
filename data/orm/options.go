package orm

import (
	"strings"

	"tablecore/data/db/dialect"
)

// Condition 表示基础查询条件，Expr 使用占位符 ?，Args 对应参数列表。
//
// 由外部过滤编译器产出，实现 sql.Expr 以便直接挂到构建器上。
type Condition struct {
	Expr string
	Args []any
}

// ToSQL 实现 sql.Expr
func (c Condition) ToSQL(dialect.Dialect) (string, []any) {
	if c.Expr == "" {
		return "", nil
	}
	return "(" + c.Expr + ")", c.Args
}

// OrderBy 表示排序字段，Column 为物理列名，可带表名前缀。
type OrderBy struct {
	Column string
	Desc   bool
}

// Render 按方言输出 ORDER BY 片段
func (o OrderBy) Render(d dialect.Dialect) string {
	expr := d.QuoteIdentifier(o.Column)
	if o.Desc {
		return expr + " DESC"
	}
	return expr + " ASC"
}

// RenderOrderBy 渲染多个排序字段
func RenderOrderBy(d dialect.Dialect, orders []OrderBy) []string {
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		if strings.TrimSpace(o.Column) == "" {
			continue
		}
		out = append(out, o.Render(d))
	}
	return out
}
