package sql

import (
	"strconv"
	"strings"

	"tablecore/data/db/dialect"
)

type unionAll struct {
	arms []ISelectBuilder
}

// UnionAll 以 UNION ALL 合并多个 SELECT
//
// 每个分支自带 ORDER BY / LIMIT。需要包裹的方言（能力位 UnionArmWrapping）
// 写成 SELECT * FROM (arm) AS arm_n，其余方言给分支加括号。
func UnionAll(arms ...ISelectBuilder) Expr {
	return unionAll{arms: arms}
}

func (u unionAll) ToSQL(d dialect.Dialect) (string, []any) {
	parts := make([]string, 0, len(u.arms))
	var args []any
	wrap := d.Caps().UnionArmWrapping
	for i, arm := range u.arms {
		q, a := arm.Build()
		if wrap {
			q = "SELECT * FROM (" + q + ") AS " + d.QuoteIdentifier("__nc_arm_"+strconv.Itoa(i))
		} else {
			q = "(" + q + ")"
		}
		parts = append(parts, q)
		args = append(args, a...)
	}
	return strings.Join(parts, " UNION ALL "), args
}
