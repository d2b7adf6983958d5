package sql

import "strings"

// IsSafeIdentifier 供 schema 注册时预先校验物理表名/列名
func IsSafeIdentifier(name string) bool {
	return isSafeIdentifier(name)
}

// mustSafe 构建器遇到非法标识符时直接 panic，属于编程错误
func mustSafe(builder, name string) {
	if !isSafeIdentifier(name) {
		panic(builder + ": unsafe identifier " + name)
	}
}

// isSafeIdentifier 判断标识符是否为“安全的数据库标识符”。
//
// 允许形式：
//   - 单一标识符：foo, bar_1
//   - 带点的限定名：schema.table, table.column
//
// 规则（按段）：
//   - 每段不能为空；
//   - 首字符必须是字母或下划线 [A-Za-z_]；
//   - 后续字符必须是字母、数字或下划线 [A-Za-z0-9_]。
//
// 该函数只做简单的 ASCII 校验，足以防止常见的注入片段（空格、分号等）。
func isSafeIdentifier(name string) bool {
	if name == "" {
		return false
	}
	parts := strings.Split(name, ".")
	for _, part := range parts {
		if part == "" {
			return false
		}
		for i := 0; i < len(part); i++ {
			ch := part[i]
			if i == 0 {
				if !((ch >= 'a' && ch <= 'z') ||
					(ch >= 'A' && ch <= 'Z') ||
					ch == '_') {
					return false
				}
			} else {
				if !((ch >= 'a' && ch <= 'z') ||
					(ch >= 'A' && ch <= 'Z') ||
					(ch >= '0' && ch <= '9') ||
					ch == '_') {
					return false
				}
			}
		}
	}
	return true
}

