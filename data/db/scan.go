package db

import (
	"context"
	"strings"
)

// ScanMaps 把结果集逐行读成 列名 -> 值 的映射，并关闭 rows
//
// 文本列的 []byte 会转成 string（mysql 驱动默认返回字节），
// 二进制列（blob/binary/bytea）保持原始字节。
func ScanMaps(rows IRows) ([]map[string]any, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	binary := make([]bool, len(cols))
	if types, err := rows.ColumnTypes(); err == nil && len(types) == len(cols) {
		for i, ct := range types {
			if ct == nil {
				continue
			}
			binary[i] = isBinaryType(ct.DatabaseTypeName())
		}
	}

	out := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, name := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok && !binary[i] {
				v = string(b)
			}
			row[name] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// QueryMaps 执行查询并返回全部行
func QueryMaps(ctx context.Context, q IDatabase, query string, args ...any) ([]map[string]any, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return ScanMaps(rows)
}

// QueryFirst 执行查询并返回第一行，无数据时返回 nil
func QueryFirst(ctx context.Context, q IDatabase, query string, args ...any) (map[string]any, error) {
	list, err := QueryMaps(ctx, q, query, args...)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

func isBinaryType(name string) bool {
	name = strings.ToUpper(name)
	return strings.Contains(name, "BLOB") ||
		strings.Contains(name, "BINARY") ||
		strings.Contains(name, "BYTEA")
}
