// Package validation 校验调用方提交的行数据
package validation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"tablecore/data/orm"
	"tablecore/errors"
)

// Options 行校验选项
type Options struct {
	// Partial 更新场景只校验出现的字段
	Partial bool
	// AllowSystemColumn 允许写入系统列
	AllowSystemColumn bool
}

// IRowValidator 行校验接口
type IRowValidator interface {
	ValidateRow(row orm.Row, table *orm.Table, opts Options) error
}

// NoopValidator 不做任何校验
type NoopValidator struct{}

func (NoopValidator) ValidateRow(orm.Row, *orm.Table, Options) error { return nil }

// RowValidator 默认实现：未知列、只读列、系统列、必填与标量类型
type RowValidator struct{}

var _ IRowValidator = RowValidator{}

func (RowValidator) ValidateRow(row orm.Row, table *orm.Table, opts Options) error {
	problems := map[string]string{}

	for key, value := range row {
		col := table.Column(key)
		if col == nil {
			problems[key] = "列不存在"
			continue
		}
		if msg := checkColumn(col, value, opts); msg != "" {
			problems[key] = msg
		}
	}

	if !opts.Partial {
		for _, col := range table.Columns {
			if !col.Required || col.AutoIncrement || col.IsVirtual() || col.IsSystemType() {
				continue
			}
			if _, ok := lookup(row, col); !ok {
				problems[col.Title] = "必填"
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.NewValidationError(summary(problems), problems)
}

func checkColumn(col *orm.Column, value any, opts Options) string {
	switch {
	case col.Type == orm.TypeLink:
		return ""
	case col.IsVirtual():
		return "只读列"
	case (col.System || col.IsSystemType()) && !opts.AllowSystemColumn:
		return "系统列不允许写入"
	}

	if isEmpty(value) {
		if col.Required {
			return "不能为空"
		}
		return ""
	}

	switch col.Type {
	case orm.TypeNumber:
		if !isNumber(value) {
			return fmt.Sprintf("需要数字，实际为 %v", value)
		}
	case orm.TypeCheckbox:
		if !isBool(value) {
			return fmt.Sprintf("需要布尔值，实际为 %v", value)
		}
	case orm.TypeDate, orm.TypeDateTime:
		if !isTime(value) {
			return fmt.Sprintf("日期格式不正确: %v", value)
		}
	default:
		if s, ok := value.(string); ok && col.DataTypeLen > 0 && !col.IsBinary16() {
			if n := utf8.RuneCountInString(s); n > col.DataTypeLen {
				return fmt.Sprintf("长度不能超过%d个字符（当前%d）", col.DataTypeLen, n)
			}
		}
	}
	return ""
}

func lookup(row orm.Row, col *orm.Column) (any, bool) {
	for _, k := range []string{col.ID, col.Title, col.Name} {
		if v, ok := row[k]; ok && k != "" {
			return v, !isEmpty(v)
		}
	}
	return nil, false
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func isNumber(v any) bool {
	switch x := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	case json.Number:
		_, err := x.Float64()
		return err == nil
	case string:
		_, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return err == nil
	}
	return false
}

func isBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return true
	case int:
		return x == 0 || x == 1
	case int64:
		return x == 0 || x == 1
	case float64:
		return x == 0 || x == 1
	case string:
		_, err := strconv.ParseBool(x)
		return err == nil
	}
	return false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func isTime(v any) bool {
	switch x := v.(type) {
	case time.Time:
		return true
	case string:
		s := strings.TrimSpace(x)
		for _, l := range timeLayouts {
			if _, err := time.Parse(l, s); err == nil {
				return true
			}
		}
	}
	return false
}

func summary(problems map[string]string) string {
	keys := make([]string, 0, len(problems))
	for k := range problems {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + problems[k]
	}
	return "数据校验失败（" + strings.Join(parts, "; ") + "）"
}
