// Package datetime 把结果行中的日期、日期时间以及公式里的日期文本统一为 UTC 规范格式。
//
// 日期时间输出 2006-01-02 15:04:05+00:00，日期输出 2006-01-02。
// 规范格式的值再次处理保持不变。
package datetime

import (
	"context"
	"regexp"
	"strings"
	"time"

	"tablecore/data/db/dialect"
	"tablecore/data/orm"
	"tablecore/schema"
)

const (
	// Layout 日期时间规范格式
	Layout = "2006-01-02 15:04:05-07:00"
	// DateLayout 日期规范格式
	DateLayout = "2006-01-02"
)

var (
	isoMillis  = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z`)
	spaced     = regexp.MustCompile(`\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(?:[+-]\d{2}:\d{2})?`)
	zoneSuffix = regexp.MustCompile(`(?:Z|[+-]\d{2}(?::?\d{2})?)$`)

	mysqlMicros = strings.NewReplacer(".000000", "")
	mssqlMicros = strings.NewReplacer(".0000000 +00:00", "")

	zonedLayouts = []string{
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999 Z07:00",
		"2006-01-02 15:04:05.999999999-0700",
		"2006-01-02 15:04:05.999999999-07",
	}
	naiveLayouts = []string{
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04",
		DateLayout,
	}
)

// Normalizer 按方言能力规范化行中的日期时间值
type Normalizer struct {
	Dialect dialect.Dialect
	// Location 服务进程时区，nil 表示 time.Local
	Location *time.Location
}

// New 创建 Normalizer；zone 为空或 Local 时使用进程时区
func New(d dialect.Dialect, zone string) (*Normalizer, error) {
	n := &Normalizer{Dialect: d}
	if zone != "" && zone != "Local" {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return nil, err
		}
		n.Location = loc
	}
	return n, nil
}

func (n *Normalizer) location() *time.Location {
	if n.Location == nil {
		return time.Local
	}
	return n.Location
}

// Field 需要规范化的列。Source 是行中的列，Type 是解析查找链之后的语义类型。
type Field struct {
	Source *orm.Column
	Type   orm.ColumnType
	// HasDefault 目标列带默认值表达式
	HasDefault bool
}

// Columns 收集表中需要规范化的列，查找/汇总列沿关联链取目标列类型
func Columns(ctx context.Context, accessor schema.Accessor, table *orm.Table) ([]Field, error) {
	var out []Field
	for _, c := range table.Columns {
		target := c
		if accessor != nil && (c.Type == orm.TypeLookup || c.Type == orm.TypeRollup) {
			t, err := schema.ResolveLookupTarget(ctx, accessor, c)
			if err != nil {
				return nil, err
			}
			target = t
		}
		switch target.Type {
		case orm.TypeDate, orm.TypeDateTime, orm.TypeFormula,
			orm.TypeCreatedTime, orm.TypeLastModifiedTime:
			out = append(out, Field{Source: c, Type: target.Type, HasDefault: target.Default != ""})
		}
	}
	return out, nil
}

// FieldsOf 不解析查找链的简单形式
func FieldsOf(cols []*orm.Column) []Field {
	out := make([]Field, 0, len(cols))
	for _, c := range cols {
		switch c.Type {
		case orm.TypeDate, orm.TypeDateTime, orm.TypeFormula,
			orm.TypeCreatedTime, orm.TypeLastModifiedTime:
			out = append(out, Field{Source: c, Type: c.Type, HasDefault: c.Default != ""})
		}
	}
	return out
}

// Normalize 原地规范化一行并返回它
func (n *Normalizer) Normalize(row orm.Row, fields []Field) orm.Row {
	if row == nil {
		return row
	}
	for _, f := range fields {
		key, ok := rowKey(row, f.Source)
		if !ok {
			continue
		}
		v := row[key]
		if v == nil {
			continue
		}
		switch f.Type {
		case orm.TypeFormula:
			if s, ok := v.(string); ok {
				row[key] = n.formula(s)
			}
		case orm.TypeDate:
			row[key] = n.date(v)
		default:
			row[key] = n.dateTime(v, f.HasDefault)
		}
	}
	return row
}

// NormalizeAll 规范化多行
func (n *Normalizer) NormalizeAll(rows []orm.Row, fields []Field) []orm.Row {
	if len(fields) == 0 {
		return rows
	}
	for _, r := range rows {
		n.Normalize(r, fields)
	}
	return rows
}

// rowKey 读取结果以物理列名为键，调用方数据可能以标题或 id 为键
func rowKey(row orm.Row, c *orm.Column) (string, bool) {
	for _, k := range []string{c.Name, c.Title, c.ID} {
		if k == "" {
			continue
		}
		if _, ok := row[k]; ok {
			return k, true
		}
	}
	return "", false
}

func (n *Normalizer) formula(s string) string {
	switch n.Dialect.Kind() {
	case dialect.MySQL:
		s = mysqlMicros.Replace(s)
	case dialect.MSSQL:
		s = mssqlMicros.Replace(s)
	}

	if isoMillis.MatchString(s) {
		return isoMillis.ReplaceAllStringFunc(s, func(m string) string {
			t, err := time.Parse("2006-01-02T15:04:05.000Z", m)
			if err != nil {
				return m
			}
			return t.UTC().Format(Layout)
		})
	}

	return spaced.ReplaceAllStringFunc(s, func(m string) string {
		if len(m) > len("2006-01-02 15:04:05") {
			t, err := time.Parse("2006-01-02 15:04:05-07:00", m)
			if err != nil {
				return m
			}
			return t.UTC().Format(Layout)
		}
		loc := time.UTC
		if n.Dialect.Caps().ServerLocalTime {
			loc = n.location()
		}
		t, err := time.ParseInLocation("2006-01-02 15:04:05", m, loc)
		if err != nil {
			return m
		}
		return t.UTC().Format(Layout)
	})
}

func (n *Normalizer) date(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.Format(DateLayout)
	case string:
		s := strings.TrimSpace(x)
		if len(s) >= len(DateLayout) {
			if t, err := time.Parse(DateLayout, s[:len(DateLayout)]); err == nil {
				return t.Format(DateLayout)
			}
		}
		return x
	case []byte:
		return n.date(string(x))
	}
	return v
}

func (n *Normalizer) dateTime(v any, hasDefault bool) any {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(Layout)
	case []byte:
		return n.dateTime(string(x), hasDefault)
	case string:
		s := strings.Replace(strings.TrimSpace(x), "T", " ", 1)
		if zoneSuffix.MatchString(timePart(s)) {
			if t, ok := parse(s, zonedLayouts, time.UTC); ok {
				return t.UTC().Format(Layout)
			}
			return x
		}
		loc := time.UTC
		if n.Dialect.Caps().ServerLocalTime && !hasDefault {
			loc = n.location()
		}
		if t, ok := parse(s, naiveLayouts, loc); ok {
			return t.UTC().Format(Layout)
		}
		return x
	}
	return v
}

// timePart 日期之后的部分，避免把日期里的 - 当作时区
func timePart(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[i+1:]
	}
	return ""
}

func parse(s string, layouts []string, loc *time.Location) (time.Time, bool) {
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
