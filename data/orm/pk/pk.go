// Package pk 把记录标识符转换为按方言渲染的主键谓词。
//
// 标识符可以是对象（列 id/标题/物理名 → 值）、数组（按主键顺序）或标量。
// 多主键的标量形式是历史遗留的拼接串：各段以 ___ 连接，段内的 _ 转义为 \_。
package pk

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"tablecore/data/db/dialect"
	"tablecore/data/orm"
	"tablecore/errors"
)

const (
	// Separator 多主键拼接分隔符
	Separator = "___"
	escaped   = `\_`
)

var digits = regexp.MustCompile(`^\d+$`)

type term struct {
	column string
	value  any
	// decode 非空时在库端解码字面量（hex/escape）
	decode string
}

// Predicate 主键等值谓词，所有主键列以 AND 组合
type Predicate struct {
	table string
	terms []term
}

// WherePk 根据主键列与标识符构造谓词
func WherePk(pks []*orm.Column, id any, skipValidation bool) (*Predicate, error) {
	if len(pks) == 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidInput, "表没有主键列")
	}
	values, err := resolve(pks, id, skipValidation)
	if err != nil {
		return nil, err
	}

	p := &Predicate{terms: make([]term, len(pks))}
	for i, col := range pks {
		p.terms[i] = shape(col, values[i])
	}
	return p, nil
}

// Values 返回按主键顺序排列的标识符取值，不做自增校验
func Values(pks []*orm.Column, id any) ([]any, error) {
	return resolve(pks, id, true)
}

func resolve(pks []*orm.Column, id any, skipValidation bool) ([]any, error) {
	if obj, ok := asObject(id); ok {
		values := make([]any, len(pks))
		for i, col := range pks {
			v, found := lookup(obj, col)
			if !found {
				return nil, errors.NewMissingPrimaryKeyError(col.Title)
			}
			if !skipValidation && col.AutoIncrement && !digits.MatchString(fmt.Sprint(v)) {
				return nil, errors.NewInvalidPrimaryKeyError(col.Title, v)
			}
			values[i] = v
		}
		return values, nil
	}

	if arr, ok := asArray(id); ok {
		if len(arr) != len(pks) {
			return nil, errors.NewInvalidPrimaryKeyError(titles(pks), id)
		}
		return arr, nil
	}

	if len(pks) == 1 {
		return []any{id}, nil
	}

	parts := Decode(fmt.Sprint(id))
	if len(parts) != len(pks) {
		return nil, errors.NewInvalidPrimaryKeyError(titles(pks), id)
	}
	values := make([]any, len(parts))
	for i, s := range parts {
		values[i] = s
	}
	return values, nil
}

// lookup 依次按列 id、标题、物理名取值
func lookup(obj map[string]any, col *orm.Column) (any, bool) {
	for _, key := range []string{col.ID, col.Title, col.Name} {
		if key == "" {
			continue
		}
		if v, ok := obj[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func asObject(id any) (map[string]any, bool) {
	switch v := id.(type) {
	case map[string]any:
		return v, true
	case nil:
		return nil, false
	}
	return nil, false
}

func asArray(id any) ([]any, bool) {
	switch v := id.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []byte:
		return nil, false
	}
	rv := reflect.ValueOf(id)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func shape(col *orm.Column, v any) term {
	t := term{column: col.Name, value: v}
	switch {
	case col.IsByteArray():
		t.decode = col.ByteaFormat
		if t.decode != "escape" {
			t.decode = "hex"
		}
		t.value = fmt.Sprint(v)
	case col.IsBinary16():
		s := fmt.Sprint(v)
		if len(s) == 32 || len(s) == 36 {
			if u, err := uuid.Parse(s); err == nil {
				t.value = u[:]
			}
		}
	}
	return t
}

// Qualify 返回以表名限定列引用的副本
func (p *Predicate) Qualify(table string) *Predicate {
	return &Predicate{table: table, terms: p.terms}
}

// Columns 谓词涉及的物理列
func (p *Predicate) Columns() []string {
	out := make([]string, len(p.terms))
	for i, t := range p.terms {
		out[i] = t.column
	}
	return out
}

// Row 以物理列名返回谓词取值（已完成类型整形）
func (p *Predicate) Row() orm.Row {
	row := make(orm.Row, len(p.terms))
	for _, t := range p.terms {
		row[t.column] = t.value
	}
	return row
}

// ToSQL 实现 sql.Expr
func (p *Predicate) ToSQL(d dialect.Dialect) (string, []any) {
	parts := make([]string, 0, len(p.terms))
	args := make([]any, 0, len(p.terms))
	for _, t := range p.terms {
		col := t.column
		if p.table != "" {
			col = p.table + "." + col
		}
		placeholder := "?"
		value := t.value
		if t.decode != "" {
			placeholder = d.DecodeBinary(t.decode)
			if placeholder == "?" {
				value = clientDecode(t.decode, t.value)
			}
		}
		parts = append(parts, d.QuoteIdentifier(col)+" = "+placeholder)
		args = append(args, value)
	}
	if len(parts) == 1 {
		return parts[0], args
	}
	return "(" + strings.Join(parts, " AND ") + ")", args
}

// clientDecode 方言不支持库端解码时在客户端转成字节
func clientDecode(format string, v any) any {
	s, ok := v.(string)
	if !ok || format != "hex" {
		return v
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, `\x`), "0x")
	if b, err := hex.DecodeString(s); err == nil {
		return b
	}
	return v
}

func titles(pks []*orm.Column) string {
	names := make([]string, len(pks))
	for i, c := range pks {
		names[i] = c.Title
	}
	return strings.Join(names, ",")
}
