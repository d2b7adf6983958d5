package pk

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tablecore/data/orm"
	"tablecore/errors"
)

// Encode 把多个主键值拼接为历史格式的字符串
func Encode(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strings.ReplaceAll(stringify(v), "_", escaped)
	}
	return strings.Join(parts, Separator)
}

// Decode 拆分历史拼接串并还原 \_
func Decode(s string) []string {
	parts := strings.Split(s, Separator)
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(p, escaped, "_")
	}
	return parts
}

// Extract 从行中取出标识符：单主键返回原值，多主键返回拼接串。
// 行的键可以是列标题或物理列名。
func Extract(pks []*orm.Column, row orm.Row) (any, error) {
	if row == nil || len(pks) == 0 {
		return nil, errors.NewMissingPrimaryKeyError(titles(pks))
	}
	values := make([]any, len(pks))
	for i, col := range pks {
		v, ok := lookup(row, col)
		if !ok || v == nil {
			return nil, errors.NewMissingPrimaryKeyError(col.Title)
		}
		values[i] = v
	}
	if len(values) == 1 {
		return values[0], nil
	}
	return Encode(values), nil
}

// Key 把任意形式的标识符归一为稳定的字符串键，
// 同一条记录的对象、数组、标量形式得到相同结果。
// 二进制主键按字节归一：binary(16) 取规范 UUID 串，bytea/blob 取小写 hex，
// 因此请求中的字面量与库中读出的字节得到同一个键。
func Key(pks []*orm.Column, id any) (string, error) {
	values, err := Values(pks, id)
	if err != nil {
		return "", err
	}
	return join(pks, values), nil
}

// RowKey 从库中读出的行计算键，与 Key 对同一条记录的结果一致
func RowKey(pks []*orm.Column, row orm.Row) (string, error) {
	if row == nil || len(pks) == 0 {
		return "", errors.NewMissingPrimaryKeyError(titles(pks))
	}
	values := make([]any, len(pks))
	for i, col := range pks {
		v, ok := lookup(row, col)
		if !ok || v == nil {
			return "", errors.NewMissingPrimaryKeyError(col.Title)
		}
		values[i] = v
	}
	return join(pks, values), nil
}

func join(pks []*orm.Column, values []any) string {
	if len(values) == 1 {
		return keyPart(pks[0], values[0])
	}
	parts := make([]any, len(values))
	for i, v := range values {
		parts[i] = keyPart(pks[i], v)
	}
	return Encode(parts)
}

// keyPart 单列取值的键表示
func keyPart(col *orm.Column, v any) string {
	switch {
	case col.IsBinary16():
		if u, ok := asUUID(v); ok {
			return u.String()
		}
	case col.IsByteArray():
		if b, ok := asBytes(col, v); ok {
			return hex.EncodeToString(b)
		}
	}
	return stringify(v)
}

// asUUID 接受 16 字节原值或 32/36 位文本
func asUUID(v any) (uuid.UUID, bool) {
	var raw []byte
	switch x := v.(type) {
	case uuid.UUID:
		return x, true
	case []byte:
		raw = x
	case string:
		if len(x) == 32 || len(x) == 36 {
			u, err := uuid.Parse(x)
			return u, err == nil
		}
		raw = []byte(x)
	default:
		return uuid.UUID{}, false
	}
	u, err := uuid.FromBytes(raw)
	return u, err == nil
}

// asBytes 库中读出的 []byte 原样使用；文本按列的字面量格式解释
func asBytes(col *orm.Column, v any) ([]byte, bool) {
	switch x := v.(type) {
	case []byte:
		return x, true
	case string:
		if col.ByteaFormat == "escape" {
			return []byte(x), true
		}
		s := strings.TrimPrefix(strings.TrimPrefix(x, `\x`), "0x")
		if b, err := hex.DecodeString(s); err == nil {
			return b, true
		}
		return []byte(x), true
	}
	return nil, false
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
