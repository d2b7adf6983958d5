// Package orm 描述用户自定义的表结构元数据，以及引擎读写的行类型。
//
// 元数据由外部的 schema 服务持有，本包只定义只读视图。
package orm

import "strings"

// ColumnType 列的语义类型
type ColumnType string

const (
	TypePlain      ColumnType = "plain"
	TypeNumber     ColumnType = "number"
	TypeCheckbox   ColumnType = "checkbox"
	TypeDate       ColumnType = "date"
	TypeDateTime   ColumnType = "datetime"
	TypeFormula    ColumnType = "formula"
	TypeLink       ColumnType = "link"
	TypeLookup     ColumnType = "lookup"
	TypeRollup     ColumnType = "rollup"
	TypeForeignKey ColumnType = "foreign_key"

	// 系统列
	TypeCreatedTime      ColumnType = "created_time"
	TypeLastModifiedTime ColumnType = "last_modified_time"
	TypeCreatedBy        ColumnType = "created_by"
	TypeLastModifiedBy   ColumnType = "last_modified_by"
)

// RelationKind 关联类型
type RelationKind string

const (
	BelongsTo  RelationKind = "bt"
	HasMany    RelationKind = "hm"
	ManyToMany RelationKind = "mm"
	OneToOne   RelationKind = "oo"
)

// Opposite 返回对侧列的关联类型
func (k RelationKind) Opposite() RelationKind {
	switch k {
	case BelongsTo:
		return HasMany
	case HasMany:
		return BelongsTo
	default:
		return k
	}
}

// LinkOptions 关联列的配置
//
// ChildColumnID / ParentColumnID 对同一条关联的两侧列是相同的：
// 子表外键列与父表被引用列。多对多时 Junction* 指向中间表的两个外键列，
// JunctionChildColumnID 引用 ChildColumn，JunctionParentColumnID 引用 ParentColumn。
type LinkOptions struct {
	Kind                   RelationKind
	ChildColumnID          string
	ParentColumnID         string
	JunctionTableID        string
	JunctionChildColumnID  string
	JunctionParentColumnID string
	TargetViewID           string
	// Version 2 表示通过中间表存储的新版关联
	Version int
}

// OppositeKind 对侧关联列的类型
func (o *LinkOptions) OppositeKind() RelationKind {
	return o.Kind.Opposite()
}

// LookupOptions 查找/汇总列沿关联列取值
type LookupOptions struct {
	RelationColumnID string
	TargetColumnID   string
	// Func 汇总函数（rollup），查找列为空
	Func string
}

// Column 列元数据
type Column struct {
	ID      string
	TableID string
	Title   string
	Name    string
	Type    ColumnType

	// DataType 方言原始类型，例如 bytea、blob、binary、varchar
	DataType    string
	DataTypeLen int
	// ByteaFormat 二进制列的字面量格式：hex 或 escape
	ByteaFormat string

	PrimaryKey    bool
	AutoIncrement bool
	Required      bool
	System        bool
	// Default 列默认值表达式
	Default string

	Link   *LinkOptions
	Lookup *LookupOptions
	// DependsOn 公式列引用的列 id
	DependsOn []string
}

// IsVirtual 虚拟列不对应物理列，不能直接写入
func (c *Column) IsVirtual() bool {
	switch c.Type {
	case TypeLink, TypeLookup, TypeRollup, TypeFormula:
		return true
	}
	return false
}

// IsSystemType 由引擎维护的审计列
func (c *Column) IsSystemType() bool {
	switch c.Type {
	case TypeCreatedTime, TypeLastModifiedTime, TypeCreatedBy, TypeLastModifiedBy:
		return true
	}
	return false
}

// IsByteArray 二进制大字段（bytea/blob）
func (c *Column) IsByteArray() bool {
	dt := strings.ToLower(c.DataType)
	return dt == "bytea" || strings.HasSuffix(dt, "blob")
}

// IsBinary16 16 字节定长二进制，常用于存放 UUID
func (c *Column) IsBinary16() bool {
	return strings.EqualFold(c.DataType, "binary") && c.DataTypeLen == 16
}

// Table 表元数据
type Table struct {
	ID    string
	Title string
	// Name 当前方言下的物理表路径，可带 schema 前缀
	Name    string
	Columns []*Column
}

// PrimaryKeys 按列顺序返回主键列
func (t *Table) PrimaryKeys() []*Column {
	pks := make([]*Column, 0, 1)
	for _, c := range t.Columns {
		if c.PrimaryKey {
			pks = append(pks, c)
		}
	}
	return pks
}

// ColumnByID 按 id 查找列
func (t *Table) ColumnByID(id string) *Column {
	for _, c := range t.Columns {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Column 依次按 id、标题、物理列名查找
func (t *Table) Column(key string) *Column {
	if c := t.ColumnByID(key); c != nil {
		return c
	}
	for _, c := range t.Columns {
		if c.Title == key {
			return c
		}
	}
	for _, c := range t.Columns {
		if c.Name == key {
			return c
		}
	}
	return nil
}

// Row 一行数据，键为物理列名（读取结果）或别名（调用方输入）
type Row = map[string]any

// CloneRow 浅拷贝一行
func CloneRow(r Row) Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
