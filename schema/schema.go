// Package schema 提供表结构元数据的只读访问。
//
// 元数据的持久化不在本模块范围内；Registry 是内存实现，
// Cached 为任意 Accessor 增加带合并加载的缓存。
package schema

import (
	"context"
	"fmt"
	"sync"

	dbsql "tablecore/data/db/sql"
	"tablecore/data/orm"
	"tablecore/errors"
)

// Accessor 元数据访问接口
type Accessor interface {
	GetTable(ctx context.Context, tableID string) (*orm.Table, error)
	GetColumn(ctx context.Context, columnID string) (*orm.Column, error)
}

// Registry 内存元数据注册表
type Registry struct {
	mu      sync.RWMutex
	tables  map[string]*orm.Table
	columns map[string]*orm.Column
}

// NewRegistry 创建注册表并注册给定表
func NewRegistry(tables ...*orm.Table) (*Registry, error) {
	r := &Registry{
		tables:  make(map[string]*orm.Table),
		columns: make(map[string]*orm.Column),
	}
	for _, t := range tables {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 注册或替换一张表
//
// 物理表名与非虚拟列名必须是安全标识符；列的 TableID 会被补齐。
func (r *Registry) Register(t *orm.Table) error {
	if t == nil || t.ID == "" {
		return errors.NewError(errors.ErrCodeInvalidInput, "表 id 不能为空")
	}
	if !dbsql.IsSafeIdentifier(t.Name) {
		return errors.NewError(errors.ErrCodeInvalidInput, fmt.Sprintf("表 %s 的物理名 %q 不合法", t.ID, t.Name))
	}
	for _, c := range t.Columns {
		if c.ID == "" {
			return errors.NewError(errors.ErrCodeInvalidInput, fmt.Sprintf("表 %s 存在没有 id 的列", t.ID))
		}
		if !c.IsVirtual() && !dbsql.IsSafeIdentifier(c.Name) {
			return errors.NewError(errors.ErrCodeInvalidInput, fmt.Sprintf("列 %s 的物理名 %q 不合法", c.ID, c.Name))
		}
		if c.Type == orm.TypeLink && c.Link == nil {
			return errors.NewError(errors.ErrCodeInvalidInput, fmt.Sprintf("关联列 %s 缺少关联配置", c.ID))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.tables[t.ID]; ok {
		for _, c := range old.Columns {
			delete(r.columns, c.ID)
		}
	}
	for _, c := range t.Columns {
		if c.TableID == "" {
			c.TableID = t.ID
		}
		r.columns[c.ID] = c
	}
	r.tables[t.ID] = t
	return nil
}

// GetTable 按 id 取表
func (r *Registry) GetTable(_ context.Context, tableID string) (*orm.Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[tableID]
	if !ok {
		return nil, errors.NewTableNotFoundError(tableID)
	}
	return t, nil
}

// GetColumn 按 id 取列
func (r *Registry) GetColumn(_ context.Context, columnID string) (*orm.Column, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.columns[columnID]
	if !ok {
		return nil, errors.NewColumnNotFoundError(columnID)
	}
	return c, nil
}

// TableOf 返回列所属的表
func TableOf(ctx context.Context, a Accessor, col *orm.Column) (*orm.Table, error) {
	return a.GetTable(ctx, col.TableID)
}

// ResolveLookupTarget 沿查找/汇总列的关联链找到最终的目标列。
// 非查找列原样返回；链上出现环时报错。
func ResolveLookupTarget(ctx context.Context, a Accessor, col *orm.Column) (*orm.Column, error) {
	seen := map[string]bool{}
	for col.Lookup != nil && (col.Type == orm.TypeLookup || col.Type == orm.TypeRollup) {
		if seen[col.ID] {
			return nil, errors.NewError(errors.ErrCodeInvalidInput, fmt.Sprintf("查找列 %s 存在循环引用", col.ID))
		}
		seen[col.ID] = true
		target, err := a.GetColumn(ctx, col.Lookup.TargetColumnID)
		if err != nil {
			return nil, err
		}
		col = target
	}
	return col, nil
}
