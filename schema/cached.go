package schema

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"tablecore/cache"
	"tablecore/data/orm"
)

// Cached 带缓存的 Accessor，同一键的并发未命中只加载一次
type Cached struct {
	next    Accessor
	tables  *cache.Cache[string, *orm.Table]
	columns *cache.Cache[string, *orm.Column]
	group   singleflight.Group
}

var _ Accessor = (*Cached)(nil)

// NewCached 包装 next
func NewCached(next Accessor, maxSize int, ttl time.Duration) *Cached {
	return &Cached{
		next:    next,
		tables:  cache.New[string, *orm.Table](cache.Config{Name: "schema.tables", MaxSize: maxSize, TTL: ttl}),
		columns: cache.New[string, *orm.Column](cache.Config{Name: "schema.columns", MaxSize: maxSize, TTL: ttl}),
	}
}

func (c *Cached) GetTable(ctx context.Context, tableID string) (*orm.Table, error) {
	if t, ok := c.tables.Get(tableID); ok {
		return t, nil
	}
	v, err, _ := c.group.Do("t:"+tableID, func() (any, error) {
		t, err := c.next.GetTable(ctx, tableID)
		if err != nil {
			return nil, err
		}
		c.tables.Set(tableID, t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*orm.Table), nil
}

func (c *Cached) GetColumn(ctx context.Context, columnID string) (*orm.Column, error) {
	if col, ok := c.columns.Get(columnID); ok {
		return col, nil
	}
	v, err, _ := c.group.Do("c:"+columnID, func() (any, error) {
		col, err := c.next.GetColumn(ctx, columnID)
		if err != nil {
			return nil, err
		}
		c.columns.Set(columnID, col)
		return col, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*orm.Column), nil
}

// Invalidate 元数据变更后清除表及其列
func (c *Cached) Invalidate(tableID string) {
	c.tables.Delete(tableID)
	c.columns.DeleteFunc(func(_ string, col *orm.Column) bool { return col.TableID == tableID })
}
