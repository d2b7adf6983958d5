package cache

import (
	"context"
	"time"

	"tablecore/data/orm"
)

// RecordCache 以 表 id + 记录键 为键的行缓存
//
// 变更引擎在事务提交之后调用 Invalidate；ids 为空表示失效整张表。
type RecordCache interface {
	Get(ctx context.Context, table, id string) (orm.Row, bool, error)
	Set(ctx context.Context, table, id string, row orm.Row) error
	Invalidate(ctx context.Context, table string, ids ...string) error
}

type recordKey struct {
	table string
	id    string
}

// LocalRecordCache 进程内记录缓存
type LocalRecordCache struct {
	rows *Cache[recordKey, orm.Row]
}

// NewLocalRecordCache 创建本地记录缓存
func NewLocalRecordCache(maxSize int, ttl time.Duration) *LocalRecordCache {
	return &LocalRecordCache{
		rows: New[recordKey, orm.Row](Config{Name: "records", MaxSize: maxSize, TTL: ttl}),
	}
}

func (c *LocalRecordCache) Get(_ context.Context, table, id string) (orm.Row, bool, error) {
	row, ok := c.rows.Get(recordKey{table, id})
	if !ok {
		return nil, false, nil
	}
	return orm.CloneRow(row), true, nil
}

func (c *LocalRecordCache) Set(_ context.Context, table, id string, row orm.Row) error {
	c.rows.Set(recordKey{table, id}, orm.CloneRow(row))
	return nil
}

func (c *LocalRecordCache) Invalidate(_ context.Context, table string, ids ...string) error {
	if len(ids) == 0 {
		c.rows.DeleteFunc(func(k recordKey, _ orm.Row) bool { return k.table == table })
		return nil
	}
	for _, id := range ids {
		c.rows.Delete(recordKey{table, id})
	}
	return nil
}

// Stats 暴露底层统计
func (c *LocalRecordCache) Stats() CacheStats {
	return c.rows.Stats()
}

// NopRecordCache 不缓存任何内容
type NopRecordCache struct{}

func (NopRecordCache) Get(context.Context, string, string) (orm.Row, bool, error) {
	return nil, false, nil
}
func (NopRecordCache) Set(context.Context, string, string, orm.Row) error   { return nil }
func (NopRecordCache) Invalidate(context.Context, string, ...string) error { return nil }
