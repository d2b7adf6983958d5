// Package redis 基于 Redis 的记录缓存，行数据以 msgpack 编码。
package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"tablecore/cache"
	"tablecore/data/orm"
	"tablecore/errors"
	"tablecore/logging"
)

// Config Redis 记录缓存配置
type Config struct {
	Prefix string
	TTL    time.Duration
}

// RecordCache 实现 cache.RecordCache
//
// 每张表额外维护一个成员集合，用于整表失效。
type RecordCache struct {
	client goredis.UniversalClient
	cfg    Config
	logger logging.Logger
}

var _ cache.RecordCache = (*RecordCache)(nil)

// New 创建 Redis 记录缓存
func New(client goredis.UniversalClient, cfg Config) *RecordCache {
	if cfg.Prefix == "" {
		cfg.Prefix = "tablecore"
	}
	return &RecordCache{
		client: client,
		cfg:    cfg,
		logger: logging.GetLogger().WithFields(logging.String("component", "cache.redis")),
	}
}

func (c *RecordCache) rowKey(table, id string) string {
	return c.cfg.Prefix + ":row:" + table + ":" + id
}

func (c *RecordCache) indexKey(table string) string {
	return c.cfg.Prefix + ":idx:" + table
}

func (c *RecordCache) Get(ctx context.Context, table, id string) (orm.Row, bool, error) {
	data, err := c.client.Get(ctx, c.rowKey(table, id)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.WrapError(err, errors.ErrCodeCache, "读取缓存失败")
	}
	row, err := decodeRow(data)
	if err != nil {
		// 损坏的条目直接丢弃
		c.logger.Warn(ctx, "丢弃无法解码的缓存条目", logging.String("table", table), logging.String("id", id), logging.Error(err))
		_ = c.client.Del(ctx, c.rowKey(table, id)).Err()
		return nil, false, nil
	}
	return row, true, nil
}

func (c *RecordCache) Set(ctx context.Context, table, id string, row orm.Row) error {
	data, err := encodeRow(row)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeCache, "编码缓存行失败")
	}
	_, err = c.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, c.rowKey(table, id), data, c.cfg.TTL)
		p.SAdd(ctx, c.indexKey(table), id)
		return nil
	})
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeCache, "写入缓存失败")
	}
	return nil
}

func (c *RecordCache) Invalidate(ctx context.Context, table string, ids ...string) error {
	if len(ids) == 0 {
		members, err := c.client.SMembers(ctx, c.indexKey(table)).Result()
		if err != nil {
			return errors.WrapError(err, errors.ErrCodeCache, "读取缓存索引失败")
		}
		ids = members
	}
	keys := make([]string, 0, len(ids)+1)
	members := make([]any, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, c.rowKey(table, id))
		members = append(members, id)
	}
	_, err := c.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		if len(keys) > 0 {
			p.Del(ctx, keys...)
			p.SRem(ctx, c.indexKey(table), members...)
		}
		return nil
	})
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeCache, "失效缓存失败")
	}
	return nil
}

func encodeRow(row orm.Row) ([]byte, error) {
	return msgpack.Marshal(map[string]any(row))
}

func decodeRow(data []byte) (orm.Row, error) {
	var row map[string]any
	if err := msgpack.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	return row, nil
}
