// Package cache 提供进程内 LRU+TTL 缓存以及记录缓存抽象。
//
// Cache 是通用的泛型容器，schema 元数据与本地记录缓存都建立在它之上；
// RecordCache 是变更引擎提交后失效的记录缓存接口，可替换为 Redis 实现。
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// Cache 并发安全的泛型 LRU 缓存，条目按最近访问时间过期
//
//	tables := cache.New[string, *orm.Table](cache.Config{Name: "schema", MaxSize: 512, TTL: time.Minute})
//	tables.Set(id, table)
//	if t, ok := tables.Get(id); ok { ... }
type Cache[K comparable, V any] struct {
	config Config

	mu    sync.Mutex
	items map[K]*list.Element
	order *list.List // 头部为最近使用
	stats CacheStats
}

type entry[K comparable, V any] struct {
	key        K
	value      V
	accessedAt time.Time
}

// Config 缓存配置
type Config struct {
	Name string
	// MaxSize 最大条目数，0 表示不限制
	MaxSize int
	// TTL 自最近一次访问起的存活时间，0 表示不过期
	TTL time.Duration
	// OnEvict 条目被移除时回调（驱逐、过期、删除、清空）
	OnEvict func(key, value any)
}

// CacheStats 统计信息
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Expires   int64
	Size      int
}

// New 创建缓存
func New[K comparable, V any](config Config) *Cache[K, V] {
	if config.Name == "" {
		config.Name = "unnamed"
	}
	return &Cache[K, V]{
		config: config,
		items:  make(map[K]*list.Element),
		order:  list.New(),
	}
}

// Get 读取并刷新访问时间；过期条目在读取时移除
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if c.expired(e, time.Now()) {
		c.removeLocked(el)
		c.stats.Misses++
		c.stats.Expires++
		return zero, false
	}
	e.accessedAt = time.Now()
	c.order.MoveToFront(el)
	c.stats.Hits++
	return e.value, true
}

// Set 写入或覆盖，超出容量时驱逐最久未使用的条目
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = value
		e.accessedAt = now
		c.order.MoveToFront(el)
		return
	}
	if c.config.MaxSize > 0 && len(c.items) >= c.config.MaxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.removeLocked(oldest)
			c.stats.Evictions++
		}
	}
	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, accessedAt: now})
}

// Delete 删除条目，返回是否存在
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(el)
	return true
}

// DeleteFunc 删除所有满足条件的条目，返回删除数量
func (c *Cache[K, V]) DeleteFunc(match func(key K, value V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, el := range c.items {
		e := el.Value.(*entry[K, V])
		if match(e.key, e.value) {
			c.removeLocked(el)
			n++
		}
	}
	return n
}

// Clear 清空
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, el := range c.items {
		c.removeLocked(el)
	}
}

// CleanExpired 主动清理过期条目
func (c *Cache[K, V]) CleanExpired() int {
	if c.config.TTL <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	n := 0
	for _, el := range c.items {
		if c.expired(el.Value.(*entry[K, V]), now) {
			c.removeLocked(el)
			n++
		}
	}
	c.stats.Expires += int64(n)
	return n
}

// Stats 返回统计副本
func (c *Cache[K, V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.items)
	return s
}

// Size 当前条目数
func (c *Cache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// HitRate 命中率
func (c *Cache[K, V]) HitRate() float64 {
	s := c.Stats()
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

func (c *Cache[K, V]) expired(e *entry[K, V], now time.Time) bool {
	return c.config.TTL > 0 && now.Sub(e.accessedAt) >= c.config.TTL
}

func (c *Cache[K, V]) removeLocked(el *list.Element) {
	e := el.Value.(*entry[K, V])
	c.order.Remove(el)
	delete(c.items, e.key)
	if c.config.OnEvict != nil {
		c.config.OnEvict(e.key, e.value)
	}
}

func (c *Cache[K, V]) String() string {
	s := c.Stats()
	return fmt.Sprintf("Cache[%s]: size=%d/%d, hits=%d, misses=%d, hit_rate=%.2f%%, evictions=%d, expires=%d",
		c.config.Name, s.Size, c.config.MaxSize, s.Hits, s.Misses, c.HitRate()*100, s.Evictions, s.Expires)
}
