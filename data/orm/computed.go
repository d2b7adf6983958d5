package orm

import (
	"context"
	"sync"
)

// ComputedFunc 惰性计算一个虚拟字段（公式/查找/汇总）
type ComputedFunc func(ctx context.Context, row Row) (any, error)

// ComputedFieldSet 一张表的虚拟字段集合
//
// 同一个集合绑定到该表返回的每一行；集合本身只读，可在多行之间共享。
type ComputedFieldSet struct {
	names []string
	funcs map[string]ComputedFunc
}

// NewComputedFieldSet 创建空集合
func NewComputedFieldSet() *ComputedFieldSet {
	return &ComputedFieldSet{funcs: make(map[string]ComputedFunc)}
}

// Add 注册字段，重复名称覆盖之前的定义
func (s *ComputedFieldSet) Add(name string, fn ComputedFunc) *ComputedFieldSet {
	if _, ok := s.funcs[name]; !ok {
		s.names = append(s.names, name)
	}
	s.funcs[name] = fn
	return s
}

// Names 按注册顺序返回字段名
func (s *ComputedFieldSet) Names() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.names...)
}

// Has 是否包含字段
func (s *ComputedFieldSet) Has(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.funcs[name]
	return ok
}

// Bind 把集合绑定到一行
func (s *ComputedFieldSet) Bind(row Row) *Record {
	return &Record{Row: row, fields: s}
}

// BindAll 绑定多行
func (s *ComputedFieldSet) BindAll(rows []Row) []*Record {
	out := make([]*Record, len(rows))
	for i, r := range rows {
		out[i] = s.Bind(r)
	}
	return out
}

type computedResult struct {
	value any
	err   error
}

// Record 行数据加上虚拟字段访问器，虚拟字段首次访问时计算并缓存
type Record struct {
	Row    Row
	fields *ComputedFieldSet

	mu   sync.Mutex
	memo map[string]computedResult
}

// Fields 返回绑定的虚拟字段集合
func (r *Record) Fields() *ComputedFieldSet {
	return r.fields
}

// Get 优先取物理值，其次计算虚拟字段；ok 为 false 表示两者都不存在
func (r *Record) Get(ctx context.Context, name string) (value any, ok bool, err error) {
	if v, exists := r.Row[name]; exists {
		return v, true, nil
	}
	if !r.fields.Has(name) {
		return nil, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if res, cached := r.memo[name]; cached {
		return res.value, true, res.err
	}
	v, err := r.fields.funcs[name](ctx, r.Row)
	if r.memo == nil {
		r.memo = make(map[string]computedResult)
	}
	r.memo[name] = computedResult{value: v, err: err}
	return v, true, err
}

// Resolve 计算全部虚拟字段并返回合并后的新行
func (r *Record) Resolve(ctx context.Context) (Row, error) {
	out := CloneRow(r.Row)
	if out == nil {
		out = make(Row)
	}
	for _, name := range r.fields.Names() {
		if _, exists := out[name]; exists {
			continue
		}
		v, _, err := r.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// ComputedFieldProvider 为表提供虚拟字段集合
type ComputedFieldProvider interface {
	ComputedFields(ctx context.Context, table *Table) (*ComputedFieldSet, error)
}

// ComputedFieldProviderFunc 函数适配器
type ComputedFieldProviderFunc func(ctx context.Context, table *Table) (*ComputedFieldSet, error)

func (f ComputedFieldProviderFunc) ComputedFields(ctx context.Context, table *Table) (*ComputedFieldSet, error) {
	return f(ctx, table)
}

// NoComputedFields 不提供任何虚拟字段
type NoComputedFields struct{}

func (NoComputedFields) ComputedFields(context.Context, *Table) (*ComputedFieldSet, error) {
	return NewComputedFieldSet(), nil
}
