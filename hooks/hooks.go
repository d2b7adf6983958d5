// Package hooks 定义记录生命周期钩子及其默认实现。
package hooks

import (
	"context"

	"tablecore/data/orm"
)

// 事件类型，同时用作消息总线上的消息类型
const (
	EventBeforeUpdate     = "record.before_update"
	EventAfterUpdate      = "record.after_update"
	EventBeforeBulkUpdate = "record.before_bulk_update"
	EventAfterBulkUpdate  = "record.after_bulk_update"
	EventErrorUpdate      = "record.error_update"
	EventAfterLink        = "record.after_link"
)

// Meta 触发钩子的请求信息
type Meta struct {
	Actor      string
	APIVersion int
}

// LinkEvent 关联变更
type LinkEvent struct {
	ColumnID string
	Kind     orm.RelationKind
	RowID    any
	ChildIDs []any
	// Removed 为 true 表示解除关联
	Removed bool
}

// Dispatcher 生命周期钩子
//
// Before* 返回错误会中止写入；After* 与 ErrorUpdate 的错误由调用方记录后忽略。
type Dispatcher interface {
	BeforeUpdate(ctx context.Context, table *orm.Table, changes orm.Row, meta Meta) error
	AfterUpdate(ctx context.Context, table *orm.Table, prev, next orm.Row, meta Meta) error
	BeforeBulkUpdate(ctx context.Context, table *orm.Table, changes []orm.Row, meta Meta) error
	AfterBulkUpdate(ctx context.Context, table *orm.Table, prev, next []orm.Row, meta Meta) error
	ErrorUpdate(ctx context.Context, table *orm.Table, changes []orm.Row, cause error, meta Meta) error
	AfterLink(ctx context.Context, table *orm.Table, event LinkEvent, meta Meta) error
}

// Noop 不做任何事
type Noop struct{}

var _ Dispatcher = Noop{}

func (Noop) BeforeUpdate(context.Context, *orm.Table, orm.Row, Meta) error           { return nil }
func (Noop) AfterUpdate(context.Context, *orm.Table, orm.Row, orm.Row, Meta) error   { return nil }
func (Noop) BeforeBulkUpdate(context.Context, *orm.Table, []orm.Row, Meta) error     { return nil }
func (Noop) AfterBulkUpdate(context.Context, *orm.Table, []orm.Row, []orm.Row, Meta) error {
	return nil
}
func (Noop) ErrorUpdate(context.Context, *orm.Table, []orm.Row, error, Meta) error { return nil }
func (Noop) AfterLink(context.Context, *orm.Table, LinkEvent, Meta) error          { return nil }
