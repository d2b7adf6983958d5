package hooks

import (
	"context"

	"tablecore/data/orm"
	"tablecore/logging"
	"tablecore/messaging"
)

// BusDispatcher 把钩子发布为消息总线上的事件
//
// 发布失败只记录日志；Before* 同样不会阻止写入。
type BusDispatcher struct {
	bus    messaging.IMessageBus
	logger logging.Logger
}

var _ Dispatcher = (*BusDispatcher)(nil)

// NewBusDispatcher 创建总线钩子
func NewBusDispatcher(bus messaging.IMessageBus, logger logging.Logger) *BusDispatcher {
	if logger == nil {
		logger = logging.GetLogger().WithFields(logging.String("component", "hooks.bus"))
	}
	return &BusDispatcher{bus: bus, logger: logger}
}

func (d *BusDispatcher) publish(ctx context.Context, event string, table *orm.Table, meta Meta, payload map[string]any) error {
	payload["table_id"] = table.ID
	payload["table"] = table.Title
	msg := messaging.NewMessage(event, payload)
	if meta.Actor != "" {
		msg.SetMetadata("actor", meta.Actor)
	}
	if meta.APIVersion > 0 {
		msg.SetMetadata("api_version", meta.APIVersion)
	}
	if err := d.bus.Publish(ctx, msg); err != nil {
		d.logger.Warn(ctx, "发布记录事件失败",
			logging.String("event", event),
			logging.String("table_id", table.ID),
			logging.Error(err))
	}
	return nil
}

func (d *BusDispatcher) BeforeUpdate(ctx context.Context, t *orm.Table, changes orm.Row, meta Meta) error {
	return d.publish(ctx, EventBeforeUpdate, t, meta, map[string]any{"changes": changes})
}

func (d *BusDispatcher) AfterUpdate(ctx context.Context, t *orm.Table, prev, next orm.Row, meta Meta) error {
	return d.publish(ctx, EventAfterUpdate, t, meta, map[string]any{"previous": prev, "current": next})
}

func (d *BusDispatcher) BeforeBulkUpdate(ctx context.Context, t *orm.Table, changes []orm.Row, meta Meta) error {
	return d.publish(ctx, EventBeforeBulkUpdate, t, meta, map[string]any{"changes": changes})
}

func (d *BusDispatcher) AfterBulkUpdate(ctx context.Context, t *orm.Table, prev, next []orm.Row, meta Meta) error {
	return d.publish(ctx, EventAfterBulkUpdate, t, meta, map[string]any{"previous": prev, "current": next})
}

func (d *BusDispatcher) ErrorUpdate(ctx context.Context, t *orm.Table, changes []orm.Row, cause error, meta Meta) error {
	return d.publish(ctx, EventErrorUpdate, t, meta, map[string]any{"changes": changes, "error": cause.Error()})
}

func (d *BusDispatcher) AfterLink(ctx context.Context, t *orm.Table, e LinkEvent, meta Meta) error {
	return d.publish(ctx, EventAfterLink, t, meta, map[string]any{
		"column_id": e.ColumnID,
		"kind":      string(e.Kind),
		"row_id":    e.RowID,
		"child_ids": e.ChildIDs,
		"removed":   e.Removed,
	})
}
