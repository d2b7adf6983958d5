package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablecore/data/orm"
	"tablecore/messaging"
	"tablecore/messaging/middleware"
	syncbus "tablecore/messaging/transport/sync"
)

var orders = &orm.Table{ID: "t_orders", Title: "Orders", Name: "orders"}

func TestBusDispatcher_PublishesEvents(t *testing.T) {
	ctx := context.Background()
	tr := syncbus.NewTransport()
	require.NoError(t, tr.Start(ctx))
	bus := messaging.NewMessageBus(tr)
	bus.Use(middleware.Correlation{})

	var got []messaging.IMessage
	capture := &messaging.FuncHandler{Name: "capture", Fn: func(_ context.Context, m messaging.IMessage) error {
		got = append(got, m)
		return nil
	}}
	require.NoError(t, bus.Subscribe(ctx, EventAfterBulkUpdate, capture))
	require.NoError(t, bus.Subscribe(ctx, EventAfterLink, capture))

	d := NewBusDispatcher(bus, nil)
	meta := Meta{Actor: "u1", APIVersion: 3}
	require.NoError(t, d.AfterBulkUpdate(ctx, orders, []orm.Row{{"id": 1}}, []orm.Row{{"id": 1, "title": "x"}}, meta))
	require.NoError(t, d.AfterLink(ctx, orders, LinkEvent{ColumnID: "c", Kind: orm.BelongsTo, RowID: 1, ChildIDs: []any{2}}, meta))
	require.NoError(t, d.AfterUpdate(ctx, orders, nil, nil, meta), "no subscriber is fine")

	require.Len(t, got, 2)
	payload := got[0].GetPayload().(map[string]any)
	assert.Equal(t, "t_orders", payload["table_id"])
	assert.Equal(t, "u1", got[0].GetMetadata()["actor"])
	assert.NotEmpty(t, got[0].GetMetadata()[middleware.KeyCorrelationID])
	assert.Equal(t, "bt", got[1].GetPayload().(map[string]any)["kind"])
}

func TestBusDispatcher_SwallowsFailures(t *testing.T) {
	ctx := context.Background()
	tr := syncbus.NewTransport()
	require.NoError(t, tr.Start(ctx))
	bus := messaging.NewMessageBus(tr)
	require.NoError(t, bus.Subscribe(ctx, EventErrorUpdate, &messaging.FuncHandler{Name: "fail", Fn: func(context.Context, messaging.IMessage) error {
		return errors.New("webhook down")
	}}))

	d := NewBusDispatcher(bus, nil)
	assert.NoError(t, d.ErrorUpdate(ctx, orders, nil, errors.New("dup"), Meta{}))
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	r := &Recorder{}
	require.NoError(t, r.BeforeBulkUpdate(ctx, orders, []orm.Row{{}, {}}, Meta{}))
	require.NoError(t, r.AfterBulkUpdate(ctx, orders, []orm.Row{{}, {}}, []orm.Row{{}, {}}, Meta{}))
	require.NoError(t, r.ErrorUpdate(ctx, orders, nil, errors.New("x"), Meta{}))

	assert.Equal(t, 1, r.Count(EventAfterBulkUpdate))
	last, ok := r.Last(EventAfterBulkUpdate)
	require.True(t, ok)
	assert.Len(t, last.Next, 2)
	_, ok = r.Last(EventAfterLink)
	assert.False(t, ok)

	r.BeforeErr = errors.New("veto")
	assert.Error(t, r.BeforeUpdate(ctx, orders, orm.Row{}, Meta{}))

	var n Noop
	assert.NoError(t, n.AfterLink(ctx, orders, LinkEvent{}, Meta{}))
}
