package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTransport struct {
	published []IMessage
	subs      map[string]int
	err       error
	order     *[]string
}

func newMockTransport() *mockTransport {
	return &mockTransport{subs: make(map[string]int)}
}

func (m *mockTransport) Publish(_ context.Context, message IMessage) error {
	if m.order != nil {
		*m.order = append(*m.order, "transport")
	}
	m.published = append(m.published, message)
	return m.err
}

func (m *mockTransport) Subscribe(t string, _ IMessageHandler) error   { m.subs[t]++; return nil }
func (m *mockTransport) Unsubscribe(t string, _ IMessageHandler) error { m.subs[t]--; return nil }
func (m *mockTransport) Start(context.Context) error                   { return nil }
func (m *mockTransport) Close() error                                  { return nil }
func (m *mockTransport) Stats() TransportStats                         { return TransportStats{} }

type recordingMiddleware struct {
	name  string
	order *[]string
	err   error
}

func (mw recordingMiddleware) Handle(ctx context.Context, message IMessage, next HandlerFunc) error {
	*mw.order = append(*mw.order, mw.name)
	if mw.err != nil {
		return mw.err
	}
	return next(ctx, message)
}

func (mw recordingMiddleware) Name() string { return mw.name }

func TestMessageBus_MiddlewareOrder(t *testing.T) {
	var order []string
	tr := newMockTransport()
	tr.order = &order
	bus := NewMessageBus(tr)
	bus.Use(recordingMiddleware{name: "first", order: &order})
	bus.Use(recordingMiddleware{name: "second", order: &order})

	require.NoError(t, bus.Publish(context.Background(), NewMessage("record.after_update", nil)))
	assert.Equal(t, []string{"first", "second", "transport"}, order)
	assert.Len(t, tr.published, 1)
}

func TestMessageBus_MiddlewareShortCircuits(t *testing.T) {
	var order []string
	tr := newMockTransport()
	bus := NewMessageBus(tr)
	boom := errors.New("blocked")
	bus.Use(recordingMiddleware{name: "guard", order: &order, err: boom})

	err := bus.PublishAll(context.Background(), []IMessage{NewMessage("a", 1), NewMessage("b", 2)})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, tr.published)
	assert.Equal(t, []string{"guard"}, order)
}

func TestMessageBus_SubscribeDelegates(t *testing.T) {
	tr := newMockTransport()
	bus := NewMessageBus(tr)
	h := &FuncHandler{Name: "h", Fn: func(context.Context, IMessage) error { return nil }}

	require.NoError(t, bus.Subscribe(context.Background(), "x", h))
	require.NoError(t, bus.Subscribe(context.Background(), "x", h))
	require.NoError(t, bus.Unsubscribe(context.Background(), "x", h))
	assert.Equal(t, 1, tr.subs["x"])
	assert.Equal(t, "h", h.Type())
}

func TestNewMessage(t *testing.T) {
	a := NewMessage("t", map[string]any{"k": 1})
	b := NewMessage("t", nil)
	assert.NotEqual(t, a.GetID(), b.GetID())
	assert.Len(t, a.GetID(), 36)
	assert.Equal(t, "t", a.GetType())
	assert.False(t, a.GetTimestamp().IsZero())

	m := &Message{}
	m.SetMetadata("k", "v")
	assert.Equal(t, "v", m.GetMetadata()["k"])
}
