package messaging

import (
	"context"
	"fmt"
	"sync"
)

// HandlerFunc 中间件链中的执行单元
type HandlerFunc func(ctx context.Context, message IMessage) error

// IMiddleware 发布前执行的中间件
type IMiddleware interface {
	Handle(ctx context.Context, message IMessage, next HandlerFunc) error
	Name() string
}

// IMessageBus 消息总线
type IMessageBus interface {
	Subscribe(ctx context.Context, messageType string, handler IMessageHandler) error
	Unsubscribe(ctx context.Context, messageType string, handler IMessageHandler) error
	Publish(ctx context.Context, message IMessage) error
	PublishAll(ctx context.Context, messages []IMessage) error
	Use(middleware IMiddleware)
}

// MessageBus 基于 Transport 的总线，发布前依次执行中间件
type MessageBus struct {
	transport   Transport
	mu          sync.RWMutex
	middlewares []IMiddleware
}

var _ IMessageBus = (*MessageBus)(nil)

// NewMessageBus 创建总线
func NewMessageBus(transport Transport) *MessageBus {
	return &MessageBus{transport: transport}
}

// Use 追加中间件，先注册的先执行
func (b *MessageBus) Use(m IMiddleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middlewares = append(b.middlewares, m)
}

func (b *MessageBus) Subscribe(_ context.Context, messageType string, handler IMessageHandler) error {
	return b.transport.Subscribe(messageType, handler)
}

func (b *MessageBus) Unsubscribe(_ context.Context, messageType string, handler IMessageHandler) error {
	return b.transport.Unsubscribe(messageType, handler)
}

func (b *MessageBus) Publish(ctx context.Context, message IMessage) error {
	return b.chain(b.transport.Publish)(ctx, message)
}

// PublishAll 逐条发布，遇到错误立即返回
func (b *MessageBus) PublishAll(ctx context.Context, messages []IMessage) error {
	publish := b.chain(b.transport.Publish)
	for _, m := range messages {
		if err := publish(ctx, m); err != nil {
			return fmt.Errorf("publish message %s: %w", m.GetID(), err)
		}
	}
	return nil
}

func (b *MessageBus) chain(final HandlerFunc) HandlerFunc {
	b.mu.RLock()
	middlewares := append([]IMiddleware(nil), b.middlewares...)
	b.mu.RUnlock()

	next := final
	for i := len(middlewares) - 1; i >= 0; i-- {
		m, inner := middlewares[i], next
		next = func(ctx context.Context, msg IMessage) error {
			return m.Handle(ctx, msg, inner)
		}
	}
	return next
}
