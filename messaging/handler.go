package messaging

import "context"

// IMessageHandler 消息处理器
type IMessageHandler interface {
	Handle(ctx context.Context, message IMessage) error
	// Type 处理器名称，用于日志
	Type() string
}

// FuncHandler 把函数包装为处理器
type FuncHandler struct {
	Name string
	Fn   func(ctx context.Context, message IMessage) error
}

func (h *FuncHandler) Handle(ctx context.Context, message IMessage) error {
	return h.Fn(ctx, message)
}

func (h *FuncHandler) Type() string {
	return h.Name
}
