// Package middleware 消息总线中间件
package middleware

import (
	"context"

	"tablecore/messaging"
)

// KeyCorrelationID 同一次请求产生的消息共享的关联 id
const KeyCorrelationID = "correlation_id"

type correlationKey struct{}

// WithCorrelationID 把关联 id 放入上下文
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID 从上下文取关联 id
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Correlation 为缺少关联 id 的消息补齐：优先沿用上下文，否则使用消息自身 id
type Correlation struct{}

func (Correlation) Name() string { return "Correlation" }

func (Correlation) Handle(ctx context.Context, message messaging.IMessage, next messaging.HandlerFunc) error {
	md := message.GetMetadata()
	if id, _ := md[KeyCorrelationID].(string); id == "" {
		if id = CorrelationID(ctx); id == "" {
			id = message.GetID()
		}
		md[KeyCorrelationID] = id
	}
	return next(WithCorrelationID(ctx, md[KeyCorrelationID].(string)), message)
}
