package middleware

import (
	"context"
	"time"

	"tablecore/logging"
	"tablecore/messaging"
)

// Logging 记录每条发布的消息与耗时，失败时记为 Warn
type Logging struct {
	Logger logging.Logger
}

// NewLogging 创建日志中间件，logger 为空时使用全局 logger
func NewLogging(logger logging.Logger) *Logging {
	if logger == nil {
		logger = logging.GetLogger().WithFields(logging.String("component", "messaging"))
	}
	return &Logging{Logger: logger}
}

func (m *Logging) Name() string { return "Logging" }

func (m *Logging) Handle(ctx context.Context, message messaging.IMessage, next messaging.HandlerFunc) error {
	start := time.Now()
	err := next(ctx, message)
	fields := []logging.Field{
		logging.String("message_id", message.GetID()),
		logging.String("message_type", message.GetType()),
		logging.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		m.Logger.Warn(ctx, "消息发布失败", append(fields, logging.Error(err))...)
		return err
	}
	m.Logger.Debug(ctx, "消息已发布", fields...)
	return nil
}
