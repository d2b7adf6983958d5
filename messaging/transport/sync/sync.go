// Package sync 在发布方 goroutine 内同步调用处理器的传输层
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tablecore/messaging"
)

// Transport 同步内存传输，Publish 返回时所有处理器都已执行
type Transport struct {
	mu       sync.RWMutex
	handlers map[string][]messaging.IMessageHandler
	running  bool
}

var _ messaging.Transport = (*Transport)(nil)

// NewTransport 创建同步传输
func NewTransport() *Transport {
	return &Transport{handlers: make(map[string][]messaging.IMessageHandler)}
}

// Publish 依次调用处理器，汇总所有错误
func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	t.mu.RLock()
	if !t.running {
		t.mu.RUnlock()
		return errors.New("sync transport is not running")
	}
	handlers := append([]messaging.IMessageHandler(nil), t.handlers[message.GetType()]...)
	t.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h.Handle(ctx, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.Type(), err))
		}
	}
	return errors.Join(errs...)
}

func (t *Transport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[messageType] = append(t.handlers[messageType], handler)
	return nil
}

func (t *Transport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	handlers := t.handlers[messageType]
	for i, h := range handlers {
		if h == handler {
			t.handlers[messageType] = append(handlers[:i:i], handlers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("handler not found for message type %s", messageType)
}

func (t *Transport) Start(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.New("sync transport is already running")
	}
	t.running = true
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	return nil
}

func (t *Transport) Stats() messaging.TransportStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	stats := messaging.TransportStats{Running: t.running}
	for mt, hs := range t.handlers {
		stats.MessageTypes = append(stats.MessageTypes, mt)
		stats.HandlerCount += len(hs)
	}
	return stats
}
