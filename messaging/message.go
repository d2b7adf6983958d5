// Package messaging 提供进程内外通用的消息总线，用于分发记录生命周期事件。
package messaging

import (
	"time"

	"github.com/google/uuid"
)

// IMessage 消息接口
type IMessage interface {
	GetID() string
	GetType() string
	GetTimestamp() time.Time
	GetPayload() any
	GetMetadata() map[string]any
}

// Message 基础实现，可直接 JSON 编码
type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   any            `json:"payload"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (m *Message) GetID() string           { return m.ID }
func (m *Message) GetType() string         { return m.Type }
func (m *Message) GetTimestamp() time.Time { return m.Timestamp }
func (m *Message) GetPayload() any         { return m.Payload }

// GetMetadata 返回可写的元数据
func (m *Message) GetMetadata() map[string]any {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	return m.Metadata
}

// SetMetadata 设置元数据
func (m *Message) SetMetadata(key string, value any) {
	m.GetMetadata()[key] = value
}

// NewMessage 创建消息，id 为随机 UUID
func NewMessage(messageType string, payload any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      messageType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Metadata:  make(map[string]any),
	}
}
