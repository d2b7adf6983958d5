// Package nats 基于 NATS core 发布/订阅的传输层，消息以 JSON 编码。
//
// 记录事件是通知性质的，不需要持久化与确认；需要至少一次语义的部署应在订阅端自行落库。
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"tablecore/logging"
	"tablecore/messaging"
)

// Config NATS 传输配置
type Config struct {
	URL string
	// SubjectPrefix 主题前缀，消息类型拼在其后
	SubjectPrefix string
	// Queue 非空时以队列组订阅，同组只有一个实例收到消息
	Queue  string
	Conn   *nats.Conn
	Logger logging.Logger
}

// Transport 实现 messaging.Transport
type Transport struct {
	cfg      Config
	logger   logging.Logger
	conn     *nats.Conn
	ownsConn bool

	mu       sync.RWMutex
	handlers map[string][]messaging.IMessageHandler
	subs     map[string]*nats.Subscription
	running  bool
}

var _ messaging.Transport = (*Transport)(nil)

// NewTransport 创建传输层，Start 时才建立连接
func NewTransport(cfg Config) *Transport {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "tablecore."
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger().WithFields(logging.String("component", "transport.nats"))
	}
	return &Transport{
		cfg:      cfg,
		logger:   cfg.Logger,
		handlers: make(map[string][]messaging.IMessageHandler),
		subs:     make(map[string]*nats.Subscription),
	}
}

func (t *Transport) Publish(_ context.Context, message messaging.IMessage) error {
	t.mu.RLock()
	conn, running := t.conn, t.running
	t.mu.RUnlock()
	if !running || conn == nil {
		return errors.New("nats transport not running")
	}
	data, err := marshalMessage(message)
	if err != nil {
		return err
	}
	return conn.Publish(t.subject(message.GetType()), data)
}

func (t *Transport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[messageType] = append(t.handlers[messageType], handler)
	if t.running {
		return t.subscribeLocked(messageType)
	}
	return nil
}

func (t *Transport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	handlers := t.handlers[messageType]
	for i, h := range handlers {
		if h == handler {
			t.handlers[messageType] = append(handlers[:i:i], handlers[i+1:]...)
			break
		}
	}
	if len(t.handlers[messageType]) == 0 {
		if sub, ok := t.subs[messageType]; ok {
			_ = sub.Unsubscribe()
			delete(t.subs, messageType)
		}
	}
	return nil
}

func (t *Transport) Start(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.New("nats transport already running")
	}
	if t.cfg.Conn != nil {
		t.conn = t.cfg.Conn
	} else {
		url := t.cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		conn, err := nats.Connect(url, nats.Name("tablecore"))
		if err != nil {
			return err
		}
		t.conn = conn
		t.ownsConn = true
	}
	for mt := range t.handlers {
		if err := t.subscribeLocked(mt); err != nil {
			return err
		}
	}
	t.running = true
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	for mt, sub := range t.subs {
		_ = sub.Drain()
		delete(t.subs, mt)
	}
	if t.ownsConn && t.conn != nil {
		t.conn.Close()
	}
	t.conn = nil
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

func (t *Transport) subscribeLocked(messageType string) error {
	if _, ok := t.subs[messageType]; ok {
		return nil
	}
	var (
		sub *nats.Subscription
		err error
	)
	if t.cfg.Queue != "" {
		sub, err = t.conn.QueueSubscribe(t.subject(messageType), t.cfg.Queue, t.onMessage)
	} else {
		sub, err = t.conn.Subscribe(t.subject(messageType), t.onMessage)
	}
	if err != nil {
		return err
	}
	t.subs[messageType] = sub
	return nil
}

func (t *Transport) onMessage(msg *nats.Msg) {
	ctx := context.Background()
	decoded, err := unmarshalMessage(msg.Data)
	if err != nil {
		t.logger.Warn(ctx, "丢弃无法解码的消息", logging.String("subject", msg.Subject), logging.Error(err))
		return
	}
	t.mu.RLock()
	handlers := append([]messaging.IMessageHandler(nil), t.handlers[decoded.GetType()]...)
	t.mu.RUnlock()

	for _, h := range handlers {
		if err := h.Handle(ctx, decoded); err != nil {
			t.logger.Warn(ctx, "消息处理失败",
				logging.String("handler", h.Type()),
				logging.String("message_id", decoded.GetID()),
				logging.Error(err))
		}
	}
}

func (t *Transport) subject(messageType string) string {
	return t.cfg.SubjectPrefix + messageType
}

type wireMessage struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

func marshalMessage(msg messaging.IMessage) ([]byte, error) {
	payload, err := json.Marshal(msg.GetPayload())
	if err != nil {
		return nil, err
	}
	ts := msg.GetTimestamp()
	if ts.IsZero() {
		ts = time.Now()
	}
	return json.Marshal(wireMessage{
		ID:        msg.GetID(),
		Type:      msg.GetType(),
		Timestamp: ts.UnixNano(),
		Payload:   payload,
		Metadata:  msg.GetMetadata(),
	})
}

func unmarshalMessage(data []byte) (*messaging.Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	var payload any
	if len(wire.Payload) > 0 {
		if err := json.Unmarshal(wire.Payload, &payload); err != nil {
			return nil, err
		}
	}
	return &messaging.Message{
		ID:        wire.ID,
		Type:      wire.Type,
		Timestamp: time.Unix(0, wire.Timestamp).UTC(),
		Payload:   payload,
		Metadata:  wire.Metadata,
	}, nil
}
