package messaging

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Hub 进程内消息中心
// 每个接收者一个带缓冲的通道，满时丢弃并记录
type Hub struct {
	channels  map[string]chan *Event
	buffer    int
	mu        sync.RWMutex
	logger    *zap.Logger
	closed    bool
	closeOnce sync.Once
}

// NewHub 创建消息中心
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 100
	}
	return &Hub{
		channels: make(map[string]chan *Event),
		buffer:   buffer,
		logger:   logger.With(zap.String("component", "message_hub")),
	}
}

// Subscribe returns the channel for recipient, creating it on first use.
func (h *Hub) Subscribe(recipient string) <-chan *Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[recipient]
	if !ok {
		ch = make(chan *Event, h.buffer)
		h.channels[recipient] = ch
	}
	return ch
}

// Publish 投递消息；Recipient 为 "*" 时广播
func (h *Hub) Publish(ctx context.Context, event *Event) error {
	if event.Recipient == "" {
		return ErrEmptyRecipient
	}
	event.fill()

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrHubClosed
	}

	if event.Recipient == "*" {
		for id, ch := range h.channels {
			if id != event.Sender {
				h.deliver(id, ch, event)
			}
		}
		return nil
	}

	ch, ok := h.channels[event.Recipient]
	if !ok {
		return ErrNoSubscriber
	}
	h.deliver(event.Recipient, ch, event)
	return nil
}

func (h *Hub) deliver(recipient string, ch chan *Event, event *Event) {
	select {
	case ch <- event:
	default:
		h.logger.Warn("channel full, event dropped",
			zap.String("to", recipient),
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
		)
	}
}

// Close 关闭消息中心
func (h *Hub) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		h.closed = true
		for _, ch := range h.channels {
			close(ch)
		}
	})
	return nil
}

var _ Sink = (*Hub)(nil)
