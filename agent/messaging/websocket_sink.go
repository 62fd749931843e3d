package messaging

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/missionflow/internal/retry"
)

// WebSocketSink pushes events to a UI gateway over one long-lived
// connection, redialing after a failed write.
type WebSocketSink struct {
	url     string
	header  http.Header
	retryer retry.Retryer
	logger  *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketSink creates a sink for the gateway at url.
func NewWebSocketSink(url string, header http.Header, policy *retry.Policy, logger *zap.Logger) *WebSocketSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketSink{
		url:     url,
		header:  header,
		retryer: retry.NewBackoffRetryer(policy, logger),
		logger:  logger.With(zap.String("component", "websocket_sink")),
	}
}

func (s *WebSocketSink) dial(ctx context.Context) (*websocket.Conn, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	conn, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{HTTPHeader: s.header})
	if err != nil {
		return nil, fmt.Errorf("failed to dial gateway: %w", err)
	}
	s.conn = conn
	return conn, nil
}

// Publish implements Sink.
func (s *WebSocketSink) Publish(ctx context.Context, event *Event) error {
	if event.Recipient == "" {
		return ErrEmptyRecipient
	}
	event.fill()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retryer.Do(ctx, func() error {
		conn, err := s.dial(ctx)
		if err != nil {
			return err
		}
		if err := wsjson.Write(ctx, conn, event); err != nil {
			s.logger.Debug("gateway write failed, redialing", zap.Error(err))
			_ = conn.Close(websocket.StatusGoingAway, "write failed")
			s.conn = nil
			return err
		}
		return nil
	})
}

// Close closes the gateway connection.
func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.conn = nil
	return err
}

var _ Sink = (*WebSocketSink)(nil)
