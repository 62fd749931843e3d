package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSink publishes events on a pub/sub channel per recipient.
type RedisSink struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

// NewRedisSink creates a sink publishing to "<prefix>events:<recipient>".
func NewRedisSink(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "missionflow:"
	}
	return &RedisSink{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("component", "redis_sink")),
	}
}

func (s *RedisSink) channel(recipient string) string {
	return s.prefix + "events:" + recipient
}

// Publish implements Sink.
func (s *RedisSink) Publish(ctx context.Context, event *Event) error {
	if event.Recipient == "" {
		return ErrEmptyRecipient
	}
	event.fill()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	receivers, err := s.client.Publish(ctx, s.channel(event.Recipient), data).Result()
	if err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.ID, err)
	}
	if receivers == 0 {
		s.logger.Debug("event published without receivers",
			zap.String("to", event.Recipient),
			zap.String("type", string(event.Type)),
		)
	}
	return nil
}

// Subscribe streams events for recipient until ctx is done. Payloads arrive
// as generic JSON values.
func (s *RedisSink) Subscribe(ctx context.Context, recipient string) (<-chan *Event, error) {
	sub := s.client.Subscribe(ctx, s.channel(recipient))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan *Event)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					s.logger.Warn("dropping malformed event", zap.Error(err))
					continue
				}
				select {
				case out <- &event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var _ Sink = (*RedisSink)(nil)
