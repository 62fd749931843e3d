package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/missionflow/internal/retry"
)

func TestHub_PointToPointAndBroadcast(t *testing.T) {
	hub := NewHub(4, nil)
	defer hub.Close()

	a := hub.Subscribe("agent-a")
	b := hub.Subscribe("agent-b")
	ctx := context.Background()

	require.NoError(t, hub.Publish(ctx, NewEvent(EventPendingInput, "agent-a", "agent-b", "hi")))
	got := <-a
	assert.Equal(t, EventPendingInput, got.Type)
	assert.NotEmpty(t, got.ID)

	require.NoError(t, hub.Publish(ctx, &Event{Type: EventStepStatus, Recipient: "*", Sender: "agent-a"}))
	select {
	case ev := <-b:
		assert.Equal(t, EventStepStatus, ev.Type)
	default:
		t.Fatal("broadcast not delivered to agent-b")
	}
	assert.Len(t, a, 0, "sender must not receive its own broadcast")

	assert.ErrorIs(t, hub.Publish(ctx, NewEvent(EventStepStatus, "ghost", "", nil)), ErrNoSubscriber)
	assert.ErrorIs(t, hub.Publish(ctx, &Event{}), ErrEmptyRecipient)
}

func TestHub_FullChannelDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(1, nil)
	ch := hub.Subscribe("a")
	ctx := context.Background()

	require.NoError(t, hub.Publish(ctx, NewEvent(EventStepStatus, "a", "", 1)))
	require.NoError(t, hub.Publish(ctx, NewEvent(EventStepStatus, "a", "", 2)))
	assert.Len(t, ch, 1)

	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close())
	assert.ErrorIs(t, hub.Publish(ctx, NewEvent(EventStepStatus, "a", "", 3)), ErrHubClosed)
}

func TestRedisSink_PublishSubscribe(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sink := NewRedisSink(client, "test:", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := sink.Subscribe(ctx, "agent-a")
	require.NoError(t, err)

	require.NoError(t, sink.Publish(ctx, NewEvent(EventWorkProductUpdate, "agent-a", "agent-b",
		map[string]any{"stepId": "s1"})))

	select {
	case ev := <-events:
		assert.Equal(t, EventWorkProductUpdate, ev.Type)
		assert.Equal(t, "agent-b", ev.Sender)
		assert.Equal(t, map[string]any{"stepId": "s1"}, ev.Payload)
	case <-ctx.Done():
		t.Fatal("event not received")
	}
}

func TestWebSocketSink_DeliversToGateway(t *testing.T) {
	received := make(chan Event, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t0k", r.Header.Get("Authorization"))
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		for {
			var ev Event
			if err := wsjson.Read(r.Context(), c, &ev); err != nil {
				return
			}
			received <- ev
		}
	}))
	defer srv.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer t0k")
	sink := NewWebSocketSink("ws"+strings.TrimPrefix(srv.URL, "http"), header,
		&retry.Policy{MaxRetries: 1, InitialDelay: time.Millisecond}, nil)
	defer sink.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, sink.Publish(ctx, NewEvent(EventSharedFilesUpdate, "ui", "agent-a", "files")))
	require.NoError(t, sink.Publish(ctx, NewEvent(EventPendingInput, "ui", "agent-a", "q")))

	for _, want := range []EventType{EventSharedFilesUpdate, EventPendingInput} {
		select {
		case ev := <-received:
			assert.Equal(t, want, ev.Type)
		case <-ctx.Done():
			t.Fatal("gateway did not receive event")
		}
	}
}

func TestWebSocketSink_UnreachableGateway(t *testing.T) {
	sink := NewWebSocketSink("ws://127.0.0.1:1/none", nil,
		&retry.Policy{MaxRetries: 1, InitialDelay: time.Millisecond}, nil)
	err := sink.Publish(context.Background(), NewEvent(EventStepStatus, "ui", "", nil))
	assert.Error(t, err)
}

func TestFanOut_JoinsErrors(t *testing.T) {
	var delivered []string
	ok := SinkFunc(func(ctx context.Context, e *Event) error {
		delivered = append(delivered, e.ID)
		return nil
	})
	boom := errors.New("boom")
	bad := SinkFunc(func(ctx context.Context, e *Event) error { return boom })

	ev := &Event{Type: EventStepStatus, Recipient: "x"}
	err := FanOut{ok, bad, ok}.Publish(context.Background(), ev)

	assert.ErrorIs(t, err, boom)
	assert.Len(t, delivered, 2)
	assert.Equal(t, ev.ID, delivered[0])
}
