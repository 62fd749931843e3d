// Package messaging delivers engine notifications to named recipients.
//
// Delivery is fire-and-forget from the engine's point of view: callers log
// a failed Publish and carry on.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// EventType 事件类型
type EventType string

const (
	EventWorkProductUpdate  EventType = "work_product_update"
	EventSharedFilesUpdate  EventType = "shared_files_update"
	EventPendingInput       EventType = "pending_input"
	EventConflictResolution EventType = "conflict_resolution"
	EventConflictEscalation EventType = "conflict_escalation"
	EventStepStatus         EventType = "step_status"
)

// Event is one notification.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Recipient string    `json:"recipient"`
	Sender    string    `json:"sender,omitempty"`
	MissionID string    `json:"mission_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent stamps an id and timestamp.
func NewEvent(typ EventType, recipient, sender string, payload any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Recipient: recipient,
		Sender:    sender,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

func (e *Event) fill() {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
}

// Sink publishes events.
type Sink interface {
	Publish(ctx context.Context, event *Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event *Event) error

func (f SinkFunc) Publish(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

var (
	ErrHubClosed      = errors.New("message hub is closed")
	ErrNoSubscriber   = errors.New("no subscriber for recipient")
	ErrEmptyRecipient = errors.New("event recipient is empty")
)

// FanOut publishes to every sink and joins the failures.
type FanOut []Sink

func (f FanOut) Publish(ctx context.Context, event *Event) error {
	event.fill()
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
