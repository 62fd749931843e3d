// RecordingSink 与 MockAuthority 记录引擎发出的通知，用于断言。
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/missionflow/agent/messaging"
	"github.com/BaSui01/missionflow/agent/mission"
)

// RecordingSink implements messaging.Sink.
type RecordingSink struct {
	mu     sync.Mutex
	events []*messaging.Event
	// Err is returned by Publish after recording, when set.
	Err error
	// FailFor rejects events addressed to these recipients without
	// recording them.
	FailFor map[string]error
}

// NewRecordingSink 创建新的 RecordingSink
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) Publish(ctx context.Context, ev *messaging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.FailFor[ev.Recipient]; ok {
		return err
	}
	s.events = append(s.events, ev)
	return s.Err
}

// Events returns every recorded event.
func (s *RecordingSink) Events() []*messaging.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*messaging.Event(nil), s.events...)
}

// OfType returns recorded events of one type.
func (s *RecordingSink) OfType(typ messaging.EventType) []*messaging.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*messaging.Event
	for _, ev := range s.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// To returns recorded events addressed to recipient.
func (s *RecordingSink) To(recipient string) []*messaging.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*messaging.Event
	for _, ev := range s.events {
		if ev.Recipient == recipient {
			out = append(out, ev)
		}
	}
	return out
}

// MockAuthority implements mission.Authority.
type MockAuthority struct {
	mu          sync.Mutex
	pending     []mission.PendingInput
	escalations []mission.Escalation
	Err         error
}

// NewMockAuthority 创建新的 MockAuthority
func NewMockAuthority() *MockAuthority {
	return &MockAuthority{}
}

func (a *MockAuthority) RegisterPendingInput(ctx context.Context, req mission.PendingInput) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = append(a.pending, req)
	return a.Err
}

func (a *MockAuthority) ReportEscalation(ctx context.Context, esc mission.Escalation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.escalations = append(a.escalations, esc)
	return a.Err
}

// PendingInputs returns recorded registrations.
func (a *MockAuthority) PendingInputs() []mission.PendingInput {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]mission.PendingInput(nil), a.pending...)
}

// Escalations returns recorded escalations.
func (a *MockAuthority) Escalations() []mission.Escalation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]mission.Escalation(nil), a.escalations...)
}

var (
	_ messaging.Sink    = (*RecordingSink)(nil)
	_ mission.Authority = (*MockAuthority)(nil)
)
