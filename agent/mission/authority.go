// Package mission holds the agent's view of its mission: the supervisory
// authority it reports to and the directory used to reach other agents.
package mission

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/missionflow/agent/messaging"
)

// PendingInput registers a question waiting on a human answer.
type PendingInput struct {
	RequestID string `json:"requestId"`
	AgentID   string `json:"agentId"`
	MissionID string `json:"missionId"`
	StepID    string `json:"stepId"`
	Question  string `json:"question,omitempty"`
}

// Escalation reports a conflict the agents could not settle themselves.
type Escalation struct {
	ConflictID   string            `json:"conflictId"`
	MissionID    string            `json:"missionId"`
	Participants []string          `json:"participants"`
	Votes        map[string]string `json:"votes"`
	Reason       string            `json:"reason"`
	Deadline     time.Time         `json:"deadline"`
}

// Authority receives registrations and escalations. Returned errors only
// signal delivery failure; there is no actionable response.
type Authority interface {
	RegisterPendingInput(ctx context.Context, req PendingInput) error
	ReportEscalation(ctx context.Context, esc Escalation) error
}

// SinkAuthority reaches the mission authority through the messaging sink.
type SinkAuthority struct {
	sink      messaging.Sink
	recipient string
	sender    string
	logger    *zap.Logger
}

// NewSinkAuthority addresses events to recipient on behalf of sender.
func NewSinkAuthority(sink messaging.Sink, recipient, sender string, logger *zap.Logger) *SinkAuthority {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recipient == "" {
		recipient = "mission_authority"
	}
	return &SinkAuthority{
		sink:      sink,
		recipient: recipient,
		sender:    sender,
		logger:    logger.With(zap.String("component", "mission_authority")),
	}
}

func (a *SinkAuthority) RegisterPendingInput(ctx context.Context, req PendingInput) error {
	ev := messaging.NewEvent(messaging.EventPendingInput, a.recipient, a.sender, req)
	ev.MissionID = req.MissionID
	if err := a.sink.Publish(ctx, ev); err != nil {
		a.logger.Warn("failed to register pending input",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (a *SinkAuthority) ReportEscalation(ctx context.Context, esc Escalation) error {
	ev := messaging.NewEvent(messaging.EventConflictEscalation, a.recipient, a.sender, esc)
	ev.MissionID = esc.MissionID
	if err := a.sink.Publish(ctx, ev); err != nil {
		a.logger.Warn("failed to report escalation",
			zap.String("conflict_id", esc.ConflictID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

var _ Authority = (*SinkAuthority)(nil)
