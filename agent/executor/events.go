package executor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/missionflow/agent/messaging"
	"github.com/BaSui01/missionflow/agent/persistence"
	"github.com/BaSui01/missionflow/types"
	"github.com/BaSui01/missionflow/workflow"
)

// StepEvent is one entry of the step event log.
type StepEvent struct {
	ID         string              `json:"id"`
	AgentID    string              `json:"agentId"`
	MissionID  string              `json:"missionId,omitempty"`
	StepID     string              `json:"stepId"`
	Operation  string              `json:"operation"`
	From       workflow.StepStatus `json:"from"`
	To         workflow.StepStatus `json:"to"`
	Reason     string              `json:"reason,omitempty"`
	Error      string              `json:"error,omitempty"`
	ErrorCode  types.ErrorCode     `json:"errorCode,omitempty"`
	RetryCount int                 `json:"retryCount"`
	Timestamp  time.Time           `json:"timestamp"`
}

func (e *Executor) recordTransition(ctx context.Context, step *workflow.Step, from workflow.StepStatus, reason string, cause error) {
	e.metrics.RecordStepTransition(e.cfg.AgentID, string(from), string(step.Status))

	ev := StepEvent{
		ID:         uuid.New().String(),
		AgentID:    e.cfg.AgentID,
		MissionID:  e.cfg.MissionID,
		StepID:     step.ID,
		Operation:  step.Operation,
		From:       from,
		To:         step.Status,
		Reason:     reason,
		RetryCount: step.RetryCount,
		Timestamp:  time.Now(),
	}
	if cause != nil {
		ev.Error = cause.Error()
		ev.ErrorCode = types.GetErrorCode(cause)
	}

	if e.events != nil {
		doc, err := persistence.NewDocument(persistence.CollectionStepEvents, ev.ID, ev)
		if err == nil {
			err = e.events.Save(ctx, doc)
		}
		if err != nil {
			e.logger.Warn("failed to record step event", zap.String("step_id", step.ID), zap.Error(err))
		}
	}

	if e.sink != nil && e.cfg.StatusRecipient != "" {
		msg := messaging.NewEvent(messaging.EventStepStatus, e.cfg.StatusRecipient, e.cfg.AgentID, ev)
		msg.MissionID = e.cfg.MissionID
		if err := e.sink.Publish(ctx, msg); err != nil {
			e.logger.Debug("failed to publish step status", zap.String("step_id", step.ID), zap.Error(err))
		}
	}
}

// StepHistory returns the logged events of a step, oldest first.
func (e *Executor) StepHistory(ctx context.Context, stepID string) ([]StepEvent, error) {
	if e.events == nil {
		return nil, nil
	}
	docs, err := e.events.Query(ctx, persistence.CollectionStepEvents, "stepId", stepID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step events: %w", err)
	}
	out := make([]StepEvent, 0, len(docs))
	for _, doc := range docs {
		var ev StepEvent
		if err := doc.Decode(&ev); err != nil {
			continue
		}
		if ev.AgentID != e.cfg.AgentID {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// ErrorHistory returns only the events that carried an error.
func (e *Executor) ErrorHistory(ctx context.Context, stepID string) ([]StepEvent, error) {
	all, err := e.StepHistory(ctx, stepID)
	if err != nil {
		return nil, err
	}
	var out []StepEvent
	for _, ev := range all {
		if ev.Error != "" {
			out = append(out, ev)
		}
	}
	return out, nil
}
