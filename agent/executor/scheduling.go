package executor

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/missionflow/agent/recovery"
	"github.com/BaSui01/missionflow/workflow"
)

// GetExecutableSteps returns PENDING steps whose dependencies are
// satisfied. How many of them run at once is the caller's decision.
func (e *Executor) GetExecutableSteps(steps []*workflow.Step) []*workflow.Step {
	var ready []*workflow.Step
	for _, s := range steps {
		if s.Status == workflow.StatusPending && workflow.AreDependenciesSatisfied(s, steps) {
			ready = append(ready, s)
		}
	}
	return ready
}

// HasPendingSteps reports whether any step can still make progress.
func (e *Executor) HasPendingSteps(steps []*workflow.Step) bool {
	for _, s := range steps {
		switch s.Status {
		case workflow.StatusPending, workflow.StatusRunning, workflow.StatusWaiting:
			return true
		}
	}
	return false
}

// CheckAndResumeWaitingSteps requeues steps parked on dependencies that
// are now satisfied. Steps waiting on an external answer are left alone.
func (e *Executor) CheckAndResumeWaitingSteps(ctx context.Context, steps []*workflow.Step) int {
	resumed := 0
	for _, s := range steps {
		if s.Status != workflow.StatusWaiting || s.RequestID != "" {
			continue
		}
		if !workflow.AreDependenciesSatisfied(s, steps) {
			continue
		}
		if err := s.Resume(); err != nil {
			e.logger.Error("failed to resume step", zap.String("step_id", s.ID), zap.Error(err))
			continue
		}
		e.recordTransition(ctx, s, workflow.StatusWaiting, "dependencies satisfied", nil)
		resumed++
	}
	return resumed
}

// CancelUnsatisfiedSteps cancels PENDING steps (and steps parked on
// dependencies) whose dependencies can never be satisfied, repeating until
// nothing changes so cancellation reaches every transitive dependent.
func (e *Executor) CancelUnsatisfiedSteps(ctx context.Context, steps []*workflow.Step) int {
	total := 0
	for {
		n := 0
		for _, s := range steps {
			if !e.cancellable(s) || !workflow.IsPermanentlyUnsatisfied(s, steps) {
				continue
			}
			from := s.Status
			if from == workflow.StatusWaiting {
				if err := s.Resume(); err != nil {
					continue
				}
			}
			if err := s.Cancel("dependencies permanently unsatisfied"); err != nil {
				e.logger.Error("failed to cancel step", zap.String("step_id", s.ID), zap.Error(err))
				continue
			}
			e.recordTransition(ctx, s, from, "dependencies permanently unsatisfied", nil)
			n++
		}
		total += n
		if n == 0 {
			return total
		}
	}
}

func (e *Executor) cancellable(s *workflow.Step) bool {
	return s.Status == workflow.StatusPending ||
		(s.Status == workflow.StatusWaiting && s.RequestID == "")
}

// HandleUserInputResponse completes the step waiting on requestID with
// answer. It returns false, touching nothing, when no step is waiting on
// that request.
func (e *Executor) HandleUserInputResponse(ctx context.Context, requestID string, answer any, steps []*workflow.Step) bool {
	if requestID == "" || answer == nil {
		return false
	}

	var step *workflow.Step
	if id, ok := e.pendingRequests[requestID]; ok {
		step = workflow.FindStep(steps, id)
	}
	if step == nil {
		// 重启后 pendingRequests 为空, 回退到按 RequestID 扫描
		for _, s := range steps {
			if s.RequestID == requestID {
				step = s
				break
			}
		}
	}
	if step == nil || step.Status != workflow.StatusWaiting || step.RequestID != requestID {
		e.logger.Debug("no step waiting for request", zap.String("request_id", requestID))
		return false
	}

	out := workflow.Output{Name: step.FirstOutputName(), Result: answer}
	if _, isText := answer.(string); isText {
		out.Type = workflow.OutputTypeText
	} else {
		out.Type = workflow.OutputTypeJSON
	}
	if err := step.Complete([]workflow.Output{out}); err != nil {
		e.logger.Error("failed to complete step with answer", zap.String("step_id", step.ID), zap.Error(err))
		return false
	}
	if _, tracked := e.pendingRequests[requestID]; tracked {
		delete(e.pendingRequests, requestID)
		e.inst.addPending(ctx, e.cfg.AgentID, -1)
	}

	e.logger.Info("user input received", zap.String("step_id", step.ID), zap.String("request_id", requestID))
	e.recordTransition(ctx, step, workflow.StatusWaiting, "answered", nil)
	e.saveWorkProduct(ctx, step, steps)
	e.CheckAndResumeWaitingSteps(ctx, steps)
	return true
}

// RunProactiveResolution runs the recovery sweep over the graph, applies
// any auto-answers it picked and propagates the resulting state.
func (e *Executor) RunProactiveResolution(ctx context.Context, steps []*workflow.Step) *recovery.Report {
	before := make(map[string]workflow.StepStatus, len(steps))
	for _, s := range steps {
		before[s.ID] = s.Status
	}

	rep := e.recovery.ProactiveErrorResolution(ctx, steps)

	for _, id := range rep.Revived {
		if s := workflow.FindStep(steps, id); s != nil {
			e.recordTransition(ctx, s, before[id], "proactive recovery", nil)
		}
	}
	for _, aa := range rep.AutoAnswers {
		if e.HandleUserInputResponse(ctx, aa.RequestID, aa.Answer, steps) {
			e.logger.Warn("confirmation auto-answered",
				zap.String("step_id", aa.StepID),
				zap.String("answer", aa.Answer),
			)
		}
	}

	e.CancelUnsatisfiedSteps(ctx, steps)
	e.CheckAndResumeWaitingSteps(ctx, steps)
	return rep
}
