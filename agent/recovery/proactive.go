package recovery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/missionflow/agent/classifier"
	"github.com/BaSui01/missionflow/agent/persistence"
	"github.com/BaSui01/missionflow/workflow"
)

// defaultInputs maps operation kinds to the input a planner most often
// omits. The value is taken from the step description.
var defaultInputs = map[string]string{
	"SEARCH":            "searchTerm",
	"ASK_USER_QUESTION": "question",
	"THINK":             "prompt",
	"GENERATE":          "prompt",
	"CHAT":              "message",
}

// AutoAnswer is a confirmation the sweep decided to answer.
type AutoAnswer struct {
	StepID    string `json:"stepId"`
	RequestID string `json:"requestId"`
	Answer    string `json:"answer"`
}

// Report summarizes one proactive sweep.
type Report struct {
	Revived          []string               `json:"revived,omitempty"`
	DroppedEdges     []workflow.DroppedEdge `json:"droppedEdges,omitempty"`
	InjectedDefaults map[string][]string    `json:"injectedDefaults,omitempty"`
	AuthChecked      bool                   `json:"authChecked"`
	AuthError        string                 `json:"authError,omitempty"`
	// AutoAnswers are applied by the executor, which owns pending requests.
	AutoAnswers []AutoAnswer `json:"autoAnswers,omitempty"`
}

// Changed reports whether the sweep mutated the graph.
func (rep *Report) Changed() bool {
	return len(rep.Revived) > 0 || len(rep.DroppedEdges) > 0 || len(rep.InjectedDefaults) > 0
}

// AuditRecord is the persisted trace of a dropped dependency edge.
type AuditRecord struct {
	ID           string    `json:"id"`
	AgentID      string    `json:"agentId"`
	MissionID    string    `json:"missionId"`
	StepID       string    `json:"stepId"`
	SourceStepID string    `json:"sourceStepId"`
	OutputName   string    `json:"outputName"`
	Cycle        []string  `json:"cycle"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ProactiveErrorResolution sweeps the whole graph independently of any
// single failure:
//  1. revive ERROR steps that still have budget
//  2. break dependency cycles, auditing every dropped edge
//  3. inject default inputs for PENDING steps of known operation kinds
//  4. re-validate plugin credentials
//  5. pick yes/no confirmations to auto-answer (opt-in)
func (r *Recovery) ProactiveErrorResolution(ctx context.Context, steps []*workflow.Step) *Report {
	rep := &Report{}

	r.reviveErrored(ctx, steps, rep)
	r.breakCycles(ctx, steps, rep)
	r.injectDefaults(steps, rep)
	r.checkAuth(ctx, rep)
	if r.cfg.AutoAnswerConfirmations {
		r.collectAutoAnswers(steps, rep)
	}

	if rep.Changed() || rep.AuthError != "" || len(rep.AutoAnswers) > 0 {
		r.logger.Info("proactive resolution",
			zap.Strings("revived", rep.Revived),
			zap.Int("dropped_edges", len(rep.DroppedEdges)),
			zap.Int("injected_defaults", len(rep.InjectedDefaults)),
			zap.Int("auto_answers", len(rep.AutoAnswers)),
		)
	}
	return rep
}

func (r *Recovery) reviveErrored(ctx context.Context, steps []*workflow.Step, rep *Report) {
	for _, step := range steps {
		if step.Status != workflow.StatusError || step.IsDeadEnd() {
			continue
		}
		err := lastError(step)
		diag := classifier.Diagnose(err)

		var ok bool
		switch diag.Category {
		case classifier.Transient:
			ok = r.retry(step)
			r.metrics.RecordRecovery("proactive_retry", ok)
		case classifier.Recoverable:
			ok = r.IntelligentRecovery(ctx, step, steps, diag)
		case classifier.Validation:
			ok = r.FixValidation(ctx, step, steps, err)
		case classifier.UserInputNeeded:
			ok = r.ConvertToQuestion(ctx, step, steps, err)
		default:
			// PERMANENT 不自动重试
		}
		if ok {
			rep.Revived = append(rep.Revived, step.ID)
		}
	}
}

func (r *Recovery) breakCycles(ctx context.Context, steps []*workflow.Step, rep *Report) {
	limit := 0
	for _, s := range steps {
		limit += len(s.Dependencies)
	}
	for i := 0; i < limit; i++ {
		edge, ok := workflow.BreakCycle(steps)
		if !ok {
			return
		}
		rep.DroppedEdges = append(rep.DroppedEdges, edge)
		r.metrics.RecordDroppedEdge()
		r.logger.Warn("dropped dependency edge to break cycle",
			zap.String("step_id", edge.StepID),
			zap.String("source_step_id", edge.Dependency.SourceStepID),
			zap.String("output_name", edge.Dependency.OutputName),
			zap.Strings("cycle", edge.Cycle),
		)
		r.recordAudit(ctx, edge)
	}
}

func (r *Recovery) recordAudit(ctx context.Context, edge workflow.DroppedEdge) {
	if r.audit == nil {
		return
	}
	rec := AuditRecord{
		ID:           uuid.New().String(),
		AgentID:      r.cfg.AgentID,
		MissionID:    r.cfg.MissionID,
		StepID:       edge.StepID,
		SourceStepID: edge.Dependency.SourceStepID,
		OutputName:   edge.Dependency.OutputName,
		Cycle:        edge.Cycle,
		Reason:       "circular dependency",
		CreatedAt:    time.Now(),
	}
	doc, err := persistence.NewDocument(persistence.CollectionDependencyAudit, rec.ID, rec)
	if err == nil {
		err = r.audit.Save(ctx, doc)
	}
	if err != nil {
		r.logger.Error("failed to record dependency audit", zap.String("step_id", edge.StepID), zap.Error(err))
	}
}

func (r *Recovery) injectDefaults(steps []*workflow.Step, rep *Report) {
	for _, step := range steps {
		if step.Status != workflow.StatusPending || step.Description == "" {
			continue
		}
		name, known := defaultInputs[step.Operation]
		if !known {
			continue
		}
		if _, ok := step.Inputs[name]; ok {
			continue
		}
		bound := false
		for _, dep := range step.Dependencies {
			if dep.Input() == name {
				bound = true
				break
			}
		}
		if bound {
			continue
		}
		step.SetInput(name, step.Description, "string")
		if rep.InjectedDefaults == nil {
			rep.InjectedDefaults = make(map[string][]string)
		}
		rep.InjectedDefaults[step.ID] = append(rep.InjectedDefaults[step.ID], name)
		r.logger.Debug("injected default input", zap.String("step_id", step.ID), zap.String("input", name))
	}
}

func (r *Recovery) checkAuth(ctx context.Context, rep *Report) {
	if r.auth == nil {
		return
	}
	rep.AuthChecked = true
	if err := r.auth.ValidateAuth(ctx); err != nil {
		rep.AuthError = err.Error()
		r.logger.Warn("plugin credential validation failed", zap.Error(err))
	}
}

func (r *Recovery) collectAutoAnswers(steps []*workflow.Step, rep *Report) {
	for _, step := range steps {
		if step.Status != workflow.StatusWaiting || step.RequestID == "" {
			continue
		}
		if step.Operation != r.cfg.QuestionOperation {
			continue
		}
		if !IsConfirmationQuestion(questionText(step)) {
			continue
		}
		rep.AutoAnswers = append(rep.AutoAnswers, AutoAnswer{
			StepID:    step.ID,
			RequestID: step.RequestID,
			Answer:    "yes",
		})
	}
}
