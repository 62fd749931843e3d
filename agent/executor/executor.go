package executor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/missionflow/agent/classifier"
	"github.com/BaSui01/missionflow/agent/messaging"
	"github.com/BaSui01/missionflow/agent/mission"
	"github.com/BaSui01/missionflow/agent/persistence"
	"github.com/BaSui01/missionflow/agent/plugin"
	"github.com/BaSui01/missionflow/agent/recovery"
	"github.com/BaSui01/missionflow/agent/workproduct"
	"github.com/BaSui01/missionflow/internal/ctxkeys"
	"github.com/BaSui01/missionflow/internal/metrics"
	"github.com/BaSui01/missionflow/types"
	"github.com/BaSui01/missionflow/workflow"
)

const instrumentationName = "github.com/BaSui01/missionflow/agent/executor"

// Config identifies the agent an executor works for.
type Config struct {
	AgentID   string `yaml:"agent_id" json:"agent_id"`
	MissionID string `yaml:"mission_id" json:"mission_id"`
	// StatusRecipient receives step_status events; empty disables them.
	StatusRecipient string `yaml:"status_recipient" json:"status_recipient"`
}

// Executor drives one agent's step graph. All methods that take the step
// list must be called from the agent's single control loop; the executor
// does no locking of its own.
type Executor struct {
	cfg       Config
	plugin    plugin.Executor
	recovery  *recovery.Recovery
	products  *workproduct.Manager
	authority mission.Authority
	events    persistence.DocumentStore
	sink      messaging.Sink
	metrics   *metrics.Collector
	tracer    trace.Tracer
	meters    metric.MeterProvider
	inst      *instruments
	logger    *zap.Logger

	// requestID -> stepID for outstanding external-input requests
	pendingRequests map[string]string
}

// Option 配置 Executor
type Option func(*Executor)

func WithRecovery(r *recovery.Recovery) Option {
	return func(e *Executor) { e.recovery = r }
}

func WithWorkProducts(m *workproduct.Manager) Option {
	return func(e *Executor) { e.products = m }
}

func WithAuthority(a mission.Authority) Option {
	return func(e *Executor) { e.authority = a }
}

// WithEventStore enables the step event log.
func WithEventStore(s persistence.DocumentStore) Option {
	return func(e *Executor) { e.events = s }
}

func WithSink(s messaging.Sink) Option {
	return func(e *Executor) { e.sink = s }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(e *Executor) { e.metrics = c }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithMeterProvider 指定 OTLP 指标来源，默认使用全局 MeterProvider
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Executor) { e.meters = mp }
}

// New creates an executor. One executor per agent.
func New(cfg Config, pluginExec plugin.Executor, logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		cfg:    cfg,
		plugin: pluginExec,
		logger: logger.With(
			zap.String("component", "step_executor"),
			zap.String("agent_id", cfg.AgentID),
		),
		pendingRequests: make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.recovery == nil {
		e.recovery = recovery.New(recovery.Config{AgentID: cfg.AgentID, MissionID: cfg.MissionID}, logger)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(instrumentationName)
	}
	inst, err := newInstruments(e.meters)
	if err != nil {
		e.logger.Warn("otel instruments disabled", zap.Error(err))
	}
	e.inst = inst
	return e
}

// PendingRequests returns the number of outstanding external-input requests.
func (e *Executor) PendingRequests() int {
	return len(e.pendingRequests)
}

// ExecuteStep dispatches a PENDING step to the plugin service and applies
// the outcome. It is a no-op for steps in any other state. Failures are
// expressed as step state, never returned.
func (e *Executor) ExecuteStep(ctx context.Context, step *workflow.Step, steps []*workflow.Step) {
	if step == nil || step.Status != workflow.StatusPending {
		return
	}
	if err := step.Start(); err != nil {
		e.logger.Error("failed to start step", zap.String("step_id", step.ID), zap.Error(err))
		return
	}
	e.recordTransition(ctx, step, workflow.StatusPending, "dispatched", nil)

	ctx, span := e.tracer.Start(ctx, "step.execute", trace.WithAttributes(
		attribute.String("agent.id", e.cfg.AgentID),
		attribute.String("step.id", step.ID),
		attribute.String("step.operation", step.Operation),
		attribute.Int("step.retry_count", step.RetryCount),
	))
	defer span.End()

	ctx = ctxkeys.WithStepID(ctx, step.ID)
	if e.cfg.MissionID != "" {
		ctx = ctxkeys.WithMissionID(ctx, e.cfg.MissionID)
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		ctx = ctxkeys.WithTraceID(ctx, sc.TraceID().String())
	}

	req := &plugin.Request{
		Operation: step.Operation,
		Inputs:    workflow.ResolveInputs(step, steps),
		StepID:    step.ID,
		AgentID:   e.cfg.AgentID,
		MissionID: e.cfg.MissionID,
	}

	start := time.Now()
	outputs, err := e.plugin.Execute(ctx, req)
	if err == nil && len(outputs) == 0 {
		err = types.NewExecutionFaultError("plugin returned an empty result").WithPlugin(step.Operation)
	}
	if err != nil {
		e.recordDispatch(ctx, step.Operation, "error", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.handleFailure(ctx, step, steps, err)
		return
	}

	if pending, ok := pendingInput(outputs); ok {
		e.recordDispatch(ctx, step.Operation, "waiting", time.Since(start))
		e.park(ctx, step, pending)
		return
	}

	e.recordDispatch(ctx, step.Operation, "completed", time.Since(start))
	if err := step.Complete(outputs); err != nil {
		e.logger.Error("failed to complete step", zap.String("step_id", step.ID), zap.Error(err))
		e.handleFailure(ctx, step, steps, err)
		return
	}
	span.SetStatus(codes.Ok, "")
	e.recordTransition(ctx, step, workflow.StatusRunning, "completed", nil)
	e.saveWorkProduct(ctx, step, steps)
	e.CheckAndResumeWaitingSteps(ctx, steps)
}

func pendingInput(outputs []workflow.Output) (workflow.Output, bool) {
	for _, out := range outputs {
		if out.IsPendingInput() {
			return out, true
		}
	}
	return workflow.Output{}, false
}

func (e *Executor) recordDispatch(ctx context.Context, operation, outcome string, d time.Duration) {
	e.metrics.RecordDispatch(operation, outcome, d)
	e.inst.recordDispatch(ctx, e.cfg.AgentID, operation, outcome, d)
}

// park moves a RUNNING step to WAITING on an external answer and registers
// the request with the mission authority.
func (e *Executor) park(ctx context.Context, step *workflow.Step, out workflow.Output) {
	if err := step.Wait(out.RequestID); err != nil {
		e.logger.Error("failed to park step", zap.String("step_id", step.ID), zap.Error(err))
		return
	}
	e.pendingRequests[out.RequestID] = step.ID
	e.inst.addPending(ctx, e.cfg.AgentID, 1)
	e.recordTransition(ctx, step, workflow.StatusRunning, "awaiting input", nil)

	question := out.Description
	if s, ok := out.Result.(string); ok && s != "" {
		question = s
	}
	if e.authority != nil {
		// 通知失败只记录日志, 请求仍然有效
		err := e.authority.RegisterPendingInput(ctx, mission.PendingInput{
			RequestID: out.RequestID,
			AgentID:   e.cfg.AgentID,
			MissionID: e.cfg.MissionID,
			StepID:    step.ID,
			Question:  question,
		})
		if err != nil {
			e.logger.Warn("failed to register pending input",
				zap.String("step_id", step.ID),
				zap.String("request_id", out.RequestID),
				zap.Error(err),
			)
		}
	}
	e.logger.Info("step waiting for input",
		zap.String("step_id", step.ID),
		zap.String("request_id", out.RequestID),
	)
}

// handleFailure classifies err and either requeues/repairs the step or
// marks it ERROR. The step is RUNNING on entry.
func (e *Executor) handleFailure(ctx context.Context, step *workflow.Step, steps []*workflow.Step, err error) {
	diag := classifier.Diagnose(err)
	e.metrics.RecordClassification(string(diag.Category), string(diag.Fault))
	e.logger.Warn("step failed",
		zap.String("step_id", step.ID),
		zap.String("operation", step.Operation),
		zap.String("category", string(diag.Category)),
		zap.String("fault", string(diag.Fault)),
		zap.Bool("tagged", diag.Tagged),
		zap.Int("retry_count", step.RetryCount),
		zap.Int("max_retries", step.MaxRetries),
		zap.Error(err),
	)
	step.LastError = err.Error()
	step.ErrorCode = types.GetErrorCode(err)

	var (
		recovered bool
		reason    string
	)
	switch diag.Category {
	case classifier.Transient:
		reason = "transient retry"
		recovered = step.HasRetryBudget() && step.Retry() == nil
	case classifier.Recoverable:
		reason = "recovered"
		recovered = e.recovery.IntelligentRecovery(ctx, step, steps, diag)
	case classifier.UserInputNeeded:
		reason = "converted to question"
		recovered = e.recovery.ConvertToQuestion(ctx, step, steps, err)
	case classifier.Validation:
		reason = "validation fixed"
		recovered = e.recovery.FixValidation(ctx, step, steps, err)
	}
	if recovered {
		e.recordTransition(ctx, step, workflow.StatusRunning, reason, err)
		return
	}

	if ferr := step.Fail(err); ferr != nil {
		e.logger.Error("failed to mark step as error", zap.String("step_id", step.ID), zap.Error(ferr))
		return
	}
	// 恢复策略可能已判定无法挽回
	step.Permanent = step.Permanent || diag.Category == classifier.Permanent
	e.recordTransition(ctx, step, workflow.StatusRunning, fmt.Sprintf("failed (%s)", diag.Category), err)
	e.CancelUnsatisfiedSteps(ctx, steps)
}

func (e *Executor) saveWorkProduct(ctx context.Context, step *workflow.Step, steps []*workflow.Step) {
	if e.products == nil {
		return
	}
	isEndpoint := workflow.IsEndpoint(step, steps)
	if err := e.products.SaveWorkProductWithClassification(ctx, step.ID, step.Result, isEndpoint, steps); err != nil {
		e.logger.Error("failed to save work product", zap.String("step_id", step.ID), zap.Error(err))
	}
}
