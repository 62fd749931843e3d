package recovery

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/missionflow/agent/classifier"
	"github.com/BaSui01/missionflow/agent/persistence"
	"github.com/BaSui01/missionflow/agent/plugin"
	"github.com/BaSui01/missionflow/internal/metrics"
	"github.com/BaSui01/missionflow/types"
	"github.com/BaSui01/missionflow/workflow"
)

// Config configures the recovery strategies.
type Config struct {
	AgentID   string `yaml:"agent_id" json:"agent_id"`
	MissionID string `yaml:"mission_id" json:"mission_id"`
	// UnreachableBackoff is the fixed wait before retrying a step whose
	// service could not be reached.
	UnreachableBackoff time.Duration `yaml:"unreachable_backoff" json:"unreachable_backoff"`
	// QuestionOperation is the operation a step is converted to when it
	// needs a human answer.
	QuestionOperation string `yaml:"question_operation" json:"question_operation"`
	// AutoAnswerConfirmations lets the proactive sweep answer yes/no
	// confirmation questions with "yes". Off by default.
	AutoAnswerConfirmations bool `yaml:"auto_answer_confirmations" json:"auto_answer_confirmations"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		UnreachableBackoff: 2 * time.Second,
		QuestionOperation:  "ASK_USER_QUESTION",
	}
}

// Recovery holds the heuristic repair strategies for failed steps.
type Recovery struct {
	cfg     Config
	audit   persistence.DocumentStore
	auth    plugin.AuthValidator
	metrics *metrics.Collector
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
}

// Option 配置 Recovery
type Option func(*Recovery)

// WithAuditStore records dropped dependency edges.
func WithAuditStore(s persistence.DocumentStore) Option {
	return func(r *Recovery) { r.audit = s }
}

// WithAuthValidator enables credential re-validation in the proactive sweep.
func WithAuthValidator(v plugin.AuthValidator) Option {
	return func(r *Recovery) { r.auth = v }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Recovery) { r.metrics = c }
}

// WithSleep replaces the backoff wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Recovery) { r.sleep = fn }
}

// New creates the recovery strategies for one agent.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Recovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.UnreachableBackoff <= 0 {
		cfg.UnreachableBackoff = def.UnreachableBackoff
	}
	if cfg.QuestionOperation == "" {
		cfg.QuestionOperation = def.QuestionOperation
	}
	r := &Recovery{
		cfg:    cfg,
		sleep:  sleepContext,
		logger: logger.With(zap.String("component", "error_recovery")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// QuestionOperation returns the operation used for interactive steps.
func (r *Recovery) QuestionOperation() string {
	return r.cfg.QuestionOperation
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IntelligentRecovery applies the structural repair for a RECOVERABLE
// failure. It returns true when the step was requeued (PENDING) or parked
// on its dependencies (WAITING); false leaves the step's status untouched
// for the caller to fail, with Permanent set when no retry could help.
func (r *Recovery) IntelligentRecovery(ctx context.Context, step *workflow.Step, steps []*workflow.Step, diag classifier.Diagnosis) bool {
	var (
		strategy string
		ok       bool
	)
	switch diag.Fault {
	case classifier.FaultPlugin:
		strategy = "plugin_fault"
		ok = r.retry(step)
	case classifier.FaultDependency:
		strategy = "dependency"
		ok = r.recoverDependency(step, steps)
	case classifier.FaultServiceUnreachable:
		strategy = "service_unreachable"
		if err := r.sleep(ctx, r.cfg.UnreachableBackoff); err != nil {
			ok = false
			break
		}
		ok = r.retry(step)
	default:
		strategy = "fresh_retry"
		ok = r.retry(step)
	}

	r.metrics.RecordRecovery(strategy, ok)
	r.logger.Info("intelligent recovery",
		zap.String("step_id", step.ID),
		zap.String("strategy", strategy),
		zap.Bool("recovered", ok),
		zap.Int("retry_count", step.RetryCount),
	)
	return ok
}

func (r *Recovery) recoverDependency(step *workflow.Step, steps []*workflow.Step) bool {
	if workflow.IsPermanentlyUnsatisfied(step, steps) {
		step.Permanent = true
		return false
	}
	if !workflow.AreDependenciesSatisfied(step, steps) && step.Status == workflow.StatusRunning {
		// 依赖尚未完成, 挂起等待恢复扫描
		return step.Wait("") == nil
	}
	return r.retry(step)
}

func (r *Recovery) retry(step *workflow.Step) bool {
	if err := step.Retry(); err != nil {
		if !errors.Is(err, workflow.ErrRetryBudgetExhausted) {
			r.logger.Debug("retry rejected", zap.String("step_id", step.ID), zap.Error(err))
		}
		return false
	}
	return true
}

// lastError rebuilds the failure recorded on a step, keeping its tag.
func lastError(step *workflow.Step) error {
	if step.ErrorCode != "" {
		return types.NewError(step.ErrorCode, step.LastError)
	}
	if step.LastError == "" {
		return nil
	}
	return errors.New(step.LastError)
}
