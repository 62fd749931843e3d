package main

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/missionflow/agent/conflict"
	"github.com/BaSui01/missionflow/agent/recovery"
	"github.com/BaSui01/missionflow/config"
	"github.com/BaSui01/missionflow/workflow"
)

// stepEngine 是控制循环驱动步骤图所需的执行器方法
type stepEngine interface {
	ExecuteStep(ctx context.Context, step *workflow.Step, steps []*workflow.Step)
	GetExecutableSteps(steps []*workflow.Step) []*workflow.Step
	HasPendingSteps(steps []*workflow.Step) bool
	CheckAndResumeWaitingSteps(ctx context.Context, steps []*workflow.Step) int
	CancelUnsatisfiedSteps(ctx context.Context, steps []*workflow.Step) int
	HandleUserInputResponse(ctx context.Context, requestID string, answer any, steps []*workflow.Step) bool
	RunProactiveResolution(ctx context.Context, steps []*workflow.Step) *recovery.Report
}

// conflictSweeper 关闭过期冲突
type conflictSweeper interface {
	CheckExpiredConflicts(ctx context.Context) ([]*conflict.Conflict, error)
}

// loopConfig 控制循环的节奏
type loopConfig struct {
	ProactiveInterval time.Duration
	ConflictInterval  time.Duration
	// IdleInterval 是没有可执行步骤时重新检查依赖的间隔
	IdleInterval time.Duration
	// ExitWhenDone 计划没有待处理步骤时让 Run 返回
	ExitWhenDone bool
}

type answerRequest struct {
	requestID string
	value     any
	reply     chan bool
}

// Runner 是智能体的控制循环。步骤图只由 Run 所在的 goroutine 修改，
// HTTP 处理器通过 channel 把答案和快照请求交给它。
type Runner struct {
	steps     []*workflow.Step
	engine    stepEngine
	conflicts conflictSweeper
	cfg       loopConfig
	logger    *zap.Logger

	answers   chan answerRequest
	snapshots chan chan json.RawMessage
	settings  chan config.HotSettings

	done     chan struct{}
	doneOnce sync.Once
}

func newRunner(steps []*workflow.Step, engine stepEngine, conflicts conflictSweeper, cfg loopConfig, logger *zap.Logger) *Runner {
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = 500 * time.Millisecond
	}
	if cfg.ProactiveInterval <= 0 {
		cfg.ProactiveInterval = 30 * time.Second
	}
	if cfg.ConflictInterval <= 0 {
		cfg.ConflictInterval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		steps:     steps,
		engine:    engine,
		conflicts: conflicts,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "control_loop")),
		answers:   make(chan answerRequest),
		snapshots: make(chan chan json.RawMessage),
		settings:  make(chan config.HotSettings, 1),
		done:      make(chan struct{}),
	}
}

// Run drives the plan until ctx is cancelled, or until no step is pending
// when ExitWhenDone is set.
func (r *Runner) Run(ctx context.Context) error {
	proactive := time.NewTicker(r.cfg.ProactiveInterval)
	defer proactive.Stop()
	sweep := time.NewTicker(r.cfg.ConflictInterval)
	defer sweep.Stop()
	idle := time.NewTicker(r.cfg.IdleInterval)
	defer idle.Stop()

	for {
		dispatched := r.advance(ctx)

		if !r.engine.HasPendingSteps(r.steps) {
			r.finish()
			if r.cfg.ExitWhenDone {
				return nil
			}
		}

		// 刚执行过步骤时不等待，先处理已到达的消息再继续推进
		var wake <-chan time.Time = idle.C
		if dispatched > 0 {
			closed := make(chan time.Time)
			close(closed)
			wake = closed
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case a := <-r.answers:
			a.reply <- r.engine.HandleUserInputResponse(ctx, a.requestID, a.value, r.steps)
		case reply := <-r.snapshots:
			reply <- r.snapshot()
		case hs := <-r.settings:
			r.apply(hs, proactive, sweep)
		case <-proactive.C:
			r.proactiveSweep(ctx)
		case <-sweep.C:
			r.conflictSweep(ctx)
		case <-wake:
		}
	}
}

// advance 做一轮调度：取消无法满足的步骤，恢复依赖已就绪的等待步骤，
// 再按顺序执行本轮的候选步骤
func (r *Runner) advance(ctx context.Context) int {
	if n := r.engine.CancelUnsatisfiedSteps(ctx, r.steps); n > 0 {
		r.logger.Info("cancelled unsatisfiable steps", zap.Int("count", n))
	}
	r.engine.CheckAndResumeWaitingSteps(ctx, r.steps)

	candidates := r.engine.GetExecutableSteps(r.steps)
	for _, step := range candidates {
		if ctx.Err() != nil {
			break
		}
		r.engine.ExecuteStep(ctx, step, r.steps)
	}
	return len(candidates)
}

func (r *Runner) proactiveSweep(ctx context.Context) {
	rep := r.engine.RunProactiveResolution(ctx, r.steps)
	if rep == nil {
		return
	}
	if rep.Changed() || len(rep.AutoAnswers) > 0 {
		r.logger.Info("proactive sweep changed the plan",
			zap.Strings("revived", rep.Revived),
			zap.Int("dropped_edges", len(rep.DroppedEdges)),
			zap.Int("steps_with_defaults", len(rep.InjectedDefaults)),
			zap.Int("auto_answers", len(rep.AutoAnswers)))
	}
	if rep.AuthError != "" {
		r.logger.Warn("plugin credentials invalid", zap.String("error", rep.AuthError))
	}
}

func (r *Runner) conflictSweep(ctx context.Context) {
	if r.conflicts == nil {
		return
	}
	closed, err := r.conflicts.CheckExpiredConflicts(ctx)
	if err != nil {
		r.logger.Warn("conflict sweep failed", zap.Error(err))
		return
	}
	for _, c := range closed {
		r.logger.Info("conflict closed at deadline",
			zap.String("conflict_id", c.ID),
			zap.String("status", string(c.Status)),
			zap.String("resolution", c.Resolution))
	}
}

func (r *Runner) apply(hs config.HotSettings, proactive, sweep *time.Ticker) {
	if hs.ProactiveSweepInterval > 0 && hs.ProactiveSweepInterval != r.cfg.ProactiveInterval {
		r.cfg.ProactiveInterval = hs.ProactiveSweepInterval
		proactive.Reset(hs.ProactiveSweepInterval)
	}
	if hs.ConflictSweepInterval > 0 && hs.ConflictSweepInterval != r.cfg.ConflictInterval {
		r.cfg.ConflictInterval = hs.ConflictSweepInterval
		sweep.Reset(hs.ConflictSweepInterval)
	}
	r.logger.Info("sweep intervals updated",
		zap.Duration("proactive", r.cfg.ProactiveInterval),
		zap.Duration("conflict", r.cfg.ConflictInterval))
}

func (r *Runner) snapshot() json.RawMessage {
	data, err := json.Marshal(r.steps)
	if err != nil {
		r.logger.Error("failed to encode steps", zap.Error(err))
		return json.RawMessage("[]")
	}
	return data
}

func (r *Runner) finish() {
	r.doneOnce.Do(func() {
		r.logger.Info("plan has no pending steps")
		close(r.done)
	})
}

// --- 跨 goroutine 入口 ---

// SubmitAnswer hands an external answer to the loop. It reports whether a
// step was waiting on requestID.
func (r *Runner) SubmitAnswer(ctx context.Context, requestID string, value any) (bool, error) {
	req := answerRequest{requestID: requestID, value: value, reply: make(chan bool, 1)}
	select {
	case r.answers <- req:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case ok := <-req.reply:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Snapshot returns the JSON encoding of the step graph as the loop sees it.
func (r *Runner) Snapshot(ctx context.Context) (json.RawMessage, error) {
	reply := make(chan json.RawMessage, 1)
	select {
	case r.snapshots <- reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case data := <-reply:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// UpdateSettings queues new sweep intervals; only the latest pending update
// is kept.
func (r *Runner) UpdateSettings(hs config.HotSettings) {
	for {
		select {
		case r.settings <- hs:
			return
		default:
		}
		select {
		case <-r.settings:
		default:
		}
	}
}

// Done is closed once the plan has no pending steps.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}
