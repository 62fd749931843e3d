package main

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/missionflow/agent/conflict"
	"github.com/BaSui01/missionflow/agent/executor"
	"github.com/BaSui01/missionflow/agent/recovery"
	"github.com/BaSui01/missionflow/config"
	"github.com/BaSui01/missionflow/testutil"
	"github.com/BaSui01/missionflow/testutil/fixtures"
	"github.com/BaSui01/missionflow/testutil/mocks"
	"github.com/BaSui01/missionflow/workflow"
)

func fastLoop(exit bool) loopConfig {
	return loopConfig{
		ProactiveInterval: time.Hour,
		ConflictInterval:  time.Hour,
		IdleInterval:      5 * time.Millisecond,
		ExitWhenDone:      exit,
	}
}

func startRunner(t *testing.T, r *Runner) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("control loop did not stop")
		return nil
	}
}

// snapshotSteps 可在 Eventually 的条件函数中调用，失败时返回 nil
func snapshotSteps(ctx context.Context, r *Runner) []workflow.Step {
	data, err := r.Snapshot(ctx)
	if err != nil {
		return nil
	}
	var steps []workflow.Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil
	}
	return steps
}

func TestRunner_CompletesPlanAndExits(t *testing.T) {
	p := mocks.NewMockPlugin().
		OnStep("s1", mocks.Text("report", "raw")).
		OnStep("s2", mocks.Text("summary", "short"))
	exec := executor.New(executor.Config{AgentID: "agent-1", MissionID: "m1"}, p, zaptest.NewLogger(t))
	steps := fixtures.Graph(
		fixtures.Step("s1", "SEARCH"),
		fixtures.Step("s2", "SUMMARIZE", fixtures.Dep("s1", "report")),
	)

	r := newRunner(steps, exec, nil, fastLoop(true), zaptest.NewLogger(t))
	_, done := startRunner(t, r)

	require.NoError(t, waitRun(t, done))
	testutil.AssertStepStatus(t, steps, "s1", workflow.StatusCompleted)
	testutil.AssertStepStatus(t, steps, "s2", workflow.StatusCompleted)
	assert.Equal(t, "raw", p.Calls()[1].Inputs["report"])

	select {
	case <-r.Done():
	default:
		t.Fatal("Done must be closed once nothing is pending")
	}
}

func TestRunner_UnsatisfiableStepsAreCancelled(t *testing.T) {
	p := mocks.NewMockPlugin().OnStep("s1", mocks.Text("other", "x"))
	exec := executor.New(executor.Config{AgentID: "agent-1"}, p, zaptest.NewLogger(t))
	steps := fixtures.Graph(
		fixtures.Step("s1", "SEARCH"),
		fixtures.Step("s2", "SUMMARIZE", fixtures.Dep("s1", "report")),
	)

	r := newRunner(steps, exec, nil, fastLoop(true), zaptest.NewLogger(t))
	_, done := startRunner(t, r)

	require.NoError(t, waitRun(t, done))
	testutil.AssertStepStatus(t, steps, "s2", workflow.StatusCancelled)
}

func TestRunner_AnswersArriveThroughTheLoop(t *testing.T) {
	p := mocks.NewMockPlugin().
		OnStep("s1", mocks.AskUser("req-1", "Which city?")).
		OnStep("s2", mocks.Text("forecast", "sunny"))
	exec := executor.New(executor.Config{AgentID: "agent-1"}, p, zaptest.NewLogger(t),
		executor.WithAuthority(mocks.NewMockAuthority()))

	s1 := fixtures.Step("s1", "ASK_USER_QUESTION")
	s1.OutputNames = []string{"city"}
	steps := fixtures.Graph(s1, fixtures.Step("s2", "WEATHER", fixtures.Dep("s1", "city")))

	r := newRunner(steps, exec, nil, fastLoop(true), zaptest.NewLogger(t))
	_, done := startRunner(t, r)

	ctx := testutil.TestContext(t)
	require.Eventually(t, func() bool {
		snap := snapshotSteps(ctx, r)
		return len(snap) == 2 && snap[0].Status == workflow.StatusWaiting
	}, 2*time.Second, 10*time.Millisecond)

	ok, err := r.SubmitAnswer(ctx, "req-unknown", "Paris")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.SubmitAnswer(ctx, "req-1", "Paris")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, waitRun(t, done))
	testutil.AssertStepStatus(t, steps, "s2", workflow.StatusCompleted)
	assert.Equal(t, "Paris", p.Calls()[1].Inputs["city"])
}

func TestRunner_SubmitAnswerHonoursContext(t *testing.T) {
	r := newRunner(nil, nil, nil, fastLoop(false), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.SubmitAnswer(ctx, "req-1", "x")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = r.Snapshot(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// idleEngine 永远有待处理步骤但没有可执行步骤，只统计扫描次数
type idleEngine struct {
	proactive atomic.Int32
}

func (e *idleEngine) ExecuteStep(context.Context, *workflow.Step, []*workflow.Step) {}

func (e *idleEngine) GetExecutableSteps([]*workflow.Step) []*workflow.Step { return nil }

func (e *idleEngine) HasPendingSteps([]*workflow.Step) bool { return true }

func (e *idleEngine) CheckAndResumeWaitingSteps(context.Context, []*workflow.Step) int { return 0 }

func (e *idleEngine) CancelUnsatisfiedSteps(context.Context, []*workflow.Step) int { return 0 }

func (e *idleEngine) HandleUserInputResponse(context.Context, string, any, []*workflow.Step) bool {
	return false
}

func (e *idleEngine) RunProactiveResolution(context.Context, []*workflow.Step) *recovery.Report {
	e.proactive.Add(1)
	return &recovery.Report{Revived: []string{"s1"}}
}

type countingSweeper struct {
	calls atomic.Int32
}

func (s *countingSweeper) CheckExpiredConflicts(context.Context) ([]*conflict.Conflict, error) {
	s.calls.Add(1)
	return []*conflict.Conflict{{ID: "c1", Status: conflict.StatusEscalated}}, nil
}

func TestRunner_PeriodicSweeps(t *testing.T) {
	engine := &idleEngine{}
	sweeper := &countingSweeper{}
	cfg := fastLoop(false)
	cfg.ProactiveInterval = 10 * time.Millisecond
	cfg.ConflictInterval = 10 * time.Millisecond

	r := newRunner(nil, engine, sweeper, cfg, zaptest.NewLogger(t))
	cancel, done := startRunner(t, r)

	require.Eventually(t, func() bool {
		return engine.proactive.Load() >= 2 && sweeper.calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, waitRun(t, done), context.Canceled)
}

func TestRunner_UpdateSettingsResetsTickers(t *testing.T) {
	engine := &idleEngine{}
	r := newRunner(nil, engine, nil, fastLoop(false), zaptest.NewLogger(t))

	// 只保留最后一次更新
	r.UpdateSettings(config.HotSettings{ProactiveSweepInterval: time.Minute})
	r.UpdateSettings(config.HotSettings{ProactiveSweepInterval: 10 * time.Millisecond, ConflictSweepInterval: time.Hour})
	require.Len(t, r.settings, 1)

	_, done := startRunner(t, r)
	require.Eventually(t, func() bool {
		return engine.proactive.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("loop stopped early: %v", err)
	default:
	}
}
