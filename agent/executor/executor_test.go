package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/missionflow/agent/messaging"
	"github.com/BaSui01/missionflow/agent/persistence"
	"github.com/BaSui01/missionflow/agent/plugin"
	"github.com/BaSui01/missionflow/agent/recovery"
	"github.com/BaSui01/missionflow/agent/workproduct"
	"github.com/BaSui01/missionflow/internal/ctxkeys"
	"github.com/BaSui01/missionflow/testutil"
	"github.com/BaSui01/missionflow/testutil/fixtures"
	"github.com/BaSui01/missionflow/testutil/mocks"
	"github.com/BaSui01/missionflow/types"
	"github.com/BaSui01/missionflow/workflow"
)

func newTestExecutor(t *testing.T, p plugin.Executor, opts ...Option) *Executor {
	t.Helper()
	return New(Config{AgentID: "agent-1", MissionID: "mission-1"}, p, zaptest.NewLogger(t), opts...)
}

// drive runs the control loop until nothing is executable.
func drive(ctx context.Context, e *Executor, steps []*workflow.Step) {
	for i := 0; i < 100; i++ {
		ready := e.GetExecutableSteps(steps)
		if len(ready) == 0 {
			return
		}
		for _, s := range ready {
			e.ExecuteStep(ctx, s, steps)
		}
	}
}

func TestExecuteStep_TransientFailuresRetryThenComplete(t *testing.T) {
	ctx := testutil.TestContext(t)
	p := mocks.NewMockPlugin().OnStep("s1",
		mocks.Fail(types.NewExecutionFaultError("worker crashed")),
		mocks.Fail(types.NewExecutionFaultError("worker crashed")),
		mocks.Text("report", "done"),
	)
	e := newTestExecutor(t, p)
	steps := fixtures.Graph(fixtures.Step("s1", "SEARCH"))

	drive(ctx, e, steps)

	testutil.AssertStepStatus(t, steps, "s1", workflow.StatusCompleted)
	assert.Equal(t, 2, steps[0].RetryCount)
	assert.Equal(t, 3, p.CallCount("s1"))
	assert.Empty(t, steps[0].LastError)
	assert.Empty(t, steps[0].ErrorCode)
}

func TestExecuteStep_ExecutionFaultExhaustsBudget(t *testing.T) {
	ctx := testutil.TestContext(t)
	p := mocks.NewMockPlugin().OnStep("s1", mocks.Fail(types.NewExecutionFaultError("worker crashed")))
	e := newTestExecutor(t, p)
	steps := fixtures.Graph(fixtures.Step("s1", "SEARCH"))

	drive(ctx, e, steps)

	s1 := steps[0]
	testutil.AssertStepStatus(t, steps, "s1", workflow.StatusError)
	assert.Equal(t, fixtures.DefaultMaxRetries, s1.RetryCount)
	assert.Equal(t, fixtures.DefaultMaxRetries+1, p.CallCount("s1"))
	assert.Equal(t, types.ErrExecutionFault, s1.ErrorCode)
	assert.Contains(t, s1.LastError, "worker crashed")
	assert.False(t, s1.Permanent)
}

func TestExecuteStep_BadInputIsTerminalAndCancelsDependents(t *testing.T) {
	ctx := testutil.TestContext(t)
	p := mocks.NewMockPlugin().OnStep("s1", mocks.Fail(types.NewBadInputError("unknown operation")))
	e := newTestExecutor(t, p)
	steps := fixtures.Chain("SEARCH", 3)

	drive(ctx, e, steps)

	testutil.AssertStepStatus(t, steps, "s1", workflow.StatusError)
	testutil.AssertStepStatus(t, steps, "s2", workflow.StatusCancelled)
	testutil.AssertStepStatus(t, steps, "s3", workflow.StatusCancelled)
	assert.Equal(t, 1, p.CallCount("s1"))
	assert.Zero(t, steps[0].RetryCount)
	assert.True(t, steps[0].Permanent)
	assert.False(t, e.HasPendingSteps(steps))
}

func TestExecuteStep_EmptyResultIsAFault(t *testing.T) {
	ctx := testutil.TestContext(t)
	p := mocks.NewMockPlugin().OnStep("s1", mocks.Ok(), mocks.Text("result", "ok"))
	e := newTestExecutor(t, p)
	steps := fixtures.Graph(fixtures.Step("s1", "GENERATE"))

	drive(ctx, e, steps)

	testutil.AssertStepStatus(t, steps, "s1", workflow.StatusCompleted)
	assert.Equal(t, 1, steps[0].RetryCount)
}

func TestExecuteStep_IgnoresNonPendingSteps(t *testing.T) {
	p := mocks.NewMockPlugin()
	e := newTestExecutor(t, p)
	done := fixtures.Completed("s1", "result")

	e.ExecuteStep(context.Background(), done, []*workflow.Step{done})
	e.ExecuteStep(context.Background(), nil, nil)

	assert.Empty(t, p.Calls())
	assert.Equal(t, workflow.StatusCompleted, done.Status)
}

func TestGetExecutableSteps_WaitsForNamedOutput(t *testing.T) {
	ctx := testutil.TestContext(t)
	p := mocks.NewMockPlugin().
		OnStep("s1", mocks.Text("report", "quarterly numbers")).
		OnStep("s2", mocks.Text("result", "summary"))
	e := newTestExecutor(t, p)

	s1 := fixtures.Step("s1", "SEARCH")
	s2 := fixtures.Step("s2", "SUMMARIZE", fixtures.Dep("s1", "report"))
	steps := fixtures.Graph(s1, s2)

	assert.Equal(t, []string{"s1"}, testutil.StepIDs(e.GetExecutableSteps(steps)))

	e.ExecuteStep(ctx, s1, steps)
	require.Equal(t, workflow.StatusCompleted, s1.Status)
	assert.Equal(t, []string{"s2"}, testutil.StepIDs(e.GetExecutableSteps(steps)))

	e.ExecuteStep(ctx, s2, steps)
	calls := p.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "quarterly numbers", calls[1].Inputs["report"])
	assert.Equal(t, "agent-1", calls[1].AgentID)
	assert.Equal(t, "mission-1", calls[1].MissionID)
}

func TestGetExecutableSteps_CompletedWithoutOutputNeverReady(t *testing.T) {
	e := newTestExecutor(t, mocks.NewMockPlugin())
	s1 := fixtures.Completed("s1", "other")
	s2 := fixtures.Step("s2", "SUMMARIZE", fixtures.Dep("s1", "report"))
	steps := fixtures.Graph(s1, s2)

	assert.Empty(t, e.GetExecutableSteps(steps))
	assert.Equal(t, 1, e.CancelUnsatisfiedSteps(context.Background(), steps))
	testutil.AssertStepStatus(t, steps, "s2", workflow.StatusCancelled)
}

func TestExecuteStep_PendingInputParksAndAnswerCompletes(t *testing.T) {
	ctx := testutil.TestContext(t)
	authority := mocks.NewMockAuthority()
	p := mocks.NewMockPlugin().
		OnStep("s1", mocks.AskUser("req-1", "Which city should I search?")).
		OnStep("s2", mocks.Text("result", "forecast"))
	e := newTestExecutor(t, p, WithAuthority(authority))

	s1 := fixtures.Step("s1", "ASK_USER_QUESTION")
	s1.OutputNames = []string{"city"}
	s2 := fixtures.Step("s2", "WEATHER", fixtures.Dep("s1", "city"))
	steps := fixtures.Graph(s1, s2)

	drive(ctx, e, steps)

	testutil.AssertStepStatus(t, steps, "s1", workflow.StatusWaiting)
	assert.Equal(t, "req-1", s1.RequestID)
	assert.Equal(t, 1, e.PendingRequests())
	assert.True(t, e.HasPendingSteps(steps))

	pending := authority.PendingInputs()
	require.Len(t, pending, 1)
	assert.Equal(t, "req-1", pending[0].RequestID)
	assert.Equal(t, "s1", pending[0].StepID)
	assert.Equal(t, "Which city should I search?", pending[0].Question)

	t.Run("unknown request is ignored", func(t *testing.T) {
		assert.False(t, e.HandleUserInputResponse(ctx, "req-unknown", "Paris", steps))
		assert.Equal(t, workflow.StatusWaiting, s1.Status)
		assert.Equal(t, workflow.StatusPending, s2.Status)
	})

	t.Run("nil answer is rejected", func(t *testing.T) {
		assert.False(t, e.HandleUserInputResponse(ctx, "req-1", nil, steps))
		assert.Equal(t, workflow.StatusWaiting, s1.Status)
	})

	require.True(t, e.HandleUserInputResponse(ctx, "req-1", "Paris", steps))
	testutil.AssertStepStatus(t, steps, "s1", workflow.StatusCompleted)
	out, ok := s1.Output("city")
	require.True(t, ok)
	assert.Equal(t, "Paris", out.Result)
	assert.Equal(t, workflow.OutputTypeText, out.Type)
	assert.Zero(t, e.PendingRequests())

	assert.False(t, e.HandleUserInputResponse(ctx, "req-1", "Berlin", steps), "answering twice")

	drive(ctx, e, steps)
	testutil.AssertStepStatus(t, steps, "s2", workflow.StatusCompleted)
	assert.Equal(t, "Paris", p.Calls()[1].Inputs["city"])
}

func TestHandleUserInputResponse_AfterRestart(t *testing.T) {
	e := newTestExecutor(t, mocks.NewMockPlugin())
	s1 := fixtures.Step("s1", "ASK_USER_QUESTION")
	s1.Status = workflow.StatusWaiting
	s1.RequestID = "req-7"
	steps := fixtures.Graph(s1)

	answer := map[string]any{"approved": true}
	require.True(t, e.HandleUserInputResponse(context.Background(), "req-7", answer, steps))
	out, ok := s1.Output("result")
	require.True(t, ok)
	assert.Equal(t, workflow.OutputTypeJSON, out.Type)
	assert.Equal(t, answer, out.Result)
}

func TestExecuteStep_UserInputNeededBecomesQuestion(t *testing.T) {
	ctx := testutil.TestContext(t)
	p := mocks.NewMockPlugin().OnStep("s1",
		mocks.Fail(types.NewError(types.ErrUserInputNeeded, "please provide the target city")),
		mocks.AskUser("req-2", "What is the target city?"),
	)
	e := newTestExecutor(t, p)
	steps := fixtures.Graph(fixtures.Step("s1", "WEATHER"))

	drive(ctx, e, steps)

	s1 := steps[0]
	testutil.AssertStepStatus(t, steps, "s1", workflow.StatusWaiting)
	assert.Equal(t, "ASK_USER_QUESTION", s1.Operation)
	assert.Equal(t, 1, s1.RetryCount)

	calls := p.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "ASK_USER_QUESTION", calls[1].Operation)
	assert.NotEmpty(t, calls[1].Inputs["question"])
	assert.Equal(t, "WEATHER", calls[1].Inputs["originalOperation"])
}

func TestExecuteStep_QuestionAnswerFeedsImplicitOutput(t *testing.T) {
	ctx := testutil.TestContext(t)
	p := mocks.NewMockPlugin().
		OnStep("s1",
			mocks.Fail(types.NewError(types.ErrUserInputNeeded, "please specify the region")),
			mocks.AskUser("req-1", "Which region?"),
		).
		OnStep("s2", mocks.Text("summary", "deployed to eu-west"))
	e := newTestExecutor(t, p)
	s1 := fixtures.Step("s1", "DEPLOY")
	s1.OutputNames = nil
	steps := fixtures.Graph(s1, fixtures.Step("s2", "REPORT", fixtures.Dep("s1", "result")))

	drive(ctx, e, steps)
	testutil.AssertStepStatus(t, steps, "s1", workflow.StatusWaiting)
	testutil.AssertStepStatus(t, steps, "s2", workflow.StatusPending)

	require.True(t, e.HandleUserInputResponse(ctx, "req-1", "eu-west", steps))
	testutil.AssertStepStatus(t, steps, "s1", workflow.StatusCompleted)
	assert.Equal(t, "result", s1.FirstOutputName())
	testutil.AssertStepStatus(t, steps, "s2", workflow.StatusPending)
	assert.Equal(t, []*workflow.Step{steps[1]}, e.GetExecutableSteps(steps))

	drive(ctx, e, steps)
	testutil.AssertStepStatus(t, steps, "s2", workflow.StatusCompleted)
	calls := p.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "eu-west", calls[2].Inputs["result"])
}

func TestExecuteStep_UnrepairableValidationCancelsDependents(t *testing.T) {
	ctx := testutil.TestContext(t)
	p := mocks.NewMockPlugin().OnStep("s1", mocks.Fail(types.NewValidationError("schema mismatch in field x")))
	e := newTestExecutor(t, p)
	steps := fixtures.Graph(
		fixtures.Step("s1", "TRANSFORM"),
		fixtures.Step("s2", "SUMMARIZE", fixtures.Dep("s1", "result")),
	)

	drive(ctx, e, steps)
	for i := 0; i < 5; i++ {
		rep := e.RunProactiveResolution(ctx, steps)
		assert.Empty(t, rep.Revived)
		drive(ctx, e, steps)
	}

	s1 := steps[0]
	testutil.AssertStepStatus(t, steps, "s1", workflow.StatusError)
	assert.True(t, s1.Permanent)
	assert.True(t, s1.IsDeadEnd())
	assert.Zero(t, s1.RetryCount)
	testutil.AssertStepStatus(t, steps, "s2", workflow.StatusCancelled)
	assert.False(t, e.HasPendingSteps(steps))
	assert.Equal(t, 1, p.CallCount("s1"))
}

func TestRunProactiveResolution_RestoredValidationErrorSettles(t *testing.T) {
	ctx := testutil.TestContext(t)
	e := newTestExecutor(t, mocks.NewMockPlugin())

	// 从存储恢复的 ERROR 步骤没有 Permanent 标记
	s1 := fixtures.Step("s1", "TRANSFORM")
	s1.Status = workflow.StatusError
	s1.ErrorCode = types.ErrParameterValidation
	s1.LastError = "schema mismatch in field x"
	steps := fixtures.Graph(s1, fixtures.Step("s2", "SUMMARIZE", fixtures.Dep("s1", "result")))

	rep := e.RunProactiveResolution(ctx, steps)

	assert.Empty(t, rep.Revived)
	assert.True(t, s1.Permanent)
	testutil.AssertStepStatus(t, steps, "s2", workflow.StatusCancelled)
	assert.False(t, e.HasPendingSteps(steps))
}

func TestExecuteStep_AuthorityFailureIsLogged(t *testing.T) {
	ctx := testutil.TestContext(t)
	core, logs := observer.New(zap.WarnLevel)
	authority := mocks.NewMockAuthority()
	authority.Err = errors.New("authority offline")
	p := mocks.NewMockPlugin().OnStep("s1", mocks.AskUser("req-1", "Which city?"))
	e := New(Config{AgentID: "agent-1", MissionID: "mission-1"}, p, zap.New(core), WithAuthority(authority))
	steps := fixtures.Graph(fixtures.Step("s1", "ASK_USER_QUESTION"))

	drive(ctx, e, steps)

	testutil.AssertStepStatus(t, steps, "s1", workflow.StatusWaiting)
	assert.Len(t, authority.PendingInputs(), 1)
	entries := logs.FilterMessage("failed to register pending input").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
	assert.Equal(t, "authority offline", entries[0].ContextMap()["error"])

	// 请求仍然可以被回答
	require.True(t, e.HandleUserInputResponse(ctx, "req-1", "Paris", steps))
	testutil.AssertStepStatus(t, steps, "s1", workflow.StatusCompleted)
}

func TestExecuteStep_ValidationFixUnwrapsValue(t *testing.T) {
	ctx := testutil.TestContext(t)
	p := mocks.NewMockPlugin().OnStep("s1",
		mocks.Fail(types.NewValidationError("parameter query must be a string")),
		mocks.Text("result", "hits"),
	)
	e := newTestExecutor(t, p)
	s1 := fixtures.Step("s1", "SEARCH")
	s1.SetInput("query", map[string]any{"value": "golang generics"}, "")
	steps := fixtures.Graph(s1)

	drive(ctx, e, steps)

	testutil.AssertStepStatus(t, steps, "s1", workflow.StatusCompleted)
	calls := p.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "golang generics", calls[1].Inputs["query"])
}

func TestCancelUnsatisfiedSteps_Transitive(t *testing.T) {
	e := newTestExecutor(t, mocks.NewMockPlugin())
	steps := fixtures.Chain("SEARCH", 4)
	steps[0].Status = workflow.StatusCancelled

	// s3 is parked on its dependencies, it must be cancelled as well
	steps[2].Status = workflow.StatusWaiting

	n := e.CancelUnsatisfiedSteps(context.Background(), steps)

	assert.Equal(t, 3, n)
	for _, id := range []string{"s2", "s3", "s4"} {
		testutil.AssertStepStatus(t, steps, id, workflow.StatusCancelled)
	}
	assert.Zero(t, e.CancelUnsatisfiedSteps(context.Background(), steps))
}

func TestCancelUnsatisfiedSteps_LeavesRecoverableErrorsAlone(t *testing.T) {
	e := newTestExecutor(t, mocks.NewMockPlugin())
	steps := fixtures.Chain("SEARCH", 2)
	steps[0].Status = workflow.StatusError
	steps[0].RetryCount = 1

	assert.Zero(t, e.CancelUnsatisfiedSteps(context.Background(), steps))
	testutil.AssertStepStatus(t, steps, "s2", workflow.StatusPending)
}

func TestCheckAndResumeWaitingSteps(t *testing.T) {
	e := newTestExecutor(t, mocks.NewMockPlugin())
	s1 := fixtures.Completed("s1", "result")
	parked := fixtures.Step("s2", "SUMMARIZE", fixtures.Dep("s1", "result"))
	parked.Status = workflow.StatusWaiting
	asking := fixtures.Step("s3", "ASK_USER_QUESTION")
	asking.Status = workflow.StatusWaiting
	asking.RequestID = "req-3"
	blocked := fixtures.Step("s4", "SUMMARIZE", fixtures.Dep("s3", "result"))
	blocked.Status = workflow.StatusWaiting
	steps := fixtures.Graph(s1, parked, asking, blocked)

	assert.Equal(t, 1, e.CheckAndResumeWaitingSteps(context.Background(), steps))
	testutil.AssertStepStatus(t, steps, "s2", workflow.StatusPending)
	testutil.AssertStepStatus(t, steps, "s3", workflow.StatusWaiting)
	testutil.AssertStepStatus(t, steps, "s4", workflow.StatusWaiting)
	assert.Zero(t, parked.RetryCount)
}

func TestHasPendingSteps(t *testing.T) {
	e := newTestExecutor(t, mocks.NewMockPlugin())
	done := fixtures.Completed("s1", "result")
	failed := fixtures.Step("s2", "SEARCH")
	failed.Status = workflow.StatusError

	assert.False(t, e.HasPendingSteps(nil))
	assert.False(t, e.HasPendingSteps([]*workflow.Step{done, failed}))
	assert.True(t, e.HasPendingSteps([]*workflow.Step{done, fixtures.Step("s3", "SEARCH")}))
}

func TestExecuteStep_SavesClassifiedWorkProducts(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := persistence.NewMemoryStore()
	sink := mocks.NewRecordingSink()
	products := workproduct.NewManager(
		workproduct.Config{AgentID: "agent-1", MissionID: "mission-1"},
		store, zaptest.NewLogger(t), workproduct.WithSink(sink),
	)
	p := mocks.NewMockPlugin().WithDefault(mocks.Text("result", "text"))
	e := newTestExecutor(t, p, WithWorkProducts(products))
	steps := fixtures.Chain("GENERATE", 2)

	drive(ctx, e, steps)

	first, err := products.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, workproduct.TypeInterim, first.Type)
	assert.Equal(t, workproduct.ScopeAgentStep, first.Scope)
	assert.Equal(t, "GENERATE", first.Operation)

	last, err := products.Load(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, workproduct.TypeFinal, last.Type)
	assert.Equal(t, workproduct.ScopeAgentOutput, last.Scope)

	all, err := products.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Len(t, sink.OfType(messaging.EventWorkProductUpdate), 2)
}

func TestStepHistory(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := persistence.NewMemoryStore()
	sink := mocks.NewRecordingSink()
	p := mocks.NewMockPlugin().OnStep("s1",
		mocks.Fail(types.NewExecutionFaultError("worker crashed")),
		mocks.Text("result", "ok"),
	)
	e := New(Config{AgentID: "agent-1", MissionID: "mission-1", StatusRecipient: "supervisor"},
		p, zaptest.NewLogger(t), WithEventStore(store), WithSink(sink))
	steps := fixtures.Graph(fixtures.Step("s1", "SEARCH"))

	drive(ctx, e, steps)

	history, err := e.StepHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 4)

	transitions := make([]string, 0, len(history))
	for _, ev := range history {
		assert.Equal(t, "agent-1", ev.AgentID)
		assert.Equal(t, "mission-1", ev.MissionID)
		transitions = append(transitions, string(ev.From)+">"+string(ev.To))
	}
	assert.ElementsMatch(t, []string{
		"PENDING>RUNNING", "RUNNING>PENDING", "PENDING>RUNNING", "RUNNING>COMPLETED",
	}, transitions)

	errs, err := e.ErrorHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, types.ErrExecutionFault, errs[0].ErrorCode)
	assert.Equal(t, "transient retry", errs[0].Reason)

	assert.Len(t, sink.To("supervisor"), 4)
	assert.Len(t, sink.OfType(messaging.EventStepStatus), 4)
}

func TestStepHistory_WithoutStore(t *testing.T) {
	e := newTestExecutor(t, mocks.NewMockPlugin())
	history, err := e.StepHistory(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRunProactiveResolution_AutoAnswersConfirmation(t *testing.T) {
	ctx := testutil.TestContext(t)
	rec := recovery.New(recovery.Config{AgentID: "agent-1", AutoAnswerConfirmations: true}, zaptest.NewLogger(t))
	p := mocks.NewMockPlugin().
		OnStep("s1", mocks.AskUser("req-9", "Do you want to proceed with the deployment?")).
		OnStep("s2", mocks.Text("result", "deployed"))
	e := newTestExecutor(t, p, WithRecovery(rec))

	s1 := fixtures.Step("s1", "ASK_USER_QUESTION")
	s1.SetInput("question", "Do you want to proceed with the deployment?", "string")
	s2 := fixtures.Step("s2", "DEPLOY", fixtures.Dep("s1", "result"))
	steps := fixtures.Graph(s1, s2)

	drive(ctx, e, steps)
	require.Equal(t, workflow.StatusWaiting, s1.Status)

	rep := e.RunProactiveResolution(ctx, steps)

	require.Len(t, rep.AutoAnswers, 1)
	assert.Equal(t, "req-9", rep.AutoAnswers[0].RequestID)
	testutil.AssertStepStatus(t, steps, "s1", workflow.StatusCompleted)
	out, _ := s1.Output("result")
	assert.Equal(t, "yes", out.Result)

	drive(ctx, e, steps)
	testutil.AssertStepStatus(t, steps, "s2", workflow.StatusCompleted)
}

func TestRunProactiveResolution_RevivesTransientErrors(t *testing.T) {
	ctx := testutil.TestContext(t)
	e := newTestExecutor(t, mocks.NewMockPlugin())

	s1 := fixtures.Step("s1", "SEARCH")
	s1.Status = workflow.StatusError
	s1.ErrorCode = types.ErrTimeout
	s1.LastError = "plugin call timed out"
	s1.RetryCount = 1
	s2 := fixtures.Step("s2", "SUMMARIZE", fixtures.Dep("s1", "result"))
	dead := fixtures.Step("s3", "SEARCH")
	dead.Status = workflow.StatusError
	dead.ErrorCode = types.ErrBadInput
	dead.Permanent = true
	s4 := fixtures.Step("s4", "SUMMARIZE", fixtures.Dep("s3", "result"))
	steps := fixtures.Graph(s1, s2, dead, s4)

	rep := e.RunProactiveResolution(ctx, steps)

	assert.Equal(t, []string{"s1"}, rep.Revived)
	testutil.AssertStepStatus(t, steps, "s1", workflow.StatusPending)
	assert.Equal(t, 2, s1.RetryCount)
	testutil.AssertStepStatus(t, steps, "s2", workflow.StatusPending)
	testutil.AssertStepStatus(t, steps, "s3", workflow.StatusError)
	testutil.AssertStepStatus(t, steps, "s4", workflow.StatusCancelled)
}

func TestExecuteStep_PropagatesTraceContext(t *testing.T) {
	ctx := testutil.TestContext(t)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var traceID, stepID, missionID string
	p := plugin.ExecutorFunc(func(ctx context.Context, req *plugin.Request) ([]workflow.Output, error) {
		traceID, _ = ctxkeys.TraceID(ctx)
		stepID, _ = ctxkeys.StepID(ctx)
		missionID, _ = ctxkeys.MissionID(ctx)
		return nil, errors.New("invalid parameter: bad request body")
	})
	e := newTestExecutor(t, p, WithTracer(tp.Tracer("test")))
	s1 := fixtures.Step("s1", "SEARCH")

	e.ExecuteStep(ctx, s1, []*workflow.Step{s1})

	assert.NotEmpty(t, traceID)
	assert.Equal(t, "s1", stepID)
	assert.Equal(t, "mission-1", missionID)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "step.execute", spans[0].Name())
	assert.Equal(t, traceID, spans[0].SpanContext().TraceID().String())
	assert.NotEmpty(t, spans[0].Events(), "error recorded on span")
}
