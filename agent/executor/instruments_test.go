package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/BaSui01/missionflow/testutil"
	"github.com/BaSui01/missionflow/testutil/fixtures"
	"github.com/BaSui01/missionflow/testutil/mocks"
	"github.com/BaSui01/missionflow/workflow"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(testutil.TestContext(t), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestInstruments_DispatchAndPendingInputs(t *testing.T) {
	ctx := testutil.TestContext(t)
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(ctx) })

	p := mocks.NewMockPlugin().
		OnStep("s1", mocks.Text("report", "ok")).
		OnStep("s2", mocks.AskUser("req-1", "Which city?"))
	e := newTestExecutor(t, p, WithMeterProvider(mp), WithAuthority(mocks.NewMockAuthority()))

	steps := fixtures.Graph(fixtures.Step("s1", "SEARCH"), fixtures.Step("s2", "ASK_USER_QUESTION"))
	drive(ctx, e, steps)

	data := collect(t, reader)

	total, ok := data["missionflow.step.dispatch.total"].(metricdata.Sum[int64])
	require.True(t, ok)
	var dispatches int64
	for _, dp := range total.DataPoints {
		dispatches += dp.Value
	}
	assert.Equal(t, int64(2), dispatches)

	hist, ok := data["missionflow.step.dispatch.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, hist.DataPoints, 2, "one series per outcome")

	pending, ok := data["missionflow.step.pending_inputs"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, pending.DataPoints, 1)
	assert.Equal(t, int64(1), pending.DataPoints[0].Value)

	require.True(t, e.HandleUserInputResponse(ctx, "req-1", "Paris", steps))
	testutil.AssertStepStatus(t, steps, "s2", workflow.StatusCompleted)

	pending = collect(t, reader)["missionflow.step.pending_inputs"].(metricdata.Sum[int64])
	assert.Equal(t, int64(0), pending.DataPoints[0].Value)
}

func TestInstruments_NilIsNoop(t *testing.T) {
	var in *instruments
	in.recordDispatch(testutil.TestContext(t), "agent-1", "SEARCH", "completed", 0)
	in.addPending(testutil.TestContext(t), "agent-1", 1)
}
