package executor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instruments 是通过 OTLP 导出的步骤指标；未启用 telemetry 时为 noop
type instruments struct {
	dispatchTotal    metric.Int64Counter
	dispatchDuration metric.Float64Histogram
	pendingInputs    metric.Int64UpDownCounter
}

func newInstruments(mp metric.MeterProvider) (*instruments, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	in := &instruments{}
	var err error

	in.dispatchTotal, err = meter.Int64Counter("missionflow.step.dispatch.total",
		metric.WithDescription("Plugin dispatches by outcome"),
		metric.WithUnit("{dispatch}"))
	if err != nil {
		return nil, err
	}

	in.dispatchDuration, err = meter.Float64Histogram("missionflow.step.dispatch.duration",
		metric.WithDescription("Plugin dispatch latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	// 等待外部输入的请求数
	in.pendingInputs, err = meter.Int64UpDownCounter("missionflow.step.pending_inputs",
		metric.WithDescription("Outstanding external-input requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	return in, nil
}

func (in *instruments) recordDispatch(ctx context.Context, agentID, operation, outcome string, d time.Duration) {
	if in == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("agent.id", agentID),
		attribute.String("step.operation", operation),
		attribute.String("outcome", outcome),
	)
	in.dispatchTotal.Add(ctx, 1, attrs)
	in.dispatchDuration.Record(ctx, d.Seconds(), attrs)
}

func (in *instruments) addPending(ctx context.Context, agentID string, delta int64) {
	if in == nil {
		return
	}
	in.pendingInputs.Add(ctx, delta, metric.WithAttributes(attribute.String("agent.id", agentID)))
}
