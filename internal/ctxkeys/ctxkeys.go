package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	traceIDKey   contextKey = "trace_id"
	missionIDKey contextKey = "mission_id"
	agentIDKey   contextKey = "agent_id"
	stepIDKey    contextKey = "step_id"
)

func with(ctx context.Context, key contextKey, v string) context.Context {
	return context.WithValue(ctx, key, v)
}

func get(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithTraceID 设置 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return with(ctx, traceIDKey, traceID)
}

// TraceID 获取 TraceID
func TraceID(ctx context.Context) (string, bool) {
	return get(ctx, traceIDKey)
}

// WithMissionID 设置 MissionID
func WithMissionID(ctx context.Context, missionID string) context.Context {
	return with(ctx, missionIDKey, missionID)
}

// MissionID 获取 MissionID
func MissionID(ctx context.Context) (string, bool) {
	return get(ctx, missionIDKey)
}

// WithAgentID 设置 AgentID
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return with(ctx, agentIDKey, agentID)
}

// AgentID 获取 AgentID
func AgentID(ctx context.Context) (string, bool) {
	return get(ctx, agentIDKey)
}

// WithStepID 设置 StepID
func WithStepID(ctx context.Context, stepID string) context.Context {
	return with(ctx, stepIDKey, stepID)
}

// StepID 获取 StepID
func StepID(ctx context.Context) (string, bool) {
	return get(ctx, stepIDKey)
}
