// Package plugin is the client side of the plugin-execution service.
//
// Faults are tagged with a types.ErrorCode where they originate, so the
// executor can classify them without reading error messages.
package plugin

import (
	"context"

	"github.com/BaSui01/missionflow/workflow"
)

// Request is one step dispatch.
type Request struct {
	Operation string         `json:"operation"`
	Inputs    map[string]any `json:"inputs"`
	StepID    string         `json:"stepId"`
	AgentID   string         `json:"agentId"`
	MissionID string         `json:"missionId"`
}

// Executor runs a step on the plugin-execution service.
type Executor interface {
	Execute(ctx context.Context, req *Request) ([]workflow.Output, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req *Request) ([]workflow.Output, error)

func (f ExecutorFunc) Execute(ctx context.Context, req *Request) ([]workflow.Output, error) {
	return f(ctx, req)
}

// AuthValidator re-checks the runtime's credentials, refreshing them when
// the service answers unauthorized.
type AuthValidator interface {
	ValidateAuth(ctx context.Context) error
}
