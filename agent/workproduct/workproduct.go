package workproduct

import (
	"time"

	"github.com/BaSui01/missionflow/workflow"
)

// Type 工作产物类型
type Type string

const (
	TypePlan    Type = "Plan"
	TypeFinal   Type = "Final"
	TypeInterim Type = "Interim"
)

// Scope 工作产物可见范围
type Scope string

const (
	ScopeAgentOutput Scope = "AgentOutput"
	ScopeAgentStep   Scope = "AgentStep"
)

// WorkProduct is the persisted output of one completed step. It is written
// once and never updated.
type WorkProduct struct {
	ID          string            `json:"id"`
	AgentID     string            `json:"agentId"`
	MissionID   string            `json:"missionId,omitempty"`
	StepID      string            `json:"stepId"`
	Operation   string            `json:"operation,omitempty"`
	Description string            `json:"description,omitempty"`
	Type        Type              `json:"type"`
	Scope       Scope             `json:"scope"`
	Data        []workflow.Output `json:"data"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Key returns the storage id agentId_stepId.
func Key(agentID, stepID string) string {
	return agentID + "_" + stepID
}

// Classify derives the product type and scope. A plan result is Plan
// whatever the endpoint status; scope follows the endpoint flag only.
func Classify(outputs []workflow.Output, isEndpoint bool) (Type, Scope) {
	scope := ScopeAgentStep
	if isEndpoint {
		scope = ScopeAgentOutput
	}
	switch {
	case workflow.IsPlanResult(outputs):
		return TypePlan, scope
	case isEndpoint:
		return TypeFinal, scope
	default:
		return TypeInterim, scope
	}
}

// Summary is the notification payload for a saved work product. Plans are
// reduced to a step count.
type Summary struct {
	ID          string   `json:"id"`
	AgentID     string   `json:"agentId"`
	StepID      string   `json:"stepId"`
	Type        Type     `json:"type"`
	Scope       Scope    `json:"scope"`
	Description string   `json:"description,omitempty"`
	MimeType    string   `json:"mimeType,omitempty"`
	Outputs     []string `json:"outputs,omitempty"`
	StepCount   int      `json:"stepCount,omitempty"`
}

// Summarize builds the notification payload.
func (wp *WorkProduct) Summarize() Summary {
	s := Summary{
		ID:          wp.ID,
		AgentID:     wp.AgentID,
		StepID:      wp.StepID,
		Type:        wp.Type,
		Scope:       wp.Scope,
		Description: wp.Description,
	}
	for _, out := range wp.Data {
		s.Outputs = append(s.Outputs, out.Name)
		if s.MimeType == "" {
			s.MimeType = out.MimeType
		}
		if s.Description == "" {
			s.Description = out.Description
		}
	}
	if wp.Type == TypePlan {
		s.StepCount = workflow.PlanSize(wp.Data)
	}
	return s
}
