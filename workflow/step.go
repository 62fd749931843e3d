package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/missionflow/types"
)

// StepStatus is the lifecycle state of a single step.
type StepStatus string

const (
	StatusPending   StepStatus = "PENDING"
	StatusRunning   StepStatus = "RUNNING"
	StatusWaiting   StepStatus = "WAITING"
	StatusCompleted StepStatus = "COMPLETED"
	StatusError     StepStatus = "ERROR"
	StatusCancelled StepStatus = "CANCELLED"
)

// IsTerminal reports whether no further work is scheduled for the status.
// ERROR is terminal for scheduling purposes even though the proactive sweep
// may later revive it.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// validTransitions 定义步骤状态机允许的转换
var validTransitions = map[StepStatus][]StepStatus{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusWaiting, StatusError, StatusPending},
	StatusWaiting: {StatusCompleted, StatusPending},
	StatusError:   {StatusPending},
}

// CanTransition checks whether from -> to is a legal step transition.
func CanTransition(from, to StepStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

var (
	// ErrEmptyResult is returned when completing a step without output.
	ErrEmptyResult = errors.New("step result is empty")
	// ErrRetryBudgetExhausted is returned when a retry would exceed MaxRetries.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
)

// Output type markers understood by the engine.
const (
	OutputTypePendingInput = "pending_user_input"
	OutputTypePlan         = "plan"
	OutputTypeText         = "text"
	OutputTypeJSON         = "json"
)

// Dependency binds an output of another step to an input of this one.
type Dependency struct {
	SourceStepID string `json:"source_step_id" yaml:"source_step_id"`
	OutputName   string `json:"output_name" yaml:"output_name"`
	// InputName defaults to OutputName.
	InputName string `json:"input_name,omitempty" yaml:"input_name,omitempty"`
}

// Input returns the input name the dependency binds to.
func (d Dependency) Input() string {
	if d.InputName != "" {
		return d.InputName
	}
	return d.OutputName
}

// InputValue is a typed literal input.
type InputValue struct {
	Value any    `json:"value" yaml:"value"`
	Type  string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Output is one typed value produced by a step.
type Output struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Result      any    `json:"result,omitempty" yaml:"result,omitempty"`
	MimeType    string `json:"mime_type,omitempty" yaml:"mime_type,omitempty"`
	FileName    string `json:"file_name,omitempty" yaml:"file_name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// RequestID is set on pending-input outputs.
	RequestID string `json:"request_id,omitempty" yaml:"request_id,omitempty"`
}

// IsPendingInput reports whether the output asks for an external answer.
func (o Output) IsPendingInput() bool {
	return o.Type == OutputTypePendingInput && o.RequestID != ""
}

// Step is one unit of work in an agent's plan graph.
type Step struct {
	ID           string                `json:"id" yaml:"id"`
	Operation    string                `json:"operation" yaml:"operation"`
	Description  string                `json:"description,omitempty" yaml:"description,omitempty"`
	Status       StepStatus            `json:"status" yaml:"status"`
	Dependencies []Dependency          `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Inputs       map[string]InputValue `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Result       []Output              `json:"result,omitempty" yaml:"result,omitempty"`
	RetryCount   int                   `json:"retry_count" yaml:"retry_count"`
	MaxRetries   int                   `json:"max_retries" yaml:"max_retries"`
	LastError    string                `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	// ErrorCode keeps the tag of the last failure so it can be re-diagnosed.
	ErrorCode types.ErrorCode `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	// Permanent marks an ERROR step that no recovery strategy can revive,
	// regardless of remaining budget.
	Permanent   bool     `json:"permanent,omitempty" yaml:"permanent,omitempty"`
	Position    int      `json:"position" yaml:"position"`
	OutputNames []string `json:"output_names,omitempty" yaml:"output_names,omitempty"`
	// RequestID is the outstanding external-input request while WAITING.
	// A WAITING step without one is parked on its dependencies.
	RequestID string    `json:"request_id,omitempty" yaml:"request_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// IsDeadEnd reports whether an ERROR step has no way back to PENDING.
func (s *Step) IsDeadEnd() bool {
	return s.Status == StatusError && (s.Permanent || !s.HasRetryBudget())
}

// HasRetryBudget reports whether one more retry is allowed.
func (s *Step) HasRetryBudget() bool {
	return s.RetryCount < s.MaxRetries
}

// Output looks up a result value by name.
func (s *Step) Output(name string) (Output, bool) {
	for _, out := range s.Result {
		if out.Name == name {
			return out, true
		}
	}
	return Output{}, false
}

// FirstOutputName returns the first declared output name, or "result".
func (s *Step) FirstOutputName() string {
	if len(s.OutputNames) > 0 && s.OutputNames[0] != "" {
		return s.OutputNames[0]
	}
	return "result"
}

// SetInput sets a literal input, allocating the map on first use.
func (s *Step) SetInput(name string, value any, typ string) {
	if s.Inputs == nil {
		s.Inputs = make(map[string]InputValue)
	}
	s.Inputs[name] = InputValue{Value: value, Type: typ}
}

func (s *Step) transition(to StepStatus) error {
	if !CanTransition(s.Status, to) {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("step %s: %s -> %s", s.ID, s.Status, to))
	}
	s.Status = to
	s.UpdatedAt = time.Now()
	return nil
}

// Start marks a PENDING step as dispatched.
func (s *Step) Start() error {
	return s.transition(StatusRunning)
}

// Complete stores outputs and marks the step COMPLETED.
func (s *Step) Complete(outputs []Output) error {
	if len(outputs) == 0 {
		return ErrEmptyResult
	}
	if err := s.transition(StatusCompleted); err != nil {
		return err
	}
	s.Result = outputs
	s.RequestID = ""
	s.LastError = ""
	s.ErrorCode = ""
	return nil
}

// Wait parks a RUNNING step. An empty requestID means the step waits on
// dependencies rather than on an external answer.
func (s *Step) Wait(requestID string) error {
	if err := s.transition(StatusWaiting); err != nil {
		return err
	}
	s.RequestID = requestID
	return nil
}

// Fail marks a RUNNING step as ERROR.
func (s *Step) Fail(cause error) error {
	if err := s.transition(StatusError); err != nil {
		return err
	}
	if cause != nil {
		s.LastError = cause.Error()
		s.ErrorCode = types.GetErrorCode(cause)
	}
	return nil
}

// Retry requeues a RUNNING or ERROR step, consuming one unit of budget.
func (s *Step) Retry() error {
	if s.Status != StatusRunning && s.Status != StatusError {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("step %s: cannot retry from %s", s.ID, s.Status))
	}
	if !s.HasRetryBudget() {
		return ErrRetryBudgetExhausted
	}
	if err := s.transition(StatusPending); err != nil {
		return err
	}
	s.RetryCount++
	s.Permanent = false
	return nil
}

// Resume requeues a WAITING step without consuming budget.
func (s *Step) Resume() error {
	if s.Status != StatusWaiting {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("step %s: cannot resume from %s", s.ID, s.Status))
	}
	if err := s.transition(StatusPending); err != nil {
		return err
	}
	s.RequestID = ""
	return nil
}

// Cancel marks a PENDING step CANCELLED.
func (s *Step) Cancel(reason string) error {
	if err := s.transition(StatusCancelled); err != nil {
		return err
	}
	s.LastError = reason
	return nil
}
