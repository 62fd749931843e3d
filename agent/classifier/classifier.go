// Package classifier maps step failures onto the recovery taxonomy.
//
// Errors tagged at the plugin boundary (*types.Error) are classified from
// their code. Untagged errors fall back to lowercase message matching.
package classifier

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/BaSui01/missionflow/types"
)

// Category is the recovery class of a failure.
type Category string

const (
	Transient       Category = "TRANSIENT"
	Recoverable     Category = "RECOVERABLE"
	UserInputNeeded Category = "USER_INPUT_NEEDED"
	Validation      Category = "VALIDATION"
	Permanent       Category = "PERMANENT"
)

// Fault narrows a category to the repair strategy that applies.
type Fault string

const (
	FaultNone               Fault = ""
	FaultBadInput           Fault = "bad_input"
	FaultExecution          Fault = "execution"
	FaultPlugin             Fault = "plugin"
	FaultDependency         Fault = "dependency"
	FaultServiceUnreachable Fault = "service_unreachable"
	FaultValidation         Fault = "validation"
	FaultNeedsInput         Fault = "needs_input"
)

// Diagnosis is the full classification result.
type Diagnosis struct {
	Category Category
	Fault    Fault
	Code     types.ErrorCode
	// Tagged is true when the error carried a code from its origin.
	Tagged bool
}

var codeTable = map[types.ErrorCode]Diagnosis{
	types.ErrBadInput:              {Category: Permanent, Fault: FaultBadInput},
	types.ErrExecutionFault:        {Category: Transient, Fault: FaultExecution},
	types.ErrPluginFault:           {Category: Recoverable, Fault: FaultPlugin},
	types.ErrDependencyUnsatisfied: {Category: Recoverable, Fault: FaultDependency},
	types.ErrServiceUnreachable:    {Category: Recoverable, Fault: FaultServiceUnreachable},
	types.ErrParameterValidation:   {Category: Validation, Fault: FaultValidation},
	types.ErrUserInputNeeded:       {Category: UserInputNeeded, Fault: FaultNeedsInput},
	types.ErrServiceUnavailable:    {Category: Transient},
	types.ErrTimeout:               {Category: Transient},
	types.ErrRateLimited:           {Category: Transient},
	// retried after the plugin client refreshes its token
	types.ErrUnauthorized:     {Category: Transient},
	types.ErrInternalError:    {Category: Permanent},
	types.ErrCyclicDependency: {Category: Recoverable, Fault: FaultDependency},
}

type rule struct {
	category Category
	fault    Fault
	patterns []string
}

// Order matters: the first matching rule wins.
var fallbackRules = []rule{
	{UserInputNeeded, FaultNeedsInput, []string{
		"user input", "please provide", "please specify", "please confirm",
		"need more information", "requires confirmation", "clarification",
		"ask the user", "which one", "missing required information",
	}},
	{Validation, FaultValidation, []string{
		"validation", "invalid parameter", "invalid type", "invalid value",
		"expected string", "expected a string", "must be a string", "must be of type",
		"required parameter", "missing parameter", "schema",
	}},
	{Recoverable, FaultDependency, []string{
		"dependency not satisfied", "dependencies not satisfied", "unsatisfied dependency",
		"missing input from", "upstream output",
	}},
	{Recoverable, FaultServiceUnreachable, []string{
		"connection refused", "no such host", "unreachable", "econnrefused",
	}},
	{Recoverable, FaultPlugin, []string{
		"plugin error", "plugin fault", "plugin crashed", "plugin failed",
	}},
	{Transient, FaultNone, []string{
		"timeout", "timed out", "temporarily", "temporary", "rate limit",
		"too many requests", "503", "502", "try again", "connection reset", "eof",
	}},
}

// Classify returns the recovery category for err.
func Classify(err error) Category {
	return Diagnose(err).Category
}

// Diagnose classifies err and names the repair strategy that applies.
func Diagnose(err error) Diagnosis {
	if err == nil {
		return Diagnosis{Category: Permanent}
	}

	if e, ok := types.AsError(err); ok {
		if d, known := codeTable[e.Code]; known {
			d.Code = e.Code
			d.Tagged = true
			return d
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Diagnosis{Category: Transient, Code: types.ErrTimeout}
	case errors.Is(err, context.Canceled):
		return Diagnosis{Category: Permanent}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Diagnosis{Category: Transient, Code: types.ErrTimeout}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Diagnosis{Category: Recoverable, Fault: FaultServiceUnreachable, Code: types.ErrServiceUnreachable}
	}

	return matchMessage(err.Error())
}

func matchMessage(msg string) Diagnosis {
	lower := strings.ToLower(msg)
	for _, r := range fallbackRules {
		if containsAny(lower, r.patterns) {
			return Diagnosis{Category: r.category, Fault: r.fault}
		}
	}
	return Diagnosis{Category: Permanent}
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
