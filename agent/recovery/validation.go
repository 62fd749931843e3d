package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/missionflow/workflow"
)

// inferableParams are parameters commonly left out by planners whose value
// can be taken from the step description.
var inferableParams = []string{"query", "searchTerm", "question", "prompt", "topic", "message", "text"}

// FixValidation repairs the inputs of a step that failed parameter
// validation and requeues it. Repairs, in order: unwrap {"value": x}
// wrappers, coerce structured values to strings where a string is
// expected, infer whitelisted missing parameters from the description.
// Returns false when nothing could be repaired or the budget is spent; a
// step with nothing left to repair is marked Permanent.
func (r *Recovery) FixValidation(ctx context.Context, step *workflow.Step, steps []*workflow.Step, cause error) bool {
	if !step.HasRetryBudget() {
		r.metrics.RecordRecovery("validation", false)
		return false
	}

	msg := ""
	if cause != nil {
		msg = strings.ToLower(cause.Error())
	}
	resolved := workflow.ResolveInputs(step, steps)

	var repaired []string
	for name, value := range resolved {
		fixed, changed := unwrapValue(value)
		declared := ""
		if in, ok := step.Inputs[name]; ok {
			declared = in.Type
		}
		if wantsString(name, declared, msg) {
			if s, ok := coerceString(fixed); ok {
				fixed, changed = s, true
			}
		}
		if changed {
			typ := declared
			if _, isStr := fixed.(string); isStr && typ == "" {
				typ = "string"
			}
			step.SetInput(name, fixed, typ)
			repaired = append(repaired, name)
		}
	}

	for _, name := range inferableParams {
		if _, present := resolved[name]; present {
			continue
		}
		if !strings.Contains(msg, strings.ToLower(name)) || step.Description == "" {
			continue
		}
		step.SetInput(name, step.Description, "string")
		repaired = append(repaired, name)
	}

	if len(repaired) == 0 {
		// 同样的输入再试也会失败
		step.Permanent = true
		r.metrics.RecordRecovery("validation", false)
		return false
	}
	ok := r.retry(step)
	r.metrics.RecordRecovery("validation", ok)
	r.logger.Info("validation fix applied",
		zap.String("step_id", step.ID),
		zap.Strings("inputs", repaired),
		zap.Bool("requeued", ok),
	)
	return ok
}

// unwrapValue strips accidentally nested {"value": x} wrappers.
func unwrapValue(v any) (any, bool) {
	changed := false
	for {
		m, ok := v.(map[string]any)
		if !ok {
			return v, changed
		}
		inner, has := m["value"]
		if !has || len(m) > 2 {
			return v, changed
		}
		if len(m) == 2 {
			if _, typed := m["type"]; !typed {
				return v, changed
			}
		}
		v, changed = inner, true
	}
}

// wantsString reports whether the input is expected to be a string: it is
// declared as one, or the failure message says so next to its name.
func wantsString(name, declared, msg string) bool {
	if strings.EqualFold(declared, "string") {
		return true
	}
	return msg != "" && strings.Contains(msg, strings.ToLower(name)) && strings.Contains(msg, "string")
}

func coerceString(v any) (string, bool) {
	switch t := v.(type) {
	case nil, string:
		return "", false
	case []byte:
		return string(t), true
	case bool, int, int32, int64, float32, float64, json.Number:
		return fmt.Sprint(t), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}
