package recovery

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/missionflow/workflow"
)

type questionTemplate struct {
	pattern *regexp.Regexp
	render  func(m []string, step *workflow.Step) string
}

// 按顺序匹配, 第一个命中的模板生效
var questionTemplates = []questionTemplate{
	{
		pattern: regexp.MustCompile(`(?i)please (provide|specify|confirm|choose|select) (.+?)[.!]?$`),
		render: func(m []string, _ *workflow.Step) string {
			return fmt.Sprintf("Could you please %s %s?", strings.ToLower(m[1]), strings.TrimSpace(m[2]))
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)missing required information:?\s*(.+?)[.!]?$`),
		render: func(m []string, step *workflow.Step) string {
			return fmt.Sprintf("What %s should be used for %q?", strings.TrimSpace(m[1]), stepLabel(step))
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)which (one|file|option|version|account|item)`),
		render: func(m []string, step *workflow.Step) string {
			return fmt.Sprintf("Which %s should be used for %q?", strings.ToLower(m[1]), stepLabel(step))
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)(requires confirmation|please confirm|needs approval)`),
		render: func(_ []string, step *workflow.Step) string {
			return fmt.Sprintf("Do you want to proceed with %q? (yes/no)", stepLabel(step))
		},
	},
}

func stepLabel(step *workflow.Step) string {
	if step.Description != "" {
		return step.Description
	}
	return step.Operation
}

// SynthesizeQuestion turns a "needs input" failure message into a
// question for the user.
func SynthesizeQuestion(msg string, step *workflow.Step) string {
	msg = strings.TrimSpace(msg)
	for _, t := range questionTemplates {
		if m := t.pattern.FindStringSubmatch(msg); m != nil {
			return t.render(m, step)
		}
	}
	if msg == "" {
		return fmt.Sprintf("Step %q needs more information to continue. How should it proceed?", stepLabel(step))
	}
	return fmt.Sprintf("Step %q needs more information to continue: %s. How should it proceed?", stepLabel(step), strings.TrimRight(msg, ".!"))
}

// ConvertToQuestion rewrites the step into an interactive question step
// and requeues it. The answer lands under the name dependents already bind
// to: the first declared output, else the output a direct dependent reads,
// else the implicit "result". Counts against the retry budget. A step that
// cannot be converted is marked Permanent.
func (r *Recovery) ConvertToQuestion(ctx context.Context, step *workflow.Step, steps []*workflow.Step, cause error) bool {
	if !step.HasRetryBudget() {
		step.Permanent = true
		r.metrics.RecordRecovery("convert_to_question", false)
		return false
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	question := SynthesizeQuestion(msg, step)

	original := step.Operation
	if len(step.OutputNames) == 0 {
		if name := boundOutputName(step, steps); name != "" {
			step.OutputNames = []string{name}
		}
	}
	step.Operation = r.cfg.QuestionOperation
	step.SetInput("question", question, "string")
	step.SetInput("originalOperation", original, "string")

	ok := r.retry(step)
	if !ok {
		step.Permanent = true
	}
	r.metrics.RecordRecovery("convert_to_question", ok)
	r.logger.Info("step converted to question",
		zap.String("step_id", step.ID),
		zap.String("original_operation", original),
		zap.String("question", question),
		zap.Bool("requeued", ok),
	)
	return ok
}

// boundOutputName returns the output name the first direct dependent reads
// from step, or "" when no dependent names one.
func boundOutputName(step *workflow.Step, steps []*workflow.Step) string {
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			if dep.SourceStepID == step.ID && dep.OutputName != "" {
				return dep.OutputName
			}
		}
	}
	return ""
}

var confirmationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(do you want (me )?to|should i|shall i|would you like (me )?to|is it ok(ay)? to|can i|may i|ok to)\b`),
	regexp.MustCompile(`(?i)\((yes/no|y/n)\)|\[(yes/no|y/n)\]`),
	regexp.MustCompile(`(?i)^\s*(please )?confirm\b`),
}

// IsConfirmationQuestion reports whether a question is a plain yes/no
// confirmation.
func IsConfirmationQuestion(q string) bool {
	for _, p := range confirmationPatterns {
		if p.MatchString(q) {
			return true
		}
	}
	return false
}

// questionText returns the question an interactive step asks.
func questionText(step *workflow.Step) string {
	if in, ok := step.Inputs["question"]; ok {
		if s, ok := in.Value.(string); ok && s != "" {
			return s
		}
	}
	return step.Description
}
