package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/BaSui01/missionflow/agent/classifier"
	"github.com/BaSui01/missionflow/workflow"
)

// Whatever mix of strategies is applied, RetryCount never passes MaxRetries
// and a step that could not be requeued is left untouched.
func TestProperty_RecoveryRespectsRetryBudget(t *testing.T) {
	faults := []classifier.Fault{
		classifier.FaultPlugin,
		classifier.FaultDependency,
		classifier.FaultServiceUnreachable,
		classifier.FaultNone,
	}

	rapid.Check(t, func(t *rapid.T) {
		r := New(Config{}, nil, WithSleep(func(context.Context, time.Duration) error { return nil }))
		maxRetries := rapid.IntRange(0, 5).Draw(t, "maxRetries")
		step := &workflow.Step{ID: "s", Operation: "SEARCH", Status: workflow.StatusPending, MaxRetries: maxRetries}
		step.SetInput("searchTerm", map[string]any{"value": "x"}, "")
		steps := []*workflow.Step{step}
		ctx := context.Background()

		rounds := rapid.IntRange(1, 20).Draw(t, "rounds")
		for i := 0; i < rounds; i++ {
			if step.Status != workflow.StatusPending {
				break
			}
			if err := step.Start(); err != nil {
				t.Fatalf("start: %v", err)
			}

			before := step.RetryCount
			var ok bool
			switch rapid.IntRange(0, 2).Draw(t, "strategy") {
			case 0:
				fault := rapid.SampledFrom(faults).Draw(t, "fault")
				ok = r.IntelligentRecovery(ctx, step, steps, classifier.Diagnosis{Category: classifier.Recoverable, Fault: fault})
			case 1:
				ok = r.FixValidation(ctx, step, steps, errors.New("searchTerm must be a string"))
			case 2:
				ok = r.ConvertToQuestion(ctx, step, steps, errors.New("please provide a term"))
			}

			if step.RetryCount > step.MaxRetries {
				t.Fatalf("retry count %d exceeds max %d", step.RetryCount, step.MaxRetries)
			}
			if !ok {
				if step.RetryCount != before || step.Status != workflow.StatusRunning {
					t.Fatalf("failed recovery mutated step: %+v", step)
				}
				_ = step.Fail(errors.New("unrecovered"))
			}
		}
	})
}
