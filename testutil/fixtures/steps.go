// Package fixtures 提供测试用的步骤图构造器。
package fixtures

import (
	"github.com/BaSui01/missionflow/workflow"
)

// DefaultMaxRetries is the retry budget of fixture steps.
const DefaultMaxRetries = 3

// Dep binds output of src to an input of the same name.
func Dep(src, output string) workflow.Dependency {
	return workflow.Dependency{SourceStepID: src, OutputName: output}
}

// Step builds a PENDING step.
func Step(id, op string, deps ...workflow.Dependency) *workflow.Step {
	return &workflow.Step{
		ID:           id,
		Operation:    op,
		Description:  op + " " + id,
		Status:       workflow.StatusPending,
		Dependencies: deps,
		MaxRetries:   DefaultMaxRetries,
		OutputNames:  []string{"result"},
	}
}

// Completed builds a COMPLETED step exposing the given text outputs.
func Completed(id string, outputs ...string) *workflow.Step {
	s := Step(id, "GENERATE")
	s.Status = workflow.StatusCompleted
	for _, name := range outputs {
		s.Result = append(s.Result, workflow.Output{Name: name, Type: workflow.OutputTypeText, Result: name + " of " + id})
	}
	return s
}

// Graph numbers steps by position and returns them as a slice.
func Graph(steps ...*workflow.Step) []*workflow.Step {
	for i, s := range steps {
		s.Position = i
	}
	return steps
}

// Chain builds s1 -> s2 -> ... where each step consumes the previous
// step's "result".
func Chain(op string, n int) []*workflow.Step {
	steps := make([]*workflow.Step, 0, n)
	for i := 1; i <= n; i++ {
		id := stepID(i)
		var deps []workflow.Dependency
		if i > 1 {
			deps = append(deps, Dep(stepID(i-1), "result"))
		}
		steps = append(steps, Step(id, op, deps...))
	}
	return Graph(steps...)
}

func stepID(i int) string {
	return "s" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	return string(b)
}
