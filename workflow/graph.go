package workflow

import (
	"reflect"
)

// FindStep returns the step with the given id.
func FindStep(steps []*Step, id string) *Step {
	for _, s := range steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// AreDependenciesSatisfied is true iff every dependency source is COMPLETED
// and exposes the named output.
func AreDependenciesSatisfied(step *Step, steps []*Step) bool {
	for _, dep := range step.Dependencies {
		src := FindStep(steps, dep.SourceStepID)
		if src == nil || src.Status != StatusCompleted {
			return false
		}
		if _, ok := src.Output(dep.OutputName); !ok {
			return false
		}
	}
	return true
}

// IsPermanentlyUnsatisfied reports whether some dependency can never be
// satisfied: the source is missing, CANCELLED, ERROR with no recovery path,
// COMPLETED without the named output, or itself permanently unsatisfied.
func IsPermanentlyUnsatisfied(step *Step, steps []*Step) bool {
	return permanentlyUnsatisfied(step, steps, make(map[string]bool))
}

func permanentlyUnsatisfied(step *Step, steps []*Step, visited map[string]bool) bool {
	if visited[step.ID] {
		return false
	}
	visited[step.ID] = true

	for _, dep := range step.Dependencies {
		src := FindStep(steps, dep.SourceStepID)
		if src == nil {
			return true
		}
		switch src.Status {
		case StatusCancelled:
			return true
		case StatusError:
			if src.IsDeadEnd() {
				return true
			}
		case StatusCompleted:
			if _, ok := src.Output(dep.OutputName); !ok {
				return true
			}
			continue
		}
		if permanentlyUnsatisfied(src, steps, visited) {
			return true
		}
	}
	return false
}

// Dependents returns the steps that depend directly on stepID.
func Dependents(stepID string, steps []*Step) []*Step {
	var out []*Step
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			if dep.SourceStepID == stepID {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// IsEndpoint reports whether no non-terminal step depends on step.
func IsEndpoint(step *Step, steps []*Step) bool {
	for _, d := range Dependents(step.ID, steps) {
		if d.ID != step.ID && !d.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// ResolveInputs merges literal inputs with upstream outputs. Literal inputs
// win so that repaired values are not overwritten by the dependency.
func ResolveInputs(step *Step, steps []*Step) map[string]any {
	resolved := make(map[string]any, len(step.Inputs)+len(step.Dependencies))
	for _, dep := range step.Dependencies {
		src := FindStep(steps, dep.SourceStepID)
		if src == nil {
			continue
		}
		if out, ok := src.Output(dep.OutputName); ok {
			resolved[dep.Input()] = out.Result
		}
	}
	for name, in := range step.Inputs {
		resolved[name] = in.Value
	}
	return resolved
}

// IsPlanResult reports whether outputs carry a further step list.
func IsPlanResult(outputs []Output) bool {
	for _, out := range outputs {
		if out.Type == OutputTypePlan {
			return true
		}
		switch out.Result.(type) {
		case []*Step, []Step:
			return true
		}
	}
	return false
}

// PlanSize counts the steps carried by a plan result.
func PlanSize(outputs []Output) int {
	n := 0
	for _, out := range outputs {
		if out.Result == nil {
			continue
		}
		v := reflect.ValueOf(out.Result)
		if v.Kind() == reflect.Slice {
			n += v.Len()
		}
	}
	return n
}

// =============================================================================
// 循环检测
// =============================================================================

// DetectCycle returns the step ids of the first dependency cycle found by
// depth-first search, or nil when the graph is acyclic. The last id in the
// cycle depends on the first.
func DetectCycle(steps []*Step) []string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	var path []string

	for _, s := range steps {
		if visited[s.ID] {
			continue
		}
		if cycle := findCycleDFS(s, steps, visited, recStack, &path); cycle != nil {
			return cycle
		}
	}
	return nil
}

func findCycleDFS(step *Step, steps []*Step, visited, recStack map[string]bool, path *[]string) []string {
	visited[step.ID] = true
	recStack[step.ID] = true
	*path = append(*path, step.ID)

	for _, dep := range step.Dependencies {
		src := FindStep(steps, dep.SourceStepID)
		if src == nil {
			continue
		}
		if !visited[src.ID] {
			if cycle := findCycleDFS(src, steps, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[src.ID] {
			// back edge
			for i, id := range *path {
				if id == src.ID {
					return append([]string(nil), (*path)[i:]...)
				}
			}
		}
	}

	recStack[step.ID] = false
	*path = (*path)[:len(*path)-1]
	return nil
}

// DroppedEdge records a dependency removed to break a cycle.
type DroppedEdge struct {
	StepID     string     `json:"step_id"`
	Dependency Dependency `json:"dependency"`
	Cycle      []string   `json:"cycle"`
}

// BreakCycle finds the first cycle and removes the back edge that closes it.
// The second return value is false when the graph is already acyclic.
func BreakCycle(steps []*Step) (DroppedEdge, bool) {
	cycle := DetectCycle(steps)
	if len(cycle) == 0 {
		return DroppedEdge{}, false
	}

	from := FindStep(steps, cycle[len(cycle)-1])
	target := cycle[0]
	for i, dep := range from.Dependencies {
		if dep.SourceStepID != target {
			continue
		}
		from.Dependencies = append(from.Dependencies[:i:i], from.Dependencies[i+1:]...)
		return DroppedEdge{StepID: from.ID, Dependency: dep, Cycle: cycle}, true
	}
	return DroppedEdge{}, false
}
