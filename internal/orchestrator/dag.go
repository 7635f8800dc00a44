package orchestrator

import (
	"fmt"
	"strings"

	"github.com/tachikoma-run/tachikoma/internal/apperrors"
)

// validatePlanDAG re-validates the DAG before the assign phase begins:
// dependencies reference existing ids, no self-loop, no cycle, steps cover
// disjoint id sets, and every step id exists among the sub-tasks. Grounded
// on orchestration/workflow_dag.go's hasCycleDFS grey/black coloring.
func validatePlanDAG(subtasks map[string]*SubTask, plan ExecutionPlan) error {
	for id, st := range subtasks {
		for _, dep := range st.Dependencies {
			if dep == id {
				return apperrors.New("orchestrator.validatePlanDAG", "Internal",
					fmt.Errorf("subtask %q depends on itself", id))
			}
			if _, ok := subtasks[dep]; !ok {
				return apperrors.New("orchestrator.validatePlanDAG", "Internal",
					fmt.Errorf("subtask %q depends on unknown subtask %q", id, dep))
			}
		}
	}

	seen := make(map[string]bool)
	for _, step := range plan.Steps {
		for _, id := range step.SubtaskIDs {
			if _, ok := subtasks[id]; !ok {
				return apperrors.New("orchestrator.validatePlanDAG", "Internal",
					fmt.Errorf("step %d references unknown subtask %q", step.Order, id))
			}
			if seen[id] {
				return apperrors.New("orchestrator.validatePlanDAG", "Internal",
					fmt.Errorf("subtask %q appears in more than one step", id))
			}
			seen[id] = true
		}
	}

	if cyc, found := findCycle(subtasks); found {
		return apperrors.New("orchestrator.validatePlanDAG", "Internal",
			fmt.Errorf("circular dependency detected: %s", cyc))
	}

	return nil
}

func findCycle(subtasks map[string]*SubTask) (string, bool) {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(subtasks))
	var path []string

	var visit func(id string) (string, bool)
	visit = func(id string) (string, bool) {
		color[id] = grey
		path = append(path, id)
		for _, dep := range subtasks[id].Dependencies {
			switch color[dep] {
			case grey:
				return strings.Join(append(append([]string{}, path...), dep), " -> "), true
			case white:
				if cyc, found := visit(dep); found {
					return cyc, true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return "", false
	}

	for id := range subtasks {
		if color[id] == white {
			if cyc, found := visit(id); found {
				return cyc, true
			}
		}
	}
	return "", false
}
