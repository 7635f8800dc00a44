package orchestrator

import (
	"time"

	"github.com/tachikoma-run/tachikoma/internal/planner"
	"github.com/tachikoma-run/tachikoma/internal/session"
)

func buildSubtaskMap(taskID string, out planner.PlanningOutput) map[string]*SubTask {
	m := make(map[string]*SubTask, len(out.Subtasks))
	for _, spec := range out.Subtasks {
		m[spec.ID] = &SubTask{
			ID:                spec.ID,
			ParentTaskID:      taskID,
			Objective:         spec.Objective,
			Constraints:       spec.Constraints,
			EstimatedDuration: time.Duration(spec.EstimatedMinutes * float64(time.Minute)),
			Dependencies:      spec.Dependencies,
			Status:            SubTaskPending,
		}
	}
	return m
}

func buildExecutionPlan(out planner.PlanningOutput) ExecutionPlan {
	steps := make([]ExecutionStep, 0, len(out.ExecutionPlan.Steps))
	for _, s := range out.ExecutionPlan.Steps {
		steps = append(steps, ExecutionStep{Order: s.Order, SubtaskIDs: s.SubtaskIDs, Parallel: s.Parallel})
	}
	return ExecutionPlan{IsParallel: out.ExecutionPlan.IsParallel, Steps: steps}
}

func buildSessionPlanFile(taskID string, out planner.PlanningOutput) session.PlanFile {
	subtasks := make([]session.SubTaskRecord, 0, len(out.Subtasks))
	for _, spec := range out.Subtasks {
		subtasks = append(subtasks, session.SubTaskRecord{
			ID:                spec.ID,
			ParentTaskID:      taskID,
			Objective:         spec.Objective,
			Constraints:       spec.Constraints,
			EstimatedDuration: int64(spec.EstimatedMinutes * 60 * 1000),
			Dependencies:      spec.Dependencies,
			Status:            string(SubTaskPending),
		})
	}
	steps := make([]session.ExecutionStep, 0, len(out.ExecutionPlan.Steps))
	for _, s := range out.ExecutionPlan.Steps {
		steps = append(steps, session.ExecutionStep{Order: s.Order, SubtaskIDs: s.SubtaskIDs, Parallel: s.Parallel})
	}
	return session.PlanFile{
		TaskID:        taskID,
		SubTasks:      subtasks,
		ExecutionPlan: session.ExecutionPlan{IsParallel: out.ExecutionPlan.IsParallel, Steps: steps},
		Reasoning:     out.Reasoning,
	}
}
