// Package planner implements the Planning Parser  and the
// Planner : turning a free-form LLM completion into a
// validated execution plan, and orchestrating the prompt/parse/retry cycle
// end to end.
package planner

// PlanningOutput is the validated shape parse() produces.
type PlanningOutput struct {
	Reasoning             string            `json:"reasoning"`
	Subtasks              []SubtaskSpec     `json:"subtasks"`
	ExecutionPlan         ExecutionPlanSpec `json:"executionPlan"`
	EstimatedTotalMinutes float64           `json:"estimatedTotalMinutes"`
	ComplexityScore       float64           `json:"complexityScore"`
}

// SubtaskSpec is one planner-produced sub-task, pre-assignment.
type SubtaskSpec struct {
	ID               string   `json:"id"`
	Objective        string   `json:"objective"`
	Constraints      []string `json:"constraints"`
	EstimatedMinutes float64  `json:"estimatedMinutes"`
	Dependencies     []string `json:"dependencies"`
}

// ExecutionPlanSpec is the planner's proposed step structure.
type ExecutionPlanSpec struct {
	IsParallel bool           `json:"isParallel"`
	Steps      []StepSpec     `json:"steps"`
}

// StepSpec is one execution step.
type StepSpec struct {
	Order      int      `json:"order"`
	SubtaskIDs []string `json:"subtaskIds"`
	Parallel   bool     `json:"parallel"`
}

// Priority and Complexity mirror the OrchestratorTask entity.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)
