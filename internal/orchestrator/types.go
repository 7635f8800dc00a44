// Package orchestrator implements the Orchestrator : the
// plan/assign/aggregate lifecycle that turns a Task into a TaskResult by
// driving the Planner and the Worker Pool against one session's directory
// tree.
package orchestrator

import (
	"sync"
	"time"

	"github.com/tachikoma-run/tachikoma/internal/planner"
)

// Task is the caller's request. Immutable after submission.
type Task struct {
	ID           string
	Kind         string // atomic | composite
	Objective    string
	Constraints  []string
	OutputSchema interface{}
	Priority     planner.Priority
	Complexity   planner.Complexity
}

// liftTask fills in the priority/complexity defaults assigns
// an OrchestratorTask when the caller left them unset.
func liftTask(t Task) Task {
	if t.Priority == "" {
		t.Priority = planner.PriorityMedium
	}
	if t.Complexity == "" {
		t.Complexity = planner.ComplexityModerate
	}
	return t
}

// SubTaskStatus is a SubTask's lifecycle state.
type SubTaskStatus string

const (
	SubTaskPending   SubTaskStatus = "pending"
	SubTaskAssigned  SubTaskStatus = "assigned"
	SubTaskRunning   SubTaskStatus = "running"
	SubTaskSuccess   SubTaskStatus = "success"
	SubTaskFailure   SubTaskStatus = "failure"
	SubTaskRetrying  SubTaskStatus = "retrying"
	SubTaskCancelled SubTaskStatus = "cancelled"
)

// SubTask is a planner-produced unit, owned by the orchestrator for the
// duration of a run.
type SubTask struct {
	ID                string
	ParentTaskID      string
	Objective         string
	Constraints       []string
	EstimatedDuration time.Duration
	Dependencies      []string
	Status            SubTaskStatus
	AssignedWorkerID  string
	Result            *TaskResult
}

// ExecutionPlan is an ordered list of steps plus an isParallel summary.
type ExecutionPlan struct {
	IsParallel bool
	Steps      []ExecutionStep
}

// ExecutionStep is a 1-based-order batch of sub-task ids.
type ExecutionStep struct {
	Order      int
	SubtaskIDs []string
	Parallel   bool
}

// ExecutionState is orchestrator-internal bookkeeping for one run, created
// on Run and discarded on return. mu guards every field below it since
// parallel ExecutionSteps execute sub-tasks concurrently.
type ExecutionState struct {
	CurrentStep int
	TotalSteps  int
	StartTime   time.Time

	mu                sync.Mutex
	CompletedSubtasks map[string]*TaskResult
	FailedSubtasks    map[string]string
	RunningSubtasks   map[string]bool
	TotalTokens       int
	TotalRetries      int
}

func newExecutionState() *ExecutionState {
	return &ExecutionState{
		CompletedSubtasks: make(map[string]*TaskResult),
		FailedSubtasks:    make(map[string]string),
		RunningSubtasks:   make(map[string]bool),
		StartTime:         time.Now(),
	}
}

func (s *ExecutionState) dependenciesSatisfied(deps []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range deps {
		if _, ok := s.CompletedSubtasks[d]; !ok {
			return false
		}
	}
	return true
}

func (s *ExecutionState) setRunning(id string) {
	s.mu.Lock()
	s.RunningSubtasks[id] = true
	s.mu.Unlock()
}

func (s *ExecutionState) clearRunning(id string) {
	s.mu.Lock()
	delete(s.RunningSubtasks, id)
	s.mu.Unlock()
}

func (s *ExecutionState) markCompleted(id string, r *TaskResult) {
	s.mu.Lock()
	s.CompletedSubtasks[id] = r
	s.TotalTokens += r.Metrics.Tokens
	s.mu.Unlock()
}

func (s *ExecutionState) markFailed(id, reason string) {
	s.mu.Lock()
	s.FailedSubtasks[id] = reason
	s.mu.Unlock()
}

func (s *ExecutionState) addRetry() {
	s.mu.Lock()
	s.TotalRetries++
	s.mu.Unlock()
}

func (s *ExecutionState) snapshotCounts() (completed, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.CompletedSubtasks), len(s.FailedSubtasks)
}

// Metrics is the per-TaskResult accounting block.
type Metrics struct {
	Start     time.Time
	End       time.Time
	Duration  time.Duration
	Tokens    int
	ToolCalls int
	Retries   int
}

// TraceData carries this result's distributed-tracing footprint.
type TraceData struct {
	TraceID    string
	SpanID     string
	Operation  string
	Attributes map[string]interface{}
	Events     []string
	Duration   time.Duration
}

// TaskResult is the outcome of a Task or a single SubTask.
type TaskResult struct {
	TaskID    string
	Status    string // success | failure | partial
	Output    interface{}
	Artifacts []string
	Metrics   Metrics
	Trace     TraceData
	Error     string
}

// AggregatedResult is the Aggregate phase's output.
type AggregatedResult struct {
	Status         string // success | failure | partial
	Output         interface{}
	PerSubtask     map[string]*TaskResult
	SuccessCount   int
	FailureCount   int
	TotalDuration  time.Duration
	TotalTokens    int
	TotalRetries   int
}
