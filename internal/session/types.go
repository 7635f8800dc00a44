package session

import "time"

// PlanFile is orchestrator/plan.json.
type PlanFile struct {
	SessionID      string          `json:"sessionId"`
	TaskID         string          `json:"taskId"`
	SubTasks       []SubTaskRecord `json:"subtasks"`
	ExecutionPlan  ExecutionPlan   `json:"executionPlan"`
	Reasoning      string          `json:"reasoning,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// SubTaskRecord mirrors the SubTask entity as persisted.
type SubTaskRecord struct {
	ID                string   `json:"id"`
	ParentTaskID      string   `json:"parentTaskId"`
	Objective         string   `json:"objective"`
	Constraints       []string `json:"constraints"`
	EstimatedDuration int64    `json:"estimatedDurationMs"`
	Dependencies      []string `json:"dependencies"`
	Status            string   `json:"status"`
	AssignedWorkerID  string   `json:"assignedWorkerId,omitempty"`
}

// ExecutionPlan mirrors the plan's ExecutionPlan/ExecutionStep entities.
type ExecutionPlan struct {
	IsParallel bool             `json:"isParallel"`
	Steps      []ExecutionStep  `json:"steps"`
}

type ExecutionStep struct {
	Order      int      `json:"order"`
	SubtaskIDs []string `json:"subtaskIds"`
	Parallel   bool     `json:"parallel"`
}

// ProgressFile is orchestrator/progress.json.
type ProgressFile struct {
	SessionID   string    `json:"sessionId"`
	CurrentStep int       `json:"currentStep"`
	TotalSteps  int       `json:"totalSteps"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// DecisionRecord is one line of orchestrator/decisions.jsonl.
type DecisionRecord struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // approval | intervention | retry | delegation_change | abort
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// WorkerStatusFile is workers/<id>/status.json.
type WorkerStatusFile struct {
	WorkerID      string     `json:"workerId"`
	Status        string     `json:"status"` // idle | busy | draining | offline | success | error
	Progress      float64    `json:"progress"`
	CurrentTaskID string     `json:"currentTaskId,omitempty"`
	Load          *WorkerLoad `json:"load,omitempty"`
	LastHeartbeat time.Time  `json:"lastHeartbeat"`
}

type WorkerLoad struct {
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryPercent float64 `json:"memoryPercent"`
	QueuedTasks   int     `json:"queuedTasks"`
}

// ThinkingRecord is one line of workers/<id>/thinking.jsonl.
type ThinkingRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Stage     string    `json:"stage"` // analysis | planning | decision | reflection
	Content   string    `json:"content"`
}

// ActionRecord is one line of workers/<id>/actions.jsonl.
type ActionRecord struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"` // tool_call | code_execution | file_operation | api_call | message
	Data      map[string]interface{} `json:"data,omitempty"`
	Status    string                 `json:"status,omitempty"` // success | error; the completion gate reads terminal status from status.json, not from here
}

// PendingApprovalFile is workers/<id>/pending_approval.json, created by a worker.
type PendingApprovalFile struct {
	ID        string                 `json:"id"`
	WorkerID  string                 `json:"workerId"`
	Question  string                 `json:"question"`
	Context   map[string]interface{} `json:"context,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// ApprovalResponseFile is workers/<id>/approval_response.json, created by
// the orchestrator in answer to a PendingApprovalFile.
type ApprovalResponseFile struct {
	ApprovalID string    `json:"approvalId"`
	Approved   bool      `json:"approved"`
	Reason     string    `json:"reason,omitempty"`
	RespondedAt time.Time `json:"respondedAt"`
}

// InterventionFile is workers/<id>/intervention.json, created by the
// orchestrator to redirect/pause/resume/abort/guide a worker out of band.
type InterventionFile struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"` // redirect | pause | resume | abort | guidance
	Body         map[string]interface{} `json:"body,omitempty"`
	Acknowledged bool                   `json:"acknowledged"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// SharedContextFile is shared/context.json.
type SharedContextFile struct {
	SessionID string                 `json:"sessionId"`
	Data      map[string]interface{} `json:"data"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// MessageRecord is one line of shared/messages.jsonl.
type MessageRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Content   string    `json:"content"`
}
