package planner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tachikoma-run/tachikoma/internal/completer"
)

// ContextConstraints bounds the delegation derivation.
type ContextConstraints struct {
	MaxExecutionTime time.Duration
}

// PlanRequest is the input to Plan: the task to decompose plus the
// defaults used to derive a DelegationConfig.
type PlanRequest struct {
	TaskID              string
	Objective           string
	Priority            Priority
	Complexity          Complexity
	Constraints         []string
	ContextConstraints  ContextConstraints
	DefaultWorkerCount  int
	DefaultTimeout      time.Duration
	MaxRetries          int
	BaseDelay           time.Duration
	BackoffFactor       float64
	MaxDelay            time.Duration
}

// DelegationConfig is the derived worker/timeout/retry shape for the plan.
type DelegationConfig struct {
	Mode          string
	WorkerCount   int
	Timeout       time.Duration
	MaxRetries    int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

// PlanResult is Plan's full outcome: the validated output, the derived
// delegation config, accumulated token usage across every completer round
// trip (initial attempt plus feedback retries), and whether the result was
// produced under the degraded fallback path.
type PlanResult struct {
	Output     PlanningOutput
	Delegation DelegationConfig
	Usage      completer.Usage
	Warnings   []string
	Degraded   bool
	Attempts   int
}

// Planner turns a PlanRequest into a PlanResult by prompting a Completer
// and feeding parse failures back as corrective instructions.
type Planner struct {
	Completer  completer.Completer
	MaxRetries int
}

// New returns a Planner bounded to maxRetries feedback rounds.
func New(c completer.Completer, maxRetries int) *Planner {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Planner{Completer: c, MaxRetries: maxRetries}
}

// Plan decomposes req.Objective into a validated execution plan, retrying
// against parse failures. When the attempts end on a retryable completer
// error, it plans once more with a "conservativeMode: true" constraint
// added and marks that result Degraded.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	result, err := p.planWithRetry(ctx, req, 0)
	if err == nil {
		return result, nil
	}

	if !isRetryableCompleterErr(err) {
		return nil, err
	}

	degradedReq := req
	degradedReq.Constraints = append(append([]string{}, req.Constraints...), "conservativeMode: true")
	result, derr := p.planWithRetry(ctx, degradedReq, 0)
	if derr != nil {
		return nil, fmt.Errorf("planning failed after degraded retry: %w", derr)
	}
	result.Degraded = true
	return result, nil
}

// planWithRetry runs the prompt/parse/feedback cycle, bounded by
// p.MaxRetries additional attempts beyond the first.
func (p *Planner) planWithRetry(ctx context.Context, req PlanRequest, depth int) (*PlanResult, error) {
	systemPrompt := buildSystemPrompt(req)
	userPrompt := buildUserPrompt(req)

	messages := []completer.Message{{Role: completer.RoleUser, Content: userPrompt}}

	var totalUsage completer.Usage
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		attempts++
		temperature := 0.7
		if attempt > 0 {
			temperature = 0.1
		}

		resp, err := p.Completer.Complete(ctx, completer.Request{
			SystemPrompt: systemPrompt,
			Messages:     messages,
			Temperature:  temperature,
			MaxTokens:    2048,
		})
		if err != nil {
			if ce, ok := err.(*completer.Error); ok && !ce.Retryable {
				return nil, fmt.Errorf("planner: fatal completer error: %w", err)
			}
			lastErr = err
			continue
		}
		totalUsage.InputTokens += resp.Usage.InputTokens
		totalUsage.OutputTokens += resp.Usage.OutputTokens

		pr := Parse(resp.Content)
		if pr.OK {
			delegation := deriveDelegation(req, *pr.Data)
			return &PlanResult{
				Output:     *pr.Data,
				Delegation: delegation,
				Usage:      totalUsage,
				Warnings:   pr.Warnings,
				Attempts:   attempts,
			}, nil
		}

		lastErr = pr.Err
		messages = append(messages,
			completer.Message{Role: completer.RoleAssistant, Content: resp.Content},
			completer.Message{Role: completer.RoleUser, Content: buildFeedbackPrompt(pr.Err)},
		)
	}

	return nil, fmt.Errorf("planner: exhausted %d attempt(s): %w", attempts, lastErr)
}

func isRetryableCompleterErr(err error) bool {
	var ce *completer.Error
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Retryable
}

func buildSystemPrompt(req PlanRequest) string {
	var b strings.Builder
	b.WriteString("You are a planning engine for a multi-agent task orchestration system. ")
	b.WriteString("Decompose the given objective into an ordered set of sub-tasks and an execution plan. ")
	b.WriteString("Respond with a single JSON object and nothing else, matching this shape exactly:\n")
	b.WriteString(`{"reasoning": string, "subtasks": [{"id": string, "objective": string, "constraints": [string], "estimatedMinutes": number, "dependencies": [string]}], "executionPlan": {"isParallel": bool, "steps": [{"order": number, "subtaskIds": [string], "parallel": bool}]}, "estimatedTotalMinutes": number, "complexityScore": number}`)
	b.WriteString("\nEvery subtask id referenced in dependencies or executionPlan.steps must exist among subtasks. ")
	b.WriteString("A subtask must not depend on itself, and the dependency graph must not contain a cycle. ")
	b.WriteString("complexityScore must be between 1 and 10.")
	return b.String()
}

func buildUserPrompt(req PlanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task ID: %s\n", req.TaskID)
	fmt.Fprintf(&b, "Objective: %s\n", req.Objective)
	fmt.Fprintf(&b, "Priority: %s\n", req.Priority)
	fmt.Fprintf(&b, "Complexity: %s\n", req.Complexity)
	if len(req.Constraints) > 0 {
		fmt.Fprintf(&b, "Constraints:\n")
		for _, c := range req.Constraints {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if req.ContextConstraints.MaxExecutionTime > 0 {
		fmt.Fprintf(&b, "Maximum total execution time: %s\n", req.ContextConstraints.MaxExecutionTime)
	}
	return b.String()
}

// buildFeedbackPrompt turns a ParseError into a corrective instruction for
// the next completer round trip.
func buildFeedbackPrompt(err error) string {
	return fmt.Sprintf(
		"Your previous response was invalid: %s\nRespond again with a single corrected JSON object matching the required shape exactly, and nothing else.",
		err.Error(),
	)
}

// deriveDelegation implements worker-count/timeout formulas.
func deriveDelegation(req PlanRequest, out PlanningOutput) DelegationConfig {
	defaultWorkers := req.DefaultWorkerCount
	if defaultWorkers < 1 {
		defaultWorkers = 1
	}
	defaultTimeout := req.DefaultTimeout
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}

	var workerCount int
	if !out.ExecutionPlan.IsParallel {
		workerCount = 1
	} else {
		factor := complexityWorkerFactor(req.Complexity)
		workerCount = int(math.Ceil(float64(len(out.Subtasks)) * factor))
		if workerCount < 1 {
			workerCount = 1
		}
		maxWorkers := 3 * defaultWorkers
		if workerCount > maxWorkers {
			workerCount = maxWorkers
		}
	}

	sumMinutes := 0.0
	for _, st := range out.Subtasks {
		sumMinutes += st.EstimatedMinutes
	}
	sumDuration := time.Duration(sumMinutes * float64(time.Minute))

	var timeout time.Duration
	if sumDuration > 0 {
		timeout = time.Duration(float64(sumDuration) * 1.5)
		if timeout < defaultTimeout {
			timeout = defaultTimeout
		}
	} else {
		timeout = complexityTimeout(req.Complexity, defaultTimeout)
	}
	if cap := req.ContextConstraints.MaxExecutionTime; cap > 0 && timeout > cap {
		timeout = cap
	}

	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	baseDelay := req.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	backoffFactor := req.BackoffFactor
	if backoffFactor <= 0 {
		backoffFactor = 2.0
	}
	maxDelay := req.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	return DelegationConfig{
		Mode:          "communication",
		WorkerCount:   workerCount,
		Timeout:       timeout,
		MaxRetries:    maxRetries,
		BaseDelay:     baseDelay,
		BackoffFactor: backoffFactor,
		MaxDelay:      maxDelay,
	}
}

func complexityWorkerFactor(c Complexity) float64 {
	switch c {
	case ComplexitySimple:
		return 1.0
	case ComplexityComplex:
		return 0.5
	default:
		return 0.7
	}
}

func complexityTimeout(c Complexity, defaultTimeout time.Duration) time.Duration {
	switch c {
	case ComplexitySimple:
		return defaultTimeout
	case ComplexityComplex:
		return 3 * defaultTimeout
	default:
		return 2 * defaultTimeout
	}
}
