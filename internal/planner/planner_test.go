package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachikoma-run/tachikoma/internal/completer"
)

func baseRequest() PlanRequest {
	return PlanRequest{
		TaskID:             "task-1",
		Objective:          "ship the feature",
		Priority:           PriorityMedium,
		Complexity:         ComplexityModerate,
		DefaultWorkerCount: 2,
		DefaultTimeout:     5 * time.Minute,
	}
}

func TestPlanSucceedsOnFirstAttempt(t *testing.T) {
	mc := completer.NewMockCompleter(completer.Response{Content: validPlan, Usage: completer.Usage{InputTokens: 10, OutputTokens: 20}})
	p := New(mc, 2)

	res, err := p.Plan(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.Degraded)
	assert.Equal(t, 10, res.Usage.InputTokens)
	assert.Equal(t, 20, res.Usage.OutputTokens)
	assert.Len(t, res.Output.Subtasks, 2)
}

func TestPlanRetriesOnInvalidJSONThenSucceeds(t *testing.T) {
	mc := completer.NewMockCompleter(
		completer.Response{Content: "not json", Usage: completer.Usage{InputTokens: 5, OutputTokens: 5}},
		completer.Response{Content: validPlan, Usage: completer.Usage{InputTokens: 5, OutputTokens: 5}},
	)
	p := New(mc, 2)

	res, err := p.Plan(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 10, res.Usage.InputTokens+0) // accumulated across both attempts
	assert.Equal(t, 2, mc.CallCount)
}

func TestPlanFailsFastOnFatalCompleterError(t *testing.T) {
	mc := completer.NewMockCompleter(completer.Response{Content: validPlan})
	mc.FailAt(0, &completer.Error{Code: "bad_auth", Retryable: false})
	p := New(mc, 3)

	_, err := p.Plan(context.Background(), baseRequest())
	require.Error(t, err)
	assert.Equal(t, 1, mc.CallCount)
}

func TestPlanExhaustsRetriesOnPersistentParseFailure(t *testing.T) {
	mc := completer.NewMockCompleter(
		completer.Response{Content: "garbage one"},
		completer.Response{Content: "garbage two"},
	)
	p := New(mc, 1)

	_, err := p.Plan(context.Background(), baseRequest())
	require.Error(t, err)
	assert.Equal(t, 2, mc.CallCount)
}

func TestDeriveDelegationScalesWorkersByComplexity(t *testing.T) {
	out := PlanningOutput{Subtasks: []SubtaskSpec{{}, {}, {}, {}}, ExecutionPlan: ExecutionPlanSpec{IsParallel: true}}

	simple := baseRequest()
	simple.Complexity = ComplexitySimple
	dSimple := deriveDelegation(simple, out)

	complex := baseRequest()
	complex.Complexity = ComplexityComplex
	dComplex := deriveDelegation(complex, out)

	assert.Less(t, dComplex.WorkerCount, dSimple.WorkerCount)
}

func TestDeriveDelegationCapsWorkerCountAtThreeTimesDefault(t *testing.T) {
	subtasks := make([]SubtaskSpec, 50)
	out := PlanningOutput{Subtasks: subtasks, ExecutionPlan: ExecutionPlanSpec{IsParallel: true}}
	req := baseRequest()
	req.Complexity = ComplexityComplex
	req.DefaultWorkerCount = 2

	d := deriveDelegation(req, out)
	assert.LessOrEqual(t, d.WorkerCount, 6)
}

func TestDeriveDelegationHonorsMaxExecutionTimeCap(t *testing.T) {
	out := PlanningOutput{Subtasks: []SubtaskSpec{{EstimatedMinutes: 1000}}}
	req := baseRequest()
	req.ContextConstraints.MaxExecutionTime = 2 * time.Minute

	d := deriveDelegation(req, out)
	assert.Equal(t, 2*time.Minute, d.Timeout)
}

func TestDeriveDelegationModeIsAlwaysCommunication(t *testing.T) {
	d := deriveDelegation(baseRequest(), PlanningOutput{Subtasks: []SubtaskSpec{{}}})
	assert.Equal(t, "communication", d.Mode)
}
