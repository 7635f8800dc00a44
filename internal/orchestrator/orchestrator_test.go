package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachikoma-run/tachikoma/internal/completer"
	"github.com/tachikoma-run/tachikoma/internal/events"
	"github.com/tachikoma-run/tachikoma/internal/planner"
	"github.com/tachikoma-run/tachikoma/internal/pool"
	"github.com/tachikoma-run/tachikoma/internal/session"
)

const twoStepPlan = `{
  "reasoning": "two steps",
  "subtasks": [
    {"id": "a", "objective": "first", "constraints": [], "estimatedMinutes": 1, "dependencies": []},
    {"id": "b", "objective": "second", "constraints": [], "estimatedMinutes": 1, "dependencies": ["a"]}
  ],
  "executionPlan": {
    "isParallel": false,
    "steps": [
      {"order": 1, "subtaskIds": ["a"], "parallel": false},
      {"order": 2, "subtaskIds": ["b"], "parallel": false}
    ]
  },
  "estimatedTotalMinutes": 2,
  "complexityScore": 2
}`

const parallelPlan = `{
  "reasoning": "one parallel step",
  "subtasks": [
    {"id": "a", "objective": "first", "constraints": [], "estimatedMinutes": 1, "dependencies": []},
    {"id": "b", "objective": "second", "constraints": [], "estimatedMinutes": 1, "dependencies": []}
  ],
  "executionPlan": {
    "isParallel": true,
    "steps": [
      {"order": 1, "subtaskIds": ["a", "b"], "parallel": true}
    ]
  },
  "estimatedTotalMinutes": 2,
  "complexityScore": 2
}`

// autoCompleteWorkers marks every assigned worker successful shortly after
// task:assigned fires, simulating the external worker process the
// completion gate polls for.
func autoCompleteWorkers(t *testing.T, bus *events.Bus, mgr *session.Manager, wp *pool.Pool) {
	t.Helper()
	bus.Subscribe("task:assigned", func(ev events.Event) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			for i := 0; i < 3; i++ {
				id := pool.DefaultWorkerID(mgr.SessionID(), i)
				_ = mgr.WriteWorkerStatus(id, session.WorkerStatusFile{Status: "success", LastHeartbeat: time.Now()})
			}
		}()
	})
}

func newTestOrchestrator(t *testing.T, mc *completer.MockCompleter) (*Orchestrator, *session.Manager, func()) {
	t.Helper()
	dir := t.TempDir()
	sessionID := session.NewSessionID()
	mgr := session.NewManager(dir, sessionID, nil)
	require.NoError(t, mgr.InitializeSession())

	wp := pool.New(pool.Config{MaxWorkers: 5, Strategy: pool.StrategyRoundRobin})
	p := planner.New(mc, 1)

	o := New(p, wp, Config{
		RootDir:                 dir,
		DefaultWorkerCount:      1,
		DefaultTimeout:          2 * time.Second,
		MaxWorkers:              5,
		PollInterval:            5 * time.Millisecond,
		OutputStrategy:          OutputMerge,
		AllowPartialSuccess:     true,
		PartialSuccessThreshold: 0.5,
	}).WithSessionManager(mgr)

	autoCompleteWorkers(t, o.Bus(), mgr, wp)

	return o, mgr, func() { _ = mgr.Close() }
}

func TestRunSucceedsOnSerialTwoStepPlan(t *testing.T) {
	mc := completer.NewMockCompleter(completer.Response{Content: twoStepPlan})
	o, _, cleanup := newTestOrchestrator(t, mc)
	defer cleanup()

	result, err := o.Run(context.Background(), Task{ID: "task-1", Objective: "do the thing"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "success", result.Status)
}

func TestRunSucceedsOnParallelStep(t *testing.T) {
	mc := completer.NewMockCompleter(completer.Response{Content: parallelPlan})
	o, _, cleanup := newTestOrchestrator(t, mc)
	defer cleanup()

	result, err := o.Run(context.Background(), Task{ID: "task-2", Objective: "do two things at once"})
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
}

func TestRunFailsFastWhenPlanningFailsPersistently(t *testing.T) {
	mc := completer.NewMockCompleter(completer.Response{Content: "not json"}, completer.Response{Content: "still not json"})
	dir := t.TempDir()
	mgr := session.NewManager(dir, session.NewSessionID(), nil)
	require.NoError(t, mgr.InitializeSession())
	wp := pool.New(pool.Config{MaxWorkers: 5})
	p := planner.New(mc, 1)
	o := New(p, wp, Config{RootDir: dir, DefaultWorkerCount: 1, DefaultTimeout: time.Second}).WithSessionManager(mgr)

	result, err := o.Run(context.Background(), Task{ID: "task-3", Objective: "bad plan"})
	require.NoError(t, err)
	assert.Equal(t, "failure", result.Status)
	assert.NotEmpty(t, result.Error)
}

func TestRunShortCircuitsOnAlreadyCancelledContext(t *testing.T) {
	mc := completer.NewMockCompleter(completer.Response{Content: twoStepPlan})
	o, _, cleanup := newTestOrchestrator(t, mc)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := o.Run(ctx, Task{ID: "task-4", Objective: "cancelled before start"})
	require.NoError(t, err)
	assert.Equal(t, "failure", result.Status)
}

func TestRunPersistsPlanAndProgressToSession(t *testing.T) {
	mc := completer.NewMockCompleter(completer.Response{Content: twoStepPlan})
	o, mgr, cleanup := newTestOrchestrator(t, mc)
	defer cleanup()

	_, err := o.Run(context.Background(), Task{ID: "task-5", Objective: "persist me"})
	require.NoError(t, err)

	plan, err := mgr.ReadPlan()
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Len(t, plan.SubTasks, 2)

	progress, err := mgr.ReadProgress()
	require.NoError(t, err)
	require.NotNil(t, progress)
	assert.Equal(t, 2, progress.TotalSteps)
}

func TestLiftTaskAppliesDefaults(t *testing.T) {
	lifted := liftTask(Task{ID: "t1"})
	assert.Equal(t, planner.PriorityMedium, lifted.Priority)
	assert.Equal(t, planner.ComplexityModerate, lifted.Complexity)
}
