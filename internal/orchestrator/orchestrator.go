package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tachikoma-run/tachikoma/internal/events"
	"github.com/tachikoma-run/tachikoma/internal/obs"
	"github.com/tachikoma-run/tachikoma/internal/planner"
	"github.com/tachikoma-run/tachikoma/internal/pool"
	"github.com/tachikoma-run/tachikoma/internal/session"
)

// Config bounds the defaults the Orchestrator falls back to when a plan
// doesn't derive its own delegation values.
type Config struct {
	RootDir                 string
	DefaultWorkerCount      int
	DefaultTimeout          time.Duration
	MaxWorkers              int
	MaxRetries              int
	BaseDelay               time.Duration
	BackoffFactor           float64
	MaxDelay                time.Duration
	AllowPartialSuccess     bool
	PartialSuccessThreshold float64
	OutputStrategy          OutputStrategy
	PollInterval            time.Duration
	Logger                  obs.Logger
	Metrics                 *obs.Metrics
}

// Orchestrator drives the plan -> assign -> aggregate lifecycle.
type Orchestrator struct {
	planner *planner.Planner
	pool    *pool.Pool
	bus     *events.Bus
	cfg     Config
	logger  obs.Logger

	injectedSession *session.Manager
}

// New constructs an Orchestrator around a Planner and a Worker Pool.
func New(p *planner.Planner, wp *pool.Pool, cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = obs.NoOpLogger{}
	}
	if cal, ok := logger.(obs.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator")
	}
	if cfg.OutputStrategy == "" {
		cfg.OutputStrategy = OutputMerge
	}
	if cfg.PartialSuccessThreshold <= 0 {
		cfg.PartialSuccessThreshold = 0.5
	}
	return &Orchestrator{planner: p, pool: wp, bus: wp.Bus(), cfg: cfg, logger: logger}
}

// WithSessionManager injects a pre-built session.Manager, letting tests
// (or a caller that wants to pool sessions) bypass session-id generation
// and directory creation. Run does not Close an injected manager.
func (o *Orchestrator) WithSessionManager(mgr *session.Manager) *Orchestrator {
	o.injectedSession = mgr
	return o
}

// Bus exposes the orchestrator's event bus (shared with its pool).
func (o *Orchestrator) Bus() *events.Bus { return o.bus }

// Run executes task end to end.
func (o *Orchestrator) Run(ctx context.Context, task Task) (*TaskResult, error) {
	oTask := liftTask(task)
	state := newExecutionState()

	mgr := o.injectedSession
	injected := mgr != nil
	if !injected {
		sessionID := session.NewSessionID()
		mgr = session.NewManager(o.cfg.RootDir, sessionID, o.logger)
		if err := mgr.InitializeSession(); err != nil {
			return nil, fmt.Errorf("orchestrator: initialize session: %w", err)
		}
	}
	sessionID := mgr.SessionID()

	o.bus.Publish(events.Event{Topic: "plan:start", Payload: oTask.ID})

	if ctx.Err() != nil {
		return o.failureResult(oTask.ID, state, "cancelled before planning"), nil
	}

	planRes, err := o.planner.Plan(ctx, planner.PlanRequest{
		TaskID:             oTask.ID,
		Objective:          oTask.Objective,
		Priority:           oTask.Priority,
		Complexity:         oTask.Complexity,
		Constraints:        oTask.Constraints,
		DefaultWorkerCount: o.cfg.DefaultWorkerCount,
		DefaultTimeout:     o.cfg.DefaultTimeout,
		MaxRetries:         o.cfg.MaxRetries,
		BaseDelay:          o.cfg.BaseDelay,
		BackoffFactor:      o.cfg.BackoffFactor,
		MaxDelay:           o.cfg.MaxDelay,
	})
	if err != nil {
		o.bus.Publish(events.Event{Topic: "plan:failed", Payload: map[string]string{"taskId": oTask.ID, "error": err.Error()}})
		if !injected {
			_ = mgr.Close()
		}
		return o.failureResult(oTask.ID, state, "planning failed: "+err.Error()), nil
	}

	state.TotalSteps = len(planRes.Output.ExecutionPlan.Steps)
	subtaskMap := buildSubtaskMap(oTask.ID, planRes.Output)
	execPlan := buildExecutionPlan(planRes.Output)

	if err := mgr.WritePlan(buildSessionPlanFile(oTask.ID, planRes.Output)); err != nil {
		o.logger.Warn("failed to persist plan", map[string]interface{}{"error": err.Error()})
	}
	o.bus.Publish(events.Event{Topic: "plan:complete", Payload: oTask.ID})

	if err := validatePlanDAG(subtaskMap, execPlan); err != nil {
		if !injected {
			_ = mgr.Close()
		}
		return nil, err
	}

	order := make([]string, 0, len(planRes.Output.Subtasks))
	for _, st := range planRes.Output.Subtasks {
		order = append(order, st.ID)
	}

	retryPolicy := pool.RetryPolicy{
		MaxRetries:    planRes.Delegation.MaxRetries,
		BaseDelay:     planRes.Delegation.BaseDelay,
		BackoffFactor: planRes.Delegation.BackoffFactor,
		MaxDelay:      planRes.Delegation.MaxDelay,
	}

	var registerOnce sync.Once

	for _, step := range execPlan.Steps {
		if ctx.Err() != nil {
			break
		}
		state.CurrentStep = step.Order
		if err := mgr.WriteProgress(session.ProgressFile{CurrentStep: step.Order, TotalSteps: state.TotalSteps, Status: "running"}); err != nil {
			o.logger.Warn("failed to persist progress", map[string]interface{}{"error": err.Error()})
		}

		if step.Parallel {
			var wg sync.WaitGroup
			for _, id := range step.SubtaskIDs {
				wg.Add(1)
				go func(id string) {
					defer wg.Done()
					o.executeSubtask(ctx, mgr, sessionID, id, subtaskMap, state, planRes.Delegation.Timeout, retryPolicy, planRes.Delegation.WorkerCount, &registerOnce)
				}(id)
			}
			wg.Wait()
		} else {
			for _, id := range step.SubtaskIDs {
				o.executeSubtask(ctx, mgr, sessionID, id, subtaskMap, state, planRes.Delegation.Timeout, retryPolicy, planRes.Delegation.WorkerCount, &registerOnce)
			}
		}
	}

	o.bus.Publish(events.Event{Topic: "aggregate:start", Payload: oTask.ID})
	agg := aggregate(state, order, len(subtaskMap), o.cfg.OutputStrategy, o.cfg.AllowPartialSuccess, o.cfg.PartialSuccessThreshold, state.StartTime)
	o.bus.Publish(events.Event{Topic: "aggregate:complete", Payload: oTask.ID})

	result := &TaskResult{
		TaskID: oTask.ID,
		Status: agg.Status,
		Output: agg.Output,
		Metrics: Metrics{
			Start:    state.StartTime,
			End:      time.Now(),
			Duration: time.Since(state.StartTime),
			Tokens:   agg.TotalTokens,
			Retries:  agg.TotalRetries,
		},
	}

	if !injected {
		if err := mgr.Close(); err != nil {
			o.logger.Warn("failed to close session manager", map[string]interface{}{"error": err.Error()})
		}
	}

	o.cfg.Metrics.RecordTask(ctx, result.Status, result.Metrics.Duration.Seconds())

	return result, nil
}

func (o *Orchestrator) failureResult(taskID string, state *ExecutionState, reason string) *TaskResult {
	return &TaskResult{
		TaskID: taskID,
		Status: "failure",
		Error:  reason,
		Metrics: Metrics{
			Start:    state.StartTime,
			End:      time.Now(),
			Duration: time.Since(state.StartTime),
		},
	}
}

// executeSubtask runs one sub-task end to end: the dependency gate, the
// default-worker-complement registration, the assign/retry loop, and the
// worker completion gate.
func (o *Orchestrator) executeSubtask(
	ctx context.Context,
	mgr *session.Manager,
	sessionID, subtaskID string,
	subtaskMap map[string]*SubTask,
	state *ExecutionState,
	timeout time.Duration,
	retryPolicy pool.RetryPolicy,
	planWorkerCount int,
	registerOnce *sync.Once,
) {
	st, ok := subtaskMap[subtaskID]
	if !ok {
		state.markFailed(subtaskID, "subtask not found")
		return
	}

	if !state.dependenciesSatisfied(st.Dependencies) {
		reason := fmt.Sprintf("dependency not completed for subtask %s", subtaskID)
		state.markFailed(subtaskID, reason)
		st.Status = SubTaskFailure
		return
	}

	st.Status = SubTaskRunning
	state.setRunning(subtaskID)
	o.bus.Publish(events.Event{Topic: "subtask:assigned", Payload: subtaskID})
	defer state.clearRunning(subtaskID)

	attempt := 0
	for {
		if ctx.Err() != nil {
			state.markFailed(subtaskID, "cancelled")
			st.Status = SubTaskCancelled
			return
		}

		if o.pool.WorkerCount() == 0 {
			registerOnce.Do(func() {
				o.registerDefaultWorkers(mgr, sessionID, planWorkerCount)
			})
		}

		assignRes := o.pool.Assign(subtaskID, nil, timeout)
		if !assignRes.Success {
			if shouldRetry(retryPolicy, attempt) {
				attempt++
				state.addRetry()
				st.Status = SubTaskRetrying
				o.bus.Publish(events.Event{Topic: "subtask:retrying", Payload: map[string]interface{}{"subtaskId": subtaskID, "attempt": attempt}})
				if err := sleepCancellable(ctx, calculateRetryDelay(retryPolicy, attempt)); err != nil {
					state.markFailed(subtaskID, "cancelled during retry backoff")
					st.Status = SubTaskCancelled
					return
				}
				continue
			}
			state.markFailed(subtaskID, assignRes.Error)
			st.Status = SubTaskFailure
			o.bus.Publish(events.Event{Topic: "subtask:failed", Payload: map[string]interface{}{"subtaskId": subtaskID, "error": assignRes.Error}})
			return
		}

		st.AssignedWorkerID = assignRes.WorkerID
		gate := awaitWorkerCompletion(ctx, mgr, assignRes.WorkerID, timeout, o.cfg.PollInterval)
		if !gate.Success {
			o.pool.CancelTask(subtaskID)
			state.markFailed(subtaskID, gate.Err)
			st.Status = SubTaskFailure
			o.bus.Publish(events.Event{Topic: "subtask:failed", Payload: map[string]interface{}{"subtaskId": subtaskID, "error": gate.Err}})
			return
		}

		o.pool.CompleteTask(subtaskID)
		result := &TaskResult{
			TaskID: subtaskID,
			Status: "success",
			Output: gate.Output,
		}
		st.Result = result
		st.Status = SubTaskSuccess
		state.markCompleted(subtaskID, result)
		o.bus.Publish(events.Event{Topic: "subtask:complete", Payload: subtaskID})
		return
	}
}

// registerDefaultWorkers implements "register the default
// complement" fallback for a pool with zero workers.
func (o *Orchestrator) registerDefaultWorkers(mgr *session.Manager, sessionID string, planWorkerCount int) {
	count := planWorkerCount
	if count <= 0 {
		count = o.cfg.DefaultWorkerCount
	}
	if count <= 0 {
		count = 1
	}
	maxWorkers := o.cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	if count > maxWorkers {
		count = maxWorkers
	}

	for i := 0; i < count; i++ {
		id := pool.DefaultWorkerID(sessionID, i)
		if err := mgr.RegisterWorker(id); err != nil {
			o.logger.Warn("failed to register default worker in session", map[string]interface{}{"workerId": id, "error": err.Error()})
			continue
		}
		o.pool.Register(pool.Worker{ID: id, State: pool.WorkerIdle})
	}
}
