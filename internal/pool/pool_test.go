package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachikoma-run/tachikoma/internal/events"
)

func newTestPool(strategy Strategy, maxWorkers int) *Pool {
	return New(Config{MaxWorkers: maxWorkers, Strategy: strategy})
}

func subscribeOnce(p *Pool, topic string) chan events.Event {
	ch := make(chan events.Event, 8)
	p.Bus().Subscribe(topic, func(ev events.Event) { ch <- ev })
	return ch
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	p := newTestPool(StrategyRoundRobin, 5)
	assert.True(t, p.Register(Worker{ID: "w1"}))
	assert.False(t, p.Register(Worker{ID: "w1"}))
}

func TestRegisterRejectsAtMaxWorkers(t *testing.T) {
	p := newTestPool(StrategyRoundRobin, 1)
	ch := subscribeOnce(p, "pool:full")
	require.True(t, p.Register(Worker{ID: "w1"}))
	assert.False(t, p.Register(Worker{ID: "w2"}))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected pool:full event")
	}
}

func TestRegisterRejectsAfterShutdown(t *testing.T) {
	p := newTestPool(StrategyRoundRobin, 5)
	p.Shutdown()
	assert.False(t, p.Register(Worker{ID: "w1"}))
}

func TestUnregisterCancelsActiveTasksAndEmitsPoolEmpty(t *testing.T) {
	p := newTestPool(StrategyRoundRobin, 5)
	require.True(t, p.Register(Worker{ID: "w1"}))
	res := p.Assign("st-1", nil, 0)
	require.True(t, res.Success)

	emptyCh := subscribeOnce(p, "pool:empty")
	cancelCh := subscribeOnce(p, "task:cancelled")

	assert.True(t, p.Unregister("w1"))
	assert.False(t, p.Unregister("w1"))

	select {
	case <-cancelCh:
	case <-time.After(time.Second):
		t.Fatal("expected task:cancelled")
	}
	select {
	case <-emptyCh:
	case <-time.After(time.Second):
		t.Fatal("expected pool:empty")
	}
}

func TestUpdateWorkerStatusEmitsOnlyOnChange(t *testing.T) {
	p := newTestPool(StrategyRoundRobin, 5)
	require.True(t, p.Register(Worker{ID: "w1", State: WorkerIdle}))
	ch := subscribeOnce(p, "worker:status-changed")

	assert.True(t, p.UpdateWorkerStatus("w1", WorkerIdle, nil))
	assert.True(t, p.UpdateWorkerStatus("w1", WorkerBusy, nil))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected one status-changed event")
	}
	select {
	case <-ch:
		t.Fatal("should not have emitted for a no-op status update")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSelectWorkerRoundRobinCyclesCandidates(t *testing.T) {
	p := newTestPool(StrategyRoundRobin, 5)
	require.True(t, p.Register(Worker{ID: "w1"}))
	require.True(t, p.Register(Worker{ID: "w2"}))

	first, ok := p.SelectWorker(nil)
	require.True(t, ok)
	second, ok := p.SelectWorker(nil)
	require.True(t, ok)
	assert.NotEqual(t, first, second)
}

func TestSelectWorkerLeastLoadedPrefersLowerScore(t *testing.T) {
	p := newTestPool(StrategyLeastLoaded, 5)
	require.True(t, p.Register(Worker{ID: "busy", Load: &Load{CPUPercent: 90, MemoryPercent: 90, QueuedTasks: 10}}))
	require.True(t, p.Register(Worker{ID: "idle", Load: &Load{CPUPercent: 1, MemoryPercent: 1, QueuedTasks: 0}}))

	id, ok := p.SelectWorker(nil)
	require.True(t, ok)
	assert.Equal(t, "idle", id)
}

func TestSelectWorkerLeastLoadedPrefersNoLoadInfo(t *testing.T) {
	p := newTestPool(StrategyLeastLoaded, 5)
	require.True(t, p.Register(Worker{ID: "loaded", Load: &Load{CPUPercent: 10, MemoryPercent: 10, QueuedTasks: 1}}))
	require.True(t, p.Register(Worker{ID: "unknown"}))

	id, ok := p.SelectWorker(nil)
	require.True(t, ok)
	assert.Equal(t, "unknown", id)
}

func TestSelectWorkerCapabilityMatchMaximizesOverlap(t *testing.T) {
	p := newTestPool(StrategyCapabilityMatch, 5)
	require.True(t, p.Register(Worker{ID: "partial", Capabilities: []string{"code"}}))
	require.True(t, p.Register(Worker{ID: "full", Capabilities: []string{"code", "test"}}))

	id, ok := p.SelectWorker([]string{"code", "test"})
	require.True(t, ok)
	assert.Equal(t, "full", id)
}

func TestSelectWorkerCapabilityMatchFallsThroughToLeastLoadedWithNoCapabilitiesRequested(t *testing.T) {
	p := newTestPool(StrategyCapabilityMatch, 5)
	require.True(t, p.Register(Worker{ID: "busy", Load: &Load{CPUPercent: 50}}))
	require.True(t, p.Register(Worker{ID: "free"}))

	id, ok := p.SelectWorker(nil)
	require.True(t, ok)
	assert.Equal(t, "free", id)
}

func TestSelectWorkerReturnsFalseWhenNoneMatch(t *testing.T) {
	p := newTestPool(StrategyLeastLoaded, 5)
	require.True(t, p.Register(Worker{ID: "w1", State: WorkerBusy}))

	_, ok := p.SelectWorker(nil)
	assert.False(t, ok)
}

func TestAssignMarksWorkerBusyAndEmitsAssigned(t *testing.T) {
	p := newTestPool(StrategyRoundRobin, 5)
	require.True(t, p.Register(Worker{ID: "w1"}))
	ch := subscribeOnce(p, "task:assigned")

	res := p.Assign("st-1", nil, 0)
	require.True(t, res.Success)
	assert.Equal(t, "w1", res.WorkerID)

	_, ok := p.SelectWorker(nil)
	assert.False(t, ok, "worker should now be busy")

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected task:assigned")
	}
}

func TestAssignFailsWhenNoWorkerAvailable(t *testing.T) {
	p := newTestPool(StrategyRoundRobin, 5)
	res := p.Assign("st-1", nil, 0)
	assert.False(t, res.Success)
}

func TestCompleteTaskFreesWorkerWithoutCancelEvent(t *testing.T) {
	p := newTestPool(StrategyRoundRobin, 5)
	require.True(t, p.Register(Worker{ID: "w1"}))
	res := p.Assign("st-1", nil, 0)
	require.True(t, res.Success)

	cancelCh := subscribeOnce(p, "task:cancelled")
	assert.True(t, p.CompleteTask("st-1"))
	assert.False(t, p.CompleteTask("st-1"))

	_, ok := p.SelectWorker(nil)
	assert.True(t, ok, "worker should be idle again")

	select {
	case <-cancelCh:
		t.Fatal("completeTask must not emit task:cancelled")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAssignTimeoutFiresTaskTimeoutThenCancelled(t *testing.T) {
	p := newTestPool(StrategyRoundRobin, 5)
	require.True(t, p.Register(Worker{ID: "w1"}))

	timeoutCh := subscribeOnce(p, "task:timeout")
	cancelCh := subscribeOnce(p, "task:cancelled")

	res := p.Assign("st-1", nil, 20*time.Millisecond)
	require.True(t, res.Success)

	select {
	case <-timeoutCh:
	case <-time.After(time.Second):
		t.Fatal("expected task:timeout")
	}
	select {
	case <-cancelCh:
	case <-time.After(time.Second):
		t.Fatal("expected task:cancelled to follow task:timeout")
	}

	id, ok := p.SelectWorker(nil)
	require.True(t, ok)
	assert.Equal(t, "w1", id)
}

func TestShutdownCancelsActiveTasksAndEmptiesPool(t *testing.T) {
	p := newTestPool(StrategyRoundRobin, 5)
	require.True(t, p.Register(Worker{ID: "w1"}))
	res := p.Assign("st-1", nil, 0)
	require.True(t, res.Success)

	p.Shutdown()
	assert.Equal(t, 0, p.WorkerCount())
	assert.False(t, p.Register(Worker{ID: "w2"}))
}

func TestDefaultWorkerIDNamespacesBySession(t *testing.T) {
	assert.Equal(t, "session-1/worker-0", DefaultWorkerID("session-1", 0))
}
