// Package pool implements the Worker Pool : worker
// registration, load-aware selection, task assignment with timeout
// enforcement, and the full event set, grounded on the struct/config/
// logger-injection shape of orchestration/task_worker.go's TaskWorkerPool,
// generalized from a single internal worker-goroutine pool into a registry
// of externally-driven workers addressed by id.
package pool

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/tachikoma-run/tachikoma/internal/events"
	"github.com/tachikoma-run/tachikoma/internal/obs"
)

// Strategy selects which idle worker receives the next assignment.
type Strategy string

const (
	StrategyRoundRobin      Strategy = "round-robin"
	StrategyLeastLoaded     Strategy = "least-loaded"
	StrategyRandom          Strategy = "random"
	StrategyCapabilityMatch Strategy = "capability-match"
)

// WorkerState is a worker's availability.
type WorkerState string

const (
	WorkerIdle WorkerState = "idle"
	WorkerBusy WorkerState = "busy"
)

// Load mirrors session.WorkerLoad for the least-loaded score.
type Load struct {
	CPUPercent    float64
	MemoryPercent float64
	QueuedTasks   int
}

// score implements least-loaded formula: a worker with no
// load info scores 0, making it maximally preferred.
func (l *Load) score() float64 {
	if l == nil {
		return 0
	}
	return 0.4*l.CPUPercent + 0.3*l.MemoryPercent + 0.3*(10*float64(l.QueuedTasks))
}

// Worker is one pool member.
type Worker struct {
	ID           string
	Capabilities []string
	State        WorkerState
	Load         *Load
}

// RetryPolicy bounds the assign retry loop the Orchestrator drives; the
// pool itself never reads it (the orchestrator's shouldRetry consumes
// MaxRetries).
type RetryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

// ActiveTask is an in-flight assignment.
type ActiveTask struct {
	SubtaskID string
	WorkerID  string
	timer     *time.Timer
}

// AssignResult is the outcome of Assign.
type AssignResult struct {
	Success  bool
	WorkerID string
	Error    string
}

// Config bounds pool size, mirroring TaskWorkerConfig's validated-defaults
// idiom.
type Config struct {
	MaxWorkers int
	Strategy   Strategy
	Logger     obs.Logger
	Bus        *events.Bus
}

// DefaultConfig returns a pool config with sane defaults.
func DefaultConfig() Config {
	return Config{MaxWorkers: 10, Strategy: StrategyLeastLoaded}
}

// Pool is the Worker Pool. All state-mutating operations are serialized by
// mu "not thread-agnostic" requirement.
type Pool struct {
	mu sync.Mutex

	workers         map[string]*Worker
	activeTasks     map[string]*ActiveTask
	roundRobinIndex int
	isShutdown      bool

	maxWorkers int
	strategy   Strategy
	logger     obs.Logger
	bus        *events.Bus

	rand *rand.Rand
}

// New constructs a Pool from cfg, applying defaults for zero-valued fields.
func New(cfg Config) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyLeastLoaded
	}
	logger := cfg.Logger
	if logger == nil {
		logger = obs.NoOpLogger{}
	}
	if cal, ok := logger.(obs.ComponentAwareLogger); ok {
		logger = cal.WithComponent("pool")
	}
	bus := cfg.Bus
	if bus == nil {
		bus = events.New(logger)
	}
	return &Pool{
		workers:     make(map[string]*Worker),
		activeTasks: make(map[string]*ActiveTask),
		maxWorkers:  cfg.MaxWorkers,
		strategy:    cfg.Strategy,
		logger:      logger,
		bus:         bus,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Bus exposes the pool's event bus for subscription by the Orchestrator.
func (p *Pool) Bus() *events.Bus { return p.bus }

// Register adds worker to the pool.
func (p *Pool) Register(w Worker) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isShutdown {
		return false
	}
	if _, exists := p.workers[w.ID]; exists {
		return false
	}
	if len(p.workers) >= p.maxWorkers {
		p.bus.Publish(events.Event{Topic: "pool:full", Payload: w.ID})
		return false
	}
	if w.State == "" {
		w.State = WorkerIdle
	}
	copy := w
	p.workers[w.ID] = &copy
	p.bus.Publish(events.Event{Topic: "worker:registered", Payload: w.ID})
	return true
}

// Unregister removes id, cancelling every active task it owns.
func (p *Pool) Unregister(id string) bool {
	p.mu.Lock()
	if _, exists := p.workers[id]; !exists {
		p.mu.Unlock()
		return false
	}
	var toCancel []string
	for subtaskID, at := range p.activeTasks {
		if at.WorkerID == id {
			toCancel = append(toCancel, subtaskID)
		}
	}
	delete(p.workers, id)
	empty := len(p.workers) == 0
	p.mu.Unlock()

	for _, subtaskID := range toCancel {
		p.CancelTask(subtaskID)
	}

	p.bus.Publish(events.Event{Topic: "worker:unregistered", Payload: id})
	if empty {
		p.bus.Publish(events.Event{Topic: "pool:empty"})
	}
	return true
}

// UpdateWorkerStatus updates a worker's state/load, emitting
// worker:status-changed only when the state actually changes.
func (p *Pool) UpdateWorkerStatus(id string, state WorkerState, load *Load) bool {
	p.mu.Lock()
	w, exists := p.workers[id]
	if !exists {
		p.mu.Unlock()
		return false
	}
	changed := w.State != state
	w.State = state
	if load != nil {
		w.Load = load
	}
	p.mu.Unlock()

	if changed {
		p.bus.Publish(events.Event{Topic: "worker:status-changed", Payload: id})
	}
	return true
}

// SelectWorker returns the id of an idle worker matching every required
// capability, chosen by the pool's configured strategy. Under the
// capability-match strategy every idle worker is a candidate and the one
// with the largest share of the required capabilities wins, so the chosen
// worker may match only some of them. The empty string and false are
// returned when no worker qualifies.
func (p *Pool) SelectWorker(requiredCapabilities []string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selectWorkerLocked(requiredCapabilities)
}

func (p *Pool) selectWorkerLocked(requiredCapabilities []string) (string, bool) {
	var candidates []*Worker
	for _, w := range p.workers {
		if w.State != WorkerIdle {
			continue
		}
		if len(requiredCapabilities) > 0 && p.strategy != StrategyCapabilityMatch {
			if !hasAllCapabilities(w, requiredCapabilities) {
				continue
			}
		}
		candidates = append(candidates, w)
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	switch p.strategy {
	case StrategyRoundRobin:
		idx := p.roundRobinIndex % len(candidates)
		p.roundRobinIndex++
		return candidates[idx].ID, true
	case StrategyRandom:
		return candidates[p.rand.Intn(len(candidates))].ID, true
	case StrategyCapabilityMatch:
		if len(requiredCapabilities) == 0 {
			return leastLoaded(candidates).ID, true
		}
		return bestCapabilityMatch(candidates, requiredCapabilities).ID, true
	default: // least-loaded
		return leastLoaded(candidates).ID, true
	}
}

func hasAllCapabilities(w *Worker, required []string) bool {
	have := make(map[string]bool, len(w.Capabilities))
	for _, c := range w.Capabilities {
		have[c] = true
	}
	for _, c := range required {
		if !have[c] {
			return false
		}
	}
	return true
}

func leastLoaded(candidates []*Worker) *Worker {
	best := candidates[0]
	bestScore := best.Load.score()
	for _, w := range candidates[1:] {
		s := w.Load.score()
		if s < bestScore {
			best, bestScore = w, s
		}
	}
	return best
}

// bestCapabilityMatch maximizes |required ∩ have| / |required|, tie-breaking
// by least-loaded.
func bestCapabilityMatch(candidates []*Worker, required []string) *Worker {
	type scored struct {
		w     *Worker
		ratio float64
	}
	var scoredList []scored
	bestRatio := -1.0
	for _, w := range candidates {
		have := make(map[string]bool, len(w.Capabilities))
		for _, c := range w.Capabilities {
			have[c] = true
		}
		matched := 0
		for _, c := range required {
			if have[c] {
				matched++
			}
		}
		ratio := float64(matched) / float64(len(required))
		scoredList = append(scoredList, scored{w, ratio})
		if ratio > bestRatio {
			bestRatio = ratio
		}
	}
	var tied []*Worker
	for _, s := range scoredList {
		if s.ratio == bestRatio {
			tied = append(tied, s.w)
		}
	}
	return leastLoaded(tied)
}

// Assign hands subtaskID to a worker selected from requiredCapabilities,
// arming a timeout timer when timeout > 0.
func (p *Pool) Assign(subtaskID string, requiredCapabilities []string, timeout time.Duration) AssignResult {
	p.mu.Lock()
	if p.isShutdown {
		p.mu.Unlock()
		return AssignResult{Success: false, Error: "pool is shut down"}
	}

	workerID, ok := p.selectWorkerLocked(requiredCapabilities)
	if !ok {
		p.mu.Unlock()
		return AssignResult{Success: false, Error: "no available worker"}
	}

	w := p.workers[workerID]
	w.State = WorkerBusy
	at := &ActiveTask{SubtaskID: subtaskID, WorkerID: workerID}
	p.activeTasks[subtaskID] = at
	p.mu.Unlock()

	if timeout > 0 {
		at.timer = time.AfterFunc(timeout, func() { p.onTimeout(subtaskID) })
	}

	p.bus.Publish(events.Event{Topic: "task:assigned", Payload: subtaskID})
	return AssignResult{Success: true, WorkerID: workerID}
}

func (p *Pool) onTimeout(subtaskID string) {
	p.mu.Lock()
	_, exists := p.activeTasks[subtaskID]
	p.mu.Unlock()
	if !exists {
		return
	}
	p.bus.Publish(events.Event{Topic: "task:timeout", Payload: subtaskID})
	p.CancelTask(subtaskID)
}

// CancelTask clears subtaskID's timer, frees its worker, and removes the
// active task.
func (p *Pool) CancelTask(subtaskID string) bool {
	p.mu.Lock()
	at, exists := p.activeTasks[subtaskID]
	if !exists {
		p.mu.Unlock()
		return false
	}
	if at.timer != nil {
		at.timer.Stop()
	}
	if w, ok := p.workers[at.WorkerID]; ok {
		w.State = WorkerIdle
	}
	delete(p.activeTasks, subtaskID)
	p.mu.Unlock()

	p.bus.Publish(events.Event{Topic: "task:cancelled", Payload: subtaskID})
	return true
}

// CompleteTask clears subtaskID's timer, frees its worker, and removes the
// active task without emitting a cancellation event.
func (p *Pool) CompleteTask(subtaskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, exists := p.activeTasks[subtaskID]
	if !exists {
		return false
	}
	if at.timer != nil {
		at.timer.Stop()
	}
	if w, ok := p.workers[at.WorkerID]; ok {
		w.State = WorkerIdle
	}
	delete(p.activeTasks, subtaskID)
	return true
}

// Shutdown cancels every active task and unregisters every worker.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	var subtaskIDs []string
	for id := range p.activeTasks {
		subtaskIDs = append(subtaskIDs, id)
	}
	var workerIDs []string
	for id := range p.workers {
		workerIDs = append(workerIDs, id)
	}
	p.isShutdown = true
	p.mu.Unlock()

	for _, id := range subtaskIDs {
		p.CancelTask(id)
	}
	p.mu.Lock()
	p.workers = make(map[string]*Worker)
	p.mu.Unlock()
	_ = workerIDs
}

// WorkerCount returns the number of currently registered workers.
func (p *Pool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Workers returns a snapshot copy of every registered worker, for
// read-only inspection (e.g. the Gateway's /api/agents listing).
func (p *Pool) Workers() []Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Worker, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, *w)
	}
	return out
}

// DefaultWorkerID names an auto-registered complement worker: the default
// worker-0..N-1 naming used when a plan doesn't request named workers.
func DefaultWorkerID(sessionID string, index int) string {
	return fmt.Sprintf("%s/worker-%d", sessionID, index)
}
