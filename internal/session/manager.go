// Package session implements the Session File Manager : the
// on-disk layout, atomic writes, and change notifications that are the
// single source of truth shared between the orchestrator and its workers.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/tachikoma-run/tachikoma/internal/obs"
)

// Manager owns one session's directory tree. It is safe for concurrent use:
// the setup, cleanup, watch and subscription methods take mu for the
// duration of their work, while the plan/progress/log/worker file reads and
// writes do not lock and rely on write-temp-then-rename and single-write
// JSONL appends instead.
type Manager struct {
	rootDir      string
	sessionID    string
	logger       obs.Logger
	pollInterval time.Duration

	mu          sync.Mutex
	subscribers *subscriberSet
	watcher     *fsnotify.Watcher
	watchDone   chan struct{}
	pollStop    chan struct{}
	mirror      *RedisMirror
}

// WithRedisMirror attaches a RedisMirror so every WriteProgress call also
// publishes to Redis pub/sub, letting a gateway tail progress without
// re-reading the session directory.
func (m *Manager) WithRedisMirror(mirror *RedisMirror) *Manager {
	m.mirror = mirror
	return m
}

// NewSessionID generates a session-<base36(now)>-<6 base36 random> id.
func NewSessionID() string {
	now := time.Now().UnixNano()
	return fmt.Sprintf("session-%s-%s", toBase36(now), randomBase36(6))
}

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func toBase36(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [16]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = base36Alphabet[n%36]
		n /= 36
	}
	return string(buf[i:])
}

func randomBase36(n int) string {
	id := uuid.New()
	out := make([]byte, 0, n)
	for _, b := range id[:n] {
		out = append(out, base36Alphabet[int(b)%36])
	}
	return string(out)
}

// NewManager constructs a Manager rooted at <rootDir>/sessions/<sessionID>.
func NewManager(rootDir, sessionID string, logger obs.Logger) *Manager {
	if logger == nil {
		logger = obs.NoOpLogger{}
	}
	if cal, ok := logger.(obs.ComponentAwareLogger); ok {
		logger = cal.WithComponent("session")
	}
	return &Manager{
		rootDir:      rootDir,
		sessionID:    sessionID,
		logger:       logger,
		pollInterval: 500 * time.Millisecond,
		subscribers:  newSubscriberSet(),
	}
}

// SessionID returns the id this manager was constructed with.
func (m *Manager) SessionID() string { return m.sessionID }

func (m *Manager) sessionDir() string      { return filepath.Join(m.rootDir, "sessions", m.sessionID) }
func (m *Manager) orchestratorDir() string { return filepath.Join(m.sessionDir(), "orchestrator") }
func (m *Manager) workersDir() string      { return filepath.Join(m.sessionDir(), "workers") }
func (m *Manager) workerDir(id string) string {
	return filepath.Join(m.workersDir(), id)
}
func (m *Manager) sharedDir() string { return filepath.Join(m.sessionDir(), "shared") }

// InitializeSession idempotently creates the directory tree and seeds
// shared/context.json with an empty context if absent.
func (m *Manager) InitializeSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, dir := range []string{m.orchestratorDir(), m.workersDir(), m.sharedDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("initialize session: mkdir %s: %w", dir, err)
		}
	}

	ctxPath := filepath.Join(m.sharedDir(), "context.json")
	if _, err := os.Stat(ctxPath); os.IsNotExist(err) {
		seed := SharedContextFile{SessionID: m.sessionID, Data: map[string]interface{}{}, UpdatedAt: time.Now()}
		if err := writeJSONAtomic(ctxPath, seed); err != nil {
			return fmt.Errorf("seed shared context: %w", err)
		}
	}
	return nil
}

// RegisterWorker idempotently creates workers/<id>/ and its artifacts/
// subdirectory, and seeds an idle status.json if absent.
func (m *Manager) RegisterWorker(workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := m.workerDir(workerID)
	if err := os.MkdirAll(filepath.Join(dir, "artifacts"), 0o755); err != nil {
		return fmt.Errorf("register worker %s: %w", workerID, err)
	}

	statusPath := filepath.Join(dir, "status.json")
	if _, err := os.Stat(statusPath); os.IsNotExist(err) {
		status := WorkerStatusFile{
			WorkerID:      workerID,
			Status:        "idle",
			Progress:      0,
			LastHeartbeat: time.Now(),
		}
		if err := writeJSONAtomic(statusPath, status); err != nil {
			return fmt.Errorf("seed worker status %s: %w", workerID, err)
		}
	}

	if m.watcher != nil {
		_ = m.watcher.Add(dir)
	}
	return nil
}

// WritePlan persists plan.json, stamping SessionID and UpdatedAt.
func (m *Manager) WritePlan(plan PlanFile) error {
	plan.SessionID = m.sessionID
	plan.UpdatedAt = time.Now()
	return writeJSONAtomic(filepath.Join(m.orchestratorDir(), "plan.json"), plan)
}

// ReadPlan returns (nil, nil) if plan.json does not exist yet.
func (m *Manager) ReadPlan() (*PlanFile, error) {
	var p PlanFile
	ok, err := readJSON(filepath.Join(m.orchestratorDir(), "plan.json"), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// WriteProgress persists progress.json and emits progress_updated.
func (m *Manager) WriteProgress(progress ProgressFile) error {
	progress.SessionID = m.sessionID
	progress.UpdatedAt = time.Now()
	path := filepath.Join(m.orchestratorDir(), "progress.json")
	if err := writeJSONAtomic(path, progress); err != nil {
		return err
	}
	m.dispatch(Event{Type: EventProgressUpdated, SessionID: m.sessionID, FilePath: path, Data: progress, Timestamp: time.Now()})
	m.mirror.PublishProgress(context.Background(), m.sessionID, progress)
	return nil
}

// ReadProgress returns (nil, nil) if progress.json does not exist yet.
func (m *Manager) ReadProgress() (*ProgressFile, error) {
	var p ProgressFile
	ok, err := readJSON(filepath.Join(m.orchestratorDir(), "progress.json"), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// AppendDecision appends one record to decisions.jsonl, stamping an id and
// timestamp if absent.
func (m *Manager) AppendDecision(record DecisionRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	return appendJSONL(filepath.Join(m.orchestratorDir(), "decisions.jsonl"), record)
}

// ReadDecisions tails decisions.jsonl; limit <= 0 reads every record.
func (m *Manager) ReadDecisions(limit int) ([]DecisionRecord, error) {
	return tailJSONL[DecisionRecord](filepath.Join(m.orchestratorDir(), "decisions.jsonl"), limit, m.logParseWarning)
}

func (m *Manager) logParseWarning(line string, err error) {
	m.logger.Warn("skipping unparsable jsonl record", map[string]interface{}{"error": err.Error(), "line": truncate(line, 200)})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

// Close stops watching and drops all observers.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopWatching()
	m.subscribers.clear()
	return nil
}

// Cleanup recursively removes the session tree. It does not stop watchers;
// callers that intend to discard the manager should call Close first.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.RemoveAll(m.sessionDir()); err != nil {
		return fmt.Errorf("cleanup session %s: %w", m.sessionID, err)
	}
	return nil
}

// StartWatching enables change notifications.
func (m *Manager) StartWatching() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchDone = make(chan struct{})
	return m.startWatching()
}

// StopWatching disables change notifications; safe to call when not
// currently watching.
func (m *Manager) StopWatching() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopWatching()
}

// Subscribe registers handler for events of type t. Handlers run
// sequentially per-subscriber in dispatch order; a handler panic is
// recovered and logged, never stopping dispatch to the remaining
// subscribers.
func (m *Manager) Subscribe(t EventType, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers.subscribe(t, h)
}

func (m *Manager) dispatch(ev Event) {
	m.mu.Lock()
	handlers := append([]Handler(nil), m.subscribers.handlers[ev.Type]...)
	m.mu.Unlock()

	for _, h := range handlers {
		m.safeInvoke(h, ev)
	}
}

func (m *Manager) safeInvoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("session event handler panicked", map[string]interface{}{"panic": fmt.Sprintf("%v", r), "eventType": ev.Type})
		}
	}()
	h(ev)
}
