package session

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// startWatching installs the dual change-detection signal
// requires: an fsnotify watcher as the primary signal, plus a polling loop
// (default 500ms) that catches changes on filesystems where the OS watcher
// is unreliable (network mounts, some container overlays).
func (m *Manager) startWatching() error {
	if m.watcher != nil {
		return nil // already watching; idempotent
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		m.logger.Warn("fsnotify unavailable, falling back to polling only", map[string]interface{}{"error": err.Error()})
	} else {
		m.watcher = w
		_ = m.addWatchDirs()
		go m.fsnotifyLoop()
	}

	m.pollStop = make(chan struct{})
	go m.pollLoop()
	return nil
}

func (m *Manager) addWatchDirs() error {
	dirs := []string{
		m.orchestratorDir(),
		m.sharedDir(),
		m.workersDir(),
	}
	for _, d := range dirs {
		if _, err := os.Stat(d); err == nil {
			_ = m.watcher.Add(d)
		}
	}
	// Watch each already-registered worker directory individually; fsnotify
	// does not recurse.
	entries, err := os.ReadDir(m.workersDir())
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				_ = m.watcher.Add(filepath.Join(m.workersDir(), e.Name()))
			}
		}
	}
	return nil
}

func (m *Manager) fsnotifyLoop() {
	for {
		select {
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleFileChange(ev.Name)
		case _, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
		case <-m.watchDone:
			return
		}
	}
}

func (m *Manager) pollLoop() {
	interval := m.pollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	snapshot := m.snapshotMTimes()
	for {
		select {
		case <-ticker.C:
			next := m.snapshotMTimes()
			for path, mtime := range next {
				if prev, ok := snapshot[path]; !ok || !prev.Equal(mtime) {
					m.handleFileChange(path)
				}
			}
			snapshot = next
		case <-m.pollStop:
			return
		}
	}
}

// snapshotMTimes walks the session tree and records each file's mtime, used
// by the polling fallback to detect changes the OS watcher missed.
func (m *Manager) snapshotMTimes() map[string]time.Time {
	out := make(map[string]time.Time)
	_ = filepath.Walk(m.sessionDir(), func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		out[path] = info.ModTime()
		return nil
	})
	return out
}

// handleFileChange maps a changed path to the appropriate EventType and
// dispatches it. Unrecognized paths are ignored.
func (m *Manager) handleFileChange(path string) {
	base := filepath.Base(path)
	switch base {
	case "progress.json":
		m.dispatch(Event{Type: EventProgressUpdated, SessionID: m.sessionID, FilePath: path, Timestamp: time.Now()})
	case "status.json":
		workerID := filepath.Base(filepath.Dir(path))
		m.dispatch(Event{Type: EventWorkerStatusChanged, SessionID: m.sessionID, WorkerID: workerID, FilePath: path, Timestamp: time.Now()})
	case "thinking.jsonl":
		workerID := filepath.Base(filepath.Dir(path))
		m.dispatch(Event{Type: EventThinkingUpdated, SessionID: m.sessionID, WorkerID: workerID, FilePath: path, Timestamp: time.Now()})
	case "actions.jsonl":
		workerID := filepath.Base(filepath.Dir(path))
		m.dispatch(Event{Type: EventActionCompleted, SessionID: m.sessionID, WorkerID: workerID, FilePath: path, Timestamp: time.Now()})
	}
}

// stopWatching disables both signals and is safe to call more than once.
func (m *Manager) stopWatching() {
	if m.watcher != nil {
		close(m.watchDone)
		_ = m.watcher.Close()
		m.watcher = nil
	}
	if m.pollStop != nil {
		close(m.pollStop)
		m.pollStop = nil
	}
}
