package session

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ReadSharedContext returns (nil, nil) if shared/context.json is absent
// (before InitializeSession has seeded it).
func (m *Manager) ReadSharedContext() (*SharedContextFile, error) {
	var c SharedContextFile
	ok, err := readJSON(filepath.Join(m.sharedDir(), "context.json"), &c)
	if err != nil || !ok {
		return nil, err
	}
	return &c, nil
}

// WriteSharedContext persists shared/context.json, auto-stamping the
// session id.
func (m *Manager) WriteSharedContext(ctx SharedContextFile) error {
	ctx.SessionID = m.sessionID
	ctx.UpdatedAt = time.Now()
	return writeJSONAtomic(filepath.Join(m.sharedDir(), "context.json"), ctx)
}

// AppendMessage appends one record to shared/messages.jsonl, stamping an id
// and timestamp if absent.
func (m *Manager) AppendMessage(msg MessageRecord) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return appendJSONL(filepath.Join(m.sharedDir(), "messages.jsonl"), msg)
}

// ReadMessages tails shared/messages.jsonl; limit <= 0 reads every message.
func (m *Manager) ReadMessages(limit int) ([]MessageRecord, error) {
	return tailJSONL[MessageRecord](filepath.Join(m.sharedDir(), "messages.jsonl"), limit, m.logParseWarning)
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
