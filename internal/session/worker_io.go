package session

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ReadWorkerStatus returns (nil, nil) if the worker has no status.json yet.
func (m *Manager) ReadWorkerStatus(workerID string) (*WorkerStatusFile, error) {
	var s WorkerStatusFile
	ok, err := readJSON(filepath.Join(m.workerDir(workerID), "status.json"), &s)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

// WriteWorkerStatus persists status.json and emits worker_status_changed.
func (m *Manager) WriteWorkerStatus(workerID string, status WorkerStatusFile) error {
	status.WorkerID = workerID
	path := filepath.Join(m.workerDir(workerID), "status.json")
	if err := writeJSONAtomic(path, status); err != nil {
		return err
	}
	m.dispatch(Event{Type: EventWorkerStatusChanged, SessionID: m.sessionID, WorkerID: workerID, FilePath: path, Data: status, Timestamp: time.Now()})
	return nil
}

// ReadPendingApproval returns the approval request a worker produced, or
// (nil, nil) if none is pending.
func (m *Manager) ReadPendingApproval(workerID string) (*PendingApprovalFile, error) {
	var a PendingApprovalFile
	ok, err := readJSON(filepath.Join(m.workerDir(workerID), "pending_approval.json"), &a)
	if err != nil || !ok {
		return nil, err
	}
	return &a, nil
}

// WriteApprovalResponse writes approval_response.json, deletes the
// corresponding pending_approval.json, emits pending_approval_removed only
// after the response write is durable, and auto-appends an "approval"
// decision record.
func (m *Manager) WriteApprovalResponse(workerID string, response ApprovalResponseFile) error {
	response.RespondedAt = time.Now()
	dir := m.workerDir(workerID)
	responsePath := filepath.Join(dir, "approval_response.json")
	if err := writeJSONAtomic(responsePath, response); err != nil {
		return err
	}

	pendingPath := filepath.Join(dir, "pending_approval.json")
	_ = removeIfExists(pendingPath)

	m.dispatch(Event{Type: EventPendingApprovalRemoved, SessionID: m.sessionID, WorkerID: workerID, FilePath: pendingPath, Data: response, Timestamp: time.Now()})

	return m.AppendDecision(DecisionRecord{
		Type: "approval",
		Data: map[string]interface{}{"workerId": workerID, "approvalId": response.ApprovalID, "approved": response.Approved},
	})
}

// WriteIntervention writes intervention.json with a fresh id and
// acknowledged=false, emits intervention_created, and auto-appends an
// "intervention" decision record.
func (m *Manager) WriteIntervention(workerID string, body map[string]interface{}, kind string) (*InterventionFile, error) {
	iv := InterventionFile{
		ID:           uuid.NewString(),
		Type:         kind,
		Body:         body,
		Acknowledged: false,
		CreatedAt:    time.Now(),
	}
	path := filepath.Join(m.workerDir(workerID), "intervention.json")
	if err := writeJSONAtomic(path, iv); err != nil {
		return nil, err
	}
	m.dispatch(Event{Type: EventInterventionCreated, SessionID: m.sessionID, WorkerID: workerID, FilePath: path, Data: iv, Timestamp: time.Now()})

	if err := m.AppendDecision(DecisionRecord{
		Type: "intervention",
		Data: map[string]interface{}{"workerId": workerID, "interventionId": iv.ID, "interventionType": kind},
	}); err != nil {
		return &iv, err
	}
	return &iv, nil
}

// AcknowledgeIntervention flips acknowledged=true on the worker's
// intervention.json and emits intervention_acknowledged.
func (m *Manager) AcknowledgeIntervention(workerID string) error {
	path := filepath.Join(m.workerDir(workerID), "intervention.json")
	var iv InterventionFile
	ok, err := readJSON(path, &iv)
	if err != nil {
		return err
	}
	if !ok {
		return nil // nothing to acknowledge
	}
	iv.Acknowledged = true
	if err := writeJSONAtomic(path, iv); err != nil {
		return err
	}
	m.dispatch(Event{Type: EventInterventionAcknowledged, SessionID: m.sessionID, WorkerID: workerID, FilePath: path, Data: iv, Timestamp: time.Now()})
	return nil
}

// ReadThinkingLogs tails workers/<id>/thinking.jsonl.
func (m *Manager) ReadThinkingLogs(workerID string, limit int) ([]ThinkingRecord, error) {
	return tailJSONL[ThinkingRecord](filepath.Join(m.workerDir(workerID), "thinking.jsonl"), limit, m.logParseWarning)
}

// ReadActionLogs tails workers/<id>/actions.jsonl.
func (m *Manager) ReadActionLogs(workerID string, limit int) ([]ActionRecord, error) {
	return tailJSONL[ActionRecord](filepath.Join(m.workerDir(workerID), "actions.jsonl"), limit, m.logParseWarning)
}
