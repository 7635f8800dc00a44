package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	root := t.TempDir()
	m := NewManager(root, "session-test-abc123", nil)
	require.NoError(t, m.InitializeSession())
	return m
}

func TestInitializeSessionIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.InitializeSession())

	ctx, err := m.ReadSharedContext()
	require.NoError(t, err)
	require.NotNil(t, ctx)
	assert.Equal(t, m.SessionID(), ctx.SessionID)
	assert.Empty(t, ctx.Data)
}

func TestWritePlanRoundTrip(t *testing.T) {
	m := newTestManager(t)
	plan := PlanFile{
		TaskID: "t1",
		SubTasks: []SubTaskRecord{
			{ID: "subtask-1", Objective: "build X"},
		},
		ExecutionPlan: ExecutionPlan{
			IsParallel: false,
			Steps:      []ExecutionStep{{Order: 1, SubtaskIDs: []string{"subtask-1"}, Parallel: false}},
		},
	}
	require.NoError(t, m.WritePlan(plan))

	got, err := m.ReadPlan()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, m.SessionID(), got.SessionID)
	assert.False(t, got.UpdatedAt.IsZero())
	assert.Equal(t, plan.TaskID, got.TaskID)
	assert.Equal(t, plan.SubTasks, got.SubTasks)
}

func TestReadPlanMissingReturnsNilNotError(t *testing.T) {
	m := newTestManager(t)
	got, err := m.ReadPlan()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAppendDecisionsRoundTripInOrder(t *testing.T) {
	m := newTestManager(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.AppendDecision(DecisionRecord{Type: "retry", Data: map[string]interface{}{"n": i}}))
	}

	records, err := m.ReadDecisions(0)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, r := range records {
		assert.EqualValues(t, i, r.Data["n"])
		assert.NotEmpty(t, r.ID)
	}
}

func TestReadDecisionsTailLimitsAndPreservesOrder(t *testing.T) {
	m := newTestManager(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, m.AppendDecision(DecisionRecord{Type: "retry", Data: map[string]interface{}{"n": i}}))
	}
	records, err := m.ReadDecisions(3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.EqualValues(t, 7, records[0].Data["n"])
	assert.EqualValues(t, 9, records[2].Data["n"])
}

func TestDecisionsSkipsUnparsableLines(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AppendDecision(DecisionRecord{Type: "retry"}))

	path := filepath.Join(m.orchestratorDir(), "decisions.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, m.AppendDecision(DecisionRecord{Type: "abort"}))

	records, err := m.ReadDecisions(0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "retry", records[0].Type)
	assert.Equal(t, "abort", records[1].Type)
}

func TestRegisterWorkerIsIdempotentAndSeedsIdleStatus(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterWorker("worker-0"))
	require.NoError(t, m.RegisterWorker("worker-0"))

	status, err := m.ReadWorkerStatus("worker-0")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "idle", status.Status)
	assert.Equal(t, float64(0), status.Progress)
}

func TestApprovalResponseRemovesPendingAndAppendsDecision(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterWorker("worker-0"))

	pending := PendingApprovalFile{ID: "appr-1", WorkerID: "worker-0", Question: "proceed?", CreatedAt: time.Now()}
	require.NoError(t, writeJSONAtomic(filepath.Join(m.workerDir("worker-0"), "pending_approval.json"), pending))

	got, err := m.ReadPendingApproval("worker-0")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "appr-1", got.ID)

	require.NoError(t, m.WriteApprovalResponse("worker-0", ApprovalResponseFile{ApprovalID: "appr-1", Approved: true}))

	after, err := m.ReadPendingApproval("worker-0")
	require.NoError(t, err)
	assert.Nil(t, after)

	decisions, err := m.ReadDecisions(0)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "approval", decisions[0].Type)
}

func TestInterventionCreateAndAcknowledge(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterWorker("worker-0"))

	iv, err := m.WriteIntervention("worker-0", map[string]interface{}{"note": "slow down"}, "guidance")
	require.NoError(t, err)
	assert.False(t, iv.Acknowledged)
	assert.NotEmpty(t, iv.ID)

	require.NoError(t, m.AcknowledgeIntervention("worker-0"))

	var stored InterventionFile
	ok, err := readJSON(filepath.Join(m.workerDir("worker-0"), "intervention.json"), &stored)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, stored.Acknowledged)
}

func TestEventDispatchRunsSequentiallyAndSurvivesPanics(t *testing.T) {
	m := newTestManager(t)
	var order []int
	m.Subscribe(EventProgressUpdated, func(Event) {
		panic("boom")
	})
	m.Subscribe(EventProgressUpdated, func(Event) {
		order = append(order, 1)
	})

	require.NoError(t, m.WriteProgress(ProgressFile{CurrentStep: 1, TotalSteps: 2, Status: "running"}))

	assert.Equal(t, []int{1}, order)
}

func TestMessagesRoundTrip(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AppendMessage(MessageRecord{From: "orchestrator", Content: "hello"}))
	msgs, err := m.ReadMessages(0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.NotEmpty(t, msgs[0].ID)
}

func TestCleanupRemovesSessionTree(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Cleanup())
	got, err := m.ReadPlan()
	require.NoError(t, err)
	assert.Nil(t, got)
}
