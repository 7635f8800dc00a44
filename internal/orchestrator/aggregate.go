package orchestrator

import "time"

// OutputStrategy selects how completed sub-task outputs are merged into
// the AggregatedResult's Output field.
type OutputStrategy string

const (
	OutputMerge      OutputStrategy = "merge"
	OutputSelectBest OutputStrategy = "select-best"
)

// aggregate computes the AggregatedResult for one run.
// order lists every sub-task id in the iteration order the plan assigned
// them, so "merge" output preserves plan order rather than map order.
func aggregate(state *ExecutionState, order []string, total int, strategy OutputStrategy, allowPartialSuccess bool, partialSuccessThreshold float64, startedAt time.Time) AggregatedResult {
	s := len(state.CompletedSubtasks)
	f := len(state.FailedSubtasks)

	var status string
	switch {
	case f == 0 && s == total:
		status = "success"
	case s == 0:
		status = "failure"
	case allowPartialSuccess && total > 0 && float64(s)/float64(total) >= partialSuccessThreshold:
		status = "partial"
	default:
		status = "failure"
	}

	perSubtask := make(map[string]*TaskResult, len(state.CompletedSubtasks))
	for id, r := range state.CompletedSubtasks {
		perSubtask[id] = r
	}

	var output interface{}
	switch strategy {
	case OutputSelectBest:
		for _, id := range order {
			if r, ok := state.CompletedSubtasks[id]; ok && r.Status == "success" {
				output = r.Output
				break
			}
		}
	default: // merge, and unknown strategies fall back to merge
		var merged []interface{}
		for _, id := range order {
			if r, ok := state.CompletedSubtasks[id]; ok {
				merged = append(merged, r.Output)
			}
		}
		output = merged
	}

	return AggregatedResult{
		Status:        status,
		Output:        output,
		PerSubtask:    perSubtask,
		SuccessCount:  s,
		FailureCount:  f,
		TotalDuration: time.Since(startedAt),
		TotalTokens:   state.TotalTokens,
		TotalRetries:  state.TotalRetries,
	}
}
