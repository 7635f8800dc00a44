package gateway

import (
	"time"

	"github.com/tachikoma-run/tachikoma/internal/orchestrator"
)

// TaskRecord is the gateway's in-memory view of one orchestrator.Run
// invocation, backing /api/tasks and /api/execute/history.
type TaskRecord struct {
	ID        string
	Task      orchestrator.Task
	Result    *orchestrator.TaskResult
	StartedAt time.Time
}

const maxHistory = 500

func (g *Gateway) store(rec *TaskRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.records[rec.ID]; !exists {
		g.order = append(g.order, rec.ID)
		if len(g.order) > maxHistory {
			oldest := g.order[0]
			g.order = g.order[1:]
			delete(g.records, oldest)
		}
	}
	g.records[rec.ID] = rec
}

func (g *Gateway) get(id string) (*TaskRecord, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.records[id]
	return rec, ok
}

func (g *Gateway) delete(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.records[id]; !ok {
		return false
	}
	delete(g.records, id)
	for i, existing := range g.order {
		if existing == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return true
}

// list returns the most recent limit records, newest first.
func (g *Gateway) list(limit int) []*TaskRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if limit <= 0 || limit > len(g.order) {
		limit = len(g.order)
	}
	out := make([]*TaskRecord, 0, limit)
	for i := len(g.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, g.records[g.order[i]])
	}
	return out
}
