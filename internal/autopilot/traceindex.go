package autopilot

import (
	"sync"
	"time"

	"github.com/endorhq/rover/internal/autopilot/store"
	"github.com/endorhq/rover/internal/core"
)

// TraceIndex is the in-memory projection of spans and actions into
// per-trace step lists. It is read-mostly; mutations arrive through
// stage callbacks and serialize on a single mutex for the whole
// index, which is the simplest correct single-writer discipline.
type TraceIndex struct {
	mu     sync.RWMutex
	traces map[string]*core.TraceSnapshot
}

// NewTraceIndex creates an empty index.
func NewTraceIndex() *TraceIndex {
	return &TraceIndex{traces: make(map[string]*core.TraceSnapshot)}
}

// Restore adopts a persisted snapshot map.
func (ti *TraceIndex) Restore(snapshot map[string]core.TraceSnapshot) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	for id, snap := range snapshot {
		s := snap
		ti.traces[id] = &s
	}
}

// Append adds a step to a trace, creating the trace on first use.
func (ti *TraceIndex) Append(traceID string, step core.ActionStep) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.append(traceID, step)
}

func (ti *TraceIndex) append(traceID string, step core.ActionStep) {
	t, ok := ti.traces[traceID]
	if !ok {
		t = &core.TraceSnapshot{TraceID: traceID}
		ti.traces[traceID] = t
	}
	t.Steps = append(t.Steps, step)
	t.UpdatedAt = time.Now().UTC()
}

// SetStepStatus updates the status of the step with the given action
// id. Unknown steps are ignored.
func (ti *TraceIndex) SetStepStatus(traceID, actionID string, status core.StepStatus) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	t, ok := ti.traces[traceID]
	if !ok {
		return
	}
	for i := range t.Steps {
		if t.Steps[i].ActionID == actionID {
			t.Steps[i].Status = status
			t.UpdatedAt = time.Now().UTC()
			return
		}
	}
}

// FailPendingSteps marks every still-pending step of the trace as
// failed. Used when the resolver terminates a trace.
func (ti *TraceIndex) FailPendingSteps(traceID string) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	t, ok := ti.traces[traceID]
	if !ok {
		return
	}
	for i := range t.Steps {
		if t.Steps[i].Status == core.StepPending {
			t.Steps[i].Status = core.StepFailed
		}
	}
	t.UpdatedAt = time.Now().UTC()
}

// Steps returns a copy of the trace's step list in causal order.
func (ti *TraceIndex) Steps(traceID string) []core.ActionStep {
	ti.mu.RLock()
	defer ti.mu.RUnlock()
	t, ok := ti.traces[traceID]
	if !ok {
		return nil
	}
	out := make([]core.ActionStep, len(t.Steps))
	copy(out, t.Steps)
	return out
}

// TraceIDs returns the known trace ids.
func (ti *TraceIndex) TraceIDs() []string {
	ti.mu.RLock()
	defer ti.mu.RUnlock()
	ids := make([]string, 0, len(ti.traces))
	for id := range ti.traces {
		ids = append(ids, id)
	}
	return ids
}

// RetryCount returns the trace's retry counter.
func (ti *TraceIndex) RetryCount(traceID string) int {
	ti.mu.RLock()
	defer ti.mu.RUnlock()
	if t, ok := ti.traces[traceID]; ok {
		return t.RetryCount
	}
	return 0
}

// IncrementRetry bumps the trace's retry counter and returns the new
// value. The counter is monotonic per trace.
func (ti *TraceIndex) IncrementRetry(traceID string) int {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	t, ok := ti.traces[traceID]
	if !ok {
		t = &core.TraceSnapshot{TraceID: traceID}
		ti.traces[traceID] = t
	}
	t.RetryCount++
	t.UpdatedAt = time.Now().UTC()
	return t.RetryCount
}

// Snapshot returns a deep copy of the whole index for persistence.
func (ti *TraceIndex) Snapshot() map[string]core.TraceSnapshot {
	ti.mu.RLock()
	defer ti.mu.RUnlock()
	out := make(map[string]core.TraceSnapshot, len(ti.traces))
	for id, t := range ti.traces {
		snap := *t
		snap.Steps = make([]core.ActionStep, len(t.Steps))
		copy(snap.Steps, t.Steps)
		out[id] = snap
	}
	return out
}

// Reconstruct rebuilds index entries for the traces referenced by the
// current pending queue by reading their spans and actions. Called on
// recovery when no snapshot was adopted for a trace.
func (ti *TraceIndex) Reconstruct(st *store.Store, pending []core.PendingAction) error {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	for _, p := range pending {
		if _, ok := ti.traces[p.TraceID]; ok {
			continue
		}
		chain, err := st.GetSpanTrace(p.SpanID)
		if err != nil {
			return err
		}
		for _, span := range chain {
			if span.Step == core.StepEvent {
				continue
			}
			status := core.StepCompleted
			switch span.Status {
			case core.SpanRunning:
				status = core.StepRunning
			case core.SpanFailed, core.SpanError:
				status = core.StepFailed
			}
			ti.append(p.TraceID, core.ActionStep{
				Action:    core.ActionType(span.Step),
				Status:    status,
				Timestamp: span.Timestamp,
				Reasoning: span.Summary,
			})
		}
		// The pending action itself has not run yet.
		ti.append(p.TraceID, core.ActionStep{
			ActionID:  p.ActionID,
			Action:    p.Action,
			Status:    core.StepPending,
			Timestamp: p.CreatedAt,
			Reasoning: p.Summary,
		})
	}
	return nil
}
