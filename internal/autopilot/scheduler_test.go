package autopilot

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorhq/rover/internal/autopilot/store"
	"github.com/endorhq/rover/internal/core"
	"github.com/endorhq/rover/internal/logging"
)

func newSchedulerStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(t.TempDir())
	require.NoError(t, s.Ensure())
	return s
}

func TestSchedulerProcessesQueuedActions(t *testing.T) {
	st := newSchedulerStore(t)
	require.NoError(t, st.AddPending(core.PendingAction{TraceID: "t-1", ActionID: "a-1", Action: core.ActionNotify}))
	require.NoError(t, st.AddPending(core.PendingAction{TraceID: "t-2", ActionID: "a-2", Action: core.ActionNotify}))

	var mu sync.Mutex
	processed := make(map[string]int)

	sched := NewScheduler(st, logging.NewNop(), []StageSpec{{
		Name:        "notify",
		Action:      core.ActionNotify,
		Period:      10 * time.Millisecond,
		MaxParallel: 2,
		Process: func(_ context.Context, p core.PendingAction) error {
			mu.Lock()
			processed[p.ActionID]++
			mu.Unlock()
			return st.RemovePending(p.ActionID)
		},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)

	require.Eventually(t, func() bool {
		pending, err := st.GetPending("")
		return err == nil && len(pending) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	sched.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, processed["a-1"])
	assert.Equal(t, 1, processed["a-2"])

	status := sched.Status()
	require.Len(t, status, 1)
	assert.Equal(t, int64(2), status[0].Processed)
}

func TestSchedulerLeavesFailedActionsQueued(t *testing.T) {
	st := newSchedulerStore(t)
	require.NoError(t, st.AddPending(core.PendingAction{TraceID: "t-1", ActionID: "a-1", Action: core.ActionPush}))

	var attempts atomic.Int64
	sched := NewScheduler(st, logging.NewNop(), []StageSpec{{
		Name:        "push",
		Action:      core.ActionPush,
		Period:      10 * time.Millisecond,
		MaxParallel: 1,
		Process: func(context.Context, core.PendingAction) error {
			attempts.Add(1)
			return core.ErrTransient(core.CodeGitFailed, "remote down")
		},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)

	require.Eventually(t, func() bool { return attempts.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	sched.Wait()

	pending, err := st.GetPending("")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSchedulerSelectFiltersBatch(t *testing.T) {
	st := newSchedulerStore(t)
	require.NoError(t, st.AddPending(core.PendingAction{TraceID: "t-1", ActionID: "a-1", Action: core.ActionResolve}))
	require.NoError(t, st.AddPending(core.PendingAction{TraceID: "t-1", ActionID: "a-2", Action: core.ActionResolve}))

	var mu sync.Mutex
	var seen []string

	sched := NewScheduler(st, logging.NewNop(), []StageSpec{{
		Name:        "resolver",
		Action:      core.ActionResolve,
		Period:      10 * time.Millisecond,
		MaxParallel: 2,
		Select: func(_ context.Context, pending []core.PendingAction) []core.PendingAction {
			if len(pending) == 0 {
				return nil
			}
			return pending[:1]
		},
		Process: func(_ context.Context, p core.PendingAction) error {
			mu.Lock()
			seen = append(seen, p.ActionID)
			mu.Unlock()
			return st.RemovePending(p.ActionID)
		},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	require.Eventually(t, func() bool {
		pending, err := st.GetPending("")
		return err == nil && len(pending) == 0
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	sched.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a-1", "a-2"}, seen)
}

func TestSchedulerWakeTriggersEarlyTick(t *testing.T) {
	st := newSchedulerStore(t)
	wake := make(chan struct{}, 1)

	var ticks atomic.Int64
	sched := NewScheduler(st, logging.NewNop(), []StageSpec{{
		Name:   "workflow",
		Period: time.Hour, // the ticker alone would never fire in time
		Wake:   wake,
		Tick: func(context.Context) error {
			ticks.Add(1)
			return nil
		},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)

	// One tick fires on start; the wake triggers the second.
	require.Eventually(t, func() bool { return ticks.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	wake <- struct{}{}
	require.Eventually(t, func() bool { return ticks.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	sched.Wait()
}

func TestSchedulerReportsFatalErrors(t *testing.T) {
	st := newSchedulerStore(t)
	sched := NewScheduler(st, logging.NewNop(), []StageSpec{{
		Name:   "poller",
		Period: 10 * time.Millisecond,
		Tick: func(context.Context) error {
			return core.ErrSystem(core.CodeDataDir, "data dir vanished")
		},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	select {
	case err := <-sched.Fatal():
		assert.True(t, core.IsSystemFatal(err))
	case <-time.After(2 * time.Second):
		t.Fatal("fatal error not reported")
	}
	cancel()
	sched.Wait()
}
