package autopilot

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/endorhq/rover/internal/autopilot/store"
	"github.com/endorhq/rover/internal/core"
	"github.com/endorhq/rover/internal/logging"
)

// StageSpec describes one periodic worker. The runtime dispatches
// queue-driven stages by their action type; adding a stage is adding
// a spec to the table.
type StageSpec struct {
	Name         string
	Action       core.ActionType // consumed pending-action type; empty for Tick-only stages
	InitialDelay time.Duration
	Period       time.Duration
	MaxParallel  int

	// Tick, when set, replaces the queue-driven behavior entirely
	// (used by the event poller).
	Tick func(ctx context.Context) error

	// Monitor runs at the start of every tick, before any pending
	// action is processed.
	Monitor func(ctx context.Context) error

	// Select filters and orders the eligible pending actions for this
	// tick. Nil means process everything of the stage's type.
	Select func(ctx context.Context, pending []core.PendingAction) []core.PendingAction

	// Process handles a single pending action. Returning an error
	// leaves the action queued for a later tick.
	Process func(ctx context.Context, p core.PendingAction) error

	// Wake triggers an early tick when signaled (in addition to the
	// ticker, never instead of it).
	Wake <-chan struct{}
}

// StageStatus is the observable state of one stage.
type StageStatus struct {
	Name      string    `json:"name"`
	State     string    `json:"state"` // idle | running
	LastTick  time.Time `json:"lastTick,omitzero"`
	LastCount int       `json:"lastCount"`
	Processed int64     `json:"processed"`
	Errors    int64     `json:"errors"`
}

// Scheduler runs the stage table: one goroutine per stage, each with
// its own ticker, initial stagger and bounded worker pool. Ticks are
// skipped while the previous tick of the same stage is running.
type Scheduler struct {
	store  *store.Store
	logger *logging.Logger
	stages []*stageRunner

	// fatal receives the first system-fatal error; the autopilot
	// shuts down on it.
	fatal chan error

	wg sync.WaitGroup
}

type stageRunner struct {
	spec StageSpec

	mu         sync.Mutex
	running    bool
	status     StageStatus
	inProgress map[string]struct{}
}

// NewScheduler creates a scheduler over the given stage table.
func NewScheduler(st *store.Store, logger *logging.Logger, specs []StageSpec) *Scheduler {
	s := &Scheduler{
		store:  st,
		logger: logger,
		fatal:  make(chan error, 1),
	}
	for _, spec := range specs {
		s.stages = append(s.stages, &stageRunner{
			spec:       spec,
			status:     StageStatus{Name: spec.Name, State: "idle"},
			inProgress: make(map[string]struct{}),
		})
	}
	return s
}

// Start launches all stage loops. It returns immediately; Wait blocks
// until every loop has exited.
func (s *Scheduler) Start(ctx context.Context) {
	for _, r := range s.stages {
		s.wg.Add(1)
		go func(r *stageRunner) {
			defer s.wg.Done()
			s.runStage(ctx, r)
		}(r)
	}
}

// Wait blocks until all stage loops have stopped.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Fatal returns the channel carrying the first system-fatal error.
func (s *Scheduler) Fatal() <-chan error {
	return s.fatal
}

// Status returns a snapshot of every stage's observable state.
func (s *Scheduler) Status() []StageStatus {
	out := make([]StageStatus, 0, len(s.stages))
	for _, r := range s.stages {
		r.mu.Lock()
		out = append(out, r.status)
		r.mu.Unlock()
	}
	return out
}

func (s *Scheduler) runStage(ctx context.Context, r *stageRunner) {
	logger := s.logger.With("stage", r.spec.Name)

	select {
	case <-ctx.Done():
		return
	case <-time.After(r.spec.InitialDelay):
	}

	ticker := time.NewTicker(r.spec.Period)
	defer ticker.Stop()

	s.tick(ctx, r, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, r, logger)
		case <-wakeChan(r.spec.Wake):
			s.tick(ctx, r, logger)
		}
	}
}

// wakeChan returns a never-firing channel when the stage has no wake
// source, so the select stays uniform.
func wakeChan(c <-chan struct{}) <-chan struct{} {
	if c != nil {
		return c
	}
	return neverWake
}

var neverWake = make(chan struct{})

func (s *Scheduler) tick(ctx context.Context, r *stageRunner, logger *logging.Logger) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.status.State = "running"
	r.status.LastTick = time.Now().UTC()
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.status.State = "idle"
		r.mu.Unlock()
	}()

	if r.spec.Monitor != nil {
		if err := r.spec.Monitor(ctx); err != nil {
			s.noteError(r, logger, "monitor", err)
			if core.IsSystemFatal(err) {
				return
			}
		}
	}

	if r.spec.Tick != nil {
		if err := r.spec.Tick(ctx); err != nil {
			s.noteError(r, logger, "tick", err)
		}
		return
	}

	if r.spec.Process == nil {
		return
	}

	pending, err := s.store.GetPending(r.spec.Action)
	if err != nil {
		s.noteError(r, logger, "queue", err)
		return
	}
	if r.spec.Select != nil {
		pending = r.spec.Select(ctx, pending)
	}

	// In-progress guard: never re-enter the same action id within a
	// tick's worker pool.
	var batch []core.PendingAction
	r.mu.Lock()
	for _, p := range pending {
		if _, busy := r.inProgress[p.ActionID]; busy {
			continue
		}
		r.inProgress[p.ActionID] = struct{}{}
		batch = append(batch, p)
	}
	r.status.LastCount = len(batch)
	r.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.spec.MaxParallel))
	for _, p := range batch {
		g.Go(func() error {
			defer func() {
				r.mu.Lock()
				delete(r.inProgress, p.ActionID)
				r.mu.Unlock()
			}()

			if err := r.spec.Process(gctx, p); err != nil {
				s.noteError(r, logger.With("action_id", p.ActionID, "trace_id", p.TraceID), "process", err)
				// Transient: the pending entry stays and retries next
				// tick. Nothing to do here.
				return nil
			}
			r.mu.Lock()
			r.status.Processed++
			r.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) noteError(r *stageRunner, logger *logging.Logger, phase string, err error) {
	r.mu.Lock()
	r.status.Errors++
	r.mu.Unlock()

	logger.Warn("stage error", "phase", phase, "error", err)
	if core.IsSystemFatal(err) {
		select {
		case s.fatal <- err:
		default:
		}
	}
}
