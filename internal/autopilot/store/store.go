// Package store is the sole durable interface for autopilot state:
// the event cursor, the pending-action queue with task mappings, the
// append-only jsonl log, one file per span and action, and optional
// trace-index snapshots.
//
// On-disk layout under <data>/projects/<projectID>/:
//
//	autopilot/cursor.json
//	autopilot/state.json
//	autopilot/log.jsonl (+ log.1.jsonl .. log.3.jsonl)
//	autopilot/traces.json
//	spans/<spanId>.json
//	actions/<actionId>.json
//
// Every JSON file is written via write-new-then-rename, so readers
// never observe a half-written file. Log appends use O_APPEND and are
// torn-write safe at line granularity.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/endorhq/rover/internal/core"
	"github.com/endorhq/rover/internal/fsutil"
)

const (
	// CurrentStateVersion is the schema version for state.json.
	CurrentStateVersion = 1

	// logMaxBytes is the rotation threshold for log.jsonl.
	logMaxBytes = 5 * 1024 * 1024

	// logKeep is how many rotated copies are retained.
	logKeep = 3
)

// State is the durable pending queue plus task mappings.
type State struct {
	Version      int                         `json:"version"`
	Pending      []core.PendingAction        `json:"pending"`
	TaskMappings map[string]core.TaskMapping `json:"taskMappings"`
	UpdatedAt    time.Time                   `json:"updatedAt"`
}

// LogEntry is one diagnostic line in log.jsonl. Replay is driven by
// spans and actions, never by the log.
type LogEntry struct {
	TS      time.Time       `json:"ts"`
	TraceID string          `json:"traceId,omitempty"`
	SpanID  string          `json:"spanId,omitempty"`
	ActionID string         `json:"actionId,omitempty"`
	Step    core.Step       `json:"step,omitempty"`
	Action  core.ActionType `json:"action,omitempty"`
	Summary string          `json:"summary,omitempty"`
}

// Store owns the project's durable autopilot state. All methods are
// safe for concurrent use: state.json read-modify-writes serialize on
// stateMu, log writes and rotation on logMu. Span and action files
// are immutable once finalized, so reads need no lock.
type Store struct {
	baseDir string

	stateMu sync.Mutex
	logMu   sync.Mutex
}

// New creates a store rooted at the project directory
// (<data>/projects/<projectID>).
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// BaseDir returns the project directory the store operates on.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Ensure creates the base directory tree, an empty cursor and empty
// state if missing. Failure here is system-fatal: the autopilot never
// partial-starts.
func (s *Store) Ensure() error {
	for _, dir := range []string{
		filepath.Join(s.baseDir, "autopilot"),
		filepath.Join(s.baseDir, "spans"),
		filepath.Join(s.baseDir, "actions"),
		filepath.Join(s.baseDir, "tasks"),
	} {
		if err := fsutil.EnsureDir(dir); err != nil {
			return core.ErrSystem(core.CodeDataDir, "cannot create data directory").WithCause(err)
		}
	}

	if !fsutil.Exists(s.cursorPath()) {
		if err := s.SaveCursor(&core.Cursor{ProcessedEventIDs: []string{}}); err != nil {
			return core.ErrSystem(core.CodeDataDir, "cannot write initial cursor").WithCause(err)
		}
	}
	if !fsutil.Exists(s.statePath()) {
		if err := s.writeState(&State{
			Version:      CurrentStateVersion,
			Pending:      []core.PendingAction{},
			TaskMappings: map[string]core.TaskMapping{},
		}); err != nil {
			return core.ErrSystem(core.CodeDataDir, "cannot write initial state").WithCause(err)
		}
	}
	return nil
}

func (s *Store) cursorPath() string {
	return filepath.Join(s.baseDir, "autopilot", "cursor.json")
}

func (s *Store) statePath() string {
	return filepath.Join(s.baseDir, "autopilot", "state.json")
}

func (s *Store) logPath() string {
	return filepath.Join(s.baseDir, "autopilot", "log.jsonl")
}

func (s *Store) tracesPath() string {
	return filepath.Join(s.baseDir, "autopilot", "traces.json")
}

// SpanPath returns the file path of a span id.
func (s *Store) SpanPath(spanID string) string {
	return filepath.Join(s.baseDir, "spans", spanID+".json")
}

// ActionPath returns the file path of an action id.
func (s *Store) ActionPath(actionID string) string {
	return filepath.Join(s.baseDir, "actions", actionID+".json")
}

// =============================================================================
// Cursor
// =============================================================================

// LoadCursor reads the event cursor. A missing file yields an empty
// cursor.
func (s *Store) LoadCursor() (*core.Cursor, error) {
	data, err := os.ReadFile(s.cursorPath())
	if os.IsNotExist(err) {
		return &core.Cursor{}, nil
	}
	if err != nil {
		return nil, ioErr("reading cursor", err)
	}

	var c core.Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, ioErr("parsing cursor", err)
	}
	return &c, nil
}

// SaveCursor persists the cursor, stamping UpdatedAt.
func (s *Store) SaveCursor(c *core.Cursor) error {
	c.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return ioErr("encoding cursor", err)
	}
	if err := fsutil.AtomicWriteFile(s.cursorPath(), data, 0o644); err != nil {
		return ioErr("writing cursor", err)
	}
	return nil
}

// IsEventProcessed reports whether the event id is in the cursor tail.
func (s *Store) IsEventProcessed(eventID string) (bool, error) {
	c, err := s.LoadCursor()
	if err != nil {
		return false, err
	}
	return c.Contains(eventID), nil
}

// MarkEventsProcessed appends event ids to the cursor, trimming the
// tail to the last 200 ids.
func (s *Store) MarkEventsProcessed(eventIDs ...string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	c, err := s.LoadCursor()
	if err != nil {
		return err
	}
	c.Mark(eventIDs...)
	return s.SaveCursor(c)
}

// =============================================================================
// State: pending queue and task mappings
// =============================================================================

// LoadState reads the durable state. A missing file yields empty
// state.
func (s *Store) LoadState() (*State, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.readState()
}

func (s *Store) readState() (*State, error) {
	data, err := os.ReadFile(s.statePath())
	if os.IsNotExist(err) {
		return &State{
			Version:      CurrentStateVersion,
			Pending:      []core.PendingAction{},
			TaskMappings: map[string]core.TaskMapping{},
		}, nil
	}
	if err != nil {
		return nil, ioErr("reading state", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, ioErr("parsing state", err)
	}
	if st.TaskMappings == nil {
		st.TaskMappings = map[string]core.TaskMapping{}
	}
	if st.Pending == nil {
		st.Pending = []core.PendingAction{}
	}
	return &st, nil
}

func (s *Store) writeState(st *State) error {
	st.Version = CurrentStateVersion
	st.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return ioErr("encoding state", err)
	}
	if err := fsutil.AtomicWriteFile(s.statePath(), data, 0o644); err != nil {
		return ioErr("writing state", err)
	}
	return nil
}

// mutateState runs fn against the current state and persists the
// result under the state lock.
func (s *Store) mutateState(fn func(*State)) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	st, err := s.readState()
	if err != nil {
		return err
	}
	fn(st)
	return s.writeState(st)
}

// AddPending appends a pending action to the queue.
func (s *Store) AddPending(p core.PendingAction) error {
	return s.mutateState(func(st *State) {
		st.Pending = append(st.Pending, p)
	})
}

// RemovePending removes a pending action by action id. Removing an
// absent id is a no-op.
func (s *Store) RemovePending(actionID string) error {
	return s.mutateState(func(st *State) {
		kept := st.Pending[:0]
		for _, p := range st.Pending {
			if p.ActionID != actionID {
				kept = append(kept, p)
			}
		}
		st.Pending = kept
	})
}

// GetPending returns the pending actions, optionally filtered by
// action type (empty filter returns all).
func (s *Store) GetPending(filter core.ActionType) ([]core.PendingAction, error) {
	st, err := s.LoadState()
	if err != nil {
		return nil, err
	}
	if filter == "" {
		return st.Pending, nil
	}
	var out []core.PendingAction
	for _, p := range st.Pending {
		if p.Action == filter {
			out = append(out, p)
		}
	}
	return out, nil
}

// SetTaskMapping records the mapping for a workflow action id,
// overwriting any existing entry for that key.
func (s *Store) SetTaskMapping(actionID string, m core.TaskMapping) error {
	return s.mutateState(func(st *State) {
		st.TaskMappings[actionID] = m
	})
}

// GetTaskMapping returns the mapping for a workflow action id.
func (s *Store) GetTaskMapping(actionID string) (core.TaskMapping, bool, error) {
	st, err := s.LoadState()
	if err != nil {
		return core.TaskMapping{}, false, err
	}
	m, ok := st.TaskMappings[actionID]
	return m, ok, nil
}

// AllTaskMappings returns every recorded mapping keyed by action id.
func (s *Store) AllTaskMappings() (map[string]core.TaskMapping, error) {
	st, err := s.LoadState()
	if err != nil {
		return nil, err
	}
	return st.TaskMappings, nil
}

// =============================================================================
// Spans and actions
// =============================================================================

// WriteSpan persists a span file. Finalizing a running span rewrites
// the same file; a finalized span is immutable thereafter (enforced
// by the journal, not the store).
func (s *Store) WriteSpan(span *core.Span) error {
	data, err := json.MarshalIndent(span, "", "  ")
	if err != nil {
		return ioErr("encoding span", err)
	}
	if err := fsutil.AtomicWriteFile(s.SpanPath(span.ID), data, 0o644); err != nil {
		return ioErr("writing span", err)
	}
	return nil
}

// ReadSpan reads one span by id.
func (s *Store) ReadSpan(spanID string) (*core.Span, error) {
	data, err := os.ReadFile(s.SpanPath(spanID))
	if os.IsNotExist(err) {
		return nil, core.ErrTrace(core.CodeSpanMissing, fmt.Sprintf("span %s not found", spanID))
	}
	if err != nil {
		return nil, ioErr("reading span", err)
	}

	var span core.Span
	if err := json.Unmarshal(data, &span); err != nil {
		return nil, ioErr("parsing span", err)
	}
	return &span, nil
}

// GetSpanTrace walks parent links from spanID to the root span and
// returns the chain oldest (root) first. The walk is bounded to guard
// against a corrupted parent cycle.
func (s *Store) GetSpanTrace(spanID string) ([]*core.Span, error) {
	const maxDepth = 32

	var chain []*core.Span
	id := spanID
	for range maxDepth {
		span, err := s.ReadSpan(id)
		if err != nil {
			return nil, err
		}
		chain = append(chain, span)
		if span.IsRoot() {
			// Reverse to oldest-first.
			for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
				chain[i], chain[j] = chain[j], chain[i]
			}
			return chain, nil
		}
		id = span.Parent
	}
	return nil, core.ErrTrace(core.CodeSpanMissing,
		fmt.Sprintf("span chain from %s exceeds depth %d", spanID, maxDepth))
}

// WriteAction persists an action file. Actions are immutable.
func (s *Store) WriteAction(a *core.Action) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return ioErr("encoding action", err)
	}
	if err := fsutil.AtomicWriteFile(s.ActionPath(a.ID), data, 0o644); err != nil {
		return ioErr("writing action", err)
	}
	return nil
}

// ReadAction reads one action by id.
func (s *Store) ReadAction(actionID string) (*core.Action, error) {
	data, err := os.ReadFile(s.ActionPath(actionID))
	if os.IsNotExist(err) {
		return nil, core.ErrTrace(core.CodeActionMissing, fmt.Sprintf("action %s not found", actionID))
	}
	if err != nil {
		return nil, ioErr("reading action", err)
	}

	var a core.Action
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, ioErr("parsing action", err)
	}
	return &a, nil
}

// =============================================================================
// Log
// =============================================================================

// AppendLog appends one jsonl line, rotating when the current file
// reaches 5 MiB. Rotation keeps log.1.jsonl through log.3.jsonl, the
// oldest being deleted.
func (s *Store) AppendLog(entry LogEntry) error {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	if entry.TS.IsZero() {
		entry.TS = time.Now().UTC()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return ioErr("encoding log entry", err)
	}
	line = append(line, '\n')

	if err := s.rotateIfNeeded(int64(len(line))); err != nil {
		return err
	}

	f, err := os.OpenFile(s.logPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return ioErr("opening log", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return ioErr("appending log", err)
	}
	return nil
}

func (s *Store) rotateIfNeeded(incoming int64) error {
	info, err := os.Stat(s.logPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return ioErr("stat log", err)
	}
	if info.Size()+incoming < logMaxBytes {
		return nil
	}

	// Shift log.2 -> log.3 (dropping the old log.3), log.1 -> log.2,
	// then the live file becomes log.1.
	base := s.logPath()
	for i := logKeep; i >= 2; i-- {
		from := rotatedPath(base, i-1)
		to := rotatedPath(base, i)
		if fsutil.Exists(from) {
			if err := os.Rename(from, to); err != nil {
				return ioErr("rotating log", err)
			}
		}
	}
	if err := os.Rename(base, rotatedPath(base, 1)); err != nil {
		return ioErr("rotating log", err)
	}
	return nil
}

func rotatedPath(base string, n int) string {
	ext := filepath.Ext(base) // .jsonl
	return fmt.Sprintf("%s.%d%s", base[:len(base)-len(ext)], n, ext)
}

// =============================================================================
// Trace snapshots
// =============================================================================

// TraceStore persists trace-index snapshots for fast restart. The
// JSON implementation below is the default; a SQLite implementation
// is available behind the state.backend config switch.
type TraceStore interface {
	SaveTraces(traces map[string]core.TraceSnapshot) error
	LoadTraces() (map[string]core.TraceSnapshot, error)
}

// SaveTraces persists the trace-index snapshot.
func (s *Store) SaveTraces(traces map[string]core.TraceSnapshot) error {
	data, err := json.MarshalIndent(traces, "", "  ")
	if err != nil {
		return ioErr("encoding traces", err)
	}
	if err := fsutil.AtomicWriteFile(s.tracesPath(), data, 0o644); err != nil {
		return ioErr("writing traces", err)
	}
	return nil
}

// LoadTraces reads the trace-index snapshot. A missing file yields an
// empty map: the index is then reconstructed lazily from spans and
// actions.
func (s *Store) LoadTraces() (map[string]core.TraceSnapshot, error) {
	data, err := os.ReadFile(s.tracesPath())
	if os.IsNotExist(err) {
		return map[string]core.TraceSnapshot{}, nil
	}
	if err != nil {
		return nil, ioErr("reading traces", err)
	}

	var traces map[string]core.TraceSnapshot
	if err := json.Unmarshal(data, &traces); err != nil {
		return nil, ioErr("parsing traces", err)
	}
	if traces == nil {
		traces = map[string]core.TraceSnapshot{}
	}
	return traces, nil
}

func ioErr(op string, err error) error {
	return core.ErrTransient(core.CodeIo, op).WithCause(err)
}
