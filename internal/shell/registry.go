// Package shell tracks the lifecycle of tool-spawned shell processes.
// Every execution gets a record that moves through a fixed state
// machine; active executions additionally carry a process handle so
// they can be terminated on demand.
package shell

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultHistoryCap bounds how many execution records are retained.
// Terminal records are evicted oldest-first when the cap is exceeded;
// active records are never evicted.
const DefaultHistoryCap = 2000

// Status is the state of a shell execution.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled, StatusTimedOut:
		return true
	}
	return false
}

// allowedTransitions is the only permitted state machine. Terminal
// states transition to themselves (idempotent) and nothing else.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusQueued: {
		StatusStarting: {}, StatusRunning: {}, StatusFailed: {},
		StatusCanceled: {}, StatusTimedOut: {},
	},
	StatusStarting: {
		StatusRunning: {}, StatusFailed: {}, StatusCanceled: {}, StatusTimedOut: {},
	},
	StatusRunning: {
		StatusCompleted: {}, StatusFailed: {}, StatusCanceled: {}, StatusTimedOut: {},
	},
}

// CanTransition reports whether from → to is a legal transition.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return from == to
	}
	_, ok := allowedTransitions[from][to]
	return ok
}

// ExecutionRecord describes one shell execution. Copies are handed out;
// the registry owns the canonical record.
type ExecutionRecord struct {
	ExecutionID     string    `json:"execution_id"`
	Command         string    `json:"command"`
	Parameters      []string  `json:"parameters,omitempty"`
	Directory       string    `json:"directory,omitempty"`
	WorldID         string    `json:"world_id,omitempty"`
	ChatID          string    `json:"chat_id,omitempty"`
	Status          Status    `json:"status"`
	CancelRequested bool      `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	EndedAt         time.Time `json:"ended_at,omitempty"`
	ExitCode        *int      `json:"exit_code,omitempty"`
	Signal          string    `json:"signal,omitempty"`
	StdoutLen       int       `json:"stdout_len,omitempty"`
	StderrLen       int       `json:"stderr_len,omitempty"`
	Error           string    `json:"error,omitempty"`
	DurationMs      int64     `json:"duration_ms,omitempty"`
}

// Patch carries optional field updates applied atomically with a
// status transition. Nil pointers leave the field untouched.
type Patch struct {
	ExitCode  *int
	Signal    string
	StdoutLen *int
	StderrLen *int
	Error     string
}

// Handle terminates a live process. Implemented by the shell command
// tool for real processes and by fakes in tests.
type Handle interface {
	Terminate() error
}

// CancelOutcome is the result of a cancel request.
type CancelOutcome string

const (
	CancelRequested   CancelOutcome = "cancel_requested"
	CancelNotPossible CancelOutcome = "not_cancellable"
	CancelNotFound    CancelOutcome = "not_found"
	CancelFinished    CancelOutcome = "already_finished"
)

// ListFilter selects execution records.
type ListFilter struct {
	Limit      int
	Statuses   []Status
	WorldID    string
	ChatID     string
	ActiveOnly bool
}

// Errors returned by registry operations.
var (
	ErrUnknownExecution    = errors.New("unknown execution")
	ErrIllegalTransition   = errors.New("illegal status transition")
	ErrExecutionActive     = errors.New("execution is not terminal")
	ErrHandleStillAttached = errors.New("execution still has an attached process")
)

// Subscriber receives a snapshot of a record after every change.
type Subscriber func(ExecutionRecord)

// Registry is the process-wide shell execution registry.
type Registry struct {
	mu       sync.RWMutex
	records  map[string]*ExecutionRecord
	order    []string // insertion order, for eviction
	handles  map[string]Handle
	subs     map[int]Subscriber
	nextSub  int
	capacity int
	logger   *slog.Logger
}

// NewRegistry creates a registry with the default history cap.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		records:  make(map[string]*ExecutionRecord),
		handles:  make(map[string]Handle),
		subs:     make(map[int]Subscriber),
		capacity: DefaultHistoryCap,
		logger:   logger.With("component", "shell_registry"),
	}
}

// SetCapacity overrides the history cap.
func (r *Registry) SetCapacity(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > 0 {
		r.capacity = n
	}
}

// Create registers a new queued execution and returns a snapshot.
func (r *Registry) Create(rec ExecutionRecord) ExecutionRecord {
	r.mu.Lock()
	if rec.Status == "" {
		rec.Status = StatusQueued
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	stored := rec
	r.records[rec.ExecutionID] = &stored
	r.order = append(r.order, rec.ExecutionID)
	r.evictLocked()
	subs := r.subscribersLocked()
	r.mu.Unlock()

	r.logger.Debug("created execution",
		"execution_id", rec.ExecutionID,
		"command", rec.Command,
		"world_id", rec.WorldID,
		"chat_id", rec.ChatID)
	notify(subs, rec)
	return rec
}

// Attach associates a live process handle with an execution.
func (r *Registry) Attach(id string, h Handle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; ok {
		r.handles[id] = h
	}
}

// Detach removes the process handle for an execution.
func (r *Registry) Detach(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
}

// Transition moves an execution to a new status, applying the patch.
// Transitions to the current terminal status are idempotent no-ops.
func (r *Registry) Transition(id string, to Status, patch Patch) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownExecution
	}
	if rec.Status.Terminal() {
		r.mu.Unlock()
		if rec.Status == to {
			return nil
		}
		return ErrIllegalTransition
	}
	if !CanTransition(rec.Status, to) {
		from := rec.Status
		r.mu.Unlock()
		r.logger.Warn("rejected transition", "execution_id", id, "from", from, "to", to)
		return ErrIllegalTransition
	}

	now := time.Now()
	rec.Status = to
	if to == StatusStarting || to == StatusRunning {
		if rec.StartedAt.IsZero() {
			rec.StartedAt = now
		}
	}
	if to.Terminal() {
		rec.EndedAt = now
		base := rec.StartedAt
		if base.IsZero() {
			base = rec.CreatedAt
		}
		rec.DurationMs = now.Sub(base).Milliseconds()
	}
	if patch.ExitCode != nil {
		rec.ExitCode = patch.ExitCode
	}
	if patch.Signal != "" {
		rec.Signal = patch.Signal
	}
	if patch.StdoutLen != nil {
		rec.StdoutLen = *patch.StdoutLen
	}
	if patch.StderrLen != nil {
		rec.StderrLen = *patch.StderrLen
	}
	if patch.Error != "" {
		rec.Error = patch.Error
	}
	snapshot := *rec
	subs := r.subscribersLocked()
	r.mu.Unlock()

	r.logger.Debug("execution transition", "execution_id", id, "to", to)
	notify(subs, snapshot)
	return nil
}

// MarkCancelRequested flags an execution for cancellation. Returns
// false if the execution is unknown or already terminal.
func (r *Registry) MarkCancelRequested(id string) bool {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok || rec.Status.Terminal() {
		r.mu.Unlock()
		return false
	}
	rec.CancelRequested = true
	snapshot := *rec
	subs := r.subscribersLocked()
	r.mu.Unlock()

	notify(subs, snapshot)
	return true
}

// Get returns a snapshot of an execution record.
func (r *Registry) Get(id string) (ExecutionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return ExecutionRecord{}, false
	}
	return *rec, true
}

// List returns snapshots matching the filter, newest first.
func (r *Registry) List(filter ListFilter) []ExecutionRecord {
	statuses := make(map[Status]struct{}, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses[s] = struct{}{}
	}

	r.mu.RLock()
	out := make([]ExecutionRecord, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		rec, ok := r.records[r.order[i]]
		if !ok {
			continue
		}
		if filter.WorldID != "" && rec.WorldID != filter.WorldID {
			continue
		}
		if filter.ChatID != "" && rec.ChatID != filter.ChatID {
			continue
		}
		if filter.ActiveOnly && rec.Status.Terminal() {
			continue
		}
		if len(statuses) > 0 {
			if _, ok := statuses[rec.Status]; !ok {
				continue
			}
		}
		out = append(out, *rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	r.mu.RUnlock()
	return out
}

// Cancel requests termination of an execution. With a live handle the
// process is signaled; without one a non-terminal record is only
// flagged so the spawner can observe CancelRequested.
func (r *Registry) Cancel(id string) CancelOutcome {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return CancelNotFound
	}
	if rec.Status.Terminal() {
		r.mu.Unlock()
		return CancelFinished
	}
	rec.CancelRequested = true
	handle := r.handles[id]
	snapshot := *rec
	subs := r.subscribersLocked()
	r.mu.Unlock()

	notify(subs, snapshot)
	if handle == nil {
		return CancelNotPossible
	}
	if err := handle.Terminate(); err != nil {
		r.logger.Warn("terminate failed", "execution_id", id, "error", err)
	}
	return CancelRequested
}

// Delete removes a terminal, detached execution record.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return ErrUnknownExecution
	}
	if !rec.Status.Terminal() {
		return ErrExecutionActive
	}
	if _, attached := r.handles[id]; attached {
		return ErrHandleStillAttached
	}
	delete(r.records, id)
	r.removeFromOrderLocked(id)
	return nil
}

// StopForChat cancels every active execution scoped to (worldID,
// chatID) and returns how many had live processes signaled.
func (r *Registry) StopForChat(worldID, chatID string) int {
	r.mu.RLock()
	ids := make([]string, 0)
	for id, rec := range r.records {
		if rec.Status.Terminal() {
			continue
		}
		if rec.WorldID != worldID || rec.ChatID != chatID {
			continue
		}
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	killed := 0
	for _, id := range ids {
		if r.Cancel(id) == CancelRequested {
			killed++
		}
	}
	if killed > 0 {
		r.logger.Info("stopped chat executions",
			"world_id", worldID, "chat_id", chatID, "killed", killed)
	}
	return killed
}

// Subscribe registers a status subscriber. The returned function
// unsubscribes; it is safe to call more than once.
func (r *Registry) Subscribe(fn Subscriber) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// Reset clears all state (tests).
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]*ExecutionRecord)
	r.order = nil
	r.handles = make(map[string]Handle)
	r.subs = make(map[int]Subscriber)
}

// evictLocked drops the oldest terminal records while over capacity.
func (r *Registry) evictLocked() {
	if len(r.records) <= r.capacity {
		return
	}
	for i := 0; i < len(r.order) && len(r.records) > r.capacity; {
		id := r.order[i]
		rec, ok := r.records[id]
		if !ok {
			r.order = append(r.order[:i], r.order[i+1:]...)
			continue
		}
		if !rec.Status.Terminal() {
			i++
			continue
		}
		delete(r.records, id)
		delete(r.handles, id)
		r.order = append(r.order[:i], r.order[i+1:]...)
	}
}

func (r *Registry) removeFromOrderLocked(id string) {
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

func (r *Registry) subscribersLocked() []Subscriber {
	if len(r.subs) == 0 {
		return nil
	}
	subs := make([]Subscriber, 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []Subscriber, rec ExecutionRecord) {
	for _, fn := range subs {
		fn(rec)
	}
}
