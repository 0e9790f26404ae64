// Package hitl implements human-in-the-loop option requests: a tool or
// the runtime asks the human to pick an option, the question travels to
// the client as a system event, and the answer (or a timeout) resolves
// the pending request exactly once.
package hitl

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yysun/agent-world/internal/world"
	"github.com/yysun/agent-world/pkg/models"
)

// DefaultTimeout is applied when a request carries no timeout.
const DefaultTimeout = 120 * time.Second

// ErrNoOptions reports a request whose options normalized to nothing.
var ErrNoOptions = errors.New("hitl: request has no usable options")

type pendingKey struct {
	worldID   string
	requestID string
}

type pendingRequest struct {
	options   []models.HitlOption
	defaultID string
	chatID    string
	metadata  map[string]any
	timer     *time.Timer
	done      chan models.HitlOptionResolution
	resolved  bool
}

// Runtime tracks pending option requests across worlds.
type Runtime struct {
	mu      sync.Mutex
	pending map[pendingKey]*pendingRequest
	timeout time.Duration
	logger  *slog.Logger
}

// NewRuntime creates a runtime. A zero timeout selects the default.
func NewRuntime(timeout time.Duration, logger *slog.Logger) *Runtime {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		pending: make(map[pendingKey]*pendingRequest),
		timeout: timeout,
		logger:  logger.With("component", "hitl"),
	}
}

// RequestWorldOption publishes an option request on the world's system
// channel and blocks until a user submission, the timeout, or ctx
// cancellation. Timeout resolves to the default option with source
// "timeout".
func (r *Runtime) RequestWorldOption(ctx context.Context, w *world.World, req models.HitlOptionRequest) (models.HitlOptionResolution, error) {
	options := normalizeOptions(req.Options)
	if len(options) == 0 {
		return models.HitlOptionResolution{}, ErrNoOptions
	}
	defaultID := resolveDefault(options, req.DefaultOptionID)

	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	timeout := r.timeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	key := pendingKey{worldID: w.Data.ID, requestID: requestID}
	p := &pendingRequest{
		options:   options,
		defaultID: defaultID,
		chatID:    req.ChatID,
		metadata:  req.Metadata,
		done:      make(chan models.HitlOptionResolution, 1),
	}

	r.mu.Lock()
	if _, exists := r.pending[key]; exists {
		r.mu.Unlock()
		return models.HitlOptionResolution{}, errors.New("hitl: request id already pending for this world")
	}
	r.pending[key] = p
	p.timer = time.AfterFunc(timeout, func() {
		r.resolve(key, models.HitlOptionResolution{
			OptionID: defaultID,
			Source:   models.HitlResolvedByTimeout,
			Metadata: req.Metadata,
		})
	})
	r.mu.Unlock()

	w.PublishSystem(models.SystemEvent{
		EventType: models.SystemEventHitlOptionRequest,
		Content:   req.Message,
		Data: map[string]any{
			"eventType":       models.SystemEventHitlOptionRequest,
			"requestId":       requestID,
			"title":           req.Title,
			"message":         req.Message,
			"options":         options,
			"defaultOptionId": defaultID,
			"timeoutMs":       timeout.Milliseconds(),
			"metadata":        req.Metadata,
		},
	})
	r.logger.Info("option request pending",
		"world_id", w.Data.ID,
		"request_id", requestID,
		"options", len(options),
		"timeout", timeout)

	select {
	case res := <-p.done:
		return res, nil
	case <-ctx.Done():
		// Resolve with the default so a late submission is a no-op.
		r.resolve(key, models.HitlOptionResolution{
			OptionID: defaultID,
			Source:   models.HitlResolvedByTimeout,
			Metadata: req.Metadata,
		})
		return models.HitlOptionResolution{}, ctx.Err()
	}
}

// SubmitWorldOptionResponse resolves a pending request from a user
// submission. Unknown requests, unknown options, and chat-scope
// mismatches are rejected with a reason.
func (r *Runtime) SubmitWorldOptionResponse(sub models.HitlSubmission) models.HitlSubmissionResult {
	key := pendingKey{worldID: sub.WorldID, requestID: sub.RequestID}

	r.mu.Lock()
	p, ok := r.pending[key]
	if !ok {
		r.mu.Unlock()
		return models.HitlSubmissionResult{Accepted: false, Reason: "unknown request"}
	}
	if p.chatID != "" && sub.ChatID != "" && p.chatID != sub.ChatID {
		r.mu.Unlock()
		return models.HitlSubmissionResult{Accepted: false, Reason: "chat scope mismatch"}
	}
	if !hasOption(p.options, sub.OptionID) {
		r.mu.Unlock()
		return models.HitlSubmissionResult{Accepted: false, Reason: "unknown option"}
	}
	metadata := p.metadata
	r.mu.Unlock()

	if !r.resolve(key, models.HitlOptionResolution{
		OptionID: sub.OptionID,
		Source:   models.HitlResolvedByUser,
		Metadata: metadata,
	}) {
		return models.HitlSubmissionResult{Accepted: false, Reason: "already resolved"}
	}
	return models.HitlSubmissionResult{Accepted: true, Metadata: metadata}
}

// PendingCount returns the number of unresolved requests.
func (r *Runtime) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Reset resolves every pending request with its default option and
// clears the map. Intended for tests and shutdown.
func (r *Runtime) Reset() {
	r.mu.Lock()
	keys := make([]pendingKey, 0, len(r.pending))
	defaults := make(map[pendingKey]string, len(r.pending))
	for k, p := range r.pending {
		keys = append(keys, k)
		defaults[k] = p.defaultID
	}
	r.mu.Unlock()

	for _, k := range keys {
		r.resolve(k, models.HitlOptionResolution{
			OptionID: defaults[k],
			Source:   models.HitlResolvedByTimeout,
		})
	}
}

// resolve delivers a resolution exactly once. Returns false when the
// request was already resolved or unknown.
func (r *Runtime) resolve(key pendingKey, res models.HitlOptionResolution) bool {
	r.mu.Lock()
	p, ok := r.pending[key]
	if !ok || p.resolved {
		r.mu.Unlock()
		return false
	}
	p.resolved = true
	delete(r.pending, key)
	if p.timer != nil {
		p.timer.Stop()
	}
	r.mu.Unlock()

	p.done <- res
	r.logger.Info("option request resolved",
		"world_id", key.worldID,
		"request_id", key.requestID,
		"option_id", res.OptionID,
		"source", res.Source)
	return true
}

func normalizeOptions(in []models.HitlOption) []models.HitlOption {
	seen := make(map[string]bool, len(in))
	var out []models.HitlOption
	for _, o := range in {
		id := strings.TrimSpace(o.ID)
		label := strings.TrimSpace(o.Label)
		if id == "" || label == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, models.HitlOption{ID: id, Label: label, Description: strings.TrimSpace(o.Description)})
	}
	return out
}

func resolveDefault(options []models.HitlOption, explicit string) string {
	if explicit != "" && hasOption(options, explicit) {
		return explicit
	}
	if hasOption(options, "no") {
		return "no"
	}
	return options[0].ID
}

func hasOption(options []models.HitlOption, id string) bool {
	for _, o := range options {
		if o.ID == id {
			return true
		}
	}
	return false
}
