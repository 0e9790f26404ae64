package world

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/yysun/agent-world/pkg/models"
)

// ProviderRequest is one completion request in the canonical message
// shape. Tools is nil on follow-up turns so a tool round cannot recurse
// into another tool round.
type ProviderRequest struct {
	Model       string
	Messages    []models.AgentMessage
	Tools       []models.ToolDefinition
	Temperature *float64
	MaxTokens   *int
}

// ProviderResponse is the non-streaming completion result.
type ProviderResponse struct {
	Content   string
	ToolCalls []models.ToolCall
	Usage     *models.TokenUsage
}

// ToolCallDelta is one streamed fragment of a tool call. Index is
// stable across fragments of the same call so arguments can be merged.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// StreamChunk is one unit of a streaming completion. Exactly one of
// Content, ToolCall, Usage, or Err is meaningful per chunk; the channel
// closes after the final chunk.
type StreamChunk struct {
	Content  string
	ToolCall *ToolCallDelta
	Usage    *models.TokenUsage
	Err      error
}

// Provider is an LLM backend. Implementations live outside this module;
// the dispatch loop only depends on this contract. Both calls honor ctx
// cancellation by aborting the underlying request.
type Provider interface {
	Stream(ctx context.Context, req ProviderRequest) (<-chan StreamChunk, error)
	Generate(ctx context.Context, req ProviderRequest) (*ProviderResponse, error)
}

// ProviderResolver maps a provider name to a backend. The manager wires
// a registry in; tests substitute fakes.
type ProviderResolver interface {
	Resolve(provider models.Provider) (Provider, error)
}

// ProviderRegistry is the default resolver: a static map of configured
// backends.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[models.Provider]Provider
}

// NewProviderRegistry creates an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[models.Provider]Provider)}
}

// Register adds or replaces a backend.
func (r *ProviderRegistry) Register(name models.Provider, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Resolve returns the backend for a provider name.
func (r *ProviderRegistry) Resolve(name models.Provider) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", name)
	}
	return p, nil
}

var _ ProviderResolver = (*ProviderRegistry)(nil)

// toolCallAccumulator merges streamed tool-call deltas by index into
// complete calls.
type toolCallAccumulator struct {
	order []int
	calls map[int]*models.ToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*models.ToolCall)}
}

func (a *toolCallAccumulator) apply(d *ToolCallDelta) {
	call, ok := a.calls[d.Index]
	if !ok {
		call = &models.ToolCall{Type: "function"}
		a.calls[d.Index] = call
		a.order = append(a.order, d.Index)
	}
	if d.ID != "" {
		call.ID = d.ID
	}
	if d.Name != "" {
		call.Function.Name = d.Name
	}
	call.Function.Arguments += d.Arguments
}

func (a *toolCallAccumulator) result() []models.ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	out := make([]models.ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		out = append(out, *a.calls[idx])
	}
	return out
}

func newMessageID() string {
	return uuid.NewString()
}
