package world

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/yysun/agent-world/internal/config"
	"github.com/yysun/agent-world/internal/observability"
	"github.com/yysun/agent-world/internal/storage"
	"github.com/yysun/agent-world/pkg/models"
)

// Settings are the dispatch-related knobs a world runs with.
type Settings struct {
	MemoryWindow      int
	ChatTitleMaxLen   int
	Streaming         bool
	ToolCallBatchSize int
	OllamaEnableTools bool
}

// SettingsFromConfig extracts world settings from the runtime config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		MemoryWindow:      cfg.World.MemoryWindow,
		ChatTitleMaxLen:   cfg.World.ChatTitleMaxLen,
		Streaming:         cfg.LLM.Streaming,
		ToolCallBatchSize: cfg.LLM.ToolCallBatchSize,
		OllamaEnableTools: cfg.LLM.OllamaEnableTools,
	}
}

// DefaultSettings mirrors config.Default().
func DefaultSettings() Settings {
	return SettingsFromConfig(config.Default())
}

// Agent is the runtime state of one LLM-backed participant. The owning
// world serializes access through its mutex; tool callbacks receive the
// world by parameter rather than holding a back-reference.
type Agent struct {
	Data   models.AgentData
	mu     sync.Mutex
	memory []models.AgentMessage
}

// NewAgent wraps persisted agent data and memory.
func NewAgent(data models.AgentData, memory []models.AgentMessage) *Agent {
	return &Agent{Data: data, memory: memory}
}

// Memory returns a copy of the agent's memory.
func (a *Agent) Memory() []models.AgentMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return models.CloneMessages(a.memory)
}

// MemoryTail returns a copy of the last n memory entries.
func (a *Agent) MemoryTail(n int) []models.AgentMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n <= 0 || n >= len(a.memory) {
		return models.CloneMessages(a.memory)
	}
	return models.CloneMessages(a.memory[len(a.memory)-n:])
}

// AppendMemory appends messages to the agent's memory.
func (a *Agent) AppendMemory(msgs ...models.AgentMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memory = append(a.memory, msgs...)
}

// ReplaceMemory swaps the memory wholesale (chat restore, clear).
func (a *Agent) ReplaceMemory(memory []models.AgentMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memory = memory
}

// MemoryLen returns the current memory length.
func (a *Agent) MemoryLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.memory)
}

// IncrementLLMCall bumps the agent's call counter and stamps the call
// time, returning the new count.
func (a *Agent) IncrementLLMCall() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Data.LLMCallCount++
	a.Data.LastLLMCall = time.Now()
	return a.Data.LLMCallCount
}

// RollbackLLMCall undoes one increment. Canceled provider calls must
// not consume a turn-limit slot.
func (a *Agent) RollbackLLMCall() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Data.LLMCallCount > 0 {
		a.Data.LLMCallCount--
	}
}

// ResetLLMCalls zeroes the call counter (human or world input).
func (a *Agent) ResetLLMCalls() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Data.LLMCallCount = 0
}

// LLMCallCount returns the current call counter.
func (a *Agent) LLMCallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Data.LLMCallCount
}

// World is the runtime container for one conversation world: its bus,
// agents, chats, activity state, and per-chat processing handles.
type World struct {
	Data models.WorldData

	bus       *EventBus
	storage   storage.API
	settings  Settings
	logger    *slog.Logger
	clientLog *observability.SwitchHandler
	metrics   *observability.Metrics

	providers ProviderResolver
	tools     *ToolRegistry

	mu               sync.RWMutex
	agents           map[string]*Agent
	subscribedAgents map[string]bool
	chats            map[string]models.Chat
	currentChatID    string

	activity   activityState
	processing processingState
	titleMu    sync.Mutex
}

// Options configures world construction.
type Options struct {
	Storage   storage.API
	Providers ProviderResolver
	Settings  *Settings
	Logger    *slog.Logger
	Metrics   *observability.Metrics

	// Tools, when set, is shared by every world built with these
	// options. Nil gets each world its own empty registry.
	Tools *ToolRegistry
}

// New builds a runtime world around persisted data. The event bus is
// unique to this instance; Refresh creates a new instance with a new
// bus.
func New(data models.WorldData, opts Options) *World {
	if data.TurnLimit <= 0 {
		data.TurnLimit = models.DefaultTurnLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	settings := DefaultSettings()
	if opts.Settings != nil {
		settings = *opts.Settings
	}
	tools := opts.Tools
	if tools == nil {
		tools = NewToolRegistry()
	}
	// The logger tees into a runtime-switchable client handler so an
	// attaching subscription never mutates the logger itself.
	clientLog := observability.NewSwitchHandler()
	scoped := logger.With("component", "world", "world_id", data.ID)
	w := &World{
		Data:          data,
		bus:           NewEventBus(),
		storage:       opts.Storage,
		settings:      settings,
		logger:        slog.New(observability.Tee(scoped.Handler(), clientLog)),
		clientLog:     clientLog,
		metrics:       opts.Metrics,
		providers:     opts.Providers,
		tools:         tools,
		agents:        make(map[string]*Agent),
		chats:         make(map[string]models.Chat),
		currentChatID: data.CurrentChatID,
	}
	w.processing.controllers = make(map[string][]chatController)
	w.processing.activeLLM = make(map[string]int)
	w.activity.sources = make(map[string]int)
	return w
}

// Bus returns the world's event bus.
func (w *World) Bus() *EventBus { return w.bus }

// Settings returns the world's dispatch settings.
func (w *World) Settings() Settings { return w.settings }

// Storage returns the persistence handle (may be nil in tests).
func (w *World) Storage() storage.API { return w.storage }

// Tools returns the world's tool registry.
func (w *World) Tools() *ToolRegistry { return w.tools }

// Logger returns the world-scoped logger.
func (w *World) Logger() *slog.Logger { return w.logger }

// AddAgent registers a runtime agent.
func (w *World) AddAgent(a *Agent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.agents[a.Data.ID] = a
}

// Agent looks up a runtime agent by id.
func (w *World) Agent(id string) (*Agent, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	a, ok := w.agents[id]
	return a, ok
}

// Agents returns the current runtime agents.
func (w *World) Agents() []*Agent {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Agent, 0, len(w.agents))
	for _, a := range w.agents {
		out = append(out, a)
	}
	return out
}

// RemoveAgent drops a runtime agent. Its message handler checks
// membership, so any still-attached listener goes quiet.
func (w *World) RemoveAgent(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.agents, id)
	delete(w.subscribedAgents, id)
}

// ClearAgents empties the agents map (subscription teardown). The
// subscribed set resets with it; the caller removes the bus listeners.
func (w *World) ClearAgents() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.agents = make(map[string]*Agent)
	w.subscribedAgents = nil
}

// CurrentChatID returns the active chat id.
func (w *World) CurrentChatID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.currentChatID
}

// SetCurrentChat switches the active chat.
func (w *World) SetCurrentChat(chatID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentChatID = chatID
	w.Data.CurrentChatID = chatID
}

// Chat returns chat metadata by id.
func (w *World) Chat(chatID string) (models.Chat, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.chats[chatID]
	return c, ok
}

// PutChat stores chat metadata in the runtime map.
func (w *World) PutChat(chat models.Chat) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chats[chat.ID] = chat
}

// TurnLimit returns the world's turn limit.
func (w *World) TurnLimit() int {
	if w.Data.TurnLimit <= 0 {
		return models.DefaultTurnLimit
	}
	return w.Data.TurnLimit
}

// PublishMessage publishes a chat message on the message channel and
// returns the event.
func (w *World) PublishMessage(sender, content string) models.MessageEvent {
	ev := models.MessageEvent{
		Content:   content,
		Sender:    sender,
		Timestamp: time.Now(),
		MessageID: newMessageID(),
		ChatID:    w.CurrentChatID(),
	}
	w.bus.Publish(ChannelMessage, ev)
	return ev
}

// PublishSSE publishes a streaming event.
func (w *World) PublishSSE(ev models.SSEEvent) {
	w.bus.Publish(ChannelSSE, ev)
}

// PublishSystem publishes a system event, stamping the time.
func (w *World) PublishSystem(ev models.SystemEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	w.bus.Publish(ChannelSystem, ev)
}

// SaveAgent persists an agent's config and memory, logging persistence
// failures as warnings instead of failing the turn.
func (w *World) SaveAgent(ctx context.Context, a *Agent) {
	if w.storage == nil {
		return
	}
	if err := w.storage.SaveAgent(ctx, w.Data.ID, a.Data, a.Memory()); err != nil {
		w.logger.Warn("agent persist failed", "agent_id", a.Data.ID, "error", err)
	}
}

// SaveAgentConfig persists only the agent's configuration/counters.
func (w *World) SaveAgentConfig(ctx context.Context, a *Agent) {
	if w.storage == nil {
		return
	}
	if err := w.storage.SaveAgentConfig(ctx, w.Data.ID, a.Data); err != nil {
		w.logger.Warn("agent config persist failed", "agent_id", a.Data.ID, "error", err)
	}
}
