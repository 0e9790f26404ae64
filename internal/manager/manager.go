// Package manager is the facade callers use to run worlds: CRUD for
// worlds, agents, and chats, plus the runtime wiring between storage
// and live world instances.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yysun/agent-world/internal/ident"
	"github.com/yysun/agent-world/internal/shell"
	"github.com/yysun/agent-world/internal/storage"
	"github.com/yysun/agent-world/internal/world"
	"github.com/yysun/agent-world/pkg/models"
)

// Errors returned by manager operations.
var (
	ErrWorldProcessing = errors.New("world is currently processing")
	ErrAgentExists     = errors.New("agent already exists")
	ErrSlotClaimed     = errors.New("agent creation already in progress")
)

type slotKey struct {
	worldID string
	agentID string
}

// Manager owns the runtime world instances and routes every
// persistence call through the storage API.
type Manager struct {
	mu     sync.Mutex
	store  storage.API
	opts   world.Options
	shell  *shell.Registry
	worlds map[string]*world.World
	slots  map[slotKey]bool
	logger *slog.Logger
}

// New creates a manager. opts carries the provider resolver, settings,
// logger, and metrics handed to every world instance.
func New(store storage.API, opts world.Options, shellReg *shell.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	opts.Storage = store
	if opts.Logger == nil {
		opts.Logger = logger
	}
	return &Manager{
		store:  store,
		opts:   opts,
		shell:  shellReg,
		worlds: make(map[string]*world.World),
		slots:  make(map[slotKey]bool),
		logger: logger.With("component", "manager"),
	}
}

// Options returns the world options the manager builds instances with.
func (m *Manager) Options() world.Options { return m.opts }

// CreateWorldParams configures a new world.
type CreateWorldParams struct {
	Name         string
	Description  string
	TurnLimit    int
	ChatProvider models.Provider
	ChatModel    string
	Variables    string
}

// CreateWorld persists a new world and returns its runtime instance.
func (m *Manager) CreateWorld(ctx context.Context, params CreateWorldParams) (*world.World, error) {
	id := ident.ToKebabCase(params.Name)
	if id == "" {
		return nil, fmt.Errorf("world name %q is empty after normalization", params.Name)
	}
	if exists, err := m.store.WorldExists(ctx, id); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("world %q already exists", id)
	}

	now := time.Now()
	data := models.WorldData{
		ID:           id,
		Name:         params.Name,
		Description:  params.Description,
		TurnLimit:    params.TurnLimit,
		ChatProvider: params.ChatProvider,
		ChatModel:    params.ChatModel,
		Variables:    params.Variables,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.SaveWorld(ctx, data); err != nil {
		return nil, err
	}

	w := world.New(data, m.opts)
	m.mu.Lock()
	m.worlds[id] = w
	m.mu.Unlock()
	m.logger.Info("world created", "world_id", id)
	return w, nil
}

// GetWorld returns the runtime instance for a world, loading it from
// storage on first access.
func (m *Manager) GetWorld(ctx context.Context, worldID string) (*world.World, error) {
	m.mu.Lock()
	if w, ok := m.worlds[worldID]; ok {
		m.mu.Unlock()
		return w, nil
	}
	m.mu.Unlock()

	w, err := world.LoadFromStorage(ctx, worldID, m.opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.worlds[worldID]; ok {
		return cached, nil
	}
	m.worlds[worldID] = w
	return w, nil
}

// UpdateWorldParams carries optional field updates; nil pointers leave
// the field untouched.
type UpdateWorldParams struct {
	Name         *string
	Description  *string
	TurnLimit    *int
	ChatProvider *models.Provider
	ChatModel    *string
	Variables    *string
}

// UpdateWorld applies the update and persists it.
func (m *Manager) UpdateWorld(ctx context.Context, worldID string, params UpdateWorldParams) (*world.World, error) {
	w, err := m.GetWorld(ctx, worldID)
	if err != nil {
		return nil, err
	}
	if params.Name != nil {
		w.Data.Name = *params.Name
	}
	if params.Description != nil {
		w.Data.Description = *params.Description
	}
	if params.TurnLimit != nil {
		w.Data.TurnLimit = *params.TurnLimit
	}
	if params.ChatProvider != nil {
		w.Data.ChatProvider = *params.ChatProvider
	}
	if params.ChatModel != nil {
		w.Data.ChatModel = *params.ChatModel
	}
	if params.Variables != nil {
		w.Data.Variables = *params.Variables
	}
	w.Data.UpdatedAt = time.Now()
	if err := m.store.SaveWorld(ctx, w.Data); err != nil {
		return nil, err
	}
	return w, nil
}

// DeleteWorld removes the world from storage and drops the runtime
// instance.
func (m *Manager) DeleteWorld(ctx context.Context, worldID string) error {
	if err := m.store.DeleteWorld(ctx, worldID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.worlds, worldID)
	m.mu.Unlock()
	m.logger.Info("world deleted", "world_id", worldID)
	return nil
}

// ListWorlds returns all persisted worlds.
func (m *Manager) ListWorlds(ctx context.Context) ([]models.WorldData, error) {
	return m.store.ListWorlds(ctx)
}

// CreateAgentParams configures a new agent.
type CreateAgentParams struct {
	Name         string
	Type         string
	Provider     models.Provider
	Model        string
	SystemPrompt string
	Temperature  *float64
	MaxTokens    *int
	AutoReply    bool
}

// CreateAgentOptions relaxes creation constraints for tool-triggered
// creation mid-turn.
type CreateAgentOptions struct {
	// AllowWhileProcessing permits creation while the world has
	// pending operations.
	AllowWhileProcessing bool
	// SlotAlreadyClaimed skips the claim because the caller holds the
	// creation slot; the caller also releases it.
	SlotAlreadyClaimed bool
}

// CreateAgent persists a new agent and attaches it to the runtime
// world, including its message handler subscription.
func (m *Manager) CreateAgent(ctx context.Context, worldID string, params CreateAgentParams, opts CreateAgentOptions) (*world.Agent, error) {
	w, err := m.GetWorld(ctx, worldID)
	if err != nil {
		return nil, err
	}
	if w.IsProcessing() && !opts.AllowWhileProcessing {
		return nil, ErrWorldProcessing
	}

	agentID := ident.ToKebabCase(params.Name)
	if agentID == "" {
		return nil, fmt.Errorf("agent name %q is empty after normalization", params.Name)
	}

	if !opts.SlotAlreadyClaimed {
		if !m.ClaimCreationSlot(worldID, agentID) {
			return nil, ErrSlotClaimed
		}
		defer m.ReleaseCreationSlot(worldID, agentID)
	}

	if _, exists := w.Agent(agentID); exists {
		return nil, fmt.Errorf("%w: %s", ErrAgentExists, agentID)
	}

	provider := params.Provider
	if provider == "" {
		provider = w.Data.ChatProvider
	}
	if provider == "" {
		provider = models.ProviderOpenAI
	}
	model := params.Model
	if model == "" {
		model = w.Data.ChatModel
	}
	if model == "" {
		model = "gpt-4"
	}

	now := time.Now()
	data := models.AgentData{
		ID:           agentID,
		Name:         params.Name,
		Type:         params.Type,
		Provider:     provider,
		Model:        model,
		SystemPrompt: params.SystemPrompt,
		Temperature:  params.Temperature,
		MaxTokens:    params.MaxTokens,
		AutoReply:    params.AutoReply,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.SaveAgent(ctx, worldID, data, nil); err != nil {
		return nil, err
	}

	agent := world.NewAgent(data, nil)
	w.AddAgent(agent)
	w.SubscribeAgent(agent)
	m.logger.Info("agent created", "world_id", worldID, "agent_id", agentID)
	return agent, nil
}

// ClaimCreationSlot reserves (worldID, agentID) for one creation flow.
func (m *Manager) ClaimCreationSlot(worldID, agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := slotKey{worldID: worldID, agentID: agentID}
	if m.slots[key] {
		return false
	}
	m.slots[key] = true
	return true
}

// ReleaseCreationSlot frees a claimed slot.
func (m *Manager) ReleaseCreationSlot(worldID, agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, slotKey{worldID: worldID, agentID: agentID})
}

// CreateAgentInWorld creates an agent on an already-loaded world during
// an in-flight turn. The caller holds the creation slot.
func (m *Manager) CreateAgentInWorld(ctx context.Context, w *world.World, data models.AgentData) error {
	_, err := m.CreateAgent(ctx, w.Data.ID, CreateAgentParams{
		Name:         data.Name,
		Type:         data.Type,
		Provider:     data.Provider,
		Model:        data.Model,
		SystemPrompt: data.SystemPrompt,
		Temperature:  data.Temperature,
		MaxTokens:    data.MaxTokens,
		AutoReply:    data.AutoReply,
	}, CreateAgentOptions{AllowWhileProcessing: true, SlotAlreadyClaimed: true})
	return err
}

// GetAgent returns the runtime agent.
func (m *Manager) GetAgent(ctx context.Context, worldID, agentID string) (*world.Agent, error) {
	w, err := m.GetWorld(ctx, worldID)
	if err != nil {
		return nil, err
	}
	a, ok := w.Agent(agentID)
	if !ok {
		return nil, storage.ErrAgentNotFound
	}
	return a, nil
}

// UpdateAgentParams carries optional agent field updates.
type UpdateAgentParams struct {
	Name         *string
	Provider     *models.Provider
	Model        *string
	SystemPrompt *string
	Temperature  *float64
	MaxTokens    *int
	AutoReply    *bool
}

// UpdateAgent applies the update and persists the config.
func (m *Manager) UpdateAgent(ctx context.Context, worldID, agentID string, params UpdateAgentParams) (*world.Agent, error) {
	a, err := m.GetAgent(ctx, worldID, agentID)
	if err != nil {
		return nil, err
	}
	if params.Name != nil {
		a.Data.Name = *params.Name
	}
	if params.Provider != nil {
		a.Data.Provider = *params.Provider
	}
	if params.Model != nil {
		a.Data.Model = *params.Model
	}
	if params.SystemPrompt != nil {
		a.Data.SystemPrompt = *params.SystemPrompt
	}
	if params.Temperature != nil {
		a.Data.Temperature = params.Temperature
	}
	if params.MaxTokens != nil {
		a.Data.MaxTokens = params.MaxTokens
	}
	if params.AutoReply != nil {
		a.Data.AutoReply = *params.AutoReply
	}
	a.Data.UpdatedAt = time.Now()
	if err := m.store.SaveAgentConfig(ctx, worldID, a.Data); err != nil {
		return nil, err
	}
	return a, nil
}

// DeleteAgent removes the agent from storage and the runtime world.
func (m *Manager) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	if err := m.store.DeleteAgent(ctx, worldID, agentID); err != nil {
		return err
	}
	if w, err := m.GetWorld(ctx, worldID); err == nil {
		w.RemoveAgent(agentID)
	}
	return nil
}

// ListAgents returns all persisted agents of a world.
func (m *Manager) ListAgents(ctx context.Context, worldID string) ([]models.AgentData, error) {
	return m.store.ListAgents(ctx, worldID)
}

// ClearAgentMemory archives the agent's current memory, then empties
// it. The archive keeps cleared conversations recoverable.
func (m *Manager) ClearAgentMemory(ctx context.Context, worldID, agentID string) error {
	a, err := m.GetAgent(ctx, worldID, agentID)
	if err != nil {
		return err
	}
	memory := a.Memory()
	if len(memory) > 0 {
		if err := m.store.ArchiveMemory(ctx, worldID, agentID, memory); err != nil {
			return fmt.Errorf("archive memory: %w", err)
		}
	}
	a.ReplaceMemory(nil)
	if err := m.store.SaveAgentMemory(ctx, worldID, agentID, nil); err != nil {
		return err
	}
	m.logger.Info("agent memory cleared", "world_id", worldID, "agent_id", agentID, "archived", len(memory))
	return nil
}

// NewChat opens a new chat and makes it current. An empty name leaves
// the chat untitled so the title generator names it from the first
// message.
func (m *Manager) NewChat(ctx context.Context, worldID, name string) (models.Chat, error) {
	w, err := m.GetWorld(ctx, worldID)
	if err != nil {
		return models.Chat{}, err
	}

	now := time.Now()
	chat := models.Chat{
		ID:        uuid.NewString(),
		WorldID:   worldID,
		Name:      strings.TrimSpace(name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if chat.Name == "" {
		chat.Name = "New Chat"
		chat.Untitled = true
	}
	if err := m.store.SaveChatData(ctx, worldID, chat); err != nil {
		return models.Chat{}, err
	}

	w.PutChat(chat)
	w.SetCurrentChat(chat.ID)
	if err := m.store.SaveWorld(ctx, w.Data); err != nil {
		m.logger.Warn("current chat persist failed", "world_id", worldID, "error", err)
	}
	return chat, nil
}

// SaveChatSnapshot captures the world, its agents, and the chat's
// messages into a restorable snapshot.
func (m *Manager) SaveChatSnapshot(ctx context.Context, worldID, chatID string) error {
	w, err := m.GetWorld(ctx, worldID)
	if err != nil {
		return err
	}
	chat, ok := w.Chat(chatID)
	if !ok {
		return storage.ErrChatNotFound
	}

	snapshot := models.WorldChat{
		Chat:       chat,
		World:      w.Data,
		CapturedAt: time.Now(),
	}
	for _, a := range w.Agents() {
		snapshot.Agents = append(snapshot.Agents, a.Data)
		for _, msg := range a.Memory() {
			if msg.ChatID == chatID {
				snapshot.Messages = append(snapshot.Messages, msg)
			}
		}
	}
	return m.store.SaveWorldChat(ctx, worldID, snapshot)
}

// RestoreChat restores a chat snapshot and reloads the runtime world so
// agents resume with the snapshot's memory. The chat becomes current.
func (m *Manager) RestoreChat(ctx context.Context, worldID, chatID string) (*world.World, error) {
	snapshot, err := m.store.LoadWorldChat(ctx, worldID, chatID)
	if err != nil {
		return nil, err
	}
	if err := m.store.RestoreFromWorldChat(ctx, worldID, *snapshot); err != nil {
		return nil, err
	}

	m.mu.Lock()
	delete(m.worlds, worldID)
	m.mu.Unlock()

	w, err := m.GetWorld(ctx, worldID)
	if err != nil {
		return nil, err
	}
	w.SetCurrentChat(chatID)
	if err := m.store.SaveWorld(ctx, w.Data); err != nil {
		m.logger.Warn("current chat persist failed", "world_id", worldID, "error", err)
	}
	m.logger.Info("chat restored", "world_id", worldID, "chat_id", chatID)
	return w, nil
}

// ListChats returns all chats of a world.
func (m *Manager) ListChats(ctx context.Context, worldID string) ([]models.Chat, error) {
	return m.store.ListChats(ctx, worldID)
}

// DeleteChat removes a chat; deleting the current chat clears the
// world's current chat pointer.
func (m *Manager) DeleteChat(ctx context.Context, worldID, chatID string) error {
	if err := m.store.DeleteChatData(ctx, worldID, chatID); err != nil {
		return err
	}
	w, err := m.GetWorld(ctx, worldID)
	if err != nil {
		return nil
	}
	if w.CurrentChatID() == chatID {
		w.SetCurrentChat("")
		if err := m.store.SaveWorld(ctx, w.Data); err != nil {
			m.logger.Warn("current chat persist failed", "world_id", worldID, "error", err)
		}
	}
	return nil
}

// StopMessageProcessing aborts all processing for a chat: LLM calls,
// per-chat handlers, and active shell executions.
func (m *Manager) StopMessageProcessing(ctx context.Context, worldID, chatID string) (models.StopResult, error) {
	w, err := m.GetWorld(ctx, worldID)
	if err != nil {
		return models.StopResult{}, err
	}
	return w.StopMessageProcessing(chatID, m.shell), nil
}
