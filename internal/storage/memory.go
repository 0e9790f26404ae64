package storage

import (
	"context"
	"sync"

	"github.com/yysun/agent-world/pkg/models"
)

type agentEntry struct {
	config models.AgentData
	memory []models.AgentMessage
}

// MemoryStore is a thread-safe in-memory implementation of API, used by
// tests and the CLI. Data does not survive process restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	worlds   map[string]models.WorldData
	agents   map[string]map[string]*agentEntry // worldID → agentID → entry
	chats    map[string]map[string]models.Chat
	snaps    map[string]map[string]models.WorldChat
	archives map[string][][]models.AgentMessage // worldID/agentID → archived memories
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		worlds:   make(map[string]models.WorldData),
		agents:   make(map[string]map[string]*agentEntry),
		chats:    make(map[string]map[string]models.Chat),
		snaps:    make(map[string]map[string]models.WorldChat),
		archives: make(map[string][][]models.AgentMessage),
	}
}

func (s *MemoryStore) SaveWorld(ctx context.Context, world models.WorldData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worlds[world.ID] = world
	return nil
}

func (s *MemoryStore) LoadWorld(ctx context.Context, worldID string) (*models.WorldData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.worlds[worldID]
	if !ok {
		return nil, ErrWorldNotFound
	}
	out := w
	return &out, nil
}

func (s *MemoryStore) ListWorlds(ctx context.Context) ([]models.WorldData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.WorldData, 0, len(s.worlds))
	for _, w := range s.worlds {
		out = append(out, w)
	}
	return out, nil
}

func (s *MemoryStore) DeleteWorld(ctx context.Context, worldID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.worlds[worldID]; !ok {
		return ErrWorldNotFound
	}
	delete(s.worlds, worldID)
	delete(s.agents, worldID)
	delete(s.chats, worldID)
	delete(s.snaps, worldID)
	return nil
}

func (s *MemoryStore) WorldExists(ctx context.Context, worldID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.worlds[worldID]
	return ok, nil
}

func (s *MemoryStore) SaveAgent(ctx context.Context, worldID string, agent models.AgentData, memory []models.AgentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentMapLocked(worldID)[agent.ID] = &agentEntry{
		config: agent,
		memory: models.CloneMessages(memory),
	}
	return nil
}

func (s *MemoryStore) SaveAgentConfig(ctx context.Context, worldID string, agent models.AgentData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.agentMapLocked(worldID)
	if entry, ok := m[agent.ID]; ok {
		entry.config = agent
	} else {
		m[agent.ID] = &agentEntry{config: agent}
	}
	return nil
}

func (s *MemoryStore) SaveAgentMemory(ctx context.Context, worldID, agentID string, memory []models.AgentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.agentMapLocked(worldID)[agentID]
	if !ok {
		return ErrAgentNotFound
	}
	entry.memory = models.CloneMessages(memory)
	return nil
}

func (s *MemoryStore) LoadAgent(ctx context.Context, worldID, agentID string) (*models.AgentData, []models.AgentMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.agents[worldID][agentID]
	if !ok {
		return nil, nil, ErrAgentNotFound
	}
	cfg := entry.config
	return &cfg, models.CloneMessages(entry.memory), nil
}

func (s *MemoryStore) ListAgents(ctx context.Context, worldID string) ([]models.AgentData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AgentData, 0, len(s.agents[worldID]))
	for _, entry := range s.agents[worldID] {
		out = append(out, entry.config)
	}
	return out, nil
}

func (s *MemoryStore) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[worldID][agentID]; !ok {
		return ErrAgentNotFound
	}
	delete(s.agents[worldID], agentID)
	return nil
}

func (s *MemoryStore) SaveChatData(ctx context.Context, worldID string, chat models.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatMapLocked(worldID)[chat.ID] = chat
	return nil
}

func (s *MemoryStore) LoadChatData(ctx context.Context, worldID, chatID string) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[worldID][chatID]
	if !ok {
		return nil, ErrChatNotFound
	}
	out := chat
	return &out, nil
}

func (s *MemoryStore) UpdateChatData(ctx context.Context, worldID string, chat models.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[worldID][chat.ID]; !ok {
		return ErrChatNotFound
	}
	s.chats[worldID][chat.ID] = chat
	return nil
}

func (s *MemoryStore) ListChats(ctx context.Context, worldID string) ([]models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Chat, 0, len(s.chats[worldID]))
	for _, chat := range s.chats[worldID] {
		out = append(out, chat)
	}
	return out, nil
}

func (s *MemoryStore) DeleteChatData(ctx context.Context, worldID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[worldID][chatID]; !ok {
		return ErrChatNotFound
	}
	delete(s.chats[worldID], chatID)
	return nil
}

func (s *MemoryStore) SaveWorldChat(ctx context.Context, worldID string, snapshot models.WorldChat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snaps[worldID] == nil {
		s.snaps[worldID] = make(map[string]models.WorldChat)
	}
	s.snaps[worldID][snapshot.Chat.ID] = snapshot
	return nil
}

func (s *MemoryStore) LoadWorldChat(ctx context.Context, worldID, chatID string) (*models.WorldChat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[worldID][chatID]
	if !ok {
		return nil, ErrChatNotFound
	}
	out := snap
	return &out, nil
}

func (s *MemoryStore) RestoreFromWorldChat(ctx context.Context, worldID string, snapshot models.WorldChat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.worlds[worldID]; !ok {
		return ErrWorldNotFound
	}
	s.worlds[worldID] = snapshot.World
	agents := make(map[string]*agentEntry, len(snapshot.Agents))
	for _, a := range snapshot.Agents {
		var memory []models.AgentMessage
		for _, m := range snapshot.Messages {
			if m.Sender == a.ID || m.ChatID == snapshot.Chat.ID {
				memory = append(memory, m)
			}
		}
		agents[a.ID] = &agentEntry{config: a, memory: memory}
	}
	s.agents[worldID] = agents
	s.chatMapLocked(worldID)[snapshot.Chat.ID] = snapshot.Chat
	return nil
}

func (s *MemoryStore) ValidateIntegrity(ctx context.Context, worldID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.worlds[worldID]
	return ok, nil
}

func (s *MemoryStore) RepairData(ctx context.Context, worldID string) error {
	return nil
}

func (s *MemoryStore) ArchiveMemory(ctx context.Context, worldID, agentID string, memory []models.AgentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := worldID + "/" + agentID
	s.archives[key] = append(s.archives[key], models.CloneMessages(memory))
	return nil
}

// ArchivedMemories returns archived memory snapshots for an agent (tests).
func (s *MemoryStore) ArchivedMemories(worldID, agentID string) [][]models.AgentMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.archives[worldID+"/"+agentID]
}

func (s *MemoryStore) agentMapLocked(worldID string) map[string]*agentEntry {
	if s.agents[worldID] == nil {
		s.agents[worldID] = make(map[string]*agentEntry)
	}
	return s.agents[worldID]
}

func (s *MemoryStore) chatMapLocked(worldID string) map[string]models.Chat {
	if s.chats[worldID] == nil {
		s.chats[worldID] = make(map[string]models.Chat)
	}
	return s.chats[worldID]
}

var _ API = (*MemoryStore)(nil)
