// Package storage defines the persistence contract for worlds, agents,
// chats, and chat snapshots. Implementations return plain data only;
// runtime objects are reconstructed by the callers.
package storage

import (
	"context"
	"errors"

	"github.com/yysun/agent-world/pkg/models"
)

// Errors shared by implementations.
var (
	ErrWorldNotFound = errors.New("world not found")
	ErrAgentNotFound = errors.New("agent not found")
	ErrChatNotFound  = errors.New("chat not found")
)

// API is the full persistence surface the orchestration core depends
// on. File and SQLite backends live outside this module.
type API interface {
	SaveWorld(ctx context.Context, world models.WorldData) error
	LoadWorld(ctx context.Context, worldID string) (*models.WorldData, error)
	ListWorlds(ctx context.Context) ([]models.WorldData, error)
	DeleteWorld(ctx context.Context, worldID string) error
	WorldExists(ctx context.Context, worldID string) (bool, error)

	SaveAgent(ctx context.Context, worldID string, agent models.AgentData, memory []models.AgentMessage) error
	SaveAgentConfig(ctx context.Context, worldID string, agent models.AgentData) error
	SaveAgentMemory(ctx context.Context, worldID, agentID string, memory []models.AgentMessage) error
	LoadAgent(ctx context.Context, worldID, agentID string) (*models.AgentData, []models.AgentMessage, error)
	ListAgents(ctx context.Context, worldID string) ([]models.AgentData, error)
	DeleteAgent(ctx context.Context, worldID, agentID string) error

	SaveChatData(ctx context.Context, worldID string, chat models.Chat) error
	LoadChatData(ctx context.Context, worldID, chatID string) (*models.Chat, error)
	UpdateChatData(ctx context.Context, worldID string, chat models.Chat) error
	ListChats(ctx context.Context, worldID string) ([]models.Chat, error)
	DeleteChatData(ctx context.Context, worldID, chatID string) error

	SaveWorldChat(ctx context.Context, worldID string, snapshot models.WorldChat) error
	LoadWorldChat(ctx context.Context, worldID, chatID string) (*models.WorldChat, error)
	RestoreFromWorldChat(ctx context.Context, worldID string, snapshot models.WorldChat) error

	ValidateIntegrity(ctx context.Context, worldID string) (bool, error)
	RepairData(ctx context.Context, worldID string) error
	ArchiveMemory(ctx context.Context, worldID, agentID string, memory []models.AgentMessage) error
}
