package models

import (
	"time"
)

// Provider identifies an LLM backend family.
type Provider string

const (
	ProviderOpenAI           Provider = "openai"
	ProviderAnthropic        Provider = "anthropic"
	ProviderGoogle           Provider = "google"
	ProviderAzure            Provider = "azure"
	ProviderXAI              Provider = "xai"
	ProviderOpenAICompatible Provider = "openai-compatible"
	ProviderOllama           Provider = "ollama"
)

// DefaultTurnLimit is the number of consecutive LLM calls an agent may
// make before a human or world message resets the count.
const DefaultTurnLimit = 5

// WorldData is the persisted configuration of a world. Runtime state
// (event bus, loaded agents, processing flags) lives on world.World.
type WorldData struct {
	ID          string `json:"id"` // kebab-case, stable for lifetime
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TurnLimit   int    `json:"turn_limit"`

	// ChatProvider/ChatModel select the LLM used for world-level calls
	// such as chat title generation. Empty means no chat LLM.
	ChatProvider Provider `json:"chat_provider,omitempty"`
	ChatModel    string   `json:"chat_model,omitempty"`

	// MCPConfig is the raw MCP server configuration, if any.
	MCPConfig string `json:"mcp_config,omitempty"`

	// Variables holds KEY=value lines. The shell tool reads the trusted
	// working directory from the working_directory key.
	Variables string `json:"variables,omitempty"`

	CurrentChatID string    `json:"current_chat_id,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// AgentData is the persisted configuration and counters of an agent.
// Memory is stored separately (see AgentMessage).
type AgentData struct {
	ID           string   `json:"id"` // kebab-case of Name
	Name         string   `json:"name"`
	Type         string   `json:"type,omitempty"`
	Provider     Provider `json:"provider"`
	Model        string   `json:"model"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	AutoReply    bool     `json:"auto_reply"`

	// LLMCallCount increments on every agent-triggered LLM call and is
	// reset to zero when a human or world message arrives.
	LLMCallCount int       `json:"llm_call_count"`
	LastLLMCall  time.Time `json:"last_llm_call,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Chat is the metadata for a named conversation inside a world.
type Chat struct {
	ID           string    `json:"id"`
	WorldID      string    `json:"world_id"`
	Name         string    `json:"name"`
	Untitled     bool      `json:"untitled,omitempty"`
	MessageCount int       `json:"message_count"`
	Summary      string    `json:"summary,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// WorldChat is a snapshot of a world, its agents, and their messages
// taken when a chat is saved, sufficient to restore the conversation.
type WorldChat struct {
	Chat       Chat           `json:"chat"`
	World      WorldData      `json:"world"`
	Agents     []AgentData    `json:"agents"`
	Messages   []AgentMessage `json:"messages"`
	CapturedAt time.Time      `json:"captured_at"`
}
