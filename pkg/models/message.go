package models

import (
	"time"
)

// Role indicates the message author type in a conversation transcript.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// SenderType classifies who originated a world message.
type SenderType string

const (
	SenderHuman  SenderType = "human"
	SenderAgent  SenderType = "agent"
	SenderSystem SenderType = "system"
	SenderWorld  SenderType = "world"
)

// ClientToolPrefix marks tool names that are handled by the client and
// must never be sent to an LLM provider.
const ClientToolPrefix = "client."

// FunctionCall is the function payload of a tool call. Arguments is a
// JSON-encoded string, matching the chat-completion wire format.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function FunctionCall `json:"function"`
}

// NewToolCall builds a function tool call with the given id, name, and
// JSON-encoded arguments.
func NewToolCall(id, name, arguments string) ToolCall {
	return ToolCall{
		ID:   id,
		Type: "function",
		Function: FunctionCall{
			Name:      name,
			Arguments: arguments,
		},
	}
}

// AgentMessage is a single entry in an agent's memory and the canonical
// shape sent to LLM providers (after preparation strips runtime-only
// fields such as Sender).
type AgentMessage struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Sender     string     `json:"sender,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
	ChatID     string     `json:"chat_id,omitempty"`

	// ClientOnly marks messages that exist for client display and are
	// excluded from provider transcripts.
	ClientOnly bool `json:"client_only,omitempty"`
}

// Clone returns a deep copy of the message.
func (m AgentMessage) Clone() AgentMessage {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		copy(out.ToolCalls, m.ToolCalls)
	}
	return out
}

// CloneMessages returns a deep copy of a message slice.
func CloneMessages(msgs []AgentMessage) []AgentMessage {
	if msgs == nil {
		return nil
	}
	out := make([]AgentMessage, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Clone()
	}
	return out
}

// TokenUsage reports token consumption for a single provider call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
	TotalTokens  int `json:"total_tokens,omitempty"`
}
