// Package messages prepares agent memory for LLM consumption. The
// provider-facing transcript must satisfy two invariants: every tool
// message answers a prior assistant tool call, and every assistant tool
// call is answered by a later tool message. Anything else is pruned.
package messages

import (
	"encoding/json"
	"strings"

	"github.com/yysun/agent-world/pkg/models"
)

// PrepareForLLM converts raw agent memory into a transcript safe to send
// to a chat-completion API. The input is never mutated.
func PrepareForLLM(memory []models.AgentMessage) []models.AgentMessage {
	msgs := models.CloneMessages(memory)

	// Pass 1: drop client-only messages and strip client-side tool
	// calls from assistant turns, remembering the removed call ids.
	removed := make(map[string]struct{})
	filtered := make([]models.AgentMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.ClientOnly {
			continue
		}
		if m.Role == models.RoleAssistant && len(m.ToolCalls) > 0 {
			kept := m.ToolCalls[:0]
			for _, tc := range m.ToolCalls {
				if strings.HasPrefix(tc.Function.Name, models.ClientToolPrefix) {
					removed[tc.ID] = struct{}{}
					continue
				}
				kept = append(kept, tc)
			}
			if len(kept) == 0 {
				m.ToolCalls = nil
			} else {
				m.ToolCalls = kept
			}
		}
		filtered = append(filtered, m)
	}

	// Pass 2: drop tool messages that do not answer a surviving prior
	// assistant tool call.
	known := make(map[string]struct{})
	withTools := make([]models.AgentMessage, 0, len(filtered))
	for _, m := range filtered {
		if m.Role == models.RoleAssistant {
			for _, tc := range m.ToolCalls {
				known[tc.ID] = struct{}{}
			}
		}
		if m.Role == models.RoleTool {
			if m.ToolCallID == "" {
				continue
			}
			if _, gone := removed[m.ToolCallID]; gone {
				continue
			}
			if _, ok := known[m.ToolCallID]; !ok {
				continue
			}
		}
		withTools = append(withTools, m)
	}

	// Pass 3: prune assistant tool calls that no tool message answers,
	// dropping assistant messages left with neither content nor calls.
	answered := make(map[string]struct{})
	for _, m := range withTools {
		if m.Role == models.RoleTool && m.ToolCallID != "" {
			answered[m.ToolCallID] = struct{}{}
		}
	}
	out := make([]models.AgentMessage, 0, len(withTools))
	for _, m := range withTools {
		if m.Role == models.RoleAssistant && len(m.ToolCalls) > 0 {
			kept := m.ToolCalls[:0]
			for _, tc := range m.ToolCalls {
				if _, ok := answered[tc.ID]; ok {
					kept = append(kept, tc)
				}
			}
			if len(kept) == 0 {
				m.ToolCalls = nil
			} else {
				m.ToolCalls = kept
			}
			if m.Content == "" && len(m.ToolCalls) == 0 {
				continue
			}
		}
		m.Sender = ""
		out = append(out, m)
	}
	return out
}

// enhancedToolResult is the JSON envelope some clients use to embed a
// tool result inside a plain content string.
type enhancedToolResult struct {
	Type       string `json:"__type"`
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	AgentID    string `json:"agent_id,omitempty"`
}

// ParseEnhancedContent detects the enhanced tool_result string format.
// On success it returns the equivalent tool message plus the optional
// agent id used for addressing; ok is false for ordinary content.
func ParseEnhancedContent(content string) (msg models.AgentMessage, agentID string, ok bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return models.AgentMessage{}, "", false
	}
	var env enhancedToolResult
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return models.AgentMessage{}, "", false
	}
	if env.Type != "tool_result" || env.ToolCallID == "" {
		return models.AgentMessage{}, "", false
	}
	return models.AgentMessage{
		Role:       models.RoleTool,
		ToolCallID: env.ToolCallID,
		Content:    env.Content,
	}, env.AgentID, true
}
