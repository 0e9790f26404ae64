package models

import (
	"time"
)

// MessageEvent is a chat message published on a world's message channel.
type MessageEvent struct {
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"message_id"`
	ChatID    string    `json:"chat_id,omitempty"`
}

// SSEEventType enumerates streaming event kinds on the sse channel.
type SSEEventType string

const (
	SSEStart      SSEEventType = "start"
	SSEChunk      SSEEventType = "chunk"
	SSEEnd        SSEEventType = "end"
	SSEError      SSEEventType = "error"
	SSEToolStream SSEEventType = "tool-stream"
	SSEToolStart  SSEEventType = "tool-start"
	SSEToolResult SSEEventType = "tool-result"
	SSEToolError  SSEEventType = "tool-error"
)

// ToolExecution describes tool progress attached to an SSE event.
type ToolExecution struct {
	ToolName    string `json:"tool_name"`
	ToolCallID  string `json:"tool_call_id,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
	// Stream is "stdout" or "stderr" for tool-stream events.
	Stream        string `json:"stream,omitempty"`
	Data          string `json:"data,omitempty"`
	ResultPreview string `json:"result_preview,omitempty"`
	Error         string `json:"error,omitempty"`
	DurationMs    int64  `json:"duration_ms,omitempty"`
}

// SSEEvent is a streaming progress event describing LLM or tool activity.
type SSEEvent struct {
	AgentName     string         `json:"agent_name"`
	Type          SSEEventType   `json:"type"`
	Content       string         `json:"content,omitempty"`
	Error         string         `json:"error,omitempty"`
	MessageID     string         `json:"message_id"`
	Usage         *TokenUsage    `json:"usage,omitempty"`
	ToolExecution *ToolExecution `json:"tool_execution,omitempty"`
}

// SystemEvent carries structured out-of-band notifications (HITL option
// requests, agent creation, chat title updates, provider errors).
type SystemEvent struct {
	EventType string         `json:"event_type"`
	Content   string         `json:"content,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
}

// System event types emitted by the core.
const (
	SystemEventHitlOptionRequest = "hitl-option-request"
	SystemEventAgentCreated      = "agent-created"
	SystemEventChatTitleUpdated  = "chat-title-updated"
	SystemEventError             = "error"
)

// ActivityChange marks the edge of a pending operation.
type ActivityChange string

const (
	ActivityStart ActivityChange = "start"
	ActivityEnd   ActivityChange = "end"
)

// ActivityState reports whether a world has pending operations.
type ActivityState string

const (
	StateProcessing ActivityState = "processing"
	StateIdle       ActivityState = "idle"
)

// ActivityEvent is published on the world-activity channel whenever a
// pending operation begins or ends.
type ActivityEvent struct {
	Change     ActivityChange `json:"change"`
	State      ActivityState  `json:"state"`
	Source     string         `json:"source,omitempty"`
	Pending    int            `json:"pending"`
	ActivityID int64          `json:"activity_id"`
}

// StopResult summarizes what stopMessageProcessing terminated.
type StopResult struct {
	Success           bool   `json:"success"`
	Stopped           bool   `json:"stopped"`
	Reason            string `json:"reason"` // "stopped" or "no-active-process"
	StoppedOperations int    `json:"stopped_operations"`
	LLM               struct {
		CanceledPending int `json:"canceled_pending"`
		AbortedActive   int `json:"aborted_active"`
	} `json:"llm"`
	Shell struct {
		Killed int `json:"killed"`
	} `json:"shell"`
	Processing struct {
		AbortedActive int `json:"aborted_active"`
	} `json:"processing"`
}
