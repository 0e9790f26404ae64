package world

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yysun/agent-world/internal/ident"
	"github.com/yysun/agent-world/internal/messages"
	"github.com/yysun/agent-world/pkg/models"
)

// maxDispatchRounds bounds tool follow-up turns. Follow-ups never
// attach tools, so a well-behaved provider finishes in two rounds; the
// bound guards against backends that emit tool calls regardless.
const maxDispatchRounds = 10

const resultPreviewLimit = 200

// ErrDispatchExhausted reports a dispatch that never produced a text
// response within the round bound.
var ErrDispatchExhausted = errors.New("dispatch: tool follow-up limit reached without a text response")

type dispatchResult struct {
	Content   string
	Paused    bool
	Synthetic *models.AgentMessage
	Usage     *models.TokenUsage
}

// ProcessAgentMessage runs the full LLM dispatch for one agent turn:
// the provider is called with the prepared history, tool calls are
// executed and fed back, and the final text response is post-processed,
// appended to memory, persisted, and published. Memory persists before
// the response is published so later incoming messages see it.
func (w *World) ProcessAgentMessage(ctx context.Context, a *Agent, history []models.AgentMessage, sender string) (string, error) {
	release := w.BeginActivity("llm:" + a.Data.ID)
	defer release()

	messageID := newMessageID()
	res, err := w.runDispatch(ctx, a, history, messageID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			w.PublishSSE(models.SSEEvent{
				AgentName: a.Data.Name,
				Type:      models.SSEError,
				Error:     err.Error(),
				MessageID: messageID,
			})
		}
		return "", err
	}

	now := time.Now()
	chatID := w.CurrentChatID()

	if res.Paused {
		if res.Synthetic != nil {
			syn := *res.Synthetic
			syn.Sender = a.Data.ID
			syn.ChatID = chatID
			syn.CreatedAt = now
			a.AppendMemory(syn)
			w.SaveAgent(ctx, a)
		}
		return "", nil
	}

	final := RemoveSelfMentions(res.Content, a.Data.ID)
	if ShouldAutoMention(final, sender, a.Data.ID) {
		final = AddAutoMention(final, sender)
	}

	a.AppendMemory(models.AgentMessage{
		Role:      models.RoleAssistant,
		Content:   final,
		Sender:    a.Data.ID,
		ChatID:    chatID,
		CreatedAt: now,
	})
	w.SaveAgent(ctx, a)
	w.PublishMessage(a.Data.ID, final)
	return final, nil
}

// runDispatch is the provider loop: call, execute tool calls, re-enter
// without tools, until a pure text response or a pause.
func (w *World) runDispatch(ctx context.Context, a *Agent, history []models.AgentMessage, messageID string) (*dispatchResult, error) {
	if w.providers == nil {
		return nil, errors.New("dispatch: no provider resolver configured")
	}
	prov, err := w.providers.Resolve(a.Data.Provider)
	if err != nil {
		return nil, err
	}

	convo := models.CloneMessages(history)
	attachTools := true
	chatID := w.CurrentChatID()

	for round := 0; round < maxDispatchRounds; round++ {
		prepared := messages.PrepareForLLM(convo)
		if a.Data.SystemPrompt != "" {
			prepared = append([]models.AgentMessage{{
				Role:    models.RoleSystem,
				Content: a.Data.SystemPrompt,
			}}, prepared...)
		}

		req := ProviderRequest{
			Model:       a.Data.Model,
			Messages:    prepared,
			Temperature: a.Data.Temperature,
			MaxTokens:   a.Data.MaxTokens,
		}
		if attachTools && w.toolsEnabledFor(a.Data.Provider) {
			req.Tools = w.tools.Definitions()
		}

		a.IncrementLLMCall()
		w.SaveAgentConfig(ctx, a)

		content, calls, usage, err := w.callProvider(ctx, prov, a, req, messageID, chatID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				a.RollbackLLMCall()
				w.SaveAgentConfig(context.Background(), a)
			}
			return nil, err
		}

		valid, invalid := FilterAndHandleEmptyNamedFunctionCalls(calls)
		// Invalid calls still need an assistant-side entry so their
		// error results survive message preparation on the next turn.
		assistantCalls := valid
		var toolMsgs []models.AgentMessage
		for _, c := range invalid {
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			assistantCalls = append(assistantCalls, c)
			w.publishToolError(a.Data.Name, messageID, "", c.ID, "", "malformed tool call: missing function name", 0)
			toolMsgs = append(toolMsgs, models.AgentMessage{
				Role:       models.RoleTool,
				ToolCallID: c.ID,
				Content:    "Error: malformed tool call (empty function name)",
			})
		}

		if len(valid) == 0 && len(invalid) == 0 {
			return &dispatchResult{Content: content, Usage: usage}, nil
		}

		// Cap tool executions per assistant turn. Calls past the cap get
		// an error result instead of running, so the model sees why.
		if batch := w.settings.ToolCallBatchSize; batch > 0 && len(valid) > batch {
			for _, c := range valid[batch:] {
				w.publishToolError(a.Data.Name, messageID, c.Function.Name, c.ID, "",
					fmt.Sprintf("tool call skipped: per-turn limit of %d reached", batch), 0)
				toolMsgs = append(toolMsgs, models.AgentMessage{
					Role:       models.RoleTool,
					ToolCallID: c.ID,
					Content:    fmt.Sprintf("Error: tool call skipped (per-turn limit of %d reached)", batch),
				})
			}
			valid = valid[:batch]
		}

		for _, call := range valid {
			msg, paused, err := w.executeToolCall(ctx, a, call, messageID, chatID, convo)
			if err != nil {
				return nil, err
			}
			if paused != nil {
				return paused, nil
			}
			toolMsgs = append(toolMsgs, msg)
		}

		convo = append(convo, models.AgentMessage{
			Role:      models.RoleAssistant,
			Content:   content,
			ToolCalls: assistantCalls,
		})
		convo = append(convo, toolMsgs...)
		attachTools = false
	}
	return nil, ErrDispatchExhausted
}

// callProvider runs one provider round, streaming or not, publishing
// SSE progress and recording metrics.
func (w *World) callProvider(ctx context.Context, prov Provider, a *Agent, req ProviderRequest, messageID, chatID string) (string, []models.ToolCall, *models.TokenUsage, error) {
	releaseLLM := w.markLLMActive(chatID)
	defer releaseLLM()

	start := time.Now()
	var content string
	var calls []models.ToolCall
	var usage *models.TokenUsage
	var err error

	if w.settings.Streaming {
		content, calls, usage, err = w.streamCompletion(ctx, prov, a.Data.Name, req, messageID)
	} else {
		var resp *ProviderResponse
		resp, err = prov.Generate(ctx, req)
		if err == nil {
			content, calls, usage = resp.Content, resp.ToolCalls, resp.Usage
		}
	}

	w.recordLLMCall(a.Data.Provider, req.Model, start, usage, err)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return "", nil, nil, context.Canceled
		}
		return "", nil, nil, fmt.Errorf("provider %s: %w", a.Data.Provider, err)
	}
	return content, calls, usage, nil
}

func (w *World) streamCompletion(ctx context.Context, prov Provider, agentName string, req ProviderRequest, messageID string) (string, []models.ToolCall, *models.TokenUsage, error) {
	stream, err := prov.Stream(ctx, req)
	if err != nil {
		return "", nil, nil, err
	}

	w.PublishSSE(models.SSEEvent{AgentName: agentName, Type: models.SSEStart, MessageID: messageID})

	var sb strings.Builder
	acc := newToolCallAccumulator()
	var usage *models.TokenUsage
	for chunk := range stream {
		if chunk.Err != nil {
			return "", nil, nil, chunk.Err
		}
		if chunk.Content != "" {
			sb.WriteString(chunk.Content)
			w.PublishSSE(models.SSEEvent{
				AgentName: agentName,
				Type:      models.SSEChunk,
				Content:   chunk.Content,
				MessageID: messageID,
			})
		}
		if chunk.ToolCall != nil {
			acc.apply(chunk.ToolCall)
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}
	if ctx.Err() != nil {
		return "", nil, nil, context.Canceled
	}

	w.PublishSSE(models.SSEEvent{AgentName: agentName, Type: models.SSEEnd, MessageID: messageID, Usage: usage})
	return sb.String(), acc.result(), usage, nil
}

// executeToolCall runs one valid tool call and returns the tool result
// message, or a pause result when the tool halts the loop.
func (w *World) executeToolCall(ctx context.Context, a *Agent, call models.ToolCall, messageID, chatID string, convo []models.AgentMessage) (models.AgentMessage, *dispatchResult, error) {
	name := call.Function.Name
	execID := uuid.NewString()
	w.PublishSSE(models.SSEEvent{
		AgentName: a.Data.Name,
		Type:      models.SSEToolStart,
		MessageID: messageID,
		ToolExecution: &models.ToolExecution{
			ToolName:    name,
			ToolCallID:  call.ID,
			ExecutionID: execID,
		},
	})

	args := map[string]any{}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			msg := fmt.Sprintf("Error: tool %s arguments are not valid JSON: %v", name, err)
			w.publishToolError(a.Data.Name, messageID, name, call.ID, execID, msg, 0)
			w.recordToolCall(name, time.Time{}, true)
			return models.AgentMessage{Role: models.RoleTool, ToolCallID: call.ID, Content: msg}, nil, nil
		}
	}

	tool, ok := w.tools.Get(name)
	if !ok {
		msg := fmt.Sprintf("Error: unknown tool %q", name)
		w.publishToolError(a.Data.Name, messageID, name, call.ID, execID, msg, 0)
		return models.AgentMessage{Role: models.RoleTool, ToolCallID: call.ID, Content: msg}, nil, nil
	}

	tc := &ToolContext{
		World:            w,
		Agent:            a,
		ChatID:           chatID,
		ToolCallID:       call.ID,
		WorkingDirectory: w.WorkingDirectory(),
		Messages:         convo,
	}

	start := time.Now()
	result, err := tool.Execute(ctx, args, tc)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return models.AgentMessage{}, nil, context.Canceled
		}
		result = &ToolResult{Content: "Error: " + err.Error(), IsError: true}
	}
	w.recordToolCall(name, start, result.IsError)

	if result.StopProcessing {
		w.PublishSSE(models.SSEEvent{
			AgentName: a.Data.Name,
			Type:      models.SSEToolResult,
			MessageID: messageID,
			ToolExecution: &models.ToolExecution{
				ToolName:      name,
				ToolCallID:    call.ID,
				ExecutionID:   execID,
				ResultPreview: preview(result.ApprovalMessage),
				DurationMs:    elapsed.Milliseconds(),
			},
		})
		return models.AgentMessage{}, &dispatchResult{Paused: true, Synthetic: result.Synthetic}, nil
	}

	if result.IsError {
		w.publishToolError(a.Data.Name, messageID, name, call.ID, execID, result.Content, elapsed.Milliseconds())
	} else {
		w.PublishSSE(models.SSEEvent{
			AgentName: a.Data.Name,
			Type:      models.SSEToolResult,
			MessageID: messageID,
			ToolExecution: &models.ToolExecution{
				ToolName:      name,
				ToolCallID:    call.ID,
				ExecutionID:   execID,
				ResultPreview: preview(result.Content),
				DurationMs:    elapsed.Milliseconds(),
			},
		})
	}

	return models.AgentMessage{Role: models.RoleTool, ToolCallID: call.ID, Content: result.Content}, nil, nil
}

func (w *World) publishToolError(agentName, messageID, toolName, callID, execID, errMsg string, durationMs int64) {
	w.PublishSSE(models.SSEEvent{
		AgentName: agentName,
		Type:      models.SSEToolError,
		MessageID: messageID,
		ToolExecution: &models.ToolExecution{
			ToolName:    toolName,
			ToolCallID:  callID,
			ExecutionID: execID,
			Error:       errMsg,
			DurationMs:  durationMs,
		},
	})
}

func (w *World) toolsEnabledFor(p models.Provider) bool {
	if p == models.ProviderOllama {
		return w.settings.OllamaEnableTools
	}
	return true
}

// WorkingDirectory returns the trusted working directory declared in
// the world's variables block, or "" when unset.
func (w *World) WorkingDirectory() string {
	return ident.GetEnvValueFromText(w.Data.Variables, "working_directory")
}

func (w *World) recordLLMCall(p models.Provider, model string, start time.Time, usage *models.TokenUsage, err error) {
	if w.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		if errors.Is(err, context.Canceled) {
			status = "canceled"
		}
	}
	w.metrics.LLMRequestCounter.WithLabelValues(string(p), model, status).Inc()
	w.metrics.LLMRequestDuration.WithLabelValues(string(p), model).Observe(time.Since(start).Seconds())
	if usage != nil {
		w.metrics.LLMTokensUsed.WithLabelValues(string(p), model, "input").Add(float64(usage.InputTokens))
		w.metrics.LLMTokensUsed.WithLabelValues(string(p), model, "output").Add(float64(usage.OutputTokens))
	}
}

func (w *World) recordToolCall(name string, start time.Time, isError bool) {
	if w.metrics == nil {
		return
	}
	status := "success"
	if isError {
		status = "error"
	}
	w.metrics.ToolExecutionCounter.WithLabelValues(name, status).Inc()
	if !start.IsZero() {
		w.metrics.ToolExecutionDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}

// preview truncates on runes so a multibyte character is never split.
func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= resultPreviewLimit {
		return s
	}
	return string(runes[:resultPreviewLimit]) + "…"
}
