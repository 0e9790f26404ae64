package world

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yysun/agent-world/internal/ident"
	"github.com/yysun/agent-world/internal/messages"
	"github.com/yysun/agent-world/pkg/models"
)

// turnLimitMarker is the literal that identifies a turn-limit notice so
// agents never respond to one and loop.
const turnLimitMarker = "Turn limit reached"

// SubscribeAgent attaches the per-agent message handler to the world's
// bus and returns the unsubscribe function. The handler body runs on
// its own goroutine so it can publish back to the bus without holding
// up the emission that triggered it. Subscribing an already-subscribed
// agent is a no-op: the manager subscribes agents it creates, and the
// subscription attach pass subscribes every agent it finds.
func (w *World) SubscribeAgent(a *Agent) func() {
	w.mu.Lock()
	if w.subscribedAgents == nil {
		w.subscribedAgents = make(map[string]bool)
	}
	if w.subscribedAgents[a.Data.ID] {
		w.mu.Unlock()
		return func() {}
	}
	w.subscribedAgents[a.Data.ID] = true
	w.mu.Unlock()

	unsub := w.bus.Subscribe(ChannelMessage, func(event any) {
		ev, ok := event.(models.MessageEvent)
		if !ok {
			return
		}
		go w.handleAgentMessage(a, ev)
	})
	return func() {
		w.mu.Lock()
		delete(w.subscribedAgents, a.Data.ID)
		w.mu.Unlock()
		unsub()
	}
}

func (w *World) handleAgentMessage(a *Agent, ev models.MessageEvent) {
	if strings.EqualFold(ev.Sender, a.Data.ID) {
		return
	}
	if _, ok := w.Agent(a.Data.ID); !ok {
		return
	}

	ctx := context.Background()
	senderType := ident.DetermineSenderType(ev.Sender)
	if senderType == models.SenderHuman || senderType == models.SenderWorld {
		a.ResetLLMCalls()
		w.SaveAgentConfig(ctx, a)
	}

	incoming := models.AgentMessage{
		Role:    models.RoleUser,
		Content: ev.Content,
	}
	if toolMsg, targetID, ok := messages.ParseEnhancedContent(ev.Content); ok {
		// Enhanced tool results address agents by the carried id, not
		// by mentions.
		if targetID != "" && !strings.EqualFold(targetID, a.Data.ID) {
			return
		}
		incoming = toolMsg
	} else if !w.shouldAgentRespond(a, ev.Sender, ev.Content, senderType) {
		return
	}

	chatID := ev.ChatID
	if chatID == "" {
		chatID = w.CurrentChatID()
	}
	incoming.Sender = ev.Sender
	incoming.ChatID = chatID
	incoming.CreatedAt = ev.Timestamp
	a.AppendMemory(incoming)
	w.SaveAgent(ctx, a)

	procCtx, release := w.BeginChatMessageProcessing(ctx, chatID)
	defer release()

	history := a.MemoryTail(w.settings.MemoryWindow)
	if _, err := w.ProcessAgentMessage(procCtx, a, history, ev.Sender); err != nil {
		if errors.Is(err, context.Canceled) {
			w.logger.Info("agent turn canceled", "agent_id", a.Data.ID, "chat_id", chatID)
			return
		}
		w.logger.Error("agent turn failed", "agent_id", a.Data.ID, "error", err)
		w.PublishSystem(models.SystemEvent{
			EventType: models.SystemEventError,
			Content:   err.Error(),
			Data:      map[string]any{"agent_id": a.Data.ID, "chat_id": chatID},
		})
	}
}

// shouldAgentRespond applies the mention routing rules. A true return
// means the handler dispatches an LLM turn for this message.
func (w *World) shouldAgentRespond(a *Agent, sender, content string, senderType models.SenderType) bool {
	if strings.Contains(content, turnLimitMarker) {
		return false
	}

	if count := a.LLMCallCount(); count >= w.TurnLimit() {
		notice := fmt.Sprintf("@human Turn limit reached (%d LLM calls). Please take control of the conversation.", count)
		w.PublishMessage(a.Data.ID, notice)
		return false
	}

	switch senderType {
	case models.SenderSystem:
		return false
	case models.SenderWorld:
		return true
	}

	agentID := strings.ToLower(a.Data.ID)
	paragraph := ident.ExtractParagraphBeginningMentions(content)

	if senderType == models.SenderHuman {
		any := ident.ExtractMentions(content)
		if len(paragraph) == 0 {
			// A human message with no mentions at all is public;
			// mentions buried mid-paragraph address someone else.
			return len(any) == 0
		}
		return containsMention(paragraph, agentID)
	}

	return containsMention(paragraph, agentID)
}

func containsMention(mentions []string, agentID string) bool {
	for _, m := range mentions {
		if m == agentID {
			return true
		}
	}
	return false
}
