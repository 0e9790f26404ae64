package world

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yysun/agent-world/pkg/models"
)

const titlePrompt = "Generate a concise 3-6 word title for this conversation. " +
	"Reply with the title only, no quotes and no punctuation at the end."

// SubscribeTitleGenerator attaches the world-level listener that names
// untitled chats from their first message. Returns the unsubscribe
// function.
func (w *World) SubscribeTitleGenerator() func() {
	return w.bus.Subscribe(ChannelMessage, func(event any) {
		ev, ok := event.(models.MessageEvent)
		if !ok {
			return
		}
		go w.maybeGenerateChatTitle(ev)
	})
}

func (w *World) maybeGenerateChatTitle(ev models.MessageEvent) {
	chatID := ev.ChatID
	if chatID == "" {
		chatID = w.CurrentChatID()
	}

	// One generation at a time; the re-check closes the race between
	// two back-to-back messages in the same untitled chat.
	w.titleMu.Lock()
	defer w.titleMu.Unlock()

	chat, ok := w.Chat(chatID)
	if !ok || !chat.Untitled {
		return
	}
	if strings.TrimSpace(ev.Content) == "" {
		return
	}

	ctx := context.Background()
	title, err := w.generateChatTitle(ctx, ev.Content)
	if err != nil {
		w.logger.Warn("chat title generation failed", "chat_id", chatID, "error", err)
		return
	}

	chat.Name = title
	chat.Untitled = false
	chat.UpdatedAt = time.Now()
	w.PutChat(chat)
	if w.storage != nil {
		if err := w.storage.UpdateChatData(ctx, w.Data.ID, chat); err != nil {
			w.logger.Warn("chat title persist failed", "chat_id", chatID, "error", err)
		}
	}

	w.PublishSystem(models.SystemEvent{
		EventType: models.SystemEventChatTitleUpdated,
		Content:   title,
		Data:      map[string]any{"chat_id": chatID, "title": title},
	})
}

func (w *World) generateChatTitle(ctx context.Context, content string) (string, error) {
	if w.providers == nil {
		return "", fmt.Errorf("no provider resolver configured")
	}
	prov, err := w.providers.Resolve(w.Data.ChatProvider)
	if err != nil {
		return "", err
	}
	resp, err := prov.Generate(ctx, ProviderRequest{
		Model: w.Data.ChatModel,
		Messages: []models.AgentMessage{
			{Role: models.RoleSystem, Content: titlePrompt},
			{Role: models.RoleUser, Content: content},
		},
	})
	if err != nil {
		return "", err
	}
	title := NormalizeChatTitle(resp.Content, w.settings.ChatTitleMaxLen)
	if title == "" {
		return "", fmt.Errorf("provider returned an empty title")
	}
	return title, nil
}

// NormalizeChatTitle strips surrounding quotes, collapses whitespace,
// and truncates to maxLen runes with an ellipsis.
func NormalizeChatTitle(raw string, maxLen int) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, "\"'`“”")
	title = strings.Join(strings.Fields(title), " ")
	if maxLen > 0 && utf8.RuneCountInString(title) > maxLen {
		runes := []rune(title)
		title = strings.TrimSpace(string(runes[:maxLen])) + "…"
	}
	return title
}
