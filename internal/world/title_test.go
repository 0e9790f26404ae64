package world

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/yysun/agent-world/internal/storage"
	"github.com/yysun/agent-world/pkg/models"
)

func TestNormalizeChatTitle(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		max  int
		want string
	}{
		{"strips quotes", `"Planning the Launch"`, 100, "Planning the Launch"},
		{"collapses whitespace", "Planning   the\n Launch", 100, "Planning the Launch"},
		{"truncates long titles", strings.Repeat("word ", 40), 100, strings.TrimSpace(strings.TrimSpace(strings.Repeat("word ", 40))[:100]) + "…"},
		{"empty input", "  \"\"  ", 100, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeChatTitle(tt.raw, tt.max)
			if got != tt.want {
				t.Fatalf("NormalizeChatTitle(%q, %d) = %q, want %q", tt.raw, tt.max, got, tt.want)
			}
		})
	}
}

func TestTitleGeneratedForUntitledChat(t *testing.T) {
	prov := &fakeProvider{responses: []ProviderResponse{{Content: `"Launch Planning Session"`}}}
	reg := NewProviderRegistry()
	reg.Register(models.ProviderOpenAI, prov)
	store := storage.NewMemoryStore()
	ctx := context.Background()
	store.SaveWorld(ctx, models.WorldData{ID: "w1"})

	settings := DefaultSettings()
	w := New(models.WorldData{
		ID:           "w1",
		ChatProvider: models.ProviderOpenAI,
		ChatModel:    "gpt-4",
	}, Options{Providers: reg, Settings: &settings, Storage: store})

	chat := models.Chat{ID: "chat-1", WorldID: "w1", Untitled: true}
	store.SaveChatData(ctx, "w1", chat)
	w.PutChat(chat)
	w.SetCurrentChat("chat-1")

	var systemEvents []models.SystemEvent
	w.Bus().Subscribe(ChannelSystem, func(ev any) {
		systemEvents = append(systemEvents, ev.(models.SystemEvent))
	})

	w.maybeGenerateChatTitle(models.MessageEvent{
		Content:   "let's plan the launch",
		Sender:    "human",
		ChatID:    "chat-1",
		Timestamp: time.Now(),
	})

	got, ok := w.Chat("chat-1")
	if !ok || got.Untitled || got.Name != "Launch Planning Session" {
		t.Fatalf("chat = %+v", got)
	}

	persisted, err := store.LoadChatData(ctx, "w1", "chat-1")
	if err != nil || persisted.Name != "Launch Planning Session" {
		t.Fatalf("persisted = %+v err=%v", persisted, err)
	}

	if len(systemEvents) != 1 || systemEvents[0].EventType != models.SystemEventChatTitleUpdated {
		t.Fatalf("system events = %+v", systemEvents)
	}
	if systemEvents[0].Data["title"] != "Launch Planning Session" {
		t.Fatalf("event data = %+v", systemEvents[0].Data)
	}
}

func TestTitleNotRegeneratedForNamedChat(t *testing.T) {
	prov := &fakeProvider{}
	reg := NewProviderRegistry()
	reg.Register(models.ProviderOpenAI, prov)
	settings := DefaultSettings()
	w := New(models.WorldData{ID: "w1", ChatProvider: models.ProviderOpenAI}, Options{Providers: reg, Settings: &settings})

	w.PutChat(models.Chat{ID: "chat-1", Name: "Existing Title", Untitled: false})
	w.SetCurrentChat("chat-1")

	w.maybeGenerateChatTitle(models.MessageEvent{Content: "more chatter", ChatID: "chat-1"})

	if prov.requestCount() != 0 {
		t.Fatal("provider called for an already-titled chat")
	}
}
