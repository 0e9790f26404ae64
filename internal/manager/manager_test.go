package manager

import (
	"context"
	"errors"
	"testing"

	"github.com/yysun/agent-world/internal/storage"
	"github.com/yysun/agent-world/internal/world"
	"github.com/yysun/agent-world/pkg/models"
)

func newTestManager(t *testing.T) (*Manager, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	m := New(store, world.Options{}, nil, nil)
	return m, store
}

func mustWorld(t *testing.T, m *Manager, name string) *world.World {
	t.Helper()
	w, err := m.CreateWorld(context.Background(), CreateWorldParams{Name: name})
	if err != nil {
		t.Fatalf("CreateWorld: %v", err)
	}
	return w
}

func TestCreateWorldPersistsAndCaches(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	w := mustWorld(t, m, "Planning Room")
	if w.Data.ID != "planning-room" {
		t.Fatalf("world id = %q", w.Data.ID)
	}
	if exists, _ := store.WorldExists(ctx, "planning-room"); !exists {
		t.Fatal("world not persisted")
	}

	again, err := m.GetWorld(ctx, "planning-room")
	if err != nil {
		t.Fatalf("GetWorld: %v", err)
	}
	if again != w {
		t.Fatal("GetWorld returned a different instance than CreateWorld")
	}
}

func TestCreateWorldRejectsDuplicate(t *testing.T) {
	m, _ := newTestManager(t)
	mustWorld(t, m, "Ops")

	if _, err := m.CreateWorld(context.Background(), CreateWorldParams{Name: "Ops"}); err == nil {
		t.Fatal("expected duplicate world error")
	}
}

func TestGetWorldLoadsFromStorage(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	if err := store.SaveWorld(ctx, models.WorldData{ID: "cold", Name: "Cold"}); err != nil {
		t.Fatalf("seed world: %v", err)
	}
	if err := store.SaveAgent(ctx, "cold", models.AgentData{ID: "a1", Name: "A1"}, nil); err != nil {
		t.Fatalf("seed agent: %v", err)
	}

	w, err := m.GetWorld(ctx, "cold")
	if err != nil {
		t.Fatalf("GetWorld: %v", err)
	}
	if _, ok := w.Agent("a1"); !ok {
		t.Fatal("agent not loaded with world")
	}
}

func TestUpdateWorldPartial(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	mustWorld(t, m, "Ops")

	limit := 9
	desc := "updated"
	w, err := m.UpdateWorld(ctx, "ops", UpdateWorldParams{TurnLimit: &limit, Description: &desc})
	if err != nil {
		t.Fatalf("UpdateWorld: %v", err)
	}
	if w.Data.TurnLimit != 9 || w.Data.Description != "updated" {
		t.Fatalf("world data = %+v", w.Data)
	}
	if w.Data.Name != "Ops" {
		t.Fatalf("untouched field changed: %q", w.Data.Name)
	}
	saved, err := store.LoadWorld(ctx, "ops")
	if err != nil {
		t.Fatalf("LoadWorld: %v", err)
	}
	if saved.TurnLimit != 9 {
		t.Fatal("update not persisted")
	}
}

func TestDeleteWorldEvictsRuntime(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	mustWorld(t, m, "Ops")

	if err := m.DeleteWorld(ctx, "ops"); err != nil {
		t.Fatalf("DeleteWorld: %v", err)
	}
	if exists, _ := store.WorldExists(ctx, "ops"); exists {
		t.Fatal("world still in storage")
	}
	if _, err := m.GetWorld(ctx, "ops"); !errors.Is(err, storage.ErrWorldNotFound) {
		t.Fatalf("GetWorld after delete: %v", err)
	}
}

func TestCreateAgentDefaultsFromWorld(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := m.CreateWorld(ctx, CreateWorldParams{
		Name:         "Ops",
		ChatProvider: models.ProviderAnthropic,
		ChatModel:    "claude-sonnet",
	}); err != nil {
		t.Fatalf("CreateWorld: %v", err)
	}

	a, err := m.CreateAgent(ctx, "ops", CreateAgentParams{Name: "Data Analyst"}, CreateAgentOptions{})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if a.Data.ID != "data-analyst" {
		t.Fatalf("agent id = %q", a.Data.ID)
	}
	if a.Data.Provider != models.ProviderAnthropic || a.Data.Model != "claude-sonnet" {
		t.Fatalf("agent inherits world chat LLM, got %s/%s", a.Data.Provider, a.Data.Model)
	}
}

func TestCreateAgentRejectsWhileProcessing(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	w := mustWorld(t, m, "Ops")

	end := w.BeginActivity("test")
	defer end()

	if _, err := m.CreateAgent(ctx, "ops", CreateAgentParams{Name: "Late"}, CreateAgentOptions{}); !errors.Is(err, ErrWorldProcessing) {
		t.Fatalf("err = %v, want ErrWorldProcessing", err)
	}

	if _, err := m.CreateAgent(ctx, "ops", CreateAgentParams{Name: "Late"}, CreateAgentOptions{AllowWhileProcessing: true}); err != nil {
		t.Fatalf("AllowWhileProcessing: %v", err)
	}
}

func TestCreateAgentRejectsDuplicateAndClaimedSlot(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	mustWorld(t, m, "Ops")

	if _, err := m.CreateAgent(ctx, "ops", CreateAgentParams{Name: "Helper"}, CreateAgentOptions{}); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if _, err := m.CreateAgent(ctx, "ops", CreateAgentParams{Name: "helper"}, CreateAgentOptions{}); !errors.Is(err, ErrAgentExists) {
		t.Fatalf("duplicate err = %v", err)
	}

	if !m.ClaimCreationSlot("ops", "pending") {
		t.Fatal("first claim failed")
	}
	if _, err := m.CreateAgent(ctx, "ops", CreateAgentParams{Name: "Pending"}, CreateAgentOptions{}); !errors.Is(err, ErrSlotClaimed) {
		t.Fatalf("claimed slot err = %v", err)
	}
	m.ReleaseCreationSlot("ops", "pending")
	if _, err := m.CreateAgent(ctx, "ops", CreateAgentParams{Name: "Pending"}, CreateAgentOptions{}); err != nil {
		t.Fatalf("after release: %v", err)
	}
}

func TestUpdateAgentPartial(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	mustWorld(t, m, "Ops")
	if _, err := m.CreateAgent(ctx, "ops", CreateAgentParams{Name: "Helper", SystemPrompt: "old"}, CreateAgentOptions{}); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	prompt := "new prompt"
	a, err := m.UpdateAgent(ctx, "ops", "helper", UpdateAgentParams{SystemPrompt: &prompt})
	if err != nil {
		t.Fatalf("UpdateAgent: %v", err)
	}
	if a.Data.SystemPrompt != "new prompt" {
		t.Fatalf("prompt = %q", a.Data.SystemPrompt)
	}
	saved, _, err := store.LoadAgent(ctx, "ops", "helper")
	if err != nil {
		t.Fatalf("LoadAgent: %v", err)
	}
	if saved.SystemPrompt != "new prompt" {
		t.Fatal("update not persisted")
	}
}

func TestDeleteAgentRemovesRuntime(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	w := mustWorld(t, m, "Ops")
	if _, err := m.CreateAgent(ctx, "ops", CreateAgentParams{Name: "Helper"}, CreateAgentOptions{}); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	if err := m.DeleteAgent(ctx, "ops", "helper"); err != nil {
		t.Fatalf("DeleteAgent: %v", err)
	}
	if _, ok := w.Agent("helper"); ok {
		t.Fatal("agent still attached to world")
	}
}

func TestClearAgentMemoryArchivesFirst(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	mustWorld(t, m, "Ops")
	a, err := m.CreateAgent(ctx, "ops", CreateAgentParams{Name: "Helper"}, CreateAgentOptions{})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	a.AppendMemory(
		models.AgentMessage{Role: models.RoleUser, Content: "hello"},
		models.AgentMessage{Role: models.RoleAssistant, Content: "hi"},
	)

	if err := m.ClearAgentMemory(ctx, "ops", "helper"); err != nil {
		t.Fatalf("ClearAgentMemory: %v", err)
	}
	if a.MemoryLen() != 0 {
		t.Fatalf("memory len = %d after clear", a.MemoryLen())
	}
	archives := store.ArchivedMemories("ops", "helper")
	if len(archives) != 1 || len(archives[0]) != 2 {
		t.Fatalf("archives = %v", archives)
	}
}

func TestClearAgentMemoryEmptySkipsArchive(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	mustWorld(t, m, "Ops")
	if _, err := m.CreateAgent(ctx, "ops", CreateAgentParams{Name: "Helper"}, CreateAgentOptions{}); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	if err := m.ClearAgentMemory(ctx, "ops", "helper"); err != nil {
		t.Fatalf("ClearAgentMemory: %v", err)
	}
	if archives := store.ArchivedMemories("ops", "helper"); len(archives) != 0 {
		t.Fatalf("archives = %v, want none", archives)
	}
}

func TestNewChatUntitledAndCurrent(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	w := mustWorld(t, m, "Ops")

	chat, err := m.NewChat(ctx, "ops", "")
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	if chat.Name != "New Chat" || !chat.Untitled {
		t.Fatalf("chat = %+v", chat)
	}
	if w.CurrentChatID() != chat.ID {
		t.Fatal("chat not current")
	}
	saved, err := store.LoadWorld(ctx, "ops")
	if err != nil {
		t.Fatalf("LoadWorld: %v", err)
	}
	if saved.CurrentChatID != chat.ID {
		t.Fatal("current chat not persisted")
	}

	named, err := m.NewChat(ctx, "ops", "Standup")
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	if named.Untitled || named.Name != "Standup" {
		t.Fatalf("named chat = %+v", named)
	}
}

func TestSaveAndRestoreChatSnapshot(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	mustWorld(t, m, "Ops")
	a, err := m.CreateAgent(ctx, "ops", CreateAgentParams{Name: "Helper"}, CreateAgentOptions{})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	chat, err := m.NewChat(ctx, "ops", "Session One")
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	a.AppendMemory(models.AgentMessage{Role: models.RoleUser, Content: "remember me", ChatID: chat.ID})

	if err := m.SaveChatSnapshot(ctx, "ops", chat.ID); err != nil {
		t.Fatalf("SaveChatSnapshot: %v", err)
	}

	// Wipe the runtime memory, then restore the snapshot.
	a.ReplaceMemory(nil)
	restored, err := m.RestoreChat(ctx, "ops", chat.ID)
	if err != nil {
		t.Fatalf("RestoreChat: %v", err)
	}
	ra, ok := restored.Agent("helper")
	if !ok {
		t.Fatal("agent missing after restore")
	}
	mem := ra.Memory()
	if len(mem) != 1 || mem[0].Content != "remember me" {
		t.Fatalf("restored memory = %v", mem)
	}
	if restored.CurrentChatID() != chat.ID {
		t.Fatal("restored chat not current")
	}
}

func TestRestoreChatEvictsStaleInstance(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	stale := mustWorld(t, m, "Ops")
	chat, err := m.NewChat(ctx, "ops", "Session")
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	if err := m.SaveChatSnapshot(ctx, "ops", chat.ID); err != nil {
		t.Fatalf("SaveChatSnapshot: %v", err)
	}

	fresh, err := m.RestoreChat(ctx, "ops", chat.ID)
	if err != nil {
		t.Fatalf("RestoreChat: %v", err)
	}
	if fresh == stale {
		t.Fatal("restore reused the stale runtime instance")
	}
	got, err := m.GetWorld(ctx, "ops")
	if err != nil {
		t.Fatalf("GetWorld: %v", err)
	}
	if got != fresh {
		t.Fatal("manager cache not updated with restored instance")
	}
}

func TestDeleteChatClearsCurrent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	w := mustWorld(t, m, "Ops")
	chat, err := m.NewChat(ctx, "ops", "Session")
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}

	if err := m.DeleteChat(ctx, "ops", chat.ID); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if w.CurrentChatID() != "" {
		t.Fatalf("current chat = %q after delete", w.CurrentChatID())
	}
	chats, err := m.ListChats(ctx, "ops")
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != 0 {
		t.Fatalf("chats = %v", chats)
	}
}

func TestCreateAgentInWorldUsesClaimedSlot(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	w := mustWorld(t, m, "Ops")
	end := w.BeginActivity("llm:test")
	defer end()

	if !m.ClaimCreationSlot("ops", "scout") {
		t.Fatal("claim failed")
	}
	defer m.ReleaseCreationSlot("ops", "scout")

	if err := m.CreateAgentInWorld(ctx, w, models.AgentData{Name: "Scout"}); err != nil {
		t.Fatalf("CreateAgentInWorld: %v", err)
	}
	if _, ok := w.Agent("scout"); !ok {
		t.Fatal("agent not attached")
	}
}
