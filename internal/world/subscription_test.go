package world

import (
	"context"
	"sync"
	"testing"

	"github.com/yysun/agent-world/internal/storage"
	"github.com/yysun/agent-world/pkg/models"
)

type fakeClient struct {
	mu     sync.Mutex
	open   bool
	events []struct {
		Type    string
		Payload any
	}
	errors []string
	logs   []map[string]any
}

func newFakeClient() *fakeClient { return &fakeClient{open: true} }

func (c *fakeClient) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
}

func (c *fakeClient) OnWorldEvent(eventType string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, struct {
		Type    string
		Payload any
	}{eventType, payload})
}

func (c *fakeClient) OnError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, msg)
}

func (c *fakeClient) OnLog(event map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, event)
}

func (c *fakeClient) eventCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func subscriptionFixture(t *testing.T) (*Subscription, *fakeClient, Options) {
	t.Helper()
	store := storage.NewMemoryStore()
	ctx := context.Background()
	if err := store.SaveWorld(ctx, models.WorldData{ID: "w1", Name: "test"}); err != nil {
		t.Fatalf("SaveWorld: %v", err)
	}
	if err := store.SaveAgent(ctx, "w1", models.AgentData{ID: "alice", Name: "alice", Provider: models.ProviderOpenAI, Model: "gpt-4"}, nil); err != nil {
		t.Fatalf("SaveAgent: %v", err)
	}

	reg := NewProviderRegistry()
	reg.Register(models.ProviderOpenAI, &fakeProvider{})
	settings := DefaultSettings()
	settings.Streaming = false
	opts := Options{Storage: store, Providers: reg, Settings: &settings}

	w, err := LoadFromStorage(ctx, "w1", opts)
	if err != nil {
		t.Fatalf("LoadFromStorage: %v", err)
	}

	client := newFakeClient()
	return StartWorld(w, client, opts), client, opts
}

func TestStartWorldForwardsEvents(t *testing.T) {
	sub, client, _ := subscriptionFixture(t)
	defer sub.Destroy()

	sub.World().PublishSystem(models.SystemEvent{EventType: models.SystemEventAgentCreated})

	if client.eventCount() == 0 {
		t.Fatal("no events forwarded to client")
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.events[0].Type != string(ChannelSystem) {
		t.Fatalf("event type = %q", client.events[0].Type)
	}
}

func TestClosedClientReceivesNothing(t *testing.T) {
	sub, client, _ := subscriptionFixture(t)
	defer sub.Destroy()

	client.Close()
	sub.World().PublishSystem(models.SystemEvent{EventType: models.SystemEventAgentCreated})

	if client.eventCount() != 0 {
		t.Fatalf("closed client got %d events", client.eventCount())
	}
}

func TestDestroyDetachesEverything(t *testing.T) {
	sub, client, _ := subscriptionFixture(t)
	w := sub.World()

	if len(w.Agents()) != 1 {
		t.Fatalf("agents = %d, want 1", len(w.Agents()))
	}

	sub.Destroy()

	if n := w.Bus().ListenerCount(ChannelMessage); n != 0 {
		t.Fatalf("message listeners after destroy = %d", n)
	}
	if len(w.Agents()) != 0 {
		t.Fatal("agents map not cleared on destroy")
	}

	before := client.eventCount()
	w.Bus().Publish(ChannelSystem, models.SystemEvent{})
	if client.eventCount() != before {
		t.Fatal("destroyed subscription still forwards events")
	}
}

func TestRefreshSwapsInstance(t *testing.T) {
	sub, client, _ := subscriptionFixture(t)
	defer sub.Destroy()

	old := sub.World()
	if err := sub.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	fresh := sub.World()
	if fresh == old {
		t.Fatal("refresh must build a new world instance")
	}
	if len(fresh.Agents()) != 1 {
		t.Fatalf("agents after refresh = %d, want 1", len(fresh.Agents()))
	}

	// Stale-instance events never reach the client.
	before := client.eventCount()
	old.Bus().Publish(ChannelSystem, models.SystemEvent{})
	if client.eventCount() != before {
		t.Fatal("stale world event reached the client after refresh")
	}

	fresh.PublishSystem(models.SystemEvent{EventType: models.SystemEventChatTitleUpdated})
	if client.eventCount() == before {
		t.Fatal("fresh world events should reach the client")
	}
}

func TestSubscriptionForwardsLogs(t *testing.T) {
	sub, client, _ := subscriptionFixture(t)
	defer sub.Destroy()

	sub.World().Logger().Info("hello from world", "key", "value")

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.logs) == 0 {
		t.Fatal("no logs forwarded")
	}
	last := client.logs[len(client.logs)-1]
	if last["message"] != "hello from world" || last["key"] != "value" {
		t.Fatalf("log record = %v", last)
	}
}

func (c *fakeClient) logCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.logs)
}

func TestUnsubscribeStopsLogForwarding(t *testing.T) {
	sub, client, _ := subscriptionFixture(t)
	w := sub.World()
	logger := w.Logger()

	logger.Info("attached")
	if client.logCount() == 0 {
		t.Fatal("no logs forwarded while attached")
	}

	sub.Unsubscribe()

	// Attach and detach swap the log target, never the logger itself, so
	// concurrent dispatches always log through the same instance.
	if w.Logger() != logger {
		t.Fatal("detach replaced the world logger")
	}

	before := client.logCount()
	logger.Info("detached")
	if client.logCount() != before {
		t.Fatal("detached client still receives logs")
	}
}
