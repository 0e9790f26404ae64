package world

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yysun/agent-world/pkg/models"
)

// Client is one attached transport connection. Implementations are
// external (WebSocket, SSE, CLI); the core only forwards.
type Client interface {
	// IsOpen reports whether the connection still accepts events.
	IsOpen() bool

	// OnWorldEvent delivers a bus event with its channel name.
	OnWorldEvent(eventType string, payload any)

	// OnError delivers a transport-level error message.
	OnError(msg string)

	// OnLog delivers a structured log record from the world's logger.
	OnLog(event map[string]any)
}

// clientLogHandler bridges the world's slog output to Client.OnLog as
// flat key/value maps.
type clientLogHandler struct {
	client Client
	level  slog.Level
	attrs  []slog.Attr
}

func (h *clientLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level && h.client.IsOpen()
}

func (h *clientLogHandler) Handle(_ context.Context, r slog.Record) error {
	out := map[string]any{
		"time":    r.Time,
		"level":   r.Level.String(),
		"message": r.Message,
	}
	for _, a := range h.attrs {
		out[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value.Any()
		return true
	})
	h.client.OnLog(out)
	return nil
}

func (h *clientLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clientLogHandler{client: h.client, level: h.level, attrs: merged}
}

func (h *clientLogHandler) WithGroup(string) slog.Handler { return h }

// Subscription binds one client to one world instance. Refresh swaps
// the instance wholesale: the old bus is torn down first, so events
// from a stale instance can never reach the client afterwards.
type Subscription struct {
	mu        sync.Mutex
	world     *World
	client    Client
	opts      Options
	unsubs    []func()
	destroyed bool
}

// forwardedChannels are the bus channels mirrored to the client.
var forwardedChannels = []Channel{
	ChannelMessage,
	ChannelSSE,
	ChannelTool,
	ChannelSystem,
	ChannelActivity,
	ChannelWorld,
}

// StartWorld attaches a client to a world: bus channels are forwarded
// through OnWorldEvent, the world's logs are teed to OnLog, and every
// agent gets its message handler subscribed. opts must be the options
// the world was built with; Refresh rebuilds from them.
func StartWorld(w *World, client Client, opts Options) *Subscription {
	sub := &Subscription{world: w, client: client, opts: opts}
	sub.attach(w)
	if w.metrics != nil {
		w.metrics.ActiveWorlds.Inc()
	}
	return sub
}

// World returns the currently attached world instance.
func (s *Subscription) World() *World {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.world
}

func (s *Subscription) attach(w *World) {
	for _, ch := range forwardedChannels {
		name := string(ch)
		s.unsubs = append(s.unsubs, w.bus.Subscribe(ch, func(event any) {
			if !s.client.IsOpen() {
				return
			}
			s.client.OnWorldEvent(name, event)
		}))
	}

	s.unsubs = append(s.unsubs, w.bus.Subscribe(ChannelSSE, func(event any) {
		ev, ok := event.(models.SSEEvent)
		if !ok || ev.Type != models.SSEError || !s.client.IsOpen() {
			return
		}
		s.client.OnError(ev.Error)
	}))

	w.clientLog.Set(&clientLogHandler{client: s.client, level: slog.LevelInfo})

	for _, a := range w.Agents() {
		s.unsubs = append(s.unsubs, w.SubscribeAgent(a))
	}
	s.unsubs = append(s.unsubs, w.SubscribeTitleGenerator())
}

// Unsubscribe detaches the client's forwarders but leaves the world's
// own handlers in place.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked()
}

func (s *Subscription) detachLocked() {
	for _, u := range s.unsubs {
		u()
	}
	s.unsubs = nil
	s.world.clientLog.Set(nil)
}

// Destroy tears the subscription down: all listeners detach, the bus is
// cleared, and the agents map empties so the instance cannot process
// further events.
func (s *Subscription) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.destroyWorldLocked()
}

func (s *Subscription) destroyWorldLocked() {
	s.detachLocked()
	s.world.bus.RemoveAllListeners()
	s.world.ClearAgents()
	if s.world.metrics != nil {
		s.world.metrics.ActiveWorlds.Dec()
	}
	s.world.logger.Info("world subscription destroyed")
}

// Refresh destroys the current instance and rebuilds it from storage.
// The new instance has a fresh bus, so nothing published on the old one
// can reach the client again.
func (s *Subscription) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return fmt.Errorf("subscription already destroyed")
	}

	worldID := s.world.Data.ID
	s.destroyWorldLocked()

	fresh, err := LoadFromStorage(ctx, worldID, s.opts)
	if err != nil {
		return fmt.Errorf("refresh world %s: %w", worldID, err)
	}
	s.world = fresh
	s.attach(fresh)
	if fresh.metrics != nil {
		fresh.metrics.ActiveWorlds.Inc()
	}
	fresh.logger.Info("world subscription refreshed")
	return nil
}

// LoadFromStorage builds a runtime world from persisted state: world
// data, every agent with its memory, and chat metadata.
func LoadFromStorage(ctx context.Context, worldID string, opts Options) (*World, error) {
	if opts.Storage == nil {
		return nil, fmt.Errorf("load world %s: no storage configured", worldID)
	}
	data, err := opts.Storage.LoadWorld(ctx, worldID)
	if err != nil {
		return nil, err
	}
	w := New(*data, opts)

	agents, err := opts.Storage.ListAgents(ctx, worldID)
	if err != nil {
		return nil, err
	}
	for _, ad := range agents {
		full, memory, err := opts.Storage.LoadAgent(ctx, worldID, ad.ID)
		if err != nil {
			w.logger.Warn("agent load failed", "agent_id", ad.ID, "error", err)
			continue
		}
		w.AddAgent(NewAgent(*full, memory))
	}

	chats, err := opts.Storage.ListChats(ctx, worldID)
	if err != nil {
		return nil, err
	}
	for _, c := range chats {
		w.PutChat(c)
	}

	w.Data.UpdatedAt = time.Now()
	return w, nil
}
