// Package world implements the per-world orchestration core: the event
// bus, agent runtime state, LLM dispatch, tool execution, and the
// subscription lifecycle that connects a world to a client transport.
package world

import (
	"sync"
)

// Channel names an event stream on a world's bus.
type Channel string

const (
	ChannelMessage    Channel = "message"
	ChannelSSE        Channel = "sse"
	ChannelTool       Channel = "tool"
	ChannelSystem     Channel = "system"
	ChannelActivity   Channel = "world-activity"
	ChannelProcessing Channel = "processing"
	ChannelIdle       Channel = "idle"
	ChannelWorld      Channel = "world"
)

// Listener receives events published on a channel.
type Listener func(event any)

type busEntry struct {
	id int
	fn Listener
}

// EventBus is a per-world dispatcher with named channels. Listeners for
// a channel fire synchronously in subscription order; emissions are
// serialized so no two events interleave their listener runs.
//
// Each world instance owns exactly one bus; refresh replaces it, which
// guarantees events from a stale instance never reach new listeners.
type EventBus struct {
	emitMu sync.Mutex // serializes Publish
	mu     sync.Mutex // guards listeners
	lists  map[Channel][]busEntry
	nextID int
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{lists: make(map[Channel][]busEntry)}
}

// Subscribe adds a listener to a channel and returns an unsubscribe
// function that is safe to call multiple times.
func (b *EventBus) Subscribe(ch Channel, fn Listener) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.lists[ch] = append(b.lists[ch], busEntry{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			entries := b.lists[ch]
			for i, e := range entries {
				if e.id == id {
					b.lists[ch] = append(entries[:i:i], entries[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
		})
	}
}

// Publish delivers the event to every listener of the channel, in
// subscription order.
func (b *EventBus) Publish(ch Channel, event any) {
	b.mu.Lock()
	entries := b.lists[ch]
	fns := make([]Listener, len(entries))
	for i, e := range entries {
		fns[i] = e.fn
	}
	b.mu.Unlock()

	b.emitMu.Lock()
	defer b.emitMu.Unlock()
	for _, fn := range fns {
		fn(event)
	}
}

// ListenerCount returns how many listeners a channel has.
func (b *EventBus) ListenerCount(ch Channel) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lists[ch])
}

// RemoveAllListeners detaches every listener from every channel.
func (b *EventBus) RemoveAllListeners() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lists = make(map[Channel][]busEntry)
}
