package world

import (
	"sync"

	"github.com/yysun/agent-world/pkg/models"
)

// activityState tracks pending operations for one world. It replaces
// the hidden per-world side state of earlier designs with a plain field
// on the World struct.
type activityState struct {
	mu         sync.Mutex
	pending    int
	lastID     int64
	sources    map[string]int
	processing bool
}

// IsProcessing reports whether the world has pending operations.
func (w *World) IsProcessing() bool {
	w.activity.mu.Lock()
	defer w.activity.mu.Unlock()
	return w.activity.processing
}

// BeginActivity registers a pending operation attributed to source and
// returns an idempotent release function. The first pending operation
// flips the world to processing; releasing the last one flips it back
// to idle. Both edges publish on the world-activity channel and on the
// dedicated processing/idle channels.
func (w *World) BeginActivity(source string) func() {
	a := &w.activity
	a.mu.Lock()
	a.pending++
	if a.pending == 1 {
		a.lastID++
		a.processing = true
	}
	if source != "" {
		a.sources[source]++
	}
	ev := models.ActivityEvent{
		Change:     models.ActivityStart,
		State:      models.StateProcessing,
		Source:     source,
		Pending:    a.pending,
		ActivityID: a.lastID,
	}
	a.mu.Unlock()

	w.bus.Publish(ChannelActivity, ev)
	if ev.Pending == 1 {
		w.bus.Publish(ChannelProcessing, ev)
	}

	var once sync.Once
	return func() {
		once.Do(func() { w.endActivity(source) })
	}
}

func (w *World) endActivity(source string) {
	a := &w.activity
	a.mu.Lock()
	if a.pending > 0 {
		a.pending--
	}
	if source != "" {
		if a.sources[source] > 1 {
			a.sources[source]--
		} else {
			delete(a.sources, source)
		}
	}
	state := models.StateProcessing
	if a.pending == 0 {
		state = models.StateIdle
		a.processing = false
	}
	ev := models.ActivityEvent{
		Change:     models.ActivityEnd,
		State:      state,
		Source:     source,
		Pending:    a.pending,
		ActivityID: a.lastID,
	}
	a.mu.Unlock()

	w.bus.Publish(ChannelActivity, ev)
	if state == models.StateIdle {
		w.bus.Publish(ChannelIdle, ev)
	}
}

// ActivitySources returns a snapshot of pending-operation attribution.
func (w *World) ActivitySources() map[string]int {
	w.activity.mu.Lock()
	defer w.activity.mu.Unlock()
	out := make(map[string]int, len(w.activity.sources))
	for k, v := range w.activity.sources {
		out[k] = v
	}
	return out
}
