package observability

import (
	"context"
	"log/slog"
	"sync"
)

// TeeHandler fans one log record out to several handlers. A record is
// emitted to every handler that reports itself enabled for the level.
type TeeHandler struct {
	handlers []slog.Handler
}

// Tee combines handlers into one.
func Tee(handlers ...slog.Handler) *TeeHandler {
	return &TeeHandler{handlers: handlers}
}

func (t *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *TeeHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		out[i] = h.WithAttrs(attrs)
	}
	return &TeeHandler{handlers: out}
}

func (t *TeeHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		out[i] = h.WithGroup(name)
	}
	return &TeeHandler{handlers: out}
}

// SwitchHandler forwards records to a target handler that can be
// swapped at runtime. A nil target discards. The switch lets a logger
// stay immutable while an attached consumer comes and goes.
type SwitchHandler struct {
	state *switchState
	wrap  func(slog.Handler) slog.Handler
}

type switchState struct {
	mu     sync.RWMutex
	target slog.Handler
}

// NewSwitchHandler creates a switch with no target.
func NewSwitchHandler() *SwitchHandler {
	return &SwitchHandler{state: &switchState{}}
}

// Set replaces the target. Handlers derived via WithAttrs/WithGroup
// follow the change.
func (s *SwitchHandler) Set(h slog.Handler) {
	s.state.mu.Lock()
	s.state.target = h
	s.state.mu.Unlock()
}

func (s *SwitchHandler) current() slog.Handler {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	h := s.state.target
	if h != nil && s.wrap != nil {
		h = s.wrap(h)
	}
	return h
}

func (s *SwitchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	h := s.current()
	return h != nil && h.Enabled(ctx, level)
}

func (s *SwitchHandler) Handle(ctx context.Context, r slog.Record) error {
	h := s.current()
	if h == nil {
		return nil
	}
	return h.Handle(ctx, r)
}

func (s *SwitchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prev := s.wrap
	return &SwitchHandler{state: s.state, wrap: func(h slog.Handler) slog.Handler {
		if prev != nil {
			h = prev(h)
		}
		return h.WithAttrs(attrs)
	}}
}

func (s *SwitchHandler) WithGroup(name string) slog.Handler {
	prev := s.wrap
	return &SwitchHandler{state: s.state, wrap: func(h slog.Handler) slog.Handler {
		if prev != nil {
			h = prev(h)
		}
		return h.WithGroup(name)
	}}
}
