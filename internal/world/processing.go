package world

import (
	"context"
	"sync"

	"github.com/yysun/agent-world/internal/shell"
	"github.com/yysun/agent-world/pkg/models"
)

// processingState holds per-chat cancellation handles. Every message
// being processed registers a cancel function keyed by chat id so a
// stop request can abort the whole chat scope at once.
type chatController struct {
	id     int
	cancel context.CancelFunc
}

type processingState struct {
	mu          sync.Mutex
	nextID      int
	controllers map[string][]chatController
	activeLLM   map[string]int
}

// BeginChatMessageProcessing derives a cancelable context for handling
// one message in a chat and registers it for stop requests. The
// returned release must be called when processing finishes.
func (w *World) BeginChatMessageProcessing(parent context.Context, chatID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	p := &w.processing
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.controllers[chatID] = append(p.controllers[chatID], chatController{id: id, cancel: cancel})
	p.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel()
			p.mu.Lock()
			list := p.controllers[chatID]
			for i, c := range list {
				if c.id == id {
					p.controllers[chatID] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(p.controllers[chatID]) == 0 {
				delete(p.controllers, chatID)
			}
			p.mu.Unlock()
		})
	}
	return ctx, release
}

// markLLMActive records an in-flight provider call for a chat and
// returns a release.
func (w *World) markLLMActive(chatID string) func() {
	p := &w.processing
	p.mu.Lock()
	if p.activeLLM == nil {
		p.activeLLM = make(map[string]int)
	}
	p.activeLLM[chatID]++
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			if p.activeLLM[chatID] > 1 {
				p.activeLLM[chatID]--
			} else {
				delete(p.activeLLM, chatID)
			}
			p.mu.Unlock()
		})
	}
}

// StopMessageProcessing aborts all message processing for a chat:
// every registered abort controller fires, in-flight provider calls
// unwind, and active shell executions for the scope are terminated via
// the registry.
func (w *World) StopMessageProcessing(chatID string, shellReg *shell.Registry) models.StopResult {
	p := &w.processing
	p.mu.Lock()
	cancels := p.controllers[chatID]
	delete(p.controllers, chatID)
	abortedLLM := p.activeLLM[chatID]
	p.mu.Unlock()

	for _, c := range cancels {
		c.cancel()
	}

	killed := 0
	if shellReg != nil {
		killed = shellReg.StopForChat(w.Data.ID, chatID)
	}

	var res models.StopResult
	res.Success = true
	res.StoppedOperations = len(cancels) + killed
	res.LLM.AbortedActive = abortedLLM
	res.Shell.Killed = killed
	res.Processing.AbortedActive = len(cancels)
	if res.StoppedOperations > 0 {
		res.Stopped = true
		res.Reason = "stopped"
		w.logger.Info("stopped message processing",
			"chat_id", chatID,
			"aborted", len(cancels),
			"shell_killed", killed)
	} else {
		res.Reason = "no-active-process"
	}
	return res
}
