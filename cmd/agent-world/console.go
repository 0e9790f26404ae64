package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/yysun/agent-world/internal/world"
	"github.com/yysun/agent-world/pkg/models"
)

// consoleClient renders world events for an interactive terminal
// session. Streamed chunks print inline; everything else gets a line.
type consoleClient struct {
	mu        sync.Mutex
	out       io.Writer
	closed    bool
	streaming bool
}

func newConsoleClient(out io.Writer) *consoleClient {
	return &consoleClient{out: out}
}

func (c *consoleClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *consoleClient) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *consoleClient) OnWorldEvent(eventType string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev := payload.(type) {
	case models.MessageEvent:
		c.endStreamLocked()
		fmt.Fprintf(c.out, "[%s] %s\n", ev.Sender, ev.Content)
	case models.SSEEvent:
		c.renderSSELocked(ev)
	case models.SystemEvent:
		c.endStreamLocked()
		c.renderSystemLocked(ev)
	}
}

func (c *consoleClient) renderSSELocked(ev models.SSEEvent) {
	switch ev.Type {
	case models.SSEChunk:
		if !c.streaming {
			fmt.Fprintf(c.out, "%s> ", ev.AgentName)
			c.streaming = true
		}
		fmt.Fprint(c.out, ev.Content)
	case models.SSEEnd:
		c.endStreamLocked()
	case models.SSEToolStart:
		c.endStreamLocked()
		if ev.ToolExecution != nil {
			fmt.Fprintf(c.out, "* tool %s started\n", ev.ToolExecution.ToolName)
		}
	case models.SSEToolStream:
		if ev.ToolExecution != nil {
			fmt.Fprintf(c.out, "  | %s\n", ev.ToolExecution.Data)
		}
	case models.SSEToolResult:
		if ev.ToolExecution != nil {
			fmt.Fprintf(c.out, "* tool %s done (%dms)\n", ev.ToolExecution.ToolName, ev.ToolExecution.DurationMs)
		}
	case models.SSEToolError:
		if ev.ToolExecution != nil {
			fmt.Fprintf(c.out, "* tool %s failed: %s\n", ev.ToolExecution.ToolName, ev.ToolExecution.Error)
		}
	case models.SSEError:
		c.endStreamLocked()
		fmt.Fprintf(c.out, "* error: %s\n", ev.Error)
	}
}

func (c *consoleClient) renderSystemLocked(ev models.SystemEvent) {
	switch ev.EventType {
	case models.SystemEventHitlOptionRequest:
		fmt.Fprintf(c.out, "* decision needed: %v\n", ev.Data["message"])
		fmt.Fprintf(c.out, "  answer with: /approve %v OPTION_ID\n", ev.Data["requestId"])
		if options, ok := ev.Data["options"].([]models.HitlOption); ok {
			for _, opt := range options {
				fmt.Fprintf(c.out, "  - %s: %s\n", opt.ID, opt.Label)
			}
		}
	case models.SystemEventChatTitleUpdated:
		fmt.Fprintf(c.out, "* chat titled %q\n", ev.Data["title"])
	default:
		fmt.Fprintf(c.out, "* %s %s\n", ev.EventType, ev.Content)
	}
}

func (c *consoleClient) endStreamLocked() {
	if c.streaming {
		fmt.Fprintln(c.out)
		c.streaming = false
	}
}

func (c *consoleClient) OnError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endStreamLocked()
	fmt.Fprintf(c.out, "* error: %s\n", msg)
}

func (c *consoleClient) OnLog(event map[string]any) {
	// Logs already reach stderr through the base handler.
}

var _ world.Client = (*consoleClient)(nil)

// echoProvider is the offline backend behind the console: it repeats
// the last user message so the dispatch loop, streaming, and memory
// paths run end to end without credentials.
type echoProvider struct{}

func (p *echoProvider) reply(req world.ProviderRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == models.RoleUser {
			return "You said: " + strings.TrimSpace(req.Messages[i].Content)
		}
	}
	return "Hello."
}

func (p *echoProvider) Generate(ctx context.Context, req world.ProviderRequest) (*world.ProviderResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content := p.reply(req)
	return &world.ProviderResponse{
		Content: content,
		Usage:   &models.TokenUsage{OutputTokens: len(strings.Fields(content))},
	}, nil
}

func (p *echoProvider) Stream(ctx context.Context, req world.ProviderRequest) (<-chan world.StreamChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content := p.reply(req)
	ch := make(chan world.StreamChunk)
	go func() {
		defer close(ch)
		for _, word := range strings.SplitAfter(content, " ") {
			select {
			case <-ctx.Done():
				ch <- world.StreamChunk{Err: ctx.Err()}
				return
			case ch <- world.StreamChunk{Content: word}:
			}
		}
		ch <- world.StreamChunk{Usage: &models.TokenUsage{OutputTokens: len(strings.Fields(content))}}
	}()
	return ch, nil
}

var _ world.Provider = (*echoProvider)(nil)
