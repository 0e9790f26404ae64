// Package mcp adapts tools exposed by MCP servers into world tools.
// Connection management is external; this package only lists, names,
// and bridges calls.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yysun/agent-world/internal/world"
)

// ListTimeout bounds a single server's tool listing.
const ListTimeout = 5 * time.Second

// ToolInfo describes one tool offered by a server.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ContentItem is one piece of a tool call result.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallResult is the raw result of a server tool call.
type CallResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// Server is one connected MCP server.
type Server interface {
	Name() string
	ListTools(ctx context.Context) ([]ToolInfo, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error)
}

// QualifiedName namespaces a tool as serverName:toolName.
func QualifiedName(server, tool string) string {
	return server + ":" + tool
}

// RegisterTools lists every server's tools (each bounded by
// ListTimeout) and registers adapters on the registry. A failing
// server is logged and skipped; the rest still register. Returns how
// many tools registered.
func RegisterTools(ctx context.Context, servers []Server, reg *world.ToolRegistry, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mcp")

	count := 0
	for _, srv := range servers {
		listCtx, cancel := context.WithTimeout(ctx, ListTimeout)
		tools, err := srv.ListTools(listCtx)
		cancel()
		if err != nil {
			logger.Warn("tool listing failed", "server", srv.Name(), "error", err)
			continue
		}
		for _, info := range tools {
			reg.Register(&serverTool{server: srv, info: info})
			count++
		}
		logger.Info("server tools registered", "server", srv.Name(), "tools", len(tools))
	}
	return count
}

// serverTool bridges one MCP tool into the world tool contract.
type serverTool struct {
	server Server
	info   ToolInfo
}

func (t *serverTool) Name() string {
	return QualifiedName(t.server.Name(), t.info.Name)
}

func (t *serverTool) Description() string { return t.info.Description }

func (t *serverTool) Schema() json.RawMessage {
	if len(t.info.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return t.info.InputSchema
}

func (t *serverTool) Execute(ctx context.Context, args map[string]any, _ *world.ToolContext) (*world.ToolResult, error) {
	res, err := t.server.CallTool(ctx, t.info.Name, args)
	if err != nil {
		return nil, fmt.Errorf("mcp %s: %w", t.Name(), err)
	}
	var parts []string
	for _, item := range res.Content {
		if item.Text != "" {
			parts = append(parts, item.Text)
		}
	}
	return &world.ToolResult{
		Content: strings.Join(parts, "\n"),
		IsError: res.IsError,
	}, nil
}
