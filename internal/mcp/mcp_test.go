package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/yysun/agent-world/internal/world"
)

type fakeServer struct {
	name    string
	tools   []ToolInfo
	listErr error
	calls   []string
	result  *CallResult
	callErr error
}

func (f *fakeServer) Name() string { return f.name }

func (f *fakeServer) ListTools(ctx context.Context) ([]ToolInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.tools, nil
}

func (f *fakeServer) CallTool(_ context.Context, name string, _ map[string]any) (*CallResult, error) {
	f.calls = append(f.calls, name)
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.result, nil
}

func TestRegisterToolsNamespaces(t *testing.T) {
	srv := &fakeServer{
		name: "files",
		tools: []ToolInfo{
			{Name: "read", Description: "Read a file"},
			{Name: "write", Description: "Write a file"},
		},
	}
	reg := world.NewToolRegistry()

	count := RegisterTools(context.Background(), []Server{srv}, reg, nil)
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	if _, ok := reg.Get("files:read"); !ok {
		t.Fatal("files:read not registered")
	}
	if _, ok := reg.Get("files:write"); !ok {
		t.Fatal("files:write not registered")
	}
}

func TestRegisterToolsSkipsFailingServer(t *testing.T) {
	bad := &fakeServer{name: "broken", listErr: errors.New("connection refused")}
	good := &fakeServer{name: "files", tools: []ToolInfo{{Name: "read"}}}
	reg := world.NewToolRegistry()

	count := RegisterTools(context.Background(), []Server{bad, good}, reg, nil)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	if _, ok := reg.Get("files:read"); !ok {
		t.Fatal("healthy server's tool missing")
	}
}

func TestServerToolExecuteFlattensContent(t *testing.T) {
	srv := &fakeServer{
		name:  "files",
		tools: []ToolInfo{{Name: "read"}},
		result: &CallResult{Content: []ContentItem{
			{Type: "text", Text: "line one"},
			{Type: "text", Text: "line two"},
		}},
	}
	tool := &serverTool{server: srv, info: srv.tools[0]}

	res, err := tool.Execute(context.Background(), map[string]any{"path": "a.txt"}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "line one\nline two" || res.IsError {
		t.Fatalf("result = %+v", res)
	}
	if len(srv.calls) != 1 || srv.calls[0] != "read" {
		t.Fatalf("server received calls %v, want bare tool name", srv.calls)
	}
}

func TestServerToolExecuteError(t *testing.T) {
	srv := &fakeServer{name: "files", tools: []ToolInfo{{Name: "read"}}, callErr: errors.New("boom")}
	tool := &serverTool{server: srv, info: srv.tools[0]}

	if _, err := tool.Execute(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestServerToolDefaultSchema(t *testing.T) {
	srv := &fakeServer{name: "files"}
	tool := &serverTool{server: srv, info: ToolInfo{Name: "read"}}

	var doc map[string]any
	if err := json.Unmarshal(tool.Schema(), &doc); err != nil {
		t.Fatalf("schema not JSON: %v", err)
	}
	if doc["type"] != "object" {
		t.Fatalf("schema = %v", doc)
	}
}
