package world

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/yysun/agent-world/pkg/models"
)

type fakeTool struct {
	name     string
	schema   string
	approval bool
	execute  func(ctx context.Context, args map[string]any, tc *ToolContext) (*ToolResult, error)
}

func (f *fakeTool) Name() string            { return f.name }
func (f *fakeTool) Description() string     { return "fake tool" }
func (f *fakeTool) Schema() json.RawMessage { return json.RawMessage(f.schema) }
func (f *fakeTool) Execute(ctx context.Context, args map[string]any, tc *ToolContext) (*ToolResult, error) {
	if f.execute != nil {
		return f.execute(ctx, args, tc)
	}
	return &ToolResult{Content: "ok"}, nil
}

func (f *fakeTool) RequiresApproval() bool { return f.approval }
func (f *fakeTool) ApprovalMessage(map[string]any) string {
	return "Run " + f.name + "?"
}

const testSchema = `{
	"type": "object",
	"properties": {
		"query": {"type": "string"},
		"tags": {"type": "array", "items": {"type": "string"}},
		"limit": {"type": "number"},
		"note": {"type": "string"}
	},
	"required": ["query"]
}`

func TestValidateToolParameters(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		valid   bool
		errPart string
	}{
		{"valid args", map[string]any{"query": "find"}, true, ""},
		{"missing required", map[string]any{"limit": 3.0}, false, "missing required"},
		{"empty required", map[string]any{"query": "  "}, false, "is empty"},
		{"null required", map[string]any{"query": nil}, false, "null"},
		{"unknown keys pass", map[string]any{"query": "x", "extra": true}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateToolParameters(tt.args, json.RawMessage(testSchema), "search")
			if res.Valid != tt.valid {
				t.Fatalf("Valid = %v, want %v (err=%q)", res.Valid, tt.valid, res.Error)
			}
			if tt.errPart != "" && !strings.Contains(res.Error, tt.errPart) {
				t.Fatalf("Error = %q, want substring %q", res.Error, tt.errPart)
			}
		})
	}
}

func TestValidateToolParametersCoercions(t *testing.T) {
	res := ValidateToolParameters(map[string]any{
		"query": "find",
		"tags":  "urgent",
		"limit": "5",
		"note":  nil,
	}, json.RawMessage(testSchema), "search")
	if !res.Valid {
		t.Fatalf("unexpected validation error: %s", res.Error)
	}

	tags, ok := res.CorrectedArgs["tags"].([]any)
	if !ok || len(tags) != 1 || tags[0] != "urgent" {
		t.Fatalf("tags = %#v, want wrapped single-element array", res.CorrectedArgs["tags"])
	}
	if limit, ok := res.CorrectedArgs["limit"].(float64); !ok || limit != 5 {
		t.Fatalf("limit = %#v, want 5", res.CorrectedArgs["limit"])
	}
	if _, present := res.CorrectedArgs["note"]; present {
		t.Fatalf("null optional should be dropped, got %#v", res.CorrectedArgs["note"])
	}
}

func TestWrapToolWithValidationDelegates(t *testing.T) {
	var seen map[string]any
	tool := WrapToolWithValidation(&fakeTool{
		name:   "search",
		schema: testSchema,
		execute: func(_ context.Context, args map[string]any, _ *ToolContext) (*ToolResult, error) {
			seen = args
			return &ToolResult{Content: "done"}, nil
		},
	}, "search")

	res, err := tool.Execute(context.Background(), map[string]any{"query": "x", "tags": "a"}, &ToolContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "done" || res.IsError {
		t.Fatalf("result = %+v", res)
	}
	if _, ok := seen["tags"].([]any); !ok {
		t.Fatalf("inner tool did not receive corrected args: %#v", seen)
	}
}

func TestWrapToolWithValidationRejectsBadArgs(t *testing.T) {
	executed := false
	tool := WrapToolWithValidation(&fakeTool{
		name:   "search",
		schema: testSchema,
		execute: func(context.Context, map[string]any, *ToolContext) (*ToolResult, error) {
			executed = true
			return &ToolResult{Content: "done"}, nil
		},
	}, "search")

	res, err := tool.Execute(context.Background(), map[string]any{}, &ToolContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected error result, got %+v", res)
	}
	if executed {
		t.Fatal("inner tool executed despite invalid args")
	}
}

func TestWrapToolWithValidationApprovalPause(t *testing.T) {
	tool := WrapToolWithValidation(&fakeTool{
		name:     "deploy",
		schema:   `{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`,
		approval: true,
	}, "deploy")

	res, err := tool.Execute(context.Background(), map[string]any{"query": "prod"}, &ToolContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.StopProcessing {
		t.Fatal("approval tool should pause processing")
	}
	if res.Synthetic == nil || len(res.Synthetic.ToolCalls) != 1 {
		t.Fatalf("synthetic message missing: %+v", res.Synthetic)
	}
	call := res.Synthetic.ToolCalls[0]
	if call.Function.Name != models.ClientToolPrefix+"requestApproval" {
		t.Fatalf("synthetic call name = %q", call.Function.Name)
	}
	if !strings.HasPrefix(call.ID, models.ApprovalCallPrefix) {
		t.Fatalf("synthetic call id = %q, want %q prefix", call.ID, models.ApprovalCallPrefix)
	}
}

func TestFilterAndHandleEmptyNamedFunctionCalls(t *testing.T) {
	calls := []models.ToolCall{
		models.NewToolCall("1", "search", "{}"),
		models.NewToolCall("2", "", "{}"),
		models.NewToolCall("3", "  ", "{}"),
		models.NewToolCall("4", "deploy", "{}"),
	}
	valid, invalid := FilterAndHandleEmptyNamedFunctionCalls(calls)
	if len(valid) != 2 || valid[0].ID != "1" || valid[1].ID != "4" {
		t.Fatalf("valid = %+v", valid)
	}
	if len(invalid) != 2 {
		t.Fatalf("invalid = %+v", invalid)
	}
}

func TestToolRegistryDefinitionsSorted(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(&fakeTool{name: "zeta", schema: `{"type":"object"}`})
	reg.Register(&fakeTool{name: "alpha", schema: `{"type":"object"}`})

	defs := reg.Definitions()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "zeta" {
		t.Fatalf("definitions = %+v", defs)
	}
	if _, ok := reg.Get("alpha"); !ok {
		t.Fatal("registered tool not found")
	}
}
