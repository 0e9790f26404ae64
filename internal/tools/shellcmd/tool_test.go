package shellcmd

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/yysun/agent-world/internal/shell"
	"github.com/yysun/agent-world/internal/world"
	"github.com/yysun/agent-world/pkg/models"
)

func fixture(t *testing.T, cfg Config) (*Tool, *shell.Registry, *world.World, *world.ToolContext) {
	t.Helper()
	reg := shell.NewRegistry(nil)
	tool := New(reg, cfg, nil)
	settings := world.DefaultSettings()
	w := world.New(models.WorldData{ID: "w1"}, world.Options{Settings: &settings})
	tc := &world.ToolContext{
		World:            w,
		ChatID:           "chat-1",
		ToolCallID:       "call-1",
		WorkingDirectory: t.TempDir(),
	}
	return tool, reg, w, tc
}

func lastRecord(t *testing.T, reg *shell.Registry) shell.ExecutionRecord {
	t.Helper()
	recs := reg.List(shell.ListFilter{Limit: 1})
	if len(recs) == 0 {
		t.Fatal("no execution records")
	}
	return recs[0]
}

func TestExecuteSuccess(t *testing.T) {
	tool, reg, w, tc := fixture(t, Config{})

	var streamed []string
	w.Bus().Subscribe(world.ChannelSSE, func(ev any) {
		e := ev.(models.SSEEvent)
		if e.Type == models.SSEToolStream && e.ToolExecution != nil {
			streamed = append(streamed, e.ToolExecution.Data)
		}
	})

	res, err := tool.Execute(context.Background(), map[string]any{"command": "echo hello"}, tc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError || !strings.Contains(res.Content, "hello") {
		t.Fatalf("result = %+v", res)
	}

	rec := lastRecord(t, reg)
	if rec.Status != shell.StatusCompleted {
		t.Fatalf("status = %s, want completed", rec.Status)
	}
	if rec.ExitCode == nil || *rec.ExitCode != 0 {
		t.Fatalf("exit code = %v", rec.ExitCode)
	}
	if rec.StdoutLen == 0 {
		t.Fatal("stdout length not recorded")
	}
	if len(streamed) == 0 || streamed[0] != "hello" {
		t.Fatalf("streamed = %v", streamed)
	}
}

func TestExecuteFailure(t *testing.T) {
	tool, reg, _, tc := fixture(t, Config{})

	res, err := tool.Execute(context.Background(), map[string]any{"command": "exit 3"}, tc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "exit status 3") {
		t.Fatalf("result = %+v", res)
	}

	rec := lastRecord(t, reg)
	if rec.Status != shell.StatusFailed || rec.ExitCode == nil || *rec.ExitCode != 3 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestExecuteTimeout(t *testing.T) {
	tool, reg, _, tc := fixture(t, Config{Timeout: 200 * time.Millisecond})

	res, err := tool.Execute(context.Background(), map[string]any{"command": "sleep 10"}, tc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "timed out") {
		t.Fatalf("result = %+v", res)
	}
	if rec := lastRecord(t, reg); rec.Status != shell.StatusTimedOut {
		t.Fatalf("status = %s, want timed_out", rec.Status)
	}
}

func TestExecuteCanceled(t *testing.T) {
	tool, reg, _, tc := fixture(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := tool.Execute(ctx, map[string]any{"command": "sleep 10"}, tc)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if rec := lastRecord(t, reg); rec.Status != shell.StatusCanceled {
		t.Fatalf("status = %s, want canceled", rec.Status)
	}
}

func TestExecuteRejectsOutsideDirectory(t *testing.T) {
	tool, _, _, tc := fixture(t, Config{})

	res, err := tool.Execute(context.Background(), map[string]any{
		"command":   "ls",
		"directory": "/etc",
	}, tc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "outside world working directory") {
		t.Fatalf("result = %+v", res)
	}
}

func TestExecuteRejectsOutOfScopePath(t *testing.T) {
	tool, _, _, tc := fixture(t, Config{})

	res, err := tool.Execute(context.Background(), map[string]any{"command": "cat /etc/passwd"}, tc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "outside world working directory") {
		t.Fatalf("result = %+v", res)
	}
}

func TestExecuteRejectsInlineScript(t *testing.T) {
	tool, _, _, tc := fixture(t, Config{})

	res, err := tool.Execute(context.Background(), map[string]any{"command": "python -c 'print(1)'"}, tc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "inline script") {
		t.Fatalf("result = %+v", res)
	}
}

func TestExecuteQuotesParameters(t *testing.T) {
	tool, _, _, tc := fixture(t, Config{})

	res, err := tool.Execute(context.Background(), map[string]any{
		"command":    "printf '%s'",
		"parameters": []any{"two words"},
	}, tc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError || res.Content != "two words\n" {
		t.Fatalf("result = %+v", res)
	}
}
