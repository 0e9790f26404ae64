package shellcmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/yysun/agent-world/internal/shell"
	"github.com/yysun/agent-world/internal/world"
	"github.com/yysun/agent-world/pkg/models"
)

// DefaultTimeout bounds a single command run.
const DefaultTimeout = 10 * time.Minute

// outputCaptureLimit caps how much of each stream is kept for the tool
// result. Streamed SSE output is not capped.
const outputCaptureLimit = 64 * 1024

const toolName = "run_shell_command"

var schema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"command": {
			"type": "string",
			"description": "The shell command to execute"
		},
		"parameters": {
			"type": "array",
			"items": {"type": "string"},
			"description": "Arguments appended to the command, quoted as needed"
		},
		"directory": {
			"type": "string",
			"description": "Working directory, must lie within the world working directory"
		}
	},
	"required": ["command"]
}`)

// Config tunes the tool.
type Config struct {
	// Timeout per command; zero selects DefaultTimeout.
	Timeout time.Duration
	// DefaultWorkingDirectory is used when neither the tool context
	// nor the world declares one. Empty falls back to the user home.
	DefaultWorkingDirectory string
}

// Tool executes shell commands scoped to the world's trusted working
// directory and tracks every run in the execution registry.
type Tool struct {
	registry   *shell.Registry
	timeout    time.Duration
	defaultDir string
	logger     *slog.Logger
}

// New creates the shell command tool.
func New(registry *shell.Registry, cfg Config, logger *slog.Logger) *Tool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{
		registry:   registry,
		timeout:    cfg.Timeout,
		defaultDir: cfg.DefaultWorkingDirectory,
		logger:     logger.With("component", "shell_tool"),
	}
}

func (t *Tool) Name() string { return toolName }

func (t *Tool) Description() string {
	return "Execute a shell command inside the world working directory, streaming stdout and stderr"
}

func (t *Tool) Schema() json.RawMessage { return schema }

// Execute validates the command against the trusted directory scope,
// spawns it through the shell, streams output, and records the
// lifecycle in the registry. A canceled context terminates the process
// and the cancellation is returned to the caller.
func (t *Tool) Execute(ctx context.Context, args map[string]any, tc *world.ToolContext) (*world.ToolResult, error) {
	command, _ := args["command"].(string)
	command = strings.TrimSpace(command)
	if command == "" {
		return &world.ToolResult{Content: "Error: " + ErrEmptyCommand.Error(), IsError: true}, nil
	}
	parameters := stringSlice(args["parameters"])

	trusted, err := t.trustedDirectory(tc)
	if err != nil {
		return &world.ToolResult{Content: "Error: " + err.Error(), IsError: true}, nil
	}

	workdir := trusted
	if dir, _ := args["directory"].(string); strings.TrimSpace(dir) != "" {
		resolved, err := canonicalizePath(strings.TrimSpace(dir), trusted)
		if err != nil || !withinScope(resolved, trusted) {
			return &world.ToolResult{
				Content: fmt.Sprintf("Error: %s: %s", ErrDirectoryOutside.Error(), dir),
				IsError: true,
			}, nil
		}
		workdir = resolved
	}

	if err := validateNoInlineScript(command, parameters); err != nil {
		return &world.ToolResult{Content: "Error: " + err.Error(), IsError: true}, nil
	}
	if err := validatePathScope(command, parameters, trusted); err != nil {
		return &world.ToolResult{Content: "Error: " + err.Error(), IsError: true}, nil
	}

	line := buildCommandLine(command, parameters)
	rec := t.registry.Create(shell.ExecutionRecord{
		ExecutionID: uuid.NewString(),
		Command:     line,
		Parameters:  parameters,
		Directory:   workdir,
		WorldID:     tc.World.Data.ID,
		ChatID:      tc.ChatID,
	})

	return t.run(ctx, tc, rec, line, workdir)
}

func (t *Tool) run(ctx context.Context, tc *world.ToolContext, rec shell.ExecutionRecord, line, workdir string) (*world.ToolResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", line)
	cmd.Dir = workdir
	cmd.WaitDelay = 5 * time.Second
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return t.failBeforeStart(rec, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return t.failBeforeStart(rec, err)
	}

	if err := t.registry.Transition(rec.ExecutionID, shell.StatusStarting, shell.Patch{}); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return t.failBeforeStart(rec, err)
	}

	t.registry.Attach(rec.ExecutionID, &processHandle{cmd: cmd})
	defer t.registry.Detach(rec.ExecutionID)
	if err := t.registry.Transition(rec.ExecutionID, shell.StatusRunning, shell.Patch{}); err != nil {
		t.logger.Warn("running transition failed", "execution_id", rec.ExecutionID, "error", err)
	}

	release := tc.World.BeginActivity("shell:" + rec.ExecutionID)
	defer release()

	var outBuf, errBuf bytes.Buffer
	var outLen, errLen int
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		outLen = t.streamOutput(stdout, "stdout", tc, rec.ExecutionID, &outBuf)
	}()
	go func() {
		defer wg.Done()
		errLen = t.streamOutput(stderr, "stderr", tc, rec.ExecutionID, &errBuf)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	patch := shell.Patch{StdoutLen: &outLen, StderrLen: &errLen}

	status, result, retErr := t.classify(ctx, runCtx, rec.ExecutionID, waitErr, &patch, &outBuf, &errBuf)
	if terr := t.registry.Transition(rec.ExecutionID, status, patch); terr != nil {
		t.logger.Warn("terminal transition failed",
			"execution_id", rec.ExecutionID, "status", status, "error", terr)
	}
	t.logger.Info("shell command finished",
		"execution_id", rec.ExecutionID,
		"status", status,
		"stdout_len", outLen,
		"stderr_len", errLen)
	return result, retErr
}

// classify maps the wait outcome to a terminal status, the tool result,
// and the error to bubble. Cancellation is rethrown so the dispatch
// loop stops without a follow-up turn.
func (t *Tool) classify(parent, runCtx context.Context, execID string, waitErr error, patch *shell.Patch, outBuf, errBuf *bytes.Buffer) (shell.Status, *world.ToolResult, error) {
	canceled := parent.Err() != nil
	if rec, ok := t.registry.Get(execID); ok && rec.CancelRequested {
		canceled = true
	}
	if canceled {
		patch.Signal = "SIGTERM"
		patch.Error = "canceled"
		return shell.StatusCanceled, nil, context.Canceled
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		patch.Signal = "SIGTERM"
		patch.Error = "timed out"
		return shell.StatusTimedOut, &world.ToolResult{
			Content: fmt.Sprintf("Error: command timed out after %s\n%s", t.timeout, tailOf(outBuf, errBuf)),
			IsError: true,
		}, nil
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				patch.Signal = ws.Signal().String()
			}
		} else {
			patch.Error = waitErr.Error()
			code := -1
			patch.ExitCode = &code
			return shell.StatusFailed, &world.ToolResult{
				Content: "Error: " + waitErr.Error(),
				IsError: true,
			}, nil
		}
	}
	patch.ExitCode = &exitCode

	if exitCode != 0 {
		patch.Error = fmt.Sprintf("exit status %d", exitCode)
		return shell.StatusFailed, &world.ToolResult{
			Content: fmt.Sprintf("Error: exit status %d\n%s", exitCode, tailOf(outBuf, errBuf)),
			IsError: true,
		}, nil
	}
	return shell.StatusCompleted, &world.ToolResult{Content: outBuf.String()}, nil
}

func (t *Tool) failBeforeStart(rec shell.ExecutionRecord, err error) (*world.ToolResult, error) {
	if terr := t.registry.Transition(rec.ExecutionID, shell.StatusFailed, shell.Patch{Error: err.Error()}); terr != nil {
		t.logger.Warn("failed transition rejected", "execution_id", rec.ExecutionID, "error", terr)
	}
	return &world.ToolResult{Content: "Error: " + err.Error(), IsError: true}, nil
}

// streamOutput publishes each line as a tool-stream SSE event and
// captures up to outputCaptureLimit bytes for the result. Returns the
// total byte count observed.
func (t *Tool) streamOutput(r io.Reader, stream string, tc *world.ToolContext, execID string, buf *bytes.Buffer) int {
	total := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		total += len(line) + 1
		if buf.Len() < outputCaptureLimit {
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
		tc.World.PublishSSE(models.SSEEvent{
			AgentName: agentName(tc),
			Type:      models.SSEToolStream,
			ToolExecution: &models.ToolExecution{
				ToolName:    toolName,
				ToolCallID:  tc.ToolCallID,
				ExecutionID: execID,
				Stream:      stream,
				Data:        line,
			},
		})
	}
	return total
}

func (t *Tool) trustedDirectory(tc *world.ToolContext) (string, error) {
	if tc.WorkingDirectory != "" {
		return tc.WorkingDirectory, nil
	}
	if t.defaultDir != "" {
		return t.defaultDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("no working directory available: %w", err)
	}
	return home, nil
}

func agentName(tc *world.ToolContext) string {
	if tc.Agent != nil {
		return tc.Agent.Data.Name
	}
	return ""
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func tailOf(outBuf, errBuf *bytes.Buffer) string {
	s := strings.TrimSpace(errBuf.String())
	if s == "" {
		s = strings.TrimSpace(outBuf.String())
	}
	const limit = 2000
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	return s
}

// processHandle adapts a running command to the registry's Handle.
type processHandle struct {
	cmd *exec.Cmd
}

// Terminate sends SIGTERM to the process.
func (h *processHandle) Terminate() error {
	if h.cmd.Process == nil {
		return errors.New("process not started")
	}
	return h.cmd.Process.Signal(syscall.SIGTERM)
}
