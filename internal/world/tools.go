package world

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/yysun/agent-world/pkg/models"
)

// Tool is the contract every callable tool implements. Tools are
// stateless with respect to the world: everything they need arrives
// through the ToolContext.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	Name() string

	// Description returns a natural language description of what the
	// tool does.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool. Cancellation arrives through ctx; the
	// validated arguments through args.
	Execute(ctx context.Context, args map[string]any, tc *ToolContext) (*ToolResult, error)
}

// ApprovalRequirer marks a tool whose execution must be confirmed by a
// human before it runs. The validation wrapper intercepts such tools
// and turns the call into a pause point instead of executing.
type ApprovalRequirer interface {
	RequiresApproval() bool
	ApprovalMessage(args map[string]any) string
}

// ToolContext carries the per-call environment into Execute.
type ToolContext struct {
	World            *World
	Agent            *Agent
	ChatID           string
	ToolCallID       string
	WorkingDirectory string
	Messages         []models.AgentMessage
}

// ToolResult is the outcome of one tool call.
type ToolResult struct {
	// Content is the tool's output, sent back to the LLM.
	Content string

	// IsError marks the result as an error condition the LLM should
	// handle.
	IsError bool

	// StopProcessing halts the dispatch loop after this call so an
	// approval or intervention request can reach the client before any
	// follow-up turn.
	StopProcessing bool

	// ApprovalMessage is the human-readable prompt attached to a
	// paused call.
	ApprovalMessage string

	// Synthetic is an assistant message to persist in place of a
	// normal tool round-trip when the loop pauses.
	Synthetic *models.AgentMessage
}

// ValidationResult reports the outcome of parameter validation.
type ValidationResult struct {
	Valid         bool
	CorrectedArgs map[string]any
	Error         string
}

type schemaShape struct {
	Properties map[string]struct {
		Type string `json:"type"`
	} `json:"properties"`
	Required []string `json:"required"`
}

// ValidateToolParameters checks LLM-supplied arguments against a tool's
// JSON schema, applying the lenient corrections models commonly need:
// a lone string where an array is expected is wrapped, a numeric string
// is parsed, and null optionals are dropped. Unknown keys pass through
// untouched. Required keys must be present and non-empty.
func ValidateToolParameters(args map[string]any, schema json.RawMessage, toolName string) ValidationResult {
	var shape schemaShape
	if len(schema) > 0 {
		if err := json.Unmarshal(schema, &shape); err != nil {
			return ValidationResult{Error: fmt.Sprintf("tool %s: invalid schema: %v", toolName, err)}
		}
	}

	corrected := make(map[string]any, len(args))
	for k, v := range args {
		corrected[k] = v
	}

	required := make(map[string]bool, len(shape.Required))
	for _, k := range shape.Required {
		required[k] = true
	}

	for name, prop := range shape.Properties {
		v, ok := corrected[name]
		if !ok {
			continue
		}
		if v == nil {
			if required[name] {
				return ValidationResult{Error: fmt.Sprintf("tool %s: required parameter %q is null", toolName, name)}
			}
			delete(corrected, name)
			continue
		}
		switch prop.Type {
		case "array":
			if s, isStr := v.(string); isStr && s != "" {
				corrected[name] = []any{s}
			}
		case "number", "integer":
			if s, isStr := v.(string); isStr {
				if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
					corrected[name] = f
				}
			}
		}
	}

	for _, name := range shape.Required {
		v, ok := corrected[name]
		if !ok {
			return ValidationResult{Error: fmt.Sprintf("tool %s: missing required parameter %q", toolName, name)}
		}
		if isEmptyValue(v) {
			return ValidationResult{Error: fmt.Sprintf("tool %s: required parameter %q is empty", toolName, name)}
		}
	}

	if len(schema) > 0 {
		if err := validateAgainstSchema(schema, corrected, toolName); err != nil {
			return ValidationResult{Error: err.Error()}
		}
	}

	return ValidationResult{Valid: true, CorrectedArgs: corrected}
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case nil:
		return true
	}
	return false
}

func validateAgainstSchema(schema json.RawMessage, args map[string]any, toolName string) error {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource("schema.json", strings.NewReader(string(schema))); err != nil {
		return fmt.Errorf("tool %s: invalid schema: %w", toolName, err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("tool %s: invalid schema: %w", toolName, err)
	}
	// Round-trip through JSON so the validator sees canonical types.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("tool %s: arguments not serializable: %w", toolName, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("tool %s: arguments not serializable: %w", toolName, err)
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("tool %s: invalid arguments: %v", toolName, err)
	}
	return nil
}

// WrapToolWithValidation returns a tool whose Execute validates the
// arguments first and delegates on success. Tools that require
// approval are not executed at all: the wrapper emits a synthetic
// client.requestApproval call and pauses the dispatch loop.
func WrapToolWithValidation(tool Tool, name string) Tool {
	return &validatedTool{inner: tool, name: name}
}

type validatedTool struct {
	inner Tool
	name  string
}

func (t *validatedTool) Name() string            { return t.name }
func (t *validatedTool) Description() string     { return t.inner.Description() }
func (t *validatedTool) Schema() json.RawMessage { return t.inner.Schema() }

func (t *validatedTool) Execute(ctx context.Context, args map[string]any, tc *ToolContext) (*ToolResult, error) {
	res := ValidateToolParameters(args, t.inner.Schema(), t.name)
	if !res.Valid {
		return &ToolResult{Content: res.Error, IsError: true}, nil
	}
	if ar, ok := t.inner.(ApprovalRequirer); ok && ar.RequiresApproval() {
		return approvalPause(t.name, res.CorrectedArgs, ar.ApprovalMessage(res.CorrectedArgs)), nil
	}
	return t.inner.Execute(ctx, res.CorrectedArgs, tc)
}

// approvalPause builds the pause result for a tool that needs human
// approval: a synthetic assistant message carrying a single
// client.requestApproval call that the client renders as a prompt.
func approvalPause(toolName string, args map[string]any, message string) *ToolResult {
	payload, _ := json.Marshal(map[string]any{
		"tool":      toolName,
		"arguments": args,
		"message":   message,
	})
	call := models.NewToolCall(
		models.ApprovalCallPrefix+uuid.NewString(),
		models.ClientToolPrefix+"requestApproval",
		string(payload),
	)
	return &ToolResult{
		StopProcessing:  true,
		ApprovalMessage: message,
		Synthetic: &models.AgentMessage{
			Role:      models.RoleAssistant,
			ToolCalls: []models.ToolCall{call},
		},
	}
}

// FilterAndHandleEmptyNamedFunctionCalls splits tool calls into those
// with a usable function name and those without.
func FilterAndHandleEmptyNamedFunctionCalls(calls []models.ToolCall) (valid, invalid []models.ToolCall) {
	for _, c := range calls {
		if strings.TrimSpace(c.Function.Name) == "" {
			invalid = append(invalid, c)
			continue
		}
		valid = append(valid, c)
	}
	return valid, invalid
}

// ToolRegistry holds the tools available to a world's agents.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool under its name, wrapped with validation.
// Registering the same name twice replaces the earlier tool.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = WrapToolWithValidation(tool, tool.Name())
}

// Get looks up a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns the registered tools sorted by name.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Definitions returns the wire-shape tool definitions for a provider
// request.
func (r *ToolRegistry) Definitions() []models.ToolDefinition {
	tools := r.List()
	defs := make([]models.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, models.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}
