package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/yysun/agent-world/internal/world"
)

// Skill is one entry in the skill catalog.
type Skill struct {
	ID          string
	Name        string
	Description string
	Path        string
}

// SkillSource lists and resolves skills. Discovery runs out of process;
// WaitForInitialSync blocks until the first catalog scan completes.
type SkillSource interface {
	WaitForInitialSync(ctx context.Context) error
	Lookup(skillID string) (Skill, bool)
}

// LoadSkillTool loads a skill's full content into the conversation as
// an XML-tagged context block.
type LoadSkillTool struct {
	source SkillSource
	logger *slog.Logger
}

// NewLoadSkillTool wires the tool.
func NewLoadSkillTool(source SkillSource, logger *slog.Logger) *LoadSkillTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoadSkillTool{source: source, logger: logger.With("component", "load_skill")}
}

func (t *LoadSkillTool) Name() string { return "load_skill" }

func (t *LoadSkillTool) Description() string {
	return "Load the full content of a skill by id so its instructions apply to this conversation"
}

func (t *LoadSkillTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"skill_id": {"type": "string", "description": "Identifier of the skill to load"}
		},
		"required": ["skill_id"]
	}`)
}

func (t *LoadSkillTool) Execute(ctx context.Context, args map[string]any, _ *world.ToolContext) (*world.ToolResult, error) {
	skillID, _ := args["skill_id"].(string)
	skillID = strings.TrimSpace(skillID)

	if err := t.source.WaitForInitialSync(ctx); err != nil {
		return errorBlock(fmt.Sprintf("skill registry not ready: %v", err)), nil
	}

	skill, ok := t.source.Lookup(skillID)
	if !ok {
		return errorBlock(fmt.Sprintf("skill %q not found", skillID)), nil
	}

	content, err := os.ReadFile(skill.Path)
	if err != nil {
		return errorBlock(fmt.Sprintf("skill %q could not be read: %v", skillID, err)), nil
	}

	t.logger.Info("skill loaded", "skill_id", skillID, "bytes", len(content))
	return &world.ToolResult{
		Content: fmt.Sprintf("<skill_context id=%q name=%q>\n%s\n</skill_context>", skill.ID, skill.Name, strings.TrimSpace(string(content))),
	}, nil
}

func errorBlock(msg string) *world.ToolResult {
	return &world.ToolResult{
		Content: fmt.Sprintf("<error>%s</error>", msg),
		IsError: true,
	}
}
