package builtin

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/yysun/agent-world/internal/world"
	"github.com/yysun/agent-world/pkg/models"
)

// HumanInterventionTool lets an agent explicitly hand the conversation
// to the human. The call never executes anything: it becomes a
// synthetic client.humanIntervention tool call that pauses the dispatch
// loop until the client responds.
type HumanInterventionTool struct{}

// NewHumanInterventionTool creates the tool.
func NewHumanInterventionTool() *HumanInterventionTool { return &HumanInterventionTool{} }

func (t *HumanInterventionTool) Name() string { return "human_intervention" }

func (t *HumanInterventionTool) Description() string {
	return "Ask the human to make a decision before continuing. Use when the next step needs human judgment."
}

func (t *HumanInterventionTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"prompt": {"type": "string", "description": "The question to put to the human"},
			"options": {
				"type": "array",
				"items": {"type": "string"},
				"minItems": 1,
				"description": "The choices offered to the human"
			}
		},
		"required": ["prompt", "options"]
	}`)
}

func (t *HumanInterventionTool) Execute(_ context.Context, args map[string]any, _ *world.ToolContext) (*world.ToolResult, error) {
	prompt, _ := args["prompt"].(string)
	options, _ := args["options"].([]any)

	payload, _ := json.Marshal(map[string]any{
		"prompt":  prompt,
		"options": options,
	})
	call := models.NewToolCall(
		models.HitlCallPrefix+uuid.NewString(),
		models.ClientToolPrefix+"humanIntervention",
		string(payload),
	)
	return &world.ToolResult{
		StopProcessing:  true,
		ApprovalMessage: prompt,
		Synthetic: &models.AgentMessage{
			Role:      models.RoleAssistant,
			ToolCalls: []models.ToolCall{call},
		},
	}, nil
}
