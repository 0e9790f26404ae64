// Package builtin provides the tools every world exposes regardless of
// MCP configuration: agent creation, skill loading, and explicit human
// intervention.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yysun/agent-world/internal/ident"
	"github.com/yysun/agent-world/internal/world"
	"github.com/yysun/agent-world/pkg/models"
)

// Defaults applied when the world carries no chat provider config.
const (
	DefaultProvider = models.ProviderOpenAI
	DefaultModel    = "gpt-4"
)

// AgentCreator is the narrow slice of the manager the create_agent tool
// needs. The slot claim guards against parallel duplicate creations;
// CreateAgentInWorld must accept creation while the world is mid-turn.
type AgentCreator interface {
	ClaimCreationSlot(worldID, agentID string) bool
	ReleaseCreationSlot(worldID, agentID string)
	CreateAgentInWorld(ctx context.Context, w *world.World, data models.AgentData) error
}

// OptionRequester issues blocking HITL option requests.
type OptionRequester interface {
	RequestWorldOption(ctx context.Context, w *world.World, req models.HitlOptionRequest) (models.HitlOptionResolution, error)
}

// CreateAgentTool creates a new agent in the current world after human
// approval.
type CreateAgentTool struct {
	creator AgentCreator
	hitl    OptionRequester
	logger  *slog.Logger
}

// NewCreateAgentTool wires the tool.
func NewCreateAgentTool(creator AgentCreator, requester OptionRequester, logger *slog.Logger) *CreateAgentTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreateAgentTool{creator: creator, hitl: requester, logger: logger.With("component", "create_agent")}
}

func (t *CreateAgentTool) Name() string { return "create_agent" }

func (t *CreateAgentTool) Description() string {
	return "Create a new agent in this world. Requires human approval before the agent is created."
}

func (t *CreateAgentTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "Agent name"},
			"role": {"type": "string", "description": "What the agent is responsible for"},
			"autoReply": {"type": "boolean", "description": "Whether the agent replies without being mentioned"},
			"nextAgent": {"type": "string", "description": "Who the agent addresses in its responses"}
		},
		"required": ["name"]
	}`)
}

// SystemPromptFor builds the deterministic system prompt every created
// agent starts with.
func SystemPromptFor(name, role, nextAgent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are agent %s.", name)
	if role != "" {
		fmt.Fprintf(&b, " %s.", strings.TrimSuffix(role, "."))
	}
	fmt.Fprintf(&b, " Always respond in exactly this structure:\n@%s\n{Your response}", nextAgent)
	return b.String()
}

func (t *CreateAgentTool) Execute(ctx context.Context, args map[string]any, tc *world.ToolContext) (*world.ToolResult, error) {
	name, _ := args["name"].(string)
	name = strings.TrimSpace(name)
	role, _ := args["role"].(string)
	role = strings.TrimSpace(role)
	autoReply, _ := args["autoReply"].(bool)
	nextAgent, _ := args["nextAgent"].(string)
	nextAgent = strings.TrimSpace(nextAgent)
	if nextAgent == "" {
		nextAgent = "human"
	}

	w := tc.World
	agentID := ident.ToKebabCase(name)
	if agentID == "" {
		return &world.ToolResult{Content: "Error: agent name is empty after normalization", IsError: true}, nil
	}
	if _, exists := w.Agent(agentID); exists {
		return &world.ToolResult{Content: fmt.Sprintf("Error: agent %q already exists", agentID), IsError: true}, nil
	}

	if !t.creator.ClaimCreationSlot(w.Data.ID, agentID) {
		return &world.ToolResult{
			Content: fmt.Sprintf("Error: creation of agent %q is already in progress", agentID),
			IsError: true,
		}, nil
	}
	created := false
	defer func() {
		if !created {
			t.creator.ReleaseCreationSlot(w.Data.ID, agentID)
		}
	}()

	message := fmt.Sprintf("Approve creation of agent %q", name)
	if role != "" {
		message += " — " + role
	}
	resolution, err := t.hitl.RequestWorldOption(ctx, w, models.HitlOptionRequest{
		RequestID: "create-agent-" + agentID,
		Title:     "Create agent?",
		Message:   message,
		Options: []models.HitlOption{
			{ID: "yes", Label: "Create"},
			{ID: "no", Label: "Don't create"},
		},
		DefaultOptionID: "no",
		ChatID:          tc.ChatID,
		Metadata:        map[string]any{"agentId": agentID},
	})
	if err != nil {
		return nil, err
	}
	if resolution.OptionID != "yes" {
		reason := "denied by user"
		if resolution.Source == models.HitlResolvedByTimeout {
			reason = "approval timed out"
		}
		return &world.ToolResult{Content: fmt.Sprintf("Agent %q was not created: %s", name, reason)}, nil
	}

	provider := w.Data.ChatProvider
	if provider == "" {
		provider = DefaultProvider
	}
	model := w.Data.ChatModel
	if model == "" {
		model = DefaultModel
	}

	data := models.AgentData{
		ID:           agentID,
		Name:         name,
		Provider:     provider,
		Model:        model,
		SystemPrompt: SystemPromptFor(name, role, nextAgent),
		AutoReply:    autoReply,
	}
	if err := t.creator.CreateAgentInWorld(ctx, w, data); err != nil {
		return &world.ToolResult{Content: "Error: " + err.Error(), IsError: true}, nil
	}
	created = true
	t.creator.ReleaseCreationSlot(w.Data.ID, agentID)

	w.PublishSystem(models.SystemEvent{
		EventType: models.SystemEventAgentCreated,
		Content:   fmt.Sprintf("Agent %q created", name),
		Data:      map[string]any{"agentId": agentID, "name": name},
	})
	t.logger.Info("agent created", "world_id", w.Data.ID, "agent_id", agentID)

	// Dismiss-only confirmation; nothing waits on it.
	go func() {
		_, err := t.hitl.RequestWorldOption(context.Background(), w, models.HitlOptionRequest{
			RequestID: "create-agent-info-" + agentID,
			Title:     "Agent created",
			Message:   fmt.Sprintf("Agent %q is ready. Mention @%s to address it.", name, agentID),
			Options:   []models.HitlOption{{ID: "dismiss", Label: "Dismiss"}},
			ChatID:    tc.ChatID,
		})
		if err != nil {
			t.logger.Debug("info prompt ended", "agent_id", agentID, "error", err)
		}
	}()

	return &world.ToolResult{Content: fmt.Sprintf("Agent %q created. Address it as @%s.", name, agentID)}, nil
}
