package models

import (
	"encoding/json"
)

// ToolDefinition describes a callable tool in provider-neutral form.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Tool call ID prefixes for synthetic client-side redirects.
const (
	ApprovalCallPrefix = "approval_"
	HitlCallPrefix     = "hitl_"
)
