package models

// HitlOption is a single choice presented to the human.
type HitlOption struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// HitlResolutionSource records how a pending option request was resolved.
type HitlResolutionSource string

const (
	HitlResolvedByUser    HitlResolutionSource = "user"
	HitlResolvedByTimeout HitlResolutionSource = "timeout"
)

// HitlOptionRequest asks the human to pick one option before the runtime
// continues. RequestID is unique per world.
type HitlOptionRequest struct {
	RequestID       string         `json:"request_id"`
	Title           string         `json:"title"`
	Message         string         `json:"message"`
	Options         []HitlOption   `json:"options"`
	DefaultOptionID string         `json:"default_option_id,omitempty"`
	TimeoutMs       int64          `json:"timeout_ms,omitempty"`
	ChatID          string         `json:"chat_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// HitlOptionResolution is the outcome of an option request: the chosen
// option and whether a user or the timeout chose it.
type HitlOptionResolution struct {
	OptionID string               `json:"option_id"`
	Source   HitlResolutionSource `json:"source"`
	Metadata map[string]any       `json:"metadata,omitempty"`
}

// HitlSubmission is a user response to a pending option request.
type HitlSubmission struct {
	WorldID   string `json:"world_id"`
	RequestID string `json:"request_id"`
	OptionID  string `json:"option_id"`
	ChatID    string `json:"chat_id,omitempty"`
}

// HitlSubmissionResult reports whether a submission was accepted.
// Rejections carry a reason instead of an error so transports can relay
// them without special-casing.
type HitlSubmissionResult struct {
	Accepted bool           `json:"accepted"`
	Reason   string         `json:"reason,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
