package world

import (
	"regexp"
	"strings"

	"github.com/yysun/agent-world/internal/ident"
	"github.com/yysun/agent-world/pkg/models"
)

var leadingWhitespace = regexp.MustCompile(`^[\s]*`)

// HasAnyMentionAtBeginning reports whether any mention begins a
// paragraph of the response.
func HasAnyMentionAtBeginning(response string) bool {
	return len(ident.ExtractParagraphBeginningMentions(response)) > 0
}

// GetValidMentions returns paragraph-beginning mentions that address
// someone other than the agent itself (case-insensitive).
func GetValidMentions(response, agentID string) []string {
	self := strings.ToLower(agentID)
	var out []string
	for _, m := range ident.ExtractParagraphBeginningMentions(response) {
		if m != self {
			out = append(out, m)
		}
	}
	return out
}

// RemoveSelfMentions strips leading consecutive @agentID mentions from
// the response, preserving the original leading whitespace and the case
// of the remaining text. Removing twice equals removing once.
func RemoveSelfMentions(response, agentID string) string {
	if agentID == "" {
		return response
	}
	lead := leadingWhitespace.FindString(response)
	rest := response[len(lead):]
	pattern := regexp.MustCompile(`(?i)^(@` + regexp.QuoteMeta(agentID) + `(?:[ \t\n]+|$))+`)
	return lead + pattern.ReplaceAllString(rest, "")
}

// ShouldAutoMention decides whether an agent's response should be
// redirected back at its sender: the response is non-empty, the sender
// is a different agent, and no valid mention already addresses anyone.
func ShouldAutoMention(response, sender, agentID string) bool {
	if strings.TrimSpace(response) == "" || sender == "" {
		return false
	}
	if strings.EqualFold(sender, agentID) {
		return false
	}
	if ident.DetermineSenderType(sender) != models.SenderAgent {
		return false
	}
	return len(GetValidMentions(response, agentID)) == 0
}

// AddAutoMention prepends "@sender " unless a mention already begins a
// paragraph of the response. Adding twice equals adding once.
func AddAutoMention(response, sender string) string {
	if strings.TrimSpace(response) == "" {
		return response
	}
	if HasAnyMentionAtBeginning(response) {
		return response
	}
	return "@" + sender + " " + response
}
