// Package ident provides identifier normalization and mention parsing
// for world messages.
package ident

import (
	"regexp"
	"strings"

	"github.com/yysun/agent-world/pkg/models"
)

var (
	// mentionPattern matches @name tokens anywhere in text.
	mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9][a-zA-Z0-9_-]*)`)

	// paragraphMentionPattern matches a mention at the start of a
	// paragraph: start of string or after a blank line, optionally
	// preceded by spaces or tabs on the same line.
	paragraphMentionPattern = regexp.MustCompile(`(?:^|\n\n)[ \t]*@([a-zA-Z0-9][a-zA-Z0-9_-]*)`)

	nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)
)

// humanAliases are sender names treated as the human user.
var humanAliases = map[string]struct{}{
	"human": {},
	"user":  {},
}

// ToKebabCase lowercases the name, maps every run of non-alphanumeric
// characters to a single '-', and trims leading/trailing dashes. The
// result is idempotent: ToKebabCase(ToKebabCase(x)) == ToKebabCase(x).
func ToKebabCase(name string) string {
	lower := strings.ToLower(name)
	kebab := nonAlnumRun.ReplaceAllString(lower, "-")
	return strings.Trim(kebab, "-")
}

// ExtractMentions returns every @mention in the text, lowercased, in
// order of appearance. Duplicates are preserved.
func ExtractMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	mentions := make([]string, 0, len(matches))
	for _, m := range matches {
		mentions = append(mentions, strings.ToLower(m[1]))
	}
	return mentions
}

// ExtractParagraphBeginningMentions returns mentions that begin a
// paragraph (start of text or after a blank line), lowercased.
func ExtractParagraphBeginningMentions(text string) []string {
	matches := paragraphMentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	mentions := make([]string, 0, len(matches))
	for _, m := range matches {
		mentions = append(mentions, strings.ToLower(m[1]))
	}
	return mentions
}

// HasMention reports whether the lowercased id appears in mentions.
func HasMention(mentions []string, id string) bool {
	id = strings.ToLower(id)
	for _, m := range mentions {
		if m == id {
			return true
		}
	}
	return false
}

// DetermineSenderType classifies a sender name. An empty sender or a
// human alias ("human", "user", any case) is a human; "system" and
// "world" are reserved; everything else is an agent.
func DetermineSenderType(sender string) models.SenderType {
	switch {
	case sender == "system":
		return models.SenderSystem
	case sender == "world":
		return models.SenderWorld
	case sender == "":
		return models.SenderHuman
	}
	if _, ok := humanAliases[strings.ToLower(sender)]; ok {
		return models.SenderHuman
	}
	return models.SenderAgent
}

// GetEnvValueFromText parses simple KEY=value lines from a variables
// block and returns the first value for key. Lines that are blank or
// start with '#' are skipped. Returns "" when the key is absent.
func GetEnvValueFromText(variables, key string) string {
	for _, line := range strings.Split(variables, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if strings.TrimSpace(k) == key {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
