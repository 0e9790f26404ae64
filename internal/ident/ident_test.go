package ident

import (
	"reflect"
	"testing"

	"github.com/yysun/agent-world/pkg/models"
)

func TestToKebabCase(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "Alice", "alice"},
		{"spaces", "Data Analyst", "data-analyst"},
		{"mixed symbols", "Q&A Bot!", "q-a-bot"},
		{"collapses runs", "a  --  b", "a-b"},
		{"trims edges", "--edge case--", "edge-case"},
		{"already kebab", "already-kebab", "already-kebab"},
		{"empty", "", ""},
		{"only symbols", "!!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToKebabCase(tt.input); got != tt.want {
				t.Errorf("ToKebabCase(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestToKebabCaseIdempotent(t *testing.T) {
	inputs := []string{"Alice", "Data Analyst 2", "x__y", "@strange!name", "MiXeD-Case"}
	for _, in := range inputs {
		once := ToKebabCase(in)
		twice := ToKebabCase(once)
		if once != twice {
			t.Errorf("ToKebabCase not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestExtractMentions(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"none", "hello world", nil},
		{"single", "hi @Alice", []string{"alice"}},
		{"multiple", "@a please ask @b", []string{"a", "b"}},
		{"mid-paragraph", "tell @bob-2 about it", []string{"bob-2"}},
		{"duplicates kept", "@a and @a again", []string{"a", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractMentions(tt.text); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractMentions(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractParagraphBeginningMentions(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"start of text", "@alice hello", []string{"alice"}},
		{"leading spaces", "  @alice hello", []string{"alice"}},
		{"mid sentence ignored", "hello @alice", nil},
		{"after blank line", "intro\n\n@bob next", []string{"bob"}},
		{"single newline ignored", "intro\n@bob next", nil},
		{"multiple paragraphs", "@a one\n\n@b two", []string{"a", "b"}},
		{"case folded", "@Alice hi", []string{"alice"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractParagraphBeginningMentions(tt.text); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractParagraphBeginningMentions(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestDetermineSenderType(t *testing.T) {
	tests := []struct {
		sender string
		want   models.SenderType
	}{
		{"system", models.SenderSystem},
		{"world", models.SenderWorld},
		{"", models.SenderHuman},
		{"human", models.SenderHuman},
		{"HUMAN", models.SenderHuman},
		{"user", models.SenderHuman},
		{"alice", models.SenderAgent},
		{"Alice", models.SenderAgent},
	}
	for _, tt := range tests {
		if got := DetermineSenderType(tt.sender); got != tt.want {
			t.Errorf("DetermineSenderType(%q) = %q, want %q", tt.sender, got, tt.want)
		}
	}
}

func TestGetEnvValueFromText(t *testing.T) {
	block := "# settings\nworking_directory=/tmp/project\nAPI_URL = https://example.com \n\nbroken line\nworking_directory=/ignored/second"
	tests := []struct {
		key  string
		want string
	}{
		{"working_directory", "/tmp/project"},
		{"API_URL", "https://example.com"},
		{"missing", ""},
	}
	for _, tt := range tests {
		if got := GetEnvValueFromText(block, tt.key); got != tt.want {
			t.Errorf("GetEnvValueFromText(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
