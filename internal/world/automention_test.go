package world

import "testing"

func TestRemoveSelfMentions(t *testing.T) {
	tests := []struct {
		name     string
		response string
		agentID  string
		want     string
	}{
		{"single self mention", "@alice hello there", "alice", "hello there"},
		{"consecutive self mentions", "@alice @alice hello", "alice", "hello"},
		{"case insensitive", "@Alice hi", "alice", "hi"},
		{"preserves leading whitespace", "  @alice hi", "alice", "  hi"},
		{"other mention untouched", "@bob hi", "alice", "@bob hi"},
		{"prefix of longer id untouched", "@alice-2 hi", "alice", "@alice-2 hi"},
		{"mention only", "@alice", "alice", ""},
		{"no mention", "plain text", "alice", "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RemoveSelfMentions(tt.response, tt.agentID)
			if got != tt.want {
				t.Fatalf("RemoveSelfMentions(%q, %q) = %q, want %q", tt.response, tt.agentID, got, tt.want)
			}
			if again := RemoveSelfMentions(got, tt.agentID); again != got {
				t.Fatalf("not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestAddAutoMention(t *testing.T) {
	tests := []struct {
		name     string
		response string
		sender   string
		want     string
	}{
		{"adds mention", "I agree.", "bob", "@bob I agree."},
		{"existing mention wins", "@carol take it", "bob", "@carol take it"},
		{"empty response untouched", "   ", "bob", "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AddAutoMention(tt.response, tt.sender)
			if got != tt.want {
				t.Fatalf("AddAutoMention(%q, %q) = %q, want %q", tt.response, tt.sender, got, tt.want)
			}
			if again := AddAutoMention(got, tt.sender); again != got {
				t.Fatalf("not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestShouldAutoMention(t *testing.T) {
	tests := []struct {
		name     string
		response string
		sender   string
		agentID  string
		want     bool
	}{
		{"agent sender no mentions", "sounds good", "bob", "alice", true},
		{"human sender never", "sounds good", "human", "alice", false},
		{"system sender never", "sounds good", "system", "alice", false},
		{"self sender never", "sounds good", "Alice", "alice", false},
		{"valid mention present", "@carol over to you", "bob", "alice", false},
		{"only self mention counts as none", "@alice done", "bob", "alice", true},
		{"empty response", "", "bob", "alice", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldAutoMention(tt.response, tt.sender, tt.agentID)
			if got != tt.want {
				t.Fatalf("ShouldAutoMention(%q, %q, %q) = %v, want %v", tt.response, tt.sender, tt.agentID, got, tt.want)
			}
		})
	}
}

func TestGetValidMentions(t *testing.T) {
	got := GetValidMentions("@alice start\n\n@bob continue", "alice")
	if len(got) != 1 || got[0] != "bob" {
		t.Fatalf("GetValidMentions = %v, want [bob]", got)
	}
}
