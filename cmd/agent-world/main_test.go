package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/yysun/agent-world/internal/world"
	"github.com/yysun/agent-world/pkg/models"
)

func TestConfigCmdPrintsDefaults(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, want := range []string{"turn_limit: 5", "history_cap: 2000", "level: info"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestEchoProviderGenerate(t *testing.T) {
	p := &echoProvider{}
	res, err := p.Generate(context.Background(), world.ProviderRequest{
		Messages: []models.AgentMessage{
			{Role: models.RoleSystem, Content: "be brief"},
			{Role: models.RoleUser, Content: "hello there"},
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Content != "You said: hello there" {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestEchoProviderStreamReassembles(t *testing.T) {
	p := &echoProvider{}
	ch, err := p.Stream(context.Background(), world.ProviderRequest{
		Messages: []models.AgentMessage{{Role: models.RoleUser, Content: "one two three"}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var sb strings.Builder
	var usage *models.TokenUsage
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("chunk error: %v", chunk.Err)
		}
		sb.WriteString(chunk.Content)
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}
	if sb.String() != "You said: one two three" {
		t.Fatalf("reassembled = %q", sb.String())
	}
	if usage == nil || usage.OutputTokens == 0 {
		t.Fatalf("usage = %+v", usage)
	}
}

func TestConsoleClientRendersEvents(t *testing.T) {
	var out bytes.Buffer
	c := newConsoleClient(&out)

	c.OnWorldEvent("sse", models.SSEEvent{Type: models.SSEChunk, AgentName: "helper", Content: "Hel"})
	c.OnWorldEvent("sse", models.SSEEvent{Type: models.SSEChunk, AgentName: "helper", Content: "lo"})
	c.OnWorldEvent("sse", models.SSEEvent{Type: models.SSEEnd, AgentName: "helper"})
	c.OnWorldEvent("message", models.MessageEvent{Sender: "helper", Content: "Hello"})

	got := out.String()
	if !strings.Contains(got, "helper> Hello\n") {
		t.Fatalf("stream render wrong:\n%s", got)
	}
	if !strings.Contains(got, "[helper] Hello") {
		t.Fatalf("message render missing:\n%s", got)
	}

	c.Close()
	if c.IsOpen() {
		t.Fatal("client still open after Close")
	}
}
