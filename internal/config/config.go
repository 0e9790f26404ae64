// Package config holds the runtime configuration for the orchestration
// core with the documented defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	World   WorldConfig   `yaml:"world"`
	Hitl    HitlConfig    `yaml:"hitl"`
	Shell   ShellConfig   `yaml:"shell"`
	LLM     LLMConfig     `yaml:"llm"`
	MCP     MCPConfig     `yaml:"mcp"`
	Logging LoggingConfig `yaml:"logging"`
}

// WorldConfig controls per-world behavior.
type WorldConfig struct {
	// TurnLimit is the default consecutive-LLM-call budget per agent.
	TurnLimit int `yaml:"turn_limit"`

	// MemoryWindow is how many recent memory entries feed each LLM call.
	MemoryWindow int `yaml:"memory_window"`

	// ChatTitleMaxLen caps generated chat titles.
	ChatTitleMaxLen int `yaml:"chat_title_max_len"`
}

// HitlConfig controls human-in-the-loop mediation.
type HitlConfig struct {
	// Timeout before a pending option request resolves to its default.
	Timeout time.Duration `yaml:"timeout"`
}

// ShellConfig controls the shell command tool and registry.
type ShellConfig struct {
	// Timeout is the per-command execution limit.
	Timeout time.Duration `yaml:"timeout"`

	// HistoryCap bounds retained execution records.
	HistoryCap int `yaml:"history_cap"`

	// DefaultWorkingDirectory is the trusted cwd fallback when neither
	// the call context nor world variables provide one. Empty means the
	// user home directory.
	DefaultWorkingDirectory string `yaml:"default_working_directory"`
}

// LLMConfig controls provider dispatch.
type LLMConfig struct {
	// Streaming selects streaming provider calls when supported.
	Streaming bool `yaml:"streaming"`

	// ToolCallBatchSize caps tool calls executed per assistant turn.
	ToolCallBatchSize int `yaml:"tool_call_batch_size"`

	// OllamaEnableTools attaches tools on ollama calls when true.
	OllamaEnableTools bool `yaml:"ollama_enable_tools"`
}

// MCPConfig controls MCP tool servers.
type MCPConfig struct {
	// ListTimeout bounds tools-listing calls.
	ListTimeout time.Duration `yaml:"list_timeout"`
}

// LoggingConfig mirrors observability.LogConfig in file form.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		World: WorldConfig{
			TurnLimit:       5,
			MemoryWindow:    10,
			ChatTitleMaxLen: 100,
		},
		Hitl: HitlConfig{
			Timeout: 120 * time.Second,
		},
		Shell: ShellConfig{
			Timeout:    10 * time.Minute,
			HistoryCap: 2000,
		},
		LLM: LLMConfig{
			Streaming:         true,
			ToolCallBatchSize: 10,
		},
		MCP: MCPConfig{
			ListTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML config file over the defaults. A missing path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	d := Default()
	if c.World.TurnLimit <= 0 {
		c.World.TurnLimit = d.World.TurnLimit
	}
	if c.World.MemoryWindow <= 0 {
		c.World.MemoryWindow = d.World.MemoryWindow
	}
	if c.World.ChatTitleMaxLen <= 0 {
		c.World.ChatTitleMaxLen = d.World.ChatTitleMaxLen
	}
	if c.Hitl.Timeout <= 0 {
		c.Hitl.Timeout = d.Hitl.Timeout
	}
	if c.Shell.Timeout <= 0 {
		c.Shell.Timeout = d.Shell.Timeout
	}
	if c.Shell.HistoryCap <= 0 {
		c.Shell.HistoryCap = d.Shell.HistoryCap
	}
	if c.LLM.ToolCallBatchSize <= 0 {
		c.LLM.ToolCallBatchSize = d.LLM.ToolCallBatchSize
	}
	if c.MCP.ListTimeout <= 0 {
		c.MCP.ListTimeout = d.MCP.ListTimeout
	}
}
