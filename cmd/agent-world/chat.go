package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yysun/agent-world/internal/config"
	"github.com/yysun/agent-world/internal/hitl"
	"github.com/yysun/agent-world/internal/manager"
	"github.com/yysun/agent-world/internal/observability"
	"github.com/yysun/agent-world/internal/shell"
	"github.com/yysun/agent-world/internal/storage"
	"github.com/yysun/agent-world/internal/tools/builtin"
	"github.com/yysun/agent-world/internal/tools/shellcmd"
	"github.com/yysun/agent-world/internal/world"
	"github.com/yysun/agent-world/pkg/models"
)

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	configPathFlag(cmd)
	return cmd
}

func buildChatCmd() *cobra.Command {
	var (
		worldName string
		agentName string
		provider  string
		model     string
		prompt    string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive console chat with one agent",
		Long: `chat creates a world with a single agent backed by the local echo
provider and forwards every world event to the console. Real provider
backends register on the provider registry in embedding programs.

Console commands:

  /stop            abort in-flight processing for the current chat
  /approve ID OPT  answer a pending option request
  /quit            exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), cfg, chatParams{
				worldName: worldName,
				agentName: agentName,
				provider:  models.Provider(provider),
				model:     model,
				prompt:    prompt,
			})
		},
	}
	configPathFlag(cmd)
	cmd.Flags().StringVar(&worldName, "world", "console", "World name")
	cmd.Flags().StringVar(&agentName, "agent", "assistant", "Agent name")
	cmd.Flags().StringVar(&provider, "provider", string(models.ProviderOpenAI), "Provider name")
	cmd.Flags().StringVar(&model, "model", "gpt-4", "Model name")
	cmd.Flags().StringVar(&prompt, "system", "You are a helpful assistant.", "Agent system prompt")
	return cmd
}

type chatParams struct {
	worldName string
	agentName string
	provider  models.Provider
	model     string
	prompt    string
}

func runChat(ctx context.Context, cfg *config.Config, params chatParams) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	store := storage.NewMemoryStore()
	shellReg := shell.NewRegistry(logger)
	shellReg.SetCapacity(cfg.Shell.HistoryCap)
	hitlRuntime := hitl.NewRuntime(cfg.Hitl.Timeout, logger)

	providers := world.NewProviderRegistry()
	// The console ships with a local echo backend under every provider
	// name so the loop runs without credentials. Embedding programs
	// register SDK-backed providers here instead.
	echo := &echoProvider{}
	for _, p := range []models.Provider{
		models.ProviderOpenAI, models.ProviderAnthropic, models.ProviderGoogle,
		models.ProviderAzure, models.ProviderXAI, models.ProviderOpenAICompatible,
		models.ProviderOllama,
	} {
		providers.Register(p, echo)
	}

	settings := world.SettingsFromConfig(cfg)
	tools := world.NewToolRegistry()
	opts := world.Options{
		Storage:   store,
		Providers: providers,
		Settings:  &settings,
		Logger:    logger,
		Metrics:   metrics,
		Tools:     tools,
	}
	mgr := manager.New(store, opts, shellReg, logger)

	tools.Register(shellcmd.New(shellReg, shellcmd.Config{
		Timeout:                 cfg.Shell.Timeout,
		DefaultWorkingDirectory: cfg.Shell.DefaultWorkingDirectory,
	}, logger))
	tools.Register(builtin.NewCreateAgentTool(mgr, hitlRuntime, logger))
	tools.Register(builtin.NewHumanInterventionTool())

	w, err := mgr.CreateWorld(ctx, manager.CreateWorldParams{
		Name:      params.worldName,
		TurnLimit: cfg.World.TurnLimit,
	})
	if err != nil {
		return err
	}
	if _, err := mgr.CreateAgent(ctx, w.Data.ID, manager.CreateAgentParams{
		Name:         params.agentName,
		Provider:     params.provider,
		Model:        params.model,
		SystemPrompt: params.prompt,
	}, manager.CreateAgentOptions{}); err != nil {
		return err
	}
	chat, err := mgr.NewChat(ctx, w.Data.ID, "")
	if err != nil {
		return err
	}

	client := newConsoleClient(os.Stdout)
	sub := world.StartWorld(w, client, mgr.Options())
	defer sub.Destroy()

	fmt.Printf("world %q ready; talking to @%s (type /quit to exit)\n", w.Data.ID, params.agentName)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/stop":
			res, err := mgr.StopMessageProcessing(ctx, w.Data.ID, chat.ID)
			if err != nil {
				return err
			}
			fmt.Printf("stop: %s (ops=%d)\n", res.Reason, res.StoppedOperations)
		case strings.HasPrefix(line, "/approve "):
			fields := strings.Fields(line)
			if len(fields) != 3 {
				fmt.Println("usage: /approve REQUEST_ID OPTION_ID")
				continue
			}
			res := hitlRuntime.SubmitWorldOptionResponse(models.HitlSubmission{
				WorldID:   w.Data.ID,
				RequestID: fields[1],
				OptionID:  fields[2],
				ChatID:    chat.ID,
			})
			if !res.Accepted {
				fmt.Printf("rejected: %s\n", res.Reason)
			}
		default:
			w.PublishMessage("HUMAN", line)
			// Give the agent a beat to stream before the next prompt.
			waitForIdle(w, 30*time.Second)
		}
	}
}

// waitForIdle polls until the world has no pending operations or the
// deadline passes. The console is single-user, so polling keeps the
// prompt from interleaving with streamed output.
func waitForIdle(w *world.World, max time.Duration) {
	deadline := time.Now().Add(max)
	// Let the message handler's goroutine start first.
	time.Sleep(50 * time.Millisecond)
	for time.Now().Before(deadline) {
		if !w.IsProcessing() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
