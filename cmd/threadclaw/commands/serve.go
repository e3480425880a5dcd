package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/threadclaw/threadclaw/pkg/threadclaw/assistant"
	"github.com/threadclaw/threadclaw/pkg/threadclaw/channels"
	"github.com/threadclaw/threadclaw/pkg/threadclaw/channels/discord"
	"github.com/threadclaw/threadclaw/pkg/threadclaw/channels/slack"
)

// newServeCmd creates the `threadclaw serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon with chat platform connections",
		Long: `Start ThreadClaw as a daemon, connecting to the enabled chat
platforms and orchestrating agent conversations.

Examples:
  threadclaw serve
  threadclaw serve --channel slack
  threadclaw serve --config ./config.yaml`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("channel", nil, "channels to enable (slack, discord)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger := buildLogger(cmd, cfg)

	// Audit BEFORE resolving, so hardcoded tokens in the file get flagged.
	assistant.AuditSecrets(cfg, logger)
	assistant.ResolveChannelTokens(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := channels.NewManager(logger)
	channelFilter, _ := cmd.Flags().GetStringSlice("channel")

	if shouldEnable("slack", channelFilter, cfg.Channels.Slack.Enabled) {
		sl := slack.New(cfg.Channels.Slack, logger)
		if err := manager.Register(sl); err != nil {
			logger.Error("failed to register Slack", "error", err)
		} else {
			logger.Info("Slack channel registered")
		}
	}

	if shouldEnable("discord", channelFilter, cfg.Channels.Discord.Enabled) {
		dc := discord.New(cfg.Channels.Discord, logger)
		if err := manager.Register(dc); err != nil {
			logger.Error("failed to register Discord", "error", err)
		} else {
			logger.Info("Discord channel registered")
		}
	}

	if !manager.HasChannels() {
		return fmt.Errorf("no channels enabled; set channels.slack.enabled or channels.discord.enabled in config, or pass --channel")
	}

	db, err := assistant.OpenDatabase(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	seen := assistant.NewSQLiteSeenStore(db, logger)
	runLog := assistant.NewRunLog(db, logger)
	invoker := assistant.NewSubprocessInvoker(cfg.Agent, logger)

	bot := assistant.NewAssistant(cfg, manager, invoker, seen, runLog, logger)
	if err := bot.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	logger.Info("ThreadClaw running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"agent", cfg.Agent.Command,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		bot.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// buildLogger configures slog from config and the --verbose flag.
func buildLogger(cmd *cobra.Command, cfg *assistant.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}

// resolveConfig loads config from the --config flag or standard locations.
func resolveConfig(cmd *cobra.Command) (*assistant.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := assistant.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	if found := assistant.FindConfigFile(); found != "" {
		cfg, err := assistant.LoadConfigFromFile(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		slog.Info("config loaded", "path", found)
		return cfg, nil
	}

	// No config file. Defaults plus environment variables may still be
	// enough to run.
	cfg := assistant.DefaultConfig()
	slog.Info("no config file found, using defaults; run 'threadclaw config init' to create one")
	return cfg, nil
}

// shouldEnable checks if a channel should be enabled, honoring the
// --channel filter over the config default.
func shouldEnable(name string, filter []string, defaultEnabled bool) bool {
	if len(filter) == 0 {
		return defaultEnabled
	}
	for _, f := range filter {
		if f == name {
			return true
		}
	}
	return false
}
