package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/threadclaw/threadclaw/pkg/threadclaw/assistant"
	"github.com/threadclaw/threadclaw/pkg/threadclaw/channels"
	"github.com/threadclaw/threadclaw/pkg/threadclaw/channels/console"
)

// newChatCmd creates the `threadclaw chat` command: a local console
// conversation against the configured agent, no chat platform needed.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent from the terminal",
		Long: `Start an interactive console conversation with the configured
agent. Useful for testing the agent setup before connecting Slack or
Discord.

Examples:
  threadclaw chat
  threadclaw chat --config ./config.yaml`,
		RunE: runChat,
	}
	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger := buildLogger(cmd, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := channels.NewManager(logger)
	term := console.New(logger)
	if err := manager.Register(term); err != nil {
		return fmt.Errorf("registering console channel: %w", err)
	}

	// Console chats are throwaway: in-memory first-contact state, no run
	// log database.
	seen := assistant.NewMemorySeenStore()
	invoker := assistant.NewSubprocessInvoker(cfg.Agent, logger)

	bot := assistant.NewAssistant(cfg, manager, invoker, seen, nil, logger)
	if err := bot.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer bot.Stop()

	fmt.Println("ThreadClaw console chat. Type a message, Ctrl+C to exit.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	return nil
}
