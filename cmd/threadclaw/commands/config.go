package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/threadclaw/threadclaw/pkg/threadclaw/assistant"
)

// newConfigCmd creates the `threadclaw config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage ThreadClaw configuration",
		Long: `Manage the ThreadClaw configuration file and stored tokens.

Examples:
  threadclaw config init
  threadclaw config show
  threadclaw config set-token slack-bot`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigSetTokenCmd(),
	)

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a default config.yaml",
		RunE: func(_ *cobra.Command, _ []string) error {
			const path = "config.yaml"
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists, refusing to overwrite", path)
			}

			cfg := assistant.DefaultConfig()
			cfg.Channels.Slack.BotToken = "${SLACK_BOT_TOKEN}"
			cfg.Channels.Slack.AppToken = "${SLACK_APP_TOKEN}"
			cfg.Channels.Discord.Token = "${DISCORD_BOT_TOKEN}"

			if err := assistant.SaveConfigToFile(cfg, path); err != nil {
				return err
			}
			fmt.Printf("Configuration created at ./%s\n", path)
			fmt.Println("Set SLACK_BOT_TOKEN and SLACK_APP_TOKEN (or store them with 'config set-token') before serving.")
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			// Never print raw tokens.
			display := *cfg
			display.Channels.Slack.BotToken = maskSecret(cfg.Channels.Slack.BotToken)
			display.Channels.Slack.AppToken = maskSecret(cfg.Channels.Slack.AppToken)
			display.Channels.Discord.Token = maskSecret(cfg.Channels.Discord.Token)

			data, err := yaml.Marshal(&display)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

// tokenNames maps CLI token aliases to keyring secret names.
var tokenNames = map[string]string{
	"slack-bot": assistant.SecretSlackBotToken,
	"slack-app": assistant.SecretSlackAppToken,
	"discord":   assistant.SecretDiscordToken,
}

func newConfigSetTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-token <slack-bot|slack-app|discord>",
		Short: "Store a platform token in the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			secretName, ok := tokenNames[args[0]]
			if !ok {
				return fmt.Errorf("unknown token %q (want slack-bot, slack-app, or discord)", args[0])
			}

			value, err := assistant.ReadPassword(fmt.Sprintf("Enter %s token: ", args[0]))
			if err != nil {
				return err
			}
			if value == "" {
				return fmt.Errorf("empty token, nothing stored")
			}

			if err := assistant.StoreSecret(secretName, value); err != nil {
				return err
			}
			fmt.Printf("Token %q stored in the OS keyring.\n", args[0])
			return nil
		},
	}
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if assistant.IsEnvReference(s) {
		return s
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
