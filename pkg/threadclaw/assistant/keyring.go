// Package assistant – keyring.go provides secure credential storage using the
// operating system's native keyring, with fallback resolution through
// environment variables and the config file.
package assistant

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

// keyringService is the service name used in the OS keyring.
const keyringService = "threadclaw"

// Known secret names stored in the keyring.
const (
	SecretSlackBotToken = "slack_bot_token"
	SecretSlackAppToken = "slack_app_token"
	SecretDiscordToken  = "discord_token"
)

// ErrSecretNotFound indicates the secret is absent from every source.
var ErrSecretNotFound = errors.New("secret not found")

// StoreSecret saves a secret in the OS keyring.
func StoreSecret(name, value string) error {
	if err := keyring.Set(keyringService, name, value); err != nil {
		return fmt.Errorf("storing secret %q in keyring: %w", name, err)
	}
	return nil
}

// GetSecret retrieves a secret from the OS keyring.
func GetSecret(name string) (string, error) {
	value, err := keyring.Get(keyringService, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("reading secret %q from keyring: %w", name, err)
	}
	return value, nil
}

// DeleteSecret removes a secret from the OS keyring.
func DeleteSecret(name string) error {
	if err := keyring.Delete(keyringService, name); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("deleting secret %q from keyring: %w", name, err)
	}
	return nil
}

// ResolveSecret looks up a secret by priority:
// OS keyring, then environment variables, then the config-provided value.
func ResolveSecret(name string, envVars []string, configValue string) (string, error) {
	if value, err := GetSecret(name); err == nil && value != "" {
		return value, nil
	}

	for _, v := range envVars {
		if value := os.Getenv(v); value != "" {
			return value, nil
		}
	}

	if configValue != "" && !IsEnvReference(configValue) {
		return configValue, nil
	}

	return "", ErrSecretNotFound
}

// ResolveChannelTokens fills in channel tokens on the config from the
// keyring and environment, leaving already-resolved values untouched.
func ResolveChannelTokens(cfg *Config) {
	if cfg.Channels.Slack.BotToken == "" || IsEnvReference(cfg.Channels.Slack.BotToken) {
		if v, err := ResolveSecret(SecretSlackBotToken, []string{"SLACK_BOT_TOKEN"}, ""); err == nil {
			cfg.Channels.Slack.BotToken = v
		}
	}
	if cfg.Channels.Slack.AppToken == "" || IsEnvReference(cfg.Channels.Slack.AppToken) {
		if v, err := ResolveSecret(SecretSlackAppToken, []string{"SLACK_APP_TOKEN"}, ""); err == nil {
			cfg.Channels.Slack.AppToken = v
		}
	}
	if cfg.Channels.Discord.Token == "" || IsEnvReference(cfg.Channels.Discord.Token) {
		if v, err := ResolveSecret(SecretDiscordToken, []string{"DISCORD_BOT_TOKEN", "DISCORD_TOKEN"}, ""); err == nil {
			cfg.Channels.Discord.Token = v
		}
	}
}

// ReadPassword prompts for a secret on the terminal without echo.
func ReadPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	data, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
