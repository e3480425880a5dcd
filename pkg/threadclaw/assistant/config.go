// Package assistant – config.go defines all configuration structures for
// the threadclaw orchestrator.
package assistant

import (
	"github.com/threadclaw/threadclaw/pkg/threadclaw/channels/discord"
	"github.com/threadclaw/threadclaw/pkg/threadclaw/channels/slack"
)

// Config holds all orchestrator configuration.
type Config struct {
	// Name is the bot name used in logs.
	Name string `yaml:"name"`

	// Channels configures the chat platforms.
	Channels ChannelsConfig `yaml:"channels"`

	// Agent configures the external agent subprocess.
	Agent AgentConfig `yaml:"agent"`

	// Sessions configures per-thread session directories.
	Sessions SessionConfig `yaml:"sessions"`

	// Loop configures the orchestration loop.
	Loop LoopConfig `yaml:"loop"`

	// Dedupe configures the duplicate-event cache.
	Dedupe DedupeConfig `yaml:"dedupe"`

	// Database configures the central SQLite database.
	Database DatabaseConfig `yaml:"database"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// ChannelsConfig holds configuration for all channels.
type ChannelsConfig struct {
	// Slack is the Slack channel config (primary platform).
	Slack slack.Config `yaml:"slack"`

	// Discord is the Discord channel config.
	Discord discord.Config `yaml:"discord"`
}

// LoopConfig configures the orchestration loop.
type LoopConfig struct {
	// MaxIterations caps automatic continue iterations per event so a
	// misbehaving agent cannot loop forever.
	MaxIterations int `yaml:"max_iterations"`

	// TurnTimeoutSeconds is the deadline for handling one event,
	// including all continue iterations.
	TurnTimeoutSeconds int `yaml:"turn_timeout_seconds"`

	// ApologyReply is posted when the agent fails.
	ApologyReply string `yaml:"apology_reply"`

	// StillWorkingReply is posted when the iteration cap is hit.
	StillWorkingReply string `yaml:"still_working_reply"`
}

// DedupeConfig configures the duplicate-event cache.
type DedupeConfig struct {
	// TTLMinutes is how long handled event timestamps are remembered.
	TTLMinutes int `yaml:"ttl_minutes"`
}

// DatabaseConfig configures the central SQLite database.
type DatabaseConfig struct {
	// Path is the database file path.
	Path string `yaml:"path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "threadclaw",
		Channels: ChannelsConfig{
			Slack:   slack.DefaultConfig(),
			Discord: discord.DefaultConfig(),
		},
		Agent:    DefaultAgentConfig(),
		Sessions: DefaultSessionConfig(),
		Loop: LoopConfig{
			MaxIterations:      10,
			TurnTimeoutSeconds: 1800,
			ApologyReply:       "Sorry, something went wrong while handling that. Please try again.",
			StillWorkingReply:  "Still working on this, check back in a bit.",
		},
		Dedupe: DedupeConfig{
			TTLMinutes: 10,
		},
		Database: DatabaseConfig{
			Path: "./data/threadclaw.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
