// Package channels defines the interfaces and types for threadclaw chat
// channels. Each channel (Slack, Discord, console) implements the Channel
// interface to deliver conversational events and post threaded replies in a
// unified way.
package channels

import (
	"context"
	"fmt"
	"time"
)

// EventKind identifies the conversational shape of an incoming event.
type EventKind string

const (
	// EventIM is a direct message to the bot.
	EventIM EventKind = "im"

	// EventMention is a mention of the bot outside any thread.
	EventMention EventKind = "mention"

	// EventThreadReply is a message inside an existing thread.
	EventThreadReply EventKind = "thread_reply"
)

// Event is an immutable conversational event delivered by a channel.
type Event struct {
	// Kind is the event shape (im, mention, thread_reply).
	Kind EventKind

	// Source identifies the delivering channel (e.g. "slack").
	Source string

	// ChannelID is the platform channel/conversation identifier.
	ChannelID string

	// UserID is the author of the triggering message.
	UserID string

	// ThreadTS is the thread-root timestamp. For un-threaded events it
	// equals EventTS.
	ThreadTS string

	// EventTS is the timestamp of the triggering message itself.
	EventTS string

	// Text is the raw message text, platform markup included.
	Text string

	// BotUserID is the bot's own user ID on the delivering platform.
	BotUserID string
}

// MessageRecord is an immutable snapshot of one historical chat message.
type MessageRecord struct {
	User string
	Text string
	TS   string
}

// Channel defines the interface every chat channel must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "slack", "discord").
	Name() string

	// Connect establishes the connection to the chat platform and resolves
	// the bot's own user ID.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Events returns a Go channel that emits incoming conversational events.
	Events() <-chan *Event

	// PostReply posts text as a threaded reply in the given channel.
	PostReply(ctx context.Context, channelID, threadTS, text string) error

	// FetchThreadHistory returns every message in the thread rooted at
	// threadRootTS, oldest first as delivered by the platform.
	FetchThreadHistory(ctx context.Context, channelID, threadRootTS string) ([]MessageRecord, error)

	// BotUserID returns the bot's own user ID (valid after Connect).
	BotUserID() string

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// PresenceChannel extends Channel with typing indicators for platforms
// that support them.
type PresenceChannel interface {
	Channel

	// SendTyping sends a "typing..." indicator to the given channel.
	SendTyping(ctx context.Context, channelID string) error
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected   bool
	LastEventAt time.Time
	ErrorCount  int
	Details     map[string]any
}

// Errors.
var (
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrConnectionFailed    = fmt.Errorf("failed to connect to channel")
)
