// Package discord implements the Discord channel for ThreadClaw using discordgo.
//
// Features:
//   - Direct messages, mentions, and thread replies
//   - Thread-aware posting (replies land in the conversation thread)
//   - Thread history via the channel messages API
//   - Guild and channel allowlists
//   - Automatic reconnection via discordgo's gateway
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/threadclaw/threadclaw/pkg/threadclaw/channels"
)

// Config holds Discord channel configuration.
type Config struct {
	// Enabled turns the Discord channel on.
	Enabled bool `yaml:"enabled"`

	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild (server) IDs the bot responds in.
	// Empty means respond in all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// AllowedChannels restricts which channel IDs the bot responds in.
	// Empty means respond in all channels.
	AllowedChannels []string `yaml:"allowed_channels"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{}
}

// Discord implements channels.Channel over the discordgo gateway.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	// events is the channel for incoming events forwarded to the assistant.
	events chan *channels.Event

	connected  atomic.Bool
	lastEvent  atomic.Value // time.Time
	errorCount atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:    cfg,
		logger: logger.With("component", "discord"),
		events: make(chan *channels.Event, 256),
	}
}

// ---------- Channel Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)

	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			d.logger.Warn("discord: close error", "error", err)
		}
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// Events returns the incoming events channel.
func (d *Discord) Events() <-chan *channels.Event {
	return d.events
}

// PostReply sends text into the conversation identified by threadTS.
//
// threadTS carries one of three shapes on Discord:
//   - the DM channel ID (direct messages have no threads)
//   - a thread channel ID (replies go straight into the thread)
//   - a message ID in channelID (a mention that has no thread yet,
//     in which case one is created rooted at that message)
func (d *Discord) PostReply(ctx context.Context, channelID, threadTS, text string) error {
	if !d.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	if threadTS == "" || threadTS == channelID {
		_, err := d.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
		return d.wrapSendErr(err)
	}

	if ch, err := d.channel(threadTS); err == nil && isThreadChannel(ch) {
		_, err := d.session.ChannelMessageSend(threadTS, text, discordgo.WithContext(ctx))
		return d.wrapSendErr(err)
	}

	// threadTS is a message ID; start a thread from it.
	thread, err := d.session.MessageThreadStartComplex(channelID, threadTS, &discordgo.ThreadStart{
		Name:                "conversation",
		AutoArchiveDuration: 1440,
	}, discordgo.WithContext(ctx))
	if err != nil {
		// The thread may already exist; in that case its ID equals the
		// root message ID.
		if ch, chErr := d.channel(threadTS); chErr == nil && isThreadChannel(ch) {
			_, sendErr := d.session.ChannelMessageSend(threadTS, text, discordgo.WithContext(ctx))
			return d.wrapSendErr(sendErr)
		}
		// Fall back to a plain reply with a message reference.
		_, sendErr := d.session.ChannelMessageSendReply(channelID, text, &discordgo.MessageReference{
			MessageID: threadTS,
			ChannelID: channelID,
		}, discordgo.WithContext(ctx))
		return d.wrapSendErr(sendErr)
	}

	_, err = d.session.ChannelMessageSend(thread.ID, text, discordgo.WithContext(ctx))
	return d.wrapSendErr(err)
}

// FetchThreadHistory returns all messages in a thread or DM channel,
// oldest first. threadRootTS is the thread (or DM) channel ID.
func (d *Discord) FetchThreadHistory(ctx context.Context, channelID, threadRootTS string) ([]channels.MessageRecord, error) {
	if !d.connected.Load() {
		return nil, channels.ErrChannelDisconnected
	}

	target := threadRootTS
	if target == "" {
		target = channelID
	}

	// Page backwards from the newest message, then reverse.
	var collected []*discordgo.Message
	beforeID := ""
	for {
		page, err := d.session.ChannelMessages(target, 100, beforeID, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("discord: fetching messages: %w", err)
		}
		if len(page) == 0 {
			break
		}
		collected = append(collected, page...)
		beforeID = page[len(page)-1].ID
		if len(page) < 100 {
			break
		}
	}

	records := make([]channels.MessageRecord, 0, len(collected))
	for i := len(collected) - 1; i >= 0; i-- {
		msg := collected[i]
		records = append(records, channels.MessageRecord{
			User: msg.Author.ID,
			Text: msg.Content,
			TS:   msg.ID,
		})
	}
	return records, nil
}

// BotUserID returns the bot's own user ID.
func (d *Discord) BotUserID() string {
	if d.session == nil || d.session.State == nil || d.session.State.User == nil {
		return ""
	}
	return d.session.State.User.ID
}

// IsConnected returns true if the gateway is open.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastEvent.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:   d.connected.Load(),
		LastEventAt: lastAt,
		ErrorCount:  int(d.errorCount.Load()),
	}
}

// SendTyping shows a typing indicator in the conversation.
func (d *Discord) SendTyping(ctx context.Context, channelID string) error {
	if !d.connected.Load() {
		return nil
	}
	return d.session.ChannelTyping(channelID, discordgo.WithContext(ctx))
}

// ---------- Event Handling ----------

// onMessageCreate classifies incoming Discord messages into events.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}

	if !contains(d.cfg.AllowedGuilds, m.GuildID, m.GuildID == "") {
		return
	}
	if !contains(d.cfg.AllowedChannels, m.ChannelID, len(d.cfg.AllowedChannels) == 0) {
		return
	}

	ev := &channels.Event{
		Source:    d.Name(),
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		EventTS:   m.ID,
		Text:      m.Content,
		BotUserID: s.State.User.ID,
	}

	switch {
	case m.GuildID == "":
		// Direct message. The DM channel itself is the conversation.
		ev.Kind = channels.EventIM
		ev.ThreadTS = m.ChannelID

	default:
		ch, err := d.channel(m.ChannelID)
		if err == nil && isThreadChannel(ch) {
			ev.Kind = channels.EventThreadReply
			ev.ChannelID = ch.ParentID
			ev.ThreadTS = m.ChannelID
			break
		}
		if !mentionsUser(m.Mentions, s.State.User.ID) {
			return
		}
		ev.Kind = channels.EventMention
		ev.ThreadTS = m.ID
	}

	d.lastEvent.Store(time.Now())
	d.errorCount.Store(0)

	select {
	case d.events <- ev:
	default:
		d.logger.Warn("discord: event buffer full, dropping", "msg_id", m.ID)
	}
}

// ---------- Helpers ----------

// channel resolves a channel from state, falling back to the API.
func (d *Discord) channel(id string) (*discordgo.Channel, error) {
	if ch, err := d.session.State.Channel(id); err == nil {
		return ch, nil
	}
	return d.session.Channel(id)
}

func (d *Discord) wrapSendErr(err error) error {
	if err != nil {
		d.errorCount.Add(1)
		return fmt.Errorf("discord: sending message: %w", err)
	}
	return nil
}

func isThreadChannel(ch *discordgo.Channel) bool {
	switch ch.Type {
	case discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeGuildNewsThread:
		return true
	}
	return false
}

func mentionsUser(mentions []*discordgo.User, userID string) bool {
	for _, u := range mentions {
		if u != nil && u.ID == userID {
			return true
		}
	}
	return false
}

// contains reports whether id is in the allowlist, honoring a bypass
// condition (empty list, or DMs for the guild filter).
func contains(list []string, id string, bypass bool) bool {
	if bypass || len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
