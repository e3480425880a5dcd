// Package slack implements the Slack channel for ThreadClaw using the
// Slack Web API and Socket Mode for real-time events.
//
// Features:
//   - Socket Mode over WebSocket (no public URL needed)
//   - Direct messages, mentions, and thread replies
//   - Reply-in-thread posting via chat.postMessage
//   - Thread history via conversations.replies
//   - Automatic reconnect with exponential backoff
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/threadclaw/threadclaw/pkg/threadclaw/channels"
)

// Config holds Slack channel configuration.
type Config struct {
	// Enabled turns the Slack channel on.
	Enabled bool `yaml:"enabled"`

	// BotToken is the Slack Bot User OAuth Token (xoxb-...).
	BotToken string `yaml:"bot_token"`

	// AppToken is the Slack App-Level Token for Socket Mode (xapp-...).
	AppToken string `yaml:"app_token"`

	// AllowedChannels restricts which channel IDs the bot responds in.
	// Empty means respond in all channels.
	AllowedChannels []string `yaml:"allowed_channels"`

	// APIBaseURL overrides the Slack API endpoint (used in tests).
	APIBaseURL string `yaml:"api_base_url,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{}
}

const defaultAPIBaseURL = "https://slack.com/api"

// Slack implements channels.Channel using Socket Mode.
type Slack struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	// botUserID is the bot's own Slack user ID (to ignore own messages
	// and to resolve mention gating).
	botUserID string

	// events is the channel for incoming events forwarded to the assistant.
	events chan *channels.Event

	connected  atomic.Bool
	lastEvent  atomic.Value // time.Time
	errorCount atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Slack channel instance.
func New(cfg Config, logger *slog.Logger) *Slack {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	return &Slack{
		cfg:    cfg,
		logger: logger.With("component", "slack"),
		client: &http.Client{Timeout: 30 * time.Second},
		events: make(chan *channels.Event, 256),
	}
}

// ---------- Channel Interface ----------

// Name returns "slack".
func (s *Slack) Name() string { return "slack" }

// Connect verifies credentials and starts the Socket Mode loop.
func (s *Slack) Connect(ctx context.Context) error {
	if s.cfg.BotToken == "" {
		return fmt.Errorf("slack: bot_token is required")
	}
	if s.cfg.AppToken == "" {
		return fmt.Errorf("slack: app_token is required for Socket Mode")
	}
	if s.connected.Load() {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	identity, err := s.authTest()
	if err != nil {
		return fmt.Errorf("slack: auth.test failed: %w", err)
	}
	s.botUserID = identity.UserID
	s.logger.Info("slack: connected", "bot", identity.User, "team", identity.Team, "user_id", identity.UserID)
	s.connected.Store(true)

	s.wg.Add(1)
	go s.socketModeLoop()

	return nil
}

// Disconnect stops the Socket Mode connection.
func (s *Slack) Disconnect() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.connected.Store(false)
	s.logger.Info("slack: disconnected")
	return nil
}

// Events returns the incoming events channel.
func (s *Slack) Events() <-chan *channels.Event {
	return s.events
}

// PostReply posts a message into the given thread via chat.postMessage.
func (s *Slack) PostReply(ctx context.Context, channelID, threadTS, text string) error {
	if !s.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	payload := map[string]any{
		"channel": channelID,
		"text":    text,
	}
	if threadTS != "" {
		payload["thread_ts"] = threadTS
	}

	_, err := s.apiCall(ctx, "chat.postMessage", payload)
	return err
}

// FetchThreadHistory retrieves all messages in a thread, oldest first,
// via conversations.replies with cursor pagination.
func (s *Slack) FetchThreadHistory(ctx context.Context, channelID, threadRootTS string) ([]channels.MessageRecord, error) {
	if !s.connected.Load() {
		return nil, channels.ErrChannelDisconnected
	}

	var records []channels.MessageRecord
	cursor := ""

	for {
		payload := map[string]any{
			"channel": channelID,
			"ts":      threadRootTS,
			"limit":   200,
		}
		if cursor != "" {
			payload["cursor"] = cursor
		}

		data, err := s.apiCall(ctx, "conversations.replies", payload)
		if err != nil {
			return nil, err
		}

		var page struct {
			Messages []slackMessage `json:"messages"`
			Metadata struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("slack: parsing conversations.replies: %w", err)
		}

		for _, msg := range page.Messages {
			records = append(records, channels.MessageRecord{
				User: msg.User,
				Text: msg.Text,
				TS:   msg.TS,
			})
		}

		cursor = page.Metadata.NextCursor
		if cursor == "" {
			break
		}
	}

	return records, nil
}

// BotUserID returns the bot's own user ID, resolved during Connect.
func (s *Slack) BotUserID() string { return s.botUserID }

// IsConnected returns true if the bot is connected.
func (s *Slack) IsConnected() bool { return s.connected.Load() }

// Health returns the channel health status.
func (s *Slack) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := s.lastEvent.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:   s.connected.Load(),
		LastEventAt: lastAt,
		ErrorCount:  int(s.errorCount.Load()),
	}
}

// ---------- Socket Mode ----------

// socketModeLoop maintains the WebSocket connection, reconnecting
// with exponential backoff when it drops.
func (s *Slack) socketModeLoop() {
	defer s.wg.Done()
	s.logger.Info("slack: socket mode starting")
	backoff := time.Second

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("slack: socket mode stopped")
			return
		default:
		}

		wsURL, err := s.openSocketModeURL()
		if err != nil {
			s.errorCount.Add(1)
			s.logger.Warn("slack: failed to open socket mode connection", "error", err, "backoff", backoff)
			if !s.sleep(backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second

		if err := s.runSocket(wsURL); err != nil {
			s.errorCount.Add(1)
			s.logger.Warn("slack: socket mode connection lost", "error", err)
		}
	}
}

// sleep waits for d or until shutdown; returns false on shutdown.
func (s *Slack) sleep(d time.Duration) bool {
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// openSocketModeURL calls apps.connections.open with the app-level token
// and returns the WebSocket URL.
func (s *Slack) openSocketModeURL() (string, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.cfg.APIBaseURL+"/apps.connections.open", nil)
	if err != nil {
		return "", fmt.Errorf("slack: creating connections.open request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.AppToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack: connections.open request failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
		URL   string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("slack: decoding connections.open: %w", err)
	}
	if !result.OK {
		return "", fmt.Errorf("slack: connections.open: %s", result.Error)
	}
	return result.URL, nil
}

// socketEnvelope is the outer frame of every Socket Mode message.
type socketEnvelope struct {
	Type       string          `json:"type"`
	EnvelopeID string          `json:"envelope_id"`
	Payload    json.RawMessage `json:"payload"`
	Reason     string          `json:"reason"`
}

// runSocket dials the WebSocket and reads envelopes until the connection
// drops, Slack requests a refresh, or shutdown is signalled.
func (s *Slack) runSocket(wsURL string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(s.ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("slack: websocket dial: %w", err)
	}
	defer conn.Close()

	// Close the socket when shutdown is signalled so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("slack: websocket read: %w", err)
		}

		var env socketEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("slack: bad envelope", "error", err)
			continue
		}

		switch env.Type {
		case "hello":
			s.logger.Debug("slack: socket mode hello received")

		case "disconnect":
			// Slack rotates connections; reconnect with a fresh URL.
			s.logger.Info("slack: server requested reconnect", "reason", env.Reason)
			return nil

		case "events_api":
			s.ack(conn, env.EnvelopeID)
			s.handleEventsAPI(env.Payload)

		default:
			if env.EnvelopeID != "" {
				s.ack(conn, env.EnvelopeID)
			}
		}
	}
}

// ack acknowledges an envelope so Slack does not redeliver it.
func (s *Slack) ack(conn *websocket.Conn, envelopeID string) {
	ack := map[string]string{"envelope_id": envelopeID}
	if err := conn.WriteJSON(ack); err != nil {
		s.logger.Warn("slack: ack failed", "envelope_id", envelopeID, "error", err)
	}
}

// eventsAPIPayload and eventPayload mirror the Events API callback shape.
type eventsAPIPayload struct {
	Event eventPayload `json:"event"`
}

type eventPayload struct {
	Type        string `json:"type"`
	SubType     string `json:"subtype"`
	ChannelType string `json:"channel_type"`
	Channel     string `json:"channel"`
	User        string `json:"user"`
	BotID       string `json:"bot_id"`
	Text        string `json:"text"`
	TS          string `json:"ts"`
	ThreadTS    string `json:"thread_ts"`
}

// handleEventsAPI maps an Events API callback to a channels.Event and
// forwards it. Unroutable events are dropped silently.
func (s *Slack) handleEventsAPI(payload json.RawMessage) {
	var cb eventsAPIPayload
	if err := json.Unmarshal(payload, &cb); err != nil {
		s.logger.Warn("slack: bad events_api payload", "error", err)
		return
	}

	ev := s.mapEvent(cb.Event)
	if ev == nil {
		return
	}

	s.lastEvent.Store(time.Now())
	s.errorCount.Store(0)

	select {
	case s.events <- ev:
	default:
		s.logger.Warn("slack: event buffer full, dropping", "ts", ev.EventTS)
	}
}

// mapEvent classifies a raw Slack event into one of the three event
// kinds, or nil if the event should be ignored.
func (s *Slack) mapEvent(raw eventPayload) *channels.Event {
	// Skip bot-authored and synthetic messages.
	if raw.BotID != "" || raw.SubType != "" {
		return nil
	}
	if raw.User == "" || raw.User == s.botUserID {
		return nil
	}
	if !s.channelAllowed(raw.Channel) {
		return nil
	}

	base := channels.Event{
		Source:    s.Name(),
		ChannelID: raw.Channel,
		UserID:    raw.User,
		EventTS:   raw.TS,
		Text:      raw.Text,
		BotUserID: s.botUserID,
	}

	switch raw.Type {
	case "message":
		if raw.ChannelType == "im" {
			base.Kind = channels.EventIM
			// DM threads root at the first message.
			base.ThreadTS = raw.ThreadTS
			if base.ThreadTS == "" {
				base.ThreadTS = raw.TS
			}
			return &base
		}
		// Channel messages only matter inside threads. App mentions in
		// channels arrive separately as app_mention events.
		if raw.ThreadTS != "" && raw.ThreadTS != raw.TS {
			base.Kind = channels.EventThreadReply
			base.ThreadTS = raw.ThreadTS
			return &base
		}
		return nil

	case "app_mention":
		// Mentions inside existing threads arrive again as plain thread
		// messages; handling them here would double-process.
		if raw.ThreadTS != "" && raw.ThreadTS != raw.TS {
			return nil
		}
		base.Kind = channels.EventMention
		base.ThreadTS = raw.TS
		return &base
	}

	return nil
}

// channelAllowed applies the allowed_channels filter.
func (s *Slack) channelAllowed(channelID string) bool {
	if len(s.cfg.AllowedChannels) == 0 {
		return true
	}
	for _, id := range s.cfg.AllowedChannels {
		if id == channelID {
			return true
		}
	}
	return false
}

// ---------- Slack API Types ----------

type slackAuthIdentity struct {
	UserID string `json:"user_id"`
	User   string `json:"user"`
	Team   string `json:"team"`
	TeamID string `json:"team_id"`
}

type slackMessage struct {
	TS       string `json:"ts"`
	User     string `json:"user"`
	BotID    string `json:"bot_id"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts"`
}

// ---------- API Helpers ----------

// apiCall makes a POST request to the Slack Web API.
func (s *Slack) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	endpoint := s.cfg.APIBaseURL + "/" + method
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("slack: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("slack: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+s.cfg.BotToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("slack: reading %s response: %w", method, err)
	}

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("slack: decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("slack: %s: %s", method, result.Error)
	}
	return respBody, nil
}

// authTest verifies the bot token and returns identity info.
func (s *Slack) authTest() (*slackAuthIdentity, error) {
	data, err := s.apiCall(s.ctx, "auth.test", map[string]any{})
	if err != nil {
		return nil, err
	}
	var identity slackAuthIdentity
	if err := json.Unmarshal(data, &identity); err != nil {
		return nil, fmt.Errorf("slack: parsing auth.test: %w", err)
	}
	return &identity, nil
}

// ParseTS converts a Slack ts string to a time.Time.
func ParseTS(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// PermalinkFor builds a best-effort message permalink for logs.
func PermalinkFor(teamDomain, channelID, ts string) string {
	p := "p" + stripDot(ts)
	return fmt.Sprintf("https://%s.slack.com/archives/%s/%s",
		url.PathEscape(teamDomain), url.PathEscape(channelID), p)
}

func stripDot(ts string) string {
	out := make([]byte, 0, len(ts))
	for i := 0; i < len(ts); i++ {
		if ts[i] != '.' {
			out = append(out, ts[i])
		}
	}
	return string(out)
}
