// context.go builds the bounded, ordered conversational context handed to
// the agent for each incoming event. History is a quality enhancement, not a
// correctness requirement: when the platform history query fails the
// aggregator degrades to an empty-history context instead of aborting.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/threadclaw/threadclaw/pkg/threadclaw/channels"
)

// mentionPattern matches raw user-mention tokens like <@U12345>.
var mentionPattern = regexp.MustCompile(`<@[A-Z0-9_]+>`)

// ConversationContext is the aggregate built per event. It is constructed
// fresh for each orchestration cycle and discarded afterwards; cross-turn
// state lives in the session directory, never in memory.
type ConversationContext struct {
	Kind      channels.EventKind
	UserID    string
	ChannelID string
	ThreadTS  string

	// History is the prior-thread transcript, sorted ascending by numeric
	// timestamp with no duplicate timestamps.
	History []TranscriptEntry

	// IsFirstInteraction is true for the first event ever seen from this
	// user.
	IsFirstInteraction bool
}

// TranscriptEntry is one role-tagged historical message.
type TranscriptEntry struct {
	// Role is "assistant" for bot-authored messages, "user" otherwise.
	Role string

	User string
	Text string
	TS   string
}

// UpstreamFetchError wraps a failed chat-platform history query.
type UpstreamFetchError struct {
	Channel string
	Err     error
}

func (e *UpstreamFetchError) Error() string {
	return fmt.Sprintf("fetching history from %s: %v", e.Channel, e.Err)
}

func (e *UpstreamFetchError) Unwrap() error { return e.Err }

// ErrEventDropped is returned for thread replies in threads the bot never
// participated in and that carry no direct mention. Dropping them keeps the
// bot from spontaneously joining unrelated threads.
var ErrEventDropped = fmt.Errorf("event dropped: bot not addressed in thread")

// HistoryFetcher is the platform collaborator the aggregator reads from.
type HistoryFetcher interface {
	FetchThreadHistory(ctx context.Context, channelName, channelID, threadRootTS string) ([]channels.MessageRecord, error)
}

// Aggregator builds conversation contexts from events and platform history.
type Aggregator struct {
	fetcher HistoryFetcher
	seen    SeenStore
	logger  *slog.Logger
}

// NewAggregator creates a context aggregator.
func NewAggregator(fetcher HistoryFetcher, seen SeenStore, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{fetcher: fetcher, seen: seen, logger: logger}
}

// BuildContext assembles the conversational context for one event.
// Returns ErrEventDropped for thread replies the bot has no business in.
func (a *Aggregator) BuildContext(ctx context.Context, ev *channels.Event) (*ConversationContext, error) {
	cc := &ConversationContext{
		Kind:      ev.Kind,
		UserID:    ev.UserID,
		ChannelID: ev.ChannelID,
		ThreadTS:  ev.ThreadTS,
	}
	if a.seen != nil {
		cc.IsFirstInteraction = !a.seen.Has(ev.UserID)
	}

	switch ev.Kind {
	case channels.EventMention:
		// A mention outside a thread starts a new thread; there is no
		// prior history to aggregate.
		return cc, nil

	case channels.EventIM:
		history := a.fetchHistory(ctx, ev)
		cc.History = tagRoles(history, ev.BotUserID)
		return cc, nil

	case channels.EventThreadReply:
		history := a.fetchHistory(ctx, ev)

		botParticipated := false
		for _, msg := range history {
			if msg.User == ev.BotUserID {
				botParticipated = true
				break
			}
		}
		if !botParticipated && !mentionsUser(ev.Text, ev.BotUserID) {
			return nil, ErrEventDropped
		}

		cc.History = tagRoles(filterThreadHistory(history, ev.BotUserID), ev.BotUserID)
		return cc, nil

	default:
		return nil, fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// fetchHistory queries the platform and degrades to empty history on error.
func (a *Aggregator) fetchHistory(ctx context.Context, ev *channels.Event) []channels.MessageRecord {
	history, err := a.fetcher.FetchThreadHistory(ctx, ev.Source, ev.ChannelID, ev.ThreadTS)
	if err != nil {
		ferr := &UpstreamFetchError{Channel: ev.Source, Err: err}
		a.logger.Warn("history fetch failed, continuing with empty history",
			"channel", ev.Source,
			"thread_ts", ev.ThreadTS,
			"error", ferr,
		)
		return nil
	}
	return normalizeHistory(history)
}

// normalizeHistory sorts records ascending by numeric timestamp and drops
// duplicate timestamps, keeping the first occurrence.
func normalizeHistory(records []channels.MessageRecord) []channels.MessageRecord {
	out := make([]channels.MessageRecord, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		if r.TS == "" || r.User == "" || seen[r.TS] {
			continue
		}
		seen[r.TS] = true
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return tsValue(out[i].TS) < tsValue(out[j].TS)
	})
	return out
}

// filterThreadHistory keeps the messages relevant to the bot's thread
// participation: anything authored by the bot, anything directly mentioning
// it, and everything after the bot's first message in the thread.
func filterThreadHistory(records []channels.MessageRecord, botUserID string) []channels.MessageRecord {
	var out []channels.MessageRecord
	botSpoke := false
	for _, r := range records {
		if r.User == botUserID {
			botSpoke = true
			out = append(out, r)
			continue
		}
		if botSpoke || mentionsUser(r.Text, botUserID) {
			out = append(out, r)
		}
	}
	return out
}

// tagRoles converts raw records into role-tagged transcript entries.
func tagRoles(records []channels.MessageRecord, botUserID string) []TranscriptEntry {
	entries := make([]TranscriptEntry, 0, len(records))
	for _, r := range records {
		role := "user"
		if r.User == botUserID {
			role = "assistant"
		}
		entries = append(entries, TranscriptEntry{
			Role: role,
			User: r.User,
			Text: r.Text,
			TS:   r.TS,
		})
	}
	return entries
}

// mentionsUser reports whether text carries a direct <@ID> mention of userID.
func mentionsUser(text, userID string) bool {
	return userID != "" && strings.Contains(text, "<@"+userID+">")
}

// CleanMentions strips raw user-mention tokens from text so the agent never
// has to parse platform markup.
func CleanMentions(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}

// tsValue converts a platform timestamp string ("1234567890.123456") to a
// comparable float. Malformed timestamps sort first.
func tsValue(ts string) float64 {
	v, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return 0
	}
	return v
}
