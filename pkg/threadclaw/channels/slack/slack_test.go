package slack

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/threadclaw/threadclaw/pkg/threadclaw/channels"
)

func testSlack(cfg Config) *Slack {
	s := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.botUserID = "UBOT"
	s.connected.Store(true)
	s.ctx = context.Background()
	return s
}

func TestMapEventClassification(t *testing.T) {
	s := testSlack(DefaultConfig())

	cases := []struct {
		name string
		raw  eventPayload
		want channels.EventKind
		drop bool
	}{
		{
			name: "direct message",
			raw:  eventPayload{Type: "message", ChannelType: "im", Channel: "D1", User: "U1", TS: "1.1", Text: "hi"},
			want: channels.EventIM,
		},
		{
			name: "threaded reply in channel",
			raw:  eventPayload{Type: "message", ChannelType: "channel", Channel: "C1", User: "U1", TS: "1.2", ThreadTS: "1.1", Text: "more"},
			want: channels.EventThreadReply,
		},
		{
			name: "mention outside thread",
			raw:  eventPayload{Type: "app_mention", Channel: "C1", User: "U1", TS: "1.3", Text: "<@UBOT> help"},
			want: channels.EventMention,
		},
		{
			name: "mention inside thread is dropped",
			raw:  eventPayload{Type: "app_mention", Channel: "C1", User: "U1", TS: "1.4", ThreadTS: "1.1", Text: "<@UBOT> help"},
			drop: true,
		},
		{
			name: "non-threaded channel message is dropped",
			raw:  eventPayload{Type: "message", ChannelType: "channel", Channel: "C1", User: "U1", TS: "1.5", Text: "chatter"},
			drop: true,
		},
		{
			name: "bot message is dropped",
			raw:  eventPayload{Type: "message", ChannelType: "im", Channel: "D1", BotID: "B1", User: "U1", TS: "1.6"},
			drop: true,
		},
		{
			name: "own message is dropped",
			raw:  eventPayload{Type: "message", ChannelType: "im", Channel: "D1", User: "UBOT", TS: "1.7"},
			drop: true,
		},
		{
			name: "subtype message is dropped",
			raw:  eventPayload{Type: "message", SubType: "message_changed", ChannelType: "im", Channel: "D1", User: "U1", TS: "1.8"},
			drop: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := s.mapEvent(tc.raw)
			if tc.drop {
				if ev != nil {
					t.Errorf("expected drop, got %+v", ev)
				}
				return
			}
			if ev == nil {
				t.Fatal("event unexpectedly dropped")
			}
			if ev.Kind != tc.want {
				t.Errorf("kind = %q, want %q", ev.Kind, tc.want)
			}
			if ev.BotUserID != "UBOT" {
				t.Errorf("bot user id = %q", ev.BotUserID)
			}
		})
	}
}

func TestMapEventIMThreadRoots(t *testing.T) {
	s := testSlack(DefaultConfig())

	// A fresh DM roots its own thread.
	ev := s.mapEvent(eventPayload{Type: "message", ChannelType: "im", Channel: "D1", User: "U1", TS: "5.1", Text: "hi"})
	if ev.ThreadTS != "5.1" {
		t.Errorf("fresh DM thread_ts = %q, want own ts", ev.ThreadTS)
	}

	// A threaded DM keeps the existing root.
	ev = s.mapEvent(eventPayload{Type: "message", ChannelType: "im", Channel: "D1", User: "U1", TS: "5.2", ThreadTS: "5.1", Text: "more"})
	if ev.ThreadTS != "5.1" {
		t.Errorf("threaded DM thread_ts = %q, want root", ev.ThreadTS)
	}
}

func TestMapEventAllowedChannelsFilter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedChannels = []string{"C1"}
	s := testSlack(cfg)

	if ev := s.mapEvent(eventPayload{Type: "app_mention", Channel: "C1", User: "U1", TS: "1.1"}); ev == nil {
		t.Error("allowed channel was filtered")
	}
	if ev := s.mapEvent(eventPayload{Type: "app_mention", Channel: "C2", User: "U1", TS: "1.2"}); ev != nil {
		t.Error("disallowed channel passed the filter")
	}
}

func TestPostReplyThreadsTheMessage(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer xoxb-test" {
			t.Errorf("auth header = %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BotToken = "xoxb-test"
	cfg.APIBaseURL = server.URL
	s := testSlack(cfg)

	if err := s.PostReply(context.Background(), "C1", "1.000001", "hello"); err != nil {
		t.Fatalf("PostReply: %v", err)
	}
	if got["channel"] != "C1" || got["thread_ts"] != "1.000001" || got["text"] != "hello" {
		t.Errorf("payload = %v", got)
	}
}

func TestPostReplySurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok": false, "error": "channel_not_found"}`))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BotToken = "xoxb-test"
	cfg.APIBaseURL = server.URL
	s := testSlack(cfg)

	err := s.PostReply(context.Background(), "C1", "1.000001", "hello")
	if err == nil {
		t.Fatal("expected error from failed API call")
	}
}

func TestFetchThreadHistoryPaginates(t *testing.T) {
	pages := []string{
		`{"ok": true, "messages": [{"ts": "1.1", "user": "U1", "text": "root"}], "response_metadata": {"next_cursor": "c2"}}`,
		`{"ok": true, "messages": [{"ts": "1.2", "user": "UBOT", "text": "reply"}], "response_metadata": {"next_cursor": ""}}`,
	}
	call := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations.replies" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if call == 1 && payload["cursor"] != "c2" {
			t.Errorf("second call cursor = %v", payload["cursor"])
		}
		_, _ = w.Write([]byte(pages[call]))
		call++
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BotToken = "xoxb-test"
	cfg.APIBaseURL = server.URL
	s := testSlack(cfg)

	records, err := s.FetchThreadHistory(context.Background(), "C1", "1.1")
	if err != nil {
		t.Fatalf("FetchThreadHistory: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %v", records)
	}
	if records[0].TS != "1.1" || records[1].User != "UBOT" {
		t.Errorf("records = %v", records)
	}
}

func TestParseTS(t *testing.T) {
	ts := ParseTS("1700000000.500000")
	if ts.Unix() != 1700000000 {
		t.Errorf("seconds = %d", ts.Unix())
	}
	if ts.Nanosecond() == 0 {
		t.Error("fractional part lost")
	}
	if !ParseTS("garbage").Equal(time.Time{}) {
		t.Error("malformed ts should parse to zero time")
	}
}

func TestPermalinkFor(t *testing.T) {
	got := PermalinkFor("acme", "C1", "1700000000.500000")
	want := "https://acme.slack.com/archives/C1/p1700000000500000"
	if got != want {
		t.Errorf("permalink = %q, want %q", got, want)
	}
}
