package assistant

import (
	"context"
	"sync"
	"testing"

	"github.com/threadclaw/threadclaw/pkg/threadclaw/channels"
)

// fakeChannel is an in-memory channels.Channel for orchestration tests.
type fakeChannel struct {
	mu      sync.Mutex
	replies []string
	history []channels.MessageRecord
	events  chan *channels.Event
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan *channels.Event, 8)}
}

func (f *fakeChannel) Name() string { return "slack" }

func (f *fakeChannel) Connect(context.Context) error { return nil }

func (f *fakeChannel) Disconnect() error { return nil }

func (f *fakeChannel) Events() <-chan *channels.Event { return f.events }

func (f *fakeChannel) BotUserID() string { return "UBOT" }

func (f *fakeChannel) IsConnected() bool { return true }

func (f *fakeChannel) Health() channels.HealthStatus {
	return channels.HealthStatus{Connected: true}
}

func (f *fakeChannel) PostReply(_ context.Context, _, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	return nil
}

func (f *fakeChannel) FetchThreadHistory(context.Context, string, string) ([]channels.MessageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

func (f *fakeChannel) Replies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.replies))
	copy(out, f.replies)
	return out
}

// scriptedInvoker returns canned outputs in order, repeating the last one.
type scriptedInvoker struct {
	mu      sync.Mutex
	outputs []string
	err     error
	calls   int
}

func (s *scriptedInvoker) Invoke(_ context.Context, _ *Invocation) (*AgentOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	idx := s.calls - 1
	if idx >= len(s.outputs) {
		idx = len(s.outputs) - 1
	}
	return &AgentOutput{Stdout: s.outputs[idx]}, nil
}

func (s *scriptedInvoker) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testAssistant(t *testing.T, invoker Invoker) (*Assistant, *fakeChannel, SeenStore) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Loop.MaxIterations = 3
	cfg.Loop.TurnTimeoutSeconds = 30
	cfg.Sessions.Dir = t.TempDir()

	fc := newFakeChannel()
	manager := channels.NewManager(testLogger())
	if err := manager.Register(fc); err != nil {
		t.Fatal(err)
	}

	seen := NewMemorySeenStore()
	bot := NewAssistant(cfg, manager, invoker, seen, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := bot.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(bot.Stop)

	return bot, fc, seen
}

func testEvent(ts string) *channels.Event {
	return &channels.Event{
		Kind:      channels.EventIM,
		Source:    "slack",
		ChannelID: "D1",
		UserID:    "U100",
		ThreadTS:  "100.000001",
		EventTS:   ts,
		Text:      "do the thing",
		BotUserID: "UBOT",
	}
}

func TestHandleCompletedPostsSingleReply(t *testing.T) {
	invoker := &scriptedInvoker{outputs: []string{"All done.\n{\"result\": \"completed\"}"}}
	bot, fc, _ := testAssistant(t, invoker)

	if err := bot.Handle(context.Background(), testEvent("1.000001")); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	replies := fc.Replies()
	if len(replies) != 1 || replies[0] != "All done." {
		t.Errorf("replies = %v", replies)
	}
	if invoker.Calls() != 1 {
		t.Errorf("invocations = %d, want 1", invoker.Calls())
	}
}

func TestHandleContinueReinvokesUntilDone(t *testing.T) {
	invoker := &scriptedInvoker{outputs: []string{
		"Step one.\n{\"result\": \"continue\"}",
		"Step two, finished.\n{\"result\": \"completed\"}",
	}}
	bot, fc, _ := testAssistant(t, invoker)

	if err := bot.Handle(context.Background(), testEvent("1.000002")); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if invoker.Calls() != 2 {
		t.Errorf("invocations = %d, want 2", invoker.Calls())
	}
	replies := fc.Replies()
	if len(replies) != 2 {
		t.Fatalf("replies = %v", replies)
	}
}

func TestHandleIterationCapPostsStillWorking(t *testing.T) {
	invoker := &scriptedInvoker{outputs: []string{"More.\n{\"result\": \"continue\"}"}}
	bot, fc, _ := testAssistant(t, invoker)

	if err := bot.Handle(context.Background(), testEvent("1.000003")); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if invoker.Calls() != 3 {
		t.Errorf("invocations = %d, want max_iterations=3", invoker.Calls())
	}
	replies := fc.Replies()
	if len(replies) != 4 {
		t.Fatalf("replies = %v, want 3 agent replies plus still-working", replies)
	}
	if replies[3] != DefaultConfig().Loop.StillWorkingReply {
		t.Errorf("last reply = %q, want still-working notice", replies[3])
	}
}

func TestHandleAgentFailurePostsApology(t *testing.T) {
	invoker := &scriptedInvoker{err: &AgentExecutionError{ExitCode: 2, Stderr: "boom"}}
	bot, fc, _ := testAssistant(t, invoker)

	if err := bot.Handle(context.Background(), testEvent("1.000004")); err == nil {
		t.Fatal("expected error from failed agent")
	}

	replies := fc.Replies()
	if len(replies) != 1 || replies[0] != DefaultConfig().Loop.ApologyReply {
		t.Errorf("replies = %v, want apology", replies)
	}
}

func TestHandleDeduplicatesEvents(t *testing.T) {
	invoker := &scriptedInvoker{outputs: []string{"Done.\n{\"result\": \"completed\"}"}}
	bot, _, _ := testAssistant(t, invoker)

	ev := testEvent("1.000005")
	if err := bot.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := bot.Handle(context.Background(), ev); err != nil {
		t.Fatalf("second Handle: %v", err)
	}

	if invoker.Calls() != 1 {
		t.Errorf("invocations = %d, want duplicate skipped", invoker.Calls())
	}
}

func TestHandleRecordsFirstInteraction(t *testing.T) {
	invoker := &scriptedInvoker{outputs: []string{"Hi!\n{\"result\": \"completed\"}"}}
	bot, _, seen := testAssistant(t, invoker)

	if seen.Has("U100") {
		t.Fatal("user unexpectedly pre-seen")
	}
	if err := bot.Handle(context.Background(), testEvent("1.000006")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !seen.Has("U100") {
		t.Error("user not recorded after successful run")
	}
}

func TestHandleDropsUnaddressedThreadReply(t *testing.T) {
	invoker := &scriptedInvoker{outputs: []string{"x\n{\"result\": \"completed\"}"}}
	bot, fc, _ := testAssistant(t, invoker)

	fc.history = []channels.MessageRecord{
		{User: "U200", Text: "humans only", TS: "1.000001"},
	}

	ev := testEvent("1.000007")
	ev.Kind = channels.EventThreadReply
	if err := bot.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle should swallow dropped events: %v", err)
	}
	if invoker.Calls() != 0 {
		t.Errorf("invocations = %d, want 0 for dropped event", invoker.Calls())
	}
}

func TestHandleBeforeStartReturnsNotReady(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sessions.Dir = t.TempDir()
	manager := channels.NewManager(testLogger())
	bot := NewAssistant(cfg, manager, &scriptedInvoker{}, NewMemorySeenStore(), nil, testLogger())

	err := bot.Handle(context.Background(), testEvent("1.000008"))
	if err != ErrNotReady {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
}
