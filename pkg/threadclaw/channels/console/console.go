// Package console implements an interactive terminal channel, used by
// the chat command for local testing without a real chat platform.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"

	"github.com/threadclaw/threadclaw/pkg/threadclaw/channels"
)

const (
	consoleChannelID = "console"
	consoleUserID    = "local"
	consoleBotID     = "THREADCLAW"
)

// Console implements channels.Channel over a readline prompt. Every
// line typed becomes a direct-message event in a single conversation.
type Console struct {
	logger *slog.Logger
	rl     *readline.Instance
	events chan *channels.Event

	// threadTS roots the single console conversation.
	threadTS string

	// history keeps the transcript so FetchThreadHistory works like a
	// real platform.
	mu      sync.Mutex
	history []channels.MessageRecord

	connected atomic.Bool
	lastEvent atomic.Value // time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a console channel.
func New(logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		logger:   logger.With("component", "console"),
		events:   make(chan *channels.Event, 16),
		threadTS: fmt.Sprintf("%d.000000", time.Now().Unix()),
	}
}

// Name returns "console".
func (c *Console) Name() string { return "console" }

// Connect starts the readline loop.
func (c *Console) Connect(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("console: initializing readline: %w", err)
	}
	c.rl = rl
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.connected.Store(true)

	c.wg.Add(1)
	go c.readLoop()

	return nil
}

// Disconnect stops the readline loop.
func (c *Console) Disconnect() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.rl != nil {
		c.rl.Close()
	}
	c.wg.Wait()
	c.connected.Store(false)
	return nil
}

// Events returns the incoming events channel.
func (c *Console) Events() <-chan *channels.Event {
	return c.events
}

// PostReply prints the reply and records it in the transcript.
func (c *Console) PostReply(_ context.Context, _, _ string, text string) error {
	if !c.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	fmt.Fprintf(c.rl.Stdout(), "bot> %s\n", text)
	c.record(consoleBotID, text)
	return nil
}

// FetchThreadHistory returns the accumulated transcript.
func (c *Console) FetchThreadHistory(_ context.Context, _, _ string) ([]channels.MessageRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]channels.MessageRecord, len(c.history))
	copy(out, c.history)
	return out, nil
}

// BotUserID returns the console bot identity.
func (c *Console) BotUserID() string { return consoleBotID }

// IsConnected reports whether the prompt is active.
func (c *Console) IsConnected() bool { return c.connected.Load() }

// Health returns the channel health status.
func (c *Console) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := c.lastEvent.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:   c.connected.Load(),
		LastEventAt: lastAt,
	}
}

// ---------- Internal ----------

func (c *Console) readLoop() {
	defer c.wg.Done()
	seq := 0

	for {
		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				c.logger.Info("console: input closed")
			} else if c.ctx.Err() == nil {
				c.logger.Warn("console: read error", "error", err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		seq++
		ts := c.threadTS[:strings.IndexByte(c.threadTS, '.')] + "." + pad6(seq)
		c.record(consoleUserID, line)
		c.lastEvent.Store(time.Now())

		ev := &channels.Event{
			Kind:      channels.EventIM,
			Source:    c.Name(),
			ChannelID: consoleChannelID,
			UserID:    consoleUserID,
			ThreadTS:  c.threadTS,
			EventTS:   ts,
			Text:      line,
			BotUserID: consoleBotID,
		}

		select {
		case c.events <- ev:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Console) record(user, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, channels.MessageRecord{
		User: user,
		Text: text,
		TS:   fmt.Sprintf("%d.%06d", time.Now().Unix(), len(c.history)),
	})
}

func pad6(n int) string {
	s := strconv.Itoa(n)
	for len(s) < 6 {
		s = "0" + s
	}
	return s
}
