// Package assistant wires chat-platform events to an external agent
// subprocess. Each incoming event is aggregated into a conversation
// context, handed to the agent inside a per-thread session directory,
// and the agent's replies are posted back into the originating thread
// until the agent declares the conversation finished.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/threadclaw/threadclaw/pkg/threadclaw/channels"
)

// ErrNotReady is returned when an event arrives before Start completed.
var ErrNotReady = errors.New("assistant: not ready, call Start first")

// Assistant is the orchestrator. Construct with NewAssistant, then call
// Start to connect channels and begin processing. Construction never
// touches the network; all I/O happens in Start.
type Assistant struct {
	cfg     *Config
	logger  *slog.Logger
	manager *channels.Manager

	invoker    Invoker
	sessions   *SessionStore
	aggregator *Aggregator
	seen       SeenStore
	dedupe     *Deduper
	runLog     *RunLog

	ready  atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAssistant builds an orchestrator from its collaborators. The seen
// store decides first-interaction greetings; pass a MemorySeenStore when
// no database is wanted. runLog may be nil.
func NewAssistant(cfg *Config, manager *channels.Manager, invoker Invoker, seen SeenStore, runLog *RunLog, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "assistant")

	ttl := time.Duration(cfg.Dedupe.TTLMinutes) * time.Minute

	return &Assistant{
		cfg:        cfg,
		logger:     logger,
		manager:    manager,
		invoker:    invoker,
		sessions:   NewSessionStore(cfg.Sessions, logger),
		aggregator: NewAggregator(manager, seen, logger),
		seen:       seen,
		dedupe:     NewDeduper(ttl, logger),
		runLog:     runLog,
	}
}

// Start connects all registered channels and begins consuming events.
// The assistant only reports ready once every startup step succeeded;
// events delivered before that return ErrNotReady.
func (a *Assistant) Start(ctx context.Context) error {
	if a.ready.Load() {
		return nil
	}

	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.manager.Start(a.ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}

	a.dedupe.StartJanitor()

	a.wg.Add(1)
	go a.eventLoop()

	a.ready.Store(true)
	a.logger.Info("assistant started",
		"max_iterations", a.cfg.Loop.MaxIterations,
		"agent", a.cfg.Agent.Command)
	return nil
}

// Stop shuts the assistant down: channels disconnect, the event loop
// drains, and in-flight handlers finish.
func (a *Assistant) Stop() {
	if !a.ready.Load() {
		return
	}
	a.ready.Store(false)

	a.cancel()
	a.manager.Stop()
	a.wg.Wait()
	a.dedupe.Stop()
	a.logger.Info("assistant stopped")
}

// Ready reports whether Start completed.
func (a *Assistant) Ready() bool { return a.ready.Load() }

// eventLoop consumes events from the channel manager until shutdown.
func (a *Assistant) eventLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case ev, ok := <-a.manager.Events():
			if !ok {
				return
			}
			if ev == nil {
				continue
			}
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				if err := a.Handle(a.ctx, ev); err != nil {
					a.logger.Error("event handling failed",
						"source", ev.Source, "ts", ev.EventTS, "error", err)
				}
			}()
		}
	}
}

// Handle runs the full orchestration cycle for one event: dedupe,
// context aggregation, session preparation, and the invoke/judge loop.
func (a *Assistant) Handle(ctx context.Context, ev *channels.Event) error {
	if !a.ready.Load() {
		return ErrNotReady
	}

	dedupeKey := ev.Source + ":" + ev.EventTS
	if a.dedupe.Seen(dedupeKey) {
		a.logger.Debug("duplicate event skipped", "key", dedupeKey)
		return nil
	}

	if a.cfg.Loop.TurnTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(a.cfg.Loop.TurnTimeoutSeconds)*time.Second)
		defer cancel()
	}

	runID := uuid.NewString()
	start := time.Now()
	logger := a.logger.With("run_id", runID, "source", ev.Source, "kind", string(ev.Kind), "thread_ts", ev.ThreadTS)

	cc, err := a.aggregator.BuildContext(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrEventDropped) {
			logger.Debug("event dropped, bot not addressed")
			return nil
		}
		return err
	}

	// One orchestration run per thread at a time.
	unlock := a.sessions.Lock(ev.Source + ":" + ev.ThreadTS)
	defer unlock()

	sessionDir, err := a.sessions.Ensure(ev.ThreadTS)
	if err != nil {
		// Degrade to a stateless invocation rather than losing the turn.
		logger.Warn("session unavailable, running stateless", "error", err)
		sessionDir = ""
	}

	prompt := buildPrompt(cc, ev)
	iterations, verdict, runErr := a.runLoop(ctx, logger, ev, sessionDir, prompt)

	if cc.IsFirstInteraction && runErr == nil && a.seen != nil {
		a.seen.Record(ev.UserID)
	}

	a.runLog.Append(runID, ev.Source, ev.ThreadTS, string(ev.Kind), iterations, verdict, time.Since(start))

	return runErr
}

// runLoop drives the invoke / reply / judge cycle until the agent
// finishes, the iteration cap is hit, or something fails.
func (a *Assistant) runLoop(ctx context.Context, logger *slog.Logger, ev *channels.Event, sessionDir, prompt string) (int, Verdict, error) {
	maxIter := a.cfg.Loop.MaxIterations
	if maxIter <= 0 {
		maxIter = 1
	}

	var verdict Verdict
	for i := 1; i <= maxIter; i++ {
		out, err := a.invoker.Invoke(ctx, &Invocation{
			Prompt:    prompt,
			ChannelID: ev.ChannelID,
			ThreadTS:  ev.ThreadTS,
			Dir:       sessionDir,
		})
		if err != nil {
			var execErr *AgentExecutionError
			if errors.As(err, &execErr) {
				logger.Error("agent execution failed",
					"iteration", i, "exit_code", execErr.ExitCode, "stderr", truncate(execErr.Stderr, 2000))
			} else {
				logger.Error("agent invocation failed", "iteration", i, "error", err)
			}
			a.postOrLog(ctx, logger, ev, a.cfg.Loop.ApologyReply)
			return i, verdict, err
		}

		reply := StripMarker(out.Stdout)
		verdict = Judge(out.Stdout)

		if reply != "" {
			if err := a.manager.PostReply(ctx, ev.Source, ev.ChannelID, ev.ThreadTS, reply); err != nil {
				logger.Error("posting reply failed", "iteration", i, "error", err)
				return i, verdict, err
			}
		}

		logger.Info("iteration complete", "iteration", i, "verdict", string(verdict))

		switch verdict {
		case VerdictCompleted, VerdictAnswerRequired:
			return i, verdict, nil
		case VerdictContinue:
			prompt = appendAssistantTurn(prompt, reply)
		}
	}

	logger.Warn("iteration cap reached", "max_iterations", maxIter)
	a.postOrLog(ctx, logger, ev, a.cfg.Loop.StillWorkingReply)
	return maxIter, VerdictContinue, nil
}

// postOrLog posts a fixed reply, logging instead of failing when the
// platform rejects it.
func (a *Assistant) postOrLog(ctx context.Context, logger *slog.Logger, ev *channels.Event, text string) {
	if text == "" {
		return
	}
	if err := a.manager.PostReply(ctx, ev.Source, ev.ChannelID, ev.ThreadTS, text); err != nil {
		logger.Warn("posting fallback reply failed", "error", err)
	}
}

// ---------- Prompt Assembly ----------

// buildPrompt renders the conversation context into the prompt handed to
// the agent. Platform mention markup is stripped so the agent sees plain
// text.
func buildPrompt(cc *ConversationContext, ev *channels.Event) string {
	var sb strings.Builder

	if cc.IsFirstInteraction {
		sb.WriteString("This is your first conversation with this user. Greet them briefly before answering.\n\n")
	}

	if len(cc.History) > 0 {
		sb.WriteString("Conversation so far:\n")
		for _, entry := range cc.History {
			sb.WriteString(fmt.Sprintf("[%s] %s: %s\n", entry.Role, entry.User, CleanMentions(entry.Text)))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("New message from %s:\n%s", cc.UserID, CleanMentions(ev.Text)))
	return sb.String()
}

// appendAssistantTurn extends the prompt with the agent's own reply so a
// continued invocation sees what it already said.
func appendAssistantTurn(prompt, reply string) string {
	if reply == "" {
		return prompt
	}
	return prompt + "\n\n[assistant] you replied:\n" + reply + "\n\nContinue working on the request."
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
