// manager.go aggregates multiple chat channels behind a single event stream
// and routes replies and history queries back to the channel that delivered
// the originating event.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Manager orchestrates the registered channels, merging their incoming
// events into one stream and routing outbound calls by channel name.
type Manager struct {
	// channels holds all registered channels, indexed by name.
	channels map[string]Channel

	// events is the aggregated stream fed by every connected channel.
	events chan *Event

	logger *slog.Logger

	// listenWg tracks listener goroutines for safe shutdown.
	listenWg sync.WaitGroup

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a channel manager with the given logger.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		channels: make(map[string]Channel),
		events:   make(chan *Event, 256),
		logger:   logger,
	}
}

// Register adds a channel to the manager. Must be called before Start.
func (m *Manager) Register(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := ch.Name()
	if _, exists := m.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}

	m.channels[name] = ch
	m.logger.Info("channel registered", "channel", name)
	return nil
}

// Start connects all registered channels and begins listening for events.
// Channels that fail to connect are logged but do not block the rest.
// Returns nil if at least one channel connected or none were registered.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	// Snapshot under lock to avoid racing with Register.
	m.mu.RLock()
	snapshot := make(map[string]Channel, len(m.channels))
	for k, v := range m.channels {
		snapshot[k] = v
	}
	m.mu.RUnlock()

	if len(snapshot) == 0 {
		m.logger.Warn("no channels registered, running without event sources")
		return nil
	}

	var connected int
	for name, ch := range snapshot {
		if err := ch.Connect(m.ctx); err != nil {
			m.logger.Error("failed to connect channel",
				"channel", name,
				"error", err,
			)
			continue
		}

		connected++
		m.logger.Info("channel connected", "channel", name, "bot_user_id", ch.BotUserID())

		m.listenWg.Add(1)
		go func(c Channel) {
			defer m.listenWg.Done()
			m.listenChannel(c)
		}(ch)
	}

	if connected == 0 {
		return fmt.Errorf("no channel connected successfully")
	}

	m.logger.Info("channel manager started", "channels_connected", connected)
	return nil
}

// Stop disconnects all channels gracefully. Waits for listener goroutines
// to finish before closing the aggregated event stream.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}

	m.listenWg.Wait()

	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, ch := range m.channels {
		if err := ch.Disconnect(); err != nil {
			m.logger.Error("error disconnecting channel",
				"channel", name,
				"error", err,
			)
		}
	}

	close(m.events)
	m.logger.Info("channel manager stopped")
}

// Events returns the aggregated event stream from all channels.
func (m *Manager) Events() <-chan *Event {
	return m.events
}

// PostReply posts a threaded reply through the named channel.
func (m *Manager) PostReply(ctx context.Context, channelName, channelID, threadTS, text string) error {
	ch, err := m.connectedChannel(channelName)
	if err != nil {
		return err
	}
	return ch.PostReply(ctx, channelID, threadTS, text)
}

// FetchThreadHistory fetches thread history through the named channel.
func (m *Manager) FetchThreadHistory(ctx context.Context, channelName, channelID, threadRootTS string) ([]MessageRecord, error) {
	ch, err := m.connectedChannel(channelName)
	if err != nil {
		return nil, err
	}
	return ch.FetchThreadHistory(ctx, channelID, threadRootTS)
}

// Channel returns a registered channel by name.
func (m *Manager) Channel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// HealthAll returns the health status of every registered channel.
func (m *Manager) HealthAll() map[string]HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]HealthStatus, len(m.channels))
	for name, ch := range m.channels {
		statuses[name] = ch.Health()
	}
	return statuses
}

// HasChannels returns true if at least one channel is registered.
func (m *Manager) HasChannels() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels) > 0
}

// connectedChannel looks up a channel by name and verifies it is connected.
func (m *Manager) connectedChannel(name string) (Channel, error) {
	m.mu.RLock()
	ch, exists := m.channels[name]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("channel %q not found", name)
	}
	if !ch.IsConnected() {
		return nil, fmt.Errorf("channel %q: %w", name, ErrChannelDisconnected)
	}
	return ch, nil
}

// listenChannel forwards a channel's events into the aggregated stream.
func (m *Manager) listenChannel(ch Channel) {
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev, ok := <-ch.Events():
			if !ok {
				return
			}
			select {
			case m.events <- ev:
			case <-m.ctx.Done():
				return
			}
		}
	}
}
