// dedupe.go guards against the platform redelivering an event. Slack retries
// delivery when an ack is slow, so the same event timestamp can arrive more
// than once; the cache remembers handled timestamps for a bounded window and
// a cron job sweeps expired entries.
package assistant

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// defaultDedupeTTL is how long a handled event timestamp is remembered.
const defaultDedupeTTL = 10 * time.Minute

// Deduper is a concurrent set of recently handled event keys.
type Deduper struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	cron   *cron.Cron
	logger *slog.Logger
}

// NewDeduper creates a dedupe cache with the given TTL (zero means the
// default window).
func NewDeduper(ttl time.Duration, logger *slog.Logger) *Deduper {
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduper{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		logger: logger,
	}
}

// Seen reports whether the key was already handled, marking it handled if
// not. Check and mark are one atomic step so concurrent duplicates cannot
// both pass.
func (d *Deduper) Seen(key string) bool {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if at, ok := d.seen[key]; ok && now.Sub(at) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// StartJanitor schedules periodic pruning of expired entries. Call Stop to
// halt it.
func (d *Deduper) StartJanitor() {
	if d.cron != nil {
		return
	}
	d.cron = cron.New()
	// Sweep at half the TTL so entries linger at most 1.5x the window.
	d.cron.Schedule(cron.Every(d.ttl/2), cron.FuncJob(d.prune))
	d.cron.Start()
}

// Stop halts the pruning schedule.
func (d *Deduper) Stop() {
	if d.cron != nil {
		d.cron.Stop()
		d.cron = nil
	}
}

// prune removes entries older than the TTL.
func (d *Deduper) prune() {
	cutoff := time.Now().Add(-d.ttl)

	d.mu.Lock()
	defer d.mu.Unlock()

	var removed int
	for key, at := range d.seen {
		if at.Before(cutoff) {
			delete(d.seen, key)
			removed++
		}
	}
	if removed > 0 {
		d.logger.Debug("dedupe cache pruned", "removed", removed, "remaining", len(d.seen))
	}
}

// Size returns the number of cached keys.
func (d *Deduper) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
