// seen.go tracks which users the bot has interacted with before. The store
// is injected so a distributed deployment can share it and tests can use the
// in-memory fake; marking is idempotent and monotonic: once recorded, a
// user is never un-recorded.
package assistant

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"
)

// SeenStore answers whether a user has interacted with the bot before.
type SeenStore interface {
	// Has reports whether the user has been recorded.
	Has(userID string) bool

	// Record marks the user as seen. Idempotent.
	Record(userID string)
}

// SQLiteSeenStore persists first contacts in the central threadclaw.db
// "first_contacts" table.
type SQLiteSeenStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteSeenStore creates a SQLite-backed seen store using the shared DB.
// The "first_contacts" table must already exist (created by OpenDatabase).
func NewSQLiteSeenStore(db *sql.DB, logger *slog.Logger) *SQLiteSeenStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteSeenStore{db: db, logger: logger}
}

// Has reports whether the user has a first-contact row.
func (s *SQLiteSeenStore) Has(userID string) bool {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM first_contacts WHERE user_id = ?", userID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		// Query failure reads as "seen": better to skip a first-contact
		// greeting than to repeat it on every turn.
		s.logger.Warn("first-contact lookup failed", "user", userID, "error", err)
		return true
	}
	return true
}

// Record inserts the first-contact row if absent.
func (s *SQLiteSeenStore) Record(userID string) {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO first_contacts (user_id, first_seen_at) VALUES (?, ?)",
		userID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		s.logger.Warn("failed to record first contact", "user", userID, "error", err)
	}
}

// MemorySeenStore is an in-process SeenStore for tests and console mode.
type MemorySeenStore struct {
	mu   sync.RWMutex
	seen map[string]bool
}

// NewMemorySeenStore creates an empty in-memory seen store.
func NewMemorySeenStore() *MemorySeenStore {
	return &MemorySeenStore{seen: make(map[string]bool)}
}

// Has reports whether the user has been recorded.
func (m *MemorySeenStore) Has(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seen[userID]
}

// Record marks the user as seen.
func (m *MemorySeenStore) Record(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[userID] = true
}
