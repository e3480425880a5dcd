// db.go provides the central SQLite database for threadclaw. A single
// threadclaw.db file holds the first-contact registry and the orchestration
// run log. Per-thread agent state lives in the session directories, not here.
package assistant

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
-- Users the bot has interacted with at least once.
CREATE TABLE IF NOT EXISTS first_contacts (
    user_id       TEXT PRIMARY KEY,
    first_seen_at TEXT NOT NULL
);

-- One row per orchestration run, for operational inspection.
CREATE TABLE IF NOT EXISTS run_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT NOT NULL,
    channel     TEXT NOT NULL,
    thread_ts   TEXT NOT NULL,
    kind        TEXT NOT NULL,
    iterations  INTEGER NOT NULL,
    verdict     TEXT NOT NULL,
    duration_ms INTEGER NOT NULL,
    created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_log_thread ON run_log(thread_ts);
`

// OpenDatabase opens (or creates) the central threadclaw.db at the given
// path. It enables WAL mode for concurrent read performance and creates all
// tables.
func OpenDatabase(path string) (*sql.DB, error) {
	if path == "" {
		path = "./data/threadclaw.db"
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return db, nil
}

// RunLog appends one row per finished orchestration run. A nil RunLog is
// valid and records nothing.
type RunLog struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunLog creates a run log writer over the shared database.
func NewRunLog(db *sql.DB, logger *slog.Logger) *RunLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunLog{db: db, logger: logger}
}

// Append records a finished run. Failures are logged, never propagated:
// the run log is operational telemetry, not part of the turn.
func (r *RunLog) Append(runID, channel, threadTS, kind string, iterations int, verdict Verdict, duration time.Duration) {
	if r == nil || r.db == nil {
		return
	}
	_, err := r.db.Exec(`
		INSERT INTO run_log
			(run_id, channel, thread_ts, kind, iterations, verdict, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, channel, threadTS, kind, iterations, string(verdict),
		duration.Milliseconds(), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		r.logger.Warn("failed to append run log", "run_id", runID, "error", err)
	}
}
