// session.go manages per-thread durable session directories. Each thread
// gets sessions/{threadTs}/ holding a generated INSTRUCTIONS.md plus whatever
// state the agent leaves behind between turns. Directories are created
// lazily and never deleted here; cleanup is an operational concern.
package assistant

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// instructionsFile is the per-thread instruction document name.
const instructionsFile = "INSTRUCTIONS.md"

// SessionIOError wraps a filesystem failure while preparing a session.
// Callers recover from it by falling back to stateless invocation.
type SessionIOError struct {
	ThreadTS string
	Err      error
}

func (e *SessionIOError) Error() string {
	return fmt.Sprintf("session %s: %v", e.ThreadTS, e.Err)
}

func (e *SessionIOError) Unwrap() error { return e.Err }

// SessionConfig configures the session store.
type SessionConfig struct {
	// Dir is the root directory holding per-thread session directories.
	Dir string `yaml:"dir"`

	// InstructionsPath optionally points to an external instruction
	// document that overrides the built-in default.
	InstructionsPath string `yaml:"instructions_path"`

	// ForceRegenerate rewrites INSTRUCTIONS.md on every turn instead of
	// only on first use.
	ForceRegenerate bool `yaml:"force_regenerate"`
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{Dir: "./sessions"}
}

// defaultInstructions is the baked-in instruction document used when no
// external file is configured.
const defaultInstructions = `You are a helpful assistant responding inside a chat thread.
Be concise and practical. Reply in the language the user writes in.

End every response with a single JSON object on its own line signalling
what should happen next:

  {"result": "completed"}        the task is done
  {"result": "continue"}         you need another turn to keep working
  {"result": "answer_required"}  you need input from the user
`

// SessionStore creates and serializes access to per-thread session
// directories.
type SessionStore struct {
	cfg    SessionConfig
	logger *slog.Logger

	// instructions is the resolved document content, loaded once.
	instructions string

	// locks holds one mutex per thread so concurrent duplicate events
	// never race to create the same instruction document.
	locks sync.Map // threadTS -> *sync.Mutex
}

// NewSessionStore creates a session store. The instruction document is
// resolved once at construction: external file if configured and readable,
// built-in default otherwise.
func NewSessionStore(cfg SessionConfig, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		cfg.Dir = "./sessions"
	}

	instructions := defaultInstructions
	if cfg.InstructionsPath != "" {
		data, err := os.ReadFile(cfg.InstructionsPath)
		if err != nil {
			logger.Warn("failed to read instructions file, using built-in default",
				"path", cfg.InstructionsPath,
				"error", err,
			)
		} else {
			instructions = string(data)
		}
	}

	return &SessionStore{
		cfg:          cfg,
		logger:       logger,
		instructions: instructions,
	}
}

// Lock serializes orchestration runs for one thread. Returns an unlock
// function.
func (s *SessionStore) Lock(threadTS string) func() {
	v, _ := s.locks.LoadOrStore(threadTS, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Ensure creates the session directory and instruction document for a
// thread if they do not exist yet, and returns the directory path.
// Creation is idempotent: an existing document is left untouched unless
// ForceRegenerate is set.
func (s *SessionStore) Ensure(threadTS string) (string, error) {
	dir := filepath.Join(s.cfg.Dir, threadTS)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &SessionIOError{ThreadTS: threadTS, Err: err}
	}

	path := filepath.Join(dir, instructionsFile)
	if !s.cfg.ForceRegenerate {
		if _, err := os.Stat(path); err == nil {
			return dir, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", &SessionIOError{ThreadTS: threadTS, Err: err}
		}
	}

	if err := os.WriteFile(path, []byte(s.instructions), 0o644); err != nil {
		return "", &SessionIOError{ThreadTS: threadTS, Err: err}
	}

	s.logger.Info("session prepared", "thread_ts", threadTS, "dir", dir)
	return dir, nil
}
