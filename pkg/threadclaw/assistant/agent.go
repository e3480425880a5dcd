// agent.go implements the subprocess bridge to the external reasoning agent.
// The prompt and addressing metadata travel as environment variables, never
// as command-line arguments and never over a network channel: the agent
// boundary is a pure local-process contract.
package assistant

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Environment variables of the subprocess invocation contract.
const (
	envPrompt      = "AGENT_PROMPT"
	envChannelID   = "CHANNEL_ID"
	envThreadTS    = "THREAD_TS"
	envExtraArgs   = "EXTRA_ARGS"
	envDisallowed  = "DISALLOWED_CAPABILITIES"
	envHookHandoff = "AGENT_ENV_FILE"
)

// defaultMaxOutputBytes caps combined subprocess output. Exceeding it fails
// the invocation outright: truncated output could corrupt the finish-marker
// parse.
const defaultMaxOutputBytes = 10 << 20

// AgentConfig configures the agent subprocess.
type AgentConfig struct {
	// Command is the agent executable.
	Command string `yaml:"command"`

	// Args are fixed arguments passed to the executable.
	Args []string `yaml:"args"`

	// ExtraArgs is an opaque flag string handed to the agent via
	// EXTRA_ARGS.
	ExtraArgs string `yaml:"extra_args"`

	// DisallowedCapabilities is a deny-list the agent must honor,
	// passed comma-separated via DISALLOWED_CAPABILITIES.
	DisallowedCapabilities []string `yaml:"disallowed_capabilities"`

	// HookCommand optionally names a preparatory executable run before
	// each invocation. It may inject extra environment variables through
	// the AGENT_ENV_FILE handoff file. Hook failure is non-fatal.
	HookCommand string `yaml:"hook_command"`

	// MaxOutputBytes is the hard ceiling for combined output capture.
	MaxOutputBytes int64 `yaml:"max_output_bytes"`

	// TimeoutSeconds bounds a single invocation. Zero means the caller's
	// context deadline alone applies.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// DefaultAgentConfig returns an AgentConfig with sensible defaults.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Command:        "agent",
		MaxOutputBytes: defaultMaxOutputBytes,
		TimeoutSeconds: 600,
	}
}

// Invocation describes a single agent subprocess call.
type Invocation struct {
	Prompt    string
	ChannelID string
	ThreadTS  string

	// Dir is the working directory (the session directory, or empty for
	// stateless invocation).
	Dir string

	// ExtraEnv is appended to the subprocess environment as KEY=VALUE.
	ExtraEnv []string
}

// AgentOutput is the captured result of one invocation.
type AgentOutput struct {
	Stdout   string
	ExitCode int
}

// AgentExecutionError reports a subprocess that exited non-zero or blew the
// output ceiling.
type AgentExecutionError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *AgentExecutionError) Error() string {
	return fmt.Sprintf("agent execution failed (exit %d): %v", e.ExitCode, e.Err)
}

func (e *AgentExecutionError) Unwrap() error { return e.Err }

// errOutputLimit marks an overflowing capture buffer.
var errOutputLimit = errors.New("agent output exceeded capture limit")

// Invoker is the capability interface for the agent boundary. The
// subprocess implementation can be swapped for an in-process or networked
// one without touching the orchestration loop.
type Invoker interface {
	Invoke(ctx context.Context, inv *Invocation) (*AgentOutput, error)
}

// SubprocessInvoker runs the agent as a local subprocess.
type SubprocessInvoker struct {
	cfg    AgentConfig
	logger *slog.Logger
}

// NewSubprocessInvoker creates a subprocess-backed invoker.
func NewSubprocessInvoker(cfg AgentConfig, logger *slog.Logger) *SubprocessInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	return &SubprocessInvoker{cfg: cfg, logger: logger}
}

// Invoke launches the agent executable and captures its output.
func (si *SubprocessInvoker) Invoke(ctx context.Context, inv *Invocation) (*AgentOutput, error) {
	if si.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(si.cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	env := append(os.Environ(),
		envPrompt+"="+inv.Prompt,
		envChannelID+"="+inv.ChannelID,
		envThreadTS+"="+inv.ThreadTS,
		envExtraArgs+"="+si.cfg.ExtraArgs,
		envDisallowed+"="+strings.Join(si.cfg.DisallowedCapabilities, ","),
	)
	env = append(env, si.runHook(ctx, inv)...)
	env = append(env, inv.ExtraEnv...)

	cmd := exec.CommandContext(ctx, si.cfg.Command, si.cfg.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = env

	stdout := newCappedBuffer(si.cfg.MaxOutputBytes)
	stderr := newCappedBuffer(si.cfg.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	si.logger.Debug("agent subprocess finished",
		"command", si.cfg.Command,
		"duration_ms", time.Since(start).Milliseconds(),
		"stdout_bytes", stdout.Len(),
		"error", err,
	)

	if stdout.Overflowed() || stderr.Overflowed() {
		exitCode := -1
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		return nil, &AgentExecutionError{
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Err:      errOutputLimit,
		}
	}
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, &AgentExecutionError{
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Err:      err,
		}
	}

	return &AgentOutput{Stdout: stdout.String(), ExitCode: 0}, nil
}

// runHook executes the optional preparatory subprocess and collects the
// extra environment variables it left in the handoff file. Any failure is
// logged and the invocation proceeds without the extras.
func (si *SubprocessInvoker) runHook(ctx context.Context, inv *Invocation) []string {
	if si.cfg.HookCommand == "" {
		return nil
	}

	handoff := filepath.Join(os.TempDir(), "threadclaw-hook-"+uuid.NewString())
	defer os.Remove(handoff)

	cmd := exec.CommandContext(ctx, si.cfg.HookCommand)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(),
		envHookHandoff+"="+handoff,
		envChannelID+"="+inv.ChannelID,
		envThreadTS+"="+inv.ThreadTS,
	)

	if out, err := cmd.CombinedOutput(); err != nil {
		si.logger.Warn("pre-invocation hook failed, continuing without extra env",
			"hook", si.cfg.HookCommand,
			"error", err,
			"output", strings.TrimSpace(string(out)),
		)
		return nil
	}

	extras, err := readEnvFile(handoff)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			si.logger.Warn("failed to read hook handoff file", "path", handoff, "error", err)
		}
		return nil
	}
	return extras
}

// readEnvFile parses KEY=VALUE lines from the hook handoff file. Blank
// lines, comments, and lines without '=' are skipped.
func readEnvFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var vars []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, "=") {
			continue
		}
		vars = append(vars, line)
	}
	return vars, scanner.Err()
}

// cappedBuffer accumulates writes up to a hard limit, then rejects further
// writes and remembers the overflow.
type cappedBuffer struct {
	buf        bytes.Buffer
	limit      int64
	overflowed bool
}

func newCappedBuffer(limit int64) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if int64(b.buf.Len())+int64(len(p)) > b.limit {
		b.overflowed = true
		return 0, errOutputLimit
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Len() int         { return b.buf.Len() }
func (b *cappedBuffer) String() string   { return b.buf.String() }
func (b *cappedBuffer) Overflowed() bool { return b.overflowed }
