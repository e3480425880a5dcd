package assistant

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func shInvoker(t *testing.T, script string, mutate func(*AgentConfig)) *SubprocessInvoker {
	t.Helper()
	cfg := DefaultAgentConfig()
	cfg.Command = "/bin/sh"
	cfg.Args = []string{"-c", script}
	cfg.TimeoutSeconds = 30
	if mutate != nil {
		mutate(&cfg)
	}
	return NewSubprocessInvoker(cfg, testLogger())
}

func TestInvokePassesContractEnv(t *testing.T) {
	inv := shInvoker(t, `printf '%s|%s|%s' "$AGENT_PROMPT" "$CHANNEL_ID" "$THREAD_TS"`, nil)

	out, err := inv.Invoke(context.Background(), &Invocation{
		Prompt:    "hello agent",
		ChannelID: "C42",
		ThreadTS:  "1.000001",
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Stdout != "hello agent|C42|1.000001" {
		t.Errorf("stdout = %q", out.Stdout)
	}
}

func TestInvokeRunsInSessionDir(t *testing.T) {
	dir := t.TempDir()
	inv := shInvoker(t, "pwd", nil)

	out, err := inv.Invoke(context.Background(), &Invocation{Prompt: "x", Dir: dir})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(out.Stdout))
	want, _ := filepath.EvalSymlinks(dir)
	if got != want {
		t.Errorf("cwd = %q, want %q", got, want)
	}
}

func TestInvokeNonZeroExit(t *testing.T) {
	inv := shInvoker(t, "echo oops >&2; exit 3", nil)

	_, err := inv.Invoke(context.Background(), &Invocation{Prompt: "x"})
	var execErr *AgentExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected AgentExecutionError, got %v", err)
	}
	if execErr.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", execErr.ExitCode)
	}
	if !strings.Contains(execErr.Stderr, "oops") {
		t.Errorf("stderr = %q, want it to contain %q", execErr.Stderr, "oops")
	}
}

func TestInvokeOutputLimitIsFatal(t *testing.T) {
	inv := shInvoker(t, `head -c 4096 /dev/zero | tr '\0' 'a'`, func(cfg *AgentConfig) {
		cfg.MaxOutputBytes = 1024
	})

	_, err := inv.Invoke(context.Background(), &Invocation{Prompt: "x"})
	var execErr *AgentExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected AgentExecutionError, got %v", err)
	}
	if !errors.Is(err, errOutputLimit) {
		t.Errorf("expected output limit error, got %v", execErr.Err)
	}
}

func TestInvokeHookEnvHandoff(t *testing.T) {
	hook := filepath.Join(t.TempDir(), "hook.sh")
	script := "#!/bin/sh\necho 'INJECTED=from-hook' > \"$AGENT_ENV_FILE\"\n"
	if err := os.WriteFile(hook, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	inv := shInvoker(t, `printf '%s' "$INJECTED"`, func(cfg *AgentConfig) {
		cfg.HookCommand = hook
	})

	out, err := inv.Invoke(context.Background(), &Invocation{Prompt: "x"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Stdout != "from-hook" {
		t.Errorf("stdout = %q, want %q", out.Stdout, "from-hook")
	}
}

func TestInvokeHookFailureIsNonFatal(t *testing.T) {
	hook := filepath.Join(t.TempDir(), "hook.sh")
	if err := os.WriteFile(hook, []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	inv := shInvoker(t, `printf ok`, func(cfg *AgentConfig) {
		cfg.HookCommand = hook
	})

	out, err := inv.Invoke(context.Background(), &Invocation{Prompt: "x"})
	if err != nil {
		t.Fatalf("hook failure should not fail the invocation: %v", err)
	}
	if out.Stdout != "ok" {
		t.Errorf("stdout = %q", out.Stdout)
	}
}

func TestReadEnvFileSkipsJunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env")
	content := "A=1\n\n# comment\nnot a pair\nB=two=parts\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	vars, err := readEnvFile(path)
	if err != nil {
		t.Fatalf("readEnvFile: %v", err)
	}
	want := []string{"A=1", "B=two=parts"}
	if len(vars) != len(want) {
		t.Fatalf("vars = %v, want %v", vars, want)
	}
	for i := range want {
		if vars[i] != want[i] {
			t.Errorf("vars[%d] = %q, want %q", i, vars[i], want[i])
		}
	}
}

func TestCappedBufferOverflow(t *testing.T) {
	buf := newCappedBuffer(10)
	if _, err := buf.Write([]byte("12345")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := buf.Write([]byte("678901")); err == nil {
		t.Fatal("expected overflow error")
	}
	if !buf.Overflowed() {
		t.Error("Overflowed() = false after rejected write")
	}
	if buf.String() != "12345" {
		t.Errorf("buffer content = %q, partial write leaked in", buf.String())
	}
}
