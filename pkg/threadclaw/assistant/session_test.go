package assistant

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSessionEnsureCreatesInstructions(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.Dir = t.TempDir()
	store := NewSessionStore(cfg, testLogger())

	dir, err := store.Ensure("1700000000.000100")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	want := filepath.Join(cfg.Dir, "1700000000.000100")
	if dir != want {
		t.Errorf("dir = %q, want %q", dir, want)
	}

	data, err := os.ReadFile(filepath.Join(dir, instructionsFile))
	if err != nil {
		t.Fatalf("reading instructions: %v", err)
	}
	if len(data) == 0 {
		t.Error("instructions file is empty")
	}
}

func TestSessionEnsureIsIdempotent(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.Dir = t.TempDir()
	store := NewSessionStore(cfg, testLogger())

	dir, err := store.Ensure("42.000001")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	// Simulate the agent customizing its own instructions.
	path := filepath.Join(dir, instructionsFile)
	if err := os.WriteFile(path, []byte("customized"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Ensure("42.000001"); err != nil {
		t.Fatalf("second Ensure: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "customized" {
		t.Errorf("existing instructions were overwritten: %q", data)
	}
}

func TestSessionEnsureForceRegenerate(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.Dir = t.TempDir()
	cfg.ForceRegenerate = true
	store := NewSessionStore(cfg, testLogger())

	dir, err := store.Ensure("42.000001")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	path := filepath.Join(dir, instructionsFile)
	if err := os.WriteFile(path, []byte("customized"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Ensure("42.000001"); err != nil {
		t.Fatalf("second Ensure: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) == "customized" {
		t.Error("ForceRegenerate did not rewrite the instructions")
	}
}

func TestSessionExternalInstructionsFile(t *testing.T) {
	tmp := t.TempDir()
	custom := filepath.Join(tmp, "my-instructions.md")
	if err := os.WriteFile(custom, []byte("be terse"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultSessionConfig()
	cfg.Dir = tmp
	cfg.InstructionsPath = custom
	store := NewSessionStore(cfg, testLogger())

	dir, err := store.Ensure("7.000001")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(dir, instructionsFile))
	if string(data) != "be terse" {
		t.Errorf("external instructions not used: %q", data)
	}
}

func TestSessionLockSerializes(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.Dir = t.TempDir()
	store := NewSessionStore(cfg, testLogger())

	unlock := store.Lock("t1")
	acquired := make(chan struct{})
	go func() {
		u := store.Lock("t1")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock acquired while first still held")
	default:
	}

	unlock()
	<-acquired
}
