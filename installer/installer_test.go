package installer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeDescriptor(t *testing.T, dir string, d *Descriptor) {
	t.Helper()
	if err := d.Save(dir); err != nil {
		t.Fatalf("Save descriptor: %v", err)
	}
}

func TestDescriptorLoadSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	args := "-quiet"
	original := &Descriptor{
		Command:                        "setup.exe",
		Arguments:                      &args,
		ExitRequired:                   true,
		RequireAdministratorPrivileges: true,
		HideWindow:                     false,
	}
	writeDescriptor(t, dir, original)

	loaded, err := LoadDescriptor(dir)
	if err != nil {
		t.Fatalf("LoadDescriptor: %v", err)
	}
	if loaded.Command != original.Command {
		t.Fatalf("command mismatch: got %q want %q", loaded.Command, original.Command)
	}
	if loaded.Arguments == nil || *loaded.Arguments != args {
		t.Fatalf("arguments mismatch: got %v", loaded.Arguments)
	}
	if !loaded.ExitRequired || !loaded.RequireAdministratorPrivileges {
		t.Fatal("boolean flags did not round trip")
	}
}

func TestDescriptorRequiresCommand(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DescriptorFileName), []byte(`{"Command":""}`), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	if _, err := LoadDescriptor(dir); !errors.Is(err, ErrUsage) {
		t.Fatalf("expected ErrUsage, got %v", err)
	}
}

func TestExtractRequiresIdleState(t *testing.T) {
	d := New(t.TempDir(), t.TempDir())
	d.state = StateConfigured
	if err := d.Extract(nil); !errors.Is(err, ErrUsage) {
		t.Fatalf("expected ErrUsage, got %v", err)
	}
}

func TestLoadDescriptorRequiresExtractedState(t *testing.T) {
	d := New(t.TempDir(), t.TempDir())
	if err := d.LoadDescriptor(); !errors.Is(err, ErrUsage) {
		t.Fatalf("expected ErrUsage, got %v", err)
	}
}

func TestSpawnRequiresConfiguredState(t *testing.T) {
	d := New(t.TempDir(), t.TempDir())
	if _, err := d.Spawn(-1); !errors.Is(err, ErrUsage) {
		t.Fatalf("expected ErrUsage, got %v", err)
	}
}

func TestSpawnCapturesNonZeroExitCode(t *testing.T) {
	tempDir := t.TempDir()
	script := filepath.Join(tempDir, "child.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 3\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	d := New(tempDir, t.TempDir())
	d.state = StateConfigured
	d.Descriptor = &Descriptor{Command: script}

	outcome, err := d.Spawn(1234)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if outcome.RequireExit {
		t.Fatal("expected RequireExit=false when ExitRequired is unset")
	}
	if outcome.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", outcome.ExitCode)
	}
	if d.State() != StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", d.State())
	}
}

func TestSpawnDetachesWhenExitRequired(t *testing.T) {
	tempDir := t.TempDir()
	script := filepath.Join(tempDir, "child.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nsleep 5\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	d := New(tempDir, t.TempDir())
	d.state = StateConfigured
	d.Descriptor = &Descriptor{Command: script, ExitRequired: true}

	outcome, err := d.Spawn(1234)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !outcome.RequireExit {
		t.Fatal("expected RequireExit=true when ExitRequired is set")
	}
}

func TestRunSetupAsyncRejectsConcurrentEntry(t *testing.T) {
	if err := acquireHandle(&runHandle{}); err != nil {
		t.Fatalf("acquireHandle: %v", err)
	}
	defer releaseHandle()

	_, err := RunSetupAsync(context.Background(), t.TempDir(), t.TempDir(), -1, "", "")
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestRunSetupAsyncPropagatesMissingDescriptor(t *testing.T) {
	_, err := RunSetupAsync(context.Background(), t.TempDir(), t.TempDir(), -1, "", "")
	if err == nil {
		t.Fatal("expected error for missing setup.json")
	}
}

func TestProcessAliveFalseForImpossiblePID(t *testing.T) {
	if processAlive(-1) {
		t.Fatal("expected processAlive(-1) to be false")
	}
}
