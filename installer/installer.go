// Package installer drives the extract, configure, spawn, re-entry, and
// run-plugin handoff between a calling application and its setup payload.
// Process-wide state for an in-flight re-entry is held in a scoped handle
// rather than free-floating package globals, so at most one setup run is
// ever active in this process.
package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joncooperworks/installerpkg/pkgfmt"
	"github.com/joncooperworks/installerpkg/setupplugin"
)

// pollInterval is how often waitForExit re-checks a caller PID's liveness.
const pollInterval = 100 * time.Millisecond

var (
	// ErrUsage marks a missing/invalid driver input: no descriptor command,
	// a nil archive source, and similar caller mistakes.
	ErrUsage = errors.New("installer: usage error")
	// ErrAlreadyRunning is returned by RunSetupAsync when another re-entry
	// is already in flight for this process.
	ErrAlreadyRunning = errors.New("installer: setup already running")
	// ErrSetupFailed wraps a failure to read, load, or call the setup
	// plugin during re-entry. A nonzero plugin exit code is returned as the
	// exit code, not as this error.
	ErrSetupFailed = errors.New("installer: setup failed")
)

// State is the installer driver's position in its handoff state machine.
type State int

const (
	StateIdle State = iota
	StateExtracted
	StateConfigured
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateExtracted:
		return "EXTRACTED"
	case StateConfigured:
		return "CONFIGURED"
	case StateCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// Driver carries one install operation's state: the sandboxed temp
// directory an archive was extracted into, the application's final
// install path, and the loaded setup descriptor once configured.
type Driver struct {
	TempDir    string
	AppPath    string
	Descriptor *Descriptor
	state      State
}

// New returns an idle driver rooted at tempDir, targeting appPath.
func New(tempDir, appPath string) *Driver {
	return &Driver{TempDir: tempDir, AppPath: appPath, state: StateIdle}
}

// State reports the driver's current position in the handoff state machine.
func (d *Driver) State() State {
	return d.state
}

// Extract unpacks src into the driver's temp directory. Exceptions
// mid-extract are not retried; the caller is responsible for best-effort
// cleanup of TempDir on error.
func (d *Driver) Extract(src io.Reader) error {
	if d.state != StateIdle {
		return fmt.Errorf("%w: extract requires IDLE, got %s", ErrUsage, d.state)
	}
	if err := pkgfmt.Extract(src, d.TempDir); err != nil {
		return err
	}
	d.state = StateExtracted
	return nil
}

// LoadDescriptor reads setup.json from the temp directory and advances the
// driver to CONFIGURED.
func (d *Driver) LoadDescriptor() error {
	if d.state != StateExtracted {
		return fmt.Errorf("%w: load descriptor requires EXTRACTED, got %s", ErrUsage, d.state)
	}
	desc, err := LoadDescriptor(d.TempDir)
	if err != nil {
		return err
	}
	d.Descriptor = desc
	d.state = StateConfigured
	return nil
}

// SpawnOutcome reports what happened when the driver spawned the setup
// child: either the child was started detached and the caller must exit
// (RequireExit), or it ran to completion and its result was captured.
type SpawnOutcome struct {
	RequireExit bool
	ExitCode    int
	Stdout      string
	Stderr      string
}

// Spawn launches the descriptor's command from the temp directory,
// injecting --pid and --path as its first arguments. When the descriptor
// requires the caller to exit, the child is started detached and
// RequireExit is reported immediately; otherwise the driver waits and
// captures the child's stdout, stderr, and exit code.
func (d *Driver) Spawn(callerPID int) (*SpawnOutcome, error) {
	if d.state != StateConfigured {
		return nil, fmt.Errorf("%w: spawn requires CONFIGURED, got %s", ErrUsage, d.state)
	}

	cmd, err := d.buildCommand(callerPID, nil)
	if err != nil {
		return nil, err
	}

	if d.Descriptor.ExitRequired {
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("installer: spawn setup child: %w", err)
		}
		d.state = StateCompleted
		return &SpawnOutcome{RequireExit: true}, nil
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("installer: run setup child: %w", runErr)
		}
	}
	d.state = StateCompleted
	return &SpawnOutcome{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// buildCommand constructs the setup child's exec.Cmd with its working
// directory set to TempDir and the mandated --pid/--path arguments
// prepended to whatever descriptor arguments and extra pass-through args
// the caller supplies.
func (d *Driver) buildCommand(callerPID int, extra []string) (*exec.Cmd, error) {
	args := []string{"--pid", strconv.Itoa(callerPID), "--path", d.AppPath}
	if d.Descriptor.Arguments != nil {
		args = append(args, strings.Fields(*d.Descriptor.Arguments)...)
	}
	args = append(args, extra...)

	cmd := exec.Command(d.Descriptor.Command, args...)
	cmd.Dir = d.TempDir
	configureWindow(cmd, d.Descriptor)
	if d.Descriptor.RequireAdministratorPrivileges {
		elevate(cmd)
	}
	return cmd, nil
}

// runHandle is the process-wide state RunSetupAsync owns for the duration
// of one re-entry: set on entry, cleared in the terminal block. Concurrent
// re-entry is rejected by the guard below rather than by inspecting this
// value directly.
type runHandle struct {
	Arguments   string
	AppPath     string
	Command     string
	CommandArgs []string
}

var (
	runMu  sync.Mutex
	active *runHandle
)

func acquireHandle(h *runHandle) error {
	runMu.Lock()
	defer runMu.Unlock()
	if active != nil {
		return ErrAlreadyRunning
	}
	active = h
	return nil
}

func releaseHandle() {
	runMu.Lock()
	active = nil
	runMu.Unlock()
}

// RunSetupAsync is the re-entry path: it must be invoked by exactly one
// process at a time. If callerPID is non-negative it waits for that
// process to exit, loads setup.json and the bundled ISetup WASM module
// from dir (the extraction directory the setup child is running in), runs
// it with appPath as its configuration target, and propagates its exit
// code. When the plugin's descriptor required the caller's exit and a
// post-setup command was declared, that command is spawned detached
// before returning.
func RunSetupAsync(ctx context.Context, dir, appPath string, callerPID int, postCmd, postArgs string) (exitCode int, err error) {
	handle := &runHandle{AppPath: appPath, Command: postCmd}
	if postArgs != "" {
		handle.CommandArgs = strings.Fields(postArgs)
	}
	if err := acquireHandle(handle); err != nil {
		return 0, err
	}
	defer releaseHandle()

	if callerPID >= 0 {
		waitForExit(callerPID)
	}

	desc, err := LoadDescriptor(dir)
	if err != nil {
		return 0, err
	}
	handle.Arguments = derefString(desc.Arguments)

	wasmPath := filepath.Join(dir, SetupWASMFileName)
	wasmData, err := os.ReadFile(wasmPath)
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", ErrSetupFailed, SetupWASMFileName, err)
	}

	plugin, err := setupplugin.Load(wasmData)
	if err != nil {
		return 0, fmt.Errorf("%w: load setup plugin: %v", ErrSetupFailed, err)
	}
	defer plugin.Close()

	runArgs := []byte(fmt.Sprintf(`{"path":%q,"arguments":%q}`, appPath, handle.Arguments))
	exitCode, runErr := plugin.Run(ctx, runArgs)
	if runErr != nil {
		return exitCode, fmt.Errorf("%w: %v", ErrSetupFailed, runErr)
	}

	if exitCode != 0 {
		// Failure policy: preserve the temp dir for diagnosis.
	} else if rmErr := os.RemoveAll(dir); rmErr != nil {
		return exitCode, fmt.Errorf("installer: clean up temp dir: %w", rmErr)
	}

	if desc.ExitRequired && handle.Command != "" {
		post := exec.Command(handle.Command, handle.CommandArgs...)
		post.Dir = appPath
		if err := post.Start(); err != nil {
			return exitCode, fmt.Errorf("installer: spawn post-setup command: %w", err)
		}
	}

	return exitCode, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
