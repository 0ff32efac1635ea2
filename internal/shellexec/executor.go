// Package shellexec implements Component A, the Shell Executor: runs a
// command string under a user shell from a tracked working directory,
// with mid-flight backgrounding, CWD capture, and optional shell-
// snapshot sourcing. Grounded on cocode-rs's exec/shell/src/executor.rs
// and rendered with the exec.CommandContext idiom from the teacher's
// internal/tools/shell.go.
package shellexec

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cocode/agent-core/internal/corekind"
	"github.com/cocode/agent-core/internal/ids"
)

const (
	// DefaultTimeout matches cocode-rs's DEFAULT_TIMEOUT_SECS.
	DefaultTimeout = 120 * time.Second
	// MaxOutputBytes bounds stdout/stderr capture, matching MAX_OUTPUT_BYTES.
	MaxOutputBytes = 30_000

	cwdMarkerStart = "__COCODE_CWD_START__"
	cwdMarkerEnd   = "__COCODE_CWD_END__"

	// DisableSnapshotEnv disables shell-snapshot sourcing when set to
	// "1" or "true" (case-insensitive), matching COCODE_DISABLE_SHELL_SNAPSHOT.
	DisableSnapshotEnv = "COCODE_DISABLE_SHELL_SNAPSHOT"
)

// CommandResult is the outcome of a completed (non-backgrounded) command.
type CommandResult struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	DurationMs int64
	Truncated bool
	NewCWD    string // empty if unchanged or not captured
}

// BackgroundHandle identifies a process handed off to the background registry.
type BackgroundHandle struct {
	TaskId string
}

// PathExtractor is an optional hook that scans command output for file
// paths (e.g. compiler diagnostics), supplementing spec.md per
// SPEC_FULL.md's "path extraction from shell output" feature, grounded
// on the original's execute_with_extraction.
type PathExtractor interface {
	ExtractPaths(stdout, stderr string) []string
}

// Executor runs commands from a tracked working directory.
type Executor struct {
	defaultTimeout time.Duration
	shellPath      string

	mu  sync.Mutex
	cwd string

	snapshotPath     string // empty if no snapshot taken/available
	snapshotDisabled bool

	background    *BackgroundRegistry
	pathExtractor PathExtractor
}

// New creates an Executor rooted at cwd, using $SHELL (or "bash" as a
// fallback) as the interactive shell.
func New(cwd string) *Executor {
	return &Executor{
		defaultTimeout: DefaultTimeout,
		shellPath:      detectShell(),
		cwd:            cwd,
		background:     NewBackgroundRegistry(),
		snapshotDisabled: isSnapshotDisabled(),
	}
}

// WithPathExtractor sets an optional path extractor and returns the executor.
func (e *Executor) WithPathExtractor(p PathExtractor) *Executor {
	e.pathExtractor = p
	return e
}

func detectShell() string {
	if s := os.Getenv("SHELL"); s != "" {
		return s
	}
	return "bash"
}

func isSnapshotDisabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(DisableSnapshotEnv)))
	return v == "1" || v == "true"
}

// CWD returns the executor's currently tracked working directory.
func (e *Executor) CWD() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cwd
}

func (e *Executor) setCWD(dir string) {
	e.mu.Lock()
	e.cwd = dir
	e.mu.Unlock()
}

// StartSnapshotting records snapshotPath for later command rewriting.
// A no-op when snapshotting is disabled via DisableSnapshotEnv.
func (e *Executor) StartSnapshotting(snapshotPath string) {
	if e.snapshotDisabled {
		return
	}
	e.snapshotPath = snapshotPath
}

// ForkForSubagent clones the executor with an independent CWD cell and
// an empty background registry, but shares the shell snapshot path
// (spec §4.A: "shares the shell snapshot handle").
func (e *Executor) ForkForSubagent(initialCWD string) *Executor {
	return &Executor{
		defaultTimeout:   e.defaultTimeout,
		shellPath:        e.shellPath,
		cwd:              initialCWD,
		snapshotPath:     e.snapshotPath,
		snapshotDisabled: e.snapshotDisabled,
		background:       NewBackgroundRegistry(),
		pathExtractor:    e.pathExtractor,
	}
}

// Execute runs cmd under the shell with the given timeout (0 = DefaultTimeout),
// capturing the final CWD via shell markers.
func (e *Executor) Execute(ctx context.Context, command string, timeout time.Duration) (CommandResult, error) {
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	start := time.Now()

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wrapped := wrapWithCWDMarkers(command)
	args := e.shellArgs(wrapped, true)

	cmd := exec.CommandContext(execCtx, e.shellPath, args...)
	cmd.Dir = e.CWD()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDONLY, 0)
	if err == nil {
		cmd.Stdin = devNull
		defer devNull.Close()
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	duration := time.Since(start).Milliseconds()

	if execCtx.Err() == context.DeadlineExceeded {
		return CommandResult{
			ExitCode:   -1,
			Stderr:     "Command timed out after " + timeout.String(),
			DurationMs: duration,
		}, nil
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return CommandResult{ExitCode: -1, Stderr: runErr.Error(), DurationMs: duration}, nil
		}
	}

	outText, newCWD := extractCWD(stdout.String())
	outText, outTrunc := truncateOutput(outText)
	errText, errTrunc := truncateOutput(stderr.String())

	result := CommandResult{
		ExitCode:   exitCode,
		Stdout:     outText,
		Stderr:     errText,
		DurationMs: duration,
		Truncated:  outTrunc || errTrunc,
	}
	if exitCode == 0 && newCWD != "" {
		if info, statErr := os.Stat(newCWD); statErr == nil && info.IsDir() && newCWD != e.CWD() {
			e.setCWD(newCWD)
			result.NewCWD = newCWD
		}
	}
	return result, nil
}

// Completed and Backgrounded are the two outcomes of ExecuteBackgroundable.
type Completed struct{ Result CommandResult }
type Backgrounded struct{ TaskId string }

// BackgroundOutcome is the closed result of ExecuteBackgroundable.
type BackgroundOutcome interface{ backgroundOutcomeMarker() }

func (Completed) backgroundOutcomeMarker()    {}
func (Backgrounded) backgroundOutcomeMarker() {}

// ExecuteBackgroundable runs command, racing completion against (i) a
// signal on signalCh ("background this"), (ii) timeout, (iii) normal
// exit. If the signal fires first, the live process and its output
// buffers are handed to the Background Registry under a new task id.
// A signal channel that is closed without ever sending (the sender
// dropped without firing) must NOT be treated as a background request
// — only a value received on signalCh hands off the child (spec §4.A,
// grounded on cocode-rs's tokio::select! biased race).
func (e *Executor) ExecuteBackgroundable(ctx context.Context, command string, timeout time.Duration, signalCh <-chan struct{}) (BackgroundOutcome, error) {
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	start := time.Now()

	execCtx, cancel := context.WithCancel(ctx)
	wrapped := wrapWithCWDMarkers(command)
	args := e.shellArgs(wrapped, true)

	cmd := exec.CommandContext(execCtx, e.shellPath, args...)
	cmd.Dir = e.CWD()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutBuf := newSyncBuffer()
	stderrBuf := newSyncBuffer()
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, corekind.Wrap(corekind.Internal, "shell: stdout pipe", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, corekind.Wrap(corekind.Internal, "shell: stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return Completed{CommandResult{ExitCode: -1, Stderr: err.Error()}}, nil
	}

	go copyInto(stdoutBuf, stdoutPipe)
	go copyInto(stderrBuf, stderrPipe)

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-signalCh:
		// Affirmative backgrounding request.
		taskId := ids.NewBackgroundTaskId()
		e.background.Adopt(taskId, command, cmd, cancel, stdoutBuf, stderrBuf, waitCh)
		return Backgrounded{TaskId: taskId}, nil
	case runErr := <-waitCh:
		cancel()
		duration := time.Since(start).Milliseconds()
		out, newCWD := extractCWD(stdoutBuf.String())
		out, outTrunc := truncateOutput(out)
		errText, errTrunc := truncateOutput(stderrBuf.String())
		exitCode := 0
		if runErr != nil {
			if exitErr, ok := runErr.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
				errText = runErr.Error()
			}
		}
		if exitCode == 0 && newCWD != "" && newCWD != e.CWD() {
			e.setCWD(newCWD)
		}
		return Completed{CommandResult{
			ExitCode: exitCode, Stdout: out, Stderr: errText,
			DurationMs: duration, Truncated: outTrunc || errTrunc, NewCWD: newCWD,
		}}, nil
	case <-timer.C:
		cancel() // kill-on-drop equivalent: context cancellation kills the process group via Wait's error path
		<-waitCh
		return Completed{CommandResult{
			ExitCode: -1,
			Stderr:   "Command timed out after " + timeout.String(),
		}}, nil
	}
}

func wrapWithCWDMarkers(script string) string {
	return script + "; __cocode_exit=$?; echo \"" + cwdMarkerStart + " $(pwd) " + cwdMarkerEnd + "\"; exit $__cocode_exit"
}

// shellArgs builds the argv for the shell, applying the snapshot
// rewrite when login mode is requested and a snapshot path exists.
// Execute and ExecuteBackgroundable always request login mode —
// maybeWrapWithSnapshot is what decides whether that actually runs as
// "-lc" or gets rewritten to "-c" with the snapshot sourced, mirroring
// get_shell_args always preferring login shell "since snapshot might
// be available".
func (e *Executor) shellArgs(script string, login bool) []string {
	if login {
		return e.maybeWrapWithSnapshot([]string{e.shellPath, "-lc", script})
	}
	return []string{"-c", script}
}

// maybeWrapWithSnapshot rewrites [shell, "-lc", SCRIPT] to
// [shell, "-c", ". \"SNAPSHOT\" && SCRIPT"] exactly when a snapshot
// path exists and the originally requested mode was login; never
// otherwise (spec §4.A invariant).
func (e *Executor) maybeWrapWithSnapshot(args []string) []string {
	if e.snapshotPath == "" || len(args) < 3 || args[1] != "-lc" {
		return args[1:]
	}
	script := ". \"" + e.snapshotPath + "\" && " + args[2]
	return []string{"-c", script}
}

func truncateOutput(s string) (string, bool) {
	if len(s) <= MaxOutputBytes {
		return s, false
	}
	return s[:MaxOutputBytes], true
}

// extractCWD strips the cwd marker span from output and returns the
// cleaned text plus the captured directory, if present.
func extractCWD(output string) (cleaned string, cwd string) {
	startIdx := strings.LastIndex(output, cwdMarkerStart)
	if startIdx == -1 {
		return output, ""
	}
	endIdx := strings.Index(output[startIdx:], cwdMarkerEnd)
	if endIdx == -1 {
		return output, ""
	}
	endIdx += startIdx

	path := strings.TrimSpace(output[startIdx+len(cwdMarkerStart) : endIdx])
	before := strings.TrimRight(output[:startIdx], "\n")
	after := strings.TrimLeft(output[endIdx+len(cwdMarkerEnd):], " \t\n")
	cleaned = before
	if after != "" {
		cleaned += after
	}
	return cleaned, path
}
