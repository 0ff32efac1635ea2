package shellexec

import (
	"context"
	"runtime"
	"testing"
	"time"
)

func TestMaybeWrapWithSnapshot_OnlyRewritesLoginMode(t *testing.T) {
	e := New("/tmp")
	e.snapshotPath = "/tmp/snap.sh"

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "login mode with snapshot rewrites",
			args: []string{"/bin/bash", "-lc", "echo hi"},
			want: []string{"-c", `. "/tmp/snap.sh" && echo hi`},
		},
		{
			name: "non-login mode is untouched",
			args: []string{"/bin/bash", "-c", "echo hi"},
			want: []string{"-c", "echo hi"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.maybeWrapWithSnapshot(tt.args)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestMaybeWrapWithSnapshot_NoSnapshotPath(t *testing.T) {
	e := New("/tmp")
	args := []string{"/bin/bash", "-lc", "echo hi"}
	got := e.maybeWrapWithSnapshot(args)
	if len(got) != 2 || got[0] != "-c" || got[1] != "echo hi" {
		t.Fatalf("expected passthrough without snapshot, got %v", got)
	}
}

func TestExtractCWD(t *testing.T) {
	out := "hello\n" + cwdMarkerStart + " /home/user/proj " + cwdMarkerEnd + "\n"
	cleaned, cwd := extractCWD(out)
	if cwd != "/home/user/proj" {
		t.Fatalf("cwd = %q, want /home/user/proj", cwd)
	}
	if cleaned != "hello" {
		t.Fatalf("cleaned = %q, want %q", cleaned, "hello")
	}
}

func TestExecute_CapturesNewCWD(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	e := New(t.TempDir())
	result, err := e.Execute(context.Background(), "cd /tmp && pwd", 5*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("exit_code = %d, stderr = %q", result.ExitCode, result.Stderr)
	}
	if result.NewCWD == "" {
		t.Fatal("expected NewCWD to be captured")
	}
}

func TestExecute_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	e := New(t.TempDir())
	result, err := e.Execute(context.Background(), "sleep 5", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ExitCode != -1 {
		t.Fatalf("expected exit_code -1 on timeout, got %d", result.ExitCode)
	}
}

func TestExecuteBackgroundable_DroppedSignalDoesNotBackground(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	e := New(t.TempDir())
	signalCh := make(chan struct{})
	close(signalCh) // closed-without-send: select picks this branch only if it receives a value, which never happens here

	outcome, err := e.ExecuteBackgroundable(context.Background(), "echo done", 5*time.Second, neverFires())
	if err != nil {
		t.Fatalf("ExecuteBackgroundable: %v", err)
	}
	if _, ok := outcome.(Completed); !ok {
		t.Fatalf("expected Completed when signal never fires, got %T", outcome)
	}
}

// neverFires returns a channel that is never written to and never
// closed within the test's lifetime, modeling "sender dropped without
// firing" per spec §4.A.
func neverFires() <-chan struct{} {
	return make(chan struct{})
}
