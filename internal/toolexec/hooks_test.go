package toolexec

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cocode/agent-core/internal/corekind"
	"github.com/cocode/agent-core/internal/llm"
)

type scriptedHook struct {
	name   string
	result HookResult
	calls  []HookPoint
}

func (h *scriptedHook) Name() string { return h.name }
func (h *scriptedHook) Run(ctx context.Context, point HookPoint, toolName string, args json.RawMessage, output *llm.ToolOutput, callErr error) HookResult {
	h.calls = append(h.calls, point)
	return h.result
}

func TestHookRunner_PreHookBlockRejects(t *testing.T) {
	hook := &scriptedHook{name: "guard", result: HookResult{Block: true, Reason: "no"}}
	runner := NewHookRunner(hook)
	_, _, err := runner.RunPre(context.Background(), "shell", json.RawMessage(`{}`))
	if !corekind.Is(err, corekind.HookRejected) {
		t.Fatalf("expected HookRejected, got %v", err)
	}
}

func TestHookRunner_PreHookModifiesInput(t *testing.T) {
	modified := json.RawMessage(`{"command":"echo redacted"}`)
	hook := &scriptedHook{name: "sanitize", result: HookResult{ModifiedInput: modified}}
	runner := NewHookRunner(hook)
	args, _, err := runner.RunPre(context.Background(), "shell", json.RawMessage(`{"command":"echo secret"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(args) != string(modified) {
		t.Fatalf("expected modified args, got %s", args)
	}
}

func TestHookRunner_PostHookRejectionDoesNotUnwind(t *testing.T) {
	hook := &scriptedHook{name: "auditor", result: HookResult{Block: true, Reason: "flagged after the fact"}}
	runner := NewHookRunner(hook)
	// RunPost has no return value to fail the call with; it only records
	// that the hook ran. A completed tool call is never unwound.
	runner.RunPost(context.Background(), PostToolUse, "shell", json.RawMessage(`{}`), &llm.ToolOutput{Content: "done"}, nil)
	if len(hook.calls) != 1 || hook.calls[0] != PostToolUse {
		t.Fatalf("expected PostToolUse to run exactly once, got %v", hook.calls)
	}
}

func TestHookRunner_PreHookOverridePropagates(t *testing.T) {
	allow := RuleAllow
	hook := &scriptedHook{name: "override", result: HookResult{OverridePermission: &allow}}
	runner := NewHookRunner(hook)
	_, override, err := runner.RunPre(context.Background(), "shell", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if override == nil || *override != RuleAllow {
		t.Fatalf("expected override to propagate as RuleAllow, got %v", override)
	}
}
