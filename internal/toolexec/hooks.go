package toolexec

import (
	"context"
	"encoding/json"

	"github.com/cocode/agent-core/internal/corekind"
	"github.com/cocode/agent-core/internal/llm"
)

// HookPoint names when a hook runs relative to tool execution.
type HookPoint string

const (
	PreToolUse        HookPoint = "pre_tool_use"
	PostToolUse        HookPoint = "post_tool_use"
	PostToolUseFailure HookPoint = "post_tool_use_failure"
)

// HookResult is a PreToolUse hook's verdict. A nil-valued HookResult
// (the zero value) lets the call proceed unmodified.
type HookResult struct {
	Block           bool
	Reason          string
	ModifiedInput   json.RawMessage // non-nil replaces the call's args
	OverridePermission *RuleOutcome // non-nil short-circuits the permission pipeline
	Async           bool           // hook result isn't awaited; logged when it resolves
}

// Hook observes or intervenes in tool execution at PreToolUse,
// PostToolUse, and PostToolUseFailure. PostToolUse/PostToolUseFailure
// results are advisory: a PostToolUse hook cannot unwind a completed
// call, so its Block/Reason are only logged (spec §4.E "hooks").
type Hook interface {
	Name() string
	Run(ctx context.Context, point HookPoint, toolName string, args json.RawMessage, output *llm.ToolOutput, callErr error) HookResult
}

// HookRunner runs the registered hooks in order at each point.
type HookRunner struct {
	hooks []Hook
	onRun func(point HookPoint, hookName string)
}

func NewHookRunner(hooks ...Hook) *HookRunner { return &HookRunner{hooks: hooks} }

// OnRun installs a callback invoked after every hook runs, used to
// emit events.HookExecuted.
func (r *HookRunner) OnRun(cb func(point HookPoint, hookName string)) *HookRunner {
	r.onRun = cb
	return r
}

// RunPre runs all PreToolUse hooks in order. The first hook to Block
// stops the call with a HookRejected error; a hook may instead modify
// the input or override the permission-pipeline outcome, both of
// which pass through to later hooks and to the call itself.
func (r *HookRunner) RunPre(ctx context.Context, toolName string, args json.RawMessage) (json.RawMessage, *RuleOutcome, error) {
	var override *RuleOutcome
	for _, h := range r.hooks {
		result := h.Run(ctx, PreToolUse, toolName, args, nil, nil)
		if r.onRun != nil {
			r.onRun(PreToolUse, h.Name())
		}
		if result.Block {
			return args, nil, corekind.Newf(corekind.HookRejected, "%s rejected %s: %s", h.Name(), toolName, result.Reason)
		}
		if result.ModifiedInput != nil {
			args = result.ModifiedInput
		}
		if result.OverridePermission != nil {
			override = result.OverridePermission
		}
	}
	return args, override, nil
}

// RunPost runs PostToolUse or PostToolUseFailure hooks. Their verdict
// is advisory only: a rejection is recorded via onRun/log but never
// unwinds the already-completed call.
func (r *HookRunner) RunPost(ctx context.Context, point HookPoint, toolName string, args json.RawMessage, output *llm.ToolOutput, callErr error) {
	for _, h := range r.hooks {
		h.Run(ctx, point, toolName, args, output, callErr)
		if r.onRun != nil {
			r.onRun(point, h.Name())
		}
	}
}
