package loop

import "context"

// CompactHookOutcome is what one PreCompact hook returns.
type CompactHookOutcome struct {
	Name    string
	Rejected bool
	Reason  string
}

// CompactHook runs before compaction begins, with the chance to reject
// it outright (step 5, "Before compaction begins, PreCompact hooks are
// executed. If any hook returns Reject, compaction is skipped").
// Grounded on driver.rs's cocode_hooks::HookRegistry::execute call in
// AgentLoop::compact.
type CompactHook interface {
	Name() string
	PreCompact(ctx context.Context, turnId string) (rejected bool, reason string)
}

// runPreCompactHooks runs every registered hook and returns the first
// rejection, if any.
func runPreCompactHooks(ctx context.Context, hooks []CompactHook, turnId string) []CompactHookOutcome {
	outcomes := make([]CompactHookOutcome, 0, len(hooks))
	for _, h := range hooks {
		rejected, reason := h.PreCompact(ctx, turnId)
		outcomes = append(outcomes, CompactHookOutcome{Name: h.Name(), Rejected: rejected, Reason: reason})
	}
	return outcomes
}
