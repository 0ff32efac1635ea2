package toolexec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cocode/agent-core/internal/corekind"
	"github.com/cocode/agent-core/internal/ids"
	"github.com/cocode/agent-core/internal/llm"
)

// ToolChecker is the tool-specific check stage: a thin adapter over
// the teacher's ApprovalManager (CheckPathApproval / CheckShellApproval),
// letting file and shell tools keep their existing directory- and
// pattern-scoped approval caching instead of re-deciding from scratch.
// Returning ok=false defers to the remaining pipeline stages.
type ToolChecker interface {
	Check(toolName string, args json.RawMessage, isWrite bool) (allow bool, ok bool, err error)
}

// Pipeline is the five-stage permission pipeline (spec §4.E):
//  1. mode bypass — ModeBypass admits everything immediately.
//  2. rule evaluator — an explicit Deny or Ask short-circuits here.
//  3. tool-specific check — e.g. the teacher's directory/pattern caches.
//  4. rule evaluator passthrough — an explicit Allow admits here.
//  5. default read/write split, modulated by PermissionMode.
type Pipeline struct {
	Mode      PermissionMode
	Rules     RuleEvaluator
	Checker   ToolChecker // optional; nil skips stage 3
	Approvals *ApprovalStore
	Requester Requester
}

// Decision is the pipeline's final verdict for one call.
type Decision struct {
	Allow  bool
	Reason string
}

// Check runs the five stages for one call. override, when non-nil
// (set by a PreToolUse hook), replaces the rule-evaluator's outcome
// for stages 2 and 4.
func (p *Pipeline) Check(ctx context.Context, tool llm.Tool, callId ids.CallId, args json.RawMessage, override *RuleOutcome) (Decision, error) {
	name := tool.Spec().Name

	// Stage 1: mode bypass.
	if p.Mode == ModeBypass {
		return Decision{Allow: true, Reason: "bypass mode"}, nil
	}

	ruleOutcome := RulePassthrough
	if p.Rules != nil {
		ruleOutcome = p.Rules.Evaluate(name, args)
	}
	if override != nil {
		ruleOutcome = *override
	}

	// Stage 2: explicit deny/ask short-circuit.
	if ruleOutcome == RuleDeny {
		return Decision{}, corekind.Newf(corekind.PermissionDenied, "rule denies %s", name)
	}
	if ruleOutcome == RuleAsk {
		return p.ask(ctx, tool, callId, args)
	}

	isWrite := IsMutating(tool, args)

	// Stage 3: tool-specific check.
	if p.Checker != nil {
		if allow, ok, err := p.Checker.Check(name, args, isWrite); ok {
			if err != nil {
				return Decision{}, err
			}
			if allow {
				return Decision{Allow: true, Reason: "tool-specific check"}, nil
			}
			return p.ask(ctx, tool, callId, args)
		}
	}

	// Stage 4: explicit allow passthrough.
	if ruleOutcome == RuleAllow {
		return Decision{Allow: true, Reason: "rule allows"}, nil
	}

	// Stage 5: default read/write split under the permission mode.
	if !isWrite {
		return Decision{Allow: true, Reason: "read-only default"}, nil
	}
	switch p.Mode {
	case ModeAcceptEdits:
		if _, ok := tool.(interface{ IsFileEdit() bool }); ok {
			return Decision{Allow: true, Reason: "accept-edits mode"}, nil
		}
	case ModePlan:
		return Decision{}, corekind.Newf(corekind.PermissionDenied, "plan mode denies mutating tool %s", name)
	case ModeDontAsk:
		return Decision{}, corekind.Newf(corekind.PermissionDenied, "dont-ask mode denies unapproved mutating tool %s", name)
	}
	return p.ask(ctx, tool, callId, args)
}

func (p *Pipeline) ask(ctx context.Context, tool llm.Tool, callId ids.CallId, args json.RawMessage) (Decision, error) {
	if p.Mode == ModeDontAsk {
		return Decision{}, corekind.Newf(corekind.PermissionDenied, "dont-ask mode denies %s", tool.Spec().Name)
	}
	if p.Approvals == nil || p.Requester == nil {
		return Decision{}, corekind.Newf(corekind.PermissionDenied, "%s requires approval but no requester is configured", tool.Spec().Name)
	}
	name := tool.Spec().Name
	argValue := normalizeArgs(args)
	description := fmt.Sprintf("%s: %s", name, tool.Preview(args))
	allowed, err := p.Approvals.Resolve(ctx, p.Requester, name, argValue, description, callId, IsMutating(tool, args))
	if err != nil {
		return Decision{}, err
	}
	if !allowed {
		return Decision{}, corekind.Newf(corekind.PermissionDenied, "user denied %s", name)
	}
	return Decision{Allow: true, Reason: "user approved"}, nil
}
