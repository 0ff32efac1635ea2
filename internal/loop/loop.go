package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cocode/agent-core/internal/corekind"
	"github.com/cocode/agent-core/internal/corestate"
	"github.com/cocode/agent-core/internal/events"
	"github.com/cocode/agent-core/internal/ids"
	"github.com/cocode/agent-core/internal/toolexec"
)

// maxOutputTokenRecovery bounds the output-token-exhaustion retry loop
// at step 9 (driver.rs MAX_OUTPUT_TOKEN_RECOVERY).
const maxOutputTokenRecovery = 3

// Config bundles everything a Loop needs beyond the per-call Session
// and Provider: model identity, compaction policy, fallback chain,
// and the turn/stall limits spec §4.G names.
type Config struct {
	Model              string
	ContextWindow      int
	MaxTurns           int // 0 = unbounded
	StallTimeout       time.Duration
	Compact            CompactConfig
	Fallback           FallbackConfig
	SystemPromptPrefix string
}

// Loop is Component G: the turn state machine. One Loop instance drives
// one conversation's worth of model turns; Session carries the
// conversation state across instances (spec §4.F/§4.G split).
type Loop struct {
	provider      Provider
	executor      *toolexec.Executor
	sessionMemory SessionMemory
	hooks         []CompactHook
	emitFn        func(events.Event)
	sleep         func(ctx context.Context, delayMs int)

	model         string
	contextWindow int
	maxTurns      int
	stallTimeout  time.Duration
	compact       CompactConfig
	fallback      FallbackConfig
	fallbackState FallbackState
	systemPrefix  string

	turnNumber         int
	totalInputTokens   int
	totalOutputTokens  int

	resultsMu sync.Mutex
	results   []toolexec.CallResult
}

// NewLoop constructs a Loop bound to provider and executor, applying
// cfg's policy. emit receives every events.Event the loop produces;
// pass a no-op if the caller only cares about the final TurnResult.
func NewLoop(provider Provider, executor *toolexec.Executor, emit func(events.Event), cfg Config) *Loop {
	if emit == nil {
		emit = func(events.Event) {}
	}
	stall := cfg.StallTimeout
	if stall <= 0 {
		stall = 60 * time.Second
	}
	l := &Loop{
		provider:      provider,
		executor:      executor,
		emitFn:        emit,
		sleep:         defaultSleep,
		model:         cfg.Model,
		contextWindow: cfg.ContextWindow,
		maxTurns:      cfg.MaxTurns,
		stallTimeout:  stall,
		compact:       cfg.Compact,
		fallback:      cfg.Fallback,
		fallbackState: NewFallbackState(cfg.Model),
		systemPrefix:  cfg.SystemPromptPrefix,
	}
	if executor != nil {
		executor.OnResult(l.collectResult)
	}
	return l
}

// collectResult is the toolexec.Executor result callback: every
// delivered CallResult (whether launched during streaming or drained
// afterward) is buffered here until drainResults collects them for the
// current turn's tool-result bookkeeping.
func (l *Loop) collectResult(r toolexec.CallResult) {
	l.resultsMu.Lock()
	defer l.resultsMu.Unlock()
	l.results = append(l.results, r)
}

// drainResults takes and clears the buffered results.
func (l *Loop) drainResults() []toolexec.CallResult {
	l.resultsMu.Lock()
	defer l.resultsMu.Unlock()
	out := l.results
	l.results = nil
	return out
}

// WithSessionMemory wires the tier-1 compaction cache.
func (l *Loop) WithSessionMemory(m SessionMemory) *Loop { l.sessionMemory = m; return l }

// WithCompactHooks wires PreCompact hooks, run before tier-2 compaction.
func (l *Loop) WithCompactHooks(hooks ...CompactHook) *Loop { l.hooks = hooks; return l }

func defaultSleep(ctx context.Context, delayMs int) {
	t := time.NewTimer(time.Duration(delayMs) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (l *Loop) emit(e events.Event) { l.emitFn(e) }

// TurnNumber, TotalInputTokens, TotalOutputTokens report the loop's
// running counters, mirroring AgentLoop's public accessors.
func (l *Loop) TurnNumber() int        { return l.turnNumber }
func (l *Loop) TotalInputTokens() int  { return l.totalInputTokens }
func (l *Loop) TotalOutputTokens() int { return l.totalOutputTokens }

// RunTurn drives the 18-step core message loop to completion for one
// submitted user message, recursing internally (as an explicit loop,
// not Rust's Box::pin self-recursion) on a tool_calls finish until the
// model stops, the turn budget is exhausted, or the session is
// cancelled (spec §4.G, §5).
func (l *Loop) RunTurn(ctx context.Context, session *corestate.Session, initialMessage string) (corestate.TurnResult, error) {
	turnIdx := session.History.StartTurn(ids.NewTurnId(), session.History.Len()+1, initialMessage)

	for {
		result, nextText, recurse, err := l.runOneModelTurn(ctx, session, turnIdx)
		if err != nil || !recurse {
			return result, err
		}
		turnIdx = session.History.StartTurn(ids.NewTurnId(), session.History.Len()+1, nextText)
	}
}

// runOneModelTurn executes steps 1-18 for a single provider round trip.
func (l *Loop) runOneModelTurn(ctx context.Context, session *corestate.Session, turnIdx int) (result corestate.TurnResult, nextUserText string, recurse bool, err error) {
	turns := session.History.Turns()
	turnId := turns[turnIdx].TurnId

	// ── STEP 1 ──
	l.emit(events.StreamRequestStart{TurnId: turnId})

	// ── STEP 2 ── query-tracking depth/chain bookkeeping lives in the
	// driver's QueryTracking in the original; this Go rendering has no
	// analogous cross-loop correlation state to maintain.

	// ── STEP 3 ── messages are already normalized via
	// MessageHistory.Turns(); no separate normalization pass needed.

	// ── STEP 4: micro-compaction ──
	if removed, saved := l.microCompact(session); removed > 0 {
		l.emit(events.MicroCompactionApplied{RemovedResults: removed, TokensSaved: saved})
	}

	// ── STEP 5: auto-compaction ──
	if err := l.maybeAutoCompact(ctx, session, string(turnId)); err != nil {
		return corestate.TurnResult{}, "", false, err
	}

	// ── STEP 6: initialize state ──
	l.turnNumber++
	l.emit(events.TurnStarted{TurnId: turnId, TurnNumber: l.turnNumber})

	// ── STEP 7: model resolution is the Provider's responsibility; the
	// loop only carries Config.Model and the fallback chain.

	// ── STEP 8: blocking token-limit check ──
	estimated := session.History.EstimatedTokens()
	status := calculateThreshold(l.compact.estimateWithMargin(estimated), l.contextWindow, l.compact)
	if status.IsAtBlockingLimit {
		return corestate.TurnResult{
			StopReason:   corestate.StopError,
			Usage:        corestate.UsageSnapshot{InputTokens: l.totalInputTokens, OutputTokens: l.totalOutputTokens},
		}, "", false, corekind.Newf(corekind.ChunkLimitExceeded,
			"context window exceeded: %d tokens >= %d limit", estimated, status.BlockingLimit)
	}

	// ── STEP 9: stream with tools, retrying on output-token exhaustion ──
	var collected collectedResponse
	for attempt := 0; ; attempt++ {
		if session.CancelToken().Tripped() {
			return corestate.TurnResult{Interrupted: true, StopReason: corestate.StopUserInterrupted}, "", false, nil
		}
		c, streamErr := l.streamWithTools(ctx, session, turnId)
		if streamErr == nil {
			collected = c
			break
		}
		if attempt+1 >= maxOutputTokenRecovery {
			return corestate.TurnResult{}, "", false, streamErr
		}
		l.emit(events.Retry{Attempt: attempt + 1, MaxAttempts: maxOutputTokenRecovery, DelayMs: 0})
	}

	// ── STEP 10: record telemetry ──
	l.totalInputTokens += collected.usage.InputTokens
	l.totalOutputTokens += collected.usage.OutputTokens
	l.emit(events.StreamRequestEnd{Usage: events.Usage{
		InputTokens:       collected.usage.InputTokens,
		OutputTokens:      collected.usage.OutputTokens,
		CachedInputTokens: collected.usage.CachedInputTokens,
	}})

	toolCalls := collected.toolCalls
	if err := session.History.SetAssistant(turnIdx, collected.text, historyToolCalls(toolCalls)); err != nil {
		return corestate.TurnResult{}, "", false, corekind.Wrap(corekind.Internal, "recording assistant message", err)
	}

	// ── STEP 11/12: execute the tool queue ──
	var toolResults []toolexec.CallResult
	if len(toolCalls) > 0 {
		l.executor.DrainPending(ctx)
		toolResults = l.drainResults()

		// ── STEP 13: abort handling ──
		if session.CancelToken().Tripped() {
			return corestate.TurnResult{Interrupted: true, StopReason: corestate.StopUserInterrupted}, "", false, nil
		}

		for _, r := range toolResults {
			payload := corestate.ToolResultPayload{
				CallId:  r.CallId,
				Name:    callName(toolCalls, r.CallId),
				Output:  r.Output.Content,
				IsError: r.Err != nil,
			}
			if r.Err != nil {
				payload.Output = r.Err.Error()
			}
			if err := session.History.AddToolResult(turnIdx, payload); err != nil {
				return corestate.TurnResult{}, "", false, corekind.Wrap(corekind.Internal, "recording tool result", err)
			}
		}
	}

	// ── STEP 14: hook-stop check is deferred; a running turn is never
	// unwound by a hook once tool execution has completed (see
	// internal/toolexec's PostToolUse semantics).

	// ── STEP 15: auto-compact tracking bookkeeping — folded into
	// l.turnNumber, no separate counter needed.

	// ── STEP 16: queued steering commands ──
	queued := session.SharedQueuedCommands().Drain()

	// ── STEP 17: max-turns check ──
	if l.maxTurns > 0 && l.turnNumber >= l.maxTurns {
		l.emit(events.MaxTurnsReached{})
		return corestate.TurnResult{
			StopReason: corestate.StopMaxTurns,
			MaxTurnsHit: true,
			Usage:      corestate.UsageSnapshot{InputTokens: l.totalInputTokens, OutputTokens: l.totalOutputTokens},
		}, "", false, nil
	}

	l.emit(events.TurnCompleted{TurnId: turnId, Usage: events.Usage{
		InputTokens:       collected.usage.InputTokens,
		OutputTokens:      collected.usage.OutputTokens,
		CachedInputTokens: collected.usage.CachedInputTokens,
	}})

	// ── STEP 18: recurse or return ──
	usage := corestate.UsageSnapshot{InputTokens: l.totalInputTokens, OutputTokens: l.totalOutputTokens}
	switch collected.finishReason {
	case FinishToolCalls:
		return corestate.TurnResult{}, buildToolResultText(toolResults, toolCalls, queued), true, nil
	case FinishStop, FinishMaxTokens:
		return corestate.TurnResult{Text: collected.text, StopReason: corestate.StopCompleted, Usage: usage}, "", false, nil
	default:
		return corestate.TurnResult{Text: collected.text, StopReason: corestate.StopCompleted, Usage: usage}, "", false, nil
	}
}

type collectedResponse struct {
	text         string
	toolCalls    []ToolUse
	usage        corestate.UsageSnapshot
	finishReason FinishReason
}

// streamWithTools runs one provider stream, dispatching tool-use chunks
// to the executor as they arrive (tool execution starts DURING
// streaming, per spec §4.G) and detecting stalls via l.stallTimeout.
func (l *Loop) streamWithTools(ctx context.Context, session *corestate.Session, turnId ids.TurnId) (collectedResponse, error) {
	req := Request{
		Model:        l.fallbackState.CurrentModel,
		SystemPrompt: l.systemPrefix,
		Messages:     session.History.Turns(),
	}

	stream, err := l.provider.Stream(ctx, req)
	if err != nil {
		return collectedResponse{}, corekind.Wrap(corekind.ProviderError, "stream request failed", err)
	}
	defer stream.Close()

	type recvResult struct {
		chunk StreamChunk
		err   error
	}
	recvCh := make(chan recvResult, 1)
	next := func() {
		chunk, err := stream.Recv()
		recvCh <- recvResult{chunk, err}
	}
	go next()

	var out collectedResponse
	var textBuilder strings.Builder

	for {
		timer := time.NewTimer(l.stallTimeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return collectedResponse{}, ctx.Err()
		case <-timer.C:
			l.emit(events.StreamStallDetected{TurnId: turnId, Timeout: l.stallTimeout.String()})
			if l.fallbackState.ShouldFallback(l.fallback) {
				if next, ok := l.fallbackState.NextModel(l.fallback); ok {
					l.emit(events.ModelFallbackStarted{From: l.fallbackState.CurrentModel, To: next, Reason: "stream stalled"})
					l.fallbackState.RecordFallback(next, "stream stalled")
				}
			}
			return collectedResponse{}, corekind.Newf(corekind.Timeout, "stream stalled for %s", l.stallTimeout)
		case r := <-recvCh:
			timer.Stop()
			if r.err == io.EOF {
				out.finishReason = FinishStop
				return out, nil
			}
			if r.err != nil {
				if l.isOverloadError(r.err) && l.fallbackState.ShouldFallback(l.fallback) {
					if next, ok := l.fallbackState.NextModel(l.fallback); ok {
						l.fallbackState.RecordFallback(next, r.err.Error())
					}
				}
				return collectedResponse{}, corekind.Wrap(corekind.ProviderError, "stream error", r.err)
			}

			switch r.chunk.Type {
			case ChunkText:
				if r.chunk.Text != "" {
					textBuilder.WriteString(r.chunk.Text)
					l.emit(events.TextDelta{TurnId: turnId, Delta: r.chunk.Text})
				}
			case ChunkThinking:
				if r.chunk.Text != "" {
					l.emit(events.ThinkingDelta{TurnId: turnId, Delta: r.chunk.Text})
				}
			case ChunkToolUse:
				if r.chunk.Tool != nil {
					tu := *r.chunk.Tool
					out.toolCalls = append(out.toolCalls, tu)
					l.executor.OnToolComplete(ctx, toolexec.CallRequest{
						CallId: ids.CallId(tu.CallId),
						Name:   tu.Name,
						Args:   json.RawMessage(tu.Args),
					})
				}
			case ChunkUsage:
				out.usage = r.chunk.Usage
			case ChunkError:
				return collectedResponse{}, corekind.Wrap(corekind.ProviderError, "stream reported error", r.chunk.Err)
			case ChunkDone:
				if r.chunk.FinishReason != "" {
					out.finishReason = r.chunk.FinishReason
				} else {
					out.finishReason = FinishStop
				}
				out.text = textBuilder.String()
				return out, nil
			}
			go next()
		}
	}
}

func (l *Loop) isOverloadError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "overload") || strings.Contains(msg, "rate_limit")
}

func historyToolCalls(uses []ToolUse) []corestate.ToolCall {
	out := make([]corestate.ToolCall, 0, len(uses))
	for _, u := range uses {
		out = append(out, corestate.ToolCall{CallId: ids.CallId(u.CallId), Name: u.Name, Arguments: json.RawMessage(u.Args)})
	}
	return out
}

func callName(uses []ToolUse, callId ids.CallId) string {
	for _, u := range uses {
		if u.CallId == string(callId) {
			return u.Name
		}
	}
	return ""
}

// buildToolResultText renders tool results (and any steering commands
// queued mid-turn) into the synthetic user message the next model turn
// sees, matching driver.rs's add_tool_results_to_history tool_result
// wrapping plus step 16's queued-command injection.
func buildToolResultText(results []toolexec.CallResult, calls []ToolUse, queued []corestate.QueuedCommandInfo) string {
	var b strings.Builder
	for _, r := range results {
		name := callName(calls, r.CallId)
		text := r.Output.Content
		if r.Err != nil {
			text = fmt.Sprintf("Tool error: %v", r.Err)
		}
		fmt.Fprintf(&b, "<tool_result tool_use_id=%q name=%q>\n%s\n</tool_result>\n\n", r.CallId, name, text)
	}
	for _, q := range queued {
		fmt.Fprintf(&b, "%s\n\n", q.Prompt)
	}
	return strings.TrimSpace(b.String())
}
