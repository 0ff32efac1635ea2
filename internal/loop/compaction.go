package loop

import (
	"context"
	"fmt"

	"github.com/cocode/agent-core/internal/corestate"
	"github.com/cocode/agent-core/internal/events"
	"github.com/cocode/agent-core/internal/ids"
)

// CompactConfig holds the threshold constants driver.rs's CompactConfig
// bundles: percentages of the context window at which the loop warns,
// auto-compacts, and finally refuses to call the model at all.
type CompactConfig struct {
	// AutoCompactThreshold is the fraction of the context window that
	// triggers auto-compaction (driver.rs default 0.8).
	AutoCompactThreshold float64
	// WarningMargin is how far below AutoCompactThreshold the warning
	// event starts firing.
	WarningMargin float64
	// BlockingOffset is the token headroom reserved below the context
	// window past which the loop refuses to call the provider at all
	// (driver.rs BLOCKING_LIMIT_OFFSET).
	BlockingOffset int
	// SafetyMarginRatio inflates the raw token estimate before
	// threshold comparisons (driver.rs estimate_tokens_with_margin).
	SafetyMarginRatio float64
	// RecentToolResultsToKeep is how many of the most recent turns'
	// tool results micro-compaction must never drop.
	RecentToolResultsToKeep int
	// MicroCompactEnabled toggles step 4.
	MicroCompactEnabled bool
	// AutoCompactEnabled toggles the tier-1/tier-2 compaction at step 5.
	AutoCompactEnabled bool
	// KeepTurnsOnCompact is how many trailing turns survive a full
	// compaction alongside the synthetic summary turn.
	KeepTurnsOnCompact int
	// MaxSummaryOutputTokens bounds the tier-2 summarization call.
	MaxSummaryOutputTokens int
}

// DefaultCompactConfig matches driver.rs's LoopConfig/CompactConfig
// defaults.
func DefaultCompactConfig() CompactConfig {
	return CompactConfig{
		AutoCompactThreshold:    0.8,
		WarningMargin:           0.1,
		BlockingOffset:          13_000,
		SafetyMarginRatio:       1.0,
		RecentToolResultsToKeep: 3,
		MicroCompactEnabled:     true,
		AutoCompactEnabled:      true,
		KeepTurnsOnCompact:      4,
		MaxSummaryOutputTokens:  4096,
	}
}

// ThresholdStatus is the result of comparing an estimated token count
// against the context window under CompactConfig, grounded on
// driver.rs's ThresholdStatus::calculate.
type ThresholdStatus struct {
	EstimatedTokens           int
	ContextWindow             int
	PercentLeft               float64
	IsAboveWarningThreshold   bool
	IsAboveAutoCompactThreshold bool
	IsAtBlockingLimit         bool
	AutoCompactTarget         int
	BlockingLimit             int
}

func calculateThreshold(estimated, contextWindow int, cfg CompactConfig) ThresholdStatus {
	if contextWindow <= 0 {
		return ThresholdStatus{EstimatedTokens: estimated, PercentLeft: 1}
	}
	target := int(float64(contextWindow) * cfg.AutoCompactThreshold)
	warning := int(float64(target) * (1 - cfg.WarningMargin))
	blocking := contextWindow - cfg.BlockingOffset

	percentLeft := 1 - float64(estimated)/float64(contextWindow)
	if percentLeft < 0 {
		percentLeft = 0
	}

	return ThresholdStatus{
		EstimatedTokens:             estimated,
		ContextWindow:               contextWindow,
		PercentLeft:                 percentLeft,
		IsAboveWarningThreshold:     estimated >= warning,
		IsAboveAutoCompactThreshold: estimated >= target,
		IsAtBlockingLimit:           estimated >= blocking,
		AutoCompactTarget:           target,
		BlockingLimit:               blocking,
	}
}

func (cfg CompactConfig) estimateWithMargin(tokens int) int {
	return int(float64(tokens) * cfg.SafetyMarginRatio)
}

// SessionMemory is the tier-1, zero-API-cost compaction source: a
// previously cached summary the loop can apply without another model
// call. Grounded on driver.rs's try_session_memory_compact /
// write_session_memory pairing; a driver wires a concrete
// file-or-store-backed implementation.
type SessionMemory interface {
	// Load returns a cached summary and its token estimate, or ok=false
	// if none is available.
	Load() (summary string, tokenEstimate int, ok bool)
	// Save persists a newly computed summary for future turns.
	Save(summary string, turnId string) error
}

// microCompact drops tool-result payloads from all but the most recent
// turns once the warning threshold is crossed, without an API call
// (step 4). Returns (removed, tokensSaved); both zero if below
// threshold or disabled.
func (l *Loop) microCompact(session *corestate.Session) (removed, tokensSaved int) {
	if !l.compact.MicroCompactEnabled {
		return 0, 0
	}
	before := session.History.EstimatedTokens()
	status := calculateThreshold(before, l.contextWindow, l.compact)
	if !status.IsAboveWarningThreshold {
		return 0, 0
	}
	return session.History.MicroCompact(l.compact.RecentToolResultsToKeep)
}

// maybeAutoCompact implements step 5: tier-1 session-memory compaction
// first (zero cost), falling back to tier-2 LLM summarization only if
// no cached summary is available.
func (l *Loop) maybeAutoCompact(ctx context.Context, session *corestate.Session, turnId string) error {
	estimated := session.History.EstimatedTokens()
	withMargin := l.compact.estimateWithMargin(estimated)
	status := calculateThreshold(withMargin, l.contextWindow, l.compact)

	if status.IsAboveWarningThreshold && !status.IsAboveAutoCompactThreshold {
		l.emit(events.ContextUsageWarning{
			EstimatedTokens:  withMargin,
			WarningThreshold: status.AutoCompactTarget,
			PercentLeft:      status.PercentLeft,
		})
	}

	if !status.IsAboveAutoCompactThreshold || !l.compact.AutoCompactEnabled {
		return nil
	}

	if l.sessionMemory != nil {
		if summary, tokenEstimate, ok := l.sessionMemory.Load(); ok {
			tokensSaved := estimated - tokenEstimate
			if tokensSaved < 0 {
				tokensSaved = 0
			}
			session.History.ApplyCompaction(summary, l.compact.KeepTurnsOnCompact, ids.TurnId(turnId))
			l.emit(events.SessionMemoryCompactApplied{
				SavedTokens:   tokensSaved,
				SummaryTokens: tokenEstimate,
			})
			return nil
		}
	}

	return l.compactViaProvider(ctx, session, turnId)
}

// compactViaProvider runs tier-2, LLM-based summarization: build a
// prompt from the conversation, call the provider, retry with
// exponential backoff on empty output or error, then replace the
// leading history with a synthetic summary turn.
func (l *Loop) compactViaProvider(ctx context.Context, session *corestate.Session, turnId string) error {
	if len(l.hooks) > 0 {
		for _, outcome := range runPreCompactHooks(ctx, l.hooks, turnId) {
			if outcome.Rejected {
				l.emit(events.CompactionSkippedByHook{HookName: outcome.Name, Reason: outcome.Reason})
				return nil
			}
		}
	}

	l.emit(events.CompactionStarted{})

	tokensBefore := session.History.EstimatedTokens()
	systemPrompt := buildCompactInstructions(l.compact.MaxSummaryOutputTokens)
	userPrompt := buildSummarizationPrompt(session.History.Turns())

	var summary string
	var lastErr error
	maxRetries := 2
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		text, err := l.provider.Summarize(ctx, systemPrompt, userPrompt, l.compact.MaxSummaryOutputTokens)
		if err == nil && text != "" {
			summary = text
			break
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("empty summary produced")
		}
		if attempt <= maxRetries {
			delayMs := 1000 * (1 << (attempt - 1))
			l.emit(events.CompactionRetry{
				Attempt:     attempt,
				MaxAttempts: maxRetries + 1,
				DelayMs:     delayMs,
				Reason:      lastErr.Error(),
			})
			if l.sleep != nil {
				l.sleep(ctx, delayMs)
			}
		}
	}

	if summary == "" {
		l.emit(events.CompactionFailed{Attempts: maxRetries + 1, Error: lastErr.Error()})
		return nil
	}

	removed := session.History.ApplyCompaction(summary, l.compact.KeepTurnsOnCompact, ids.TurnId(turnId))
	tokensAfter := session.History.EstimatedTokens()
	tokensSaved := tokensBefore - tokensAfter
	if tokensSaved < 0 {
		tokensSaved = 0
	}

	if l.sessionMemory != nil {
		_ = l.sessionMemory.Save(summary, turnId)
	}

	l.emit(events.CompactionCompleted{
		RemovedMessages: removed,
		SummaryTokens:   tokensAfter,
	})
	_ = tokensSaved
	return nil
}

func buildCompactInstructions(maxOutputTokens int) string {
	return fmt.Sprintf(
		"Summarize the conversation so far in under %d tokens, preserving: "+
			"the user's goal, decisions made, files touched, open tasks, and "+
			"any errors encountered.", maxOutputTokens)
}

func buildSummarizationPrompt(turns []corestate.Turn) string {
	var text string
	for _, t := range turns {
		text += t.UserMessage.Text + "\n"
		if t.Assistant != nil {
			text += t.Assistant.Text + "\n"
		}
	}
	return text
}
