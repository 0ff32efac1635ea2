// Package corestate implements Component F, Session State: the
// exclusive owner of MessageHistory and the per-session cancellation
// token, plus the steering-command queue and role-selection snapshot
// that the agent loop and driver share.
package corestate

import (
	"encoding/json"
	"fmt"

	"github.com/cocode/agent-core/internal/ids"
)

// Role is the speaker of a TrackedMessage.
type Role string

const (
	RoleSystem     Role = "system"
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// ToolCall is one tool invocation requested by the assistant.
type ToolCall struct {
	CallId    ids.CallId
	Name      string
	Arguments json.RawMessage
}

// ToolResultPayload is the result of one tool invocation, referenced by
// the CallId of the ToolCall it answers.
type ToolResultPayload struct {
	CallId  ids.CallId
	Name    string
	Output  string
	IsError bool
}

// TrackedMessage is a single, immutable-after-insertion conversation
// entry. Tool-result entries must reference a preceding tool call by
// CallId within the same history (enforced by MessageHistory.Append).
type TrackedMessage struct {
	Role       Role
	Text       string
	ToolCalls  []ToolCall
	ToolResult *ToolResultPayload
	TurnId     ids.TurnId
	Sequence   int // monotonic within the history
}

// UsageSnapshot aggregates token accounting for one Turn.
type UsageSnapshot struct {
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
}

// Turn is the ordered record of one user/assistant exchange, possibly
// spanning several tool calls. Created by the driver at input
// submission; the loop appends assistant and tool records; usage is
// aggregated at the end.
type Turn struct {
	TurnId       ids.TurnId
	Number       int
	UserMessage  TrackedMessage
	Assistant    *TrackedMessage
	ToolCalls    []ToolCall
	ToolResults  []ToolResultPayload
	Usage        UsageSnapshot
}

// MessageHistory is the ordered sequence of Turns plus a summarization
// marker. Owned exclusively by Session State; mutated only by the loop
// goroutine between suspension points (see spec §5), so no internal
// locking is required.
type MessageHistory struct {
	turns         []Turn
	nextSeq       int
	summarized    bool
	summaryTurnId ids.TurnId
}

// NewMessageHistory returns an empty history.
func NewMessageHistory() *MessageHistory {
	return &MessageHistory{}
}

// StartTurn appends a new Turn seeded with the user's message and
// returns it by index so the caller can fill in assistant/tool records
// as the turn progresses.
func (h *MessageHistory) StartTurn(turnId ids.TurnId, number int, userText string) int {
	h.nextSeq++
	t := Turn{
		TurnId: turnId,
		Number: number,
		UserMessage: TrackedMessage{
			Role:     RoleUser,
			Text:     userText,
			TurnId:   turnId,
			Sequence: h.nextSeq,
		},
	}
	h.turns = append(h.turns, t)
	return len(h.turns) - 1
}

// SetAssistant records the assistant's response for the turn at index.
func (h *MessageHistory) SetAssistant(index int, text string, calls []ToolCall) error {
	if index < 0 || index >= len(h.turns) {
		return fmt.Errorf("corestate: turn index %d out of range", index)
	}
	h.nextSeq++
	t := &h.turns[index]
	msg := TrackedMessage{
		Role:      RoleAssistant,
		Text:      text,
		ToolCalls: calls,
		TurnId:    t.TurnId,
		Sequence:  h.nextSeq,
	}
	t.Assistant = &msg
	t.ToolCalls = calls
	return nil
}

// AddToolResult appends a tool result to the turn at index. It is an
// invariant violation (and returns an error) if no preceding ToolCall
// in the same turn carries the matching CallId.
func (h *MessageHistory) AddToolResult(index int, result ToolResultPayload) error {
	if index < 0 || index >= len(h.turns) {
		return fmt.Errorf("corestate: turn index %d out of range", index)
	}
	t := &h.turns[index]
	found := false
	for _, c := range t.ToolCalls {
		if c.CallId == result.CallId {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("corestate: tool_result for unknown call_id %q", result.CallId)
	}
	t.ToolResults = append(t.ToolResults, result)
	return nil
}

// SetUsage aggregates usage for the turn at index.
func (h *MessageHistory) SetUsage(index int, usage UsageSnapshot) error {
	if index < 0 || index >= len(h.turns) {
		return fmt.Errorf("corestate: turn index %d out of range", index)
	}
	h.turns[index].Usage = usage
	return nil
}

// Turns returns a read-only snapshot of the turn slice. Callers must
// not retain it across a mutation (e.g. across a suspension point in
// the loop); copy what's needed instead.
func (h *MessageHistory) Turns() []Turn {
	return h.turns
}

// Len returns the number of turns currently tracked.
func (h *MessageHistory) Len() int { return len(h.turns) }

// Summarized reports whether ApplyCompaction has run at least once.
func (h *MessageHistory) Summarized() bool { return h.summarized }

// MicroCompact drops tool-result payloads from all but the most recent
// keepRecent turns, replacing their text with a placeholder. It never
// removes a tool_result that is among the most recent keepRecent
// (matches the invariant in spec §8). Returns the number of results
// removed and an estimate of tokens saved (4 chars/token, matching the
// teacher's rough token-estimation heuristic elsewhere in the repo).
func (h *MessageHistory) MicroCompact(keepRecent int) (removed int, tokensSaved int) {
	if keepRecent < 0 {
		keepRecent = 0
	}
	boundary := len(h.turns) - keepRecent
	if boundary <= 0 {
		return 0, 0
	}
	for i := 0; i < boundary; i++ {
		t := &h.turns[i]
		for j := range t.ToolResults {
			r := &t.ToolResults[j]
			if r.Output == microCompactPlaceholder {
				continue
			}
			tokensSaved += len(r.Output) / 4
			r.Output = microCompactPlaceholder
			removed++
		}
	}
	return removed, tokensSaved
}

const microCompactPlaceholder = "[tool result dropped by micro-compaction]"

// ApplyCompaction replaces the leading history with a synthetic summary
// turn followed by the last keepTurns original turns, recording
// tokensSaved as an estimate for the emitted CompactionCompleted event.
// Matches spec's MessageHistory invariant: "after compaction, the first
// entry is a synthetic summary turn, followed by the last K original
// turns."
func (h *MessageHistory) ApplyCompaction(summary string, keepTurns int, turnId ids.TurnId) (removedMessages int) {
	if keepTurns < 0 {
		keepTurns = 0
	}
	if keepTurns > len(h.turns) {
		keepTurns = len(h.turns)
	}
	kept := make([]Turn, keepTurns)
	copy(kept, h.turns[len(h.turns)-keepTurns:])

	removedMessages = 0
	for _, t := range h.turns[:len(h.turns)-keepTurns] {
		removedMessages++ // user message
		if t.Assistant != nil {
			removedMessages++
		}
		removedMessages += len(t.ToolResults)
	}

	h.nextSeq++
	summaryTurn := Turn{
		TurnId: turnId,
		Number: 0,
		UserMessage: TrackedMessage{
			Role:     RoleSystem,
			Text:     summary,
			TurnId:   turnId,
			Sequence: h.nextSeq,
		},
	}
	h.turns = append([]Turn{summaryTurn}, kept...)
	h.summarized = true
	h.summaryTurnId = turnId
	return removedMessages
}

// EstimatedTokens gives a rough token estimate for the whole history
// (4 characters per token), used by the loop's compaction threshold
// checks before a real tokenizer count is available.
func (h *MessageHistory) EstimatedTokens() int {
	chars := 0
	for _, t := range h.turns {
		chars += len(t.UserMessage.Text)
		if t.Assistant != nil {
			chars += len(t.Assistant.Text)
		}
		for _, r := range t.ToolResults {
			chars += len(r.Output)
		}
	}
	return chars / 4
}
