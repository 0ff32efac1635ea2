// Package loop implements Component G, the Agent Loop: the 18-step
// turn state machine that drives one conversation turn from submitted
// user text through streaming, tool execution, compaction, and
// completion, recursing on a tool_calls finish until the model stops
// or the turn budget runs out.
package loop

import (
	"context"

	"github.com/cocode/agent-core/internal/corestate"
)

// Request is what the loop hands to a Provider for one streamed turn.
// SystemPrompt and Messages are rebuilt fresh on every attempt so
// compaction and queued-command injection are visible to the very next
// request.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []corestate.Turn
	ToolSpecs    []ToolSpec
	MaxTokens    int
}

// ToolSpec is the subset of a tool's definition the provider needs to
// advertise tool-calling to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      []byte // raw JSON schema
}

// ChunkType distinguishes the kinds of update a ResponseStream yields.
// Mirrors the teacher's flat EventType-tagged llm.Event shape
// (internal/llm/types.go) rather than a closed interface union, since
// this models an external provider wire protocol, not an in-process
// event sum type.
type ChunkType string

const (
	ChunkText      ChunkType = "text_delta"
	ChunkThinking  ChunkType = "thinking_delta"
	ChunkToolUse   ChunkType = "tool_use"
	ChunkUsage     ChunkType = "usage"
	ChunkDone      ChunkType = "done"
	ChunkError     ChunkType = "error"
)

// FinishReason mirrors the provider finish-reason taxonomy driver.rs
// switches on at step 18.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishMaxTokens FinishReason = "max_tokens"
)

// ToolUse is one tool-call chunk surfaced mid-stream, enabling
// concurrency-safe tools to start executing before the response
// finishes (spec §4.G "tool execution starts during streaming").
type ToolUse struct {
	CallId string
	Name   string
	Args   []byte // raw JSON
}

// StreamChunk is one update from a ResponseStream.
type StreamChunk struct {
	Type         ChunkType
	Text         string
	Tool         *ToolUse
	Usage        corestate.UsageSnapshot
	FinishReason FinishReason
	Err          error
}

// ResponseStream is a single streamed model turn.
type ResponseStream interface {
	Recv() (StreamChunk, error) // io.EOF when the stream ends cleanly
	Close() error
}

// Provider resolves a model and streams one turn's response.
type Provider interface {
	Stream(ctx context.Context, req Request) (ResponseStream, error)
	// Summarize runs one non-streaming completion used for LLM-based
	// compaction (tier 2).
	Summarize(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}
