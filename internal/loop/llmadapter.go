package loop

import (
	"context"
	"encoding/json"
	"io"

	"github.com/cocode/agent-core/internal/corekind"
	"github.com/cocode/agent-core/internal/corestate"
	"github.com/cocode/agent-core/internal/llm"
)

// llmProviderAdapter bridges an llm.Provider (the Stream-based,
// multi-backend interface internal/llm providers implement) onto the
// narrower Provider this package drives a turn against. Grounded on
// driver_test.go's construction pattern, which always hands the loop
// a Provider built directly from an llm.Provider; this is the missing
// piece that makes that wiring buildable outside of tests.
type llmProviderAdapter struct {
	inner llm.Provider
}

// NewLLMProviderAdapter adapts inner for use as a loop.Provider.
func NewLLMProviderAdapter(inner llm.Provider) Provider {
	return &llmProviderAdapter{inner: inner}
}

func (a *llmProviderAdapter) Stream(ctx context.Context, req Request) (ResponseStream, error) {
	llmReq := llm.Request{
		Model:           req.Model,
		Messages:        toLLMMessages(req.SystemPrompt, req.Messages),
		Tools:           toLLMToolSpecs(req.ToolSpecs),
		MaxOutputTokens: req.MaxTokens,
	}
	stream, err := a.inner.Stream(ctx, llmReq)
	if err != nil {
		return nil, err
	}
	return &llmResponseStream{stream: stream}, nil
}

// Summarize runs a single non-streaming completion by draining a
// one-shot Stream, since llm.Provider has no separate non-streaming
// entrypoint (the teacher's providers are stream-first throughout).
func (a *llmProviderAdapter) Summarize(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	stream, err := a.inner.Stream(ctx, llm.Request{
		Messages:        []llm.Message{llm.SystemText(systemPrompt), llm.UserText(userPrompt)},
		MaxOutputTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var out string
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch ev.Type {
		case llm.EventTextDelta:
			out += ev.Text
		case llm.EventError:
			return "", ev.Err
		case llm.EventDone:
			return out, nil
		}
	}
	return out, nil
}

func toLLMMessages(systemPrompt string, turns []corestate.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns)*2+1)
	if systemPrompt != "" {
		msgs = append(msgs, llm.SystemText(systemPrompt))
	}
	for _, t := range turns {
		msgs = append(msgs, llm.UserText(t.UserMessage.Text))
		if t.Assistant != nil {
			msgs = append(msgs, llm.AssistantText(t.Assistant.Text))
		}
		for _, tr := range t.ToolResults {
			msgs = append(msgs, llm.ToolResultMessage(string(tr.CallId), tr.Name, tr.Output))
		}
	}
	return msgs
}

func toLLMToolSpecs(specs []ToolSpec) []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, len(specs))
	for _, s := range specs {
		var schema map[string]interface{}
		if len(s.Schema) > 0 {
			_ = json.Unmarshal(s.Schema, &schema)
		}
		out = append(out, llm.ToolSpec{Name: s.Name, Description: s.Description, Schema: schema})
	}
	return out
}

// llmResponseStream adapts an llm.Stream's flat, flag-tagged Event
// shape onto ResponseStream's StreamChunk shape.
type llmResponseStream struct {
	stream llm.Stream
}

func (r *llmResponseStream) Recv() (StreamChunk, error) {
	ev, err := r.stream.Recv()
	if err != nil {
		return StreamChunk{}, err
	}
	switch ev.Type {
	case llm.EventTextDelta:
		return StreamChunk{Type: ChunkText, Text: ev.Text}, nil
	case llm.EventToolCall:
		if ev.Tool == nil {
			return StreamChunk{}, corekind.New(corekind.ProviderError, "tool_call event missing tool payload")
		}
		return StreamChunk{Type: ChunkToolUse, Tool: &ToolUse{
			CallId: ev.Tool.ID,
			Name:   ev.Tool.Name,
			Args:   ev.Tool.Arguments,
		}}, nil
	case llm.EventUsage:
		var usage corestate.UsageSnapshot
		if ev.Use != nil {
			usage = corestate.UsageSnapshot{InputTokens: ev.Use.InputTokens, OutputTokens: ev.Use.OutputTokens}
		}
		return StreamChunk{Type: ChunkUsage, Usage: usage}, nil
	case llm.EventDone:
		return StreamChunk{Type: ChunkDone, FinishReason: FinishStop}, nil
	case llm.EventError:
		return StreamChunk{Type: ChunkError, Err: ev.Err}, nil
	default:
		return StreamChunk{}, corekind.Newf(corekind.ProviderError, "unrecognized provider event type %q", ev.Type)
	}
}

func (r *llmResponseStream) Close() error { return r.stream.Close() }
