package loop

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cocode/agent-core/internal/corekind"
	"github.com/cocode/agent-core/internal/corestate"
	"github.com/cocode/agent-core/internal/events"
	"github.com/cocode/agent-core/internal/llm"
	"github.com/cocode/agent-core/internal/toolexec"
)

type fakeStream struct {
	chunks []StreamChunk
	idx    int
	delay  time.Duration
}

func (s *fakeStream) Recv() (StreamChunk, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.idx >= len(s.chunks) {
		return StreamChunk{}, io.EOF
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, nil
}

func (s *fakeStream) Close() error { return nil }

type scriptedProvider struct {
	mu      sync.Mutex
	streams []*fakeStream
	calls   int
}

func (p *scriptedProvider) Stream(ctx context.Context, req Request) (ResponseStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.streams[p.calls]
	p.calls++
	return s, nil
}

func (p *scriptedProvider) Summarize(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	return "a summary", nil
}

type echoTool struct{}

func (echoTool) Spec() llm.ToolSpec { return llm.ToolSpec{Name: "echo"} }
func (echoTool) Execute(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error) {
	return llm.ToolOutput{Content: "echoed"}, nil
}
func (echoTool) Preview(args json.RawMessage) string   { return "echo" }
func (echoTool) ConcurrencySafe(args json.RawMessage) bool { return true }

func newTestExecutor(tools ...llm.Tool) *toolexec.Executor {
	reg := llm.NewToolRegistry()
	for _, t := range tools {
		reg.Register(t)
	}
	return toolexec.NewExecutor(reg, &toolexec.Pipeline{Mode: toolexec.ModeBypass}, nil, nil, nil, 4)
}

func newTestSession() *corestate.Session {
	return corestate.NewSession(context.Background(), "/tmp", corestate.RoleSelection{Role: "default"})
}

func TestLoop_SimpleTextOnlyTurnCompletes(t *testing.T) {
	provider := &scriptedProvider{streams: []*fakeStream{
		{chunks: []StreamChunk{
			{Type: ChunkText, Text: "hello"},
			{Type: ChunkDone, FinishReason: FinishStop},
		}},
	}}
	exec := newTestExecutor()
	l := NewLoop(provider, exec, func(events.Event) {}, Config{Model: "test-model", ContextWindow: 200000, Compact: DefaultCompactConfig()})

	result, err := l.RunTurn(context.Background(), newTestSession(), "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "hello" || result.StopReason != corestate.StopCompleted {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestLoop_ToolCallRecursesAndCompletes(t *testing.T) {
	provider := &scriptedProvider{streams: []*fakeStream{
		{chunks: []StreamChunk{
			{Type: ChunkToolUse, Tool: &ToolUse{CallId: "call-1", Name: "echo", Args: []byte(`{}`)}},
			{Type: ChunkDone, FinishReason: FinishToolCalls},
		}},
		{chunks: []StreamChunk{
			{Type: ChunkText, Text: "done"},
			{Type: ChunkDone, FinishReason: FinishStop},
		}},
	}}
	exec := newTestExecutor(echoTool{})
	l := NewLoop(provider, exec, func(events.Event) {}, Config{Model: "test-model", ContextWindow: 200000, Compact: DefaultCompactConfig()})

	session := newTestSession()
	result, err := l.RunTurn(context.Background(), session, "run echo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "done" || result.StopReason != corestate.StopCompleted {
		t.Fatalf("unexpected result: %#v", result)
	}
	if session.History.Len() != 2 {
		t.Fatalf("expected 2 history turns (tool-call round + follow-up), got %d", session.History.Len())
	}
	turns := session.History.Turns()
	if len(turns[0].ToolResults) != 1 || turns[0].ToolResults[0].Output != "echoed" {
		t.Fatalf("expected tool result recorded on first turn, got %#v", turns[0].ToolResults)
	}
}

func TestLoop_MaxTurnsReached(t *testing.T) {
	provider := &scriptedProvider{streams: []*fakeStream{
		{chunks: []StreamChunk{
			{Type: ChunkToolUse, Tool: &ToolUse{CallId: "call-1", Name: "echo", Args: []byte(`{}`)}},
			{Type: ChunkDone, FinishReason: FinishToolCalls},
		}},
	}}
	exec := newTestExecutor(echoTool{})
	l := NewLoop(provider, exec, func(events.Event) {}, Config{Model: "test-model", ContextWindow: 200000, MaxTurns: 1, Compact: DefaultCompactConfig()})

	result, err := l.RunTurn(context.Background(), newTestSession(), "run echo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.MaxTurnsHit || result.StopReason != corestate.StopMaxTurns {
		t.Fatalf("expected max-turns stop, got %#v", result)
	}
}

func TestLoop_BlockingLimitStopsEarly(t *testing.T) {
	provider := &scriptedProvider{streams: []*fakeStream{{chunks: nil}}}
	exec := newTestExecutor()
	cfg := Config{Model: "test-model", ContextWindow: 100, Compact: DefaultCompactConfig()}
	cfg.Compact.BlockingOffset = 0
	cfg.Compact.AutoCompactEnabled = false
	cfg.Compact.MicroCompactEnabled = false
	l := NewLoop(provider, exec, func(events.Event) {}, cfg)

	huge := make([]byte, 2000)
	for i := range huge {
		huge[i] = 'x'
	}
	_, err := l.RunTurn(context.Background(), newTestSession(), string(huge))
	if err == nil || !corekind.Is(err, corekind.ChunkLimitExceeded) {
		t.Fatalf("expected a ChunkLimitExceeded blocking-limit error, got %v", err)
	}
}

func TestLoop_StallTimeoutTriggersTimeoutError(t *testing.T) {
	provider := &scriptedProvider{streams: []*fakeStream{
		{delay: 50 * time.Millisecond, chunks: []StreamChunk{{Type: ChunkText, Text: "too slow"}}},
	}}
	exec := newTestExecutor()
	var mu sync.Mutex
	var stallSeen bool
	emit := func(e events.Event) {
		if _, ok := e.(events.StreamStallDetected); ok {
			mu.Lock()
			stallSeen = true
			mu.Unlock()
		}
	}
	l := NewLoop(provider, exec, emit, Config{Model: "test-model", ContextWindow: 200000, StallTimeout: 5 * time.Millisecond, Compact: DefaultCompactConfig()})

	_, err := l.RunTurn(context.Background(), newTestSession(), "hi")
	if err == nil || !corekind.Is(err, corekind.Timeout) {
		t.Fatalf("expected a Timeout error from stall detection, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !stallSeen {
		t.Fatal("expected a StreamStallDetected event")
	}
}
