package driver

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cocode/agent-core/internal/corestate"
	"github.com/cocode/agent-core/internal/events"
	"github.com/cocode/agent-core/internal/llm"
	"github.com/cocode/agent-core/internal/loop"
	"github.com/cocode/agent-core/internal/toolexec"
)

type fakeStream struct {
	chunks []loop.StreamChunk
	idx    int
}

func (s *fakeStream) Recv() (loop.StreamChunk, error) {
	if s.idx >= len(s.chunks) {
		return loop.StreamChunk{}, io.EOF
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

func (p *scriptedProvider) Stream(ctx context.Context, req loop.Request) (loop.ResponseStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.streams[p.calls%len(p.streams)]
	p.calls++
	return s, nil
}

func (p *scriptedProvider) Summarize(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	return "summary", nil
}

func newTestDriver(t *testing.T, streams []*fakeStream, emit func(events.Event)) *Driver {
	t.Helper()
	provider := &scriptedProvider{streams: streams}
	build := func(role corestate.RoleSelection) *loop.Loop {
		exec := toolexec.NewExecutor(llm.NewToolRegistry(), &toolexec.Pipeline{Mode: toolexec.ModeBypass}, nil, nil, nil, 4)
		return loop.NewLoop(provider, exec, emit, loop.Config{
			Model:         role.Model,
			ContextWindow: 200000,
			Compact:       loop.DefaultCompactConfig(),
		})
	}
	return New("/tmp", corestate.RoleSelection{Model: "test-model"}, build, emit)
}

func TestDriver_SubmitInputRunsATurn(t *testing.T) {
	var mu sync.Mutex
	var turnCompleted bool
	emit := func(e events.Event) {
		if _, ok := e.(events.TurnCompleted); ok {
			mu.Lock()
			turnCompleted = true
			mu.Unlock()
		}
	}
	d := newTestDriver(t, []*fakeStream{
		{chunks: []loop.StreamChunk{
			{Type: loop.ChunkText, Text: "hi there"},
			{Type: loop.ChunkDone, FinishReason: loop.FinishStop},
		}},
	}, emit)

	commands := make(chan events.Command, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	commands <- events.SubmitInput{DisplayText: "hello"}
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(commands)
	}()

	d.Run(ctx, commands)

	mu.Lock()
	defer mu.Unlock()
	if !turnCompleted {
		t.Fatal("expected a TurnCompleted event from the submitted turn")
	}
	if d.Session().History.Len() != 1 {
		t.Fatalf("expected one recorded turn, got %d", d.Session().History.Len())
	}
}

func TestDriver_QueueCommandWhileBusyEmitsCommandQueued(t *testing.T) {
	block := make(chan struct{})
	var mu sync.Mutex
	var queuedSeen bool
	emit := func(e events.Event) {
		if _, ok := e.(events.CommandQueued); ok {
			mu.Lock()
			queuedSeen = true
			mu.Unlock()
			close(block)
		}
	}

	d := newTestDriver(t, []*fakeStream{
		{chunks: []loop.StreamChunk{
			{Type: loop.ChunkText, Text: "slow"},
			{Type: loop.ChunkDone, FinishReason: loop.FinishStop},
		}},
	}, emit)

	commands := make(chan events.Command, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	commands <- events.SubmitInput{DisplayText: "first"}
	commands <- events.QueueCommand{Prompt: "also include tests"}

	go func() {
		select {
		case <-block:
		case <-time.After(time.Second):
		}
		close(commands)
	}()

	d.Run(ctx, commands)

	mu.Lock()
	defer mu.Unlock()
	if !queuedSeen {
		t.Fatal("expected a CommandQueued event while the first turn was running")
	}
}

func TestDriver_InterruptTripsCancelToken(t *testing.T) {
	d := newTestDriver(t, []*fakeStream{{chunks: nil}}, func(events.Event) {})

	commands := make(chan events.Command, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	commands <- events.Interrupt{}
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(commands)
	}()

	d.Run(ctx, commands)

	if !d.Session().CancelToken().Tripped() {
		t.Fatal("expected Interrupt to trip the session's cancel token")
	}
}

func TestDriver_ApprovalResponseResolvesRequester(t *testing.T) {
	d := newTestDriver(t, nil, func(events.Event) {})

	commands := make(chan events.Command)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, commands)
	defer close(commands)

	result := make(chan events.ApprovalDecision, 1)
	go func() {
		decision, err := d.Requester().RequestApproval(ctx, toolexec.PendingApproval{RequestId: "req-1", ToolName: "shell"})
		if err != nil {
			t.Error(err)
			return
		}
		result <- decision
	}()

	time.Sleep(20 * time.Millisecond)
	commands <- events.ApprovalResponse{RequestId: "req-1", Decision: events.Approved{}}

	select {
	case decision := <-result:
		if _, ok := decision.(events.Approved); !ok {
			t.Fatalf("expected Approved, got %#v", decision)
		}
	case <-time.After(time.Second):
		t.Fatal("approval request was never resolved")
	}
}
