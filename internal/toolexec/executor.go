package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cocode/agent-core/internal/corekind"
	"github.com/cocode/agent-core/internal/events"
	"github.com/cocode/agent-core/internal/ids"
	"github.com/cocode/agent-core/internal/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// tracer and meter bind to whatever global TracerProvider/MeterProvider
// the process registers (otel.SetTracerProvider / otel.SetMeterProvider);
// with neither set they're no-ops, same as the teacher's observability
// package when its Endpoint is left empty.
var (
	tracer = otel.Tracer("github.com/cocode/agent-core/internal/toolexec")
	meter  = otel.Meter("github.com/cocode/agent-core/internal/toolexec")
)

// CallRequest is one queued or in-flight tool invocation.
type CallRequest struct {
	CallId ids.CallId
	Name   string
	Args   json.RawMessage
}

// CallResult is what a completed CallRequest produced.
type CallResult struct {
	CallId ids.CallId
	Output llm.ToolOutput
	Err    error
}

// Executor is the streaming tool executor: it classifies each call as
// concurrency-safe or not, runs safe calls immediately under a
// concurrency cap and queues unsafe ones, drains whatever remains
// once the model's stream ends, and supports cooperative abort.
type Executor struct {
	registry  *llm.ToolRegistry
	pipeline  *Pipeline
	hooks     *HookRunner
	results   *ResultStore
	emit      func(events.Event)
	allowlist map[string]struct{} // nil = unrestricted

	cap int
	sem chan struct{}

	mu       sync.Mutex
	pending  []CallRequest
	aborted  bool

	inflight sync.WaitGroup
	onResult func(CallResult)

	callCount metric.Int64Counter
}

func NewExecutor(registry *llm.ToolRegistry, pipeline *Pipeline, hooks *HookRunner, results *ResultStore, emit func(events.Event), concurrencyCap int) *Executor {
	if concurrencyCap <= 0 {
		concurrencyCap = 4
	}
	callCount, _ := meter.Int64Counter("toolexec.calls",
		metric.WithDescription("tool calls completed, by tool name and outcome"))
	return &Executor{
		registry:  registry,
		pipeline:  pipeline,
		hooks:     hooks,
		results:   results,
		emit:      emit,
		cap:       concurrencyCap,
		sem:       make(chan struct{}, concurrencyCap),
		callCount: callCount,
	}
}

// OnResult installs the callback invoked with every call's final
// result, safe or unsafe, immediate or drained.
func (e *Executor) OnResult(cb func(CallResult)) *Executor { e.onResult = cb; return e }

// Restrict intersects the executor's allowlist with names. Calling it
// more than once (e.g. a nested skill narrowing further) always
// shrinks the set, never grows it — spec §4.E's resolved allowlist
// Open Question.
func (e *Executor) Restrict(names []string) {
	next := make(map[string]struct{}, len(names))
	for _, n := range names {
		if e.allowlist == nil {
			next[n] = struct{}{}
			continue
		}
		if _, ok := e.allowlist[n]; ok {
			next[n] = struct{}{}
		}
	}
	e.allowlist = next
}

func (e *Executor) allowed(name string) bool {
	if e.allowlist == nil {
		return true
	}
	_, ok := e.allowlist[name]
	return ok
}

// OnToolComplete dispatches one call as soon as its arguments are
// known: concurrency-safe calls launch immediately while a cap slot
// is free, everything else queues for DrainPending.
func (e *Executor) OnToolComplete(ctx context.Context, req CallRequest) {
	e.mu.Lock()
	if e.aborted {
		e.mu.Unlock()
		e.deliver(ctx, CallResult{CallId: req.CallId, Err: corekind.New(corekind.Cancelled, "execution aborted")})
		return
	}
	e.mu.Unlock()

	tool, ok := e.registry.Get(req.Name)
	if !ok || !e.allowed(req.Name) {
		e.deliver(ctx, CallResult{CallId: req.CallId, Err: corekind.Newf(corekind.NotFound, "tool %q is not available", req.Name)})
		return
	}

	if IsConcurrencySafe(tool, req.Args) {
		select {
		case e.sem <- struct{}{}:
			e.inflight.Add(1)
			go e.runSafe(ctx, tool, req)
			return
		default:
		}
	}

	e.mu.Lock()
	e.pending = append(e.pending, req)
	e.mu.Unlock()
}

func (e *Executor) runSafe(ctx context.Context, tool llm.Tool, req CallRequest) {
	defer func() { <-e.sem; e.inflight.Done() }()
	e.deliver(ctx, e.run(ctx, tool, req))
}

// DrainPending runs everything queued by OnToolComplete, in FIFO
// order, once the model's stream has ended. Safe calls launch
// concurrently up to the remaining cap; unsafe calls wait for all
// currently in-flight work to finish and run alone, per spec §4.E
// "pending-call drain with dynamic scheduling".
func (e *Executor) DrainPending(ctx context.Context) {
	for {
		e.mu.Lock()
		if len(e.pending) == 0 || e.aborted {
			e.mu.Unlock()
			break
		}
		req := e.pending[0]
		e.pending = e.pending[1:]
		e.mu.Unlock()

		tool, ok := e.registry.Get(req.Name)
		if !ok || !e.allowed(req.Name) {
			e.deliver(ctx, CallResult{CallId: req.CallId, Err: corekind.Newf(corekind.NotFound, "tool %q is not available", req.Name)})
			continue
		}

		if IsConcurrencySafe(tool, req.Args) {
			e.sem <- struct{}{}
			e.inflight.Add(1)
			go e.runSafe(ctx, tool, req)
			continue
		}

		e.inflight.Wait() // unsafe calls never overlap with anything
		e.inflight.Add(1)
		result := e.run(ctx, tool, req)
		e.inflight.Done()
		e.deliver(ctx, result)
	}
	e.inflight.Wait()
}

// run executes one call end to end: hooks, permission pipeline, the
// tool itself, post hooks, and truncation. Panics inside the tool are
// recovered and returned as a structured Internal error carrying the
// call id, per spec §4.E "abort semantics".
func (e *Executor) run(ctx context.Context, tool llm.Tool, req CallRequest) (result CallResult) {
	ctx, span := tracer.Start(ctx, "toolexec.run_tool", trace.WithAttributes(
		attribute.String("tool.name", req.Name),
		attribute.String("call.id", string(req.CallId)),
	))
	defer span.End()

	result.CallId = req.CallId

	defer func() {
		if r := recover(); r != nil {
			result.Err = corekind.Newf(corekind.Internal, "tool %s panicked for call %s: %v", req.Name, req.CallId, r)
		}
		if result.Err != nil {
			span.RecordError(result.Err)
			span.SetStatus(codes.Error, result.Err.Error())
		}
	}()

	if e.emit != nil {
		e.emit(events.ToolUseStarted{CallId: req.CallId, Name: req.Name})
	}

	args := req.Args
	var override *RuleOutcome
	if e.hooks != nil {
		modified, ov, err := e.hooks.RunPre(ctx, req.Name, args)
		if err != nil {
			result.Err = err
			e.hooks.RunPost(ctx, PostToolUseFailure, req.Name, args, nil, err)
			return result
		}
		args = modified
		override = ov
	}

	if e.pipeline != nil {
		decision, err := e.pipeline.Check(ctx, tool, req.CallId, args, override)
		if err != nil {
			result.Err = err
			if e.hooks != nil {
				e.hooks.RunPost(ctx, PostToolUseFailure, req.Name, args, nil, err)
			}
			return result
		}
		if !decision.Allow {
			result.Err = corekind.Newf(corekind.PermissionDenied, "denied: %s", req.Name)
			return result
		}
	}

	output, err := tool.Execute(ctx, args)
	if err != nil {
		result.Err = err
		if e.hooks != nil {
			e.hooks.RunPost(ctx, PostToolUseFailure, req.Name, args, &output, err)
		}
		return result
	}

	if e.results != nil {
		truncated, truncErr := e.results.Apply(req.Name, output.Content)
		if truncErr != nil {
			result.Err = truncErr
			return result
		}
		output.Content = truncated
	}

	if e.hooks != nil {
		e.hooks.RunPost(ctx, PostToolUse, req.Name, args, &output, nil)
	}

	result.Output = output
	return result
}

func (e *Executor) deliver(ctx context.Context, result CallResult) {
	if e.emit != nil {
		e.emit(events.ToolUseCompleted{
			CallId:  result.CallId,
			Output:  result.Output.Content,
			IsError: result.Err != nil,
		})
	}
	if e.callCount != nil {
		outcome := "ok"
		if result.Err != nil {
			outcome = "error"
		}
		e.callCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if e.onResult != nil {
		e.onResult(result)
	}
}

// Abort cancels the executor: every queued call is dropped without
// running, and one ToolExecutionAborted event is emitted. Already
// in-flight calls are expected to observe ctx cancellation themselves
// and return; Abort does not block waiting for them.
func (e *Executor) Abort(reason string) {
	e.mu.Lock()
	e.aborted = true
	dropped := len(e.pending)
	e.pending = nil
	e.mu.Unlock()

	if e.emit != nil {
		e.emit(events.ToolExecutionAborted{Reason: fmt.Sprintf("%s (%d pending calls dropped)", reason, dropped)})
	}
}

// Reset clears the aborted flag so the executor can be reused for the
// next turn.
func (e *Executor) Reset() {
	e.mu.Lock()
	e.aborted = false
	e.mu.Unlock()
}
