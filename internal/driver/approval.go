package driver

import (
	"context"
	"sync"

	"github.com/cocode/agent-core/internal/corekind"
	"github.com/cocode/agent-core/internal/events"
	"github.com/cocode/agent-core/internal/toolexec"
)

// pendingApprovals correlates an events.ApprovalRequested emitted to the
// UI with the events.ApprovalResponse command that eventually answers
// it, keyed by RequestId. Grounded on the teacher's ApprovalCache
// mutex-guarded-map idiom (internal/tools/approval.go), generalized
// from path grants to one-shot answer channels.
type pendingApprovals struct {
	mu      sync.Mutex
	waiting map[string]chan events.ApprovalDecision
}

func newPendingApprovals() *pendingApprovals {
	return &pendingApprovals{waiting: make(map[string]chan events.ApprovalDecision)}
}

func (p *pendingApprovals) register(requestId string) chan events.ApprovalDecision {
	ch := make(chan events.ApprovalDecision, 1)
	p.mu.Lock()
	p.waiting[requestId] = ch
	p.mu.Unlock()
	return ch
}

func (p *pendingApprovals) forget(requestId string) {
	p.mu.Lock()
	delete(p.waiting, requestId)
	p.mu.Unlock()
}

// resolve delivers decision to the channel registered for requestId, if
// any is still waiting. A response for an unknown or already-answered
// RequestId is silently dropped, matching "ApprovalResponse for a
// request that already timed out is a no-op".
func (p *pendingApprovals) resolve(requestId string, decision events.ApprovalDecision) {
	p.mu.Lock()
	ch, ok := p.waiting[requestId]
	if ok {
		delete(p.waiting, requestId)
	}
	p.mu.Unlock()
	if ok {
		ch <- decision
	}
}

// approvalRequester is the Driver's implementation of toolexec.Requester:
// it emits events.ApprovalRequested and blocks on the matching
// events.ApprovalResponse, or ctx cancellation.
type approvalRequester struct {
	pending *pendingApprovals
	emit    func(events.Event)
}

func (r *approvalRequester) RequestApproval(ctx context.Context, req toolexec.PendingApproval) (events.ApprovalDecision, error) {
	ch := r.pending.register(req.RequestId)
	r.emit(events.ApprovalRequested{
		RequestId:   req.RequestId,
		CallId:      req.CallId,
		ToolName:    req.ToolName,
		Description: req.Description,
		IsWrite:     req.IsWrite,
	})

	select {
	case decision := <-ch:
		return decision, nil
	case <-ctx.Done():
		r.pending.forget(req.RequestId)
		return nil, corekind.Wrap(corekind.Cancelled, "approval request cancelled", ctx.Err())
	}
}
