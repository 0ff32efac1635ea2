package corestate

import (
	"context"
	"sync"
)

// CancelToken is a single-shot, broadcastable cancellation signal
// cloneable across goroutines: every holder shares the same underlying
// context.Context, so tripping it once is observed everywhere without
// ad-hoc flags (spec §9, "Cancellation propagation"). Reset() replaces
// the underlying context so the next turn starts with a fresh,
// untripped token, matching "after the turn returns Interrupted, the
// driver resets the token for the next turn" (spec §5).
type CancelToken struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCancelToken returns a token derived from parent.
func NewCancelToken(parent context.Context) *CancelToken {
	ctx, cancel := context.WithCancel(parent)
	return &CancelToken{ctx: ctx, cancel: cancel}
}

// Context returns the current live context. Pass this directly to any
// function accepting a context.Context; cancellation is observed via
// ctx.Done()/ctx.Err() exactly as with any other context.
func (t *CancelToken) Context() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctx
}

// Trip cancels the current context. Idempotent.
func (t *CancelToken) Trip() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	cancel()
}

// Tripped reports whether the current context has been cancelled.
func (t *CancelToken) Tripped() bool {
	select {
	case <-t.Context().Done():
		return true
	default:
		return false
	}
}

// Reset replaces the underlying context with a fresh one derived from
// parent, so a subsequent turn is not born already-cancelled.
func (t *CancelToken) Reset(parent context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ctx, t.cancel = context.WithCancel(parent)
}
