package indexcoord

import (
	"context"
	"sync"
	"time"

	"github.com/cocode/agent-core/internal/corekind"
	"github.com/cocode/agent-core/internal/retrieval"
)

const (
	// lockRefreshInterval and leaseDuration come from SUPPLEMENTED
	// FEATURES: workers refresh their cooperative lock every 15s
	// against a 30s lease, so a long batch does not lose ownership.
	lockRefreshInterval = 15 * time.Second
	leaseDuration       = 30 * time.Second

	// chunksPerFileEstimate is the heuristic manager.rs uses to
	// project a batch's chunk growth before committing to it:
	// estimated_new_chunks = (added+modified)*10.
	chunksPerFileEstimate = 10
)

// Lease is the cooperative-lock handle a worker refreshes periodically
// while processing a batch so another coordinator instance does not
// assume ownership mid-batch.
type Lease interface {
	Refresh(ctx context.Context) error
	Release(ctx context.Context)
}

// Coordinator drives one workspace's IndexState machine, its two event
// queues (index, tag), and a fixed-size worker pool running
// Pipeline.RunOnce batches, per spec §4.D.
type Coordinator struct {
	Workspace  string
	Pipeline   *retrieval.Pipeline
	MaxChunks  int // 0 disables the chunk-budget check
	NumWorkers int

	mu    sync.Mutex
	state IndexState

	indexQueue *EventQueue
	tagQueue   *EventQueue

	lease Lease // nil disables lock-refresh (single-process deployments)
}

func NewCoordinator(workspace string, pipeline *retrieval.Pipeline, numWorkers int) *Coordinator {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	return &Coordinator{
		Workspace:  workspace,
		Pipeline:   pipeline,
		NumWorkers: numWorkers,
		state:      Uninitialized{},
		indexQueue: NewEventQueue(),
		tagQueue:   NewEventQueue(),
	}
}

func (c *Coordinator) WithLease(l Lease) *Coordinator { c.lease = l; return c }

// State returns the coordinator's current IndexState.
func (c *Coordinator) State() IndexState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s IndexState) { c.mu.Lock(); c.state = s; c.mu.Unlock() }

// apply runs a transition and updates state if it is admitted,
// returning ok to match transition's contract.
func (c *Coordinator) apply(event Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, ok := transition(c.state, event)
	if ok {
		c.state = next
	}
	return ok
}

// Trigger starts the first build from Uninitialized.
func (c *Coordinator) Trigger(ctx context.Context) error {
	if !c.apply(Event{Kind: EventTrigger}) {
		return corekind.New(corekind.InvalidInput, "trigger not admitted from current state")
	}
	return c.runBatch(ctx, retrieval.Incremental)
}

// RequestRebuild moves Ready/Stale/Failed back to Building and runs a
// rebuild in the given mode.
func (c *Coordinator) RequestRebuild(ctx context.Context, mode retrieval.RebuildMode) error {
	if !c.apply(Event{Kind: EventRebuild}) {
		return corekind.New(corekind.InvalidInput, "rebuild not admitted from current state")
	}
	return c.runBatch(ctx, mode)
}

// MarkStale transitions Ready -> Stale, e.g. on a filesystem watch
// event or a freshness timer.
func (c *Coordinator) MarkStale(reason string) bool {
	return c.apply(Event{Kind: EventTimerOrWatch, Reason: reason})
}

func (c *Coordinator) runBatch(ctx context.Context, mode retrieval.RebuildMode) error {
	if c.MaxChunks > 0 {
		if err := c.checkChunkBudget(ctx); err != nil {
			c.apply(Event{Kind: EventError, Error: err.Error()})
			return err
		}
	}

	var refreshCancel context.CancelFunc
	if c.lease != nil {
		var refreshCtx context.Context
		refreshCtx, refreshCancel = context.WithCancel(ctx)
		go c.refreshLoop(refreshCtx)
		defer refreshCancel()
	}

	result, err := c.Pipeline.Rebuild(ctx, mode)
	if err != nil {
		c.apply(Event{Kind: EventError, Error: err.Error()})
		return err
	}

	c.apply(Event{Kind: EventSuccess, Files: result.Added + result.Modified, Chunks: result.ChunksWritten})
	return nil
}

// checkChunkBudget projects the batch's chunk growth using manager.rs's
// heuristic and short-circuits with ChunkLimitExceeded before any
// processing starts, per spec §4.D.
func (c *Coordinator) checkChunkBudget(ctx context.Context) error {
	current, err := c.Pipeline.Walker.Walk()
	if err != nil {
		return err
	}
	previous, err := c.Pipeline.Store.GetWorkspaceFiles(ctx, c.Workspace)
	if err != nil {
		return err
	}
	changes := retrieval.DetectChanges(current, previous)

	var addedOrModified int
	for _, ch := range changes {
		if ch.Status != retrieval.Deleted {
			addedOrModified++
		}
	}
	estimatedNewChunks := addedOrModified * chunksPerFileEstimate
	projectedTotal := len(previous) + estimatedNewChunks
	if projectedTotal > c.MaxChunks {
		return corekind.Newf(corekind.ChunkLimitExceeded, "projected chunk total %d exceeds budget %d", projectedTotal, c.MaxChunks)
	}
	return nil
}

func (c *Coordinator) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(lockRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.lease.Release(context.Background())
			return
		case <-ticker.C:
			_ = c.lease.Refresh(ctx)
		}
	}
}
