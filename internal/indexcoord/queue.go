package indexcoord

import "sync"

// QueueEntryKind distinguishes the two pipelines spec §4.D names: the
// index pipeline (chunk/embed/write) and the tag pipeline (symbol
// extraction), each with its own queue.
type QueueEntryKind string

const (
	PipelineIndex QueueEntryKind = "index"
	PipelineTag   QueueEntryKind = "tag"
)

// QueueEntry is one path's pending work: a kind, the batch ids that
// contributed to it, a sequence number, the sequence numbers it
// superseded on merge, and a trace id for observability.
type QueueEntry struct {
	Path        string
	Kind        QueueEntryKind
	BatchIds    []string
	Seq         int
	MergedSeqs  []int
	TraceId     string
}

// EventQueue is a path-keyed queue: enqueuing an event for a path
// already present merges it rather than appending a duplicate entry,
// preserving all originating batch ids and recording superseded
// sequence numbers, per spec §4.D "Event queues".
type EventQueue struct {
	mu      sync.Mutex
	byPath  map[string]*QueueEntry
	order   []string // insertion order of paths currently queued
	nextSeq int
	notify  chan struct{}
}

func NewEventQueue() *EventQueue {
	return &EventQueue{byPath: make(map[string]*QueueEntry), notify: make(chan struct{}, 1)}
}

// Enqueue adds or merges an event for path. Returns the resulting
// entry's sequence number.
func (q *EventQueue) Enqueue(path string, kind QueueEntryKind, batchId, traceId string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextSeq++
	seq := q.nextSeq

	if existing, ok := q.byPath[path]; ok {
		existing.BatchIds = append(existing.BatchIds, batchId)
		existing.MergedSeqs = append(existing.MergedSeqs, existing.Seq)
		existing.Seq = seq
		existing.TraceId = traceId
		q.signal()
		return seq
	}

	q.byPath[path] = &QueueEntry{
		Path: path, Kind: kind, BatchIds: []string{batchId}, Seq: seq, TraceId: traceId,
	}
	q.order = append(q.order, path)
	q.signal()
	return seq
}

func (q *EventQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Notify returns the channel workers select on to wake when new work
// is enqueued.
func (q *EventQueue) Notify() <-chan struct{} { return q.notify }

// Pop removes and returns the oldest queued entry, or ok=false if empty.
func (q *EventQueue) Pop() (QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.order) > 0 {
		path := q.order[0]
		q.order = q.order[1:]
		entry, ok := q.byPath[path]
		if !ok {
			continue // path was popped and re-enqueued between order append and this Pop
		}
		delete(q.byPath, path)
		return *entry, true
	}
	return QueueEntry{}, false
}

// Len reports how many distinct paths are currently queued.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
