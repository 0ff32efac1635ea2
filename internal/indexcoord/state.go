// Package indexcoord implements the Index Coordinator: a state machine
// driving the Retrieval Pipeline, backed by per-pipeline event queues
// and a fixed-size worker pool, per spec §4.D.
package indexcoord

import "github.com/cocode/agent-core/internal/corekind"

// IndexState is the closed state-machine union from spec §3
// ("IndexState (coordinator)"): Uninitialized | Building | Ready |
// Stale | Failed.
type IndexState interface {
	indexStateMarker()
}

type indexStateBase struct{}

func (indexStateBase) indexStateMarker() {}

type Uninitialized struct{ indexStateBase }

type Building struct {
	indexStateBase
	Progress float64
}

type Ready struct {
	indexStateBase
	Files  int
	Chunks int
	Last   string // last successful indexing batch id
}

type Stale struct {
	indexStateBase
	Reason string
}

type Failed struct {
	indexStateBase
	Error   string
	Retries int
}

// transition enforces the allowed-transition table from spec §4.D.
// Returns ok=false for any pair not in the table.
func transition(current IndexState, event Event) (IndexState, bool) {
	switch cur := current.(type) {
	case Uninitialized:
		if event.Kind == EventTrigger {
			return Building{Progress: 0}, true
		}
	case Building:
		switch event.Kind {
		case EventSuccess:
			return Ready{Files: event.Files, Chunks: event.Chunks, Last: event.BatchId}, true
		case EventError:
			return Failed{Error: event.Error, Retries: 0}, true
		case EventCancel:
			return Uninitialized{}, true
		}
	case Ready:
		switch event.Kind {
		case EventTimerOrWatch:
			return Stale{Reason: event.Reason}, true
		case EventRebuild:
			return Building{Progress: 0}, true
		}
	case Stale:
		if event.Kind == EventRebuild {
			return Building{Progress: 0}, true
		}
	case Failed:
		if event.Kind == EventRebuild && cur.Retries < maxRetries {
			return Building{Progress: 0}, true
		}
	}
	return current, false
}

const maxRetries = 5

// EventKind enumerates the transition triggers spec §4.D names.
type EventKind string

const (
	EventTrigger      EventKind = "trigger"
	EventSuccess      EventKind = "success"
	EventError        EventKind = "error"
	EventCancel       EventKind = "cancel"
	EventTimerOrWatch EventKind = "timer_or_watch"
	EventRebuild      EventKind = "rebuild"
)

// Event is the transition input; fields beyond Kind are only
// meaningful for the events that populate them.
type Event struct {
	Kind    EventKind
	Files   int
	Chunks  int
	BatchId string
	Error   string
	Reason  string
}

// Readiness reports whether IndexState admits search, per spec §4.D
// "Readiness": Ready and Stale admit; Uninitialized/Building/Failed
// are refused with a typed NotReady error.
func Readiness(s IndexState) error {
	switch s.(type) {
	case Ready, Stale:
		return nil
	case Uninitialized:
		return corekind.New(corekind.NotReady, "index not yet initialized")
	case Building:
		return corekind.New(corekind.NotReady, "index is building")
	case Failed:
		return corekind.New(corekind.NotReady, "index build failed")
	default:
		return corekind.New(corekind.NotReady, "index in unknown state")
	}
}
