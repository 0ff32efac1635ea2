package indexcoord

import "testing"

func TestTransition_AllowedTable(t *testing.T) {
	cases := []struct {
		name    string
		current IndexState
		event   Event
		wantOk  bool
	}{
		{"uninitialized->building on trigger", Uninitialized{}, Event{Kind: EventTrigger}, true},
		{"uninitialized refuses success", Uninitialized{}, Event{Kind: EventSuccess}, false},
		{"building->ready on success", Building{}, Event{Kind: EventSuccess}, true},
		{"building->failed on error", Building{}, Event{Kind: EventError}, true},
		{"building->uninitialized on cancel", Building{}, Event{Kind: EventCancel}, true},
		{"ready->stale on timer", Ready{}, Event{Kind: EventTimerOrWatch}, true},
		{"ready->building on rebuild", Ready{}, Event{Kind: EventRebuild}, true},
		{"ready refuses error", Ready{}, Event{Kind: EventError}, false},
		{"stale->building on rebuild", Stale{}, Event{Kind: EventRebuild}, true},
		{"stale refuses trigger", Stale{}, Event{Kind: EventTrigger}, false},
		{"failed->building on rebuild under retry cap", Failed{Retries: 0}, Event{Kind: EventRebuild}, true},
		{"failed refuses rebuild over retry cap", Failed{Retries: maxRetries}, Event{Kind: EventRebuild}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := transition(tc.current, tc.event)
			if ok != tc.wantOk {
				t.Fatalf("transition(%#v, %#v) ok = %v, want %v", tc.current, tc.event, ok, tc.wantOk)
			}
		})
	}
}

func TestReadiness_OnlyReadyAndStaleAdmit(t *testing.T) {
	admits := map[string]IndexState{"ready": Ready{}, "stale": Stale{}}
	refuses := map[string]IndexState{"uninitialized": Uninitialized{}, "building": Building{}, "failed": Failed{}}

	for name, s := range admits {
		if err := Readiness(s); err != nil {
			t.Errorf("%s: expected readiness, got %v", name, err)
		}
	}
	for name, s := range refuses {
		if err := Readiness(s); err == nil {
			t.Errorf("%s: expected NotReady, got nil", name)
		}
	}
}

func TestEventQueue_MergesDuplicatePathEnqueues(t *testing.T) {
	q := NewEventQueue()
	q.Enqueue("a.go", PipelineIndex, "batch-1", "trace-1")
	q.Enqueue("a.go", PipelineIndex, "batch-2", "trace-2")

	if q.Len() != 1 {
		t.Fatalf("expected single merged entry, got %d", q.Len())
	}

	entry, ok := q.Pop()
	if !ok {
		t.Fatal("expected an entry to pop")
	}
	if len(entry.BatchIds) != 2 {
		t.Fatalf("expected both batch ids preserved, got %v", entry.BatchIds)
	}
	if len(entry.MergedSeqs) != 1 {
		t.Fatalf("expected one superseded seq recorded, got %v", entry.MergedSeqs)
	}
}

func TestEventQueue_DistinctPathsDoNotMerge(t *testing.T) {
	q := NewEventQueue()
	q.Enqueue("a.go", PipelineIndex, "b1", "t1")
	q.Enqueue("b.go", PipelineIndex, "b1", "t1")
	if q.Len() != 2 {
		t.Fatalf("expected 2 distinct entries, got %d", q.Len())
	}
}
