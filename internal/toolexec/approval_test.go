package toolexec

import (
	"context"
	"testing"

	"github.com/cocode/agent-core/internal/events"
	"github.com/cocode/agent-core/internal/ids"
)

type recordingPersister struct {
	grants []ApprovalGrant
}

func (p *recordingPersister) PersistApproval(g ApprovalGrant) error {
	p.grants = append(p.grants, g)
	return nil
}

func TestApprovalStore_ApprovedWithPrefixPersistsBothSessionAndDurable(t *testing.T) {
	persister := &recordingPersister{}
	store := NewApprovalStore(persister)
	requester := &fakeRequester{decision: events.ApprovedWithPrefix{Pattern: "npm *"}}

	allowed, err := store.Resolve(context.Background(), requester, "shell", "npm test", "run npm test", ids.NewCallId(), true)
	if err != nil || !allowed {
		t.Fatalf("expected approval, got allowed=%v err=%v", allowed, err)
	}
	if len(persister.grants) != 1 || persister.grants[0].Pattern != "npm *" {
		t.Fatalf("expected pattern persisted, got %#v", persister.grants)
	}
	if !store.Lookup("shell", "npm run build") {
		t.Fatal("expected the granted prefix to cover a new matching command")
	}
}

func TestApprovalStore_ExactApprovalDoesNotGrantWildcard(t *testing.T) {
	store := NewApprovalStore(nil)
	requester := &fakeRequester{decision: events.Approved{}}

	allowed, err := store.Resolve(context.Background(), requester, "shell", "ls", "list files", ids.NewCallId(), false)
	if err != nil || !allowed {
		t.Fatalf("expected approval, got allowed=%v err=%v", allowed, err)
	}
	if store.Lookup("shell", "rm -rf /") {
		t.Fatal("a one-off Approved decision must not grant unrelated commands")
	}
}

func TestApprovalStore_DeniedIsNotCached(t *testing.T) {
	store := NewApprovalStore(nil)
	requester := &fakeRequester{decision: events.Denied{}}

	allowed, err := store.Resolve(context.Background(), requester, "shell", "curl evil", "download", ids.NewCallId(), true)
	if err != nil || allowed {
		t.Fatalf("expected denial, got allowed=%v err=%v", allowed, err)
	}
	if store.Lookup("shell", "curl evil") {
		t.Fatal("a denial must not be cached as a grant")
	}
}
