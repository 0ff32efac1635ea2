package toolexec

import (
	"context"
	"sync"

	"github.com/cocode/agent-core/internal/corekind"
	"github.com/cocode/agent-core/internal/events"
	"github.com/cocode/agent-core/internal/ids"
	"github.com/google/uuid"
)

// ApprovalGrant is one persisted or session-scoped approval: a tool
// name and an argument pattern (exact value or trailing-"*" prefix),
// mirroring the teacher's ApprovalCache/shellCache keying in
// tools/approval.go but generalized to any tool, not just paths and
// shell commands.
type ApprovalGrant struct {
	ToolName string
	Pattern  string
}

// ApprovalPersister writes an approved pattern to durable config, so
// it survives across sessions. A nil persister makes "approve and
// save" behave like a session-only approval.
type ApprovalPersister interface {
	PersistApproval(grant ApprovalGrant) error
}

// Requester asks the UI to resolve a pending approval, by emitting an
// events.ApprovalRequested and blocking until the corresponding
// events.ApprovalResponse arrives (or ctx is cancelled).
type Requester interface {
	RequestApproval(ctx context.Context, req PendingApproval) (events.ApprovalDecision, error)
}

// PendingApproval is the detail shown to the user for one ask-stage
// permission decision.
type PendingApproval struct {
	RequestId   string
	CallId      ids.CallId
	ToolName    string
	Description string
	IsWrite     bool
}

// ApprovalStore resolves ask-stage decisions against session and
// persisted grants before falling back to a Requester, and records
// new grants emitted by an ApprovedWithPrefix decision.
type ApprovalStore struct {
	mu        sync.RWMutex
	session   []ApprovalGrant
	persisted []ApprovalGrant
	persister ApprovalPersister
}

func NewApprovalStore(persister ApprovalPersister, persisted ...ApprovalGrant) *ApprovalStore {
	return &ApprovalStore{persister: persister, persisted: append([]ApprovalGrant(nil), persisted...)}
}

// Lookup reports whether toolName/argValue already has a matching
// grant, checking exact matches before wildcard prefixes, session
// grants before persisted ones (most-specific, most-recent wins).
func (s *ApprovalStore) Lookup(toolName, argValue string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, grant := range s.session {
		if grant.ToolName == toolName && matchesPattern(grant.Pattern, argValue) {
			return true
		}
	}
	for _, grant := range s.persisted {
		if grant.ToolName == toolName && matchesPattern(grant.Pattern, argValue) {
			return true
		}
	}
	return false
}

// Resolve runs the approval flow for one ask-stage call: a cache hit
// resolves immediately; a miss asks requester and, on
// ApprovedWithPrefix, records both a session grant and (if a
// persister is configured) a persistent one.
func (s *ApprovalStore) Resolve(ctx context.Context, requester Requester, toolName, argValue, description string, callId ids.CallId, isWrite bool) (bool, error) {
	if s.Lookup(toolName, argValue) {
		return true, nil
	}

	req := PendingApproval{
		RequestId:   uuid.NewString(),
		CallId:      callId,
		ToolName:    toolName,
		Description: description,
		IsWrite:     isWrite,
	}
	decision, err := requester.RequestApproval(ctx, req)
	if err != nil {
		return false, corekind.Wrap(corekind.Internal, "approval request failed", err)
	}

	switch d := decision.(type) {
	case events.Denied:
		return false, nil
	case events.Approved:
		return true, nil
	case events.ApprovedWithPrefix:
		grant := ApprovalGrant{ToolName: toolName, Pattern: d.Pattern}
		s.mu.Lock()
		s.session = append(s.session, grant)
		s.mu.Unlock()
		if s.persister != nil {
			if err := s.persister.PersistApproval(grant); err != nil {
				return true, corekind.Wrap(corekind.Internal, "approval granted but not persisted", err)
			}
		}
		return true, nil
	default:
		return false, corekind.Newf(corekind.Internal, "unrecognized approval decision %T", decision)
	}
}
