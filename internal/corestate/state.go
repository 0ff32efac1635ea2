package corestate

import (
	"context"
	"fmt"
)

// TurnResult is the outcome of run_turn_streaming / run_skill_turn_streaming.
type TurnResult struct {
	Text          string
	StopReason    StopReason
	Usage         UsageSnapshot
	Interrupted   bool
	MaxTurnsHit   bool
}

// StopReason mirrors the provider finish-reason taxonomy the loop acts on.
type StopReason string

const (
	StopCompleted        StopReason = "completed"
	StopToolCalls        StopReason = "tool_calls"
	StopUserInterrupted  StopReason = "user_interrupted"
	StopMaxTurns         StopReason = "max_turns"
	StopError            StopReason = "error"
)

// RoleSelection snapshots which model/provider/role the session is
// currently bound to, consumed by the Config Manager (Component I) and
// invalidated whenever SwitchSpec/SwitchRoleSpecWithThinking run.
type RoleSelection struct {
	Role          string
	ProviderKey   string
	Model         string
	ThinkingLevel string
}

// SkillManagerHandle is the minimal surface Session State needs from
// the skill subsystem (an external collaborator per spec §1); kept as
// an interface so corestate does not import the skills package.
type SkillManagerHandle interface {
	ActiveSkill() string
}

// Session owns MessageHistory, the cancellation token, the steering
// queue, per-turn output-style overrides, the skill manager handle, and
// the role-selection snapshot (spec §4.F). Turn execution itself lives
// in the loop package, which takes a *Session by reference for the
// duration of one run_turn_streaming call.
type Session struct {
	History   *MessageHistory
	cancel    *CancelToken
	steering  *SteeringQueue
	skills    SkillManagerHandle
	role      RoleSelection
	cwd       string

	OutputStyle string
}

// NewSession constructs a fresh Session bound to cwd, with an empty
// history and a freshly-derived cancellation token.
func NewSession(ctx context.Context, cwd string, role RoleSelection) *Session {
	return &Session{
		History:  NewMessageHistory(),
		cancel:   NewCancelToken(ctx),
		steering: NewSteeringQueue(),
		role:     role,
		cwd:      cwd,
	}
}

// CancelToken returns the session's shared cancellation token.
func (s *Session) CancelToken() *CancelToken { return s.cancel }

// SharedQueuedCommands returns the handle to the steering queue.
func (s *Session) SharedQueuedCommands() *SteeringQueue { return s.steering }

// QueueCommand appends a prompt to the steering queue and returns its id.
func (s *Session) QueueCommand(text string) string { return s.steering.Enqueue(text) }

// ClearQueuedCommands empties the steering queue.
func (s *Session) ClearQueuedCommands() { s.steering.Clear() }

// CurrentTodos is a placeholder surface for a todo-tracking tool that
// writes its state through the session; the todo list itself is
// maintained by a tool (out of this component's ownership) and merely
// exposed here for driver-synthesized `/todos` turns.
func (s *Session) CurrentTodos() []string { return nil }

// RoleSelection returns the current model/provider/role snapshot.
func (s *Session) RoleSelection() RoleSelection { return s.role }

// CWD returns the working directory the session was created with.
func (s *Session) CWD() string { return s.cwd }

// Replace destructively replaces this session's identity for a
// model/role switch: the new session inherits cwd but not history,
// matching spec §4.F ("the session is destructively replaced; the new
// session inherits cwd but not history").
func (s *Session) Replace(ctx context.Context, role RoleSelection) *Session {
	return NewSession(ctx, s.cwd, role)
}

// SetSkillManager wires the skill manager handle after construction
// (the skills registry is built after the session, mirroring the
// teacher's RegisterSkillTool two-phase wiring in internal/tools/registry.go).
func (s *Session) SetSkillManager(h SkillManagerHandle) { s.skills = h }

// ActiveSkill reports the currently-activated skill name, if any.
func (s *Session) ActiveSkill() string {
	if s.skills == nil {
		return ""
	}
	return s.skills.ActiveSkill()
}

func (s *Session) String() string {
	return fmt.Sprintf("Session{cwd=%s role=%s turns=%d}", s.cwd, s.role.Role, s.History.Len())
}
