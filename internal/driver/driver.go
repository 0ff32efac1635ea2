// Package driver implements Component H: the single-task coordinator
// that drains the UI-facing command channel and dispatches each command
// against the session's loop, mirroring the teacher's cobra-command
// entrypoints generalized into a bidirectional channel protocol instead
// of a one-shot CLI invocation.
package driver

import (
	"context"
	"strings"
	"sync"

	"github.com/cocode/agent-core/internal/corekind"
	"github.com/cocode/agent-core/internal/corestate"
	"github.com/cocode/agent-core/internal/events"
	"github.com/cocode/agent-core/internal/loop"
	"github.com/cocode/agent-core/internal/toolexec"
)

// LoopBuilder constructs a fresh *loop.Loop bound to role, called
// whenever the Driver needs one: at startup and after any command that
// changes model/role (SetModel, SetThinkingLevel). The builder should
// construct its toolexec.Executor's permission pipeline with
// Driver.Requester() as the Requester, so approval correlation survives
// a model switch.
type LoopBuilder func(role corestate.RoleSelection) *loop.Loop

// Driver owns one session and its current loop, serializing every
// command and turn-completion through a single select statement so
// events are always emitted in creation order on one sender (spec §5).
type Driver struct {
	mu          sync.Mutex
	cwd         string
	session     *corestate.Session
	buildLoop   LoopBuilder
	currentLoop *loop.Loop
	emit        func(events.Event)
	approvals   *pendingApprovals
	requester   toolexec.Requester
}

// New constructs a Driver with a fresh session at cwd under
// initialRole, building its first loop via buildLoop.
func New(cwd string, initialRole corestate.RoleSelection, buildLoop LoopBuilder, emit func(events.Event)) *Driver {
	if emit == nil {
		emit = func(events.Event) {}
	}
	d := &Driver{
		cwd:       cwd,
		session:   corestate.NewSession(context.Background(), cwd, initialRole),
		buildLoop: buildLoop,
		emit:      emit,
		approvals: newPendingApprovals(),
	}
	d.requester = &approvalRequester{pending: d.approvals, emit: emit}
	d.currentLoop = buildLoop(initialRole)
	return d
}

// Requester exposes the Driver's approval correlator so a LoopBuilder
// can wire it into the toolexec.Executor it constructs.
func (d *Driver) Requester() toolexec.Requester { return d.requester }

// Session returns the Driver's current session, for callers that need
// read access outside the command loop (e.g. a UI rendering history).
func (d *Driver) Session() *corestate.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

type turnOutcome struct {
	result corestate.TurnResult
	err    error
}

// Run drains commands until ctx is cancelled, Shutdown is received, or
// the channel closes. Exactly one turn runs at a time; a SubmitInput
// (or QueueCommand) that arrives while a turn is in flight is folded
// into the steering queue rather than started concurrently, matching
// the single-loop-goroutine-per-driver concurrency model (spec §5).
func (d *Driver) Run(ctx context.Context, commands <-chan events.Command) {
	var active chan turnOutcome

	for {
		select {
		case <-ctx.Done():
			return

		case outcome, ok := <-active:
			if !ok {
				continue
			}
			active = nil
			if outcome.err != nil {
				d.emitError(outcome.err)
			}

		case cmd, ok := <-commands:
			if !ok {
				return
			}
			switch c := cmd.(type) {
			case events.SubmitInput:
				text := renderSubmit(c)
				if active != nil {
					id := d.session.QueueCommand(text)
					d.emit(events.CommandQueued{Id: id, Preview: previewText(text)})
					continue
				}
				active = d.startTurn(ctx, text)

			case events.QueueCommand:
				id := d.session.QueueCommand(c.Prompt)
				d.emit(events.CommandQueued{Id: id, Preview: previewText(c.Prompt)})

			case events.ClearQueues:
				d.session.ClearQueuedCommands()

			case events.Interrupt:
				d.session.CancelToken().Trip()
				d.emit(events.Interrupted{})

			case events.ApprovalResponse:
				d.approvals.resolve(c.RequestId, c.Decision)

			case events.SetModel:
				d.switchRole(func(r corestate.RoleSelection) corestate.RoleSelection {
					r.Model = c.Selection
					return r
				})

			case events.SetThinkingLevel:
				d.switchRole(func(r corestate.RoleSelection) corestate.RoleSelection {
					r.ThinkingLevel = c.Level
					return r
				})

			case events.SetPlanMode:
				// Plan mode is a tool-permission posture, not a role
				// change; it does not replace the session (spec §4.F
				// replacement only covers model/role switches).
				_ = c.Active

			case events.SetOutputStyle:
				d.session.OutputStyle = c.Style

			case events.ExecuteSkill:
				// Skill activation is resolved by the registered
				// activate_skill tool during a turn, not by the driver
				// directly; folding it into a synthetic submit keeps a
				// single dispatch path through the loop.
				text := "/" + c.Name
				if active != nil {
					id := d.session.QueueCommand(text)
					d.emit(events.CommandQueued{Id: id, Preview: previewText(text)})
					continue
				}
				active = d.startTurn(ctx, text)

			case events.BackgroundAllTasks:
				// Backgrounding running tool tasks is an executor-level
				// concern (Component E's concurrency cap); the driver
				// has nothing additional to coordinate here.

			case events.Shutdown:
				d.session.CancelToken().Trip()
				return
			}
		}
	}
}

// startTurn launches the current loop's RunTurn in a goroutine and
// returns a channel that receives its outcome exactly once.
func (d *Driver) startTurn(ctx context.Context, text string) chan turnOutcome {
	out := make(chan turnOutcome, 1)
	l, session := d.currentLoop, d.session
	go func() {
		result, err := l.RunTurn(ctx, session, text)
		out <- turnOutcome{result: result, err: err}
	}()
	return out
}

// switchRole destructively replaces the session per spec §4.F (new
// session inherits cwd, not history) and rebuilds the loop for the new
// role via buildLoop.
func (d *Driver) switchRole(mutate func(corestate.RoleSelection) corestate.RoleSelection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := mutate(d.session.RoleSelection())
	d.session = d.session.Replace(context.Background(), next)
	d.currentLoop = d.buildLoop(next)
}

func (d *Driver) emitError(err error) {
	kind := corekind.Internal
	if ce, ok := err.(*corekind.Error); ok {
		kind = ce.Kind
	}
	d.emit(events.Error{
		Code:        string(kind),
		Message:     err.Error(),
		Recoverable: corekind.Recoverable(kind),
	})
}

func renderSubmit(c events.SubmitInput) string {
	if c.DisplayText != "" {
		return c.DisplayText
	}
	var parts []string
	for _, b := range c.ContentBlocks {
		if b.Kind == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func previewText(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
