// Package ids mints the opaque identifiers used to correlate turns,
// submissions, and tool calls across the core's event stream.
package ids

import "github.com/google/uuid"

// TurnId labels a single request/response cycle.
type TurnId string

// SubmissionId correlates one user intent across possibly-queued turns.
type SubmissionId string

// CallId identifies one tool invocation.
type CallId string

// NewTurnId mints a new, process-unique TurnId.
func NewTurnId() TurnId { return TurnId(uuid.NewString()) }

// NewSubmissionId mints a new SubmissionId.
func NewSubmissionId() SubmissionId { return SubmissionId(uuid.NewString()) }

// NewCallId mints a new CallId.
func NewCallId() CallId { return CallId(uuid.NewString()) }

// NewBackgroundTaskId mints an id for a backgrounded shell process.
func NewBackgroundTaskId() string { return "bg-" + uuid.NewString() }
