// Package toolexec implements the streaming tool executor: concurrency
// classification, the permission pipeline, hooks, approval persistence,
// result truncation, and abort semantics (spec §4.E). It builds on the
// tool vocabulary and approval caching already provided by the tools
// package rather than replacing it.
package toolexec

import (
	"encoding/json"

	"github.com/cocode/agent-core/internal/llm"
)

// ConcurrencySafe is implemented by tools that may run concurrently
// with other in-flight calls for the same turn. Tools that don't
// implement it are treated as unsafe and always queue (spec §4.E,
// "concurrency-safety classification" — the teacher's llm.Tool has no
// such method, so this is additive rather than a breaking change).
type ConcurrencySafe interface {
	// ConcurrencySafe reports whether this particular invocation (args
	// may matter, e.g. a read vs. a write glob) can run alongside
	// others without serialization.
	ConcurrencySafe(args json.RawMessage) bool
}

// Mutating is implemented by tools whose execution can change
// filesystem or external state, distinguishing the default read/write
// split in the permission pipeline's last stage.
type Mutating interface {
	Mutates(args json.RawMessage) bool
}

// IsConcurrencySafe reports whether tool declares itself safe for this
// call's args. Tools that don't implement ConcurrencySafe default to
// unsafe: the conservative choice when a tool predates the interface.
func IsConcurrencySafe(tool llm.Tool, args json.RawMessage) bool {
	if cs, ok := tool.(ConcurrencySafe); ok {
		return cs.ConcurrencySafe(args)
	}
	return false
}

// IsMutating reports whether tool's invocation writes or otherwise
// changes state. Tools that don't implement Mutating default to
// mutating: the conservative choice for the default read/write split.
func IsMutating(tool llm.Tool, args json.RawMessage) bool {
	if m, ok := tool.(Mutating); ok {
		return m.Mutates(args)
	}
	return true
}
