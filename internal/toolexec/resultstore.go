package toolexec

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cocode/agent-core/internal/corekind"
)

// ResultLimits bounds how much tool output is kept inline in the
// conversation, mirroring the teacher's OutputLimits
// (tools/config.go) but applied by the executor rather than by each
// tool individually, so every tool benefits uniformly.
type ResultLimits struct {
	PerToolCap int64 // bytes kept inline per call before overflow
	ModelCap   int64 // cumulative bytes kept inline across the turn
}

func DefaultResultLimits() ResultLimits {
	return ResultLimits{PerToolCap: 50 * 1024, ModelCap: 200 * 1024}
}

// ResultStore truncates oversized tool output, writing the overflow
// to a session-scoped file and replacing it with an in-band reference
// the model can read back via a file tool, per spec §4.E "result
// persistence+truncation".
type ResultStore struct {
	limits  ResultLimits
	dir     string // session-scoped directory for overflow files
	cumUsed int64
	mu      sync.Mutex
	seq     atomic.Int64
}

func NewResultStore(limits ResultLimits, sessionDir string) *ResultStore {
	return &ResultStore{limits: limits, dir: sessionDir}
}

// Apply truncates content per the per-tool and cumulative caps,
// writing any overflow to disk and appending a reference line. It is
// safe to call concurrently across in-flight tool calls.
func (s *ResultStore) Apply(toolName string, content string) (string, error) {
	s.mu.Lock()
	remaining := s.limits.ModelCap - s.cumUsed
	s.mu.Unlock()

	cap := s.limits.PerToolCap
	if remaining < cap {
		cap = remaining
	}
	if cap < 0 {
		cap = 0
	}

	if int64(len(content)) <= cap {
		s.mu.Lock()
		s.cumUsed += int64(len(content))
		s.mu.Unlock()
		return content, nil
	}

	kept := content
	if cap > 0 {
		kept = content[:cap]
	} else {
		kept = ""
	}

	path, err := s.persistOverflow(toolName, content)
	if err != nil {
		return "", corekind.Wrap(corekind.StorageFailure, "failed to persist truncated tool output", err)
	}

	s.mu.Lock()
	s.cumUsed += int64(len(kept))
	s.mu.Unlock()

	return fmt.Sprintf("%s\n\n[output truncated; full output saved to %s]", kept, path), nil
}

func (s *ResultStore) persistOverflow(toolName, content string) (string, error) {
	if s.dir == "" {
		return "", corekind.New(corekind.StorageFailure, "no session directory configured for overflow persistence")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	n := s.seq.Add(1)
	name := fmt.Sprintf("%s-%03d.txt", toolName, n)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
