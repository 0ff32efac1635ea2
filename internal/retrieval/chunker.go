package retrieval

import (
	"strings"
	"time"
)

// ChunkerConfig bounds token-based splitting; target/overlap are
// measured in the same chars/4 heuristic the rest of the codebase uses
// to estimate tokens (see corestate.MessageHistory.EstimatedTokens).
type ChunkerConfig struct {
	TargetTokens  int
	OverlapTokens int
}

func (c ChunkerConfig) targetChars() int  { return c.TargetTokens * 4 }
func (c ChunkerConfig) overlapChars() int { return c.OverlapTokens * 4 }

// Symbol is a parent-symbol candidate the chunker looks for to emit
// overview chunks: a struct/class-like declaration with its method
// count, used to decide whether it crosses the ≥2-methods threshold
// from spec §4.C stage 3.
type Symbol struct {
	Name       string
	StartLine  int
	EndLine    int
	MethodCount int
}

// Chunker splits file content into token-bounded chunks with overlap,
// and for languages whose tagger reports symbols emits an additional
// overview chunk per symbol with ≥2 methods.
type Chunker struct {
	cfg ChunkerConfig
}

func NewChunker(cfg ChunkerConfig) *Chunker {
	if cfg.TargetTokens <= 0 {
		cfg.TargetTokens = 400
	}
	return &Chunker{cfg: cfg}
}

// Split produces Chunks for path's content. symbols, if non-nil, comes
// from a LanguageTagger and drives overview-chunk emission.
func (c *Chunker) Split(path, language, content string, mtime time.Time, symbols []Symbol) []Chunk {
	lines := strings.Split(content, "\n")
	targetChars := c.cfg.targetChars()
	overlapChars := c.cfg.overlapChars()
	if targetChars <= 0 {
		targetChars = 1600
	}

	var chunks []Chunk
	start := 0
	for start < len(lines) {
		end := start
		size := 0
		for end < len(lines) && size < targetChars {
			size += len(lines[end]) + 1
			end++
		}
		chunks = append(chunks, Chunk{
			Path:      path,
			Language:  language,
			Content:   strings.Join(lines[start:end], "\n"),
			StartLine: start + 1,
			EndLine:   end,
			MTime:     mtime,
		})
		if end >= len(lines) {
			break
		}
		overlapLines := overlapChars / 40 // rough chars-per-line estimate for the overlap window
		if overlapLines < 1 {
			overlapLines = 1
		}
		start = end - overlapLines
		if start <= chunks[len(chunks)-1].StartLine-1 {
			start = end
		}
	}

	for _, sym := range symbols {
		if sym.MethodCount < 2 {
			continue
		}
		if sym.StartLine < 1 || sym.EndLine > len(lines) || sym.StartLine > sym.EndLine {
			continue
		}
		chunks = append(chunks, Chunk{
			Path:         path,
			Language:     language,
			Content:      strings.Join(lines[sym.StartLine-1:sym.EndLine], "\n"),
			StartLine:    sym.StartLine,
			EndLine:      sym.EndLine,
			ParentSymbol: sym.Name,
			IsOverview:   true,
			MTime:        mtime,
		})
	}
	return chunks
}
