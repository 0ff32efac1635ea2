// Package retrieval implements the indexing and hybrid-search pipeline:
// walk → chunk → tag → embed (cache-aware) → write to the Vector Store,
// and symmetrically BM25 ∥ vector ∥ snippet search fused via RRF.
package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/cocode/agent-core/internal/storevec"
)

// SearchResult is a chunk returned from a hybrid search, carrying its
// fused score and whether the caller asked for (and received) a
// hydration pass that detected staleness.
type SearchResult struct {
	Chunk    storevec.ChunkRef
	Content  string
	Score    float64
	ScoreType ScoreType
	IsStale  bool
}

// ScoreType lets consumers detect a degraded fusion path (e.g.
// BM25-only because embeddings were unavailable), per spec §4.C
// "Fusion contracts".
type ScoreType string

const (
	ScoreFused    ScoreType = "fused"
	ScoreBM25Only ScoreType = "bm25_only"
	ScoreVector   ScoreType = "vector"
	ScoreSnippet  ScoreType = "snippet"
)

// NormalizeContent LF-normalizes content before hashing, matching the
// ContentHash invariant from spec §3 ("CodeChunk").
func NormalizeContent(content string) string {
	return strings.ReplaceAll(content, "\r\n", "\n")
}

// ContentHash returns the hex sha256 of the LF-normalized content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

// Chunk is a chunker's output before it is written to the store: chunk
// metadata plus the content text the embedder and writer need.
type Chunk struct {
	Path         string
	Language     string
	Content      string
	StartLine    int
	EndLine      int
	ParentSymbol string
	IsOverview   bool
	MTime        time.Time
}

// ChunkId mirrors the store's id scheme: workspace + ":" + filepath + ":" + ordinal.
func ChunkId(workspace, path string, ordinal int) string {
	return workspace + ":" + path + ":" + strconv.Itoa(ordinal)
}
