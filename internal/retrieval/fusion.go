package retrieval

import (
	"regexp"
	"sort"

	"github.com/cocode/agent-core/internal/storevec"
)

// RrfConfig holds the Reciprocal Rank Fusion constant and per-source
// weights, adjustable per query shape (symbol-syntax vs bare
// identifier vs free text) per spec §4.C "Fusion contracts".
type RrfConfig struct {
	K             float64
	BM25Weight    float64
	VectorWeight  float64
	SnippetWeight float64
	RecentBoost   float64 // extra weight applied to entries also present in recent_results
	MaxChunksPerFile int
}

func DefaultRrfConfig() RrfConfig {
	return RrfConfig{K: 60, BM25Weight: 1, VectorWeight: 1, SnippetWeight: 1, RecentBoost: 0.2, MaxChunksPerFile: 2}
}

// ForSymbolQuery leans fusion toward the snippet (symbol-index) source.
func (c RrfConfig) ForSymbolQuery() RrfConfig {
	c.SnippetWeight = 2.0
	c.BM25Weight = 0.7
	return c
}

// ForIdentifierQuery leans fusion toward BM25 for bare identifiers.
func (c RrfConfig) ForIdentifierQuery() RrfConfig {
	c.BM25Weight = 1.5
	c.VectorWeight = 0.7
	return c
}

var symbolSyntaxPattern = regexp.MustCompile(`[:\.#]|\(\)|::`)
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// HasSymbolSyntax reports whether query looks like a qualified symbol
// reference (pkg.Type, Type::method, func()).
func HasSymbolSyntax(query string) bool { return symbolSyntaxPattern.MatchString(query) }

// IsIdentifierQuery reports whether query is a single bare identifier.
func IsIdentifierQuery(query string) bool { return identifierPattern.MatchString(query) }

// rankedList is one source's ranked chunk ids, used as RRF fusion input.
type rankedList struct {
	weight float64
	ids    []string
}

// FuseRRF combines ranked result lists from multiple sources via
// Reciprocal Rank Fusion: score(d) = Σ weight_s / (k + rank_s(d)).
// recentIds get an additional RecentBoost added to their fused score.
func FuseRRF(cfg RrfConfig, bm25 []Scored, vector []storevec.VectorHit, snippet []Scored, recentIds map[string]bool) map[string]float64 {
	lists := []rankedList{
		{weight: cfg.BM25Weight, ids: scoredIds(bm25)},
		{weight: cfg.VectorWeight, ids: vectorIds(vector)},
		{weight: cfg.SnippetWeight, ids: scoredIds(snippet)},
	}

	fused := make(map[string]float64)
	for _, list := range lists {
		for rank, id := range list.ids {
			fused[id] += list.weight / (cfg.K + float64(rank+1))
		}
	}
	for id := range recentIds {
		if _, ok := fused[id]; ok {
			fused[id] += cfg.RecentBoost
		}
	}
	return fused
}

func scoredIds(s []Scored) []string {
	ids := make([]string, len(s))
	for i, x := range s {
		ids[i] = x.ChunkId
	}
	return ids
}

func vectorIds(v []storevec.VectorHit) []string {
	ids := make([]string, len(v))
	for i, x := range v {
		ids[i] = x.Chunk.Id
	}
	return ids
}

// VectorSimilarity converts an L2 distance to a [0,1] similarity score
// per spec §4.C "Fusion contracts": 1/(1+d).
func VectorSimilarity(distance float32) float64 {
	return 1.0 / (1.0 + float64(distance))
}

// DeduplicateResults keeps the highest-scored entry per chunk id.
func DeduplicateResults(results []SearchResult) []SearchResult {
	best := make(map[string]SearchResult, len(results))
	for _, r := range results {
		if existing, ok := best[r.Chunk.Id]; !ok || r.Score > existing.Score {
			best[r.Chunk.Id] = r
		}
	}
	out := make([]SearchResult, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sortResultsDesc(out)
	return out
}

// LimitChunksPerFile caps how many chunks from the same file survive,
// for result diversity — default 2, a convention borrowed (per the
// original's own comment) from Tabby.
func LimitChunksPerFile(results []SearchResult, maxPerFile int) []SearchResult {
	if maxPerFile <= 0 {
		return results
	}
	counts := make(map[string]int)
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if counts[r.Chunk.Path] >= maxPerFile {
			continue
		}
		counts[r.Chunk.Path]++
		out = append(out, r)
	}
	return out
}

func sortResultsDesc(s []SearchResult) {
	sort.Slice(s, func(i, j int) bool { return s[i].Score > s[j].Score })
}
