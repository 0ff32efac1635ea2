package retrieval

import "github.com/sahilm/fuzzy"

// Reranker adjusts fused search results' ordering post-retrieval,
// matching spec §4.C's "optionally reranks (rule-based or external)".
type Reranker interface {
	Rerank(query string, results []SearchResult) []SearchResult
}

// RuleBasedReranker boosts results whose content fuzzy-matches the raw
// query string, implemented with sahilm/fuzzy rather than a bespoke
// scorer since the pack already carries that dependency for exactly
// this class of problem.
type RuleBasedReranker struct {
	Boost float64
}

func NewRuleBasedReranker() *RuleBasedReranker { return &RuleBasedReranker{Boost: 0.15} }

func (r *RuleBasedReranker) Rerank(query string, results []SearchResult) []SearchResult {
	if len(results) == 0 {
		return results
	}
	haystack := make([]string, len(results))
	for i, res := range results {
		haystack[i] = res.Content
		if haystack[i] == "" {
			haystack[i] = res.Chunk.Path
		}
	}
	matches := fuzzy.Find(query, haystack)
	boosted := make(map[int]int, len(matches)) // result index -> fuzzy match score
	for _, m := range matches {
		boosted[m.Index] = m.Score
	}

	out := make([]SearchResult, len(results))
	copy(out, results)
	for i := range out {
		if score, ok := boosted[i]; ok && score > 0 {
			out[i].Score += r.Boost * float64(score) / 100.0
		}
	}
	sortResultsDesc(out)
	return out
}

// ExternalReranker delegates to an out-of-process reranking backend
// (e.g. a hosted cross-encoder); the call signature matches Reranker so
// either backend type can be selected behind config, per SPEC_FULL.md's
// "rule-based vs external reranker backends behind a Reranker
// interface" supplemented feature.
type ExternalReranker struct {
	Call func(query string, candidates []string) ([]float64, error)
}

func (r *ExternalReranker) Rerank(query string, results []SearchResult) []SearchResult {
	if r.Call == nil || len(results) == 0 {
		return results
	}
	candidates := make([]string, len(results))
	for i, res := range results {
		candidates[i] = res.Content
	}
	scores, err := r.Call(query, candidates)
	if err != nil || len(scores) != len(results) {
		return results
	}
	out := make([]SearchResult, len(results))
	copy(out, results)
	for i := range out {
		out[i].Score = scores[i]
	}
	sortResultsDesc(out)
	return out
}
