package retrieval

import "strings"

// SnippetSearcher answers symbol-syntax queries (e.g. "Foo.Bar") by
// scanning tagged symbol names directly, bypassing BM25/vector scoring
// entirely — grounded on the original's SnippetSearcher used for
// symbol-based search in hybrid.rs.
type SnippetSearcher struct {
	tags map[string][]Tag // chunk id -> tags extracted from that chunk
}

func NewSnippetSearcher() *SnippetSearcher {
	return &SnippetSearcher{tags: make(map[string][]Tag)}
}

func (s *SnippetSearcher) Index(chunkId string, tags []Tag) {
	s.tags[chunkId] = tags
}

func (s *SnippetSearcher) Remove(chunkId string) {
	delete(s.tags, chunkId)
}

// Search returns chunk ids whose tags contain a symbol name matching
// query (case-insensitive substring), ranked by match position.
func (s *SnippetSearcher) Search(query string, k int) []Scored {
	q := strings.ToLower(query)
	// strip qualification (pkg.Type, Type::method) down to the final segment
	if i := strings.LastIndexAny(q, ".:#"); i >= 0 {
		q = q[i+1:]
	}

	var results []Scored
	for chunkId, tags := range s.tags {
		best := -1
		for _, tag := range tags {
			name := strings.ToLower(tag.Name)
			if name == q {
				best = 1000
				break
			}
			if strings.Contains(name, q) && best < 500 {
				best = 500
			}
		}
		if best > 0 {
			results = append(results, Scored{ChunkId: chunkId, Score: float64(best)})
		}
	}
	sortScoredDesc(results)
	if k > 0 && k < len(results) {
		results = results[:k]
	}
	return results
}
