package retrieval

import (
	"math"
	"sort"
	"strings"
	"sync"
)

// BM25Config holds the tunable k1/b parameters spec §4.C recommends
// lowering for code search (k1=0.8 reduces keyword-repetition weight).
type BM25Config struct {
	K1 float64
	B  float64
}

func DefaultBM25Config() BM25Config { return BM25Config{K1: 0.8, B: 0.4} }

type bm25Doc struct {
	chunkId string
	terms   []string
	freqs   map[string]int
}

// BM25Index is an in-memory BM25 scorer over a workspace's chunks,
// rebuildable from storevec.Store.LoadAllChunkRefs on process restart.
type BM25Index struct {
	cfg BM25Config

	mu        sync.RWMutex
	docs      map[string]*bm25Doc
	docFreq   map[string]int
	totalLen  int
}

func NewBM25Index(cfg BM25Config) *BM25Index {
	return &BM25Index{cfg: cfg, docs: make(map[string]*bm25Doc), docFreq: make(map[string]int)}
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
}

// Index adds or replaces chunkId's document.
func (b *BM25Index) Index(chunkId, content string) {
	terms := tokenize(content)
	freqs := make(map[string]int, len(terms))
	for _, t := range terms {
		freqs[t]++
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if old, existed := b.docs[chunkId]; existed {
		b.totalLen -= len(old.terms)
		for t := range old.freqs {
			b.docFreq[t]--
		}
	}
	b.docs[chunkId] = &bm25Doc{chunkId: chunkId, terms: terms, freqs: freqs}
	b.totalLen += len(terms)
	for t := range freqs {
		b.docFreq[t]++
	}
}

// Remove deletes chunkId's document from the index.
func (b *BM25Index) Remove(chunkId string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	old, ok := b.docs[chunkId]
	if !ok {
		return
	}
	b.totalLen -= len(old.terms)
	for t := range old.freqs {
		b.docFreq[t]--
	}
	delete(b.docs, chunkId)
}

func (b *BM25Index) avgDL() float64 {
	if len(b.docs) == 0 {
		return 0
	}
	return float64(b.totalLen) / float64(len(b.docs))
}

// Scored is one BM25 result: a chunk id and its raw BM25 score.
type Scored struct {
	ChunkId string
	Score   float64
}

// Search ranks every indexed document against query terms, returning
// the top k by descending BM25 score.
func (b *BM25Index) Search(query string, k int) []Scored {
	qterms := tokenize(query)
	if len(qterms) == 0 {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	n := float64(len(b.docs))
	avgdl := b.avgDL()
	if n == 0 {
		return nil
	}

	var results []Scored
	for id, doc := range b.docs {
		score := 0.0
		dl := float64(len(doc.terms))
		for _, qt := range qterms {
			f := float64(doc.freqs[qt])
			if f == 0 {
				continue
			}
			df := float64(b.docFreq[qt])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			num := f * (b.cfg.K1 + 1)
			den := f + b.cfg.K1*(1-b.cfg.B+b.cfg.B*dl/avgdl)
			score += idf * num / den
		}
		if score > 0 {
			results = append(results, Scored{ChunkId: id, Score: score})
		}
	}

	sortScoredDesc(results)
	if k > 0 && k < len(results) {
		results = results[:k]
	}
	return results
}

func sortScoredDesc(s []Scored) {
	sort.Slice(s, func(i, j int) bool { return s[i].Score > s[j].Score })
}
