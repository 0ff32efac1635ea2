package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cocode/agent-core/internal/storevec"
)

// HybridSearcher runs BM25, vector, and (optionally) snippet searches
// in parallel, fuses via RRF, caps per-file diversity, and optionally
// reranks/hydrates — the orchestration spec §4.C stage 7 describes and
// grounded on cocode-rs's hybrid.rs `tokio::join!` fan-out.
type HybridSearcher struct {
	store        *storevec.Store
	bm25         *BM25Index
	snippet      *SnippetSearcher // nil disables snippet search
	embed        *EmbedCache      // nil disables vector search
	reranker     Reranker         // nil disables reranking
	workspaceRoot string          // empty disables hydration
	cfg          RrfConfig
}

func NewHybridSearcher(store *storevec.Store, bm25 *BM25Index) *HybridSearcher {
	return &HybridSearcher{store: store, bm25: bm25, cfg: DefaultRrfConfig()}
}

func (h *HybridSearcher) WithSnippetSearch(s *SnippetSearcher) *HybridSearcher { h.snippet = s; return h }
func (h *HybridSearcher) WithEmbeddings(e *EmbedCache) *HybridSearcher        { h.embed = e; return h }
func (h *HybridSearcher) WithReranker(r Reranker) *HybridSearcher             { h.reranker = r; return h }
func (h *HybridSearcher) WithWorkspaceRoot(root string) *HybridSearcher       { h.workspaceRoot = root; return h }
func (h *HybridSearcher) WithConfig(cfg RrfConfig) *HybridSearcher            { h.cfg = cfg; return h }

// Search runs Search without a recent-results boost.
func (h *HybridSearcher) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	return h.SearchWithRecent(ctx, query, limit, nil)
}

// SearchWithRecent additionally boosts entries also present in recent,
// per spec §4.C stage 7.
func (h *HybridSearcher) SearchWithRecent(ctx context.Context, query string, limit int, recent []SearchResult) ([]SearchResult, error) {
	isSymbol := HasSymbolSyntax(query)
	isIdentifier := !isSymbol && IsIdentifierQuery(query)

	cfg := h.cfg
	switch {
	case isSymbol:
		cfg = cfg.ForSymbolQuery()
	case isIdentifier:
		cfg = cfg.ForIdentifierQuery()
	}

	var (
		wg             sync.WaitGroup
		bm25Results    []Scored
		vectorResults  []storevec.VectorHit
		snippetResults []Scored
	)
	fetchK := limit * 2
	if fetchK < limit {
		fetchK = limit // guards against overflow for pathological limit values
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if h.bm25 != nil {
			bm25Results = h.bm25.Search(query, fetchK)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		// vector search failures are non-fatal per spec §4.C; the fused
		// score simply falls back to the sources that succeeded.
		if h.embed == nil {
			return
		}
		vecs, err := h.embed.EmbedBatch(ctx, []string{query})
		if err != nil || len(vecs) == 0 {
			return
		}
		hits, err := h.store.SearchVector(ctx, vecs[0], fetchK)
		if err != nil {
			return
		}
		vectorResults = hits
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if h.snippet != nil && (isSymbol || cfg.SnippetWeight > 0) {
			snippetResults = h.snippet.Search(query, fetchK)
		}
	}()

	wg.Wait()

	recentIds := make(map[string]bool, len(recent))
	for _, r := range recent {
		recentIds[r.Chunk.Id] = true
	}

	fused := FuseRRF(cfg, bm25Results, vectorResults, snippetResults, recentIds)

	chunkById := make(map[string]storevec.ChunkRef, len(fused))
	for _, v := range vectorResults {
		chunkById[v.Chunk.Id] = v.Chunk
	}
	var missing []string
	for id := range fused {
		if _, ok := chunkById[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		resolved, err := h.store.GetChunksByIds(ctx, missing)
		if err != nil {
			return nil, err
		}
		for id, c := range resolved {
			chunkById[id] = c
		}
	}

	// BM25-only is a degraded fusion path consumers can detect via
	// ScoreType, per spec §4.C "Fusion contracts".
	scoreType := ScoreFused
	if len(vectorResults) == 0 {
		scoreType = ScoreBM25Only
	}

	var results []SearchResult
	for id, score := range fused {
		chunk, ok := chunkById[id]
		if !ok {
			continue
		}
		results = append(results, SearchResult{Chunk: chunk, Score: score, ScoreType: scoreType})
	}

	sortResultsDesc(results)
	results = DeduplicateResults(results)
	results = LimitChunksPerFile(results, cfg.MaxChunksPerFile)

	if len(results) > limit {
		results = results[:limit]
	}

	if h.reranker != nil {
		results = h.reranker.Rerank(query, results)
	}

	if h.workspaceRoot != "" {
		return h.hydrate(results)
	}
	return results, nil
}

// hydrate re-reads each result's content from disk, marking it stale
// if the current content hash no longer matches the indexed hash, per
// spec §4.C "Staleness".
func (h *HybridSearcher) hydrate(results []SearchResult) ([]SearchResult, error) {
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		full := filepath.Join(h.workspaceRoot, r.Chunk.Path)
		content, err := os.ReadFile(full)
		if err != nil {
			continue // deleted/unreadable files are skipped, not fatal
		}
		lines := splitLinesKeepRange(string(content), r.Chunk.StartLine, r.Chunk.EndLine)
		r.Content = lines
		r.IsStale = ContentHash(lines) != r.Chunk.ContentHash
		out = append(out, r)
	}
	return out, nil
}

func splitLinesKeepRange(content string, start, end int) string {
	lines := splitLines(content)
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end || start > len(lines) {
		return ""
	}
	return joinLines(lines[start-1 : end])
}

func splitLines(s string) []string { return strings.Split(s, "\n") }
func joinLines(ls []string) string { return strings.Join(ls, "\n") }
