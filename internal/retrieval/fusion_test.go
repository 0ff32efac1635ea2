package retrieval

import (
	"testing"

	"github.com/cocode/agent-core/internal/storevec"
)

func TestHasSymbolSyntax(t *testing.T) {
	cases := map[string]bool{
		"Foo.Bar":      true,
		"Type::method": true,
		"fooBar":       false,
		"do_thing":     false,
	}
	for q, want := range cases {
		if got := HasSymbolSyntax(q); got != want {
			t.Errorf("HasSymbolSyntax(%q) = %v, want %v", q, got, want)
		}
	}
}

func TestIsIdentifierQuery(t *testing.T) {
	if !IsIdentifierQuery("fooBar") {
		t.Error("expected bare identifier to match")
	}
	if IsIdentifierQuery("foo bar") {
		t.Error("expected multi-word query to not match")
	}
}

func TestFuseRRF_RecentBoost(t *testing.T) {
	cfg := DefaultRrfConfig()
	bm25 := []Scored{{ChunkId: "a", Score: 5}, {ChunkId: "b", Score: 3}}
	fused := FuseRRF(cfg, bm25, nil, nil, map[string]bool{"b": true})
	if fused["b"] < cfg.RecentBoost {
		t.Fatalf("expected recent boost applied to b, got %v", fused["b"])
	}
}

func TestLimitChunksPerFile(t *testing.T) {
	results := []SearchResult{
		{Chunk: storevec.ChunkRef{Id: "1", Path: "a.go"}, Score: 3},
		{Chunk: storevec.ChunkRef{Id: "2", Path: "a.go"}, Score: 2},
		{Chunk: storevec.ChunkRef{Id: "3", Path: "a.go"}, Score: 1},
		{Chunk: storevec.ChunkRef{Id: "4", Path: "b.go"}, Score: 4},
	}
	limited := LimitChunksPerFile(results, 2)
	count := map[string]int{}
	for _, r := range limited {
		count[r.Chunk.Path]++
	}
	if count["a.go"] != 2 {
		t.Fatalf("expected 2 chunks kept for a.go, got %d", count["a.go"])
	}
	if count["b.go"] != 1 {
		t.Fatalf("expected 1 chunk kept for b.go, got %d", count["b.go"])
	}
}

func TestDeduplicateResults_KeepsHighestScore(t *testing.T) {
	results := []SearchResult{
		{Chunk: storevec.ChunkRef{Id: "x"}, Score: 1},
		{Chunk: storevec.ChunkRef{Id: "x"}, Score: 5},
	}
	out := DeduplicateResults(results)
	if len(out) != 1 || out[0].Score != 5 {
		t.Fatalf("expected single deduped result with score 5, got %+v", out)
	}
}

func TestVectorSimilarity_MonotonicInDistance(t *testing.T) {
	near := VectorSimilarity(0.1)
	far := VectorSimilarity(5.0)
	if near <= far {
		t.Fatalf("expected closer distance to have higher similarity: near=%v far=%v", near, far)
	}
}

func TestBM25Index_TunableK1B(t *testing.T) {
	idx := NewBM25Index(BM25Config{K1: 0.8, B: 0.4})
	idx.Index("doc1", "func ExecuteShellCommand runs a command")
	idx.Index("doc2", "unrelated content about something else entirely")

	results := idx.Search("shell command", 5)
	if len(results) == 0 || results[0].ChunkId != "doc1" {
		t.Fatalf("expected doc1 to rank first, got %+v", results)
	}
}

func TestDetectChanges(t *testing.T) {
	current := []FileEntry{
		{Path: "a.go", ContentHash: "h1"},
		{Path: "b.go", ContentHash: "h2-new"},
	}
	previous := map[string]string{
		"b.go": "h2-old",
		"c.go": "h3",
	}
	changes := DetectChanges(current, previous)

	byPath := map[string]ChangeStatus{}
	for _, c := range changes {
		byPath[c.Path] = c.Status
	}
	if byPath["a.go"] != Added {
		t.Errorf("expected a.go Added, got %v", byPath["a.go"])
	}
	if byPath["b.go"] != Modified {
		t.Errorf("expected b.go Modified, got %v", byPath["b.go"])
	}
	if byPath["c.go"] != Deleted {
		t.Errorf("expected c.go Deleted, got %v", byPath["c.go"])
	}
}
