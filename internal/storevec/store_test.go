package storevec

import (
	"context"
	"testing"
	"time"
)

func TestStoreChunks_RejectsWrongDimension(t *testing.T) {
	s, err := Open(":memory:", 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	err = s.StoreChunks(context.Background(), []ChunkBatch{{
		Chunk:     ChunkRef{Id: "ws:foo.go:0", Workspace: "ws", Path: "foo.go", ContentHash: "h1", MTime: time.Now()},
		Embedding: []float32{1, 2, 3},
	}})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestStoreChunks_SearchVectorRoundTrip(t *testing.T) {
	s, err := Open(":memory:", 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	batch := []ChunkBatch{
		{Chunk: ChunkRef{Id: "ws:a.go:0", Workspace: "ws", Path: "a.go", ContentHash: "ha", MTime: time.Now()}, Embedding: []float32{1, 0, 0}},
		{Chunk: ChunkRef{Id: "ws:b.go:0", Workspace: "ws", Path: "b.go", ContentHash: "hb", MTime: time.Now()}, Embedding: []float32{0, 1, 0}},
	}
	if err := s.StoreChunks(context.Background(), batch); err != nil {
		t.Fatalf("StoreChunks: %v", err)
	}

	hits, err := s.SearchVector(context.Background(), []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("SearchVector: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Chunk.Id != "ws:a.go:0" {
		t.Fatalf("expected closest hit first, got %s", hits[0].Chunk.Id)
	}
}

func TestSearchVector_EmptyTableReturnsEmpty(t *testing.T) {
	s, err := Open(":memory:", 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	hits, err := s.SearchVector(context.Background(), []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("SearchVector: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits on empty store, got %d", len(hits))
	}
}

func TestDeleteWorkspace_CascadesEmbeddings(t *testing.T) {
	s, err := Open(":memory:", 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.StoreChunks(context.Background(), []ChunkBatch{
		{Chunk: ChunkRef{Id: "ws:a.go:0", Workspace: "ws", Path: "a.go", ContentHash: "ha", MTime: time.Now()}, Embedding: []float32{1, 1}},
	}); err != nil {
		t.Fatalf("StoreChunks: %v", err)
	}

	if err := s.DeleteWorkspace(context.Background(), "ws"); err != nil {
		t.Fatalf("DeleteWorkspace: %v", err)
	}

	hits, err := s.SearchVector(context.Background(), []float32{1, 1}, 5)
	if err != nil {
		t.Fatalf("SearchVector: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected embeddings cascaded away, got %d hits", len(hits))
	}
}

func TestValidateIdentifier_RejectsCommentMarkers(t *testing.T) {
	if err := validateIdentifier("path", "foo.go'; DROP TABLE chunks; --"); err == nil {
		t.Fatal("expected rejection of comment-marker payload")
	}
	if err := validateIdentifier("path", "src/internal/foo_test.go"); err != nil {
		t.Fatalf("expected normal path to validate, got %v", err)
	}
}
