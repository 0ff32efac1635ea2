package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/cocode/agent-core/internal/storevec"
)

// Pipeline ties the walker, chunker, tagger, embed cache, and writer
// stages together for one workspace, per spec §4.C stages 1-6.
type Pipeline struct {
	Workspace string
	Root      string
	Store     *storevec.Store
	BM25      *BM25Index
	Snippet   *SnippetSearcher
	Walker    *Walker
	Chunker   *Chunker
	Taggers   *TaggerRegistry
	Embed     *EmbedCache // nil disables embedding (BM25-only indexing)
}

// IndexResult summarizes one RunOnce pass, per manager.rs's change
// counters (added/modified/deleted).
type IndexResult struct {
	Added, Modified, Deleted int
	ChunksWritten            int
}

// RunOnce performs one incremental indexing pass: walk, diff against
// the store's catalog, chunk+tag+embed the added/modified files, write
// to the store, and delete rows for removed files.
func (p *Pipeline) RunOnce(ctx context.Context) (IndexResult, error) {
	current, err := p.Walker.Walk()
	if err != nil {
		return IndexResult{}, err
	}
	previous, err := p.Store.GetWorkspaceFiles(ctx, p.Workspace)
	if err != nil {
		return IndexResult{}, err
	}
	changes := DetectChanges(current, previous)

	var result IndexResult
	var batch []ChunkBatch
	for _, change := range changes {
		switch change.Status {
		case Added:
			result.Added++
		case Modified:
			result.Modified++
		case Deleted:
			result.Deleted++
			if err := p.Store.DeleteByPath(ctx, p.Workspace, change.Path); err != nil {
				return result, err
			}
			continue
		}

		full := filepath.Join(p.Root, change.Path)
		content, err := os.ReadFile(full)
		if err != nil {
			continue // file vanished between walk and read; treat as transient, not fatal
		}
		language := languageForPath(change.Path)

		var symbols []Symbol
		var tags []Tag
		if tagger, ok := p.Taggers.For(language); ok {
			symbols = tagger.Symbols(string(content))
			tags = tagger.Tags(string(content))
		}

		chunks := p.Chunker.Split(change.Path, language, string(content), modTime(full), symbols)
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}

		var vectors [][]float32
		if p.Embed != nil {
			vectors, err = p.Embed.EmbedBatch(ctx, texts)
			if err != nil {
				return result, err
			}
		}

		for i, c := range chunks {
			id := ChunkId(p.Workspace, c.Path, i)
			ref := storevec.ChunkRef{
				Id: id, Workspace: p.Workspace, Path: c.Path, Language: c.Language,
				ContentHash: ContentHash(c.Content), StartLine: c.StartLine, EndLine: c.EndLine,
				ParentSymbol: c.ParentSymbol, IsOverview: c.IsOverview, MTime: c.MTime,
			}
			var embedding []float32
			if vectors != nil {
				embedding = vectors[i]
			}
			batch = append(batch, ChunkBatch{Chunk: ref, Embedding: embedding})
			p.BM25.Index(id, c.Content)
			if p.Snippet != nil {
				p.Snippet.Index(id, tags)
			}
			result.ChunksWritten++
		}
	}

	if len(batch) > 0 {
		if err := p.Store.StoreChunks(ctx, batch); err != nil {
			return result, err
		}
	}

	return result, nil
}

// RebuildMode selects whether a rebuild reuses the change detector
// (Incremental) or clears the workspace's store rows first (Clean),
// per spec §4.D "Rebuild modes".
type RebuildMode string

const (
	Incremental RebuildMode = "incremental"
	Clean       RebuildMode = "clean"
)

// Rebuild runs a full re-index; Clean first deletes all store rows for
// the workspace so the subsequent Incremental pass sees an empty
// catalog (every file reports Added), exactly as cocode-rs's rebuild()
// falls through to run_indexing on a cleared catalog.
func (p *Pipeline) Rebuild(ctx context.Context, mode RebuildMode) (IndexResult, error) {
	if mode == Clean {
		if err := p.Store.DeleteWorkspace(ctx, p.Workspace); err != nil {
			return IndexResult{}, err
		}
	}
	return p.RunOnce(ctx)
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func languageForPath(path string) string {
	switch filepath.Ext(path) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js", ".jsx":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".rs":
		return "rust"
	default:
		return ""
	}
}
