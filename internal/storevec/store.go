// Package storevec implements the on-disk chunk/embedding/BM25 metadata
// store: a single SQLite file with three logical tables. Content itself
// is never stored — callers re-read it from the file system at search
// time, keyed by the chunk's path and line range.
package storevec

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cocode/agent-core/internal/corekind"
)

// ChunkRef is the metadata half of a CodeChunk (§3); content is re-read
// from disk by callers, never persisted here.
type ChunkRef struct {
	Id            string
	Workspace     string
	Path          string
	Language      string
	ContentHash   string
	StartLine     int
	EndLine       int
	ParentSymbol  string
	IsOverview    bool
	IndexedAt     time.Time
	MTime         time.Time
}

// ChunkBatch is one upsert unit passed to StoreChunks: a ChunkRef paired
// with its embedding vector (len must equal the store's configured
// dimension, or be empty for a metadata-only row such as an overview
// chunk pending embedding).
type ChunkBatch struct {
	Chunk     ChunkRef
	Embedding []float32
}

// VectorHit pairs a chunk reference with its L2 distance from the query
// vector (smaller is closer); SearchVector converts none of this —
// similarity conversion (1/(1+d)) is the Retrieval Pipeline's job.
type VectorHit struct {
	Chunk    ChunkRef
	Distance float32
}

// BM25Meta is the corpus-level statistics row the BM25 scorer needs.
type BM25Meta struct {
	AvgDL     float64
	TotalDocs int
	UpdatedAt time.Time
}

// identifierPattern whitelists ad-hoc filter values (paths, workspace
// names) composed into LIKE clauses; placeholders already prevent SQL
// injection, this is a defense-in-depth layer per spec §4.B.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9/\\.:_\- ]*$`)

func validateIdentifier(field, value string) error {
	if strings.Contains(value, "--") || strings.Contains(value, "/*") || strings.ContainsRune(value, 0) {
		return corekind.Newf(corekind.InvalidInput, "%s contains a disallowed sequence", field)
	}
	if !identifierPattern.MatchString(value) {
		return corekind.Newf(corekind.InvalidInput, "%s contains disallowed characters: %q", field, value)
	}
	return nil
}

// Store is the sqlite-backed chunk/embedding/BM25 metadata store.
type Store struct {
	db  *sql.DB
	dim int
}

const baseSchema = `
CREATE TABLE IF NOT EXISTS chunks (
    id TEXT PRIMARY KEY,
    workspace TEXT NOT NULL,
    path TEXT NOT NULL,
    language TEXT,
    content_hash TEXT NOT NULL,
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    parent_symbol TEXT,
    is_overview BOOLEAN NOT NULL DEFAULT 0,
    indexed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    mtime TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_workspace_path ON chunks(workspace, path);

CREATE TABLE IF NOT EXISTS bm25_meta (
    workspace TEXT PRIMARY KEY,
    avgdl REAL NOT NULL DEFAULT 0,
    total_docs INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// embeddingSchema is parameterized on dimension because sqlite has no
// fixed-length array column; the dimension is instead enforced at the
// application layer (Open's dimension-change check, and per-insert
// length validation).
const embeddingSchema = `
CREATE TABLE IF NOT EXISTS embeddings (
    chunk_id TEXT PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
    dim INTEGER NOT NULL,
    vector BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS embeddings_dim (
    id INTEGER PRIMARY KEY CHECK (id = 0),
    dim INTEGER NOT NULL
);
`

// Open opens (creating if absent) the store at path, enforcing the
// dimension policy from spec §4.B: if the embedding table's recorded
// dimension differs from dim, the embedding table is dropped and
// recreated while chunks and bm25_meta are preserved.
func Open(path string, dim int) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, corekind.Wrap(corekind.StorageFailure, "create store directory", err)
		}
	}
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, corekind.Wrap(corekind.StorageFailure, "open store", err)
	}

	if _, err := db.Exec(baseSchema); err != nil {
		return nil, corekind.Wrap(corekind.StorageFailure, "init base schema", err)
	}

	s := &Store{db: db, dim: dim}
	if err := s.reconcileDimension(dim); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) reconcileDimension(dim int) error {
	var stored int
	err := s.db.QueryRow(`SELECT dim FROM embeddings_dim WHERE id = 0`).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.Exec(embeddingSchema); err != nil {
			return corekind.Wrap(corekind.StorageFailure, "init embedding schema", err)
		}
		_, err = s.db.Exec(`INSERT INTO embeddings_dim (id, dim) VALUES (0, ?)`, dim)
		return corekind.Wrap(corekind.StorageFailure, "record embedding dimension", err)
	case err != nil:
		return corekind.Wrap(corekind.StorageFailure, "read embedding dimension", err)
	case stored != dim:
		if _, err := s.db.Exec(`DROP TABLE IF EXISTS embeddings`); err != nil {
			return corekind.Wrap(corekind.StorageFailure, "drop stale embedding table", err)
		}
		if _, err := s.db.Exec(embeddingSchema); err != nil {
			return corekind.Wrap(corekind.StorageFailure, "recreate embedding schema", err)
		}
		if _, err := s.db.Exec(`UPDATE embeddings_dim SET dim = ? WHERE id = 0`, dim); err != nil {
			return corekind.Wrap(corekind.StorageFailure, "update embedding dimension", err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// StoreChunks upserts chunk metadata and writes embeddings for batch in
// a single transaction.
func (s *Store) StoreChunks(ctx context.Context, batch []ChunkBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return corekind.Wrap(corekind.StorageFailure, "begin store_chunks tx", err)
	}
	defer tx.Rollback()

	for _, b := range batch {
		if err := validateIdentifier("path", b.Chunk.Path); err != nil {
			return err
		}
		if err := validateIdentifier("workspace", b.Chunk.Workspace); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, workspace, path, language, content_hash, start_line, end_line, parent_symbol, is_overview, indexed_at, mtime)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, ?)
			ON CONFLICT(id) DO UPDATE SET
				content_hash=excluded.content_hash, start_line=excluded.start_line, end_line=excluded.end_line,
				parent_symbol=excluded.parent_symbol, is_overview=excluded.is_overview,
				indexed_at=CURRENT_TIMESTAMP, mtime=excluded.mtime`,
			b.Chunk.Id, b.Chunk.Workspace, b.Chunk.Path, b.Chunk.Language, b.Chunk.ContentHash,
			b.Chunk.StartLine, b.Chunk.EndLine, b.Chunk.ParentSymbol, b.Chunk.IsOverview, b.Chunk.MTime)
		if err != nil {
			return corekind.Wrap(corekind.StorageFailure, "upsert chunk", err)
		}

		if len(b.Embedding) == 0 {
			continue
		}
		if len(b.Embedding) != s.dim {
			return corekind.Newf(corekind.DimensionMismatch, "embedding for %s has dimension %d, store expects %d", b.Chunk.Id, len(b.Embedding), s.dim)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO embeddings (chunk_id, dim, vector) VALUES (?, ?, ?)
			ON CONFLICT(chunk_id) DO UPDATE SET vector=excluded.vector`,
			b.Chunk.Id, s.dim, encodeVector(b.Embedding))
		if err != nil {
			return corekind.Wrap(corekind.StorageFailure, "upsert embedding", err)
		}
	}
	return corekind.Wrap(corekind.StorageFailure, "commit store_chunks tx", tx.Commit())
}

// SearchVector returns the k nearest chunks to q by L2 distance, or an
// empty slice if the embedding table is empty.
func (s *Store) SearchVector(ctx context.Context, q []float32, k int) ([]VectorHit, error) {
	if len(q) != s.dim {
		return nil, corekind.Newf(corekind.DimensionMismatch, "query vector has dimension %d, store expects %d", len(q), s.dim)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.workspace, c.path, c.language, c.content_hash, c.start_line, c.end_line,
		       c.parent_symbol, c.is_overview, c.indexed_at, c.mtime, e.vector
		FROM embeddings e JOIN chunks c ON c.id = e.chunk_id`)
	if err != nil {
		return nil, corekind.Wrap(corekind.StorageFailure, "search_vector scan", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var c ChunkRef
		var blob []byte
		if err := rows.Scan(&c.Id, &c.Workspace, &c.Path, &c.Language, &c.ContentHash,
			&c.StartLine, &c.EndLine, &c.ParentSymbol, &c.IsOverview, &c.IndexedAt, &c.MTime, &blob); err != nil {
			return nil, corekind.Wrap(corekind.StorageFailure, "search_vector row", err)
		}
		vec := decodeVector(blob)
		hits = append(hits, VectorHit{Chunk: c, Distance: l2Distance(q, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, corekind.Wrap(corekind.StorageFailure, "search_vector iterate", err)
	}

	sortByDistance(hits)
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// SearchVectorRefs is SearchVector without hydration cost beyond
// metadata; identical implementation, kept as a distinct name to match
// the caller-facing contract of spec §4.B.
func (s *Store) SearchVectorRefs(ctx context.Context, q []float32, k int) ([]VectorHit, error) {
	return s.SearchVector(ctx, q, k)
}

// GetChunksByIds resolves chunk metadata for a set of ids, used by the
// hybrid searcher to hydrate fused results that came from the BM25 or
// snippet source rather than the vector source.
func (s *Store) GetChunksByIds(ctx context.Context, ids []string) (map[string]ChunkRef, error) {
	out := make(map[string]ChunkRef, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace, path, language, content_hash, start_line, end_line, parent_symbol, is_overview, indexed_at, mtime
		FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, corekind.Wrap(corekind.StorageFailure, "get_chunks_by_ids", err)
	}
	defer rows.Close()
	refs, err := scanChunkRefs(rows)
	if err != nil {
		return nil, err
	}
	for _, c := range refs {
		out[c.Id] = c
	}
	return out, nil
}

// DeleteByPath removes all chunks (and cascades embeddings) for path
// within workspace, in one transaction.
func (s *Store) DeleteByPath(ctx context.Context, workspace, path string) error {
	if err := validateIdentifier("path", path); err != nil {
		return err
	}
	if err := validateIdentifier("workspace", workspace); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE workspace = ? AND path = ?`, workspace, path)
	return corekind.Wrap(corekind.StorageFailure, "delete_by_path", err)
}

// DeleteWorkspace removes all rows for ws across all tables.
func (s *Store) DeleteWorkspace(ctx context.Context, ws string) error {
	if err := validateIdentifier("workspace", ws); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return corekind.Wrap(corekind.StorageFailure, "begin delete_workspace tx", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE workspace = ?`, ws); err != nil {
		return corekind.Wrap(corekind.StorageFailure, "delete_workspace chunks", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM bm25_meta WHERE workspace = ?`, ws); err != nil {
		return corekind.Wrap(corekind.StorageFailure, "delete_workspace bm25_meta", err)
	}
	return corekind.Wrap(corekind.StorageFailure, "commit delete_workspace tx", tx.Commit())
}

// GetFileMetadata returns the chunk rows recorded for path in workspace.
func (s *Store) GetFileMetadata(ctx context.Context, workspace, path string) ([]ChunkRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace, path, language, content_hash, start_line, end_line, parent_symbol, is_overview, indexed_at, mtime
		FROM chunks WHERE workspace = ? AND path = ? ORDER BY start_line`, workspace, path)
	if err != nil {
		return nil, corekind.Wrap(corekind.StorageFailure, "get_file_metadata", err)
	}
	defer rows.Close()
	return scanChunkRefs(rows)
}

// GetWorkspaceFiles returns the distinct (path → latest hash) catalog
// for ws, used by the Retrieval Pipeline's change detector.
func (s *Store) GetWorkspaceFiles(ctx context.Context, ws string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, content_hash FROM chunks WHERE workspace = ? GROUP BY path`, ws)
	if err != nil {
		return nil, corekind.Wrap(corekind.StorageFailure, "get_workspace_files", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, corekind.Wrap(corekind.StorageFailure, "get_workspace_files row", err)
		}
		out[path] = hash
	}
	return out, corekind.Wrap(corekind.StorageFailure, "get_workspace_files iterate", rows.Err())
}

// SaveBM25Metadata upserts the corpus-level BM25 statistics for ws.
func (s *Store) SaveBM25Metadata(ctx context.Context, ws string, meta BM25Meta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bm25_meta (workspace, avgdl, total_docs, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(workspace) DO UPDATE SET avgdl=excluded.avgdl, total_docs=excluded.total_docs, updated_at=CURRENT_TIMESTAMP`,
		ws, meta.AvgDL, meta.TotalDocs)
	return corekind.Wrap(corekind.StorageFailure, "save_bm25_metadata", err)
}

// LoadBM25Metadata returns ws's corpus-level BM25 statistics, or the
// zero value if none has been saved yet.
func (s *Store) LoadBM25Metadata(ctx context.Context, ws string) (BM25Meta, error) {
	var m BM25Meta
	err := s.db.QueryRowContext(ctx, `SELECT avgdl, total_docs, updated_at FROM bm25_meta WHERE workspace = ?`, ws).
		Scan(&m.AvgDL, &m.TotalDocs, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return BM25Meta{}, nil
	}
	return m, corekind.Wrap(corekind.StorageFailure, "load_bm25_metadata", err)
}

// LoadAllChunkRefs bulk-restores every chunk reference in ws into an
// in-memory index (e.g. the BM25 scorer's document table).
func (s *Store) LoadAllChunkRefs(ctx context.Context, ws string) ([]ChunkRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace, path, language, content_hash, start_line, end_line, parent_symbol, is_overview, indexed_at, mtime
		FROM chunks WHERE workspace = ?`, ws)
	if err != nil {
		return nil, corekind.Wrap(corekind.StorageFailure, "load_all_chunk_refs", err)
	}
	defer rows.Close()
	return scanChunkRefs(rows)
}

// LoadAllBM25Embeddings returns every chunk id's stored vector for ws,
// used to rebuild an in-memory vector index on process restart.
func (s *Store) LoadAllBM25Embeddings(ctx context.Context, ws string) (map[string][]float32, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.chunk_id, e.vector FROM embeddings e
		JOIN chunks c ON c.id = e.chunk_id WHERE c.workspace = ?`, ws)
	if err != nil {
		return nil, corekind.Wrap(corekind.StorageFailure, "load_all_bm25_embeddings", err)
	}
	defer rows.Close()
	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, corekind.Wrap(corekind.StorageFailure, "load_all_bm25_embeddings row", err)
		}
		out[id] = decodeVector(blob)
	}
	return out, corekind.Wrap(corekind.StorageFailure, "load_all_bm25_embeddings iterate", rows.Err())
}

func scanChunkRefs(rows *sql.Rows) ([]ChunkRef, error) {
	var out []ChunkRef
	for rows.Next() {
		var c ChunkRef
		if err := rows.Scan(&c.Id, &c.Workspace, &c.Path, &c.Language, &c.ContentHash,
			&c.StartLine, &c.EndLine, &c.ParentSymbol, &c.IsOverview, &c.IndexedAt, &c.MTime); err != nil {
			return nil, corekind.Wrap(corekind.StorageFailure, "scan chunk ref", err)
		}
		out = append(out, c)
	}
	return out, corekind.Wrap(corekind.StorageFailure, "iterate chunk refs", rows.Err())
}

