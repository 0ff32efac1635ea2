package retrieval

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gobwas/glob"
)

// WalkerConfig bounds what Walk considers part of a workspace, per spec
// §4.C stage 1: ignore patterns, a size cap, and include/exclude lists.
type WalkerConfig struct {
	IgnorePatterns   []string // gitignore-style globs, matched with doublestar
	IncludeGlobs     []string // if non-empty, a file must match at least one
	ExcludeGlobs     []string
	MaxFileSizeBytes int64
}

// FileEntry is one walked file: its path relative to the workspace
// root and the content hash used by the change detector.
type FileEntry struct {
	Path        string
	ContentHash string
	MTime       os.FileInfo
}

// Walker produces the (path → hash) catalog a workspace currently has
// on disk, respecting WalkerConfig.
type Walker struct {
	root    string
	cfg     WalkerConfig
	include []glob.Glob
	exclude []glob.Glob
}

func NewWalker(root string, cfg WalkerConfig) (*Walker, error) {
	w := &Walker{root: root, cfg: cfg}
	for _, p := range cfg.IncludeGlobs {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, err
		}
		w.include = append(w.include, g)
	}
	for _, p := range cfg.ExcludeGlobs {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, err
		}
		w.exclude = append(w.exclude, g)
	}
	return w, nil
}

// Walk returns every eligible file under the workspace root, reading
// content to compute each content hash.
func (w *Walker) Walk() ([]FileEntry, error) {
	var entries []FileEntry
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(w.root, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if w.ignored(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.ignored(rel) || !w.admitted(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if w.cfg.MaxFileSizeBytes > 0 && info.Size() > w.cfg.MaxFileSizeBytes {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil // unreadable files (permissions, broken symlinks) are skipped, not fatal
		}
		entries = append(entries, FileEntry{Path: rel, ContentHash: ContentHash(string(content)), MTime: info})
		return nil
	})
	return entries, err
}

func (w *Walker) ignored(rel string) bool {
	if rel == "." {
		return false
	}
	for _, pat := range w.cfg.IgnorePatterns {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}

func (w *Walker) admitted(rel string) bool {
	for _, g := range w.exclude {
		if g.Match(rel) {
			return false
		}
	}
	if len(w.include) == 0 {
		return true
	}
	for _, g := range w.include {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// ChangeStatus classifies a file relative to the store's prior catalog.
type ChangeStatus string

const (
	Added    ChangeStatus = "added"
	Modified ChangeStatus = "modified"
	Deleted  ChangeStatus = "deleted"
)

// Change is one (path, status) diff entry from DetectChanges.
type Change struct {
	Path   string
	Status ChangeStatus
}

// DetectChanges diffs a fresh walk against the store's catalog
// (workspace → {path→hash}), per spec §4.C stage 2.
func DetectChanges(current []FileEntry, previous map[string]string) []Change {
	seen := make(map[string]bool, len(current))
	var changes []Change
	for _, f := range current {
		seen[f.Path] = true
		prevHash, existed := previous[f.Path]
		switch {
		case !existed:
			changes = append(changes, Change{Path: f.Path, Status: Added})
		case prevHash != f.ContentHash:
			changes = append(changes, Change{Path: f.Path, Status: Modified})
		}
	}
	for path := range previous {
		if !seen[path] {
			changes = append(changes, Change{Path: path, Status: Deleted})
		}
	}
	return changes
}
