package retrieval

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultIncludePatterns selects the documentation formats the loader reads.
var DefaultIncludePatterns = []string{"**.FCMacro", "**.py", "**.md", "**.txt", "**.html", "**.htm"}

// skippedElements never contribute text: page chrome and code that is not
// documentation.
var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"nav": true, "header": true, "footer": true, "aside": true,
}

// blockElements end a line when extracting text.
var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "pre": true, "br": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "ul": true, "ol": true, "section": true, "article": true,
}

// IndexStats summarizes one loader run.
type IndexStats struct {
	Files   int
	Chunks  int
	Skipped int
}

// Indexer loads a directory of reference material into a SQLiteIndex.
type Indexer struct {
	index     *SQLiteIndex
	include   []glob.Glob
	chunkSize int
	overlap   int
}

// NewIndexer compiles the include patterns. Patterns use '/' as the path
// separator and '**' to cross directories.
func NewIndexer(index *SQLiteIndex, patterns []string) (*Indexer, error) {
	if len(patterns) == 0 {
		patterns = DefaultIncludePatterns
	}

	include := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", p, err)
		}
		include = append(include, g)
	}

	return &Indexer{
		index:     index,
		include:   include,
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}, nil
}

// Matches reports whether a slash-separated relative path is included.
func (ix *Indexer) Matches(rel string) bool {
	for _, g := range ix.include {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// IndexDir indexes every included file under root. Sources are identified by
// their slash-separated path relative to root, so re-running replaces them.
func (ix *Indexer) IndexDir(ctx context.Context, root string) (IndexStats, error) {
	var stats IndexStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !ix.Matches(rel) {
			stats.Skipped++
			return nil
		}

		n, err := ix.IndexFile(ctx, path, rel)
		if err != nil {
			return err
		}
		stats.Files++
		stats.Chunks += n
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("index %s: %w", root, err)
	}
	return stats, nil
}

// IndexFile indexes a single file under the given source name and returns
// the number of chunks written.
func (ix *Indexer) IndexFile(ctx context.Context, path, source string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}

	text := string(data)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		text, err = ExtractHTMLText(strings.NewReader(text))
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	chunks := Split(text, ix.chunkSize, ix.overlap)
	if err := ix.index.ReplaceSource(ctx, source, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}
