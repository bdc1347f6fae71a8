package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/entrhq/cadforge/pkg/types"
)

// The terms column holds the word parts of compound identifiers, so that
// "box" finds Part.makeBox. unicode61 keeps makeBox as one token.
const schemaSQL = `
CREATE VIRTUAL TABLE IF NOT EXISTS chunks USING fts5(
	text,
	terms,
	source UNINDEXED,
	tokenize = 'porter unicode61'
);`

// maxQueryTerms bounds the size of the generated MATCH expression.
const maxQueryTerms = 64

// SQLiteIndex is a local lexical index over documentation chunks, ranked
// with FTS5 bm25.
type SQLiteIndex struct {
	db   *sql.DB
	mu   sync.Mutex // serializes writers
	path string
}

// OpenSQLiteIndex opens or creates the index database at path.
func OpenSQLiteIndex(path string) (*SQLiteIndex, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping index: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init index schema: %w", err)
	}

	return &SQLiteIndex{db: db, path: path}, nil
}

// Retrieve runs a ranked full-text query. Every word of the query is an
// optional term, so partial matches still rank.
func (s *SQLiteIndex) Retrieve(ctx context.Context, query string, k int) ([]types.ContextChunk, error) {
	match := matchExpression(query)
	if match == "" || k <= 0 {
		return []types.ContextChunk{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT text, source, bm25(chunks) AS rank FROM chunks WHERE chunks MATCH ? ORDER BY rank LIMIT ?`,
		match, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	chunks := []types.ContextChunk{}
	for rows.Next() {
		var c types.ContextChunk
		var rank float64
		if err := rows.Scan(&c.Text, &c.Source, &rank); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		// bm25 is lower-is-better; flip it so higher scores rank first.
		c.Score = -rank
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return chunks, nil
}

// ReplaceSource removes every chunk of source and inserts texts in its place.
func (s *SQLiteIndex) ReplaceSource(ctx context.Context, source string, texts []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source = ?`, source); err != nil {
		return fmt.Errorf("delete chunks of %s: %w", source, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (text, terms, source) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, text := range texts {
		if _, err := stmt.ExecContext(ctx, text, identifierTerms(text), source); err != nil {
			return fmt.Errorf("insert chunk of %s: %w", source, err)
		}
	}

	return tx.Commit()
}

// Count returns the number of indexed chunks.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Path returns the database file path.
func (s *SQLiteIndex) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// matchExpression turns free text into an FTS5 OR query of quoted terms.
// Compound identifiers contribute both the whole word and its parts.
func matchExpression(query string) string {
	var words []string
	for _, f := range wordFields(query) {
		words = append(words, strings.ToLower(f))
		if parts := splitIdentifier(f); len(parts) > 1 {
			for _, p := range parts {
				words = append(words, strings.ToLower(p))
			}
		}
	}

	seen := make(map[string]bool, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < 2 || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
		if len(terms) == maxQueryTerms {
			break
		}
	}
	return strings.Join(terms, " OR ")
}

// identifierTerms returns the lowercased parts of every compound identifier
// in text, space separated. Plain words are left to the text column.
func identifierTerms(text string) string {
	var parts []string
	for _, f := range wordFields(text) {
		if split := splitIdentifier(f); len(split) > 1 {
			for _, p := range split {
				parts = append(parts, strings.ToLower(p))
			}
		}
	}
	return strings.Join(parts, " ")
}

// wordFields splits on anything that is not a letter or digit, which also
// breaks snake_case and dotted names.
func wordFields(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// splitIdentifier breaks a camelCase or PascalCase word at case
// boundaries: makeBox -> make Box, XMLParser -> XML Parser.
func splitIdentifier(word string) []string {
	runes := []rune(word)
	if len(runes) < 2 {
		return []string{word}
	}

	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := unicode.IsLower(prev) && unicode.IsUpper(cur) ||
			unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(runes) && unicode.IsLower(runes[i+1])
		if boundary {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	return append(parts, string(runes[start:]))
}
