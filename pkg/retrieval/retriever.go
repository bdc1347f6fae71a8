// Package retrieval fetches reference documentation passages relevant to a
// part description.
//
// Retrieval is best-effort: an empty result is a normal answer, and callers
// treat errors as "no context" rather than failing the build.
package retrieval

import (
	"context"
	"errors"

	"github.com/entrhq/cadforge/pkg/types"
)

// ErrUnavailable wraps failures to reach the retrieval index.
var ErrUnavailable = errors.New("retrieval index unavailable")

// Retriever returns up to k chunks relevant to query, ordered by rank.
// Implementations must return an empty slice, not an error, when nothing
// matches, and must never modify the index.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]types.ContextChunk, error)
}

// Nop is a Retriever that never finds anything.
type Nop struct{}

// Retrieve always returns an empty result.
func (Nop) Retrieve(context.Context, string, int) ([]types.ContextChunk, error) {
	return []types.ContextChunk{}, nil
}

func truncate(chunks []types.ContextChunk, k int) []types.ContextChunk {
	if chunks == nil {
		return []types.ContextChunk{}
	}
	if k > 0 && len(chunks) > k {
		return chunks[:k]
	}
	return chunks
}
