package retrieval

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/entrhq/cadforge/pkg/types"
)

// Cached memoizes another Retriever. The index snapshot is fixed for the
// lifetime of a process, so identical queries always return identical chunks.
// Errors are not cached.
type Cached struct {
	next  Retriever
	cache *lru.Cache[string, []types.ContextChunk]
}

// NewCached wraps next with an LRU of the given size.
func NewCached(next Retriever, size int) (*Cached, error) {
	cache, err := lru.New[string, []types.ContextChunk](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrieval cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

// Retrieve returns a cached result or delegates to the wrapped Retriever.
func (c *Cached) Retrieve(ctx context.Context, query string, k int) ([]types.ContextChunk, error) {
	key := fmt.Sprintf("%d\x00%s", k, query)
	if chunks, ok := c.cache.Get(key); ok {
		return clone(chunks), nil
	}

	chunks, err := c.next.Retrieve(ctx, query, k)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, clone(chunks))
	return chunks, nil
}

// Len returns the number of cached queries.
func (c *Cached) Len() int {
	return c.cache.Len()
}

func clone(chunks []types.ContextChunk) []types.ContextChunk {
	out := make([]types.ContextChunk, len(chunks))
	copy(out, chunks)
	return out
}
