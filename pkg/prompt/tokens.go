package prompt

import (
	"time"

	"github.com/pkoukk/tiktoken-go"
)

// encodingLoadTimeout bounds the first download of the BPE ranks. tiktoken
// caches them under TIKTOKEN_CACHE_DIR once fetched.
const encodingLoadTimeout = 10 * time.Second

// TokenCounter counts tokens the way the model will.
type TokenCounter interface {
	Count(text string) int
}

// EstimateCounter approximates four characters per token.
type EstimateCounter struct{}

// Count returns a rough token estimate.
func (EstimateCounter) Count(text string) int {
	return (len(text) + 3) / 4
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// NewTokenCounter returns a cl100k_base counter. Loading the encoding may
// need the network; when it fails or takes longer than
// encodingLoadTimeout, EstimateCounter is returned instead.
func NewTokenCounter() TokenCounter {
	return newTokenCounter(func() (*tiktoken.Tiktoken, error) {
		return tiktoken.GetEncoding("cl100k_base")
	}, encodingLoadTimeout)
}

func newTokenCounter(load func() (*tiktoken.Tiktoken, error), timeout time.Duration) TokenCounter {
	type loaded struct {
		enc *tiktoken.Tiktoken
		err error
	}
	// Buffered so an abandoned load can still finish and exit.
	done := make(chan loaded, 1)
	go func() {
		enc, err := load()
		done <- loaded{enc: enc, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil || r.enc == nil {
			return EstimateCounter{}
		}
		return &tiktokenCounter{enc: r.enc}
	case <-timer.C:
		return EstimateCounter{}
	}
}
