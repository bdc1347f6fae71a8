package prompt

import (
	"errors"
	"testing"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/stretchr/testify/assert"
)

func TestNewTokenCounter_SlowLoadFallsBack(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	c := newTokenCounter(func() (*tiktoken.Tiktoken, error) {
		<-release
		return nil, errors.New("unreachable")
	}, 20*time.Millisecond)

	assert.Equal(t, EstimateCounter{}, c)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNewTokenCounter_LoadErrorFallsBack(t *testing.T) {
	c := newTokenCounter(func() (*tiktoken.Tiktoken, error) {
		return nil, errors.New("no network")
	}, time.Second)
	assert.Equal(t, EstimateCounter{}, c)
}
