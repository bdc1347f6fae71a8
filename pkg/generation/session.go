package generation

import (
	"context"
	"sync"

	"github.com/entrhq/cadforge/pkg/types"
)

// Session holds the turns of one stateful conversation. Callers own their
// sessions; there is no process-wide history.
type Session struct {
	mu    sync.Mutex
	turns []types.Turn
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{}
}

// History returns a copy of the recorded turns, oldest first.
func (s *Session) History() []types.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of recorded turns.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Reset clears the history.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}

func (s *Session) append(turn types.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
}

// Conversation is a stateful generator. Each successful call is appended to
// its session and shown to the model on later calls.
type Conversation struct {
	client  *Client
	session *Session
}

// Session returns the session the conversation records into.
func (c *Conversation) Session() *Session {
	return c.session
}

// Reset starts a new design session by clearing the recorded turns.
func (c *Conversation) Reset() {
	c.session.Reset()
}

// Generate calls the model with the session history. Failed calls are not
// recorded.
func (c *Conversation) Generate(ctx context.Context, req Request) (string, error) {
	out, err := c.client.generate(ctx, req, c.session.History())
	if err != nil {
		return "", err
	}
	c.session.append(types.Turn{Instruction: req.Instruction, Response: out})
	return out, nil
}
