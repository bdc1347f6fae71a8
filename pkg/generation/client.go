// Package generation turns an instruction plus retrieved context into
// script text by calling a language model provider.
package generation

import (
	"context"
	"strings"
	"time"

	"github.com/entrhq/cadforge/pkg/llm"
	"github.com/entrhq/cadforge/pkg/logging"
	"github.com/entrhq/cadforge/pkg/prompt"
	"github.com/entrhq/cadforge/pkg/script"
	"github.com/entrhq/cadforge/pkg/types"
)

// DefaultRequestTimeout bounds one model call.
const DefaultRequestTimeout = 90 * time.Second

// Request is one generation call.
type Request struct {
	// Instruction is the user's description or a repair request.
	Instruction string
	// Context is the retrieved documentation for the build.
	Context []types.ContextChunk
}

// Generator produces script text for a request. On failure it returns ""
// and a *GenerationError.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Client is a stateless generator: every call sees only its own request.
type Client struct {
	provider  llm.Provider
	assembler *prompt.Assembler
	logger    *logging.Logger
	timeout   time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRequestTimeout bounds each provider call.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a stateless client. A nil assembler uses the embedded
// prompt templates.
func NewClient(provider llm.Provider, assembler *prompt.Assembler, opts ...ClientOption) *Client {
	if assembler == nil {
		assembler = prompt.NewAssembler()
	}
	c := &Client{
		provider:  provider,
		assembler: assembler,
		timeout:   DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the provider's model name.
func (c *Client) Model() string {
	return c.provider.GetModel()
}

// Generate assembles a prompt without history and makes one call.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	return c.generate(ctx, req, nil)
}

// WithSession returns a stateful generator that shares this client's
// provider and prompt settings and records turns in s.
func (c *Client) WithSession(s *Session) *Conversation {
	if s == nil {
		s = NewSession()
	}
	return &Conversation{client: c, session: s}
}

func (c *Client) generate(ctx context.Context, req Request, history []types.Turn) (string, error) {
	text := c.assembler.Build(prompt.Input{
		Instruction: req.Instruction,
		Context:     req.Context,
		History:     history,
	})

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Debugf("calling %s with a %d byte prompt (%d context chunks, %d history turns)",
		c.provider.GetModel(), len(text), len(req.Context), len(history))

	start := time.Now()
	msg, err := c.provider.Complete(callCtx, []*types.Message{types.NewUserMessage(text)})
	if err != nil {
		c.logger.Warnf("generation failed after %s: %v", time.Since(start), err)
		return "", &GenerationError{Model: c.provider.GetModel(), Err: err}
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		c.logger.Warnf("generation returned no content after %s", time.Since(start))
		return "", &GenerationError{Model: c.provider.GetModel(), Err: ErrEmptyResponse}
	}

	c.logger.Infof("generated %d bytes in %s", len(msg.Content), time.Since(start))
	return script.StripFences(msg.Content), nil
}
