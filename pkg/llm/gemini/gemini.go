// Package gemini provides an LLM provider backed by the Google Gemini API.
package gemini

import (
	"context"
	"fmt"
	"os"
	"strings"

	genai "google.golang.org/genai"

	"github.com/entrhq/cadforge/pkg/llm"
	"github.com/entrhq/cadforge/pkg/llm/parser"
	"github.com/entrhq/cadforge/pkg/types"
)

// DefaultModel is used when no model option is given.
const DefaultModel = "gemini-2.5-flash"

// Provider is a thin wrapper around the official genai client.
type Provider struct {
	cli         *genai.Client
	temperature *float32
	modelInfo   *types.ModelInfo
	model       string
	baseURL     string
}

// ProviderOption is a function that configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the Gemini model name.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) ProviderOption {
	return func(p *Provider) {
		t := float32(temperature)
		p.temperature = &t
	}
}

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// NewProvider creates a Gemini provider. An empty apiKey falls back to the
// GEMINI_API_KEY environment variable.
func NewProvider(ctx context.Context, apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (provide via parameter or GEMINI_API_KEY environment variable)")
	}

	p := &Provider{model: DefaultModel}
	for _, opt := range opts {
		opt(p)
	}

	cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if p.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	cli, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	p.cli = cli

	p.modelInfo = &types.ModelInfo{
		Provider:          "gemini",
		Name:              p.model,
		SupportsStreaming: true,
		MaxTokens:         65536,
		Metadata:          make(map[string]interface{}),
	}
	return p, nil
}

// Complete sends messages and returns the response text without thinking content.
func (p *Provider) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	contents, cfg := p.request(messages)
	resp, err := p.cli.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	return types.NewAssistantMessage(stripThinking(responseText(resp))), nil
}

// StreamCompletion streams the response through GenerateContentStream.
func (p *Provider) StreamCompletion(ctx context.Context, messages []*types.Message) (<-chan *llm.StreamChunk, error) {
	contents, cfg := p.request(messages)
	chunks := make(chan *llm.StreamChunk, 10)

	go func() {
		defer close(chunks)
		thinkingParser := parser.NewThinkingParser()
		send := func(c *llm.StreamChunk) bool {
			if c == nil {
				return true
			}
			select {
			case chunks <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(&llm.StreamChunk{Role: string(types.RoleAssistant)}) {
			return
		}
		for resp, err := range p.cli.Models.GenerateContentStream(ctx, p.model, contents, cfg) {
			if err != nil {
				send(&llm.StreamChunk{Error: fmt.Errorf("gemini stream failed: %w", err)})
				return
			}
			thinking, message := thinkingParser.Parse(responseText(resp))
			if !send(thinking) || !send(message) {
				return
			}
		}
		thinking, message := thinkingParser.Flush()
		if send(thinking) && send(message) {
			send(&llm.StreamChunk{Finished: true})
		}
	}()

	return chunks, nil
}

// GetModelInfo returns information about the model being used.
func (p *Provider) GetModelInfo() *types.ModelInfo {
	return p.modelInfo
}

// GetModel returns the model name being used.
func (p *Provider) GetModel() string {
	return p.model
}

func (p *Provider) request(messages []*types.Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, contents := convertMessages(messages)
	cfg := &genai.GenerateContentConfig{Temperature: p.temperature}
	if system != nil {
		cfg.SystemInstruction = system
	}
	return contents, cfg
}

// convertMessages splits system messages into a system instruction and maps
// assistant turns onto the "model" role.
func convertMessages(messages []*types.Message) (*genai.Content, []*genai.Content) {
	var systemParts []*genai.Part
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			systemParts = append(systemParts, &genai.Part{Text: msg.Content})
		case types.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: msg.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: msg.Content}}})
		}
	}

	if len(systemParts) == 0 {
		return nil, contents
	}
	return &genai.Content{Parts: systemParts}, contents
}

// responseText concatenates the non-thought text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

func stripThinking(text string) string {
	p := parser.NewThinkingParser()
	_, message := p.Parse(text)
	_, tail := p.Flush()
	var out string
	if message != nil {
		out = message.Content
	}
	if tail != nil {
		out += tail.Content
	}
	return out
}
