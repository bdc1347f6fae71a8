// Package openai provides an OpenAI-compatible LLM provider implementation.
//
// Any service that speaks the chat completions API works, including Azure
// OpenAI, OpenRouter and local model servers.
//
//	provider, err := openai.NewProvider(
//	    os.Getenv("OPENAI_API_KEY"),
//	    openai.WithModel("gpt-4o"),
//	    openai.WithTemperature(0.7),
//	)
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/openai/openai-go"

	"github.com/entrhq/cadforge/pkg/llm"
	"github.com/entrhq/cadforge/pkg/llm/parser"
	"github.com/entrhq/cadforge/pkg/types"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when no model option is given.
	DefaultModel = "gpt-4o"
)

// Provider implements the LLM provider interface for OpenAI-compatible APIs.
type Provider struct {
	httpClient  *http.Client
	temperature *float64
	modelInfo   *types.ModelInfo
	apiKey      string
	baseURL     string
	model       string
}

// ProviderOption is a function that configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model to use for completions.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithTemperature sets the sampling temperature sent with every request.
func WithTemperature(temperature float64) ProviderOption {
	return func(p *Provider) {
		p.temperature = &temperature
	}
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// NewProvider creates a new OpenAI provider with the given API key.
//
// If apiKey is empty, it will attempt to read from the OPENAI_API_KEY environment variable.
// If baseURL is not provided via WithBaseURL option, it will check OPENAI_BASE_URL environment variable.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	p := &Provider{
		model:      DefaultModel,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.baseURL == DefaultBaseURL {
		if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
			p.baseURL = strings.TrimRight(envBaseURL, "/")
		}
	}

	p.modelInfo = &types.ModelInfo{
		Provider:          "openai",
		Name:              p.model,
		SupportsStreaming: true,
		MaxTokens:         8192, // Default, varies by model
		Metadata:          make(map[string]interface{}),
	}
	if p.baseURL != DefaultBaseURL {
		p.modelInfo.Metadata["base_url"] = p.baseURL
	}

	return p, nil
}

// StreamCompletion sends messages to the API and streams back response chunks.
//
// Raw HTTP streaming is used instead of the SDK client so SSE comments and
// small format variations from compatible servers are tolerated.
func (p *Provider) StreamCompletion(ctx context.Context, messages []*types.Message) (<-chan *llm.StreamChunk, error) {
	resp, err := p.sendStreamRequest(ctx, messages)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *llm.StreamChunk, 10)
	go p.processStreamResponse(ctx, resp, chunks)
	return chunks, nil
}

// sendStreamRequest creates and sends the HTTP request for streaming
func (p *Provider) sendStreamRequest(ctx context.Context, messages []*types.Message) (*http.Response, error) {
	reqBody := map[string]interface{}{
		"model":    p.model,
		"messages": convertToOpenAIMessages(messages),
		"stream":   true,
	}
	if p.temperature != nil {
		reqBody["temperature"] = *p.temperature
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("API request failed with status %d (failed to read error body: %w)", resp.StatusCode, readErr)
		}
		err := fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if isPermanentStatus(resp.StatusCode) {
			return nil, llm.Permanent(err)
		}
		return nil, err
	}

	return resp, nil
}

// isPermanentStatus reports client errors that a retry cannot fix.
func isPermanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout
}

// processStreamResponse processes the SSE stream and sends chunks to the channel
func (p *Provider) processStreamResponse(ctx context.Context, resp *http.Response, chunks chan<- *llm.StreamChunk) {
	defer close(chunks)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	firstChunk := true
	thinkingParser := parser.NewThinkingParser()

	for scanner.Scan() {
		line := scanner.Text()
		if !isValidSSELine(line) {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			p.flushRemainingContent(ctx, thinkingParser, chunks)
			p.send(ctx, &llm.StreamChunk{Finished: true}, chunks)
			return
		}

		if !p.processSSEChunk(ctx, data, &firstChunk, thinkingParser, chunks) {
			return
		}
	}

	p.flushRemainingContent(ctx, thinkingParser, chunks)

	if err := scanner.Err(); err != nil {
		p.send(ctx, &llm.StreamChunk{Error: fmt.Errorf("stream read error: %w", err)}, chunks)
	}
}

// isValidSSELine checks if a line is an SSE data line
func isValidSSELine(line string) bool {
	return line != "" && !strings.HasPrefix(line, ":") && strings.HasPrefix(line, "data: ")
}

// flushRemainingContent flushes any buffered content from the thinking parser
func (p *Provider) flushRemainingContent(ctx context.Context, thinkingParser *parser.ThinkingParser, chunks chan<- *llm.StreamChunk) {
	thinking, message := thinkingParser.Flush()
	p.send(ctx, thinking, chunks)
	p.send(ctx, message, chunks)
}

// send delivers chunk unless the context is done. A nil chunk is a no-op.
func (p *Provider) send(ctx context.Context, chunk *llm.StreamChunk, chunks chan<- *llm.StreamChunk) bool {
	if chunk == nil {
		return true
	}
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		select {
		case chunks <- &llm.StreamChunk{Error: ctx.Err()}:
		default:
		}
		return false
	}
}

// processSSEChunk processes a single SSE data chunk
func (p *Provider) processSSEChunk(ctx context.Context, data string, firstChunk *bool, thinkingParser *parser.ThinkingParser, chunks chan<- *llm.StreamChunk) bool {
	var chunk struct {
		Choices []struct {
			Delta struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"delta"`
			FinishReason *string `json:"finish_reason"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return true // Skip malformed chunks silently
	}

	if chunk.Error != nil {
		p.send(ctx, &llm.StreamChunk{Error: fmt.Errorf("stream error: %s", chunk.Error.Message)}, chunks)
		return false
	}

	if len(chunk.Choices) == 0 {
		return true
	}

	delta := chunk.Choices[0].Delta
	role := ""
	if *firstChunk && delta.Role != "" {
		role = delta.Role
		*firstChunk = false
		if !p.send(ctx, &llm.StreamChunk{Role: role}, chunks) {
			return false
		}
	}

	if delta.Content != "" {
		thinking, message := thinkingParser.Parse(delta.Content)
		if !p.send(ctx, thinking, chunks) || !p.send(ctx, message, chunks) {
			return false
		}
	}

	if reason := chunk.Choices[0].FinishReason; reason != nil && *reason == "stop" {
		p.flushRemainingContent(ctx, thinkingParser, chunks)
		return p.send(ctx, &llm.StreamChunk{Finished: true}, chunks)
	}

	return true
}

// Complete sends messages to the API and returns the accumulated response
// without any thinking content.
func (p *Provider) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	stream, err := p.StreamCompletion(ctx, messages)
	if err != nil {
		return nil, err
	}
	return llm.Collect(stream)
}

// GetModelInfo returns information about the model being used.
func (p *Provider) GetModelInfo() *types.ModelInfo {
	return p.modelInfo
}

// GetModel returns the model name being used.
func (p *Provider) GetModel() string {
	return p.model
}

// GetBaseURL returns the base URL being used.
func (p *Provider) GetBaseURL() string {
	return p.baseURL
}

// convertToOpenAIMessages converts our Message format to OpenAI's ChatCompletionMessageParamUnion format.
func convertToOpenAIMessages(messages []*types.Message) []openai.ChatCompletionMessageParamUnion {
	openaiMessages := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			openaiMessages = append(openaiMessages, openai.SystemMessage(msg.Content))
		case types.RoleAssistant:
			openaiMessages = append(openaiMessages, openai.AssistantMessage(msg.Content))
		default:
			openaiMessages = append(openaiMessages, openai.UserMessage(msg.Content))
		}
	}

	return openaiMessages
}
