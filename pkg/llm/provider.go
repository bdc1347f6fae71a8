// Package llm defines the provider abstraction cadforge uses to talk to the
// code-generation model.
//
// Example usage:
//
//	provider, err := openai.NewProvider(
//	    os.Getenv("OPENAI_API_KEY"),
//	    openai.WithModel("gpt-4o"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	msg, err := provider.Complete(ctx, []*types.Message{
//	    types.NewUserMessage("Write a FreeCAD script for a 10mm cube"),
//	})
package llm

import (
	"context"

	"github.com/entrhq/cadforge/pkg/types"
)

// Provider defines the interface for LLM integrations.
//
// Providers handle API communication only. Prompt assembly, history and
// post-processing of the returned script live in the generation package.
type Provider interface {
	// StreamCompletion sends messages to the LLM and streams back response chunks.
	//
	// The returned channel is closed when streaming completes or an error
	// occurs. Stream-time errors are delivered as chunks with Error set.
	// Returns an error only if streaming cannot be initiated.
	StreamCompletion(ctx context.Context, messages []*types.Message) (<-chan *StreamChunk, error)

	// Complete sends messages to the LLM and returns the full response.
	// Thinking content is dropped; only message content is returned.
	Complete(ctx context.Context, messages []*types.Message) (*types.Message, error)

	// GetModelInfo returns information about the LLM model being used.
	GetModelInfo() *types.ModelInfo

	// GetModel returns the model name being used.
	GetModel() string
}

// Collect drains a stream into the assistant message content, skipping
// thinking chunks. Providers use it to implement Complete.
func Collect(stream <-chan *StreamChunk) (*types.Message, error) {
	var content string
	role := string(types.RoleAssistant)

	for chunk := range stream {
		if chunk.IsError() {
			// Drain so the producer goroutine can exit.
			for range stream {
			}
			return nil, chunk.Error
		}
		if chunk.Role != "" {
			role = chunk.Role
		}
		if chunk.IsThinking() {
			continue
		}
		content += chunk.Content
	}

	return &types.Message{
		Role:    types.MessageRole(role),
		Content: content,
	}, nil
}
