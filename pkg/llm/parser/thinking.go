// Package parser separates model reasoning from answer text in streamed
// completions.
package parser

import (
	"strings"

	"github.com/entrhq/cadforge/pkg/llm"
)

// Reasoning models wrap their chain of thought in one of these tag pairs.
var (
	openTags  = map[string]bool{"<thinking>": true, "<think>": true}
	closeTags = map[string]bool{"</thinking>": true, "</think>": true}
)

// ThinkingParser splits streamed content into thinking and message chunks.
// State is kept across Parse calls so tags may span chunk boundaries.
// Anything that looks like a tag but is not a thinking tag, such as the
// comparison in "if a < b and c > d:", passes through as message content.
type ThinkingParser struct {
	buffer     strings.Builder
	tagBuffer  strings.Builder // Text between a '<' and the next '>'
	inThinking bool
	inTag      bool
}

// NewThinkingParser creates a new thinking parser.
func NewThinkingParser() *ThinkingParser {
	return &ThinkingParser{}
}

// Parse processes a content chunk. Either return value may be nil.
func (p *ThinkingParser) Parse(content string) (thinkingChunk, messageChunk *llm.StreamChunk) {
	for _, ch := range content {
		switch {
		case ch == '<':
			if p.inTag {
				// The previous '<' never closed into a tag.
				thinkingChunk, messageChunk = p.appendChunk(thinkingChunk, messageChunk, p.flushTagBuffer())
			}
			thinkingChunk, messageChunk = p.appendChunk(thinkingChunk, messageChunk, p.flushBuffer())
			p.inTag = true
			p.tagBuffer.WriteRune(ch)

		case ch == '>' && p.inTag:
			p.tagBuffer.WriteRune(ch)
			tag := p.tagBuffer.String()
			p.tagBuffer.Reset()
			p.inTag = false

			switch {
			case openTags[tag]:
				p.inThinking = true
			case closeTags[tag]:
				p.inThinking = false
			default:
				thinkingChunk, messageChunk = p.appendChunk(thinkingChunk, messageChunk, p.createChunk(tag))
			}

		case p.inTag:
			p.tagBuffer.WriteRune(ch)

		default:
			p.buffer.WriteRune(ch)
		}
	}

	return p.appendChunk(thinkingChunk, messageChunk, p.flushBuffer())
}

func (p *ThinkingParser) flushBuffer() *llm.StreamChunk {
	if p.buffer.Len() == 0 {
		return nil
	}
	text := p.buffer.String()
	p.buffer.Reset()
	return p.createChunk(text)
}

func (p *ThinkingParser) flushTagBuffer() *llm.StreamChunk {
	if p.tagBuffer.Len() == 0 {
		return nil
	}
	text := p.tagBuffer.String()
	p.tagBuffer.Reset()
	return p.createChunk(text)
}

// createChunk creates a chunk typed by the current mode
func (p *ThinkingParser) createChunk(text string) *llm.StreamChunk {
	if text == "" {
		return nil
	}
	if p.inThinking {
		return &llm.StreamChunk{Content: text, Type: llm.ContentTypeThinking}
	}
	return &llm.StreamChunk{Content: text, Type: llm.ContentTypeMessage}
}

// appendChunk merges newChunk into the accumulator of its type
func (p *ThinkingParser) appendChunk(thinkingChunk, messageChunk, newChunk *llm.StreamChunk) (*llm.StreamChunk, *llm.StreamChunk) {
	if newChunk == nil {
		return thinkingChunk, messageChunk
	}

	if newChunk.Type == llm.ContentTypeThinking {
		if thinkingChunk == nil {
			return newChunk, messageChunk
		}
		thinkingChunk.Content += newChunk.Content
		return thinkingChunk, messageChunk
	}

	if messageChunk == nil {
		return thinkingChunk, newChunk
	}
	messageChunk.Content += newChunk.Content
	return thinkingChunk, messageChunk
}

// IsInThinking returns true if currently parsing thinking content.
func (p *ThinkingParser) IsInThinking() bool {
	return p.inThinking
}

// Flush returns any buffered content. Call it at the end of a stream.
func (p *ThinkingParser) Flush() (thinkingChunk, messageChunk *llm.StreamChunk) {
	if p.inTag {
		thinkingChunk, messageChunk = p.appendChunk(thinkingChunk, messageChunk, p.flushTagBuffer())
		p.inTag = false
	}
	return p.appendChunk(thinkingChunk, messageChunk, p.flushBuffer())
}

// Reset resets the parser state for a new stream.
func (p *ThinkingParser) Reset() {
	p.buffer.Reset()
	p.tagBuffer.Reset()
	p.inThinking = false
	p.inTag = false
}
