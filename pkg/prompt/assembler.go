// Package prompt assembles the text sent to the code-generation model.
package prompt

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/entrhq/cadforge/pkg/types"
)

var (
	//go:embed templates/base_instruction.txt
	defaultBaseInstruction string

	//go:embed templates/example_code.txt
	defaultExamples string
)

// ResponseRule closes every prompt.
const ResponseRule = "Respond with valid FreeCAD Python code only, no extra commentary."

// Input is everything one prompt is built from.
type Input struct {
	// Instruction is the user's part description or a repair request.
	Instruction string
	// Context is retrieved documentation in rank order.
	Context []types.ContextChunk
	// History holds earlier turns of a stateful session, oldest first.
	History []types.Turn
}

// Assembler builds prompts from fixed templates plus per-request input.
// It is safe for concurrent use once constructed.
type Assembler struct {
	counter          TokenCounter
	baseInstruction  string
	examples         string
	maxContextTokens int
	maxHistoryTokens int
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithBaseInstruction replaces the system preamble.
func WithBaseInstruction(text string) Option {
	return func(a *Assembler) { a.baseInstruction = strings.TrimSpace(text) }
}

// WithExamples replaces the worked examples block. Empty disables it.
func WithExamples(text string) Option {
	return func(a *Assembler) { a.examples = strings.TrimSpace(text) }
}

// WithTokenCounter sets how context size is measured.
func WithTokenCounter(c TokenCounter) Option {
	return func(a *Assembler) { a.counter = c }
}

// WithMaxContextTokens bounds the documentation block. Zero means no limit.
func WithMaxContextTokens(n int) Option {
	return func(a *Assembler) { a.maxContextTokens = n }
}

// WithMaxHistoryTokens bounds the session history block. The newest turns
// are kept. Zero means no limit.
func WithMaxHistoryTokens(n int) Option {
	return func(a *Assembler) { a.maxHistoryTokens = n }
}

// NewAssembler creates an assembler with the embedded default templates.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{
		baseInstruction: strings.TrimSpace(defaultBaseInstruction),
		examples:        strings.TrimSpace(defaultExamples),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.counter == nil {
		a.counter = EstimateCounter{}
	}
	return a
}

// TemplateOptions reads template overrides from disk. Missing files keep the
// embedded defaults; any other read error is returned.
func TemplateOptions(baseFile, examplesFile string) ([]Option, error) {
	var opts []Option

	if text, ok, err := readOptional(baseFile); err != nil {
		return nil, err
	} else if ok {
		opts = append(opts, WithBaseInstruction(text))
	}

	if text, ok, err := readOptional(examplesFile); err != nil {
		return nil, err
	} else if ok {
		opts = append(opts, WithExamples(text))
	}

	return opts, nil
}

func readOptional(path string) (string, bool, error) {
	if path == "" {
		return "", false, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read prompt template %s: %w", path, err)
	}
	return string(data), true, nil
}

// Build assembles the prompt for one generation call.
func (a *Assembler) Build(in Input) string {
	var builder strings.Builder

	builder.WriteString(a.baseInstruction)
	builder.WriteString("\n\n")

	if a.examples != "" {
		builder.WriteString("Examples:\n")
		builder.WriteString(a.examples)
		builder.WriteString("\n\n")
	}

	if chunks := a.fitContext(in.Context); len(chunks) > 0 {
		builder.WriteString("Use the following FreeCAD wiki documentation as context:\n\n")
		for i, c := range chunks {
			if i > 0 {
				builder.WriteString("\n\n")
			}
			builder.WriteString(c.Text)
		}
		builder.WriteString("\n\n")
	}

	if history := a.fitHistory(in.History); len(history) > 0 {
		builder.WriteString("Earlier requests in this session:\n")
		for i, turn := range history {
			fmt.Fprintf(&builder, "\n[Request %d]\n%s\n[Response %d]\n%s\n", i+1, turn.Instruction, i+1, turn.Response)
		}
		builder.WriteString("\n")
	}

	builder.WriteString("User instruction: ")
	builder.WriteString(strings.TrimSpace(in.Instruction))
	builder.WriteString("\n\n")
	builder.WriteString(ResponseRule)

	return builder.String()
}

// fitContext keeps the highest ranked chunks that fit the token budget.
// Ranking order is preserved and a chunk that does not fit ends the block.
func (a *Assembler) fitContext(chunks []types.ContextChunk) []types.ContextChunk {
	if a.maxContextTokens <= 0 {
		return chunks
	}

	used := 0
	for i, c := range chunks {
		used += a.counter.Count(c.Text)
		if used > a.maxContextTokens {
			return chunks[:i]
		}
	}
	return chunks
}

// fitHistory keeps the most recent turns that fit the history budget.
func (a *Assembler) fitHistory(turns []types.Turn) []types.Turn {
	if a.maxHistoryTokens <= 0 {
		return turns
	}

	used := 0
	for i := len(turns) - 1; i >= 0; i-- {
		used += a.counter.Count(turns[i].Instruction) + a.counter.Count(turns[i].Response)
		if used > a.maxHistoryTokens {
			return turns[i+1:]
		}
	}
	return turns
}
