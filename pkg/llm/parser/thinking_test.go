package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func run(p *ThinkingParser, chunks ...string) (thinking, message string) {
	for _, c := range chunks {
		th, msg := p.Parse(c)
		if th != nil {
			thinking += th.Content
		}
		if msg != nil {
			message += msg.Content
		}
	}
	th, msg := p.Flush()
	if th != nil {
		thinking += th.Content
	}
	if msg != nil {
		message += msg.Content
	}
	return thinking, message
}

func TestThinkingParserSeparatesReasoning(t *testing.T) {
	tests := []struct {
		name         string
		chunks       []string
		wantThinking string
		wantMessage  string
	}{
		{
			name:         "thinking tags",
			chunks:       []string{"<thinking>", "need a box", "</thinking>", "import Part"},
			wantThinking: "need a box",
			wantMessage:  "import Part",
		},
		{
			name:         "think tags split across chunks",
			chunks:       []string{"<thi", "nk>plan</th", "ink>\nimport FreeCAD"},
			wantThinking: "plan",
			wantMessage:  "\nimport FreeCAD",
		},
		{
			name:        "python comparisons pass through",
			chunks:      []string{"if a < b and c > d:\n", "    pass"},
			wantMessage: "if a < b and c > d:\n    pass",
		},
		{
			name:        "unclosed less-than is flushed",
			chunks:      []string{"x = 1 if y < 5 else 2"},
			wantMessage: "x = 1 if y < 5 else 2",
		},
		{
			name:         "less-than inside thinking does not hide close tag",
			chunks:       []string{"<thinking>", "check i<10", "</thinking>", "done"},
			wantThinking: "check i<10",
			wantMessage:  "done",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewThinkingParser()
			thinking, message := run(p, tt.chunks...)
			assert.Equal(t, tt.wantThinking, thinking)
			assert.Equal(t, tt.wantMessage, message)
			assert.False(t, p.IsInThinking())
		})
	}
}

func TestThinkingParserReset(t *testing.T) {
	p := NewThinkingParser()
	p.Parse("<thinking>half")
	assert.True(t, p.IsInThinking())

	p.Reset()
	assert.False(t, p.IsInThinking())

	_, message := run(p, "fresh")
	assert.Equal(t, "fresh", message)
}

func TestThinkingParserEmptyInput(t *testing.T) {
	th, msg := NewThinkingParser().Parse("")
	assert.Nil(t, th)
	assert.Nil(t, msg)
}
