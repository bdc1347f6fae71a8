package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/cadforge/pkg/app"
	"github.com/entrhq/cadforge/pkg/config"
	"github.com/entrhq/cadforge/pkg/console"
	"github.com/entrhq/cadforge/pkg/llm"
	"github.com/entrhq/cadforge/pkg/prompt"
	"github.com/entrhq/cadforge/pkg/types"
)

func TestReadInstruction(t *testing.T) {
	var out bytes.Buffer
	got, err := readInstruction(strings.NewReader("  a 10mm cube with a 3mm hole \nignored\n"), &out)
	require.NoError(t, err)
	assert.Equal(t, "a 10mm cube with a 3mm hole", got)
	assert.Equal(t, "Describe your FreeCAD part: ", out.String())
}

func TestReadInstruction_NoTrailingNewline(t *testing.T) {
	got, err := readInstruction(strings.NewReader("a washer"), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "a washer", got)
}

func TestReadInstruction_Empty(t *testing.T) {
	_, err := readInstruction(strings.NewReader("   \n"), &bytes.Buffer{})
	assert.Error(t, err)
}

type unavailableProvider struct{}

func (unavailableProvider) StreamCompletion(context.Context, []*types.Message) (<-chan *llm.StreamChunk, error) {
	return nil, errors.New("connection refused")
}

func (unavailableProvider) Complete(context.Context, []*types.Message) (*types.Message, error) {
	return nil, errors.New("connection refused")
}

func (unavailableProvider) GetModelInfo() *types.ModelInfo { return &types.ModelInfo{Name: "offline"} }

func (unavailableProvider) GetModel() string { return "offline" }

func TestGenerateOnly_UnavailableModelWritesEmptyScript(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ProjectRoot = t.TempDir()
	require.NoError(t, cfg.Validate())

	a, err := app.New(context.Background(), cfg,
		app.WithProvider(unavailableProvider{}),
		app.WithTokenCounter(prompt.EstimateCounter{}),
	)
	require.NoError(t, err)
	defer a.Close()

	var out bytes.Buffer
	con := console.New(&out, console.ParseLevel("normal"))

	err = generateOnly(context.Background(), a, con, &CLIConfig{GenerateOnly: true}, "a 10mm cube")
	require.NoError(t, err)

	data, err := os.ReadFile(a.Paths.Script)
	require.NoError(t, err)
	assert.Contains(t, string(data), `__import__("FreeCAD").newDocument("Model")`)
	assert.Contains(t, out.String(), "connection refused")
}
