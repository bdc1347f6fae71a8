package app

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/cadforge/pkg/config"
	"github.com/entrhq/cadforge/pkg/llm"
	"github.com/entrhq/cadforge/pkg/prompt"
	"github.com/entrhq/cadforge/pkg/retrieval"
	"github.com/entrhq/cadforge/pkg/types"
)

type cannedProvider struct {
	reply   string
	replies []string
	prompts []string
}

func (p *cannedProvider) StreamCompletion(context.Context, []*types.Message) (<-chan *llm.StreamChunk, error) {
	ch := make(chan *llm.StreamChunk)
	close(ch)
	return ch, nil
}

func (p *cannedProvider) Complete(_ context.Context, msgs []*types.Message) (*types.Message, error) {
	p.prompts = append(p.prompts, msgs[len(msgs)-1].Content)
	reply := p.reply
	if len(p.replies) > 0 {
		reply, p.replies = p.replies[0], p.replies[1:]
	}
	return types.NewAssistantMessage(reply), nil
}

func (p *cannedProvider) GetModelInfo() *types.ModelInfo { return &types.ModelInfo{Name: "canned"} }

func (p *cannedProvider) GetModel() string { return "canned" }

// testConfig points the engine at a shell script that succeeds when the
// script it is given exists and does not mention BROKEN.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine is a shell script")
	}
	root := t.TempDir()
	engineBin := filepath.Join(root, "freecadcmd")
	require.NoError(t, os.WriteFile(engineBin, []byte("#!/bin/sh\ntest -f \"$1\" || echo missing >&2\ngrep -q BROKEN \"$1\" && echo \"NameError: name 'BROKEN' is not defined\" >&2\nexit 0\n"), 0755))

	cfg := config.DefaultConfig()
	cfg.ProjectRoot = root
	cfg.Engine.Binary = engineBin
	cfg.Engine.OpenViewer = false
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNew_BuildsEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	provider := &cannedProvider{reply: "```python\nimport FreeCAD\nbox = 1\n```"}

	a, err := New(context.Background(), cfg, WithProvider(provider), WithTokenCounter(prompt.EstimateCounter{}))
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Controller.Build(context.Background(), "a 10mm cube")
	require.NoError(t, err)
	assert.True(t, res.Succeeded())

	data, err := os.ReadFile(a.Paths.Script)
	require.NoError(t, err)
	assert.Contains(t, string(data), "box = 1")
	assert.NotContains(t, string(data), "```")
	assert.FileExists(t, a.Paths.ReportJSON)
	assert.FileExists(t, a.Paths.Log)
	assert.Nil(t, a.Session)
}

func TestNew_StatefulSessionSpansOneBuild(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generation.Stateful = true
	provider := &cannedProvider{reply: "x = 1", replies: []string{"BROKEN = 1", "x = 1"}}

	a, err := New(context.Background(), cfg, WithProvider(provider), WithTokenCounter(prompt.EstimateCounter{}))
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Controller.Build(context.Background(), "first part")
	require.NoError(t, err)
	require.Len(t, res.Attempts, 2)
	require.Len(t, provider.prompts, 2)
	assert.Contains(t, provider.prompts[1], "Earlier requests in this session")
	assert.Contains(t, provider.prompts[1], "[Response 1]\nBROKEN = 1")

	res, err = a.Controller.Build(context.Background(), "second part")
	require.NoError(t, err)
	require.Len(t, res.Attempts, 1)
	require.Len(t, provider.prompts, 3)
	assert.NotContains(t, provider.prompts[2], "Earlier requests in this session")
	assert.NotContains(t, provider.prompts[2], "first part")
	assert.NotContains(t, provider.prompts[2], "BROKEN")

	require.NotNil(t, a.Session)
	assert.Equal(t, 1, a.Session.Len())
}

func TestNew_PromptOverridesFromProjectRoot(t *testing.T) {
	cfg := testConfig(t)
	dir := filepath.Join(cfg.ProjectRoot, "prompts")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base_instruction.txt"), []byte("CUSTOM PREAMBLE"), 0644))
	provider := &cannedProvider{reply: "x = 1"}

	a, err := New(context.Background(), cfg, WithProvider(provider), WithTokenCounter(prompt.EstimateCounter{}))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Controller.Build(context.Background(), "a cube")
	require.NoError(t, err)
	assert.Contains(t, provider.prompts[0], "CUSTOM PREAMBLE")
}

func TestNew_SQLiteRetrieval(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retrieval.Backend = config.RetrievalSQLite
	cfg.Retrieval.IndexPath = "index/wiki.db"

	idx, err := retrieval.OpenSQLiteIndex(filepath.Join(cfg.ProjectRoot, "index", "wiki.db"))
	require.NoError(t, err)
	require.NoError(t, idx.ReplaceSource(context.Background(), "Part_Box", []string{"Part.makeBox creates a cuboid solid"}))
	require.NoError(t, idx.Close())

	provider := &cannedProvider{reply: "x = 1"}
	a, err := New(context.Background(), cfg, WithProvider(provider), WithTokenCounter(prompt.EstimateCounter{}))
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Controller.Build(context.Background(), "a box")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ContextChunks)
	assert.Contains(t, provider.prompts[0], "Part.makeBox creates a cuboid solid")
}

func TestNewProvider_UnknownKind(t *testing.T) {
	_, err := NewProvider(context.Background(), config.GenerationConfig{Provider: "llama"})
	assert.Error(t, err)
}

func TestNewProvider_OpenAI(t *testing.T) {
	p, err := NewProvider(context.Background(), config.GenerationConfig{
		Provider: config.ProviderOpenAI,
		Model:    "gpt-4o-mini",
		APIKey:   "test-key",
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", p.GetModel())
}
