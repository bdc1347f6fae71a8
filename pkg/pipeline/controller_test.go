package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/cadforge/pkg/config"
	"github.com/entrhq/cadforge/pkg/engine"
	"github.com/entrhq/cadforge/pkg/generation"
	"github.com/entrhq/cadforge/pkg/retrieval"
	"github.com/entrhq/cadforge/pkg/script"
	"github.com/entrhq/cadforge/pkg/types"
)

type scriptedGenerator struct {
	mu       sync.Mutex
	requests []generation.Request
	replies  []string
	errs     []error
	started  chan struct{}
	release  chan struct{}
}

func (g *scriptedGenerator) Generate(ctx context.Context, req generation.Request) (string, error) {
	g.mu.Lock()
	n := len(g.requests)
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.started != nil {
		select {
		case g.started <- struct{}{}:
		default:
		}
	}
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if n < len(g.errs) && g.errs[n] != nil {
		return "", g.errs[n]
	}
	if n < len(g.replies) {
		return g.replies[n], nil
	}
	return "print('generated')", nil
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// sessionRecorder keeps history like a stateful generator and records what
// each call could see.
type sessionRecorder struct {
	scriptedGenerator
	history []string
	seen    [][]string
	resets  int
}

func (g *sessionRecorder) Reset() {
	g.resets++
	g.history = nil
}

func (g *sessionRecorder) Generate(ctx context.Context, req generation.Request) (string, error) {
	g.seen = append(g.seen, append([]string(nil), g.history...))
	out, err := g.scriptedGenerator.Generate(ctx, req)
	if err == nil {
		g.history = append(g.history, req.Instruction)
	}
	return out, err
}

type fakeExecutor struct {
	calls     int
	preflight error
	run       func(ctx context.Context, n int, scriptPath string) (*types.ExecutionResult, error)
}

func (e *fakeExecutor) Preflight() error { return e.preflight }

func (e *fakeExecutor) Run(ctx context.Context, scriptPath string) (*types.ExecutionResult, error) {
	e.calls++
	return e.run(ctx, e.calls, scriptPath)
}

func failing(stderr string) func(context.Context, int, string) (*types.ExecutionResult, error) {
	return func(context.Context, int, string) (*types.ExecutionResult, error) {
		return &types.ExecutionResult{Stderr: stderr, ExitCode: 1}, nil
	}
}

type recordingViewer struct {
	opened []string
}

func (v *recordingViewer) Open(_ context.Context, path string) error {
	v.opened = append(v.opened, path)
	return nil
}

type erroringRetriever struct{}

func (erroringRetriever) Retrieve(context.Context, string, int) ([]types.ContextChunk, error) {
	return nil, errors.New("index offline")
}

type staticRetriever struct {
	k int
}

func (r *staticRetriever) Retrieve(_ context.Context, _ string, k int) ([]types.ContextChunk, error) {
	r.k = k
	return []types.ContextChunk{{Text: "Part.makeBox"}}, nil
}

type fixture struct {
	paths    config.Paths
	gen      *scriptedGenerator
	exec     *fakeExecutor
	viewer   *recordingViewer
	events   []*types.BuildEvent
	eventsMu sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		paths:  config.NewPaths(t.TempDir()),
		gen:    &scriptedGenerator{},
		exec:   &fakeExecutor{run: failing("")},
		viewer: &recordingViewer{},
	}
}

func (f *fixture) controller(t *testing.T, retriever retrieval.Retriever, opts ...Option) *Controller {
	t.Helper()
	outputs := script.Outputs{Document: f.paths.Document, Mesh: f.paths.Mesh, Preview: f.paths.Preview}
	opts = append([]Option{
		WithLogPath(f.paths.Log),
		WithReportWriter(NewReportWriter(f.paths.ReportJSON, f.paths.ReportMD)),
		WithEventHandler(func(e *types.BuildEvent) {
			f.eventsMu.Lock()
			defer f.eventsMu.Unlock()
			f.events = append(f.events, e)
		}),
	}, opts...)
	c, err := NewController(Components{
		Retriever:    retriever,
		Generator:    f.gen,
		Materializer: script.NewMaterializer(f.paths.Script, outputs),
		Executor:     f.exec,
		Viewer:       f.viewer,
	}, opts...)
	require.NoError(t, err)
	return c
}

func TestBuild_SucceedsFirstAttempt(t *testing.T) {
	f := newFixture(t)
	retriever := &staticRetriever{}
	c := f.controller(t, retriever)

	res, err := c.Build(context.Background(), "a 10mm cube")
	require.NoError(t, err)

	assert.True(t, res.Succeeded())
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, 1, f.gen.calls())
	assert.Equal(t, DefaultTopK, retriever.k)
	assert.Equal(t, 1, res.ContextChunks)
	assert.Equal(t, []string{f.paths.Script}, f.viewer.opened)
	assert.Equal(t, "a 10mm cube", f.gen.requests[0].Instruction)

	data, err := os.ReadFile(f.paths.ReportJSON)
	require.NoError(t, err)
	var report Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, StatusSucceeded, report.Status)
	assert.Len(t, report.Attempts, 1)
	assert.FileExists(t, f.paths.ReportMD)
}

func TestBuild_ReportReadsBack(t *testing.T) {
	f := newFixture(t)
	f.exec.run = failing("NameError: name 'Part' is not defined")
	c := f.controller(t, nil, WithMaxRetries(1))

	_, err := c.Build(context.Background(), "a flange")
	require.ErrorIs(t, err, ErrRetryBudgetExhausted)

	data, err := os.ReadFile(f.paths.ReportJSON)
	require.NoError(t, err)
	var report Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, StatusExhausted, report.Status)
	require.Len(t, report.Attempts, 2)
	for _, a := range report.Attempts {
		assert.Equal(t, types.OutcomeRealFailure, a.Outcome)
	}
}

func TestBuild_StatefulHistoryIsScopedToOneBuild(t *testing.T) {
	f := newFixture(t)
	gen := &sessionRecorder{}
	f.exec.run = func(_ context.Context, n int, _ string) (*types.ExecutionResult, error) {
		if n == 1 {
			return &types.ExecutionResult{Stderr: "SyntaxError: invalid syntax", ExitCode: 1}, nil
		}
		return &types.ExecutionResult{}, nil
	}
	outputs := script.Outputs{Document: f.paths.Document, Mesh: f.paths.Mesh, Preview: f.paths.Preview}
	c, err := NewController(Components{
		Generator:    gen,
		Materializer: script.NewMaterializer(f.paths.Script, outputs),
		Executor:     f.exec,
	})
	require.NoError(t, err)

	_, err = c.Build(context.Background(), "first part")
	require.NoError(t, err)
	_, err = c.Build(context.Background(), "second part")
	require.NoError(t, err)

	assert.Equal(t, 2, gen.resets)
	require.Len(t, gen.seen, 3)
	assert.Empty(t, gen.seen[0])
	assert.Equal(t, []string{"first part"}, gen.seen[1], "repair sees the earlier attempt")
	assert.Empty(t, gen.seen[2], "an unrelated build starts with no history")
}

func TestBuild_RetryBudgetIsBounded(t *testing.T) {
	f := newFixture(t)
	f.exec.run = failing("SyntaxError: invalid syntax")
	c := f.controller(t, nil)

	res, err := c.Build(context.Background(), "a gear")

	require.ErrorIs(t, err, ErrRetryBudgetExhausted)
	var exhausted *BudgetExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.Equal(t, f.paths.Log, exhausted.LogPath)
	assert.Equal(t, f.paths.Script, exhausted.ScriptPath)

	assert.Equal(t, 4, f.gen.calls())
	assert.Equal(t, 4, f.exec.calls)
	assert.Len(t, res.Attempts, 4)
	assert.False(t, res.Succeeded())
	assert.Empty(t, f.viewer.opened)
	assert.FileExists(t, f.paths.Script)
}

func TestBuild_MaxRetriesZeroMeansOneAttempt(t *testing.T) {
	f := newFixture(t)
	f.exec.run = failing("boom")
	c := f.controller(t, nil, WithMaxRetries(0))

	_, err := c.Build(context.Background(), "a gear")
	require.ErrorIs(t, err, ErrRetryBudgetExhausted)
	assert.Equal(t, 1, f.gen.calls())
}

func TestBuild_RepairPromptCarriesScriptAndDiagnostic(t *testing.T) {
	f := newFixture(t)
	f.gen.replies = []string{"broken_call()", "fixed_call()"}
	f.exec.run = func(_ context.Context, n int, _ string) (*types.ExecutionResult, error) {
		if n == 1 {
			return &types.ExecutionResult{Stderr: "NameError: name 'broken_call' is not defined", ExitCode: 1}, nil
		}
		return &types.ExecutionResult{}, nil
	}
	c := f.controller(t, &staticRetriever{})

	res, err := c.Build(context.Background(), "a flange")
	require.NoError(t, err)
	assert.Len(t, res.Attempts, 2)

	repair := f.gen.requests[1]
	assert.Contains(t, repair.Instruction, "a flange")
	assert.Contains(t, repair.Instruction, "broken_call()")
	assert.Contains(t, repair.Instruction, "NameError: name 'broken_call' is not defined")
	assert.Contains(t, repair.Instruction, "Keep the logic same")
	// Retrieval happens once and is reused for repairs.
	assert.Equal(t, f.gen.requests[0].Context, repair.Context)

	assert.Contains(t, res.Code, "fixed_call()")
	assert.NotContains(t, res.Script, "broken_call()")
	assert.Len(t, f.viewer.opened, 1)
}

func TestBuild_HarmlessFailureEndsBuild(t *testing.T) {
	f := newFixture(t)
	f.exec.run = failing("module 'FreeCADGui' has no attribute 'ActiveDocument'")
	c := f.controller(t, nil)

	res, err := c.Build(context.Background(), "a plate")
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeHarmlessFailure, res.Outcome)
	assert.Len(t, res.Attempts, 1)
	assert.Len(t, f.viewer.opened, 1)
}

func TestBuild_TimeoutIsRealFailure(t *testing.T) {
	f := newFixture(t)
	f.exec.run = func(context.Context, int, string) (*types.ExecutionResult, error) {
		return &types.ExecutionResult{TimedOut: true, ExitCode: -1}, nil
	}
	c := f.controller(t, nil, WithMaxRetries(1))

	res, err := c.Build(context.Background(), "a spring")
	require.ErrorIs(t, err, ErrRetryBudgetExhausted)
	assert.True(t, res.Attempts[0].TimedOut)
	assert.Equal(t, types.OutcomeRealFailure, res.Attempts[0].Outcome)
}

func TestBuild_GenerationErrorContinuesWithEmptyScript(t *testing.T) {
	f := newFixture(t)
	f.gen.errs = []error{&generation.GenerationError{Model: "fake", Err: errors.New("unreachable")}}
	var firstScript string
	f.exec.run = func(_ context.Context, n int, path string) (*types.ExecutionResult, error) {
		if n == 1 {
			data, _ := os.ReadFile(path)
			firstScript = string(data)
			return &types.ExecutionResult{Stderr: "nothing to export", ExitCode: 1}, nil
		}
		return &types.ExecutionResult{}, nil
	}
	c := f.controller(t, nil)

	res, err := c.Build(context.Background(), "a bracket")
	require.NoError(t, err)

	require.Len(t, res.Attempts, 2)
	assert.Contains(t, res.Attempts[0].GenerationError, "unreachable")
	assert.Equal(t, types.OutcomeRealFailure, res.Attempts[0].Outcome)
	assert.Contains(t, firstScript, script.DefaultDocumentLine)
}

func TestBuild_StaleOutputsRemovedBeforeEachRun(t *testing.T) {
	f := newFixture(t)
	var sawStale []bool
	f.exec.run = func(_ context.Context, n int, _ string) (*types.ExecutionResult, error) {
		_, err := os.Stat(f.paths.Mesh)
		sawStale = append(sawStale, err == nil)
		require.NoError(t, os.WriteFile(f.paths.Mesh, []byte("mesh"), 0644))
		if n == 1 {
			return &types.ExecutionResult{Stderr: "failed after export", ExitCode: 1}, nil
		}
		return &types.ExecutionResult{}, nil
	}
	c := f.controller(t, nil)

	res, err := c.Build(context.Background(), "a washer")
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false}, sawStale)
	assert.Equal(t, []string{f.paths.Mesh}, res.Artifacts)
}

func TestBuild_FatalEngineErrorAborts(t *testing.T) {
	f := newFixture(t)
	f.exec.preflight = &engine.FatalError{Op: "lookup", Err: errors.New("freecadcmd not found")}
	c := f.controller(t, nil)

	res, err := c.Build(context.Background(), "a cube")
	assert.Nil(t, res)
	var fatal *engine.FatalError
	assert.ErrorAs(t, err, &fatal)
	assert.Equal(t, 0, f.gen.calls())
	assert.Empty(t, f.viewer.opened)

	data, readErr := os.ReadFile(f.paths.ReportJSON)
	require.NoError(t, readErr)
	assert.Contains(t, string(data), StatusFailed)
}

func TestBuild_FatalRunErrorAborts(t *testing.T) {
	f := newFixture(t)
	f.exec.run = func(context.Context, int, string) (*types.ExecutionResult, error) {
		return nil, &engine.FatalError{Op: "write log", Err: errors.New("disk full")}
	}
	c := f.controller(t, nil)

	_, err := c.Build(context.Background(), "a cube")
	var fatal *engine.FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, 1, f.gen.calls())
}

func TestBuild_NonFatalRunErrorIsRealFailure(t *testing.T) {
	f := newFixture(t)
	f.exec.run = func(_ context.Context, n int, _ string) (*types.ExecutionResult, error) {
		if n == 1 {
			return nil, errors.New("pipe broke")
		}
		return &types.ExecutionResult{}, nil
	}
	c := f.controller(t, nil)

	res, err := c.Build(context.Background(), "a cube")
	require.NoError(t, err)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, types.OutcomeRealFailure, res.Attempts[0].Outcome)
	assert.Contains(t, f.gen.requests[1].Instruction, "pipe broke")
}

func TestBuild_WriteErrorAborts(t *testing.T) {
	f := newFixture(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	c, err := NewController(Components{
		Generator:    f.gen,
		Materializer: script.NewMaterializer(filepath.Join(blocker, "result_script.py"), script.Outputs{}),
		Executor:     f.exec,
		Viewer:       f.viewer,
	})
	require.NoError(t, err)

	_, err = c.Build(context.Background(), "a cube")
	var writeErr *script.WriteError
	assert.ErrorAs(t, err, &writeErr)
	assert.Equal(t, 0, f.exec.calls)
}

func TestBuild_RetrievalFailureIsWarning(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, erroringRetriever{})

	res, err := c.Build(context.Background(), "a cube")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ContextChunks)
	assert.Empty(t, f.gen.requests[0].Context)

	var warned bool
	for _, e := range f.events {
		if e.Type == types.EventTypeWarning {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestBuild_EventsFollowStateMachine(t *testing.T) {
	f := newFixture(t)
	f.exec.run = func(_ context.Context, n int, _ string) (*types.ExecutionResult, error) {
		if n == 1 {
			return &types.ExecutionResult{Stderr: "boom", ExitCode: 1}, nil
		}
		return &types.ExecutionResult{}, nil
	}
	c := f.controller(t, nil)

	_, err := c.Build(context.Background(), "a cube")
	require.NoError(t, err)

	var states []types.BuildState
	for _, e := range f.events {
		if e.Type == types.EventTypeStateChange {
			states = append(states, e.State)
		}
	}
	assert.Equal(t, []types.BuildState{
		types.StateGenerating, types.StateMaterializing, types.StateExecuting, types.StateClassifying,
		types.StateRepairing,
		types.StateGenerating, types.StateMaterializing, types.StateExecuting, types.StateClassifying,
		types.StateDone,
	}, states)

	assert.Equal(t, types.EventTypeBuildStart, f.events[0].Type)
	last := f.events[len(f.events)-1]
	assert.True(t, last.IsTerminal())
	assert.Equal(t, types.EventTypeBuildSucceeded, last.Type)
}

func TestBuild_RejectsConcurrentBuild(t *testing.T) {
	f := newFixture(t)
	f.gen.started = make(chan struct{}, 1)
	f.gen.release = make(chan struct{})
	c := f.controller(t, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Build(context.Background(), "first")
		done <- err
	}()
	<-f.gen.started

	_, err := c.Build(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBuildInProgress)

	close(f.gen.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.gen.calls())
}

func TestBuild_QueuesConcurrentBuild(t *testing.T) {
	f := newFixture(t)
	f.gen.started = make(chan struct{}, 1)
	f.gen.release = make(chan struct{})
	c := f.controller(t, nil, WithConcurrency(config.ConcurrencyQueue))

	var finished atomic.Int32
	first := make(chan error, 1)
	go func() {
		_, err := c.Build(context.Background(), "first")
		finished.Add(1)
		first <- err
	}()
	<-f.gen.started

	second := make(chan error, 1)
	go func() {
		_, err := c.Build(context.Background(), "second")
		second <- err
	}()

	select {
	case <-second:
		t.Fatal("second build ran while the first was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(f.gen.release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.Equal(t, int32(1), finished.Load())
	assert.Equal(t, 2, f.gen.calls())
}

func TestBuild_QueuedBuildHonorsContext(t *testing.T) {
	f := newFixture(t)
	f.gen.started = make(chan struct{}, 1)
	f.gen.release = make(chan struct{})
	c := f.controller(t, nil, WithConcurrency(config.ConcurrencyQueue))

	first := make(chan error, 1)
	go func() {
		_, err := c.Build(context.Background(), "first")
		first <- err
	}()
	<-f.gen.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Build(ctx, "second")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(f.gen.release)
	require.NoError(t, <-first)
}

func TestBuild_CancelDuringExecution(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.exec.run = func(ctx context.Context, _ int, _ string) (*types.ExecutionResult, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c := f.controller(t, nil)

	res, err := c.Build(ctx, "a cube")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.exec.calls)
	assert.Empty(t, f.viewer.opened)

	// The controller is free again.
	f.exec.run = failing("")
	_, err = c.Build(context.Background(), "a cube")
	assert.NotErrorIs(t, err, ErrBuildInProgress)
}

func TestNewController_RequiresStages(t *testing.T) {
	_, err := NewController(Components{})
	assert.Error(t, err)
}
