// Package pipeline runs the generate, execute, diagnose and repair loop that
// turns a part description into a working FreeCAD script.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/entrhq/cadforge/pkg/classify"
	"github.com/entrhq/cadforge/pkg/config"
	"github.com/entrhq/cadforge/pkg/engine"
	"github.com/entrhq/cadforge/pkg/generation"
	"github.com/entrhq/cadforge/pkg/logging"
	"github.com/entrhq/cadforge/pkg/prompt"
	"github.com/entrhq/cadforge/pkg/retrieval"
	"github.com/entrhq/cadforge/pkg/script"
	"github.com/entrhq/cadforge/pkg/types"
)

const (
	// DefaultMaxRetries is the number of repair attempts after the first.
	DefaultMaxRetries = 3
	// DefaultTopK is the number of context chunks requested per build.
	DefaultTopK = 40
)

// Materializer writes one attempt's script to the canonical location.
type Materializer interface {
	Materialize(raw string) (*script.Materialized, error)
	ScriptPath() string
	ExistingOutputs() []string
}

// Classifier decides the outcome of an engine run.
type Classifier interface {
	ClassifyResult(res *types.ExecutionResult) classify.Classification
}

// sessionGenerator is a Generator that keeps history between calls, such as
// generation.Conversation. Its history is cleared when a build starts, so it
// spans the attempts of one build only.
type sessionGenerator interface {
	generation.Generator
	Reset()
}

// EventHandler receives progress events. It is called synchronously from
// the building goroutine.
type EventHandler func(*types.BuildEvent)

// Components are the stages the controller drives.
type Components struct {
	Retriever    retrieval.Retriever
	Generator    generation.Generator
	Materializer Materializer
	Executor     engine.Executor
	Classifier   Classifier
	Viewer       engine.Viewer
}

// Result describes a finished build. Scripts of earlier attempts are not
// kept; Script and Code belong to the last attempt.
type Result struct {
	BuildID       string
	Instruction   string
	Outcome       types.Outcome
	Attempts      []types.Attempt
	ContextChunks int
	ScriptPath    string
	LogPath       string
	// Code is the normalized model output of the last attempt.
	Code string
	// Script is the full file the engine ran last.
	Script    string
	Artifacts []string
	StartTime time.Time
	EndTime   time.Time
}

// Succeeded reports whether the build produced a working script.
func (r *Result) Succeeded() bool {
	return r != nil && len(r.Attempts) > 0 && r.Outcome.Succeeded()
}

// Controller runs builds one at a time.
type Controller struct {
	components Components
	reports    *ReportWriter
	logger     *logging.Logger
	onEvent    EventHandler
	sem        *semaphore.Weighted
	mode       config.ConcurrencyMode
	model      string
	logPath    string
	maxRetries int
	topK       int
}

// Option configures a Controller.
type Option func(*Controller)

// WithMaxRetries sets how many repair attempts follow the first attempt.
func WithMaxRetries(n int) Option {
	return func(c *Controller) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithTopK sets how many context chunks are retrieved.
func WithTopK(k int) Option {
	return func(c *Controller) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithConcurrency sets whether concurrent builds are rejected or queued.
func WithConcurrency(mode config.ConcurrencyMode) Option {
	return func(c *Controller) { c.mode = mode }
}

// WithEventHandler registers a progress callback.
func WithEventHandler(h EventHandler) Option {
	return func(c *Controller) { c.onEvent = h }
}

// WithReportWriter enables build reports.
func WithReportWriter(w *ReportWriter) Option {
	return func(c *Controller) { c.reports = w }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithLogPath sets the run log location reported to the user.
func WithLogPath(path string) Option {
	return func(c *Controller) { c.logPath = path }
}

// WithModel records the model name in reports.
func WithModel(model string) Option {
	return func(c *Controller) { c.model = model }
}

// NewController creates a controller. Retriever, Classifier and Viewer fall
// back to no-op or default implementations when nil.
func NewController(components Components, opts ...Option) (*Controller, error) {
	if components.Generator == nil {
		return nil, errors.New("pipeline: generator is required")
	}
	if components.Materializer == nil {
		return nil, errors.New("pipeline: materializer is required")
	}
	if components.Executor == nil {
		return nil, errors.New("pipeline: executor is required")
	}
	if components.Retriever == nil {
		components.Retriever = retrieval.Nop{}
	}
	if components.Classifier == nil {
		components.Classifier = classify.New()
	}
	if components.Viewer == nil {
		components.Viewer = engine.NopViewer{}
	}

	c := &Controller{
		components: components,
		sem:        semaphore.NewWeighted(1),
		mode:       config.ConcurrencyReject,
		maxRetries: DefaultMaxRetries,
		topK:       DefaultTopK,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// MaxAttempts returns the attempt budget of one build.
func (c *Controller) MaxAttempts() int {
	return c.maxRetries + 1
}

// Build turns instruction into a working script. On budget exhaustion it
// returns the result together with a *BudgetExhaustedError. Fatal errors,
// cancellation and ErrBuildInProgress return a nil result.
func (c *Controller) Build(ctx context.Context, instruction string) (*Result, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	if s, ok := c.components.Generator.(sessionGenerator); ok {
		s.Reset()
	}

	b := &buildRun{
		Controller: c,
		result: &Result{
			BuildID:     uuid.NewString(),
			Instruction: instruction,
			ScriptPath:  c.components.Materializer.ScriptPath(),
			LogPath:     c.logPath,
			StartTime:   time.Now(),
		},
	}
	return b.run(ctx)
}

func (c *Controller) acquire(ctx context.Context) error {
	if c.mode == config.ConcurrencyQueue {
		return c.sem.Acquire(ctx, 1)
	}
	if !c.sem.TryAcquire(1) {
		return ErrBuildInProgress
	}
	return nil
}

// buildRun carries the state of a single Build call.
type buildRun struct {
	*Controller
	result *Result
	chunks []types.ContextChunk
}

func (b *buildRun) emit(e *types.BuildEvent) {
	if b.onEvent != nil {
		b.onEvent(e)
	}
}

func (b *buildRun) event(t types.BuildEventType) *types.BuildEvent {
	return types.NewBuildEvent(t, b.result.BuildID)
}

func (b *buildRun) state(s types.BuildState, attempt int) {
	b.emit(b.event(types.EventTypeStateChange).WithState(s, attempt))
}

func (b *buildRun) warn(attempt int, err error) {
	e := b.event(types.EventTypeWarning).WithMessage(err.Error())
	e.Attempt = attempt
	e.Error = err
	b.emit(e)
}

func (b *buildRun) run(ctx context.Context) (*Result, error) {
	b.logger.Infof("build %s started: %q", b.result.BuildID, b.result.Instruction)
	b.emit(b.event(types.EventTypeBuildStart).WithMessage(b.result.Instruction))

	if p, ok := b.components.Executor.(interface{ Preflight() error }); ok {
		if err := p.Preflight(); err != nil {
			return nil, b.abort(err)
		}
	}

	chunks, err := b.components.Retriever.Retrieve(ctx, b.result.Instruction, b.topK)
	if err != nil {
		if ctx.Err() != nil {
			return nil, b.abort(ctx.Err())
		}
		b.logger.Warnf("retrieval failed, continuing without context: %v", err)
		b.warn(0, fmt.Errorf("retrieval failed, continuing without context: %w", err))
		chunks = nil
	}
	b.chunks = chunks
	b.result.ContextChunks = len(chunks)
	b.emit(b.event(types.EventTypeRetrieval).WithMessage(fmt.Sprintf("retrieved %d context chunks", len(chunks))))

	turn := b.result.Instruction
	for n := 1; n <= b.MaxAttempts(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, b.abort(err)
		}
		mat, execRes, err := b.attempt(ctx, n, turn)
		if err != nil {
			return nil, b.abort(err)
		}

		last := b.result.Attempts[len(b.result.Attempts)-1]
		if last.Outcome.Succeeded() {
			return b.succeed(ctx, n)
		}
		if n == b.MaxAttempts() {
			break
		}

		b.state(types.StateRepairing, n)
		b.logger.Infof("attempt %d failed (%s), requesting a repair", n, last.Tier)
		turn = prompt.RepairRequest(b.result.Instruction, mat.Text, execRes.Diagnostic())
	}

	return b.exhaust()
}

// attempt runs generate, materialize, execute and classify once. Only fatal
// errors and cancellation are returned.
func (b *buildRun) attempt(ctx context.Context, n int, turn string) (*script.Materialized, *types.ExecutionResult, error) {
	record := types.Attempt{Number: n}

	b.state(types.StateGenerating, n)
	code, err := b.components.Generator.Generate(ctx, generation.Request{Instruction: turn, Context: b.chunks})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		b.logger.Warnf("attempt %d: %v", n, err)
		b.warn(n, err)
		record.GenerationError = err.Error()
		code = ""
	}

	b.state(types.StateMaterializing, n)
	mat, err := b.components.Materializer.Materialize(code)
	if err != nil {
		return nil, nil, err
	}
	b.result.Code = mat.Code
	b.result.Script = mat.Text

	b.state(types.StateExecuting, n)
	execRes, err := b.components.Executor.Run(ctx, mat.Path)
	if err != nil {
		var fatal *engine.FatalError
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if errors.As(err, &fatal) {
			return nil, nil, err
		}
		b.logger.Warnf("attempt %d: engine run failed: %v", n, err)
		execRes = &types.ExecutionResult{
			ExitCode: -1,
			Stderr:   fmt.Sprintf("cadforge: execution failed: %v\n", err),
		}
		b.writeLog(execRes.Stderr)
	}

	b.state(types.StateClassifying, n)
	cls := b.components.Classifier.ClassifyResult(execRes)
	record.Outcome = cls.Outcome
	record.Tier = cls.Tier
	record.ExitCode = execRes.ExitCode
	record.TimedOut = execRes.TimedOut
	record.Duration = execRes.Duration
	b.result.Attempts = append(b.result.Attempts, record)
	b.result.Outcome = cls.Outcome

	done := b.event(types.EventTypeAttemptComplete).WithState(types.StateClassifying, n)
	done.Outcome = cls.Outcome
	done.Message = fmt.Sprintf("attempt %d: %s (%s)", n, cls.Outcome, cls.Tier)
	b.emit(done)

	return mat, execRes, nil
}

func (b *buildRun) writeLog(text string) {
	if b.logPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(b.logPath), 0755); err == nil {
		err = os.WriteFile(b.logPath, []byte(text), 0644)
		if err == nil {
			return
		}
	}
	b.logger.Warnf("failed to write run log %s", b.logPath)
}

func (b *buildRun) succeed(ctx context.Context, n int) (*Result, error) {
	b.finish()
	b.state(types.StateDone, n)

	if err := b.components.Viewer.Open(ctx, b.result.ScriptPath); err != nil {
		b.logger.Warnf("failed to open viewer: %v", err)
		b.warn(n, err)
	}

	b.writeReport(StatusSucceeded, nil)
	b.logger.Infof("build %s succeeded after %d attempt(s)", b.result.BuildID, n)
	b.emit(b.event(types.EventTypeBuildSucceeded).WithState(types.StateDone, n).
		WithMessage(fmt.Sprintf("working script written to %s", b.result.ScriptPath)))
	return b.result, nil
}

func (b *buildRun) exhaust() (*Result, error) {
	b.finish()
	n := len(b.result.Attempts)
	b.state(types.StateDone, n)

	err := &BudgetExhaustedError{Attempts: n, LogPath: b.result.LogPath, ScriptPath: b.result.ScriptPath}
	b.writeReport(StatusExhausted, err)
	b.logger.Warnf("build %s: %v", b.result.BuildID, err)

	e := b.event(types.EventTypeBuildFailed).WithState(types.StateDone, n).WithMessage(err.Error())
	e.Error = err
	b.emit(e)
	return b.result, err
}

// abort ends the build on a fatal error or cancellation.
func (b *buildRun) abort(err error) error {
	b.finish()
	status := StatusFailed
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status = StatusCanceled
	}
	b.writeReport(status, err)
	b.logger.Errorf("build %s aborted: %v", b.result.BuildID, err)

	e := b.event(types.EventTypeBuildFailed).WithState(types.StateDone, len(b.result.Attempts)).WithMessage(err.Error())
	e.Error = err
	b.emit(e)
	return err
}

func (b *buildRun) finish() {
	b.result.EndTime = time.Now()
	b.result.Artifacts = b.components.Materializer.ExistingOutputs()
}

func (b *buildRun) writeReport(status string, buildErr error) {
	if b.reports == nil {
		return
	}
	r := &Report{
		BuildID:       b.result.BuildID,
		Instruction:   b.result.Instruction,
		Status:        status,
		Model:         b.model,
		StartTime:     b.result.StartTime,
		EndTime:       b.result.EndTime,
		Duration:      b.result.EndTime.Sub(b.result.StartTime),
		ContextChunks: b.result.ContextChunks,
		Attempts:      b.result.Attempts,
		ScriptPath:    b.result.ScriptPath,
		LogPath:       b.result.LogPath,
		Artifacts:     b.result.Artifacts,
	}
	if r.Attempts == nil {
		r.Attempts = []types.Attempt{}
	}
	if buildErr != nil {
		r.Error = buildErr.Error()
	}
	if err := b.reports.WriteAll(r); err != nil {
		b.logger.Warnf("%v", err)
	}
}
