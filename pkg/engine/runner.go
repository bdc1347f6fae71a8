// Package engine runs materialized scripts through the FreeCAD command-line
// engine and opens results in the FreeCAD GUI.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/cadforge/pkg/logging"
	"github.com/entrhq/cadforge/pkg/types"
)

const (
	// DefaultTimeout bounds a single engine run.
	DefaultTimeout = 60 * time.Second

	// maxOutputBytes caps each captured stream.
	maxOutputBytes = 1024 * 1024

	// waitDelay is how long Wait keeps waiting for output pipes after the
	// process group has been killed.
	waitDelay = 5 * time.Second
)

// Executor runs one script and reports what the engine produced.
type Executor interface {
	Run(ctx context.Context, scriptPath string) (*types.ExecutionResult, error)
}

// Runner executes scripts with the FreeCAD command-line binary.
type Runner struct {
	logger  *logging.Logger
	binary  string
	workDir string
	logPath string
	timeout time.Duration
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTimeout sets the wall-clock limit per run.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithWorkDir sets the directory the engine runs in so relative resource
// paths inside scripts resolve.
func WithWorkDir(dir string) RunnerOption {
	return func(r *Runner) { r.workDir = dir }
}

// WithLogPath sets where the diagnostic text of the latest run is written.
func WithLogPath(path string) RunnerOption {
	return func(r *Runner) { r.logPath = path }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *logging.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner for the given engine binary.
func NewRunner(binary string, opts ...RunnerOption) *Runner {
	r := &Runner{binary: binary, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Preflight checks that the engine binary can be found.
func (r *Runner) Preflight() error {
	if _, err := exec.LookPath(r.binary); err != nil {
		return &FatalError{Op: "lookup", Err: err}
	}
	return nil
}

// LogPath returns where run diagnostics are written.
func (r *Runner) LogPath() string {
	return r.logPath
}

// Run executes scriptPath. The child process tree is always dead when Run
// returns. A timeout is not an error: the result has TimedOut set and a
// synthesized line is appended to Stderr. Cancellation of ctx returns
// ctx.Err().
func (r *Runner) Run(ctx context.Context, scriptPath string) (*types.ExecutionResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.binary, scriptPath)
	cmd.Dir = r.workDir
	stdout := newTailBuffer(maxOutputBytes)
	stderr := newTailBuffer(maxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	r.logger.Infof("running %s %s (timeout %s, dir %q)", r.binary, scriptPath, r.timeout, r.workDir)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, &FatalError{Op: "start", Err: err}
		}
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	waitErr := cmd.Wait()

	result := &types.ExecutionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() != nil {
		r.logger.Warnf("engine run canceled after %s", result.Duration)
		return nil, ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		result.ExitCode = -1
		result.Stderr = appendLine(result.Stderr, fmt.Sprintf("cadforge: execution timed out after %s", r.timeout))
	case errors.As(waitErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	case waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay):
		return nil, fmt.Errorf("engine run failed: %w", waitErr)
	}

	if stderr.truncated {
		r.logger.Warnf("engine stderr exceeded %d bytes and was truncated to its tail", maxOutputBytes)
	}
	r.logger.Infof("engine exited with code %d after %s (timed out: %v, stderr %d bytes)",
		result.ExitCode, result.Duration, result.TimedOut, len(result.Stderr))

	if err := r.writeLog(result.Diagnostic()); err != nil {
		return nil, err
	}

	return result, nil
}

// writeLog overwrites the run log with the latest diagnostic text.
func (r *Runner) writeLog(diagnostic string) error {
	if r.logPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.logPath), 0755); err != nil {
		return &FatalError{Op: "write log", Err: err}
	}
	if err := os.WriteFile(r.logPath, []byte(diagnostic), 0644); err != nil {
		return &FatalError{Op: "write log", Err: err}
	}
	return nil
}

func appendLine(text, line string) string {
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text + line + "\n"
}
