// Package console prints build progress for the command-line front end.
package console

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/cadforge/pkg/pipeline"
	"github.com/entrhq/cadforge/pkg/types"
)

// Level represents the console verbosity level
type Level int

const (
	// LevelQuiet shows only warnings, errors and the final summary
	LevelQuiet Level = iota
	// LevelNormal shows attempt progress (default)
	LevelNormal
	// LevelVerbose shows every state change
	LevelVerbose
	// LevelDebug shows all events
	LevelDebug
)

// ParseLevel converts a verbosity name to a Level. Unknown names map to
// LevelNormal.
func ParseLevel(name string) Level {
	switch name {
	case "quiet":
		return LevelQuiet
	case "verbose":
		return LevelVerbose
	case "debug":
		return LevelDebug
	default:
		return LevelNormal
	}
}

// Console renders build events for a terminal.
type Console struct {
	mu     sync.Mutex
	writer io.Writer
	styles styles
	level  Level
}

// New creates a console writing to w.
func New(w io.Writer, level Level) *Console {
	return &Console{
		writer: w,
		level:  level,
		styles: newStyles(lipgloss.NewRenderer(w)),
	}
}

func (c *Console) printf(style lipgloss.Style, format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.writer, style.Render(fmt.Sprintf(format, args...)))
}

// Header prints a prominent header.
func (c *Console) Header(message string) {
	if c.level < LevelNormal {
		return
	}
	rule := strings.Repeat("=", 60)
	c.printf(c.styles.header, "\n%s\n  %s\n%s", rule, message, rule)
}

// Infof prints an informational line.
func (c *Console) Infof(format string, args ...interface{}) {
	if c.level >= LevelNormal {
		c.printf(c.styles.info, format, args...)
	}
}

// Successf prints a success line.
func (c *Console) Successf(format string, args ...interface{}) {
	if c.level >= LevelNormal {
		c.printf(c.styles.success, "✓ "+format, args...)
	}
}

// Warningf prints a warning. Warnings show at every level.
func (c *Console) Warningf(format string, args ...interface{}) {
	c.printf(c.styles.warning, "⚠ Warning: "+format, args...)
}

// Errorf prints an error. Errors show at every level.
func (c *Console) Errorf(format string, args ...interface{}) {
	c.printf(c.styles.err, "✗ Error: "+format, args...)
}

// Verbosef prints detail shown in verbose mode.
func (c *Console) Verbosef(format string, args ...interface{}) {
	if c.level >= LevelVerbose {
		c.printf(c.styles.muted, "→ "+format, args...)
	}
}

// Debugf prints detail shown in debug mode.
func (c *Console) Debugf(format string, args ...interface{}) {
	if c.level >= LevelDebug {
		c.printf(c.styles.muted, "[DEBUG] "+format, args...)
	}
}

// HandleEvent renders one build event. It matches pipeline.EventHandler.
func (c *Console) HandleEvent(e *types.BuildEvent) {
	switch e.Type {
	case types.EventTypeBuildStart:
		c.Header("Building: " + e.Message)
		c.Debugf("build id %s", e.BuildID)
	case types.EventTypeRetrieval:
		c.Verbosef("%s", e.Message)
	case types.EventTypeStateChange:
		c.stateChange(e)
	case types.EventTypeAttemptComplete:
		if e.Outcome.Succeeded() {
			c.Successf("attempt %d: %s", e.Attempt, e.Outcome)
		} else {
			c.Infof("  attempt %d failed (%s)", e.Attempt, e.Outcome)
		}
	case types.EventTypeWarning:
		c.Warningf("%s", e.Message)
	case types.EventTypeBuildSucceeded:
		c.Successf("%s", e.Message)
	case types.EventTypeBuildFailed:
		c.Errorf("%s", e.Message)
	}
}

func (c *Console) stateChange(e *types.BuildEvent) {
	switch e.State {
	case types.StateGenerating:
		if c.level >= LevelNormal {
			c.printf(c.styles.step, "\n▶ Attempt %d: generating script", e.Attempt)
		}
	case types.StateExecuting:
		c.Infof("  running FreeCAD...")
	case types.StateRepairing:
		c.Infof("  asking the model for a fix")
	default:
		c.Verbosef("  %s", e.State)
	}
}

// Summary prints the final outcome of a build.
func (c *Console) Summary(res *pipeline.Result, err error) {
	rule := strings.Repeat("=", 60)
	c.printf(c.styles.header, "\n%s\n  BUILD SUMMARY\n%s", rule, rule)

	var exhausted *pipeline.BudgetExhaustedError
	switch {
	case err == nil && res != nil:
		c.printf(c.styles.success, "  Status: ✓ SUCCESS (%s)", res.Outcome)
	case errors.As(err, &exhausted):
		c.printf(c.styles.err, "  Status: ✗ FAILED after %d attempts", exhausted.Attempts)
	default:
		c.printf(c.styles.err, "  Status: ✗ ABORTED")
	}

	if res != nil {
		c.printf(c.styles.muted, "  Attempts: %d", len(res.Attempts))
		c.printf(c.styles.muted, "  Duration: %s", res.EndTime.Sub(res.StartTime).Round(time.Millisecond))
		c.printf(c.styles.muted, "  Script: %s", res.ScriptPath)
		for _, a := range res.Artifacts {
			c.printf(c.styles.muted, "  Artifact: %s", a)
		}
	}
	if err != nil {
		c.printf(c.styles.err, "  %v", err)
	}
	c.printf(c.styles.header, "%s", rule)
}
