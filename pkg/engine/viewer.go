package engine

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/entrhq/cadforge/pkg/logging"
)

// Viewer shows a finished script to the user.
type Viewer interface {
	Open(ctx context.Context, scriptPath string) error
}

// ProcessViewer launches the FreeCAD GUI on the script and does not wait
// for it to close.
type ProcessViewer struct {
	logger  *logging.Logger
	binary  string
	workDir string
}

// NewProcessViewer creates a viewer that starts binary with the script.
func NewProcessViewer(binary, workDir string, logger *logging.Logger) *ProcessViewer {
	return &ProcessViewer{binary: binary, workDir: workDir, logger: logger}
}

// Open starts the GUI detached from cadforge.
func (v *ProcessViewer) Open(ctx context.Context, scriptPath string) error {
	cmd := exec.Command(v.binary, scriptPath)
	cmd.Dir = v.workDir
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open viewer: %w", err)
	}
	v.logger.Infof("opened %s %s (pid %d)", v.binary, scriptPath, cmd.Process.Pid)

	// Reap the child when the user closes it.
	go func() { _ = cmd.Wait() }()
	return nil
}

// NopViewer never opens anything.
type NopViewer struct{}

// Open does nothing.
func (NopViewer) Open(context.Context, string) error { return nil }
