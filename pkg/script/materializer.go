package script

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// WriteError reports that the script or its artifacts could not be written
// or cleaned up. The build cannot continue after one.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("cannot write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Materialized is the result of writing one attempt's script.
type Materialized struct {
	// Path is where the full script was written.
	Path string
	// Code is the normalized model output without the export snippet.
	Code string
	// Text is the full file content.
	Text string
}

// Materializer owns the canonical script path and output artifacts.
type Materializer struct {
	outputs    Outputs
	scriptPath string
}

// NewMaterializer creates a materializer writing to scriptPath.
func NewMaterializer(scriptPath string, outputs Outputs) *Materializer {
	return &Materializer{scriptPath: scriptPath, outputs: outputs}
}

// ScriptPath returns the canonical script location.
func (m *Materializer) ScriptPath() string {
	return m.scriptPath
}

// Outputs returns the artifact paths the script writes.
func (m *Materializer) Outputs() Outputs {
	return m.outputs
}

// Materialize deletes stale artifacts, normalizes raw and overwrites the
// canonical script file, creating parent directories as needed.
func (m *Materializer) Materialize(raw string) (*Materialized, error) {
	if err := m.CleanOutputs(); err != nil {
		return nil, err
	}

	code := Prepare(raw)
	text := code + ExportSnippet(m.outputs)

	if err := os.MkdirAll(filepath.Dir(m.scriptPath), 0755); err != nil {
		return nil, &WriteError{Path: filepath.Dir(m.scriptPath), Err: err}
	}
	if err := os.WriteFile(m.scriptPath, []byte(text), 0644); err != nil {
		return nil, &WriteError{Path: m.scriptPath, Err: err}
	}

	return &Materialized{Path: m.scriptPath, Code: code, Text: text}, nil
}

// CleanOutputs removes artifacts left by a previous attempt so a failed run
// can never be mistaken for a successful one.
func (m *Materializer) CleanOutputs() error {
	for _, path := range m.outputs.List() {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &WriteError{Path: path, Err: err}
		}
	}
	return nil
}

// ExistingOutputs returns the artifacts currently on disk.
func (m *Materializer) ExistingOutputs() []string {
	var found []string
	for _, path := range m.outputs.List() {
		if path == "" {
			continue
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			found = append(found, path)
		}
	}
	return found
}
