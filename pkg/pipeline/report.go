package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/cadforge/pkg/types"
)

// Build statuses recorded in reports.
const (
	StatusSucceeded = "succeeded"
	StatusExhausted = "exhausted"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// Report summarizes the most recent build.
type Report struct {
	BuildID       string          `json:"build_id"`
	Instruction   string          `json:"instruction"`
	Status        string          `json:"status"`
	Error         string          `json:"error,omitempty"`
	Model         string          `json:"model,omitempty"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	Duration      time.Duration   `json:"duration"`
	ContextChunks int             `json:"context_chunks"`
	Attempts      []types.Attempt `json:"attempts"`
	ScriptPath    string          `json:"script_path"`
	LogPath       string          `json:"log_path"`
	Artifacts     []string        `json:"artifacts"`
}

// ReportWriter writes build reports, overwriting the previous ones.
type ReportWriter struct {
	jsonPath     string
	markdownPath string
}

// NewReportWriter creates a writer for the two report files.
func NewReportWriter(jsonPath, markdownPath string) *ReportWriter {
	return &ReportWriter{jsonPath: jsonPath, markdownPath: markdownPath}
}

// WriteAll writes both report formats.
func (w *ReportWriter) WriteAll(r *Report) error {
	if err := w.WriteJSON(r); err != nil {
		return fmt.Errorf("failed to write build report: %w", err)
	}
	if err := w.WriteMarkdown(r); err != nil {
		return fmt.Errorf("failed to write build summary: %w", err)
	}
	return nil
}

// WriteJSON writes the machine-readable report.
func (w *ReportWriter) WriteJSON(r *Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	return writeFile(w.jsonPath, data)
}

// WriteMarkdown writes a human-readable summary.
func (w *ReportWriter) WriteMarkdown(r *Report) error {
	var md strings.Builder

	md.WriteString("# cadforge Build Summary\n\n")
	md.WriteString(fmt.Sprintf("**Instruction:** %s\n\n", r.Instruction))
	md.WriteString(fmt.Sprintf("**Status:** %s\n\n", r.Status))
	if r.Model != "" {
		md.WriteString(fmt.Sprintf("**Model:** %s\n\n", r.Model))
	}
	md.WriteString(fmt.Sprintf("**Started:** %s\n\n", r.StartTime.Format(time.RFC3339)))
	md.WriteString(fmt.Sprintf("**Duration:** %s\n\n", r.Duration.Round(time.Millisecond)))
	md.WriteString(fmt.Sprintf("**Context chunks:** %d\n\n", r.ContextChunks))

	md.WriteString("## Result\n\n")
	if r.Error != "" {
		md.WriteString(fmt.Sprintf("❌ **Error:** %s\n\n", r.Error))
	} else {
		md.WriteString("✅ **Success**\n\n")
	}

	if len(r.Attempts) > 0 {
		md.WriteString("## Attempts\n\n")
		md.WriteString("| # | Outcome | Rule | Exit code | Timed out | Duration |\n")
		md.WriteString("|---|---------|------|-----------|-----------|----------|\n")
		for _, a := range r.Attempts {
			md.WriteString(fmt.Sprintf("| %d | %s | %s | %d | %v | %s |\n",
				a.Number, a.Outcome, a.Tier, a.ExitCode, a.TimedOut, a.Duration.Round(time.Millisecond)))
		}
		md.WriteString("\n")
		for _, a := range r.Attempts {
			if a.GenerationError != "" {
				md.WriteString(fmt.Sprintf("- Attempt %d generation error: %s\n", a.Number, a.GenerationError))
			}
		}
	}

	md.WriteString("## Files\n\n")
	md.WriteString(fmt.Sprintf("- Script: `%s`\n", r.ScriptPath))
	md.WriteString(fmt.Sprintf("- Log: `%s`\n", r.LogPath))
	for _, a := range r.Artifacts {
		md.WriteString(fmt.Sprintf("- Artifact: `%s`\n", a))
	}

	return writeFile(w.markdownPath, []byte(md.String()))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
