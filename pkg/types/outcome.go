package types

import (
	"fmt"
	"time"
)

// Outcome is the classification of one engine run.
type Outcome int

const (
	// OutcomeSuccess means the engine produced no diagnostic text.
	OutcomeSuccess Outcome = iota
	// OutcomeHarmlessFailure means the diagnostics only concern the absent GUI.
	OutcomeHarmlessFailure
	// OutcomeRealFailure means the script needs repair.
	OutcomeRealFailure
)

// String returns the lowercase name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeHarmlessFailure:
		return "harmless_failure"
	case OutcomeRealFailure:
		return "real_failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Succeeded reports whether the outcome ends a build successfully.
func (o Outcome) Succeeded() bool {
	return o == OutcomeSuccess || o == OutcomeHarmlessFailure
}

// MarshalText implements encoding.TextMarshaler so reports carry the name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so reports can be read
// back. Unknown names are an error.
func (o *Outcome) UnmarshalText(text []byte) error {
	switch string(text) {
	case "success":
		*o = OutcomeSuccess
	case "harmless_failure":
		*o = OutcomeHarmlessFailure
	case "real_failure":
		*o = OutcomeRealFailure
	default:
		return fmt.Errorf("unknown outcome %q", text)
	}
	return nil
}

// ExecutionResult is what the engine produced for one script run.
type ExecutionResult struct {
	Stdout   string        `json:"-"`
	Stderr   string        `json:"-"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration"`
}

// Diagnostic returns the text the outcome classifier inspects.
func (r *ExecutionResult) Diagnostic() string {
	if r == nil {
		return ""
	}
	return r.Stderr
}

// Attempt records the metadata of one generate-execute-classify cycle.
// The script of an earlier attempt is never kept.
type Attempt struct {
	Number          int           `json:"number"`
	Outcome         Outcome       `json:"outcome"`
	Tier            string        `json:"tier,omitempty"`
	ExitCode        int           `json:"exit_code"`
	TimedOut        bool          `json:"timed_out,omitempty"`
	Duration        time.Duration `json:"duration"`
	GenerationError string        `json:"generation_error,omitempty"`
}
