package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrBuildInProgress is returned when a build is requested while another
	// one is running and the controller rejects concurrent builds.
	ErrBuildInProgress = errors.New("a build is already in progress")

	// ErrRetryBudgetExhausted matches every *BudgetExhaustedError.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
)

// BudgetExhaustedError ends a build whose every attempt failed. The last
// script and its log stay on disk for inspection.
type BudgetExhaustedError struct {
	Attempts   int
	LogPath    string
	ScriptPath string
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("no working script after %d attempts; check %s for details", e.Attempts, e.LogPath)
}

// Is reports whether target is ErrRetryBudgetExhausted.
func (e *BudgetExhaustedError) Is(target error) bool {
	return target == ErrRetryBudgetExhausted
}
