package generation

import (
	"errors"
	"fmt"
)

// ErrEmptyResponse is returned when the model answers with no content.
var ErrEmptyResponse = errors.New("model returned an empty response")

// GenerationError reports that the model could not produce a script. The
// build continues with an empty script, which then fails at execution.
type GenerationError struct {
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("generation failed: %v", e.Err)
	}
	return fmt.Sprintf("generation with %s failed: %v", e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
