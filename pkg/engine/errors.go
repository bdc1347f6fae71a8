package engine

import "fmt"

// FatalError means the engine cannot run at all, for example because the
// binary is missing or the log cannot be written. Retrying will not help.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
