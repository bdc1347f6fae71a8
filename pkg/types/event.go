package types

import "time"

// BuildEventType defines the kind of progress event emitted during a build.
type BuildEventType string

const (
	EventTypeBuildStart      BuildEventType = "build_start"      // EventTypeBuildStart indicates a build has begun.
	EventTypeRetrieval       BuildEventType = "retrieval"        // EventTypeRetrieval reports how many context chunks were found.
	EventTypeStateChange     BuildEventType = "state_change"     // EventTypeStateChange indicates the controller entered a new state.
	EventTypeAttemptComplete BuildEventType = "attempt_complete" // EventTypeAttemptComplete carries the classified outcome of an attempt.
	EventTypeWarning         BuildEventType = "warning"          // EventTypeWarning reports a recoverable problem.
	EventTypeBuildSucceeded  BuildEventType = "build_succeeded"  // EventTypeBuildSucceeded indicates the build produced a working script.
	EventTypeBuildFailed     BuildEventType = "build_failed"     // EventTypeBuildFailed indicates the build ended without a working script.
)

// BuildState is a state of the repair loop.
type BuildState string

const (
	StateGenerating    BuildState = "generating"
	StateMaterializing BuildState = "materializing"
	StateExecuting     BuildState = "executing"
	StateClassifying   BuildState = "classifying"
	StateRepairing     BuildState = "repairing"
	StateDone          BuildState = "done"
)

// BuildEvent is a progress notification from the repair loop controller.
type BuildEvent struct {
	Time    time.Time
	Error   error
	Type    BuildEventType
	BuildID string
	State   BuildState
	Message string
	Attempt int
	Outcome Outcome
}

// NewBuildEvent creates an event stamped with the current time.
func NewBuildEvent(eventType BuildEventType, buildID string) *BuildEvent {
	return &BuildEvent{Type: eventType, BuildID: buildID, Time: time.Now()}
}

// WithState sets the state and attempt number on the event.
func (e *BuildEvent) WithState(state BuildState, attempt int) *BuildEvent {
	e.State = state
	e.Attempt = attempt
	return e
}

// WithMessage sets a human readable message on the event.
func (e *BuildEvent) WithMessage(message string) *BuildEvent {
	e.Message = message
	return e
}

// IsTerminal reports whether the event ends a build.
func (e *BuildEvent) IsTerminal() bool {
	return e.Type == EventTypeBuildSucceeded || e.Type == EventTypeBuildFailed
}
