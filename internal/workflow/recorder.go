package workflow

import "context"

// RunInfo describes an execution run to the recorder when it begins.
type RunInfo struct {
	TemplateID string
	ScheduleID string
	TotalNodes int
	Variables  map[string]string
}

// Reasons passed to Recorder.Checkpoint.
const (
	ReasonInterval = "interval"
	ReasonPause    = "pause"
	ReasonResume   = "resume"
	ReasonCancel   = "cancel"
	ReasonComplete = "complete"
	ReasonFailure  = "failure"
)

// Recorder persists execution progress on behalf of the executor. The
// executor owns only the in-memory progress of the run it is driving;
// durable state goes through this boundary.
type Recorder interface {
	// Begin registers a new run. Called before any node executes.
	Begin(ctx context.Context, executionID string, info RunInfo) error

	// UpdateNode records a node transition.
	UpdateNode(ctx context.Context, executionID string, res NodeResult) error

	// Checkpoint snapshots current progress. The returned id is durable.
	Checkpoint(ctx context.Context, executionID, reason string, meta map[string]string) (string, error)

	// Finish records the final result of the run.
	Finish(ctx context.Context, executionID string, res *Result) error

	// PauseRequested reports whether a cooperative stop was requested.
	// Consulted at node boundaries only.
	PauseRequested(executionID string) bool

	// ResumePoint returns the completed node outputs and variables of a
	// previously persisted run, for continuing after pause or restart.
	ResumePoint(ctx context.Context, executionID string) (outputs map[string]string, variables map[string]string, err error)
}

// NopRecorder discards all progress. Used when the caller does not need
// persistence (ad-hoc runs, tests).
type NopRecorder struct{}

func (NopRecorder) Begin(context.Context, string, RunInfo) error { return nil }

func (NopRecorder) UpdateNode(context.Context, string, NodeResult) error { return nil }

func (NopRecorder) Finish(context.Context, string, *Result) error { return nil }

func (NopRecorder) PauseRequested(string) bool { return false }

func (NopRecorder) Checkpoint(context.Context, string, string, map[string]string) (string, error) {
	return "", nil
}

func (NopRecorder) ResumePoint(context.Context, string) (map[string]string, map[string]string, error) {
	return nil, nil, nil
}
