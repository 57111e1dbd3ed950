package codes

// Lifecycle return codes of the core entry points.
const (
	ReturnOK    = 0
	ReturnError = -1
)

// Procedure states, as reported in logs and by the manager API.
const (
	ProcStatusIdle                  = "idle"
	ProcStatusModificationRequested = "modification_requested"
	ProcStatusCompleted             = "completed"
	ProcStatusAbortedOnTimeout      = "aborted_on_timeout"
	ProcStatusAbortedOnFailure      = "aborted_on_failure"
)

// Checkpoint outcomes.
const (
	CheckpointStatusStored  = "stored"
	CheckpointStatusFailed  = "failed"
	CheckpointStatusSkipped = "skipped" // persistence disabled
)

// State manager lifecycle status.
const (
	StatusUninitialized = "uninitialized"
	StatusRunning       = "running"
	StatusShutdown      = "shutdown"
)
