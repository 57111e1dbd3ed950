package errormapper

const (
	// Resource failures
	ErrorCodeResourceExhausted = "RESOURCE_EXHAUSTED"
	ErrorCodeTimerSetupFailed  = "TIMER_SETUP_FAILED"
	ErrorCodeUnknownTask       = "UNKNOWN_TASK"
	ErrorCodeBusClosed         = "BUS_CLOSED"

	// Persistence failures
	ErrorCodePersistenceUnavailable = "PERSISTENCE_UNAVAILABLE"
	ErrorCodeStateNotFound          = "STATE_NOT_FOUND"

	// Programming errors
	ErrorCodeInvariantViolation = "INVARIANT_VIOLATION"
	ErrorCodeValidationFailure  = "VALIDATION_FAIL"

	// System Errors
	ErrorCodeSystemError = "SYS_ERR"

	// Procedure abort causes sent upward to NAS
	CauseUEContextModificationTimeout = "UE_CONTEXT_MODIFICATION_TIMEOUT"
	CauseUEContextModificationFailure = "UE_CONTEXT_MODIFICATION_FAILURE"

	StatusCodeOK = "OK"
)
