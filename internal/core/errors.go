package core

import (
	"errors"
	"fmt"
)

// Error is a recoverable failure reported by the dispatch core.
//
// Every fallible operation in the core returns an *Error (possibly wrapped).
// Callers compare against the package sentinels with errors.Is, which matches
// on Code so wrapped and detailed errors still compare equal:
//
//	if errors.Is(err, core.ErrInvalidTimerID) { ... }
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Details contains additional context (ids, reasons).
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes dispatch core errors.
type ErrorCode string

const (
	// ErrCodeInvalidTimerID indicates a stop/query on an unknown or removed timer.
	ErrCodeInvalidTimerID ErrorCode = "INVALID_TIMER_ID"

	// ErrCodeInvalidTaskID indicates a cancel/reschedule on an unknown scheduled task.
	ErrCodeInvalidTaskID ErrorCode = "INVALID_TASK_ID"

	// ErrCodeEventDispatchFailed indicates an event could not be posted (loop shut down).
	ErrCodeEventDispatchFailed ErrorCode = "EVENT_DISPATCH_FAILED"

	// ErrCodeInvalidConnection indicates an operation on an unknown connection.
	ErrCodeInvalidConnection ErrorCode = "INVALID_CONNECTION"

	// ErrCodeSignalDropped indicates an emit on a signal that has been closed.
	ErrCodeSignalDropped ErrorCode = "SIGNAL_DROPPED"

	// ErrCodeQueueFailed indicates a queued invocation was registered but its
	// ready event could not be posted. The invocation is left orphaned.
	ErrCodeQueueFailed ErrorCode = "QUEUE_FAILED"

	// ErrCodeAlreadyInitialized indicates a construct-once resource was constructed twice.
	ErrCodeAlreadyInitialized ErrorCode = "ALREADY_INITIALIZED"

	// ErrCodeCreationFailed indicates a thread pool could not be created.
	ErrCodeCreationFailed ErrorCode = "CREATION_FAILED"

	// ErrCodeTaskCancelled indicates a pool task was cancelled before producing a result.
	ErrCodeTaskCancelled ErrorCode = "TASK_CANCELLED"

	// ErrCodeSubmissionFailed indicates a task could not be submitted to a pool.
	ErrCodeSubmissionFailed ErrorCode = "SUBMISSION_FAILED"
)

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidTimerID      = &Error{Code: ErrCodeInvalidTimerID, Message: "invalid or expired timer id"}
	ErrInvalidTaskID       = &Error{Code: ErrCodeInvalidTaskID, Message: "invalid or expired task id"}
	ErrEventDispatchFailed = &Error{Code: ErrCodeEventDispatchFailed, Message: "failed to dispatch event"}
	ErrInvalidConnection   = &Error{Code: ErrCodeInvalidConnection, Message: "invalid or disconnected connection id"}
	ErrSignalDropped       = &Error{Code: ErrCodeSignalDropped, Message: "signal has been dropped"}
	ErrQueueFailed         = &Error{Code: ErrCodeQueueFailed, Message: "failed to queue signal invocation"}
	ErrAlreadyInitialized  = &Error{Code: ErrCodeAlreadyInitialized, Message: "already initialized"}
	ErrCreationFailed      = &Error{Code: ErrCodeCreationFailed, Message: "thread pool creation failed"}
	ErrTaskCancelled       = &Error{Code: ErrCodeTaskCancelled, Message: "task was cancelled"}
	ErrSubmissionFailed    = &Error{Code: ErrCodeSubmissionFailed, Message: "task submission failed"}
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// NewEventDispatchFailed reports that an event of the given kind could not be posted.
func NewEventDispatchFailed(kind string, cause error) *Error {
	return &Error{
		Code:    ErrCodeEventDispatchFailed,
		Message: fmt.Sprintf("failed to post %s event", kind),
		Details: map[string]string{"event": kind},
		Err:     cause,
	}
}

// NewQueueFailed reports that invocationID was registered but never announced.
func NewQueueFailed(invocationID uint64, cause error) *Error {
	return &Error{
		Code:    ErrCodeQueueFailed,
		Message: fmt.Sprintf("invocation %d registered but not queued", invocationID),
		Details: map[string]string{"invocation_id": fmt.Sprintf("%d", invocationID)},
		Err:     cause,
	}
}

// NewCreationFailed reports a thread pool construction failure.
func NewCreationFailed(reason string) *Error {
	return &Error{
		Code:    ErrCodeCreationFailed,
		Message: "thread pool creation failed: " + reason,
		Details: map[string]string{"reason": reason},
	}
}

// NewAlreadyInitialized reports a second construction of a construct-once resource.
func NewAlreadyInitialized(what string) *Error {
	return &Error{
		Code:    ErrCodeAlreadyInitialized,
		Message: what + " has already been initialized",
	}
}
