package session

import (
	"errors"
	"fmt"
)

// Error is a failure of a runner operation.
//
// The runner never fails the hosting process; an Error only means the
// operation was refused and the runner stayed (or returned to) Idle.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes runner errors.
type ErrorCode string

const (
	// ErrCodeStartupPrecondition means a required file or the engine
	// executable is missing. Nothing was spawned.
	ErrCodeStartupPrecondition ErrorCode = "STARTUP_PRECONDITION"

	// ErrCodeSpawnFailure means the OS refused to create the process.
	ErrCodeSpawnFailure ErrorCode = "SPAWN_FAILURE"

	// ErrCodeNotIdle means start was called while a session is active.
	ErrCodeNotIdle ErrorCode = "NOT_IDLE"

	// ErrCodeArtifact means an artifact could not be rendered or written.
	ErrCodeArtifact ErrorCode = "ARTIFACT"
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

func newError(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsStartupPrecondition returns true if start was refused before spawning
// because a required file was missing. Uses errors.As to handle wrapped errors.
func IsStartupPrecondition(err error) bool {
	return hasCode(err, ErrCodeStartupPrecondition)
}

// IsSpawnFailure returns true if the engine process could not be created.
func IsSpawnFailure(err error) bool {
	return hasCode(err, ErrCodeSpawnFailure)
}

// IsNotIdle returns true if start was rejected because a session is active.
func IsNotIdle(err error) bool {
	return hasCode(err, ErrCodeNotIdle)
}
