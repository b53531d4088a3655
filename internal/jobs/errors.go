package jobs

import (
	"errors"
	"fmt"
)

// Sentinel errors for job operations.
// These can be checked with errors.Is().
var (
	ErrNotFound       = errors.New("job not found")
	ErrAlreadyRunning = errors.New("job is already running")
	ErrDuplicateKey   = errors.New("destination key already in use by a live job")
	ErrProcess        = errors.New("encoder process error")
	ErrPersistence    = errors.New("persistence error")
	ErrNotInitialized = errors.New("manager not initialized")
	ErrInvalidInput   = errors.New("invalid input")
)

func notFoundError(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func alreadyRunningError(id string) error {
	return fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
}

func duplicateKeyError(jobID, otherID string) error {
	return fmt.Errorf("%w: job %s conflicts with %s", ErrDuplicateKey, jobID, otherID)
}

// processError wraps cause under ErrProcess; both stay matchable.
func processError(id string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrProcess, id, cause)
}

func persistenceError(op string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, cause)
}

func invalidInputError(cause error) error {
	return fmt.Errorf("%w: %v", ErrInvalidInput, cause)
}
