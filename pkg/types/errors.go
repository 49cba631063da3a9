package types

// ============================================================================
// Error taxonomy
// Purpose: failures shared by the server, the channel transports and the
// client engine. Callers classify with errors.Is / errors.As.
// ============================================================================

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means a bad or missing identity assertion, or a chat id
	// outside the allow-list. Fatal for the attempted action; never retried.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrServerClosed means the server deliberately closed the channel.
	ErrServerClosed = errors.New("channel closed by server")

	// ErrTransientConnection means a handshake or network failure that may
	// succeed on retry.
	ErrTransientConnection = errors.New("transient connection failure")

	// ErrPollFailure means the snapshot source could not be reached.
	ErrPollFailure = errors.New("snapshot poll failed")
)

// CommandError reports a failed control command against one job.
type CommandError struct {
	Command string // pause, resume, delete, files, priority
	JobID   JobID
	Cause   error
}

func (e *CommandError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("command %s on %s failed", e.Command, e.JobID)
	}
	return fmt.Sprintf("command %s on %s failed: %v", e.Command, e.JobID, e.Cause)
}

func (e *CommandError) Unwrap() error {
	return e.Cause
}

// IsUnauthorized reports whether err is, or wraps, ErrUnauthorized.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
