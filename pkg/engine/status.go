package engine

import (
	"encoding/json"
	"fmt"
)

// PartStatus is the outcome of a part's build step within a session.
type PartStatus string

const (
	// PartStatusPending indicates the part has not been dispatched yet.
	PartStatusPending PartStatus = "pending"

	// PartStatusRunning indicates the part's build step is executing.
	PartStatusRunning PartStatus = "running"

	// PartStatusSucceeded indicates the build step completed.
	PartStatusSucceeded PartStatus = "succeeded"

	// PartStatusFailed indicates the environment or build step failed.
	PartStatusFailed PartStatus = "failed"

	// PartStatusSkipped indicates the part never started because an earlier
	// part failed or the session was canceled.
	PartStatusSkipped PartStatus = "skipped"
)

// IsTerminal returns true if the part will not change status again.
func (s PartStatus) IsTerminal() bool {
	return s == PartStatusSucceeded || s == PartStatusFailed || s == PartStatusSkipped
}

// Validate checks if the part status is valid.
func (s PartStatus) Validate() error {
	switch s {
	case PartStatusPending, PartStatusRunning, PartStatusSucceeded,
		PartStatusFailed, PartStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid part status: %s", s)
	}
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *PartStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = PartStatus(str)
	return s.Validate()
}

// SessionStatus is the overall outcome of a build session.
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusSucceeded SessionStatus = "succeeded"
	SessionStatusFailed    SessionStatus = "failed"

	// SessionStatusAborted indicates the session's context was canceled.
	SessionStatusAborted SessionStatus = "aborted"
)

// IsTerminal returns true if the session has finished.
func (s SessionStatus) IsTerminal() bool {
	return s != SessionStatusRunning
}

// Validate checks if the session status is valid.
func (s SessionStatus) Validate() error {
	switch s {
	case SessionStatusRunning, SessionStatusSucceeded, SessionStatusFailed, SessionStatusAborted:
		return nil
	default:
		return fmt.Errorf("invalid session status: %s", s)
	}
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *SessionStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = SessionStatus(str)
	return s.Validate()
}
