package service

import (
	"errors"
	"fmt"
	"time"
)

// Session engine errors.
var (
	ErrSessionActive   = errors.New("an active test session already exists")
	ErrSessionNotFound = errors.New("no active test session")
	ErrStaleEvent      = errors.New("event does not match the live question")
)

// ConfigurationError means the test cannot start because the settings or the
// question bank are unusable. Partial state is cleared before it is returned.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration: %s: %v", e.Reason, e.Err)
	}
	return "configuration: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Reasons carried by ConfigurationError.
const (
	ReasonConfigMissing       = "admin config unavailable"
	ReasonNoQuestions         = "question bank is empty"
	ReasonNotEnoughQuestions  = "question bank smaller than the test"
	ReasonDistributionFailure = "could not select enough questions"
)

// CooldownError rejects a start before the retry window has passed.
type CooldownError struct {
	Until time.Time
}

func (e *CooldownError) Error() string {
	return "retry available after " + e.Until.Format(time.RFC3339)
}

// PersistenceWarning is returned by Finish when the result could not be
// recorded. The session has still been cleared.
type PersistenceWarning struct {
	Err error
}

func (e *PersistenceWarning) Error() string {
	return "result not recorded: " + e.Err.Error()
}

func (e *PersistenceWarning) Unwrap() error { return e.Err }
