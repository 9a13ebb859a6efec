// Package failure holds the error taxonomy shared by the due-date engine and
// request placement: validation failures are the caller's fault, collaborator
// failures are ours, and placement exhaustion is terminal.
package failure

import (
	"errors"
	"fmt"
)

// Validation kinds.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrUnrecognizedProfile  = errors.New("unrecognized loan policy profile")
	ErrNoApplicableSchedule = errors.New("no applicable fixed due date schedule")
	ErrInvalidLoanPeriod    = errors.New("invalid loan period")
	ErrEmptyCandidates      = errors.New("empty candidate list")
)

// Collaborator kinds.
var (
	ErrPolicyNotFound          = errors.New("loan policy not found")
	ErrCalendarUnavailable     = errors.New("calendar unavailable")
	ErrItemsUnavailable        = errors.New("items unavailable")
	ErrServicePointUnavailable = errors.New("service point unavailable")
	ErrQueueUnavailable        = errors.New("request queue unavailable")
	ErrRankingAborted          = errors.New("ranking aborted")
)

var ErrPlacementExhausted = errors.New("placement exhausted")

// ValidationError is surfaced to the caller verbatim, naming the offending
// parameter and its value.
type ValidationError struct {
	Message   string
	Parameter string
	Value     string
	Err       error
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validation builds a ValidationError of the given kind.
func Validation(kind error, message, parameter, value string) *ValidationError {
	return &ValidationError{
		Message:   message,
		Parameter: parameter,
		Value:     value,
		Err:       kind,
	}
}

// CollaboratorError reports that an external source could not serve a
// request. It matches both its Kind and the underlying cause.
type CollaboratorError struct {
	Collaborator string
	Kind         error
	Err          error
}

func (e *CollaboratorError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Collaborator, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Collaborator, e.Kind, e.Err)
}

func (e *CollaboratorError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Collaborator wraps err as a CollaboratorError of the given kind.
func Collaborator(collaborator string, kind, err error) *CollaboratorError {
	return &CollaboratorError{Collaborator: collaborator, Kind: kind, Err: err}
}

// PlacementExhaustedError is returned once every candidate request has been
// attempted and refused. Last is kept for logging only; it is not unwrapped,
// so a refused attempt never classifies the terminal error.
type PlacementExhaustedError struct {
	InstanceID string
	Attempts   int
	Last       error
}

func (e *PlacementExhaustedError) Error() string {
	return "Failed to place a request for the title"
}

func (e *PlacementExhaustedError) Is(target error) bool {
	return target == ErrPlacementExhausted
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
