package workflow

import (
	"errors"
	"fmt"
)

// ErrorKind tells the engine whether a failed step may be attempted again.
type ErrorKind int

const (
	// KindRetriable failures are retried up to the engine's bound.
	KindRetriable ErrorKind = iota
	// KindTerminal failures stop the run immediately.
	KindTerminal
)

func (k ErrorKind) String() string {
	switch k {
	case KindRetriable:
		return "retriable"
	case KindTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// ErrTicketNotFound marks a trigger that refers to a ticket the store does not have.
var ErrTicketNotFound = errors.New("ticket not found")

// StepError is the failure of one named step.
type StepError struct {
	Step string
	Kind ErrorKind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed (%s): %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Terminal wraps err as a non-retriable failure of step.
func Terminal(step string, err error) *StepError {
	return &StepError{Step: step, Kind: KindTerminal, Err: err}
}

// Retriable wraps err as a retriable failure of step.
func Retriable(step string, err error) *StepError {
	return &StepError{Step: step, Kind: KindRetriable, Err: err}
}

// IsTerminal reports whether err carries a terminal StepError.
func IsTerminal(err error) bool {
	var stepErr *StepError
	return errors.As(err, &stepErr) && stepErr.Kind == KindTerminal
}

// classifierUnavailable marks a Classify failure caused by the classifier itself,
// which degrades the run instead of aborting it.
type classifierUnavailable struct {
	err error
}

func (e *classifierUnavailable) Error() string { return "classifier unavailable: " + e.err.Error() }

func (e *classifierUnavailable) Unwrap() error { return e.err }
