package engine

import (
	"errors"
	"fmt"
)

// InvalidInputError are errors for caller-provided invalid inputs: the input
// failed a protocol-level validation check. The receiver absorbs the error,
// never votes for or propagates the input, and may flag the sender.
type InvalidInputError struct {
	err error
}

func NewInvalidInputErrorf(msg string, args ...interface{}) error {
	return InvalidInputError{
		err: fmt.Errorf(msg, args...),
	}
}

func (e InvalidInputError) Unwrap() error {
	return e.err
}

func (e InvalidInputError) Error() string {
	return e.err.Error()
}

// IsInvalidInputError returns whether the given error is an InvalidInputError.
func IsInvalidInputError(err error) bool {
	var errInvalidInputError InvalidInputError
	return errors.As(err, &errInvalidInputError)
}

// OutdatedInputError are for inputs that are outdated. An outdated input is
// obsolete for the protocol's progression (e.g. a vote for an already
// garbage-collected round). Such inputs are dropped without a fault being
// attributed to the sender: honest nodes lagging behind produce them too.
type OutdatedInputError struct {
	err error
}

func NewOutdatedInputErrorf(msg string, args ...interface{}) error {
	return OutdatedInputError{
		err: fmt.Errorf(msg, args...),
	}
}

func (e OutdatedInputError) Unwrap() error {
	return e.err
}

func (e OutdatedInputError) Error() string {
	return e.err.Error()
}

// IsOutdatedInputError returns whether the given error is an OutdatedInputError.
func IsOutdatedInputError(err error) bool {
	var errOutdatedInputError OutdatedInputError
	return errors.As(err, &errOutdatedInputError)
}

// UnverifiableInputError are for inputs that cannot currently be verified,
// typically because required ancestry has not been synced yet. The input may
// become verifiable later; processing is deferred, not failed.
type UnverifiableInputError struct {
	err error
}

func NewUnverifiableInputError(msg string, args ...interface{}) error {
	return UnverifiableInputError{
		err: fmt.Errorf(msg, args...),
	}
}

func (e UnverifiableInputError) Unwrap() error {
	return e.err
}

func (e UnverifiableInputError) Error() string {
	return e.err.Error()
}

// IsUnverifiableInputError returns whether the given error is an UnverifiableInputError.
func IsUnverifiableInputError(err error) bool {
	var errUnverifiableInputError UnverifiableInputError
	return errors.As(err, &errUnverifiableInputError)
}
