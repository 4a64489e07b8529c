// Package errors wraps the standard errors package.
// Errors created by this package carry a stack trace, which is printed by Format with the FormatWithStack option.
package errors

import (
	stdErrors "errors"
	"fmt"
)

type wrappedError struct {
	msg   string
	err   error
	trace StackTrace
}

type withStack struct {
	err   error
	trace StackTrace
}

func New(message string) error {
	return &withStack{err: stdErrors.New(message), trace: callers()}
}

// Errorf supports the %w verb, the same as fmt.Errorf.
func Errorf(format string, a ...any) error {
	return &withStack{err: fmt.Errorf(format, a...), trace: callers()}
}

// Wrap returns a new error with the message, the original error is available via Unwrap.
func Wrap(err error, message string) error {
	return &wrappedError{msg: message, err: err, trace: callers()}
}

func Wrapf(err error, format string, a ...any) error {
	return &wrappedError{msg: fmt.Sprintf(format, a...), err: err, trace: callers()}
}

// WithStack adds the stack trace to an error from an external package.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &withStack{err: err, trace: callers()}
}

// PrefixError returns an error with the prefix, for example "shard 1: <message>".
func PrefixError(err error, prefix string) error {
	return &wrappedError{msg: prefix + ": " + err.Error(), err: err, trace: callers()}
}

func PrefixErrorf(err error, format string, a ...any) error {
	return PrefixError(err, fmt.Sprintf(format, a...))
}

func Is(err, target error) bool {
	return stdErrors.Is(err, target)
}

func As(err error, target any) bool {
	return stdErrors.As(err, target)
}

func Unwrap(err error) error {
	return stdErrors.Unwrap(err)
}

func (e *wrappedError) Error() string {
	return e.msg
}

func (e *wrappedError) Unwrap() error {
	return e.err
}

func (e *wrappedError) StackTrace() StackTrace {
	return e.trace
}

func (e *withStack) Error() string {
	return e.err.Error()
}

func (e *withStack) Unwrap() error {
	return e.err
}

func (e *withStack) StackTrace() StackTrace {
	return e.trace
}
