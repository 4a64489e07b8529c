package errors

import (
	"fmt"
	"strings"
	"sync"
)

type MultiError interface {
	error
	Len() int
	Append(errs ...error)
	AppendWithPrefix(err error, prefix string)
	AppendWithPrefixf(err error, format string, a ...any)
	WrappedErrors() []error
	Unwrap() []error
	ErrorOrNil() error
}

type multiError struct {
	lock   *sync.Mutex
	errors []error
}

// NewMultiError creates a thread-safe collection of errors.
func NewMultiError() MultiError {
	return &multiError{lock: &sync.Mutex{}}
}

func (e *multiError) Len() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return len(e.errors)
}

func (e *multiError) Append(errs ...error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	for _, err := range errs {
		if err == nil {
			continue
		}
		// Flatten nested multi errors
		if v, ok := err.(*multiError); ok {
			e.errors = append(e.errors, v.WrappedErrors()...)
		} else {
			e.errors = append(e.errors, err)
		}
	}
}

func (e *multiError) AppendWithPrefix(err error, prefix string) {
	if err != nil {
		e.Append(PrefixError(err, prefix))
	}
}

func (e *multiError) AppendWithPrefixf(err error, format string, a ...any) {
	e.AppendWithPrefix(err, fmt.Sprintf(format, a...))
}

func (e *multiError) WrappedErrors() []error {
	e.lock.Lock()
	defer e.lock.Unlock()
	out := make([]error, len(e.errors))
	copy(out, e.errors)
	return out
}

func (e *multiError) Unwrap() []error {
	return e.WrappedErrors()
}

// ErrorOrNil returns nil if there is no error, the error itself if there is one, or the whole collection.
func (e *multiError) ErrorOrNil() error {
	errs := e.WrappedErrors()
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return e
	}
}

func (e *multiError) Error() string {
	errs := e.WrappedErrors()
	if len(errs) == 1 {
		return errs[0].Error()
	}

	var out strings.Builder
	for i, err := range errs {
		if i > 0 {
			out.WriteString("\n")
		}
		out.WriteString(Bullet)
		out.WriteString(strings.ReplaceAll(err.Error(), "\n", "\n"+Indent))
	}
	return out.String()
}
