// Package skerr provides errors that are annotated with the call stack at the
// point where they were created or wrapped.
package skerr

import (
	"bytes"
	"fmt"
	"runtime"
)

// StackTrace identifies a single frame in a call stack.
type StackTrace struct {
	File string
	Line int
}

func (st StackTrace) String() string {
	return fmt.Sprintf("%s:%d", st.File, st.Line)
}

// CallStack returns a slice of StackTrace of the given height, starting at
// startAt levels above the caller. Shorter frames are returned when the stack
// is not deep enough.
func CallStack(height, startAt int) []StackTrace {
	stack := make([]StackTrace, 0, height)
	for i := 0; i < height; i++ {
		_, file, line, ok := runtime.Caller(startAt + i + 1)
		if !ok {
			break
		}
		// Strip the path down to the last two elements for readability.
		slashes := 0
		short := file
		for j := len(file) - 1; j > 0; j-- {
			if file[j] == '/' {
				slashes++
				if slashes == 2 {
					short = file[j+1:]
					break
				}
			}
		}
		stack = append(stack, StackTrace{File: short, Line: line})
	}
	return stack
}

// ErrorWithContext is an error plus the call stack where it was created and an
// optional contextual message.
type ErrorWithContext struct {
	Wrapped   error
	CallStack []StackTrace
	Message   string
}

func (err *ErrorWithContext) Error() string {
	var buf bytes.Buffer
	if err.Message != "" {
		buf.WriteString(err.Message)
		if err.Wrapped != nil {
			buf.WriteString(": ")
		}
	}
	if err.Wrapped != nil {
		buf.WriteString(err.Wrapped.Error())
	}
	if len(err.CallStack) > 0 {
		buf.WriteString(". At")
		for _, st := range err.CallStack {
			buf.WriteString(" ")
			buf.WriteString(st.String())
		}
	}
	return buf.String()
}

// Unwrap returns the wrapped error, for use with errors.Is and errors.As.
func (err *ErrorWithContext) Unwrap() error {
	return err.Wrapped
}

const callStackHeight = 5

// Wrap adds the current call stack to err. Returns nil if err is nil, and err
// unchanged if it already carries a stack.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*ErrorWithContext); ok {
		return err
	}
	return &ErrorWithContext{
		Wrapped:   err,
		CallStack: CallStack(callStackHeight, 1),
	}
}

// Unwrap recursively strips context added by Wrap, Wrapf, and Fmt, returning
// the original error. Unlike errors.Unwrap, returns err itself when there is
// nothing to strip.
func Unwrap(err error) error {
	for {
		withContext, ok := err.(*ErrorWithContext)
		if !ok || withContext.Wrapped == nil {
			return err
		}
		err = withContext.Wrapped
	}
}

// Wrapf annotates err with a message and the current call stack, e.g.:
//
//	skerr.Wrapf(err, "loading config from %s", path)
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Wrapped:   err,
		CallStack: CallStack(callStackHeight, 1),
		Message:   fmt.Sprintf(format, args...),
	}
}

// Fmt creates a new error with a message and the current call stack.
func Fmt(format string, args ...interface{}) error {
	return &ErrorWithContext{
		CallStack: CallStack(callStackHeight, 1),
		Message:   fmt.Sprintf(format, args...),
	}
}
