package ics

import (
	"fmt"
	"strings"
)

// ParseError describes a failed read of one calendar file: the file
// reference, the underlying IO or decode error, and any structured context.
// It unwraps to the underlying error.
type ParseError struct {
	msg  string
	path string
	err  error
	args map[string]any
}

func NewParseError(msg, path string, err error, args map[string]any) *ParseError {
	if args == nil {
		args = make(map[string]any)
	}
	return &ParseError{
		msg:  msg,
		path: path,
		err:  err,
		args: args,
	}
}

// Path returns the file reference the error belongs to, blank when the data
// did not come from a file.
func (e *ParseError) Path() string {
	return e.path
}

func (e *ParseError) Unwrap() error {
	return e.err
}

func (e *ParseError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.msg)
	if e.path != "" {
		sb.WriteString(" | path: ")
		sb.WriteString(e.path)
	}
	if e.err != nil {
		sb.WriteString(" | err: ")
		sb.WriteString(e.err.Error())
	}
	for key, value := range e.args {
		sb.WriteString(fmt.Sprintf(" | %s: %v", key, value))
	}
	return sb.String()
}
