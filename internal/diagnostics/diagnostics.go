// Package diagnostics defines the error values the compiler reports.
//
// Every failure in the core is fatal: errors are created once at the point
// of detection and enriched with source context (class file, method, line)
// while they propagate outward. Nothing is ever downgraded to a warning and
// there is no partial-output mode: a half-translated module is not a safe
// artifact.
package diagnostics

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a diagnostic. Codes are grouped by the stage that
// raises them.
type ErrorCode string

// Loader errors (class file reading and resolution).
const (
	ErrL001 ErrorCode = "L001" // I/O failure reading a class resource
	ErrL002 ErrorCode = "L002" // malformed class file
	ErrL003 ErrorCode = "L003" // unsupported class file version
)

// Core compiler errors.
const (
	ErrC001 ErrorCode = "C001" // missing function
	ErrC002 ErrorCode = "C002" // unsupported construct
	ErrC003 ErrorCode = "C003" // local variable type redefinition
	ErrC004 ErrorCode = "C004" // internal consistency failure
	ErrC005 ErrorCode = "C005" // registry sealed (markAsNeeded after prepare)
)

// Writer errors.
const (
	ErrW001 ErrorCode = "W001" // output sink failure
)

// DiagnosticError is the single error type the compiler produces. The
// context fields start empty and are filled in as the error crosses layers
// that know more (method compiler adds class/method, driver adds the file).
type DiagnosticError struct {
	Code       ErrorCode
	Message    string
	SourceFile string
	ClassName  string
	MethodName string
	Line       int

	wrapped error
}

// NewError creates a diagnostic with a formatted message.
func NewError(code ErrorCode, format string, args ...interface{}) *DiagnosticError {
	return &DiagnosticError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError attaches a diagnostic code and message to an underlying error,
// typically an I/O failure.
func WrapError(code ErrorCode, err error, format string, args ...interface{}) *DiagnosticError {
	return &DiagnosticError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		wrapped: err,
	}
}

func (e *DiagnosticError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ClassName != "" {
		loc := e.ClassName
		if e.MethodName != "" {
			loc += "." + e.MethodName
		}
		msg += " (at " + loc
		if e.Line > 0 {
			msg += fmt.Sprintf(":%d", e.Line)
		}
		msg += ")"
	}
	if e.SourceFile != "" {
		msg += " [" + e.SourceFile + "]"
	}
	if e.wrapped != nil {
		msg += ": " + e.wrapped.Error()
	}
	return msg
}

func (e *DiagnosticError) Unwrap() error {
	return e.wrapped
}

// Is reports code equality so callers can match with errors.Is against a
// template diagnostic.
func (e *DiagnosticError) Is(target error) bool {
	var de *DiagnosticError
	if errors.As(target, &de) {
		return e.Code == de.Code
	}
	return false
}

// WithLocation fills in missing source context. Fields that are already set
// are kept; the innermost frame knows the location best.
func (e *DiagnosticError) WithLocation(className, methodName string, line int) *DiagnosticError {
	if e.ClassName == "" {
		e.ClassName = className
	}
	if e.MethodName == "" {
		e.MethodName = methodName
	}
	if e.Line == 0 {
		e.Line = line
	}
	return e
}

// WithSourceFile records the class source file for user-facing output.
func (e *DiagnosticError) WithSourceFile(file string) *DiagnosticError {
	if e.SourceFile == "" {
		e.SourceFile = file
	}
	return e
}

// Enrich adds location context to err when it is a DiagnosticError and
// returns it unchanged otherwise. Convenient at package boundaries where
// plain errors can still pass through.
func Enrich(err error, className, methodName string, line int) error {
	var de *DiagnosticError
	if errors.As(err, &de) {
		de.WithLocation(className, methodName, line)
	}
	return err
}
