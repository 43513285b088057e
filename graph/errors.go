// Package graph executes approval workflows modelled as directed graphs.
package graph

import "errors"

// ErrGraphMalformed reports a template the runner cannot start, such as
// one with zero or several start nodes.
var ErrGraphMalformed = errors.New("graph malformed")

// ErrInvalidModel is wrapped by every Model.Validate failure.
var ErrInvalidModel = errors.New("invalid model")

// Error codes carried by EngineError.
const (
	CodeGraphMalformed   = "GRAPH_MALFORMED"
	CodePersistFailed    = "PERSIST_FAILED"
	CodeInvalidOption    = "INVALID_OPTION"
	CodeTemplateNotFound = "TEMPLATE_NOT_FOUND"
)

// EngineError is a failure surfaced to the caller of a runner or catalog
// operation.
//
// Code identifies the failure class; Cause, when set, is the underlying
// error and is reachable through errors.Is / errors.As.
type EngineError struct {
	Message string
	Code    string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// HasCode reports whether err is, or wraps, an *EngineError with code.
func HasCode(err error, code string) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Code == code
}
