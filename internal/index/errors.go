package index

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes index errors.
type ErrorCode string

const (
	// ErrCodeConnectivity indicates the backend could not be reached.
	ErrCodeConnectivity ErrorCode = "CONNECTIVITY"

	// ErrCodeNotFound indicates an update or delete on a missing document.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodePartialBatch indicates some actions of a bulk request failed.
	ErrCodePartialBatch ErrorCode = "PARTIAL_BATCH"

	// ErrCodeMalformed indicates a document the backend refused to store.
	ErrCodeMalformed ErrorCode = "MALFORMED"

	// ErrCodeAlreadyExists indicates createIndex on an existing index.
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// ErrCodeClosed indicates a mutation after the connector was closed.
	ErrCodeClosed ErrorCode = "CLOSED"
)

// Error is the error type returned by backends and connectors.
type Error struct {
	Code  ErrorCode
	Op    string
	Index string
	Type  string
	ID    string
	Err   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Index != "" {
		fmt.Fprintf(&b, " index=%s", e.Index)
	}
	if e.Type != "" {
		fmt.Fprintf(&b, " type=%s", e.Type)
	}
	if e.ID != "" {
		fmt.Fprintf(&b, " id=%s", e.ID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound builds a NOT_FOUND error for a document.
func NotFound(op, index, typ, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Op: op, Index: index, Type: typ, ID: id}
}

// Connectivity wraps a transport failure.
func Connectivity(op, index string, err error) *Error {
	return &Error{Code: ErrCodeConnectivity, Op: op, Index: index, Err: err}
}

// Malformed builds a MALFORMED error for a document.
func Malformed(op, index, typ, id string, err error) *Error {
	return &Error{Code: ErrCodeMalformed, Op: op, Index: index, Type: typ, ID: id, Err: err}
}

// ItemFailure records one rejected action of a bulk request.
type ItemFailure struct {
	Action Action
	Err    error
}

// PartialBatchError reports the failed subset of a bulk request.
// The successful actions are not rolled back.
type PartialBatchError struct {
	Index    string
	Total    int
	Failures []ItemFailure
}

// Error implements the error interface.
func (e *PartialBatchError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		ids = append(ids, f.Action.ID)
	}
	return fmt.Sprintf("%s: %d of %d actions failed on index %s (ids=%s)",
		ErrCodePartialBatch, len(e.Failures), e.Total, e.Index, strings.Join(ids, ","))
}

func hasCode(err error, code ErrorCode) bool {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Code == code
	}
	return false
}

// IsNotFound returns true if the error is a NOT_FOUND error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsConnectivity returns true if the error is a CONNECTIVITY error.
func IsConnectivity(err error) bool {
	return hasCode(err, ErrCodeConnectivity)
}

// IsAlreadyExists returns true if the error is an ALREADY_EXISTS error.
func IsAlreadyExists(err error) bool {
	return hasCode(err, ErrCodeAlreadyExists)
}

// IsMalformed returns true if the error is a MALFORMED error.
func IsMalformed(err error) bool {
	return hasCode(err, ErrCodeMalformed)
}

// IsClosed returns true if the error is a CLOSED error.
func IsClosed(err error) bool {
	return hasCode(err, ErrCodeClosed)
}

// IsPartialBatch returns true if the error reports a partial bulk failure.
func IsPartialBatch(err error) bool {
	var pe *PartialBatchError
	return errors.As(err, &pe)
}
