// Package rserrors implements the range server's structured error
// taxonomy (spec.md §7). It lives under internal so both the root
// rangeserver package and the storage-stack packages it depends on
// (internal/rng, internal/accessgroup, ...) can share one definition
// without a root-package import cycle; rangeserver.go re-exports the
// public names client code is meant to use.
package rserrors

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Code is the high-level category every Error carries, mirroring the
// taxonomy client libraries branch on to decide whether a request is safe
// to retry.
type Code string

const (
	// CodeProtocol covers malformed frames: bad checksums, unknown command,
	// truncated payloads. Never safe to retry without fixing the client.
	CodeProtocol Code = "protocol"
	// CodeTransientIO covers socket/DFS I/O failures expected to clear on
	// retry: connection reset, broken pipe, DFS lease renewal races.
	CodeTransientIO Code = "transient_io"
	// CodeTimeout means the request's deadline elapsed before completion,
	// either in the application queue or during I/O.
	CodeTimeout Code = "timeout"
	// CodeValidation covers requests that are well-formed but violate a
	// range server invariant; see the Validation sub-codes below.
	CodeValidation Code = "validation"
	// CodeResource covers local exhaustion: memory limit, queue full, too
	// many open scanners.
	CodeResource Code = "resource"
	// CodeFatal covers conditions that should crash the process rather
	// than be handled: commit log corruption, disk full on a WAL fsync.
	CodeFatal Code = "fatal"
)

// Validation is the specific rule an update or scan violated. Only
// meaningful when Error.Code == CodeValidation.
type Validation string

const (
	ValidationGenerationMismatch Validation = "GENERATION_MISMATCH"
	ValidationRevisionOrderError Validation = "REVISION_ORDER_ERROR"
	ValidationClockSkew          Validation = "CLOCK_SKEW"
	ValidationRangeNotFound      Validation = "RANGE_NOT_FOUND"
	ValidationRangeAlreadyLoaded Validation = "RANGE_ALREADY_LOADED"
	ValidationTableDropped       Validation = "TABLE_DROPPED"
	ValidationSchemaParseError   Validation = "SCHEMA_PARSE_ERROR"
	ValidationOutOfRange         Validation = "RANGESERVER_OUT_OF_RANGE"
)

// Error is the structured error every range server operation returns.
type Error struct {
	Op         string     // operation that failed, e.g. "update", "create_scanner"
	RangeID    string     // range identifier, empty if not applicable
	Code       Code       // high-level category
	Validation Validation // set only when Code == CodeValidation
	Msg        string
	Inner      error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	switch {
	case e.RangeID != "" && e.Op != "":
		return fmt.Sprintf("rangeserver: %s: op=%s range=%s: %s", e.Code, e.Op, e.RangeID, msg)
	case e.Op != "":
		return fmt.Sprintf("rangeserver: %s: op=%s: %s", e.Code, e.Op, msg)
	default:
		return fmt.Sprintf("rangeserver: %s: %s", e.Code, msg)
	}
}

func (e *Error) Unwrap() error { return e.Inner }

// Is lets errors.Is match on Code (and Validation, when both sides set it),
// so callers can write errors.Is(err, rserrors.ErrRangeNotFound) without
// caring about Op/RangeID/Msg.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Code != te.Code {
		return false
	}
	if te.Validation != "" && e.Validation != te.Validation {
		return false
	}
	return true
}

// New builds a bare Error with no wrapped cause.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewValidation builds a CodeValidation error for the given sub-rule.
func NewValidation(op, rangeID string, v Validation, msg string) *Error {
	return &Error{Op: op, RangeID: rangeID, Code: CodeValidation, Validation: v, Msg: msg}
}

// Wrap attaches op/range context to an underlying cause, classifying it by
// inspecting the cause's own type where possible and otherwise defaulting
// to CodeTransientIO. Classification of an already-structured Error just
// re-tags Op/RangeID and keeps the original Code.
func Wrap(op, rangeID string, cause error) *Error {
	if cause == nil {
		return nil
	}
	var inner *Error
	if stderrors.As(cause, &inner) {
		return &Error{
			Op:         op,
			RangeID:    rangeID,
			Code:       inner.Code,
			Validation: inner.Validation,
			Msg:        inner.Msg,
			Inner:      errors.WithStack(cause),
		}
	}
	return &Error{
		Op:      op,
		RangeID: rangeID,
		Code:    CodeTransientIO,
		Msg:     cause.Error(),
		Inner:   errors.WithStack(cause),
	}
}

// Sentinels for errors.Is comparisons against a bare Code/Validation pair.
var (
	ErrRangeNotFound      = &Error{Code: CodeValidation, Validation: ValidationRangeNotFound}
	ErrRangeAlreadyLoaded = &Error{Code: CodeValidation, Validation: ValidationRangeAlreadyLoaded}
	ErrTableDropped       = &Error{Code: CodeValidation, Validation: ValidationTableDropped}
	ErrOutOfRange         = &Error{Code: CodeValidation, Validation: ValidationOutOfRange}
	ErrGenerationMismatch = &Error{Code: CodeValidation, Validation: ValidationGenerationMismatch}
	ErrRevisionOrder      = &Error{Code: CodeValidation, Validation: ValidationRevisionOrderError}
	ErrClockSkew          = &Error{Code: CodeValidation, Validation: ValidationClockSkew}
	ErrSchemaParse        = &Error{Code: CodeValidation, Validation: ValidationSchemaParseError}
	ErrTimeout            = &Error{Code: CodeTimeout}
	ErrProtocol           = &Error{Code: CodeProtocol}
	ErrResourceExhausted  = &Error{Code: CodeResource}
	ErrFatal              = &Error{Code: CodeFatal}
)

// IsCode reports whether err (or anything it wraps) carries the given Code.
func IsCode(err error, code Code) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsValidation reports whether err is a CodeValidation error for rule v.
func IsValidation(err error, v Validation) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code == CodeValidation && e.Validation == v
	}
	return false
}

// Retryable reports whether a client should retry the request unmodified.
// Only transient I/O and timeout are retryable; everything else needs
// either a corrected request or operator intervention.
func Retryable(err error) bool {
	return IsCode(err, CodeTransientIO) || IsCode(err, CodeTimeout)
}
