// Package rangeserver is the top-level entry point for the range server:
// service lifecycle, the structured error taxonomy, and metrics.
package rangeserver

import "github.com/hypertable-go/rangeserver/internal/rserrors"

// The error taxonomy itself lives in internal/rserrors so the
// storage-stack packages (internal/rng, internal/accessgroup, ...) can
// return it without importing this root package. These aliases are the
// public surface client code is meant to use.

type (
	Code       = rserrors.Code
	Validation = rserrors.Validation
	Error      = rserrors.Error
)

const (
	CodeProtocol    = rserrors.CodeProtocol
	CodeTransientIO = rserrors.CodeTransientIO
	CodeTimeout     = rserrors.CodeTimeout
	CodeValidation  = rserrors.CodeValidation
	CodeResource    = rserrors.CodeResource
	CodeFatal       = rserrors.CodeFatal
)

const (
	ValidationGenerationMismatch = rserrors.ValidationGenerationMismatch
	ValidationRevisionOrderError = rserrors.ValidationRevisionOrderError
	ValidationClockSkew          = rserrors.ValidationClockSkew
	ValidationRangeNotFound      = rserrors.ValidationRangeNotFound
	ValidationRangeAlreadyLoaded = rserrors.ValidationRangeAlreadyLoaded
	ValidationTableDropped       = rserrors.ValidationTableDropped
	ValidationSchemaParseError   = rserrors.ValidationSchemaParseError
	ValidationOutOfRange         = rserrors.ValidationOutOfRange
)

var (
	New           = rserrors.New
	NewValidation = rserrors.NewValidation
	Wrap          = rserrors.Wrap
	IsCode        = rserrors.IsCode
	IsValidation  = rserrors.IsValidation
	Retryable     = rserrors.Retryable
)

var (
	ErrRangeNotFound      = rserrors.ErrRangeNotFound
	ErrRangeAlreadyLoaded = rserrors.ErrRangeAlreadyLoaded
	ErrTableDropped       = rserrors.ErrTableDropped
	ErrOutOfRange         = rserrors.ErrOutOfRange
	ErrGenerationMismatch = rserrors.ErrGenerationMismatch
	ErrRevisionOrder      = rserrors.ErrRevisionOrder
	ErrClockSkew          = rserrors.ErrClockSkew
	ErrSchemaParse        = rserrors.ErrSchemaParse
	ErrTimeout            = rserrors.ErrTimeout
	ErrProtocol           = rserrors.ErrProtocol
	ErrResourceExhausted  = rserrors.ErrResourceExhausted
	ErrFatal              = rserrors.ErrFatal
)
