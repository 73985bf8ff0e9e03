// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package storage defines the durable Storage Backend contract and the
// shared error taxonomy used across the metadata index and query engine.
// Grounded directly on the teacher's storage/errors.go ErrCode/Error pattern,
// retargeted from policy-document errors to the seven kinds named in the
// specification's §7 Error Handling Design.
package storage

import "fmt"

// ErrCode enumerates the kinds of errors the storage layer and the
// components built on top of it may return.
type ErrCode int

const (
	// InternalErr indicates an unknown, internal error has occurred.
	InternalErr ErrCode = iota
	// InvalidPathErr indicates the path normalizer rejected an input path.
	InvalidPathErr
	// FileAccessErr indicates a file is missing, unreadable, or a record is
	// unknown.
	FileAccessErr
	// DuplicateRecordErr indicates add_file targeted an existing path
	// without replacement mode.
	DuplicateRecordErr
	// PluginErr indicates a plugin extract failed under raise mode, or a
	// supports probe raised.
	PluginErr
	// StorageErr indicates a backend save/get/delete/query failure.
	StorageErr
	// QueryErr indicates a malformed query: unknown operator or bad operand
	// shape.
	QueryErr
	// TransactionAbortedErr indicates a transaction rolled back.
	TransactionAbortedErr
	// NotFoundErr indicates the path used in a storage operation does not
	// locate a document.
	NotFoundErr
)

func (c ErrCode) String() string {
	switch c {
	case InvalidPathErr:
		return "invalid_path"
	case FileAccessErr:
		return "file_access"
	case DuplicateRecordErr:
		return "duplicate_record"
	case PluginErr:
		return "plugin_error"
	case StorageErr:
		return "storage_error"
	case QueryErr:
		return "query_error"
	case TransactionAbortedErr:
		return "transaction_aborted"
	case NotFoundErr:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is the error type returned throughout the metadata index.
type Error struct {
	Code    ErrCode
	Message string
	Wrapped error
}

func (err *Error) Error() string {
	if err.Wrapped != nil {
		return fmt.Sprintf("metabase error (%s): %v: %v", err.Code, err.Message, err.Wrapped)
	}
	return fmt.Sprintf("metabase error (%s): %v", err.Code, err.Message)
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped cause.
func (err *Error) Unwrap() error { return err.Wrapped }

// Is reports code equality so errors.Is(err, &Error{Code: X}) works without
// message/wrapped comparison.
func (err *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Code == err.Code
}

func newError(code ErrCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code ErrCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Wrapped: cause}
}

// Internal builds an InternalErr.
func Internal(format string, args ...any) *Error { return newError(InternalErr, format, args...) }

// InternalWrap builds an InternalErr wrapping cause.
func InternalWrap(cause error, format string, args ...any) *Error {
	return wrapError(InternalErr, cause, format, args...)
}

// InvalidPath builds an InvalidPathErr.
func InvalidPath(format string, args ...any) *Error { return newError(InvalidPathErr, format, args...) }

// FileAccess builds a FileAccessErr.
func FileAccess(format string, args ...any) *Error { return newError(FileAccessErr, format, args...) }

// FileAccessWrap builds a FileAccessErr wrapping cause.
func FileAccessWrap(cause error, format string, args ...any) *Error {
	return wrapError(FileAccessErr, cause, format, args...)
}

// DuplicateRecord builds a DuplicateRecordErr.
func DuplicateRecord(path string) *Error {
	return newError(DuplicateRecordErr, "record already exists for path %q", path)
}

// Plugin builds a PluginErr wrapping cause.
func Plugin(name string, cause error) *Error {
	return wrapError(PluginErr, cause, "plugin %q failed", name)
}

// Storage builds a StorageErr wrapping cause with backend diagnostics.
func Storage(backend string, cause error) *Error {
	return wrapError(StorageErr, cause, "backend %q operation failed", backend)
}

// Query builds a QueryErr.
func Query(format string, args ...any) *Error { return newError(QueryErr, format, args...) }

// TransactionAborted builds a TransactionAbortedErr wrapping the cause that
// triggered the rollback.
func TransactionAborted(cause error) *Error {
	return wrapError(TransactionAbortedErr, cause, "transaction rolled back")
}

// NotFound builds a NotFoundErr for the given path.
func NotFound(path string) *Error {
	return newError(NotFoundErr, "no record for path %q", path)
}

// IsNotFound reports whether err is a NotFoundErr or FileAccessErr (the two
// codes that mean "the record does not exist").
func IsNotFound(err error) bool {
	e, ok := err.(*Error)
	return ok && (e.Code == NotFoundErr || e.Code == FileAccessErr)
}

// IsDuplicate reports whether err is a DuplicateRecordErr.
func IsDuplicate(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Code == DuplicateRecordErr
}
