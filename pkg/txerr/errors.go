// Package txerr defines the error taxonomy shared by the content transfer
// engine: validation, precondition, transient, availability, fatal, and
// cooperative errors, plus the structured wrapper protocol controllers use
// to translate them into wire error codes.
package txerr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Protocol handlers check for these with errors.Is and map
// them to wire error codes (see Code below).
var (
	// ErrDoesNotExist indicates the requested node, volume, or content blob
	// does not exist.
	ErrDoesNotExist = errors.New("does not exist")

	// ErrNoPermission indicates the caller lacks the required grant on the
	// target node, parent, or share.
	ErrNoPermission = errors.New("no permission")

	// ErrUploadCorrupt indicates a streaming validation failure: malformed
	// DEFLATE data, or a size/hash/CRC mismatch detected during or at the
	// end of an upload.
	ErrUploadCorrupt = errors.New("upload corrupt")

	// ErrTryAgain indicates an infrastructure fault in the blob store or
	// registry; the client may retry, reusing the same upload id if one
	// was allocated.
	ErrTryAgain = errors.New("try again")

	// ErrNotAvailable indicates a blob read failure during download.
	ErrNotAvailable = errors.New("not available")

	// ErrConflict indicates the node's content changed between the start
	// and commit of an upload.
	ErrConflict = errors.New("conflict")

	// ErrQuotaExceeded indicates the upload's inflated size exceeds the
	// user's remaining free bytes.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrInternal indicates an uncaught fault inside the transfer path.
	// The connection is torn down after the response is sent.
	ErrInternal = errors.New("internal error")

	// ErrRequestCancelled indicates orderly termination via CANCEL_REQUEST
	// or a controller-initiated cancel.
	ErrRequestCancelled = errors.New("request cancelled")
)

// Code is the wire error code a *Error maps to.
type Code string

const (
	CodeDoesNotExist     Code = "DOES_NOT_EXIST"
	CodeNoPermission     Code = "NO_PERMISSION"
	CodeQuotaExceeded    Code = "QUOTA_EXCEEDED"
	CodeUploadCorrupt    Code = "UPLOAD_CORRUPT"
	CodeTryAgain         Code = "TRY_AGAIN"
	CodeNotAvailable     Code = "NOT_AVAILABLE"
	CodeConflict         Code = "CONFLICT"
	CodeInternalError    Code = "INTERNAL_ERROR"
	CodeRequestCancelled Code = "REQUEST_CANCELLED"
)

// Error is the structured wrapper carrying the sentinel plus operational
// context needed to build a wire response or a log line. Protocol
// controllers read Code and FreeBytes/ShareID off of it directly instead
// of re-deriving them from the message string.
type Error struct {
	// Op names the operation that failed: "connect", "add_data", "commit",
	// "cancel", "download.start", ...
	Op string

	// Message is additional human-readable detail (e.g. "hash mismatch").
	Message string

	// FreeBytes and ShareID are populated for QuotaExceeded only.
	FreeBytes int64
	ShareID   string

	// Err is the wrapped sentinel (one of the Err* vars above).
	Err error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Err, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Code maps the wrapped sentinel to its wire error code. Returns
// CodeInternalError if Err is not one of the recognized sentinels.
func (e *Error) Code() Code {
	return CodeOf(e.Err)
}

// CodeOf maps any error to its wire error code by walking errors.Is against
// the known sentinels, defaulting to CodeInternalError.
func CodeOf(err error) Code {
	switch {
	case errors.Is(err, ErrDoesNotExist):
		return CodeDoesNotExist
	case errors.Is(err, ErrNoPermission):
		return CodeNoPermission
	case errors.Is(err, ErrQuotaExceeded):
		return CodeQuotaExceeded
	case errors.Is(err, ErrUploadCorrupt):
		return CodeUploadCorrupt
	case errors.Is(err, ErrTryAgain):
		return CodeTryAgain
	case errors.Is(err, ErrNotAvailable):
		return CodeNotAvailable
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrRequestCancelled):
		return CodeRequestCancelled
	default:
		return CodeInternalError
	}
}

// Corrupt builds an ErrUploadCorrupt *Error with the given reason, matching
// the literal messages named in spec.md §4.4 ("bad deflate", "inflated
// size mismatch", "deflated size mismatch", "hash mismatch",
// "crc32 mismatch", "magic hash mismatch").
func Corrupt(op, reason string) *Error {
	return &Error{Op: op, Message: reason, Err: ErrUploadCorrupt}
}

// Quota builds an ErrQuotaExceeded *Error carrying the free-byte count and
// the share the quota was charged against.
func Quota(op string, freeBytes int64, shareID string) *Error {
	return &Error{Op: op, FreeBytes: freeBytes, ShareID: shareID, Err: ErrQuotaExceeded}
}

// Conflict builds an ErrConflict *Error with the spec's literal message.
func Conflict(op string) *Error {
	return &Error{Op: op, Message: "The File changed while uploading.", Err: ErrConflict}
}

// TryAgain wraps a transient infrastructure failure.
func TryAgain(op string, cause error) *Error {
	return &Error{Op: op, Message: cause.Error(), Err: ErrTryAgain}
}

// NotAvailable wraps a blob-read failure during download.
func NotAvailable(op string, cause error) *Error {
	return &Error{Op: op, Message: cause.Error(), Err: ErrNotAvailable}
}

// Internal wraps an uncaught fault. The controller sends INTERNAL_ERROR
// with cause.Error() and marks the connection shutting down.
func Internal(op string, cause error) *Error {
	return &Error{Op: op, Message: cause.Error(), Err: ErrInternal}
}

// DoesNotExist builds an ErrDoesNotExist *Error.
func DoesNotExist(op string) *Error {
	return &Error{Op: op, Err: ErrDoesNotExist}
}

// NoPermission builds an ErrNoPermission *Error.
func NoPermission(op string) *Error {
	return &Error{Op: op, Err: ErrNoPermission}
}

// Cancelled builds an ErrRequestCancelled *Error.
func Cancelled(op string) *Error {
	return &Error{Op: op, Err: ErrRequestCancelled}
}
