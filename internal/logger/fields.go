package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so log aggregation
// and querying stay stable across the transfer, session, and protocol
// packages.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Protocol & Request
	// ========================================================================
	KeyMessageType = "message_type" // Wire message type: PUT_CONTENT, GET_CONTENT, ...
	KeyRequestID   = "request_id"   // Per-request identifier (client CANCEL_REQUEST target)
	KeyStatus      = "status"       // Operation status code (wire error code)
	KeyStatusMsg   = "status_msg"   // Human-readable status message

	// ========================================================================
	// User / Volume / Node
	// ========================================================================
	KeyUserID   = "user_id"
	KeyUsername = "username"
	KeyVolumeID = "volume_id"
	KeyNodeID   = "node_id"
	KeyShareID  = "share_id"

	// ========================================================================
	// Content Transfer
	// ========================================================================
	KeyUploadID     = "upload_id"
	KeyMultipartKey = "multipart_key"
	KeyOffset       = "offset"
	KeySize         = "size"
	KeyDeflatedSize = "deflated_size"
	KeyCRC32        = "crc32"
	KeyContentHash  = "content_hash"
	KeyMagicHash    = "magic_hash_used"
	KeyStorageKey   = "storage_key"
	KeyChunkCount   = "chunk_count"
	KeyBytesRead    = "bytes_read"
	KeyBytesWritten = "bytes_written"
	KeyDedup        = "dedup"

	// ========================================================================
	// Generation / Delta
	// ========================================================================
	KeyGeneration = "generation"
	KeyFromGen    = "from_generation"
	KeyFreeBytes  = "free_bytes"

	// ========================================================================
	// Client Identification
	// ========================================================================
	KeyClientIP     = "client_ip"
	KeyConnectionID = "connection_id"

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
	KeyOperation  = "operation"
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"

	// ========================================================================
	// Storage Backend (BlobStore)
	// ========================================================================
	KeyStoreType = "store_type" // Backend type: s3, fs, memory
	KeyBucket    = "bucket"
)

// ============================================================================
// Field constructors for type safety
// These functions provide type-safe construction of slog.Attr values.
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// MessageType returns a slog.Attr for the wire message type
func MessageType(t string) slog.Attr {
	return slog.String(KeyMessageType, t)
}

// RequestID returns a slog.Attr for the request identifier
func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// Status returns a slog.Attr for operation status code
func Status(code string) slog.Attr {
	return slog.String(KeyStatus, code)
}

// StatusMsg returns a slog.Attr for human-readable status message
func StatusMsg(msg string) slog.Attr {
	return slog.String(KeyStatusMsg, msg)
}

// UserID returns a slog.Attr for the authenticated user id
func UserID(id string) slog.Attr {
	return slog.String(KeyUserID, id)
}

// Username returns a slog.Attr for username
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// VolumeID returns a slog.Attr for the volume id
func VolumeID(id string) slog.Attr {
	return slog.String(KeyVolumeID, id)
}

// NodeID returns a slog.Attr for the node id
func NodeID(id string) slog.Attr {
	return slog.String(KeyNodeID, id)
}

// ShareID returns a slog.Attr for the share id used for quota attribution
func ShareID(id string) slog.Attr {
	return slog.String(KeyShareID, id)
}

// UploadID returns a slog.Attr for the client-visible upload id
func UploadID(id string) slog.Attr {
	return slog.String(KeyUploadID, id)
}

// MultipartKey returns a slog.Attr for the registry's resume token
func MultipartKey(key string) slog.Attr {
	return slog.String(KeyMultipartKey, key)
}

// Offset returns a slog.Attr for a stream offset
func Offset(off uint64) slog.Attr {
	return slog.Uint64(KeyOffset, off)
}

// Size returns a slog.Attr for a content size
func Size(s uint64) slog.Attr {
	return slog.Uint64(KeySize, s)
}

// DeflatedSize returns a slog.Attr for a compressed size
func DeflatedSize(s uint64) slog.Attr {
	return slog.Uint64(KeyDeflatedSize, s)
}

// CRC32 returns a slog.Attr for an IEEE CRC32 checksum
func CRC32(c uint32) slog.Attr {
	return slog.Uint64(KeyCRC32, uint64(c))
}

// ContentHash returns a slog.Attr for a sha1:<hex> content hash
func ContentHash(h string) slog.Attr {
	return slog.String(KeyContentHash, h)
}

// StorageKey returns a slog.Attr for the opaque blob store handle
func StorageKey(k string) slog.Attr {
	return slog.String(KeyStorageKey, k)
}

// ChunkCount returns a slog.Attr for the number of committed chunks
func ChunkCount(n int) slog.Attr {
	return slog.Int(KeyChunkCount, n)
}

// BytesRead returns a slog.Attr for actual bytes read
func BytesRead(n int) slog.Attr {
	return slog.Int(KeyBytesRead, n)
}

// BytesWritten returns a slog.Attr for actual bytes written
func BytesWritten(n int) slog.Attr {
	return slog.Int(KeyBytesWritten, n)
}

// Dedup returns a slog.Attr indicating whether a blob was served from dedup
func Dedup(dedup bool) slog.Attr {
	return slog.Bool(KeyDedup, dedup)
}

// Generation returns a slog.Attr for a per-volume generation number
func Generation(gen uint64) slog.Attr {
	return slog.Uint64(KeyGeneration, gen)
}

// FreeBytes returns a slog.Attr for remaining quota
func FreeBytes(b int64) slog.Attr {
	return slog.Int64(KeyFreeBytes, b)
}

// ClientIP returns a slog.Attr for client IP address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// ConnectionID returns a slog.Attr for connection identifier
func ConnectionID(id string) slog.Attr {
	return slog.String(KeyConnectionID, id)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a wire error code
func ErrorCode(code string) slog.Attr {
	return slog.String(KeyErrorCode, code)
}

// Operation returns a slog.Attr for sub-operation type
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Attempt returns a slog.Attr for retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for maximum retry attempts
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}

// StoreType returns a slog.Attr for the blob store backend type
func StoreType(t string) slog.Attr {
	return slog.String(KeyStoreType, t)
}

// Bucket returns a slog.Attr for a cloud bucket name
func Bucket(name string) slog.Attr {
	return slog.String(KeyBucket, name)
}

// HexBytes formats a byte slice as a hex-encoded attribute, used for
// short opaque binary tokens in debug logs.
func HexBytes(key string, b []byte) slog.Attr {
	return slog.String(key, fmt.Sprintf("%x", b))
}
