package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for a single PUT/GET
// request flowing through the protocol, transfer, and session packages.
type LogContext struct {
	TraceID     string // OpenTelemetry trace ID
	SpanID      string // OpenTelemetry span ID
	RequestID   string // Wire request id (CANCEL_REQUEST target)
	MessageType string // PUT_CONTENT, GET_CONTENT, MAKE_FILE, ...
	ClientIP    string // Client IP address (without port)
	UserID      string // Authenticated user id
	VolumeID    string // Volume the request targets
	NodeID      string // Node the request targets

	StartTime time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext with the given client IP
func NewLogContext(clientIP string) *LogContext {
	return &LogContext{
		ClientIP:  clientIP,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:     lc.TraceID,
		SpanID:      lc.SpanID,
		RequestID:   lc.RequestID,
		MessageType: lc.MessageType,
		ClientIP:    lc.ClientIP,
		UserID:      lc.UserID,
		VolumeID:    lc.VolumeID,
		NodeID:      lc.NodeID,
		StartTime:   lc.StartTime,
	}
}

// WithRequest returns a copy with the request id and message type set
func (lc *LogContext) WithRequest(requestID, messageType string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.RequestID = requestID
		clone.MessageType = messageType
	}
	return clone
}

// WithTarget returns a copy with the user/volume/node target set
func (lc *LogContext) WithTarget(userID, volumeID, nodeID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.UserID = userID
		clone.VolumeID = volumeID
		clone.NodeID = nodeID
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
