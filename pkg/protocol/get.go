package protocol

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/syncore/coreserver/internal/logger"
	"github.com/syncore/coreserver/pkg/metrics"
	"github.com/syncore/coreserver/pkg/protocol/wire"
	"github.com/syncore/coreserver/pkg/session"
	"github.com/syncore/coreserver/pkg/transfer"
	"github.com/syncore/coreserver/pkg/txerr"
)

// getState mirrors putState without the Committing step (spec.md §4.8:
// "Downloading mirrors without Committing").
type getState int32

const (
	getInit getState = iota
	getConnecting
	getDownloading
	getDone
	getCancelling
	getErrored
)

// GetController is C8's download-side request handler: one instance per
// GET_CONTENT request, owning exactly one DownloadJob for its lifetime.
type GetController struct {
	requestID string
	transport Transport
	metrics   *metrics.Transfer

	state atomic.Int32

	mu  sync.Mutex
	job *transfer.DownloadJob
}

// NewGetController constructs a controller for a single GET_CONTENT
// request.
func NewGetController(requestID string, transport Transport, m *metrics.Transfer) *GetController {
	c := &GetController{requestID: requestID, transport: transport, metrics: m}
	c.state.Store(int32(getInit))
	return c
}

// sink adapts a GetController onto transfer.Sink, forwarding
// BeginContent/Bytes/EOF straight onto the wire and recording metrics
// per chunk.
type sink struct {
	c    *GetController
	kind string
}

func (s *sink) BeginContent(ctx context.Context, size, deflatedSize uint64, crc32 uint32, hash string) error {
	s.c.metrics.DownloadBegin(s.kind)
	s.c.metrics.DownloadOffset(s.kind, 0)
	return s.c.transport.Send(ctx, wire.TypeBeginContent, &wire.BeginContent{
		RequestID: s.c.requestID, Size: size, DeflatedSize: deflatedSize, CRC32: crc32, Hash: hash,
	})
}

func (s *sink) Bytes(ctx context.Context, p []byte) error {
	return s.c.transport.Send(ctx, wire.TypeBytes, &wire.Bytes{RequestID: s.c.requestID, Payload: p})
}

func (s *sink) EOF(ctx context.Context) error {
	s.c.state.Store(int32(getDone))
	return s.c.transport.Send(ctx, wire.TypeEOF, &wire.EOF{RequestID: s.c.requestID})
}

func (s *sink) Failed(ctx context.Context, err error) {
	s.c.state.Store(int32(getErrored))
	_ = sendError(ctx, s.c.transport, s.c.requestID, "get.stream", err)
}

// Handle drives a GET_CONTENT request. connLock is released once the
// DownloadJob's producer has been assigned to this controller's slot —
// Start itself only returns after the producer is attached, so the
// assign-before-release contract holds by construction.
func (c *GetController) Handle(ctx context.Context, connLock *sync.Mutex, user *session.User, req wire.GetContent) error {
	if !c.state.CompareAndSwap(int32(getInit), int32(getConnecting)) {
		return sendError(ctx, c.transport, c.requestID, "get.cancel", txerr.Cancelled("get"))
	}

	kind := metrics.KindContent
	s := &sink{c: c, kind: kind}

	connLock.Lock()
	job, err := user.GetContent(ctx, req.Volume, req.Node, req.Hash, req.Offset, s)
	if err != nil {
		connLock.Unlock()
		c.state.Store(int32(getErrored))
		return sendError(ctx, c.transport, c.requestID, "get.start", err)
	}

	c.mu.Lock()
	c.job = job
	c.mu.Unlock()
	connLock.Unlock()

	logger.DebugCtx(ctx, "DownloadJob begin content from offset", logger.Offset(req.Offset))

	// CAS rather than Store: a CANCEL_REQUEST racing the Connecting phase
	// (job not yet assigned, so Cancel's job.Cancel() was a no-op) has
	// already moved the state to getCancelling by the time we get here.
	// An unconditional Store would silently clobber that back to
	// getDownloading and the cancel would be lost.
	if !c.state.CompareAndSwap(int32(getConnecting), int32(getDownloading)) {
		job.Cancel()
		return sendError(ctx, c.transport, c.requestID, "get.cancel", txerr.Cancelled("get"))
	}

	return job.Wait()
}

// Cancel implements CANCEL_REQUEST for an in-flight GET.
func (c *GetController) Cancel(context.Context) {
	for {
		s := getState(c.state.Load())
		if s == getDone || s == getErrored || s == getCancelling {
			return
		}
		if c.state.CompareAndSwap(int32(s), int32(getCancelling)) {
			break
		}
	}

	c.mu.Lock()
	job := c.job
	c.mu.Unlock()
	if job != nil {
		job.Cancel()
	}
}

// RequestID returns the client-visible id this controller answers to.
func (c *GetController) RequestID() string { return c.requestID }
