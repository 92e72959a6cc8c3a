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

// putState is the Upload state machine of spec.md §4.8: Init →
// Connecting → Uploading → Committing → Done, with Cancelling reachable
// from any pre-Done state and Errored terminal.
type putState int32

const (
	putInit putState = iota
	putConnecting
	putUploading
	putCommitting
	putDone
	putCancelling
	putErrored
)

// PutController is C8's upload-side request handler: one instance per
// PUT_CONTENT request, owning exactly one UploadJob for its lifetime.
type PutController struct {
	requestID string
	transport Transport
	metrics   *metrics.Transfer

	state atomic.Int32

	mu  sync.Mutex // guards job against a concurrent Cancel
	job *transfer.UploadJob
}

// NewPutController constructs a controller for a single PUT_CONTENT
// request. requestID is the client-visible id CANCEL_REQUEST will name.
func NewPutController(requestID string, transport Transport, m *metrics.Transfer) *PutController {
	c := &PutController{requestID: requestID, transport: transport, metrics: m}
	c.state.Store(int32(putInit))
	return c
}

// Handle drives the full PUT_CONTENT request: connects the upload job
// while holding connLock, releases connLock immediately once the job is
// assigned to this controller's slot (the assign-before-release
// contract of spec.md §4.4/§4.8/§9), streams BYTES frames into the job
// until req.DeflatedSize bytes of deflated data have arrived, and
// commits. recvBytes yields the next chunk of this request's body (as
// demultiplexed by the connection's dispatcher) and returns a non-nil
// error once the connection closes or the request is abandoned.
func (c *PutController) Handle(ctx context.Context, connLock *sync.Mutex, user *session.User, req wire.PutContent, recvBytes func(ctx context.Context) ([]byte, error)) error {
	if !c.state.CompareAndSwap(int32(putInit), int32(putConnecting)) {
		return sendError(ctx, c.transport, c.requestID, "put.cancel", txerr.Cancelled("put"))
	}

	connLock.Lock()
	job, err := user.GetUploadJob(ctx, session.UploadJobParams{
		VolumeID:      req.Volume,
		NodeID:        req.Node,
		PreviousHash:  req.PreviousHash,
		HashHint:      req.Hash,
		CRC32Hint:     req.CRC32,
		InflatedSize:  req.Size,
		DeflatedSize:  req.DeflatedSize,
		MagicHashHint: req.MagicHash,
		UploadID:      req.UploadID,
		Resumable:     req.Size > 0,
	})
	if err != nil {
		connLock.Unlock()
		c.state.Store(int32(putErrored))
		return sendError(ctx, c.transport, c.requestID, "put.get_upload_job", err)
	}

	begin, err := job.Connect(ctx)
	if err != nil {
		connLock.Unlock()
		c.state.Store(int32(putErrored))
		return sendError(ctx, c.transport, c.requestID, "put.connect", err)
	}

	// Assign before release: the job is visible to Cancel (and thus to a
	// racing CANCEL_REQUEST) only from this point on, and connLock is
	// freed immediately after, never before.
	c.mu.Lock()
	c.job = job
	c.mu.Unlock()
	connLock.Unlock()

	logger.DebugCtx(ctx, "UploadJob begin content from offset", logger.Offset(begin.Offset))

	kind := metrics.KindContent
	if job.IsDedup() {
		kind = metrics.KindMagic
	}
	c.metrics.UploadBegin(kind)
	c.metrics.UploadOffset(kind, begin.Offset)

	if err := c.transport.Send(ctx, wire.TypeBeginContent, &wire.BeginContent{
		RequestID: c.requestID, Offset: begin.Offset, UploadID: begin.UploadID,
	}); err != nil {
		c.state.Store(int32(putErrored))
		return err
	}

	// CAS rather than Store: a CANCEL_REQUEST racing the Connecting phase
	// (job not yet assigned, so Cancel's job.Cancel(ctx) was a no-op) has
	// already moved the state to putCancelling by the time we get here.
	// An unconditional Store would silently clobber that back to
	// putUploading and the cancel would be lost.
	if !c.state.CompareAndSwap(int32(putConnecting), int32(putUploading)) {
		job.Cancel(ctx)
		return sendError(ctx, c.transport, c.requestID, "put.cancel", txerr.Cancelled("put"))
	}
	received := begin.Offset
	for received < req.DeflatedSize {
		if c.state.Load() == int32(putCancelling) {
			job.Cancel(ctx)
			return sendError(ctx, c.transport, c.requestID, "put.cancel", txerr.Cancelled("put"))
		}

		data, rerr := recvBytes(ctx)
		if rerr != nil {
			c.state.Store(int32(putErrored))
			job.Cancel(ctx)
			return sendError(ctx, c.transport, c.requestID, "put.recv", rerr)
		}
		if aerr := job.AddData(ctx, data); aerr != nil {
			c.state.Store(int32(putErrored))
			return sendError(ctx, c.transport, c.requestID, "put.add_data", aerr)
		}
		received += uint64(len(data))
		c.metrics.UploadOffset(kind, received)
	}

	c.state.Store(int32(putCommitting))
	generation, cerr := job.Commit(ctx)
	if cerr != nil {
		c.state.Store(int32(putErrored))
		return sendError(ctx, c.transport, c.requestID, "put.commit", cerr)
	}

	c.state.Store(int32(putDone))
	return c.transport.Send(ctx, wire.TypeOK, &wire.OK{RequestID: c.requestID, NewGeneration: generation})
}

// Cancel implements CANCEL_REQUEST for an in-flight PUT. Safe to call
// before the job has been assigned — in that case Handle observes the
// Cancelling state before it starts streaming.
func (c *PutController) Cancel(ctx context.Context) {
	for {
		s := putState(c.state.Load())
		if s == putDone || s == putErrored || s == putCancelling {
			return
		}
		if c.state.CompareAndSwap(int32(s), int32(putCancelling)) {
			break
		}
	}

	c.mu.Lock()
	job := c.job
	c.mu.Unlock()
	if job != nil {
		job.Cancel(ctx)
	}
}

// RequestID returns the client-visible id this controller answers to.
func (c *PutController) RequestID() string { return c.requestID }
