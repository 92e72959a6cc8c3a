package transfer

import (
	"context"
	"sync/atomic"

	"github.com/syncore/coreserver/internal/logger"
	"github.com/syncore/coreserver/pkg/blobstore"
	"github.com/syncore/coreserver/pkg/rpcdal"
	"github.com/syncore/coreserver/pkg/txerr"
)

// Sink is what a DownloadJob streams frames into: the protocol
// controller's write side. BeginContent must be sent before any Bytes
// frame (spec.md §4.5 ordering); EOF (or Failed) closes out the request.
type Sink interface {
	BeginContent(ctx context.Context, size, deflatedSize uint64, crc32 uint32, hash string) error
	Bytes(ctx context.Context, p []byte) error
	EOF(ctx context.Context) error
	Failed(ctx context.Context, err error)
}

// DownloadJob is C5. Start opens the blob reader, emits begin_content, and
// attaches the reader as the sink's producer; the actual streaming runs on
// its own goroutine so Start can return as soon as the producer is
// attached, honoring the assign-before-release contract of spec.md §4.4/
// §4.8 (the controller releases its per-connection lock only once Start
// has returned).
type DownloadJob struct {
	rpc   rpcdal.RpcDal
	store blobstore.Store
	sink  Sink

	reader   blobstore.ReadSource
	done     chan struct{}
	stopped  atomic.Bool
	finalErr error
}

// New constructs a DownloadJob for a single GET_CONTENT request.
func NewDownloadJob(rpc rpcdal.RpcDal, store blobstore.Store, sink Sink) *DownloadJob {
	return &DownloadJob{rpc: rpc, store: store, sink: sink, done: make(chan struct{})}
}

// Start verifies the node has content, opens the reader, publishes
// begin_content, and kicks off streaming in the background.
func (d *DownloadJob) Start(ctx context.Context, volumeID, nodeID string, _ uint64) error {
	node, err := d.rpc.GetNode(ctx, volumeID, nodeID)
	if err != nil || !node.HasContent() {
		return txerr.DoesNotExist("download.start")
	}

	reader, err := d.store.OpenGet(ctx, node.StorageKey)
	if err != nil {
		return txerr.NotAvailable("download.start", err)
	}
	d.reader = reader

	if err := d.sink.BeginContent(ctx, node.Size, node.DeflatedSize, node.CRC32, node.ContentHash); err != nil {
		d.reader.Stop()
		return txerr.TryAgain("download.start", err)
	}

	go d.run(ctx)
	return nil
}

func (d *DownloadJob) run(ctx context.Context) {
	defer close(d.done)

	err := d.reader.Run(ctx, d)
	if err != nil {
		if d.stopped.Load() {
			d.finalErr = txerr.Cancelled("download.run")
			d.sink.Failed(ctx, d.finalErr)
			return
		}
		d.finalErr = txerr.NotAvailable("download.run", err)
		d.sink.Failed(ctx, d.finalErr)
		return
	}

	if eerr := d.sink.EOF(ctx); eerr != nil {
		d.finalErr = eerr
		logger.WarnCtx(ctx, "DownloadJob: EOF frame failed", logger.Err(eerr))
	}
}

// Consume implements blobstore.Consumer, forwarding the stored (deflated)
// chunks, in order, from the ReadSource straight onto the wire.
func (d *DownloadJob) Consume(ctx context.Context, p []byte) error {
	return d.sink.Bytes(ctx, p)
}

// Cancel stops the producer. Idempotent; safe to call after the transfer
// has already finished on its own.
func (d *DownloadJob) Cancel() {
	if d.stopped.Swap(true) {
		return
	}
	if d.reader != nil {
		d.reader.Stop()
	}
}

// Wait blocks until streaming has finished (success, cancellation, or
// read failure) and returns the terminal error, if any. Exposed for tests;
// the controller itself does not need to block on it.
func (d *DownloadJob) Wait() error {
	<-d.done
	return d.finalErr
}
