// Package blobstore defines the adapter (C2) the transfer engine uses to
// stream bytes to and from content-addressed storage. Storage keys are
// opaque and minted by the metadata layer (RpcDal) when a content blob row
// is created; this package never invents one.
package blobstore

import "context"

// WriteSink is the write half of a blob store transfer. Write calls must
// be applied in the order received. Close must be durable before it
// returns success — the caller (UploadJob.Commit) only calls RpcDal to
// bind the node to the new blob after Close succeeds.
type WriteSink interface {
	Write(ctx context.Context, p []byte) (int, error)

	// Close finalizes the write durably. A failure here surfaces to the
	// caller as txerr.TryAgain.
	Close(ctx context.Context) error

	// Abort releases the sink without committing any bytes, used by
	// UploadJob.Cancel and by UploadJob.Commit's failure paths. Abort never returns a client-visible error;
	// failures are logged and swallowed, matching spec.md §7's "errors
	// raised while deleting a record on failure are logged and subsumed".
	Abort(ctx context.Context)
}

// Consumer receives, in order, chunks of the stored (deflated) blob pushed
// by a ReadSource.
// DownloadJob implements Consumer to forward chunks onto the wire.
type Consumer interface {
	Consume(ctx context.Context, p []byte) error
}

// ReadSource is the read half of a blob store transfer: a producer that
// drives bytes into a Consumer, honoring flow control from Pause/Resume,
// and that can be stopped early by Stop (client CANCEL_REQUEST or a read
// failure).
type ReadSource interface {
	// Run blocks, pushing chunks to consumer until the blob is exhausted,
	// Stop is called, or a read error occurs. A read failure surfaces as
	// txerr.NotAvailable.
	Run(ctx context.Context, consumer Consumer) error

	// Pause asks Run to stop pushing new chunks until Resume is called.
	// Already-in-flight Consume calls are not interrupted.
	Pause()

	// Resume undoes a prior Pause.
	Resume()

	// Stop ends Run early; any further Consume calls are suppressed.
	// Idempotent.
	Stop()
}

// Store is the full adapter a BlobStore backend (S3, local filesystem, or
// an in-memory test double) implements.
type Store interface {
	OpenPut(ctx context.Context, storageKey string) (WriteSink, error)
	OpenGet(ctx context.Context, storageKey string) (ReadSource, error)

	// Delete removes a blob. Nothing in this module calls it; the core
	// transfer path never deletes a committed blob itself.
	Delete(ctx context.Context, storageKey string) error

	HealthCheck(ctx context.Context) error
}
