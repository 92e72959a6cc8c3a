// Package transfer implements the per-upload and per-download state
// machines (C4 UploadJob, C5 DownloadJob): the engine components that
// actually move bytes between a client and the blob store, verifying
// hashes and enforcing quota and conflict-detection along the way.
package transfer

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/syncore/coreserver/internal/logger"
	"github.com/syncore/coreserver/pkg/blobstore"
	"github.com/syncore/coreserver/pkg/hashpipeline"
	"github.com/syncore/coreserver/pkg/rpcdal"
	"github.com/syncore/coreserver/pkg/txerr"
	"github.com/syncore/coreserver/pkg/uploadregistry"
)

// BeginContent is what Connect publishes to the controller: the byte
// offset the client should resume (or skip) transmission from, plus the
// client-visible resume token.
type BeginContent struct {
	Offset   uint64
	UploadID string
}

// UploadParams are the construction-time inputs spec.md §4.4 lists,
// captured once and never mutated for the job's lifetime.
type UploadParams struct {
	UserID   string
	VolumeID string
	NodeID   string

	// PreviousHash is the content_hash the client believed the node held
	// when it started the upload; checked again at Commit.
	PreviousHash string

	HashHint      string
	CRC32Hint     uint32
	InflatedSize  uint64
	DeflatedSize  uint64
	MagicHashHint string // optional; empty means "not supplied"

	BlockingConsumer bool
}

// UploadJob is C4. One instance is owned exclusively by one PutController
// for its lifetime (spec.md §3 "Ownership and lifetime").
type UploadJob struct {
	params UploadParams

	rpc      rpcdal.RpcDal
	store    blobstore.Store
	registry *uploadregistry.Registry
	magic    []byte // magic hash salt, forwarded into the pipeline
	cfg      Config

	record *uploadregistry.Record

	pipeline *hashpipeline.Pipeline
	queue    *opQueue

	dedup      bool
	storageKey string
	sink       blobstore.WriteSink

	pendingForPart uint64 // only touched by the queue's single worker

	cancelling atomic.Bool
	terminal   atomic.Bool
}

// New constructs an UploadJob. record comes from UploadJobRegistry.Make,
// UploadJobRegistry.Get (resume), or uploadregistry.BogusRecord for
// non-resumable jobs.
func New(params UploadParams, rpc rpcdal.RpcDal, store blobstore.Store, registry *uploadregistry.Registry, magicSalt []byte, record *uploadregistry.Record, cfg Config) *UploadJob {
	return &UploadJob{
		params:   params,
		rpc:      rpc,
		store:    store,
		registry: registry,
		magic:    magicSalt,
		cfg:      cfg.withDefaults(),
		record:   record,
		pipeline: hashpipeline.New(magicSalt),
	}
}

// Connect resolves the target node, enforces quota and node-kind, and
// decides between the dedup and streamed-write paths.
func (j *UploadJob) Connect(ctx context.Context) (BeginContent, error) {
	node, err := j.rpc.GetNode(ctx, j.params.VolumeID, j.params.NodeID)
	if err != nil {
		return BeginContent{}, txerr.DoesNotExist("connect")
	}
	if node.Kind == rpcdal.KindDir {
		return BeginContent{}, txerr.NoPermission("connect")
	}

	free, err := j.rpc.FreeBytes(ctx, j.params.VolumeID)
	if err != nil {
		return BeginContent{}, txerr.DoesNotExist("connect")
	}
	if int64(j.params.InflatedSize) > free {
		shareID := j.params.VolumeID
		return BeginContent{}, txerr.Quota("connect", free, shareID)
	}

	if blob, err := j.rpc.FindContentBlob(ctx, j.params.HashHint); err == nil {
		if j.canDedup(ctx, blob) {
			j.dedup = true
			logger.DebugCtx(ctx, "UploadJob begin content from offset",
				logger.Offset(j.params.DeflatedSize), logger.Dedup(true))
			return BeginContent{Offset: j.params.DeflatedSize, UploadID: j.record.UploadJobID}, nil
		}
	}

	j.storageKey = uuid.NewString()
	sink, err := j.store.OpenPut(ctx, j.storageKey)
	if err != nil {
		return BeginContent{}, txerr.TryAgain("connect", err)
	}
	j.sink = sink
	j.queue = newOpQueue(j.cfg.QueueCapacity)

	offset := j.record.UploadedBytes
	logger.DebugCtx(ctx, "UploadJob begin content from offset",
		logger.Offset(offset), logger.Dedup(false))
	return BeginContent{Offset: offset, UploadID: j.record.UploadJobID}, nil
}

// canDedup implements spec.md §3's ContentBlob reuse invariant: a blob
// with a magic_hash set may be reused by anyone who proves plaintext
// possession via a matching magic_hash_hint; a blob without one may only
// be reused by a user who already owns a node pointing at that hash.
func (j *UploadJob) canDedup(ctx context.Context, blob rpcdal.ContentBlob) bool {
	if blob.MagicHash != "" && j.params.MagicHashHint != "" && blob.MagicHash == j.params.MagicHashHint {
		return true
	}
	owns, err := j.rpc.UserOwnsHash(ctx, j.params.UserID, blob.Hash)
	return err == nil && owns
}

// AddData feeds the HashPipeline (synchronously — hashing is CPU-bound
// and must not suspend mid-chunk per spec.md §5) and, on the streamed
// path, enqueues the bytes for the blob sink. A no-op once Cancel/Stop
// has been called.
func (j *UploadJob) AddData(ctx context.Context, data []byte) error {
	if j.cancelling.Load() || j.terminal.Load() {
		return nil
	}

	if err := j.pipeline.AddData(data); err != nil {
		j.terminal.Store(true)
		return err
	}

	if j.dedup {
		return nil
	}

	chunk := make([]byte, len(data))
	copy(chunk, data)

	err := j.queue.submit(func() error {
		if _, werr := j.sink.Write(ctx, chunk); werr != nil {
			return werr
		}
		j.pendingForPart += uint64(len(chunk))
		if j.pendingForPart >= j.cfg.FlushThreshold {
			part := j.pendingForPart
			j.pendingForPart = 0
			return j.registry.AddPart(ctx, j.record, part)
		}
		return nil
	})
	if err != nil {
		j.terminal.Store(true)
		return txerr.TryAgain("add_data", err)
	}
	return nil
}

// Commit finalizes the upload: it drains the queue, validates the
// HashPipeline's totals against the hints captured at construction,
// checks the node hasn't changed since the client's belief, binds the
// node to the new (or deduped) blob, and releases the UploadJobRecord.
func (j *UploadJob) Commit(ctx context.Context) (generation uint64, err error) {
	if j.terminal.Load() {
		return 0, txerr.TryAgain("commit", fmt.Errorf("upload already failed"))
	}

	if !j.dedup {
		j.queue.drain()
		if qerr := j.queue.lastErr(); qerr != nil {
			_ = j.registry.Delete(ctx, j.record)
			return 0, txerr.TryAgain("commit", qerr)
		}
	}

	// A dedup upload receives no bytes, so there is nothing to inflate
	// or verify against the hints.
	var snap hashpipeline.Snapshot
	if !j.dedup {
		if err := j.pipeline.Finish(); err != nil {
			j.sink.Abort(ctx)
			_ = j.registry.Delete(ctx, j.record)
			return 0, err
		}

		snap = j.pipeline.Snapshot()
		if verr := j.validateSnapshot(snap); verr != nil {
			j.sink.Abort(ctx)
			_ = j.registry.Delete(ctx, j.record)
			return 0, verr
		}
	}

	node, err := j.rpc.GetNode(ctx, j.params.VolumeID, j.params.NodeID)
	if err != nil {
		if !j.dedup {
			j.sink.Abort(ctx)
		}
		_ = j.registry.Delete(ctx, j.record)
		return 0, txerr.DoesNotExist("commit")
	}
	if node.ContentHash != j.params.PreviousHash {
		if !j.dedup {
			j.sink.Abort(ctx)
		}
		_ = j.registry.Delete(ctx, j.record)
		return 0, txerr.Conflict("commit")
	}

	if j.dedup {
		gen, merr := j.rpc.MakeContentWithExistingBlob(ctx, j.params.VolumeID, j.params.NodeID, j.params.HashHint)
		if merr != nil {
			_ = j.registry.Delete(ctx, j.record)
			return 0, txerr.TryAgain("commit", merr)
		}
		_ = j.registry.Delete(ctx, j.record)
		return gen, nil
	}

	if cerr := j.sink.Close(ctx); cerr != nil {
		_ = j.registry.Delete(ctx, j.record)
		return 0, txerr.TryAgain("commit", cerr)
	}

	blob := rpcdal.ContentBlob{
		Hash: snap.ContentHash, MagicHash: j.params.MagicHashHint,
		CRC32: snap.CRC32, Size: snap.InflatedSize, DeflatedSize: snap.DeflatedSize,
		StorageKey: j.storageKey,
	}
	gen, merr := j.rpc.MakeContent(ctx, j.params.VolumeID, j.params.NodeID, blob)
	if merr != nil {
		_ = j.registry.Delete(ctx, j.record)
		return 0, txerr.TryAgain("commit", merr)
	}
	_ = j.registry.Delete(ctx, j.record)
	return gen, nil
}

func (j *UploadJob) validateSnapshot(snap hashpipeline.Snapshot) error {
	switch {
	case snap.InflatedSize != j.params.InflatedSize:
		return txerr.Corrupt("commit", "inflated size mismatch")
	case snap.DeflatedSize != j.params.DeflatedSize:
		return txerr.Corrupt("commit", "deflated size mismatch")
	case snap.ContentHash != j.params.HashHint:
		return txerr.Corrupt("commit", "hash mismatch")
	case snap.CRC32 != j.params.CRC32Hint:
		return txerr.Corrupt("commit", "crc32 mismatch")
	case j.params.MagicHashHint != "" && snap.MagicHash != j.params.MagicHashHint:
		return txerr.Corrupt("commit", "magic hash mismatch")
	default:
		return nil
	}
}

// Cancel stops the writer, discards any queued bytes, and releases the
// record. Any AddData calls still in flight are silently ignored.
func (j *UploadJob) Cancel(ctx context.Context) {
	if j.terminal.Swap(true) {
		return
	}
	j.cancelling.Store(true)

	if !j.dedup && j.queue != nil {
		j.queue.cancel()
		j.queue.drain()
		j.sink.Abort(ctx)
	}
	if err := j.registry.Delete(ctx, j.record); err != nil {
		logger.WarnCtx(ctx, "UploadJob cancel: failed to delete record", logger.Err(err))
	}
}

// Stop is the graceful variant: it only stops future AddData calls from
// doing anything, leaving the writer and record intact for a subsequent
// Commit or Cancel decision by the controller.
func (j *UploadJob) Stop() {
	j.cancelling.Store(true)
}

// UploadID returns the client-visible resume token for this job.
func (j *UploadJob) UploadID() string { return j.record.UploadJobID }

// IsDedup reports whether Connect resolved this job onto the dedup path
// (MagicUploadJob in spec.md §4.8's metrics naming) rather than a
// streamed write. Only meaningful after Connect returns.
func (j *UploadJob) IsDedup() bool { return j.dedup }
