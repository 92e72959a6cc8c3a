package uploadregistry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned by Get on a miss or a hint mismatch — the
// caller (UploadJob.Connect) treats it as "start a fresh job", not as a
// wire-visible error.
var ErrNotFound = errors.New("uploadregistry: record not found")

// Key prefixes, mirroring the teacher's badger metadata store convention
// of a flat key-value namespace partitioned by string prefix.
const prefixRecord = "uploadjob:record:"

// Registry is the durable UploadJobRecord table (C3).
type Registry struct {
	db *badgerdb.DB
}

// Open wraps an already-opened BadgerDB handle. The caller owns the
// handle's lifecycle (including Close).
func Open(db *badgerdb.DB) *Registry {
	return &Registry{db: db}
}

func recordKey(multipartKey string) []byte {
	return []byte(prefixRecord + multipartKey)
}

// Healthcheck verifies the registry's BadgerDB handle is still usable by
// starting (and immediately discarding) a read transaction. Badger
// surfaces closed/corrupted state as an error from View itself, so no
// further probing is needed.
func (r *Registry) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.View(func(txn *badgerdb.Txn) error { return nil })
}

// Make allocates a fresh multipart_key and persists a zero-progress
// Record.
func (r *Registry) Make(ctx context.Context, userID, volumeID, nodeID, previousHash, hashHint string, crc32Hint uint32, inflatedSizeHint uint64) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := &Record{
		UploadJobID:      newMultipartKey(),
		UserID:           userID,
		VolumeID:         volumeID,
		NodeID:           nodeID,
		HashHint:         hashHint,
		CRC32Hint:        crc32Hint,
		InflatedSizeHint: inflatedSizeHint,
		PreviousHash:     previousHash,
		WhenLastActive:   time.Now(),
	}
	rec.MultipartKey = rec.UploadJobID

	if err := r.put(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get performs the exact-match resume lookup: any mismatch of hash or
// crc32 against the stored hints fails ErrNotFound, forcing the caller
// to start a fresh upload rather than silently resuming the wrong one.
func (r *Registry) Get(ctx context.Context, userID, volumeID, nodeID, uploadJobID, hash string, crc32 uint32) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := r.get(uploadJobID)
	if err != nil {
		return nil, err
	}

	if rec.UserID != userID || rec.VolumeID != volumeID || rec.NodeID != nodeID ||
		rec.HashHint != hash || rec.CRC32Hint != crc32 {
		return nil, ErrNotFound
	}
	return rec, nil
}

// AddPart records uploaded_bytes/chunk_count progress for a chunk the
// UploadJob has already flushed to the blob writer. A no-op for bogus
// records.
func (r *Registry) AddPart(ctx context.Context, rec *Record, chunkSize uint64) error {
	if rec.IsBogus() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rec.UploadedBytes += chunkSize
	rec.ChunkCount++
	rec.WhenLastActive = time.Now()
	return r.put(rec)
}

// Touch refreshes when_last_active without changing progress, used to
// keep a slow-but-alive upload out of GC sweeps.
func (r *Registry) Touch(ctx context.Context, rec *Record) error {
	if rec.IsBogus() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rec.WhenLastActive = time.Now()
	return r.put(rec)
}

// Delete releases the row on commit, cancel, or validation failure.
func (r *Registry) Delete(ctx context.Context, rec *Record) error {
	if rec.IsBogus() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.db.Update(func(txn *badgerdb.Txn) error {
		err := txn.Delete(recordKey(rec.MultipartKey))
		if err != nil && !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		return nil
	})
}

func (r *Registry) put(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("uploadregistry: marshal record: %w", err)
	}
	return r.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(recordKey(rec.MultipartKey), data)
	})
}

func (r *Registry) get(multipartKey string) (*Record, error) {
	var rec Record
	err := r.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(recordKey(multipartKey))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
