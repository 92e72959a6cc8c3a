// Package uploadregistry is the durable table of in-progress uploads (C3),
// addressed by multipart_key, that lets a reconnecting client resume a PUT
// byte-exact. Backed by BadgerDB, the same embedded store dittofs uses for
// its own metadata tables.
package uploadregistry

import (
	"time"

	"github.com/google/uuid"
)

// Record is an UploadJobRecord: the durable row an UploadJob owns
// exclusively for its lifetime. A Record obtained from BogusRecord is
// never written to the registry — see its doc comment.
type Record struct {
	UploadJobID  string
	MultipartKey string
	UserID       string
	VolumeID     string
	NodeID       string

	HashHint         string
	CRC32Hint        uint32
	InflatedSizeHint uint64
	PreviousHash     string

	UploadedBytes  uint64
	ChunkCount     uint64
	WhenLastActive time.Time

	// bogus is true for records created by BogusRecord: AddPart/Touch/
	// Delete against the registry become no-ops, since nothing was ever
	// persisted for them.
	bogus bool
}

// IsBogus reports whether this Record is a BogusUploadJob stand-in.
func (r *Record) IsBogus() bool { return r.bogus }

// BogusRecord builds an UploadJobRecord stand-in for uploads too small to
// be worth the durable bookkeeping a resumable job needs — chunked
// uploads whose body fits in a single AddData call never cross
// FLUSH_THRESHOLD, so there is nothing to resume. The returned Record is
// never written to the registry; its AddPart/Touch/Delete calls are
// no-ops from the registry's point of view.
func BogusRecord(userID, volumeID, nodeID, previousHash, hashHint string, crc32Hint uint32, inflatedSizeHint uint64) *Record {
	return &Record{
		UploadJobID:      "",
		MultipartKey:     "",
		UserID:           userID,
		VolumeID:         volumeID,
		NodeID:           nodeID,
		HashHint:         hashHint,
		CRC32Hint:        crc32Hint,
		InflatedSizeHint: inflatedSizeHint,
		PreviousHash:     previousHash,
		WhenLastActive:   time.Now(),
		bogus:            true,
	}
}

func newMultipartKey() string {
	return uuid.NewString()
}
