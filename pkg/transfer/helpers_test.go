package transfer

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/sha1"
	"fmt"
	"hash/crc32"
	"testing"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/syncore/coreserver/pkg/blobstore/memtest"
	"github.com/syncore/coreserver/pkg/rpcdal"
	"github.com/syncore/coreserver/pkg/rpcdal/fake"
	"github.com/syncore/coreserver/pkg/uploadregistry"
)

const testSalt = "unit-test-magic-salt"

func deflate(t *testing.T, plaintext []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(plaintext)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

type hashes struct {
	contentHash string
	magicHash   string
	crc32       uint32
	size        uint64
}

func hashPlaintext(plaintext []byte) hashes {
	sum := sha1.Sum(plaintext)
	magic := sha1.New()
	magic.Write([]byte(testSalt))
	magic.Write(plaintext)

	return hashes{
		contentHash: fmt.Sprintf("sha1:%x", sum),
		magicHash:   fmt.Sprintf("sha1:%x", magic.Sum(nil)),
		crc32:       crc32.ChecksumIEEE(plaintext),
		size:        uint64(len(plaintext)),
	}
}

func newTestRegistry(t *testing.T) *uploadregistry.Registry {
	t.Helper()
	opts := badgerdb.DefaultOptions(t.TempDir()).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return uploadregistry.Open(db)
}

// fixture bundles everything an UploadJob/DownloadJob test needs: a fake
// RpcDal with one user and one empty file node, an in-memory blob store,
// and a badger-backed registry.
type fixture struct {
	rpc      *fake.DAL
	store    *memtest.Store
	registry *uploadregistry.Registry

	user     rpcdal.User
	rootID   string
	fileNode rpcdal.Node
}

func newFixture(t *testing.T, freeBytes int64) *fixture {
	t.Helper()
	rpc := fake.New()
	user, rootID := rpc.AddUser("alice", freeBytes)
	fileNode := rpc.AddFile(user.RootVolumeID, rootID, "doc.txt")

	return &fixture{
		rpc:      rpc,
		store:    memtest.New(),
		registry: newTestRegistry(t),
		user:     user,
		rootID:   rootID,
		fileNode: fileNode,
	}
}

func (f *fixture) freshParams(t *testing.T, plaintext []byte) (UploadParams, hashes) {
	t.Helper()
	deflated := deflate(t, plaintext)
	h := hashPlaintext(plaintext)
	return UploadParams{
		UserID:       f.user.ID,
		VolumeID:     f.fileNode.VolumeID,
		NodeID:       f.fileNode.ID,
		PreviousHash: rpcdal.EmptyHash,
		HashHint:     h.contentHash,
		CRC32Hint:    h.crc32,
		InflatedSize: h.size,
		DeflatedSize: uint64(len(deflated)),
	}, h
}

func ctx() context.Context {
	return context.Background()
}
