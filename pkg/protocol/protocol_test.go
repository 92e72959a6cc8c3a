package protocol

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/sha1"
	"fmt"
	"hash/crc32"
	"runtime"
	"sync"
	"testing"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/syncore/coreserver/pkg/blobstore/memtest"
	"github.com/syncore/coreserver/pkg/metrics"
	"github.com/syncore/coreserver/pkg/protocol/wire"
	"github.com/syncore/coreserver/pkg/rpcdal"
	"github.com/syncore/coreserver/pkg/rpcdal/fake"
	"github.com/syncore/coreserver/pkg/session"
	"github.com/syncore/coreserver/pkg/transfer"
	"github.com/syncore/coreserver/pkg/uploadregistry"
)

// recordingTransport captures every frame Send writes, for assertion.
type recordingTransport struct {
	mu     sync.Mutex
	frames []sentFrame
}

type sentFrame struct {
	Type wire.Type
	Body any
}

func (t *recordingTransport) Send(_ context.Context, ty wire.Type, body any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = append(t.frames, sentFrame{Type: ty, Body: body})
	return nil
}

func (t *recordingTransport) find(ty wire.Type) (sentFrame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.frames {
		if f.Type == ty {
			return f, true
		}
	}
	return sentFrame{}, false
}

func newTestRegistry(t *testing.T) *uploadregistry.Registry {
	t.Helper()
	opts := badgerdb.DefaultOptions(t.TempDir()).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return uploadregistry.Open(db)
}

func deflate(t *testing.T, plaintext []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(plaintext)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func hashPlaintext(plaintext []byte) (contentHash string, crc uint32, size uint64) {
	sum := sha1.Sum(plaintext)
	return fmt.Sprintf("sha1:%x", sum), crc32.ChecksumIEEE(plaintext), uint64(len(plaintext))
}

func newTestUser(t *testing.T, freeBytes int64) (*session.User, rpcdal.Node) {
	t.Helper()
	rpc := fake.New()
	u, rootID := rpc.AddUser("alice", freeBytes)
	fileNode := rpc.AddFile(u.RootVolumeID, rootID, "doc.txt")
	user := session.New(u, rpc, memtest.New(), newTestRegistry(t), []byte("salt"), transfer.DefaultConfig())
	return user, fileNode
}

func TestPutControllerUploadThenOK(t *testing.T) {
	ctx := context.Background()
	user, fileNode := newTestUser(t, 1<<20)

	plaintext := bytes.Repeat([]byte("y"), 5000)
	deflated := deflate(t, plaintext)
	contentHash, crc, size := hashPlaintext(plaintext)

	tr := &recordingTransport{}
	ctl := NewPutController("req-1", tr, metrics.NewTransfer())

	var lock sync.Mutex
	ch := make(chan []byte, 1)
	ch <- deflated
	recv := func(ctx context.Context) ([]byte, error) {
		return <-ch, nil
	}

	req := wire.PutContent{
		RequestID:    "req-1",
		Volume:       fileNode.VolumeID,
		Node:         fileNode.ID,
		PreviousHash: rpcdal.EmptyHash,
		Hash:         contentHash,
		CRC32:        crc,
		Size:         size,
		DeflatedSize: uint64(len(deflated)),
	}

	err := ctl.Handle(ctx, &lock, user, req, recv)
	require.NoError(t, err)

	_, hasBegin := tr.find(wire.TypeBeginContent)
	require.True(t, hasBegin)

	okFrame, hasOK := tr.find(wire.TypeOK)
	require.True(t, hasOK)
	ok := okFrame.Body.(*wire.OK)
	require.Equal(t, uint64(1), ok.NewGeneration)
}

func TestPutControllerBadHashSendsUploadCorrupt(t *testing.T) {
	ctx := context.Background()
	user, fileNode := newTestUser(t, 1<<20)

	plaintext := bytes.Repeat([]byte("z"), 100)
	deflated := deflate(t, plaintext)
	_, crc, size := hashPlaintext(plaintext)

	tr := &recordingTransport{}
	ctl := NewPutController("req-2", tr, metrics.NewTransfer())

	var lock sync.Mutex
	ch := make(chan []byte, 1)
	ch <- deflated
	recv := func(ctx context.Context) ([]byte, error) { return <-ch, nil }

	req := wire.PutContent{
		RequestID:    "req-2",
		Volume:       fileNode.VolumeID,
		Node:         fileNode.ID,
		PreviousHash: rpcdal.EmptyHash,
		Hash:         "sha1:0000000000000000000000000000000000000000",
		CRC32:        crc,
		Size:         size,
		DeflatedSize: uint64(len(deflated)),
	}

	err := ctl.Handle(ctx, &lock, user, req, recv)
	require.Error(t, err)

	errFrame, hasErr := tr.find(wire.TypeError)
	require.True(t, hasErr)
	msg := errFrame.Body.(*wire.ErrorMessage)
	require.Equal(t, "UPLOAD_CORRUPT", msg.Code)
}

func TestGetControllerStreamsToEOF(t *testing.T) {
	ctx := context.Background()
	user, fileNode := newTestUser(t, 1<<20)

	plaintext := bytes.Repeat([]byte("w"), 2000)
	deflated := deflate(t, plaintext)
	contentHash, crc, size := hashPlaintext(plaintext)

	// Upload first so there's content to download.
	putTr := &recordingTransport{}
	putCtl := NewPutController("put-1", putTr, metrics.NewTransfer())
	var lock sync.Mutex
	ch := make(chan []byte, 1)
	ch <- deflated
	recv := func(ctx context.Context) ([]byte, error) { return <-ch, nil }
	require.NoError(t, putCtl.Handle(ctx, &lock, user, wire.PutContent{
		RequestID: "put-1", Volume: fileNode.VolumeID, Node: fileNode.ID,
		PreviousHash: rpcdal.EmptyHash, Hash: contentHash, CRC32: crc,
		Size: size, DeflatedSize: uint64(len(deflated)),
	}, recv))

	getTr := &recordingTransport{}
	getCtl := NewGetController("get-1", getTr, metrics.NewTransfer())
	err := getCtl.Handle(ctx, &lock, user, wire.GetContent{
		RequestID: "get-1", Volume: fileNode.VolumeID, Node: fileNode.ID,
	})
	require.NoError(t, err)

	_, hasBegin := getTr.find(wire.TypeBeginContent)
	require.True(t, hasBegin)
	_, hasEOF := getTr.find(wire.TypeEOF)
	require.True(t, hasEOF)

	var got bytes.Buffer
	getTr.mu.Lock()
	for _, f := range getTr.frames {
		if f.Type == wire.TypeBytes {
			got.Write(f.Body.(*wire.Bytes).Payload)
		}
	}
	getTr.mu.Unlock()
	require.Equal(t, deflated, got.Bytes())
}

func TestPutControllerCancelBeforeBytesArrive(t *testing.T) {
	ctx := context.Background()
	user, fileNode := newTestUser(t, 1<<20)

	plaintext := bytes.Repeat([]byte("c"), 500)
	deflated := deflate(t, plaintext)
	contentHash, crc, size := hashPlaintext(plaintext)

	tr := &recordingTransport{}
	ctl := NewPutController("req-3", tr, metrics.NewTransfer())

	var lock sync.Mutex
	ch := make(chan []byte)
	recv := func(ctx context.Context) ([]byte, error) {
		select {
		case d := <-ch:
			return d, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	req := wire.PutContent{
		RequestID: "req-3", Volume: fileNode.VolumeID, Node: fileNode.ID,
		PreviousHash: rpcdal.EmptyHash, Hash: contentHash, CRC32: crc,
		Size: size, DeflatedSize: uint64(len(deflated)),
	}

	done := make(chan error, 1)
	go func() { done <- ctl.Handle(ctx, &lock, user, req, recv) }()

	ctl.Cancel(ctx)
	err := <-done
	require.Error(t, err)

	errFrame, hasErr := tr.find(wire.TypeError)
	require.True(t, hasErr)
	msg := errFrame.Body.(*wire.ErrorMessage)
	require.Equal(t, "REQUEST_CANCELLED", msg.Code)
}

// TestPutControllerCancelDuringConnectingIsNotLost reproduces the race where
// CANCEL_REQUEST lands while the job is still unassigned (connLock held,
// job == nil, so Cancel's job.Cancel(ctx) is a no-op). Handle must still
// notice the Cancelling state once it reaches the Connecting->Uploading
// transition rather than silently clobbering it and completing the upload.
func TestPutControllerCancelDuringConnectingIsNotLost(t *testing.T) {
	ctx := context.Background()
	user, fileNode := newTestUser(t, 1<<20)

	plaintext := bytes.Repeat([]byte("d"), 500)
	deflated := deflate(t, plaintext)
	contentHash, crc, size := hashPlaintext(plaintext)

	tr := &recordingTransport{}
	ctl := NewPutController("req-4", tr, metrics.NewTransfer())

	var lock sync.Mutex
	lock.Lock() // held so Handle blocks before the job is assigned

	ch := make(chan []byte, 1)
	ch <- deflated
	recv := func(ctx context.Context) ([]byte, error) { return <-ch, nil }

	req := wire.PutContent{
		RequestID: "req-4", Volume: fileNode.VolumeID, Node: fileNode.ID,
		PreviousHash: rpcdal.EmptyHash, Hash: contentHash, CRC32: crc,
		Size: size, DeflatedSize: uint64(len(deflated)),
	}

	done := make(chan error, 1)
	go func() { done <- ctl.Handle(ctx, &lock, user, req, recv) }()

	for putState(ctl.state.Load()) != putConnecting {
		runtime.Gosched()
	}
	ctl.Cancel(ctx)
	lock.Unlock()

	err := <-done
	require.Error(t, err)

	errFrame, hasErr := tr.find(wire.TypeError)
	require.True(t, hasErr)
	msg := errFrame.Body.(*wire.ErrorMessage)
	require.Equal(t, "REQUEST_CANCELLED", msg.Code)

	_, hasOK := tr.find(wire.TypeOK)
	require.False(t, hasOK, "a cancel during connecting must not let the upload commit")
}

// TestGetControllerCancelDuringConnectingIsNotLost is the download-side
// mirror: a CANCEL_REQUEST that lands before the DownloadJob is assigned to
// the controller's slot must still surface as REQUEST_CANCELLED, not a
// silent successful stream.
func TestGetControllerCancelDuringConnectingIsNotLost(t *testing.T) {
	ctx := context.Background()
	user, fileNode := newTestUser(t, 1<<20)

	plaintext := bytes.Repeat([]byte("w"), 2000)
	deflated := deflate(t, plaintext)
	contentHash, crc, size := hashPlaintext(plaintext)

	putTr := &recordingTransport{}
	putCtl := NewPutController("put-2", putTr, metrics.NewTransfer())
	var putLock sync.Mutex
	ch := make(chan []byte, 1)
	ch <- deflated
	recv := func(ctx context.Context) ([]byte, error) { return <-ch, nil }
	require.NoError(t, putCtl.Handle(ctx, &putLock, user, wire.PutContent{
		RequestID: "put-2", Volume: fileNode.VolumeID, Node: fileNode.ID,
		PreviousHash: rpcdal.EmptyHash, Hash: contentHash, CRC32: crc,
		Size: size, DeflatedSize: uint64(len(deflated)),
	}, recv))

	getTr := &recordingTransport{}
	getCtl := NewGetController("get-2", getTr, metrics.NewTransfer())

	var lock sync.Mutex
	lock.Lock() // held so Handle blocks before the job is assigned

	done := make(chan error, 1)
	go func() {
		done <- getCtl.Handle(ctx, &lock, user, wire.GetContent{
			RequestID: "get-2", Volume: fileNode.VolumeID, Node: fileNode.ID,
		})
	}()

	for getState(getCtl.state.Load()) != getConnecting {
		runtime.Gosched()
	}
	getCtl.Cancel(ctx)
	lock.Unlock()

	err := <-done
	require.Error(t, err)

	errFrame, hasErr := getTr.find(wire.TypeError)
	require.True(t, hasErr)
	msg := errFrame.Body.(*wire.ErrorMessage)
	require.Equal(t, "REQUEST_CANCELLED", msg.Code)
}
