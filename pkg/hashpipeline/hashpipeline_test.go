package hashpipeline

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"fmt"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deflate(t *testing.T, plaintext []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(plaintext)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestPipelineEmptyInput(t *testing.T) {
	p := New([]byte("salt"))
	deflated := deflate(t, nil)

	require.NoError(t, p.AddData(deflated))
	require.NoError(t, p.Finish())

	snap := p.Snapshot()
	assert.Equal(t, EmptyHash, snap.ContentHash)
	assert.Equal(t, uint32(0), snap.CRC32)
	assert.Equal(t, uint64(0), snap.InflatedSize)
	assert.Equal(t, uint64(len(deflated)), snap.DeflatedSize)
}

func TestPipelineKnownContent(t *testing.T) {
	plaintext := bytes.Repeat([]byte("*"), 100000)
	deflated := deflate(t, plaintext)

	p := New([]byte("salt"))
	// Feed in small chunks to exercise incremental AddData.
	for i := 0; i < len(deflated); i += 4096 {
		end := i + 4096
		if end > len(deflated) {
			end = len(deflated)
		}
		require.NoError(t, p.AddData(deflated[i:end]))
	}
	require.NoError(t, p.Finish())

	snap := p.Snapshot()

	wantSHA1 := sha1.Sum(plaintext)
	assert.Equal(t, fmt.Sprintf("sha1:%x", wantSHA1), snap.ContentHash)
	assert.Equal(t, crc32.ChecksumIEEE(plaintext), snap.CRC32)
	assert.Equal(t, uint64(len(plaintext)), snap.InflatedSize)
	assert.Equal(t, uint64(len(deflated)), snap.DeflatedSize)
}

func TestPipelineMagicHashIsSaltDependent(t *testing.T) {
	plaintext := []byte("hello world")
	deflated := deflate(t, plaintext)

	p1 := New([]byte("salt-a"))
	require.NoError(t, p1.AddData(deflated))
	require.NoError(t, p1.Finish())

	p2 := New([]byte("salt-b"))
	require.NoError(t, p2.AddData(deflated))
	require.NoError(t, p2.Finish())

	snap1 := p1.Snapshot()
	snap2 := p2.Snapshot()

	assert.Equal(t, snap1.ContentHash, snap2.ContentHash)
	assert.NotEqual(t, snap1.MagicHash, snap2.MagicHash)
}

func TestPipelineBadDeflateRejected(t *testing.T) {
	p := New([]byte("salt"))
	err := p.AddData([]byte{0xff, 0xff, 0xff, 0xff})
	if err == nil {
		err = p.Finish()
	}
	require.Error(t, err)
}
