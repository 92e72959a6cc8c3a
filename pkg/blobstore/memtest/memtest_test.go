package memtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncore/coreserver/pkg/txerr"
)

func writeBlob(t *testing.T, s *Store, key string, data []byte) {
	t.Helper()
	ctx := context.Background()
	sink, err := s.OpenPut(ctx, key)
	require.NoError(t, err)
	_, err = sink.Write(ctx, data)
	require.NoError(t, err)
	require.NoError(t, sink.Close(ctx))
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()
	writeBlob(t, s, "k1", []byte("hello world"))

	src, err := s.OpenGet(ctx, "k1")
	require.NoError(t, err)

	var got []byte
	err = src.Run(ctx, consumeFunc(func(_ context.Context, p []byte) error {
		got = append(got, p...)
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestOpenGetMissingKey(t *testing.T) {
	s := New()
	_, err := s.OpenGet(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, txerr.CodeNotAvailable, txerr.CodeOf(err))
}

func TestFailPutSurfacesOnClose(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.FailPut["k1"] = true

	sink, err := s.OpenPut(ctx, "k1")
	require.NoError(t, err)
	_, err = sink.Write(ctx, []byte("data"))
	require.NoError(t, err)

	err = sink.Close(ctx)
	require.Error(t, err)
	assert.Equal(t, txerr.CodeTryAgain, txerr.CodeOf(err))
}

func TestAbortDiscardsBuffer(t *testing.T) {
	ctx := context.Background()
	s := New()

	sink, err := s.OpenPut(ctx, "k1")
	require.NoError(t, err)
	_, err = sink.Write(ctx, []byte("data"))
	require.NoError(t, err)
	sink.Abort(ctx)

	_, err = s.OpenGet(ctx, "k1")
	require.Error(t, err)
}

func TestStopBeforeRunDeliversNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	// Larger than chunkSize so Run crosses at least one chunk boundary.
	writeBlob(t, s, "k1", make([]byte, chunkSize*2))

	src, err := s.OpenGet(ctx, "k1")
	require.NoError(t, err)

	src.Stop()
	var chunks int
	err = src.Run(ctx, consumeFunc(func(_ context.Context, p []byte) error {
		chunks++
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, 0, chunks)
}

type consumeFunc func(ctx context.Context, p []byte) error

func (f consumeFunc) Consume(ctx context.Context, p []byte) error { return f(ctx, p) }
