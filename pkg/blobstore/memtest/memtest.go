// Package memtest is an in-memory blobstore.Store used by pkg/transfer and
// pkg/session tests, mirroring the role make_test_storage_users.py plays
// in the original magicicada-server test suite: a fast, deterministic
// fixture standing in for the real backend.
package memtest

import (
	"bytes"
	"context"
	"sync"

	"github.com/syncore/coreserver/pkg/blobstore"
	"github.com/syncore/coreserver/pkg/txerr"
)

// Store is a goroutine-safe in-memory blobstore.Store.
type Store struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	// FailGet, when set, makes every OpenGet for that storage key fail
	// with txerr.NotAvailable, for testing DownloadJob's failure path.
	FailGet map[string]bool
	// FailPut, when set, makes Close for that storage key fail with
	// txerr.TryAgain, for testing UploadJob's writer-failure path.
	FailPut map[string]bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		blobs:   make(map[string][]byte),
		FailGet: make(map[string]bool),
		FailPut: make(map[string]bool),
	}
}

func (s *Store) OpenPut(_ context.Context, storageKey string) (blobstore.WriteSink, error) {
	return &memSink{store: s, key: storageKey}, nil
}

func (s *Store) OpenGet(_ context.Context, storageKey string) (blobstore.ReadSource, error) {
	s.mu.RLock()
	fail := s.FailGet[storageKey]
	data, ok := s.blobs[storageKey]
	s.mu.RUnlock()

	if fail {
		return nil, txerr.NotAvailable("blobstore.open_get", bytesNotFound{storageKey})
	}
	if !ok {
		return nil, txerr.NotAvailable("blobstore.open_get", bytesNotFound{storageKey})
	}

	return &memSource{data: data}, nil
}

func (s *Store) Delete(_ context.Context, storageKey string) error {
	s.mu.Lock()
	delete(s.blobs, storageKey)
	s.mu.Unlock()
	return nil
}

func (s *Store) HealthCheck(context.Context) error { return nil }

type bytesNotFound struct{ key string }

func (e bytesNotFound) Error() string { return "blob not found: " + e.key }

type memSink struct {
	store *Store
	key   string
	buf   bytes.Buffer
}

func (w *memSink) Write(_ context.Context, p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memSink) Close(_ context.Context) error {
	w.store.mu.RLock()
	fail := w.store.FailPut[w.key]
	w.store.mu.RUnlock()
	if fail {
		return txerr.TryAgain("blobstore.close", bytesNotFound{w.key})
	}

	w.store.mu.Lock()
	w.store.blobs[w.key] = append([]byte(nil), w.buf.Bytes()...)
	w.store.mu.Unlock()
	return nil
}

func (w *memSink) Abort(context.Context) {
	w.buf.Reset()
}

// memSource streams a fixed in-memory slice in BYTES_PAYLOAD-sized
// chunks, honoring Pause/Resume/Stop.
type memSource struct {
	data []byte

	mu      sync.Mutex
	paused  bool
	stopped bool
	resume  chan struct{}
}

const chunkSize = 64 * 1024

func (s *memSource) Run(ctx context.Context, consumer blobstore.Consumer) error {
	for off := 0; off < len(s.data); {
		if s.isStopped() {
			return nil
		}
		s.waitIfPaused()
		if s.isStopped() {
			return nil
		}

		end := off + chunkSize
		if end > len(s.data) {
			end = len(s.data)
		}
		if err := consumer.Consume(ctx, s.data[off:end]); err != nil {
			return err
		}
		off = end
	}
	return nil
}

func (s *memSource) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		s.paused = true
		s.resume = make(chan struct{})
	}
}

func (s *memSource) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		s.paused = false
		close(s.resume)
	}
}

func (s *memSource) Stop() {
	s.mu.Lock()
	s.stopped = true
	paused := s.paused
	resume := s.resume
	s.mu.Unlock()
	if paused {
		// Wake up a blocked Run so it can observe stopped and return.
		select {
		case <-resume:
		default:
			s.Resume()
		}
	}
}

func (s *memSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *memSource) waitIfPaused() {
	s.mu.Lock()
	if !s.paused {
		s.mu.Unlock()
		return
	}
	ch := s.resume
	s.mu.Unlock()
	<-ch
}
