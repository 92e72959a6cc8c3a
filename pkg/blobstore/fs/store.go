// Package fs is a local-filesystem blobstore.Store: blobs are written to a
// temporary file and renamed into place for atomicity, then streamed back
// in fixed-size chunks honoring Pause/Resume/Stop.
package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/syncore/coreserver/pkg/blobstore"
	"github.com/syncore/coreserver/pkg/txerr"
)

// Config configures the filesystem backend.
type Config struct {
	// BasePath is the root directory blobs are stored under. Storage keys
	// are joined onto this path; callers are responsible for minting keys
	// that don't escape it (RpcDal-issued keys are opaque tokens, never
	// user-controlled paths).
	BasePath string

	// DirMode/FileMode default to 0755/0644.
	DirMode  os.FileMode
	FileMode os.FileMode
}

// Store is a filesystem-backed blobstore.Store.
type Store struct {
	basePath string
	dirMode  os.FileMode
	fileMode os.FileMode
}

// New creates the base directory if needed and returns a Store rooted at it.
func New(cfg Config) (*Store, error) {
	if cfg.BasePath == "" {
		return nil, txerr.Internal("blobstore.fs.new", errNoBasePath)
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}
	if err := os.MkdirAll(cfg.BasePath, cfg.DirMode); err != nil {
		return nil, txerr.Internal("blobstore.fs.new", err)
	}
	return &Store{basePath: cfg.BasePath, dirMode: cfg.DirMode, fileMode: cfg.FileMode}, nil
}

var errNoBasePath = pathErr("base path is required")

type pathErr string

func (e pathErr) Error() string { return string(e) }

func (s *Store) path(storageKey string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(storageKey))
}

func (s *Store) OpenPut(_ context.Context, storageKey string) (blobstore.WriteSink, error) {
	path := s.path(storageKey)
	if err := os.MkdirAll(filepath.Dir(path), s.dirMode); err != nil {
		return nil, txerr.TryAgain("blobstore.fs.open_put", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, s.fileMode)
	if err != nil {
		return nil, txerr.TryAgain("blobstore.fs.open_put", err)
	}

	return &fileSink{f: f, tmpPath: tmpPath, finalPath: path}, nil
}

func (s *Store) OpenGet(_ context.Context, storageKey string) (blobstore.ReadSource, error) {
	path := s.path(storageKey)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, txerr.NotAvailable("blobstore.fs.open_get", err)
		}
		return nil, txerr.TryAgain("blobstore.fs.open_get", err)
	}
	return &fileSource{f: f}, nil
}

func (s *Store) Delete(_ context.Context, storageKey string) error {
	if err := os.Remove(s.path(storageKey)); err != nil && !os.IsNotExist(err) {
		return txerr.TryAgain("blobstore.fs.delete", err)
	}
	return nil
}

func (s *Store) HealthCheck(context.Context) error {
	if _, err := os.Stat(s.basePath); err != nil {
		return txerr.NotAvailable("blobstore.fs.health_check", err)
	}
	return nil
}

type fileSink struct {
	f         *os.File
	tmpPath   string
	finalPath string
}

func (w *fileSink) Write(_ context.Context, p []byte) (int, error) {
	return w.f.Write(p)
}

func (w *fileSink) Close(_ context.Context) error {
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		os.Remove(w.tmpPath)
		return txerr.TryAgain("blobstore.fs.close", err)
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.tmpPath)
		return txerr.TryAgain("blobstore.fs.close", err)
	}
	if err := os.Rename(w.tmpPath, w.finalPath); err != nil {
		os.Remove(w.tmpPath)
		return txerr.TryAgain("blobstore.fs.close", err)
	}
	return nil
}

func (w *fileSink) Abort(context.Context) {
	w.f.Close()
	os.Remove(w.tmpPath)
}

const chunkSize = 256 * 1024

type fileSource struct {
	f *os.File

	mu      sync.Mutex
	paused  bool
	stopped bool
	resume  chan struct{}
}

func (s *fileSource) Run(ctx context.Context, consumer blobstore.Consumer) error {
	defer s.f.Close()

	buf := make([]byte, chunkSize)
	for {
		if s.isStopped() {
			return nil
		}
		s.waitIfPaused()
		if s.isStopped() {
			return nil
		}

		n, err := s.f.Read(buf)
		if n > 0 {
			if cerr := consumer.Consume(ctx, buf[:n]); cerr != nil {
				return cerr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return txerr.NotAvailable("blobstore.fs.read", err)
		}
	}
}

func (s *fileSource) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		s.paused = true
		s.resume = make(chan struct{})
	}
}

func (s *fileSource) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		s.paused = false
		close(s.resume)
	}
}

func (s *fileSource) Stop() {
	s.mu.Lock()
	s.stopped = true
	paused := s.paused
	resume := s.resume
	s.mu.Unlock()
	if paused {
		select {
		case <-resume:
		default:
			s.Resume()
		}
	}
}

func (s *fileSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *fileSource) waitIfPaused() {
	s.mu.Lock()
	if !s.paused {
		s.mu.Unlock()
		return
	}
	ch := s.resume
	s.mu.Unlock()
	<-ch
}

var _ blobstore.Store = (*Store)(nil)
