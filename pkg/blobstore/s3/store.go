// Package s3 is an S3 / S3-compatible blobstore.Store. Writes above
// PartSize are streamed to S3 via a native multipart upload so a large
// PUT_CONTENT never has to buffer the whole blob in memory; reads stream
// the object body straight onto the ReadSource consumer.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/syncore/coreserver/pkg/blobstore"
	"github.com/syncore/coreserver/pkg/txerr"
)

// Config configures the S3 backend.
type Config struct {
	Client    *s3.Client
	Bucket    string
	KeyPrefix string

	// PartSize is the multipart upload part size. Must be between 5MB and
	// 5GB; defaults to 5MB (S3's own minimum).
	PartSize int64
}

// Store is an S3-backed blobstore.Store.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	partSize  int64
}

const minPartSize = 5 * 1024 * 1024
const maxPartSize = 5 * 1024 * 1024 * 1024

// New validates cfg and verifies bucket access via HeadBucket.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, txerr.Internal("blobstore.s3.new", fmt.Errorf("s3 client is required"))
	}
	if cfg.Bucket == "" {
		return nil, txerr.Internal("blobstore.s3.new", fmt.Errorf("bucket is required"))
	}

	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = minPartSize
	}
	if partSize < minPartSize || partSize > maxPartSize {
		return nil, txerr.Internal("blobstore.s3.new", fmt.Errorf("part size %d out of range [%d, %d]", partSize, minPartSize, maxPartSize))
	}

	if _, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, txerr.NotAvailable("blobstore.s3.new", err)
	}

	return &Store{client: cfg.Client, bucket: cfg.Bucket, keyPrefix: cfg.KeyPrefix, partSize: partSize}, nil
}

func (s *Store) objectKey(storageKey string) string {
	return s.keyPrefix + storageKey
}

func (s *Store) OpenPut(_ context.Context, storageKey string) (blobstore.WriteSink, error) {
	return &multipartSink{store: s, key: s.objectKey(storageKey), buf: make([]byte, 0, s.partSize)}, nil
}

func (s *Store) OpenGet(_ context.Context, storageKey string) (blobstore.ReadSource, error) {
	return &objectSource{store: s, key: s.objectKey(storageKey)}, nil
}

func (s *Store) Delete(ctx context.Context, storageKey string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(storageKey)),
	})
	if err != nil {
		return txerr.TryAgain("blobstore.s3.delete", err)
	}
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return txerr.NotAvailable("blobstore.s3.health_check", err)
	}
	return nil
}

// multipartSink buffers writes up to partSize and, once a full part
// accumulates, either starts (on the first full part) or continues a
// native S3 multipart upload. A blob smaller than one part is sent as a
// single PutObject on Close.
type multipartSink struct {
	store *Store
	key   string

	mu       sync.Mutex
	buf      []byte
	uploadID string
	partNum  int32
	parts    []types.CompletedPart
	aborted  bool
}

func (w *multipartSink) Write(ctx context.Context, p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	total := len(p)
	for len(p) > 0 {
		room := int(w.store.partSize) - len(w.buf)
		if room > len(p) {
			room = len(p)
		}
		w.buf = append(w.buf, p[:room]...)
		p = p[room:]

		if int64(len(w.buf)) == w.store.partSize {
			if err := w.flushPart(ctx); err != nil {
				return 0, err
			}
		}
	}
	return total, nil
}

// flushPart must be called with mu held. It lazily creates the multipart
// upload on the first full part.
func (w *multipartSink) flushPart(ctx context.Context) error {
	if w.uploadID == "" {
		result, err := w.store.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(w.store.bucket),
			Key:    aws.String(w.key),
		})
		if err != nil {
			return txerr.TryAgain("blobstore.s3.create_multipart", err)
		}
		w.uploadID = *result.UploadId
	}

	w.partNum++
	partNum := w.partNum
	out, err := w.store.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(w.store.bucket),
		Key:        aws.String(w.key),
		UploadId:   aws.String(w.uploadID),
		PartNumber: aws.Int32(partNum),
		Body:       bytes.NewReader(w.buf),
	})
	if err != nil {
		return txerr.TryAgain("blobstore.s3.upload_part", err)
	}

	w.parts = append(w.parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(partNum)})
	w.buf = w.buf[:0]
	return nil
}

func (w *multipartSink) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.uploadID == "" {
		// Never crossed a part boundary: single PutObject.
		_, err := w.store.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(w.store.bucket),
			Key:    aws.String(w.key),
			Body:   bytes.NewReader(w.buf),
		})
		if err != nil {
			return txerr.TryAgain("blobstore.s3.put_object", err)
		}
		return nil
	}

	if len(w.buf) > 0 {
		if err := w.flushPart(ctx); err != nil {
			w.abortMultipart(ctx)
			return err
		}
	}

	sort.Slice(w.parts, func(i, j int) bool { return *w.parts[i].PartNumber < *w.parts[j].PartNumber })
	_, err := w.store.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(w.store.bucket),
		Key:             aws.String(w.key),
		UploadId:        aws.String(w.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: w.parts},
	})
	if err != nil {
		w.abortMultipart(ctx)
		return txerr.TryAgain("blobstore.s3.complete_multipart", err)
	}
	return nil
}

func (w *multipartSink) Abort(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.uploadID != "" {
		w.abortMultipart(ctx)
	}
}

// abortMultipart must be called with mu held.
func (w *multipartSink) abortMultipart(ctx context.Context) {
	if w.aborted {
		return
	}
	w.aborted = true
	_, _ = w.store.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.store.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
	})
}

const readChunkSize = 256 * 1024

type objectSource struct {
	store *Store
	key   string

	mu      sync.Mutex
	paused  bool
	stopped bool
	resume  chan struct{}
}

func (s *objectSource) Run(ctx context.Context, consumer blobstore.Consumer) error {
	out, err := s.store.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.store.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return txerr.NotAvailable("blobstore.s3.get_object", err)
	}
	defer out.Body.Close()

	buf := make([]byte, readChunkSize)
	for {
		if s.isStopped() {
			return nil
		}
		s.waitIfPaused()
		if s.isStopped() {
			return nil
		}

		n, rerr := out.Body.Read(buf)
		if n > 0 {
			if cerr := consumer.Consume(ctx, buf[:n]); cerr != nil {
				return cerr
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return txerr.NotAvailable("blobstore.s3.read", rerr)
		}
	}
}

func (s *objectSource) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		s.paused = true
		s.resume = make(chan struct{})
	}
}

func (s *objectSource) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		s.paused = false
		close(s.resume)
	}
}

func (s *objectSource) Stop() {
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

func (s *objectSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *objectSource) waitIfPaused() {
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
