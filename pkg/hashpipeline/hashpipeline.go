// Package hashpipeline inflates a DEFLATE-compressed byte stream while
// computing the running content hash, magic hash, CRC32, and size totals
// a PUT_CONTENT upload is verified against at commit time.
package hashpipeline

import (
	"bufio"
	"compress/zlib"
	"crypto/sha1"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/syncore/coreserver/pkg/txerr"
)

// EmptyHash is the content hash of zero bytes: sha1:<40 hex of the empty
// string>. Nodes with no content carry this sentinel.
const EmptyHash = "sha1:da39a3ee5e6b4b0d3255bfef95601890afd80709"

// Snapshot is the set of digests and sizes produced once Finish has been
// called. Reading it before Finish returns partial, in-progress totals.
type Snapshot struct {
	ContentHash  string
	MagicHash    string
	CRC32        uint32
	InflatedSize uint64
	DeflatedSize uint64
}

// Pipeline incrementally inflates DEFLATE input, hashing the inflated
// output as it goes. AddData calls must arrive in the order the bytes
// belong in the stream; the pipeline does no reordering of its own.
type Pipeline struct {
	sha1Sum  hash.Hash
	magicSum hash.Hash
	crc32Sum hash.Hash32

	pr *io.PipeReader
	pw *io.PipeWriter
	zr io.ReadCloser

	inflatedSize uint64
	deflatedSize uint64

	inflateDone chan error
	finished    bool
}

// New creates a Pipeline. magicSalt is the deployment-wide secret prefix
// used to compute the magic hash (spec.md §9: operator-configured, not a
// compiled-in constant).
func New(magicSalt []byte) *Pipeline {
	pr, pw := io.Pipe()

	magicSum := sha1.New()
	magicSum.Write(magicSalt)

	p := &Pipeline{
		sha1Sum:     sha1.New(),
		magicSum:    magicSum,
		crc32Sum:    crc32.NewIEEE(),
		pr:          pr,
		pw:          pw,
		inflateDone: make(chan error, 1),
	}

	go p.drain()

	return p
}

// drain lazily constructs the zlib reader on first byte (so a header
// arriving split across AddData calls is handled by zlib itself) and
// reads inflated bytes in the background, feeding the running digests.
// It reports the terminal error on inflateDone: nil on a clean end of
// stream with no bytes after it, an error for any trailing bytes.
func (p *Pipeline) drain() {
	br := bufio.NewReader(p.pr)
	zr, err := zlib.NewReader(br)
	if err != nil {
		p.pr.CloseWithError(err)
		p.inflateDone <- err
		return
	}
	p.zr = zr

	buf := make([]byte, 32*1024)
	for {
		n, rerr := zr.Read(buf)
		if n > 0 {
			p.sha1Sum.Write(buf[:n])
			p.magicSum.Write(buf[:n])
			p.crc32Sum.Write(buf[:n])
			p.inflatedSize += uint64(n)
		}
		if rerr != nil {
			if rerr == io.EOF {
				// Keep reading until Finish closes the pipe, so bytes
				// sent after the end of the stream are counted, not lost.
				if extra, _ := io.Copy(io.Discard, br); extra > 0 {
					p.inflateDone <- fmt.Errorf("hashpipeline: %d bytes after end of stream", extra)
				} else {
					p.inflateDone <- nil
				}
			} else {
				p.pr.CloseWithError(rerr)
				p.inflateDone <- rerr
			}
			return
		}
	}
}

// AddData feeds a chunk of DEFLATE-compressed bytes into the pipeline and
// updates the deflated-size running total for this chunk. Decompression
// and digesting happen on the pipeline's own goroutine.
func (p *Pipeline) AddData(data []byte) error {
	if p.finished {
		return fmt.Errorf("hashpipeline: AddData after Finish")
	}
	p.deflatedSize += uint64(len(data))

	if _, err := p.pw.Write(data); err != nil {
		return txerr.Corrupt("hashpipeline.add_data", "bad deflate")
	}
	return nil
}

// Finish signals end of input and waits for the inflater to consume any
// buffered bytes and reach a clean DEFLATE end-of-stream. A malformed
// stream or excess trailing bytes surfaces as UploadCorrupt("bad deflate").
func (p *Pipeline) Finish() error {
	if p.finished {
		return nil
	}
	p.finished = true

	if err := p.pw.Close(); err != nil {
		return txerr.Corrupt("hashpipeline.finish", "bad deflate")
	}

	if err := <-p.inflateDone; err != nil {
		return txerr.Corrupt("hashpipeline.finish", "bad deflate")
	}

	if p.zr != nil {
		return p.zr.Close()
	}
	return nil
}

// Snapshot returns the digests and sizes computed so far. Only valid after
// Finish; before that the totals are partial and should not be trusted for
// verification.
func (p *Pipeline) Snapshot() Snapshot {
	return Snapshot{
		ContentHash:  "sha1:" + fmt.Sprintf("%x", p.sha1Sum.Sum(nil)),
		MagicHash:    "sha1:" + fmt.Sprintf("%x", p.magicSum.Sum(nil)),
		CRC32:        p.crc32Sum.Sum32(),
		InflatedSize: p.inflatedSize,
		DeflatedSize: p.deflatedSize,
	}
}
