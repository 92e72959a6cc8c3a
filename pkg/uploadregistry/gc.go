package uploadregistry

import (
	"context"
	"encoding/json"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/syncore/coreserver/internal/logger"
)

// GCSweeper periodically deletes UploadJobRecord rows that have been
// inactive past a timeout — uploads abandoned mid-stream by a client
// that never reconnected. It does nothing until Start is called;
// `synccore start` always starts one, using upload_registry.gc_timeout and
// gc_interval (defaults 24h and 5m), and no setting turns it off.
type GCSweeper struct {
	registry *Registry
	timeout  time.Duration
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewGCSweeper builds a sweeper that deletes records whose
// when_last_active is older than timeout, checking every interval.
func NewGCSweeper(registry *Registry, timeout, interval time.Duration) *GCSweeper {
	return &GCSweeper{
		registry: registry,
		timeout:  timeout,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop in the background until Stop is called.
func (g *GCSweeper) Start(ctx context.Context) {
	go g.loop(ctx)
}

// Stop blocks until the current sweep (if any) finishes and the loop
// goroutine exits.
func (g *GCSweeper) Stop() {
	close(g.stop)
	<-g.done
}

func (g *GCSweeper) loop(ctx context.Context) {
	defer close(g.done)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.sweep(ctx); err != nil {
				logger.ErrorCtx(ctx, "uploadregistry GC sweep failed", logger.Err(err))
			}
		}
	}
}

func (g *GCSweeper) sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-g.timeout)

	var stale []string
	err := g.registry.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixRecord)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var rec Record
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				if rec.WhenLastActive.Before(cutoff) {
					stale = append(stale, rec.MultipartKey)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, key := range stale {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.registry.db.Update(func(txn *badgerdb.Txn) error {
			return txn.Delete(recordKey(key))
		}); err != nil {
			return err
		}
		logger.InfoCtx(ctx, "uploadregistry GC deleted abandoned record", logger.MultipartKey(key))
	}
	return nil
}
