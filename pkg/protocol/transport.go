package protocol

import (
	"context"
	"sync"
	"time"

	"github.com/syncore/coreserver/pkg/protocol/wire"
)

// Transport is the connection-side seam a controller sends frames
// through. Production code drives it over a net.Conn-backed
// wire.Encoder; tests substitute a recording fake — this interface
// replaces the source's monkey-patched `handle_GET_CONTENT` /
// `unregisterProducer` test hooks (spec.md §9).
type Transport interface {
	Send(ctx context.Context, t wire.Type, body any) error
}

// Clock is a time seam whose production implementation is SystemClock.
// The controllers in this package neither take nor consult a Clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the production Clock.
var SystemClock Clock = systemClock{}

// wireTransport serializes concurrent Send calls onto one
// wire.Encoder, since a connection's PUT and GET controllers run
// concurrently but must not interleave partial frames on the wire.
type wireTransport struct {
	mu  sync.Mutex
	enc *wire.Encoder
}

// NewTransport wraps enc as a Transport safe for concurrent Send calls
// from multiple in-flight requests on the same connection.
func NewTransport(enc *wire.Encoder) Transport {
	return &wireTransport{enc: enc}
}

func (t *wireTransport) Send(_ context.Context, ty wire.Type, body any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enc.Encode(ty, body)
}
