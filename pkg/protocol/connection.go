package protocol

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/syncore/coreserver/internal/logger"
	"github.com/syncore/coreserver/pkg/contentmanager"
	"github.com/syncore/coreserver/pkg/metrics"
	"github.com/syncore/coreserver/pkg/protocol/wire"
	"github.com/syncore/coreserver/pkg/session"
)

// cancellable is satisfied by both PutController and GetController, so
// CANCEL_REQUEST dispatch doesn't need to know which kind of request it
// targets.
type cancellable interface {
	Cancel(ctx context.Context)
}

// Conn drives one persistent connection: it owns the only goroutine
// reading frames off the wire, authenticates, and for every request
// either answers it inline (GET_ROOT, MAKE_FILE, MAKE_DIR) or hands the
// streaming ones (PUT_CONTENT, GET_CONTENT) to their own goroutine
// spawned from Serve, per spec.md §5's "cooperative task per connection plus a
// task per request" mapping (see SPEC_FULL.md §5).
type Conn struct {
	transport Transport
	dec       *wire.Decoder
	cm        *contentmanager.Manager
	cfg       Config
	metrics   *metrics.Transfer

	// requestLock guards only the non-streaming prelude of a request
	// (resource assignment); it is released immediately after the
	// upload_job / message_producer slot is assigned, never before
	// (spec.md §9's when_to_release contract).
	requestLock sync.Mutex

	userMu sync.Mutex
	user   *session.User

	reqMu    sync.Mutex
	active   map[string]cancellable
	bodyChan map[string]chan []byte
}

// NewConn builds a Conn over transport/dec, resolving users through cm.
func NewConn(transport Transport, dec *wire.Decoder, cm *contentmanager.Manager, cfg Config, m *metrics.Transfer) *Conn {
	return &Conn{
		transport: transport,
		dec:       dec,
		cm:        cm,
		cfg:       cfg.withDefaults(),
		metrics:   m,
		active:    make(map[string]cancellable),
		bodyChan:  make(map[string]chan []byte),
	}
}

// Serve reads frames until the connection closes or ctx is cancelled,
// dispatching each to its handler. Streaming requests run on their own
// goroutine so their body frames don't block frame reads for other
// concurrent requests on the same connection.
func (c *Conn) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		frame, err := c.dec.Decode()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		switch frame.Type {
		case wire.TypeAuthRequest:
			c.handleAuth(ctx, frame)

		case wire.TypeGetRoot:
			c.handleGetRoot(ctx)

		case wire.TypeMakeFile, wire.TypeMakeDir:
			c.handleMakeNode(ctx, frame, frame.Type == wire.TypeMakeDir)

		case wire.TypePutContent:
			var req wire.PutContent
			if err := wire.Unmarshal(frame, &req); err != nil {
				logger.WarnCtx(ctx, "Conn: malformed PUT_CONTENT", logger.Err(err))
				continue
			}
			ch := make(chan []byte, 1)
			c.reqMu.Lock()
			c.bodyChan[req.RequestID] = ch
			c.reqMu.Unlock()

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer c.forgetRequest(req.RequestID)
				c.handlePut(ctx, req, ch)
			}()

		case wire.TypeGetContent:
			var req wire.GetContent
			if err := wire.Unmarshal(frame, &req); err != nil {
				logger.WarnCtx(ctx, "Conn: malformed GET_CONTENT", logger.Err(err))
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer c.forgetRequest(req.RequestID)
				c.handleGet(ctx, req)
			}()

		case wire.TypeBytes:
			var b wire.Bytes
			if err := wire.Unmarshal(frame, &b); err != nil {
				continue
			}
			c.reqMu.Lock()
			ch := c.bodyChan[b.RequestID]
			c.reqMu.Unlock()
			// A full channel blocks this reader until the request's own
			// goroutine drains it — deliberate backpressure (spec.md §5)
			// that stalls the sender rather than buffering unboundedly.
			if ch != nil {
				ch <- b.Payload
			}

		case wire.TypeCancelRequest:
			var req wire.CancelRequest
			if err := wire.Unmarshal(frame, &req); err != nil {
				continue
			}
			c.reqMu.Lock()
			ctl := c.active[req.RequestID]
			c.reqMu.Unlock()
			if ctl != nil {
				ctl.Cancel(ctx)
			}

		default:
			logger.WarnCtx(ctx, "Conn: unknown frame type", logger.Err(fmt.Errorf("type %d", frame.Type)))
		}
	}
}

func (c *Conn) forgetRequest(requestID string) {
	c.reqMu.Lock()
	delete(c.active, requestID)
	delete(c.bodyChan, requestID)
	c.reqMu.Unlock()
}

func (c *Conn) handleAuth(ctx context.Context, frame wire.Frame) {
	var req wire.AuthRequest
	if err := wire.Unmarshal(frame, &req); err != nil {
		_ = sendError(ctx, c.transport, "", "auth", err)
		return
	}

	u, err := c.cm.GetUserById(ctx, req.Token, true)
	if err != nil || u == nil {
		_ = sendError(ctx, c.transport, "", "auth", err)
		return
	}

	c.userMu.Lock()
	c.user = u
	c.userMu.Unlock()

	_ = c.transport.Send(ctx, wire.TypeAuthOK, &wire.AuthOK{Session: u.ID()})
}

func (c *Conn) currentUser() *session.User {
	c.userMu.Lock()
	defer c.userMu.Unlock()
	return c.user
}

func (c *Conn) handleGetRoot(ctx context.Context) {
	u := c.currentUser()
	if u == nil {
		_ = sendError(ctx, c.transport, "", "get_root", errNotAuthenticated)
		return
	}
	nodeID, gen, err := u.GetRoot(ctx)
	if err != nil {
		_ = sendError(ctx, c.transport, "", "get_root", err)
		return
	}
	_ = c.transport.Send(ctx, wire.TypeRoot, &wire.Root{NodeID: nodeID, Generation: gen})
}

func (c *Conn) handleMakeNode(ctx context.Context, frame wire.Frame, dir bool) {
	u := c.currentUser()
	if u == nil {
		_ = sendError(ctx, c.transport, "", "make_node", errNotAuthenticated)
		return
	}

	var req wire.MakeNode
	if err := wire.Unmarshal(frame, &req); err != nil {
		_ = sendError(ctx, c.transport, "", "make_node", err)
		return
	}

	var (
		nodeID string
		gen    uint64
		err    error
	)
	if dir {
		n, g, e := u.MakeDir(ctx, req.Volume, req.Parent, req.Name, req.IsPublic)
		nodeID, gen, err = n.ID, g, e
	} else {
		n, g, e := u.MakeFile(ctx, req.Volume, req.Parent, req.Name, req.IsPublic)
		nodeID, gen, err = n.ID, g, e
	}
	if err != nil {
		_ = sendError(ctx, c.transport, "", "make_node", err)
		return
	}
	_ = c.transport.Send(ctx, wire.TypeNewNode, &wire.NewNode{NodeID: nodeID, Generation: gen})
}

func (c *Conn) handlePut(ctx context.Context, req wire.PutContent, ch chan []byte) {
	u := c.currentUser()
	if u == nil {
		_ = sendError(ctx, c.transport, req.RequestID, "put", errNotAuthenticated)
		return
	}

	ctl := NewPutController(req.RequestID, c.transport, c.metrics)
	c.reqMu.Lock()
	c.active[req.RequestID] = ctl
	c.reqMu.Unlock()

	recv := func(ctx context.Context) ([]byte, error) {
		select {
		case data, ok := <-ch:
			if !ok {
				return nil, io.ErrUnexpectedEOF
			}
			return data, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := ctl.Handle(ctx, &c.requestLock, u, req, recv); err != nil {
		logger.WarnCtx(ctx, "Conn: PUT_CONTENT request ended with error", logger.Err(err))
	}
}

func (c *Conn) handleGet(ctx context.Context, req wire.GetContent) {
	u := c.currentUser()
	if u == nil {
		_ = sendError(ctx, c.transport, req.RequestID, "get", errNotAuthenticated)
		return
	}

	ctl := NewGetController(req.RequestID, c.transport, c.metrics)
	c.reqMu.Lock()
	c.active[req.RequestID] = ctl
	c.reqMu.Unlock()

	if err := ctl.Handle(ctx, &c.requestLock, u, req); err != nil {
		logger.WarnCtx(ctx, "Conn: GET_CONTENT request ended with error", logger.Err(err))
	}
}
