package protocol

import (
	"context"
	"errors"

	"github.com/syncore/coreserver/pkg/protocol/wire"
	"github.com/syncore/coreserver/pkg/txerr"
)

// errNotAuthenticated guards every request type but AUTH_REQUEST behind
// a completed handshake; out of scope for the core per spec.md §1, but a
// connection still needs some gate before it can resolve a session.User.
var errNotAuthenticated = txerr.NoPermission("not_authenticated")

// sendError translates err into a wire ErrorMessage (spec.md §7) and
// sends it over t. Any error not already a *txerr.Error is treated as
// Fatal and reported as INTERNAL_ERROR. The original err is returned to
// the caller so the request is still seen as failed; a Send failure
// itself (the client could not even be told) takes precedence, since
// that is the more severe condition.
func sendError(ctx context.Context, t Transport, requestID, op string, err error) error {
	msg := toWireError(op, err)
	msg.RequestID = requestID
	if sendErr := t.Send(ctx, wire.TypeError, msg); sendErr != nil {
		return sendErr
	}
	return err
}

func toWireError(op string, err error) *wire.ErrorMessage {
	var terr *txerr.Error
	if !errors.As(err, &terr) {
		terr = txerr.Internal(op, err)
	}

	return &wire.ErrorMessage{
		Code:      string(terr.Code()),
		Message:   terr.Message,
		FreeBytes: terr.FreeBytes,
		ShareID:   terr.ShareID,
	}
}
