package rpcdal

import "errors"

// ErrNotFound is returned by lookups (GetUser, GetNode, FindContentBlob,
// ShareOwner, ...) when the requested row does not exist. Callers in
// pkg/transfer and pkg/session translate this into txerr.DoesNotExist.
var ErrNotFound = errors.New("rpcdal: not found")
