// Package session implements C6: the per-authenticated-session façade a
// protocol connection calls through for everything that is not raw byte
// transfer — root/volume/node lookup, quota, generation/delta queries,
// the UploadJob/DownloadJob factory methods, and the public-link toggle.
//
// A User is shared by every request running concurrently on the same
// connection (spec.md §3 "Ownership and lifetime"); it holds no mutable
// state of its own, so it needs no locking — every
// method is a thin, stateless wrapper over an RpcDal call.
package session

import (
	"context"

	"github.com/syncore/coreserver/pkg/blobstore"
	"github.com/syncore/coreserver/pkg/rpcdal"
	"github.com/syncore/coreserver/pkg/transfer"
	"github.com/syncore/coreserver/pkg/txerr"
	"github.com/syncore/coreserver/pkg/uploadregistry"
)

// User is C6: a session façade bound to one authenticated account.
// free_bytes_cache / generation_cache from spec.md §3 are deliberately
// not fields here — they're advisory caches the original kept to avoid a
// round trip; this engine always asks RpcDal instead, since a stale quota
// or generation reading back to a client is worse than one extra RPC.
type User struct {
	id           string
	username     string
	rootVolumeID string

	rpc      rpcdal.RpcDal
	store    blobstore.Store
	registry *uploadregistry.Registry
	magic    []byte
	cfg      transfer.Config
}

// New wraps an rpcdal.User (as returned by GetUser) into a session façade.
func New(u rpcdal.User, rpc rpcdal.RpcDal, store blobstore.Store, registry *uploadregistry.Registry, magicSalt []byte, cfg transfer.Config) *User {
	return &User{
		id:           u.ID,
		username:     u.Username,
		rootVolumeID: u.RootVolumeID,
		rpc:          rpc,
		store:        store,
		registry:     registry,
		magic:        magicSalt,
		cfg:          cfg,
	}
}

// ID returns the user's account id.
func (u *User) ID() string { return u.id }

// Username returns the user's login name.
func (u *User) Username() string { return u.username }

// RootVolumeID returns the id of the user's own (non-share) volume.
func (u *User) RootVolumeID() string { return u.rootVolumeID }

// GetRoot returns the root node id of the user's own volume and its
// current generation.
func (u *User) GetRoot(ctx context.Context) (nodeID string, generation uint64, err error) {
	nodeID, generation, err = u.rpc.GetRoot(ctx, u.id)
	if err != nil {
		return "", 0, txerr.DoesNotExist("get_root")
	}
	return nodeID, generation, nil
}

// GetVolumeID resolves which volume a node belongs to.
func (u *User) GetVolumeID(ctx context.Context, nodeID string) (string, error) {
	volumeID, err := u.rpc.GetVolumeID(ctx, nodeID)
	if err != nil {
		return "", txerr.DoesNotExist("get_volume_id")
	}
	return volumeID, nil
}

// MakeFile creates an empty file node under parent.
func (u *User) MakeFile(ctx context.Context, volumeID, parentID, name string, isPublic bool) (node rpcdal.Node, generation uint64, err error) {
	node, generation, err = u.rpc.MakeFile(ctx, volumeID, parentID, name, isPublic)
	if err != nil {
		return rpcdal.Node{}, 0, txerr.DoesNotExist("make_file")
	}
	return node, generation, nil
}

// MakeDir creates an empty directory node under parent.
func (u *User) MakeDir(ctx context.Context, volumeID, parentID, name string, isPublic bool) (node rpcdal.Node, generation uint64, err error) {
	node, generation, err = u.rpc.MakeDir(ctx, volumeID, parentID, name, isPublic)
	if err != nil {
		return rpcdal.Node{}, 0, txerr.DoesNotExist("make_dir")
	}
	return node, generation, nil
}

// Unlink removes a node, recursively for directories.
func (u *User) Unlink(ctx context.Context, volumeID, nodeID string) (generation uint64, kind rpcdal.NodeKind, name string, err error) {
	generation, kind, name, err = u.rpc.Unlink(ctx, volumeID, nodeID)
	if err != nil {
		return 0, "", "", txerr.DoesNotExist("unlink")
	}
	return generation, kind, name, nil
}

// Move renames/reparents a node.
func (u *User) Move(ctx context.Context, volumeID, nodeID, newParentID, newName string) (generation uint64, err error) {
	generation, err = u.rpc.Move(ctx, volumeID, nodeID, newParentID, newName)
	if err != nil {
		return 0, txerr.DoesNotExist("move")
	}
	return generation, nil
}

// GetFreeBytes returns remaining quota. If shareVolumeID is non-empty,
// quota is charged against the share's owner rather than this user; an
// inactive/unknown owner fails DoesNotExist, per spec.md §4.6.
func (u *User) GetFreeBytes(ctx context.Context, shareVolumeID string) (int64, error) {
	volumeID := u.rootVolumeID
	if shareVolumeID != "" {
		volumeID = shareVolumeID
		if _, err := u.rpc.ShareOwner(ctx, volumeID); err != nil {
			return 0, txerr.DoesNotExist("get_free_bytes")
		}
	}
	free, err := u.rpc.FreeBytes(ctx, volumeID)
	if err != nil {
		return 0, txerr.DoesNotExist("get_free_bytes")
	}
	return free, nil
}

// GetDelta returns nodes mutated in the half-open range (fromGen, endGen].
func (u *User) GetDelta(ctx context.Context, volumeID string, fromGen uint64, limit int) (deltas []rpcdal.VolumeDelta, endGen uint64, freeBytes int64, err error) {
	deltas, endGen, freeBytes, err = u.rpc.GetDelta(ctx, volumeID, fromGen, limit)
	if err != nil {
		return nil, 0, 0, txerr.DoesNotExist("get_delta")
	}
	return deltas, endGen, freeBytes, nil
}

// GetFromScratch returns every live node in volumeID, for a client with
// no prior delta cursor to resume from.
func (u *User) GetFromScratch(ctx context.Context, volumeID string) (nodes []rpcdal.Node, endGen uint64, freeBytes int64, err error) {
	nodes, endGen, freeBytes, err = u.rpc.GetFromScratch(ctx, volumeID)
	if err != nil {
		return nil, 0, 0, txerr.DoesNotExist("get_from_scratch")
	}
	return nodes, endGen, freeBytes, nil
}

// ChangePublicAccess toggles whether node is publicly reachable.
func (u *User) ChangePublicAccess(ctx context.Context, volumeID, nodeID string, isPublic bool) (publicURL string, err error) {
	publicURL, err = u.rpc.ChangePublicAccess(ctx, volumeID, nodeID, isPublic)
	if err != nil {
		return "", txerr.DoesNotExist("change_public_access")
	}
	return publicURL, nil
}

// ListPublicFiles lists every node this user has made public.
func (u *User) ListPublicFiles(ctx context.Context) ([]rpcdal.Node, error) {
	nodes, err := u.rpc.ListPublicFiles(ctx, u.id)
	if err != nil {
		return nil, txerr.DoesNotExist("list_public_files")
	}
	return nodes, nil
}

// UploadJobParams are the client-supplied PUT_CONTENT envelope fields
// GetUploadJob needs to either resume an existing registry record or mint
// a fresh (possibly bogus) one.
type UploadJobParams struct {
	VolumeID      string
	NodeID        string
	PreviousHash  string
	HashHint      string
	CRC32Hint     uint32
	InflatedSize  uint64
	DeflatedSize  uint64
	MagicHashHint string

	// UploadID is the client-supplied resume token (PUT_CONTENT's
	// upload_id), empty for a fresh upload.
	UploadID string

	// Resumable controls whether a durable registry row is allocated for
	// a fresh upload; small, non-resumable uploads get a BogusRecord
	// instead (spec.md §9 design notes).
	Resumable bool
}

// GetUploadJob returns a fresh or resumed UploadJob (C4), per spec.md
// §4.6. A non-empty UploadID attempts the exact-match resume lookup;
// any mismatch or miss falls back to minting a new record.
func (u *User) GetUploadJob(ctx context.Context, p UploadJobParams) (*transfer.UploadJob, error) {
	record, err := u.resolveRecord(ctx, p)
	if err != nil {
		return nil, err
	}

	params := transfer.UploadParams{
		UserID:        u.id,
		VolumeID:      p.VolumeID,
		NodeID:        p.NodeID,
		PreviousHash:  p.PreviousHash,
		HashHint:      p.HashHint,
		CRC32Hint:     p.CRC32Hint,
		InflatedSize:  p.InflatedSize,
		DeflatedSize:  p.DeflatedSize,
		MagicHashHint: p.MagicHashHint,
	}
	return transfer.New(params, u.rpc, u.store, u.registry, u.magic, record, u.cfg), nil
}

func (u *User) resolveRecord(ctx context.Context, p UploadJobParams) (*uploadregistry.Record, error) {
	if p.UploadID != "" {
		rec, err := u.registry.Get(ctx, u.id, p.VolumeID, p.NodeID, p.UploadID, p.HashHint, p.CRC32Hint)
		if err == nil {
			return rec, nil
		}
		// Any mismatch (hash/crc32/identity) forces a fresh job per
		// spec.md §4.3's Get contract, rather than surfacing an error.
	}

	if !p.Resumable {
		return uploadregistry.BogusRecord(u.id, p.VolumeID, p.NodeID, p.PreviousHash, p.HashHint, p.CRC32Hint, p.InflatedSize), nil
	}
	return u.registry.Make(ctx, u.id, p.VolumeID, p.NodeID, p.PreviousHash, p.HashHint, p.CRC32Hint, p.InflatedSize)
}

// GetContent wraps a DownloadJob (C5) for a GET_CONTENT request. sink is
// the protocol controller's write side; nodeID/previousHash are the
// client's envelope fields.
func (u *User) GetContent(ctx context.Context, volumeID, nodeID, previousHash string, offset uint64, sink transfer.Sink) (*transfer.DownloadJob, error) {
	job := transfer.NewDownloadJob(u.rpc, u.store, sink)
	if err := job.Start(ctx, volumeID, nodeID, offset); err != nil {
		return nil, err
	}
	return job, nil
}
