package rpcdal

import "context"

// RpcDal is the metadata RPC contract the transfer engine consumes. Method
// names follow the stable wire contract: get_user, make_file_with_content,
// make_content, make_content_with_existing_blob, plus the node/volume/
// share/delta operations C6 needs. UploadJobRecord bookkeeping is NOT part
// of this interface: that table is durable local state owned by
// pkg/uploadregistry, not the external metadata service (see DESIGN.md).
//
// pkg/rpcdal/postgres and pkg/rpcdal/fake are interchangeable
// implementations, selected the way the teacher's controlplane store picks
// a backend from config.
type RpcDal interface {
	// GetUser loads a user's session-relevant fields (username, root
	// volume) by id.
	GetUser(ctx context.Context, userID string) (User, error)

	// GetNode fetches a node by id within a volume.
	GetNode(ctx context.Context, volumeID, nodeID string) (Node, error)

	// GetVolumeID resolves which volume a node belongs to.
	GetVolumeID(ctx context.Context, nodeID string) (string, error)

	// FindContentBlob looks up a ContentBlob by its content hash. Returns
	// ErrNotFound if no blob with that hash exists.
	FindContentBlob(ctx context.Context, hash string) (ContentBlob, error)

	// UserOwnsHash reports whether userID already owns at least one node
	// (in any of their volumes) pointing at contentHash — the dedup
	// ownership proof spec.md §3 requires for blobs without a magic hash.
	UserOwnsHash(ctx context.Context, userID, contentHash string) (bool, error)

	// MakeContent binds node to a freshly written ContentBlob, returning
	// the volume's post-mutation generation.
	MakeContent(ctx context.Context, volumeID, nodeID string, blob ContentBlob) (generation uint64, err error)

	// MakeContentWithExistingBlob binds node to an already-stored
	// ContentBlob (the dedup path), without touching the blob store.
	MakeContentWithExistingBlob(ctx context.Context, volumeID, nodeID, hash string) (generation uint64, err error)

	// MakeFileWithContent atomically creates a new file node under parent
	// and binds it to blob in one RPC (used when a client uploads
	// straight into a brand-new file rather than overwriting one).
	MakeFileWithContent(ctx context.Context, volumeID, parentID, name string, isPublic bool, blob ContentBlob) (node Node, generation uint64, err error)

	// MakeFile / MakeDir create an empty node.
	MakeFile(ctx context.Context, volumeID, parentID, name string, isPublic bool) (node Node, generation uint64, err error)
	MakeDir(ctx context.Context, volumeID, parentID, name string, isPublic bool) (node Node, generation uint64, err error)

	// Unlink removes a node (recursively, for directories).
	Unlink(ctx context.Context, volumeID, nodeID string) (generation uint64, kind NodeKind, name string, err error)

	// Move renames/reparents a node.
	Move(ctx context.Context, volumeID, nodeID, newParentID, newName string) (generation uint64, err error)

	// GetRoot returns the root node id of a user's own volume.
	GetRoot(ctx context.Context, userID string) (nodeID string, generation uint64, err error)

	// FreeBytes returns the remaining quota for a volume, charged against
	// its owner (the share owner, if volumeID belongs to a share).
	FreeBytes(ctx context.Context, volumeID string) (int64, error)

	// ShareOwner resolves the owning user of a share-backed volume, or
	// ErrNotFound if volumeID is not a share.
	ShareOwner(ctx context.Context, volumeID string) (userID string, err error)

	// GetDelta returns nodes mutated in (fromGen, endGen] up to limit
	// entries, the new high-water generation, and current free bytes.
	GetDelta(ctx context.Context, volumeID string, fromGen uint64, limit int) (deltas []VolumeDelta, endGen uint64, freeBytes int64, err error)

	// GetFromScratch returns every live node in a volume plus its current
	// generation and free bytes — used when a client has no prior delta
	// cursor to resume from.
	GetFromScratch(ctx context.Context, volumeID string) (nodes []Node, endGen uint64, freeBytes int64, err error)

	// ChangePublicAccess toggles whether node is publicly reachable,
	// returning its public URL when newly made public.
	ChangePublicAccess(ctx context.Context, volumeID, nodeID string, isPublic bool) (publicURL string, err error)

	// ListPublicFiles lists every node the user has made public.
	ListPublicFiles(ctx context.Context, userID string) ([]Node, error)
}

// User is the metadata-layer's session-relevant view of an account.
type User struct {
	ID           string
	Username     string
	RootVolumeID string
}
