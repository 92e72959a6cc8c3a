// Package fake is an in-memory RpcDal used by pkg/transfer and pkg/session
// tests in place of a real metadata service, mirroring the role
// make_test_storage_users.py plays in the original Python test suite:
// provisioning users, volumes, and quota without a database.
package fake

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/syncore/coreserver/pkg/rpcdal"
)

// DAL is a single-process, mutex-guarded RpcDal. Generations are tracked
// per volume starting at 0; every mutation increments and returns the new
// value, matching the strictly-monotonic contract in spec.md §3.
type DAL struct {
	mu sync.Mutex

	users   map[string]rpcdal.User
	nodes   map[string]rpcdal.Node // key: volumeID + "/" + nodeID
	blobs   map[string]rpcdal.ContentBlob
	owned   map[string]map[string]bool // userID -> set of contentHash it owns
	shares  map[string]string          // volumeID -> owning userID, for share volumes
	freeB   map[string]int64           // volumeID -> free bytes (root volumes keyed by own id)
	gens    map[string]uint64          // volumeID -> current generation
	history map[string][]rpcdal.VolumeDelta
}

// New builds an empty fake DAL.
func New() *DAL {
	return &DAL{
		users:   make(map[string]rpcdal.User),
		nodes:   make(map[string]rpcdal.Node),
		blobs:   make(map[string]rpcdal.ContentBlob),
		owned:   make(map[string]map[string]bool),
		shares:  make(map[string]string),
		freeB:   make(map[string]int64),
		gens:    make(map[string]uint64),
		history: make(map[string][]rpcdal.VolumeDelta),
	}
}

func nodeKey(volumeID, nodeID string) string { return volumeID + "/" + nodeID }

// AddUser provisions a user with a fresh root volume and directory, and a
// quota of freeBytes. Returns the user and root node id.
func (d *DAL) AddUser(username string, freeBytes int64) (rpcdal.User, string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	userID := uuid.NewString()
	volumeID := uuid.NewString()
	rootID := uuid.NewString()

	u := rpcdal.User{ID: userID, Username: username, RootVolumeID: volumeID}
	d.users[userID] = u
	d.freeB[volumeID] = freeBytes
	d.gens[volumeID] = 0
	d.nodes[nodeKey(volumeID, rootID)] = rpcdal.Node{
		ID: rootID, VolumeID: volumeID, Kind: rpcdal.KindDir,
		Name: "/", ContentHash: rpcdal.EmptyHash,
	}
	return u, rootID
}

// AddDir / AddFile insert a node directly, bypassing MakeFile/MakeDir, for
// test setup that needs a pre-existing tree shape.
func (d *DAL) AddDir(volumeID, parentID, name string) rpcdal.Node {
	return d.addNode(volumeID, parentID, name, rpcdal.KindDir, false)
}

func (d *DAL) AddFile(volumeID, parentID, name string) rpcdal.Node {
	return d.addNode(volumeID, parentID, name, rpcdal.KindFile, false)
}

func (d *DAL) addNode(volumeID, parentID, name string, kind rpcdal.NodeKind, isPublic bool) rpcdal.Node {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := rpcdal.Node{
		ID: uuid.NewString(), VolumeID: volumeID, Kind: kind,
		Name: name, ParentID: parentID, ContentHash: rpcdal.EmptyHash,
		IsPublic: isPublic,
	}
	d.nodes[nodeKey(volumeID, n.ID)] = n
	return n
}

// SetShareOwner marks volumeID as a share volume owned by userID.
func (d *DAL) SetShareOwner(volumeID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shares[volumeID] = userID
}

func (d *DAL) bump(volumeID string) uint64 {
	d.gens[volumeID]++
	return d.gens[volumeID]
}

func (d *DAL) recordDelta(volumeID string, n rpcdal.Node, tombstone bool) {
	d.history[volumeID] = append(d.history[volumeID], rpcdal.VolumeDelta{Node: n, Tombstone: tombstone})
}

func (d *DAL) GetUser(_ context.Context, userID string) (rpcdal.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return rpcdal.User{}, rpcdal.ErrNotFound
	}
	return u, nil
}

func (d *DAL) GetNode(_ context.Context, volumeID, nodeID string) (rpcdal.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[nodeKey(volumeID, nodeID)]
	if !ok {
		return rpcdal.Node{}, rpcdal.ErrNotFound
	}
	return n, nil
}

func (d *DAL) GetVolumeID(_ context.Context, nodeID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range d.nodes {
		if n.ID == nodeID {
			return n.VolumeID, nil
		}
	}
	return "", rpcdal.ErrNotFound
}

func (d *DAL) FindContentBlob(_ context.Context, hash string) (rpcdal.ContentBlob, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.blobs[hash]
	if !ok {
		return rpcdal.ContentBlob{}, rpcdal.ErrNotFound
	}
	return b, nil
}

func (d *DAL) UserOwnsHash(_ context.Context, userID, contentHash string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.owned[userID][contentHash], nil
}

func (d *DAL) markOwned(userID, hash string) {
	set, ok := d.owned[userID]
	if !ok {
		set = make(map[string]bool)
		d.owned[userID] = set
	}
	set[hash] = true
}

// ownerOf returns the userID that should be credited with ownership of a
// node's volume — the share owner for share volumes, else the volume's
// own root owner (found by scanning users, as this fixture has no
// volume->user index beyond root volumes).
func (d *DAL) ownerOf(volumeID string) string {
	if owner, ok := d.shares[volumeID]; ok {
		return owner
	}
	for _, u := range d.users {
		if u.RootVolumeID == volumeID {
			return u.ID
		}
	}
	return ""
}

func (d *DAL) MakeContent(_ context.Context, volumeID, nodeID string, blob rpcdal.ContentBlob) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := nodeKey(volumeID, nodeID)
	n, ok := d.nodes[key]
	if !ok {
		return 0, rpcdal.ErrNotFound
	}

	d.blobs[blob.Hash] = blob
	if owner := d.ownerOf(volumeID); owner != "" {
		d.markOwned(owner, blob.Hash)
	}

	n.ContentHash = blob.Hash
	n.CRC32 = blob.CRC32
	n.Size = blob.Size
	n.DeflatedSize = blob.DeflatedSize
	n.StorageKey = blob.StorageKey
	n.Generation = d.bump(volumeID)
	d.nodes[key] = n
	d.recordDelta(volumeID, n, false)
	return n.Generation, nil
}

func (d *DAL) MakeContentWithExistingBlob(_ context.Context, volumeID, nodeID, hash string) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := nodeKey(volumeID, nodeID)
	n, ok := d.nodes[key]
	if !ok {
		return 0, rpcdal.ErrNotFound
	}
	blob, ok := d.blobs[hash]
	if !ok {
		return 0, rpcdal.ErrNotFound
	}

	if owner := d.ownerOf(volumeID); owner != "" {
		d.markOwned(owner, hash)
	}

	n.ContentHash = blob.Hash
	n.CRC32 = blob.CRC32
	n.Size = blob.Size
	n.DeflatedSize = blob.DeflatedSize
	n.StorageKey = blob.StorageKey
	n.Generation = d.bump(volumeID)
	d.nodes[key] = n
	d.recordDelta(volumeID, n, false)
	return n.Generation, nil
}

func (d *DAL) MakeFileWithContent(_ context.Context, volumeID, parentID, name string, isPublic bool, blob rpcdal.ContentBlob) (rpcdal.Node, uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.blobs[blob.Hash] = blob
	if owner := d.ownerOf(volumeID); owner != "" {
		d.markOwned(owner, blob.Hash)
	}

	n := rpcdal.Node{
		ID: uuid.NewString(), VolumeID: volumeID, Kind: rpcdal.KindFile,
		Name: name, ParentID: parentID, IsPublic: isPublic,
		ContentHash: blob.Hash, CRC32: blob.CRC32, Size: blob.Size,
		DeflatedSize: blob.DeflatedSize, StorageKey: blob.StorageKey,
	}
	n.Generation = d.bump(volumeID)
	d.nodes[nodeKey(volumeID, n.ID)] = n
	d.recordDelta(volumeID, n, false)
	return n, n.Generation, nil
}

func (d *DAL) MakeFile(_ context.Context, volumeID, parentID, name string, isPublic bool) (rpcdal.Node, uint64, error) {
	return d.makeEmpty(volumeID, parentID, name, isPublic, rpcdal.KindFile)
}

func (d *DAL) MakeDir(_ context.Context, volumeID, parentID, name string, isPublic bool) (rpcdal.Node, uint64, error) {
	return d.makeEmpty(volumeID, parentID, name, isPublic, rpcdal.KindDir)
}

func (d *DAL) makeEmpty(volumeID, parentID, name string, isPublic bool, kind rpcdal.NodeKind) (rpcdal.Node, uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if parentID != "" {
		parent, ok := d.nodes[nodeKey(volumeID, parentID)]
		if !ok {
			return rpcdal.Node{}, 0, rpcdal.ErrNotFound
		}
		if parent.Kind != rpcdal.KindDir {
			return rpcdal.Node{}, 0, rpcdal.ErrNotFound
		}
	}

	n := rpcdal.Node{
		ID: uuid.NewString(), VolumeID: volumeID, Kind: kind,
		Name: name, ParentID: parentID, IsPublic: isPublic,
		ContentHash: rpcdal.EmptyHash,
	}
	n.Generation = d.bump(volumeID)
	d.nodes[nodeKey(volumeID, n.ID)] = n
	d.recordDelta(volumeID, n, false)
	return n, n.Generation, nil
}

func (d *DAL) Unlink(_ context.Context, volumeID, nodeID string) (uint64, rpcdal.NodeKind, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := nodeKey(volumeID, nodeID)
	n, ok := d.nodes[key]
	if !ok {
		return 0, "", "", rpcdal.ErrNotFound
	}

	if n.Kind == rpcdal.KindDir {
		for k, child := range d.nodes {
			if child.VolumeID == volumeID && child.ParentID == nodeID {
				delete(d.nodes, k)
				d.recordDelta(volumeID, child, true)
			}
		}
	}
	delete(d.nodes, key)

	gen := d.bump(volumeID)
	n.Generation = gen
	d.recordDelta(volumeID, n, true)
	return gen, n.Kind, n.Name, nil
}

func (d *DAL) Move(_ context.Context, volumeID, nodeID, newParentID, newName string) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := nodeKey(volumeID, nodeID)
	n, ok := d.nodes[key]
	if !ok {
		return 0, rpcdal.ErrNotFound
	}
	n.ParentID = newParentID
	n.Name = newName
	n.Generation = d.bump(volumeID)
	d.nodes[key] = n
	d.recordDelta(volumeID, n, false)
	return n.Generation, nil
}

func (d *DAL) GetRoot(_ context.Context, userID string) (string, uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[userID]
	if !ok {
		return "", 0, rpcdal.ErrNotFound
	}
	for _, n := range d.nodes {
		if n.VolumeID == u.RootVolumeID && n.ParentID == "" {
			return n.ID, d.gens[u.RootVolumeID], nil
		}
	}
	return "", 0, rpcdal.ErrNotFound
}

func (d *DAL) FreeBytes(_ context.Context, volumeID string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.freeB[volumeID]
	if !ok {
		return 0, rpcdal.ErrNotFound
	}
	return b, nil
}

// SetFreeBytes lets tests adjust quota directly.
func (d *DAL) SetFreeBytes(volumeID string, b int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freeB[volumeID] = b
}

func (d *DAL) ShareOwner(_ context.Context, volumeID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	owner, ok := d.shares[volumeID]
	if !ok {
		return "", rpcdal.ErrNotFound
	}
	return owner, nil
}

func (d *DAL) GetDelta(_ context.Context, volumeID string, fromGen uint64, limit int) ([]rpcdal.VolumeDelta, uint64, int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []rpcdal.VolumeDelta
	for _, delta := range d.history[volumeID] {
		if delta.Node.Generation > fromGen {
			out = append(out, delta)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	endGen := fromGen
	if len(out) > 0 {
		endGen = out[len(out)-1].Node.Generation
	} else {
		endGen = d.gens[volumeID]
	}
	return out, endGen, d.freeB[volumeID], nil
}

func (d *DAL) GetFromScratch(_ context.Context, volumeID string) ([]rpcdal.Node, uint64, int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []rpcdal.Node
	for _, n := range d.nodes {
		if n.VolumeID == volumeID {
			out = append(out, n)
		}
	}
	return out, d.gens[volumeID], d.freeB[volumeID], nil
}

func (d *DAL) ChangePublicAccess(_ context.Context, volumeID, nodeID string, isPublic bool) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := nodeKey(volumeID, nodeID)
	n, ok := d.nodes[key]
	if !ok {
		return "", rpcdal.ErrNotFound
	}
	n.IsPublic = isPublic
	d.nodes[key] = n
	if isPublic {
		return "https://files.example/" + n.ID, nil
	}
	return "", nil
}

func (d *DAL) ListPublicFiles(_ context.Context, userID string) ([]rpcdal.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[userID]
	if !ok {
		return nil, rpcdal.ErrNotFound
	}
	var out []rpcdal.Node
	for _, n := range d.nodes {
		if n.VolumeID == u.RootVolumeID && n.IsPublic {
			out = append(out, n)
		}
	}
	return out, nil
}

var _ rpcdal.RpcDal = (*DAL)(nil)
