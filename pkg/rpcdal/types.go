// Package rpcdal defines the external metadata RPC contract (RpcDal) the
// transfer engine calls out to for everything it does not own itself:
// node/volume/share records, content blob binding, quota, and generation
// bookkeeping. The engine treats these as opaque RPCs; pkg/rpcdal/postgres
// and pkg/rpcdal/fake are two interchangeable implementations of the same
// interface, mirroring the teacher's controlplane store.Config-selected
// backend pattern.
package rpcdal

// EmptyHash is the content hash carried by a node with no content.
const EmptyHash = "sha1:da39a3ee5e6b4b0d3255bfef95601890afd80709"

// NodeKind distinguishes files from directories.
type NodeKind string

const (
	KindFile NodeKind = "FILE"
	KindDir  NodeKind = "DIRECTORY"
)

// Node is the metadata layer's view of a file or directory; the transfer
// engine treats it as an immutable value fetched per-operation.
type Node struct {
	ID           string
	VolumeID     string
	Kind         NodeKind
	Name         string
	ParentID     string
	ContentHash  string // EmptyHash if no content
	CRC32        uint32
	Size         uint64
	DeflatedSize uint64
	StorageKey   string // absent (empty) if no content
	Generation   uint64
	IsPublic     bool
}

// HasContent reports whether the node currently points at a content blob.
func (n Node) HasContent() bool {
	return n.ContentHash != "" && n.ContentHash != EmptyHash
}

// ContentBlob is a row in the content-addressed blob table, keyed by hash.
type ContentBlob struct {
	Hash         string
	MagicHash    string // optional; enables cross-user dedup when set
	CRC32        uint32
	Size         uint64
	DeflatedSize uint64
	StorageKey   string
}

// VolumeDelta is one mutated node surfaced by GetDelta/GetFromScratch.
type VolumeDelta struct {
	Node      Node
	Tombstone bool // true if the node was deleted since from_gen
}
