package postgres

// Row types for the reference schema migrated by pkg/rpcdal/postgres's
// embedded migrations. These mirror rpcdal.User/Node/ContentBlob one for
// one; the postgres-specific fields (generation bookkeeping, ownership,
// delta history) that the RpcDal interface doesn't expose directly live
// only here, the way the teacher's controlplane/models package keeps
// GORM row shapes separate from its public domain types.

// userRow is the users table.
type userRow struct {
	ID           string `gorm:"column:id;primaryKey"`
	Username     string `gorm:"column:username"`
	RootVolumeID string `gorm:"column:root_volume_id"`
}

func (userRow) TableName() string { return "users" }

// volumeRow is the volumes table: one row per user root volume or share.
type volumeRow struct {
	ID          string `gorm:"column:id;primaryKey"`
	OwnerUserID string `gorm:"column:owner_user_id"`
	Generation  uint64 `gorm:"column:generation"`
	FreeBytes   int64  `gorm:"column:free_bytes"`
	IsShare     bool   `gorm:"column:is_share"`
}

func (volumeRow) TableName() string { return "volumes" }

// nodeRow is the nodes table.
type nodeRow struct {
	ID           string `gorm:"column:id;primaryKey"`
	VolumeID     string `gorm:"column:volume_id"`
	ParentID     string `gorm:"column:parent_id"`
	Kind         string `gorm:"column:kind"`
	Name         string `gorm:"column:name"`
	ContentHash  string `gorm:"column:content_hash"`
	CRC32        uint32 `gorm:"column:crc32"`
	Size         uint64 `gorm:"column:size"`
	DeflatedSize uint64 `gorm:"column:deflated_size"`
	StorageKey   string `gorm:"column:storage_key"`
	IsPublic     bool   `gorm:"column:is_public"`
	Generation   uint64 `gorm:"column:generation"`
}

func (nodeRow) TableName() string { return "nodes" }

// contentBlobRow is the content_blobs table, keyed by content hash.
type contentBlobRow struct {
	Hash         string `gorm:"column:hash;primaryKey"`
	MagicHash    string `gorm:"column:magic_hash"`
	CRC32        uint32 `gorm:"column:crc32"`
	Size         uint64 `gorm:"column:size"`
	DeflatedSize uint64 `gorm:"column:deflated_size"`
	StorageKey   string `gorm:"column:storage_key"`
}

func (contentBlobRow) TableName() string { return "content_blobs" }

// contentOwnershipRow records that userID has, at some point, committed a
// node pointing at contentHash — the dedup ownership proof spec.md §3
// requires for blobs without a magic hash.
type contentOwnershipRow struct {
	UserID      string `gorm:"column:user_id;primaryKey"`
	ContentHash string `gorm:"column:content_hash;primaryKey"`
}

func (contentOwnershipRow) TableName() string { return "content_ownership" }

// volumeDeltaRow is one entry in a volume's mutation history, consumed by
// GetDelta/GetFromScratch.
type volumeDeltaRow struct {
	ID           int64  `gorm:"column:id;primaryKey;autoIncrement"`
	VolumeID     string `gorm:"column:volume_id"`
	Generation   uint64 `gorm:"column:generation"`
	NodeID       string `gorm:"column:node_id"`
	Tombstone    bool   `gorm:"column:tombstone"`
	Kind         string `gorm:"column:kind"`
	Name         string `gorm:"column:name"`
	ParentID     string `gorm:"column:parent_id"`
	ContentHash  string `gorm:"column:content_hash"`
	CRC32        uint32 `gorm:"column:crc32"`
	Size         uint64 `gorm:"column:size"`
	DeflatedSize uint64 `gorm:"column:deflated_size"`
	StorageKey   string `gorm:"column:storage_key"`
	IsPublic     bool   `gorm:"column:is_public"`
}

func (volumeDeltaRow) TableName() string { return "volume_deltas" }
