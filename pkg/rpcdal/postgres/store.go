// Package postgres is a PostgreSQL-backed reference implementation of
// rpcdal.RpcDal, letting the transfer engine be exercised end-to-end in
// integration tests without a real metadata service, mirroring the
// teacher's pkg/controlplane/store.GORMStore pattern of a gorm.DB wrapped
// in one struct per backend. pkg/rpcdal/fake is the in-memory twin used
// by unit tests; this package is the one testcontainers-go integration
// tests exercise against a real postgres:16-alpine container.
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/syncore/coreserver/pkg/rpcdal"
)

// forUpdate applies a `FOR UPDATE` row lock to the query it's chained
// onto, serializing concurrent mutations of the same node the way
// spec.md §5 requires ("metadata mutations go through RPC which
// serialises per-node").
var forUpdate = clause.Locking{Strength: "UPDATE"}

// Store is a gorm.DB-backed rpcdal.RpcDal.
type Store struct {
	db *gorm.DB
}

// New opens a connection pool against cfg's database and returns a Store.
// It does not run migrations; call RunMigrations (or `synccore migrate`)
// first, matching the teacher's separation of schema migration from
// store construction.
func New(cfg Config) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rpcdal/postgres: invalid config: %w", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("rpcdal/postgres: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("rpcdal/postgres: underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)

	return &Store{db: db}, nil
}

// HealthCheck verifies the pool can still reach the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toDomainNode(r nodeRow) rpcdal.Node {
	return rpcdal.Node{
		ID:           r.ID,
		VolumeID:     r.VolumeID,
		Kind:         rpcdal.NodeKind(r.Kind),
		Name:         r.Name,
		ParentID:     r.ParentID,
		ContentHash:  r.ContentHash,
		CRC32:        r.CRC32,
		Size:         r.Size,
		DeflatedSize: r.DeflatedSize,
		StorageKey:   r.StorageKey,
		Generation:   r.Generation,
		IsPublic:     r.IsPublic,
	}
}

func toDomainBlob(r contentBlobRow) rpcdal.ContentBlob {
	return rpcdal.ContentBlob{
		Hash:         r.Hash,
		MagicHash:    r.MagicHash,
		CRC32:        r.CRC32,
		Size:         r.Size,
		DeflatedSize: r.DeflatedSize,
		StorageKey:   r.StorageKey,
	}
}

func (s *Store) GetUser(ctx context.Context, userID string) (rpcdal.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", userID).Error; err != nil {
		return rpcdal.User{}, mapErr(err)
	}
	return rpcdal.User{ID: row.ID, Username: row.Username, RootVolumeID: row.RootVolumeID}, nil
}

func (s *Store) GetNode(ctx context.Context, volumeID, nodeID string) (rpcdal.Node, error) {
	var row nodeRow
	if err := s.db.WithContext(ctx).First(&row, "volume_id = ? AND id = ?", volumeID, nodeID).Error; err != nil {
		return rpcdal.Node{}, mapErr(err)
	}
	return toDomainNode(row), nil
}

func (s *Store) GetVolumeID(ctx context.Context, nodeID string) (string, error) {
	var row nodeRow
	if err := s.db.WithContext(ctx).Select("volume_id").First(&row, "id = ?", nodeID).Error; err != nil {
		return "", mapErr(err)
	}
	return row.VolumeID, nil
}

func (s *Store) FindContentBlob(ctx context.Context, hash string) (rpcdal.ContentBlob, error) {
	var row contentBlobRow
	if err := s.db.WithContext(ctx).First(&row, "hash = ?", hash).Error; err != nil {
		return rpcdal.ContentBlob{}, mapErr(err)
	}
	return toDomainBlob(row), nil
}

func (s *Store) UserOwnsHash(ctx context.Context, userID, contentHash string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&contentOwnershipRow{}).
		Where("user_id = ? AND content_hash = ?", userID, contentHash).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ownerOf resolves the userID whose quota and dedup-ownership set a
// volume's mutations are charged against: the share owner for share
// volumes, else the volume's own owner_user_id.
func ownerOf(tx *gorm.DB, volumeID string) (string, error) {
	var vol volumeRow
	if err := tx.First(&vol, "id = ?", volumeID).Error; err != nil {
		return "", mapErr(err)
	}
	return vol.OwnerUserID, nil
}

func markOwned(tx *gorm.DB, userID, hash string) error {
	if userID == "" {
		return nil
	}
	return tx.Exec(
		`INSERT INTO content_ownership (user_id, content_hash) VALUES (?, ?)
		 ON CONFLICT (user_id, content_hash) DO NOTHING`,
		userID, hash,
	).Error
}

func bumpGeneration(tx *gorm.DB, volumeID string) (uint64, error) {
	var gen uint64
	err := tx.Raw(
		`UPDATE volumes SET generation = generation + 1 WHERE id = ? RETURNING generation`,
		volumeID,
	).Scan(&gen).Error
	return gen, err
}

func recordDelta(tx *gorm.DB, volumeID string, n nodeRow, tombstone bool) error {
	return tx.Create(&volumeDeltaRow{
		VolumeID: volumeID, Generation: n.Generation, NodeID: n.ID, Tombstone: tombstone,
		Kind: n.Kind, Name: n.Name, ParentID: n.ParentID, ContentHash: n.ContentHash,
		CRC32: n.CRC32, Size: n.Size, DeflatedSize: n.DeflatedSize,
		StorageKey: n.StorageKey, IsPublic: n.IsPublic,
	}).Error
}

func (s *Store) MakeContent(ctx context.Context, volumeID, nodeID string, blob rpcdal.ContentBlob) (uint64, error) {
	var gen uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row nodeRow
		if err := tx.Clauses(forUpdate).First(&row, "volume_id = ? AND id = ?", volumeID, nodeID).Error; err != nil {
			return mapErr(err)
		}

		if err := tx.Save(&contentBlobRow{
			Hash: blob.Hash, MagicHash: blob.MagicHash, CRC32: blob.CRC32,
			Size: blob.Size, DeflatedSize: blob.DeflatedSize, StorageKey: blob.StorageKey,
		}).Error; err != nil {
			return err
		}

		owner, err := ownerOf(tx, volumeID)
		if err != nil {
			return err
		}
		if err := markOwned(tx, owner, blob.Hash); err != nil {
			return err
		}

		row.ContentHash, row.CRC32, row.Size, row.DeflatedSize, row.StorageKey =
			blob.Hash, blob.CRC32, blob.Size, blob.DeflatedSize, blob.StorageKey

		g, err := bumpGeneration(tx, volumeID)
		if err != nil {
			return err
		}
		row.Generation = g
		gen = g

		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		return recordDelta(tx, volumeID, row, false)
	})
	return gen, err
}

func (s *Store) MakeContentWithExistingBlob(ctx context.Context, volumeID, nodeID, hash string) (uint64, error) {
	var gen uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row nodeRow
		if err := tx.Clauses(forUpdate).First(&row, "volume_id = ? AND id = ?", volumeID, nodeID).Error; err != nil {
			return mapErr(err)
		}
		var blob contentBlobRow
		if err := tx.First(&blob, "hash = ?", hash).Error; err != nil {
			return mapErr(err)
		}

		owner, err := ownerOf(tx, volumeID)
		if err != nil {
			return err
		}
		if err := markOwned(tx, owner, hash); err != nil {
			return err
		}

		row.ContentHash, row.CRC32, row.Size, row.DeflatedSize, row.StorageKey =
			blob.Hash, blob.CRC32, blob.Size, blob.DeflatedSize, blob.StorageKey

		g, err := bumpGeneration(tx, volumeID)
		if err != nil {
			return err
		}
		row.Generation = g
		gen = g

		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		return recordDelta(tx, volumeID, row, false)
	})
	return gen, err
}

func (s *Store) MakeFileWithContent(ctx context.Context, volumeID, parentID, name string, isPublic bool, blob rpcdal.ContentBlob) (rpcdal.Node, uint64, error) {
	var out rpcdal.Node
	var gen uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&contentBlobRow{
			Hash: blob.Hash, MagicHash: blob.MagicHash, CRC32: blob.CRC32,
			Size: blob.Size, DeflatedSize: blob.DeflatedSize, StorageKey: blob.StorageKey,
		}).Error; err != nil {
			return err
		}

		owner, err := ownerOf(tx, volumeID)
		if err != nil {
			return err
		}
		if err := markOwned(tx, owner, blob.Hash); err != nil {
			return err
		}

		g, err := bumpGeneration(tx, volumeID)
		if err != nil {
			return err
		}

		row := nodeRow{
			ID: uuid.NewString(), VolumeID: volumeID, ParentID: parentID,
			Kind: string(rpcdal.KindFile), Name: name, IsPublic: isPublic,
			ContentHash: blob.Hash, CRC32: blob.CRC32, Size: blob.Size,
			DeflatedSize: blob.DeflatedSize, StorageKey: blob.StorageKey,
			Generation: g,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if err := recordDelta(tx, volumeID, row, false); err != nil {
			return err
		}
		out = toDomainNode(row)
		gen = g
		return nil
	})
	return out, gen, err
}

func (s *Store) makeEmpty(ctx context.Context, volumeID, parentID, name string, isPublic bool, kind rpcdal.NodeKind) (rpcdal.Node, uint64, error) {
	var out rpcdal.Node
	var gen uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if parentID != "" {
			var parent nodeRow
			if err := tx.First(&parent, "volume_id = ? AND id = ?", volumeID, parentID).Error; err != nil {
				return mapErr(err)
			}
			if parent.Kind != string(rpcdal.KindDir) {
				return rpcdal.ErrNotFound
			}
		}

		g, err := bumpGeneration(tx, volumeID)
		if err != nil {
			return err
		}

		row := nodeRow{
			ID: uuid.NewString(), VolumeID: volumeID, ParentID: parentID,
			Kind: string(kind), Name: name, IsPublic: isPublic,
			ContentHash: rpcdal.EmptyHash, Generation: g,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if err := recordDelta(tx, volumeID, row, false); err != nil {
			return err
		}
		out = toDomainNode(row)
		gen = g
		return nil
	})
	return out, gen, err
}

func (s *Store) MakeFile(ctx context.Context, volumeID, parentID, name string, isPublic bool) (rpcdal.Node, uint64, error) {
	return s.makeEmpty(ctx, volumeID, parentID, name, isPublic, rpcdal.KindFile)
}

func (s *Store) MakeDir(ctx context.Context, volumeID, parentID, name string, isPublic bool) (rpcdal.Node, uint64, error) {
	return s.makeEmpty(ctx, volumeID, parentID, name, isPublic, rpcdal.KindDir)
}

func (s *Store) Unlink(ctx context.Context, volumeID, nodeID string) (uint64, rpcdal.NodeKind, string, error) {
	var gen uint64
	var kind rpcdal.NodeKind
	var name string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row nodeRow
		if err := tx.Clauses(forUpdate).First(&row, "volume_id = ? AND id = ?", volumeID, nodeID).Error; err != nil {
			return mapErr(err)
		}

		if row.Kind == string(rpcdal.KindDir) {
			var children []nodeRow
			if err := tx.Where("volume_id = ? AND parent_id = ?", volumeID, nodeID).Find(&children).Error; err != nil {
				return err
			}
			for _, child := range children {
				if err := tx.Delete(&nodeRow{}, "volume_id = ? AND id = ?", volumeID, child.ID).Error; err != nil {
					return err
				}
				if err := recordDelta(tx, volumeID, child, true); err != nil {
					return err
				}
			}
		}

		if err := tx.Delete(&nodeRow{}, "volume_id = ? AND id = ?", volumeID, nodeID).Error; err != nil {
			return err
		}

		g, err := bumpGeneration(tx, volumeID)
		if err != nil {
			return err
		}
		row.Generation = g
		gen, kind, name = g, rpcdal.NodeKind(row.Kind), row.Name
		return recordDelta(tx, volumeID, row, true)
	})
	return gen, kind, name, err
}

func (s *Store) Move(ctx context.Context, volumeID, nodeID, newParentID, newName string) (uint64, error) {
	var gen uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row nodeRow
		if err := tx.Clauses(forUpdate).First(&row, "volume_id = ? AND id = ?", volumeID, nodeID).Error; err != nil {
			return mapErr(err)
		}
		row.ParentID = newParentID
		row.Name = newName

		g, err := bumpGeneration(tx, volumeID)
		if err != nil {
			return err
		}
		row.Generation = g
		gen = g

		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		return recordDelta(tx, volumeID, row, false)
	})
	return gen, err
}

func (s *Store) GetRoot(ctx context.Context, userID string) (string, uint64, error) {
	var user userRow
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return "", 0, mapErr(err)
	}
	var root nodeRow
	err := s.db.WithContext(ctx).
		Where("volume_id = ? AND parent_id = ?", user.RootVolumeID, "").
		First(&root).Error
	if err != nil {
		return "", 0, mapErr(err)
	}
	var vol volumeRow
	if err := s.db.WithContext(ctx).First(&vol, "id = ?", user.RootVolumeID).Error; err != nil {
		return "", 0, mapErr(err)
	}
	return root.ID, vol.Generation, nil
}

func (s *Store) FreeBytes(ctx context.Context, volumeID string) (int64, error) {
	var vol volumeRow
	if err := s.db.WithContext(ctx).First(&vol, "id = ?", volumeID).Error; err != nil {
		return 0, mapErr(err)
	}
	return vol.FreeBytes, nil
}

func (s *Store) ShareOwner(ctx context.Context, volumeID string) (string, error) {
	var vol volumeRow
	if err := s.db.WithContext(ctx).First(&vol, "id = ?", volumeID).Error; err != nil {
		return "", mapErr(err)
	}
	if !vol.IsShare {
		return "", rpcdal.ErrNotFound
	}
	return vol.OwnerUserID, nil
}

func (s *Store) GetDelta(ctx context.Context, volumeID string, fromGen uint64, limit int) ([]rpcdal.VolumeDelta, uint64, int64, error) {
	q := s.db.WithContext(ctx).
		Where("volume_id = ? AND generation > ?", volumeID, fromGen).
		Order("generation ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []volumeDeltaRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, 0, err
	}

	var vol volumeRow
	if err := s.db.WithContext(ctx).First(&vol, "id = ?", volumeID).Error; err != nil {
		return nil, 0, 0, mapErr(err)
	}

	endGen := vol.Generation
	if len(rows) > 0 && limit > 0 && len(rows) >= limit {
		endGen = rows[len(rows)-1].Generation
	}

	out := make([]rpcdal.VolumeDelta, 0, len(rows))
	for _, r := range rows {
		out = append(out, rpcdal.VolumeDelta{
			Tombstone: r.Tombstone,
			Node: rpcdal.Node{
				ID: r.NodeID, VolumeID: volumeID, Kind: rpcdal.NodeKind(r.Kind),
				Name: r.Name, ParentID: r.ParentID, ContentHash: r.ContentHash,
				CRC32: r.CRC32, Size: r.Size, DeflatedSize: r.DeflatedSize,
				StorageKey: r.StorageKey, Generation: r.Generation, IsPublic: r.IsPublic,
			},
		})
	}
	return out, endGen, vol.FreeBytes, nil
}

func (s *Store) GetFromScratch(ctx context.Context, volumeID string) ([]rpcdal.Node, uint64, int64, error) {
	var rows []nodeRow
	if err := s.db.WithContext(ctx).Where("volume_id = ?", volumeID).Find(&rows).Error; err != nil {
		return nil, 0, 0, err
	}
	var vol volumeRow
	if err := s.db.WithContext(ctx).First(&vol, "id = ?", volumeID).Error; err != nil {
		return nil, 0, 0, mapErr(err)
	}
	out := make([]rpcdal.Node, 0, len(rows))
	for _, r := range rows {
		out = append(out, toDomainNode(r))
	}
	return out, vol.Generation, vol.FreeBytes, nil
}

func (s *Store) ChangePublicAccess(ctx context.Context, volumeID, nodeID string, isPublic bool) (string, error) {
	res := s.db.WithContext(ctx).Model(&nodeRow{}).
		Where("volume_id = ? AND id = ?", volumeID, nodeID).
		Update("is_public", isPublic)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", rpcdal.ErrNotFound
	}
	if !isPublic {
		return "", nil
	}
	return "https://files.example/" + nodeID, nil
}

func (s *Store) ListPublicFiles(ctx context.Context, userID string) ([]rpcdal.Node, error) {
	var user userRow
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return nil, mapErr(err)
	}
	var rows []nodeRow
	err := s.db.WithContext(ctx).
		Where("volume_id = ? AND is_public = ?", user.RootVolumeID, true).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]rpcdal.Node, 0, len(rows))
	for _, r := range rows {
		out = append(out, toDomainNode(r))
	}
	return out, nil
}

var _ rpcdal.RpcDal = (*Store)(nil)
