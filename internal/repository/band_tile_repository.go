package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// BandTileRepository defines tile persistence around the staged-load flow.
// Tiles are never inserted row by row from Go; raster2pgsql fills a staging
// relation and MoveStagedTiles relocates the whole set.
type BandTileRepository interface {
	PartitionExists(year int) (bool, error)
	HasTiles(sceneID uint, bandName, filename string) (bool, error)
	MoveStagedTiles(staging string, sceneID uint, bandName string, year int, filename string) (int64, error)
	DropStaging(staging string) error
	BandsWithTiles(sceneID uint) ([]string, error)
	Inventory(entityID string, limit int) ([]InventoryRow, error)
}

// InventoryRow is one line of the scene_band_inventory view.
type InventoryRow struct {
	EntityID        string    `json:"entity_id"`
	DisplayID       string    `json:"display_id"`
	Sensor          string    `json:"sensor"`
	AcquisitionDate time.Time `json:"acquisition_date"`
	CloudCover      float64   `json:"cloud_cover"`
	BandName        string    `json:"band_name"`
	Year            int       `json:"year"`
	TileCount       int64     `json:"tile_count"`
	LastLoadedAt    time.Time `json:"last_loaded_at"`
	Extent          string    `json:"extent"`
}

// BandTileRepositoryImpl provides methods to interact with the partitioned tile table.
type BandTileRepositoryImpl struct {
	db *gorm.DB
}

// NewBandTileRepository creates a BandTileRepositoryImpl with the provided GORM connection.
func NewBandTileRepository(db *gorm.DB) *BandTileRepositoryImpl {
	return &BandTileRepositoryImpl{db: db}
}

// PartitionExists reports whether the per-year partition has been provisioned.
func (r *BandTileRepositoryImpl) PartitionExists(year int) (bool, error) {
	var exists bool
	err := r.db.Raw("SELECT to_regclass(?) IS NOT NULL",
		fmt.Sprintf("bronze.landsat_band_tiles_%d", year)).Scan(&exists).Error
	return exists, err
}

// HasTiles reports whether tiles from the given band file are already stored.
func (r *BandTileRepositoryImpl) HasTiles(sceneID uint, bandName, filename string) (bool, error) {
	var exists bool
	err := r.db.Raw(
		"SELECT EXISTS (SELECT 1 FROM bronze.landsat_band_tiles WHERE scene_id = ? AND band_name = ? AND filename = ?)",
		sceneID, bandName, filename,
	).Scan(&exists).Error
	return exists, err
}

// MoveStagedTiles relocates every tile from the staging relation into the
// partitioned table and drops the staging relation, all in one transaction.
// The existence check runs inside the same transaction, so a duplicate load of
// the same band file rolls back with ErrTilesExist instead of double-inserting.
// On any error the staging relation survives the rollback; the caller is
// responsible for dropping it.
func (r *BandTileRepositoryImpl) MoveStagedTiles(staging string, sceneID uint, bandName string, year int, filename string) (int64, error) {
	var moved int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var exists bool
		if err := tx.Raw(
			"SELECT EXISTS (SELECT 1 FROM bronze.landsat_band_tiles WHERE scene_id = ? AND band_name = ? AND filename = ?)",
			sceneID, bandName, filename,
		).Scan(&exists).Error; err != nil {
			return err
		}
		if exists {
			return ErrTilesExist
		}
		insert := fmt.Sprintf(
			"INSERT INTO bronze.landsat_band_tiles (scene_id, band_name, year, rast, filename) SELECT ?, ?, ?, rast, ? FROM %s",
			staging,
		)
		res := tx.Exec(insert, sceneID, bandName, year, filename)
		if res.Error != nil {
			return res.Error
		}
		moved = res.RowsAffected
		return tx.Exec("DROP TABLE " + staging).Error
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

// DropStaging removes a staging relation left behind by a failed load.
func (r *BandTileRepositoryImpl) DropStaging(staging string) error {
	return r.db.Exec("DROP TABLE IF EXISTS " + staging).Error
}

// BandsWithTiles returns the distinct band names already stored for a scene.
func (r *BandTileRepositoryImpl) BandsWithTiles(sceneID uint) ([]string, error) {
	var bands []string
	err := r.db.Raw(
		"SELECT DISTINCT band_name FROM bronze.landsat_band_tiles WHERE scene_id = ?", sceneID,
	).Scan(&bands).Error
	return bands, err
}

// Inventory reads the per-band rollup view, optionally filtered to one scene.
func (r *BandTileRepositoryImpl) Inventory(entityID string, limit int) ([]InventoryRow, error) {
	var rows []InventoryRow
	if entityID != "" {
		err := r.db.Raw(
			"SELECT * FROM bronze.scene_band_inventory WHERE entity_id = ? ORDER BY band_name", entityID,
		).Scan(&rows).Error
		return rows, err
	}
	err := r.db.Raw(
		"SELECT * FROM bronze.scene_band_inventory ORDER BY acquisition_date DESC, entity_id, band_name LIMIT ?", limit,
	).Scan(&rows).Error
	return rows, err
}
