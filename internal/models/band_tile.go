package models

import (
	"time"
)

// BandTile is one fixed-size raster tile of a scene band. Tiles live in
// bronze.landsat_band_tiles, range-partitioned by acquisition year; the
// parent table and its partitions are created by raw DDL in the repository
// layer because GORM migrations cannot express declarative partitioning.
// Rows are written set-orientedly from a staging relation and are immutable.
type BandTile struct {
	TileID   uint      `gorm:"primaryKey" json:"tile_id"`
	SceneID  uint      `gorm:"not null" json:"scene_id"`
	BandName string    `gorm:"not null" json:"band_name"`
	Year     int       `gorm:"not null" json:"year"`
	Rast     []byte    `gorm:"type:raster" json:"-"`
	Filename string    `gorm:"not null" json:"filename"`
	LoadedAt time.Time `json:"loaded_at"`
}

// TableName points at the partitioned parent table.
func (BandTile) TableName() string {
	return "bronze.landsat_band_tiles"
}
