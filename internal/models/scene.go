package models

import (
	"time"
)

// Scene represents one satellite overpass product recorded in the bronze schema.
// A row is created on the first successful ingestion of any of its bands and is
// never mutated afterwards except to re-assert identical values.
type Scene struct {
	SceneID         uint      `gorm:"primaryKey;autoIncrement" json:"scene_id"`
	EntityID        string    `gorm:"uniqueIndex;not null" json:"entity_id"`
	DisplayID       string    `json:"display_id"`
	DatasetName     string    `json:"dataset_name"`
	Sensor          string    `gorm:"not null" json:"sensor"`
	Satellite       string    `json:"satellite"`
	AcquisitionDate time.Time `gorm:"type:date;not null" json:"acquisition_date"`
	PathRow         string    `json:"path_row"`
	CloudCover      float64   `gorm:"check:cloud_cover >= 0 AND cloud_cover <= 100" json:"cloud_cover"`
	SunAzimuth      float64   `json:"sun_azimuth"`
	SunElevation    float64   `json:"sun_elevation"`
	ProcessingLevel string    `json:"processing_level"`
	Footprint       string    `gorm:"type:geometry(Polygon,4326)" json:"footprint,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// TableName places scenes in the bronze schema.
func (Scene) TableName() string {
	return "bronze.landsat_scenes"
}

// AcquisitionYear returns the partition key for the scene's band tiles.
func (s *Scene) AcquisitionYear() int {
	return s.AcquisitionDate.Year()
}
