package repository

import (
	"gorm.io/gorm"

	"ingest-service/internal/models"
)

// SensorBandRepository reads the seeded band role reference data.
type SensorBandRepository interface {
	All() ([]models.SensorBandConfig, error)
}

// SensorBandRepositoryImpl provides read access to sensor band configurations.
type SensorBandRepositoryImpl struct {
	db *gorm.DB
}

// NewSensorBandRepository creates a SensorBandRepositoryImpl with the provided GORM connection.
func NewSensorBandRepository(db *gorm.DB) *SensorBandRepositoryImpl {
	return &SensorBandRepositoryImpl{db: db}
}

// All returns every sensor band configuration row.
func (r *SensorBandRepositoryImpl) All() ([]models.SensorBandConfig, error) {
	var configs []models.SensorBandConfig
	err := r.db.Order("sensor, valid_from").Find(&configs).Error
	return configs, err
}
