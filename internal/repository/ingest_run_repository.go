package repository

import (
	"gorm.io/gorm"

	"ingest-service/internal/models"
)

// IngestRunRepository persists pipeline run provenance.
type IngestRunRepository interface {
	Create(run *models.IngestRun) error
	Update(run *models.IngestRun) error
	Recent(limit int) ([]models.IngestRun, error)
}

// IngestRunRepositoryImpl provides methods to interact with run records.
type IngestRunRepositoryImpl struct {
	db *gorm.DB
}

// NewIngestRunRepository creates an IngestRunRepositoryImpl with the provided GORM connection.
func NewIngestRunRepository(db *gorm.DB) *IngestRunRepositoryImpl {
	return &IngestRunRepositoryImpl{db: db}
}

// Create records the start of a run.
func (r *IngestRunRepositoryImpl) Create(run *models.IngestRun) error {
	return r.db.Create(run).Error
}

// Update writes the run's final counters and status.
func (r *IngestRunRepositoryImpl) Update(run *models.IngestRun) error {
	return r.db.Save(run).Error
}

// Recent retrieves the latest runs, newest first.
func (r *IngestRunRepositoryImpl) Recent(limit int) ([]models.IngestRun, error) {
	var runs []models.IngestRun
	err := r.db.Order("started_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}
