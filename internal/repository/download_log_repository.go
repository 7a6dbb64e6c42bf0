package repository

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"ingest-service/internal/models"
)

// DownloadLogRepository defines the per-band audit log operations. Exactly one
// row exists per (entity_id, band_name) tuple; every method updates that row
// in place.
type DownloadLogRepository interface {
	Get(entityID, bandName string) (*models.DownloadLogEntry, error)
	EnsurePending(entityID, bandName, url string) (*models.DownloadLogEntry, error)
	RecordAttempt(entityID, bandName, message string) error
	MarkSuccess(entityID, bandName string, sizeBytes int64, duration time.Duration) error
	MarkFailed(entityID, bandName, message string) error
	MarkSkipped(entityID, bandName, message string) error
	ListByStatus(status models.DownloadStatus, limit int) ([]models.DownloadLogEntry, error)
}

// DownloadLogRepositoryImpl provides methods to interact with the audit log.
type DownloadLogRepositoryImpl struct {
	db *gorm.DB
}

// NewDownloadLogRepository creates a DownloadLogRepositoryImpl with the provided GORM connection.
func NewDownloadLogRepository(db *gorm.DB) *DownloadLogRepositoryImpl {
	return &DownloadLogRepositoryImpl{db: db}
}

// Get retrieves the audit entry for a tuple. Returns (nil, nil) when no
// attempt has ever been recorded.
func (r *DownloadLogRepositoryImpl) Get(entityID, bandName string) (*models.DownloadLogEntry, error) {
	var entry models.DownloadLogEntry
	err := r.db.First(&entry, "entity_id = ? AND band_name = ?", entityID, bandName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// EnsurePending guarantees a pending row for the tuple before its first
// attempt of a run. An existing success row is returned untouched so the
// caller can skip it; failed and skipped rows from earlier runs are reset to
// pending with a fresh attempt counter.
func (r *DownloadLogRepositoryImpl) EnsurePending(entityID, bandName, url string) (*models.DownloadLogEntry, error) {
	entry, err := r.Get(entityID, bandName)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		entry = &models.DownloadLogEntry{
			EntityID:    entityID,
			BandName:    bandName,
			Status:      models.DownloadPending,
			DownloadURL: url,
		}
		if err := r.db.Create(entry).Error; err != nil {
			return nil, err
		}
		return entry, nil
	}
	if entry.Status == models.DownloadSuccess {
		return entry, nil
	}
	err = r.db.Model(entry).Updates(map[string]interface{}{
		"status":        models.DownloadPending,
		"attempt_count": 0,
		"error_message": "",
		"download_url":  url,
	}).Error
	if err != nil {
		return nil, err
	}
	entry.Status = models.DownloadPending
	entry.AttemptCount = 0
	entry.ErrorMessage = ""
	entry.DownloadURL = url
	return entry, nil
}

// RecordAttempt bumps the attempt counter and stores the most recent error.
func (r *DownloadLogRepositoryImpl) RecordAttempt(entityID, bandName, message string) error {
	return r.db.Model(&models.DownloadLogEntry{}).
		Where("entity_id = ? AND band_name = ?", entityID, bandName).
		Updates(map[string]interface{}{
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"error_message": message,
		}).Error
}

// MarkSuccess finalizes the tuple after a verified complete transfer.
func (r *DownloadLogRepositoryImpl) MarkSuccess(entityID, bandName string, sizeBytes int64, duration time.Duration) error {
	return r.db.Model(&models.DownloadLogEntry{}).
		Where("entity_id = ? AND band_name = ?", entityID, bandName).
		Updates(map[string]interface{}{
			"status":           models.DownloadSuccess,
			"file_size_bytes":  sizeBytes,
			"duration_seconds": duration.Seconds(),
			"error_message":    "",
		}).Error
}

// MarkFailed finalizes the tuple after its attempts are exhausted or a fatal
// error ends them early.
func (r *DownloadLogRepositoryImpl) MarkFailed(entityID, bandName, message string) error {
	return r.db.Model(&models.DownloadLogEntry{}).
		Where("entity_id = ? AND band_name = ?", entityID, bandName).
		Updates(map[string]interface{}{
			"status":        models.DownloadFailed,
			"error_message": message,
		}).Error
}

// MarkSkipped records that the tuple was not attempted this run, for example
// when the run was canceled before its turn. Success rows are never demoted.
func (r *DownloadLogRepositoryImpl) MarkSkipped(entityID, bandName, message string) error {
	return r.db.Model(&models.DownloadLogEntry{}).
		Where("entity_id = ? AND band_name = ? AND status <> ?", entityID, bandName, models.DownloadSuccess).
		Updates(map[string]interface{}{
			"status":        models.DownloadSkipped,
			"error_message": message,
		}).Error
}

// ListByStatus retrieves audit entries, newest first. An empty status returns
// entries in every state.
func (r *DownloadLogRepositoryImpl) ListByStatus(status models.DownloadStatus, limit int) ([]models.DownloadLogEntry, error) {
	q := r.db.Order("updated_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var entries []models.DownloadLogEntry
	err := q.Find(&entries).Error
	return entries, err
}
