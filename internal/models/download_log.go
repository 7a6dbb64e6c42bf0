package models

import (
	"time"
)

// DownloadStatus is the lifecycle state of one (entity, band) download.
type DownloadStatus string

const (
	DownloadPending DownloadStatus = "pending"
	DownloadSuccess DownloadStatus = "success"
	DownloadFailed  DownloadStatus = "failed"
	DownloadSkipped DownloadStatus = "skipped"
)

// DownloadLogEntry is the audit record for one band of one scene. Exactly one
// row exists per (entity_id, band_name) tuple; it is inserted on the first
// attempt and updated in place on every later attempt, never deleted. The
// orchestrator consults it to skip bands that already succeeded.
type DownloadLogEntry struct {
	LogID           uint           `gorm:"primaryKey" json:"log_id"`
	EntityID        string         `gorm:"not null;uniqueIndex:idx_download_log_tuple" json:"entity_id"`
	BandName        string         `gorm:"not null;uniqueIndex:idx_download_log_tuple" json:"band_name"`
	Status          DownloadStatus `gorm:"not null;default:'pending'" json:"status"`
	AttemptCount    int            `json:"attempt_count"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	FileSizeBytes   int64          `json:"file_size_bytes"`
	DownloadURL     string         `json:"download_url,omitempty"`
	DurationSeconds float64        `json:"duration_seconds"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TableName places the audit log in the bronze schema.
func (DownloadLogEntry) TableName() string {
	return "bronze.download_log"
}

// Terminal reports whether the entry can no longer change within a run.
func (e *DownloadLogEntry) Terminal() bool {
	return e.Status == DownloadSuccess || e.Status == DownloadFailed || e.Status == DownloadSkipped
}
