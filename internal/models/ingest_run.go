package models

import (
	"time"

	"github.com/google/uuid"
)

// Run outcome states. A degraded run finished but ingested nothing despite
// finding candidates; an aborted run hit a run-level failure such as a
// rejected login. Running marks a row whose process has not reported back
// yet, which after a crash is exactly what an operator wants to see.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunDegraded  = "degraded"
	RunAborted   = "aborted"
)

// IngestRun records the provenance of one pipeline execution.
type IngestRun struct {
	RunID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"run_id"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	ScenesFound      int        `json:"scenes_found"`
	ScenesIngested   int        `json:"scenes_ingested"`
	BandsSucceeded   int        `json:"bands_succeeded"`
	BandsFailed      int        `json:"bands_failed"`
	BandsSkipped     int        `json:"bands_skipped"`
	BytesTransferred int64      `json:"bytes_transferred"`
	TilesLoaded      int64      `json:"tiles_loaded"`
	Status           string     `json:"status"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

// TableName places run provenance in the bronze schema.
func (IngestRun) TableName() string {
	return "bronze.ingest_runs"
}
