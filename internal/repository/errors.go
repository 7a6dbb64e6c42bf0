package repository

import (
	"errors"
	"fmt"
)

// ErrTilesExist signals that tiles for a (scene, band, filename) combination
// are already stored; re-ingestion must not duplicate them.
var ErrTilesExist = errors.New("tiles already present for band file")

// PartitionNotFoundError reports an acquisition year outside the provisioned
// partition range. Partitions are created once at schema setup, never on
// demand, so this signals misconfiguration rather than a transient problem.
type PartitionNotFoundError struct {
	Year      int
	StartYear int
	EndYear   int
}

func (e *PartitionNotFoundError) Error() string {
	return fmt.Sprintf("no partition covers acquisition year %d (provisioned range [%d, %d))",
		e.Year, e.StartYear, e.EndYear)
}

// SceneMetadataConflictError reports an upsert whose incoming values disagree
// with the stored scene row. The stored row is left untouched; silently
// overwriting would hide a data integrity problem upstream.
type SceneMetadataConflictError struct {
	EntityID string
	Field    string
	Existing string
	Incoming string
}

func (e *SceneMetadataConflictError) Error() string {
	return fmt.Sprintf("scene %s: stored %s %q conflicts with incoming %q",
		e.EntityID, e.Field, e.Existing, e.Incoming)
}

// DatabaseWriteError wraps a failed write so callers can apply their
// retry-once policy without string matching.
type DatabaseWriteError struct {
	Err error
}

func (e *DatabaseWriteError) Error() string {
	return "database write failed: " + e.Err.Error()
}

func (e *DatabaseWriteError) Unwrap() error {
	return e.Err
}
