package metrics

import (
	"fmt"
	"sync"
	"time"

	"ingest-service/internal/utils"
)

// RunStats accumulates counters for one pipeline run. Download workers update
// it concurrently; the coordinator reads it once at the end to persist run
// provenance.
type RunStats struct {
	mu sync.Mutex

	StartTime time.Time

	ScenesFound      int
	ScenesIngested   int
	BandsSucceeded   int
	BandsFailed      int
	BandsSkipped     int
	BytesTransferred int64
	TilesLoaded      int64
}

// Totals is a consistent copy of the counters.
type Totals struct {
	ScenesFound      int
	ScenesIngested   int
	BandsSucceeded   int
	BandsFailed      int
	BandsSkipped     int
	BytesTransferred int64
	TilesLoaded      int64
	Elapsed          time.Duration
}

// NewRunStats starts the run clock.
func NewRunStats() *RunStats {
	return &RunStats{StartTime: time.Now()}
}

// AddScenesFound accumulates candidate counts from the search phase, one
// call per dataset.
func (s *RunStats) AddScenesFound(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ScenesFound += n
}

// AddSceneIngested counts a scene with at least one band loaded.
func (s *RunStats) AddSceneIngested() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ScenesIngested++
}

// AddSucceeded records one band downloaded, verified and loaded.
func (s *RunStats) AddSucceeded(bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BandsSucceeded++
	s.BytesTransferred += bytes
}

// AddFailed records one band that exhausted its attempts or hit a fatal error.
func (s *RunStats) AddFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BandsFailed++
}

// AddSkipped records one band left alone because an earlier run succeeded.
func (s *RunStats) AddSkipped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BandsSkipped++
}

// AddTiles counts tiles moved into the partitioned table.
func (s *RunStats) AddTiles(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TilesLoaded += n
}

// Totals returns a copy of all counters with the elapsed time.
func (s *RunStats) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Totals{
		ScenesFound:      s.ScenesFound,
		ScenesIngested:   s.ScenesIngested,
		BandsSucceeded:   s.BandsSucceeded,
		BandsFailed:      s.BandsFailed,
		BandsSkipped:     s.BandsSkipped,
		BytesTransferred: s.BytesTransferred,
		TilesLoaded:      s.TilesLoaded,
		Elapsed:          time.Since(s.StartTime),
	}
}

// Summary renders one line for the end-of-run log.
func (s *RunStats) Summary() string {
	t := s.Totals()
	return fmt.Sprintf("scenes %d/%d, bands ok=%d failed=%d skipped=%d, tiles=%d, %s in %s",
		t.ScenesIngested, t.ScenesFound,
		t.BandsSucceeded, t.BandsFailed, t.BandsSkipped,
		t.TilesLoaded,
		utils.FormatFileSize(t.BytesTransferred),
		t.Elapsed.Round(time.Second))
}
