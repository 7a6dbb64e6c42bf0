package services

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ingest-service/internal/config"
	"ingest-service/internal/metrics"
	"ingest-service/internal/models"
	"ingest-service/internal/raster"
	"ingest-service/internal/repository"
	"ingest-service/internal/storage"
)

// BandLoad describes one downloaded and verified band file to ingest.
type BandLoad struct {
	BandName string
	FilePath string
}

// BandLoadResult reports one band's load. AlreadyPresent means the same band
// file was ingested before and nothing was written.
type BandLoadResult struct {
	BandName       string
	Tiles          int64
	AlreadyPresent bool
	Err            error
}

// IngestService moves verified band files into the partitioned raster store
// and records scene metadata. All writes for one scene are serialized under a
// per-scene lock so concurrent loads cannot interleave.
type IngestService struct {
	scenes     repository.SceneRepository
	tiles      repository.BandTileRepository
	loader     raster.Loader
	archiver   storage.Archiver
	partitions config.PartitionConfig
	metrics    *metrics.Metrics
	log        *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewIngestService wires the ingestion dependencies. The archiver may be nil
// when raw-file archival is disabled.
func NewIngestService(
	scenes repository.SceneRepository,
	tiles repository.BandTileRepository,
	loader raster.Loader,
	archiver storage.Archiver,
	partitions config.PartitionConfig,
	m *metrics.Metrics,
	log *zap.Logger,
) *IngestService {
	return &IngestService{
		scenes:     scenes,
		tiles:      tiles,
		loader:     loader,
		archiver:   archiver,
		partitions: partitions,
		metrics:    m,
		log:        log,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (s *IngestService) sceneLock(entityID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[entityID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[entityID] = l
	}
	return l
}

// IngestScene upserts the scene row and loads each band file in turn. The
// partition for the acquisition year must already exist; partitions are never
// created during ingestion. Band-level problems land in the results; a
// returned error means the whole scene was rejected.
func (s *IngestService) IngestScene(ctx context.Context, scene *models.Scene, bands []BandLoad) ([]BandLoadResult, error) {
	lock := s.sceneLock(scene.EntityID)
	lock.Lock()
	defer lock.Unlock()

	year := scene.AcquisitionYear()
	if year < s.partitions.StartYear || year >= s.partitions.EndYear {
		return nil, &repository.PartitionNotFoundError{
			Year: year, StartYear: s.partitions.StartYear, EndYear: s.partitions.EndYear,
		}
	}
	ok, err := s.tiles.PartitionExists(year)
	if err != nil {
		return nil, errors.Wrap(err, "checking partition")
	}
	if !ok {
		return nil, &repository.PartitionNotFoundError{
			Year: year, StartYear: s.partitions.StartYear, EndYear: s.partitions.EndYear,
		}
	}

	stored, err := s.scenes.Upsert(scene)
	if err != nil {
		return nil, err
	}

	results := make([]BandLoadResult, 0, len(bands))
	loadedAny := false
	for _, band := range bands {
		if ctx.Err() != nil {
			results = append(results, BandLoadResult{BandName: band.BandName, Err: ctx.Err()})
			continue
		}
		res := s.loadBand(ctx, stored, band, year)
		if res.Err == nil && !res.AlreadyPresent {
			loadedAny = true
		}
		results = append(results, res)
	}
	if loadedAny {
		s.metrics.RecordSceneIngested()
	}
	return results, nil
}

// loadBand stages one GeoTIFF and moves its tiles into the partitioned table.
// A write failure is retried once with a fresh staging relation before the
// band is given up; failed staging relations are always dropped.
func (s *IngestService) loadBand(ctx context.Context, scene *models.Scene, band BandLoad, year int) BandLoadResult {
	res := BandLoadResult{BandName: band.BandName}
	filename := filepath.Base(band.FilePath)

	present, err := s.tiles.HasTiles(scene.SceneID, band.BandName, filename)
	if err != nil {
		res.Err = errors.Wrap(err, "checking existing tiles")
		return res
	}
	if present {
		s.log.Info("band tiles already present, skipping load",
			zap.String("entity_id", scene.EntityID),
			zap.String("band", band.BandName))
		res.AlreadyPresent = true
		return res
	}

	start := time.Now()
	var moved int64
	attempt := func() error {
		staging, err := s.loader.LoadToStaging(ctx, band.FilePath)
		if err != nil {
			if staging != "" {
				s.dropStaging(staging)
			}
			return &repository.DatabaseWriteError{Err: err}
		}
		n, err := s.tiles.MoveStagedTiles(staging, scene.SceneID, band.BandName, year, filename)
		if err != nil {
			s.dropStaging(staging)
			if errors.Is(err, repository.ErrTilesExist) {
				return err
			}
			return &repository.DatabaseWriteError{Err: err}
		}
		moved = n
		return nil
	}

	err = attempt()
	if err != nil && ctx.Err() == nil {
		var writeErr *repository.DatabaseWriteError
		if errors.As(err, &writeErr) {
			s.log.Warn("band load failed, retrying once",
				zap.String("entity_id", scene.EntityID),
				zap.String("band", band.BandName),
				zap.Error(err))
			err = attempt()
		}
	}
	if err != nil {
		if errors.Is(err, repository.ErrTilesExist) {
			res.AlreadyPresent = true
			return res
		}
		res.Err = err
		return res
	}

	duration := time.Since(start)
	s.metrics.AddTilesLoaded(moved)
	s.metrics.ObserveBandLoadDuration(duration)
	s.log.Info("band loaded",
		zap.String("entity_id", scene.EntityID),
		zap.String("band", band.BandName),
		zap.Int64("tiles", moved),
		zap.Duration("took", duration.Round(time.Millisecond)))

	if s.archiver != nil {
		if err := s.archiver.ArchiveFile(ctx, scene.EntityID, band.FilePath); err != nil {
			s.log.Warn("archival failed",
				zap.String("entity_id", scene.EntityID),
				zap.String("band", band.BandName),
				zap.Error(err))
		}
	}

	res.Tiles = moved
	return res
}

func (s *IngestService) dropStaging(staging string) {
	if err := s.tiles.DropStaging(staging); err != nil {
		s.log.Warn("dropping staging relation failed",
			zap.String("staging", staging),
			zap.Error(err))
	}
}
