package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ingest-service/internal/config"
	"ingest-service/internal/extraction"
	"ingest-service/internal/m2m"
	"ingest-service/internal/metrics"
	"ingest-service/internal/models"
	"ingest-service/internal/mtl"
	"ingest-service/internal/repository"
	"ingest-service/internal/retry"
	"ingest-service/internal/utils"
)

// CatalogClient is the slice of the provider protocol the pipeline drives.
// The session key lives inside the client; the pipeline owns its lifecycle
// through Login and Logout.
type CatalogClient interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	SearchScenes(ctx context.Context, p m2m.SearchParams) ([]m2m.SceneResult, error)
	AddScenesToList(ctx context.Context, listID, dataset string, entityIDs []string) (int, error)
	RemoveSceneList(ctx context.Context, listID string) error
	DownloadOptions(ctx context.Context, listID, dataset string) ([]m2m.DownloadOption, error)
	RequestDownloads(ctx context.Context, label string, refs []m2m.DownloadRef) (*m2m.DownloadRequestResult, error)
	RetrieveDownloads(ctx context.Context, label string, expected int) ([]m2m.PreparedDownload, error)
}

// RunSummary reports one finished pipeline run.
type RunSummary struct {
	RunID  uuid.UUID
	Status string
	Totals metrics.Totals
}

// scenePlan pairs a catalog hit with its resolved band requirements. Wanted
// holds only the bands without a prior verified download.
type scenePlan struct {
	scene   *models.Scene
	mapping BandRoleMapping
	wanted  []string
	needMTL bool
}

// PipelineService coordinates one full ingestion pass: search the catalog,
// order band products, download them, and load the rasters. Scene-level
// trouble degrades a run; only run-level failures abort it.
type PipelineService struct {
	catalog   CatalogClient
	resolver  *BandResolver
	downloads *DownloadService
	ingest    *IngestService
	scenes    repository.SceneRepository
	audit     repository.DownloadLogRepository
	runs      repository.IngestRunRepository
	policy    retry.Policy
	search    config.SearchConfig
	tempDir   string
	log       *zap.Logger
}

func NewPipelineService(
	catalog CatalogClient,
	resolver *BandResolver,
	downloads *DownloadService,
	ingest *IngestService,
	scenes repository.SceneRepository,
	audit repository.DownloadLogRepository,
	runs repository.IngestRunRepository,
	cfg *config.Config,
	log *zap.Logger,
) *PipelineService {
	return &PipelineService{
		catalog:   catalog,
		resolver:  resolver,
		downloads: downloads,
		ingest:    ingest,
		scenes:    scenes,
		audit:     audit,
		runs:      runs,
		policy: retry.Policy{
			MaxAttempts: cfg.M2M.MaxAttempts,
			BackoffBase: cfg.M2M.BackoffBase,
			BackoffCap:  cfg.M2M.BackoffCap,
		},
		search:  cfg.Search,
		tempDir: cfg.Download.TempDir,
		log:     log,
	}
}

// Run executes one complete ingestion pass and persists its provenance. The
// summary is returned even when the run aborts, so callers can report how
// far it got.
func (p *PipelineService) Run(ctx context.Context) (*RunSummary, error) {
	stats := metrics.NewRunStats()
	run := &models.IngestRun{
		RunID:     uuid.New(),
		StartedAt: stats.StartTime,
		Status:    models.RunRunning,
	}
	if err := p.runs.Create(run); err != nil {
		return nil, errors.Wrap(err, "recording run start")
	}
	p.log.Info("run started", zap.String("run_id", run.RunID.String()))

	runErr := p.execute(ctx, stats)

	totals := stats.Totals()
	now := time.Now()
	run.FinishedAt = &now
	run.ScenesFound = totals.ScenesFound
	run.ScenesIngested = totals.ScenesIngested
	run.BandsSucceeded = totals.BandsSucceeded
	run.BandsFailed = totals.BandsFailed
	run.BandsSkipped = totals.BandsSkipped
	run.BytesTransferred = totals.BytesTransferred
	run.TilesLoaded = totals.TilesLoaded
	run.Status = runStatus(totals, runErr)
	if runErr != nil {
		run.ErrorMessage = runErr.Error()
	}
	if err := p.runs.Update(run); err != nil {
		p.log.Error("persisting run outcome failed", zap.Error(err))
	}
	p.log.Info("run finished",
		zap.String("run_id", run.RunID.String()),
		zap.String("status", run.Status),
		zap.String("summary", stats.Summary()))

	summary := &RunSummary{RunID: run.RunID, Status: run.Status, Totals: totals}
	return summary, runErr
}

// runStatus classifies the outcome. A run that attempted bands but landed
// none of them is degraded rather than failed; callers decide what to make
// of that. A run whose work was entirely skipped completed.
func runStatus(t metrics.Totals, runErr error) string {
	if runErr != nil {
		return models.RunAborted
	}
	if t.BandsSucceeded == 0 && t.BandsFailed > 0 {
		return models.RunDegraded
	}
	return models.RunCompleted
}

func (p *PipelineService) execute(ctx context.Context, stats *metrics.RunStats) error {
	login := func() error { return p.catalog.Login(ctx) }
	if err := p.policy.Do(ctx, m2m.IsRetryable, login); err != nil {
		return errors.Wrap(err, "login")
	}
	defer p.logout()

	aoi, err := utils.LoadAOI(p.search.AOIPath)
	if err != nil {
		return errors.Wrap(err, "loading AOI")
	}
	spatial := &m2m.SpatialFilter{
		FilterType: "geojson",
		GeoJSON:    &m2m.GeoJSON{Type: aoi.Type, Coordinates: aoi.Coordinates},
	}

	for _, dataset := range p.search.Datasets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.runDataset(ctx, dataset, spatial, stats); err != nil {
			return errors.Wrapf(err, "dataset %s", dataset)
		}
	}
	return nil
}

// logout ends the provider session on a fresh context so it still happens
// when the run context is already canceled.
func (p *PipelineService) logout() {
	ctx, cancel := context.WithTimeout(context.Background(), orderCleanupTimeout)
	defer cancel()
	if err := p.catalog.Logout(ctx); err != nil {
		p.log.Warn("logout failed", zap.Error(err))
	}
}

func (p *PipelineService) runDataset(ctx context.Context, dataset string, spatial *m2m.SpatialFilter, stats *metrics.RunStats) error {
	hits, err := p.catalog.SearchScenes(ctx, m2m.SearchParams{
		Dataset:       dataset,
		Spatial:       spatial,
		StartDate:     p.search.DateStart,
		EndDate:       p.search.DateEnd,
		MaxCloudCover: int(p.search.MaxCloudCover),
	})
	if err != nil {
		return errors.Wrap(err, "scene search")
	}
	stats.AddScenesFound(len(hits))
	p.log.Info("scene search finished",
		zap.String("dataset", dataset),
		zap.Int("hits", len(hits)))
	if len(hits) == 0 {
		return nil
	}

	plans, err := p.planScenes(dataset, hits, stats)
	if err != nil {
		return err
	}
	if len(plans) == 0 {
		p.log.Info("nothing left to fetch", zap.String("dataset", dataset))
		return nil
	}

	order := newCatalogOrder(p.catalog, dataset, p.log)
	defer order.Close()

	entityIDs := make([]string, 0, len(plans))
	bandsByEntity := make(map[string][]string, len(plans))
	for _, plan := range plans {
		entityIDs = append(entityIDs, plan.scene.EntityID)
		wanted := append([]string(nil), plan.wanted...)
		if plan.needMTL {
			wanted = append(wanted, plan.mapping.MetadataSuffix)
		}
		bandsByEntity[plan.scene.EntityID] = wanted
	}

	if err := order.Register(ctx, entityIDs); err != nil {
		return err
	}
	selected, err := order.SelectProducts(ctx, bandsByEntity)
	if err != nil {
		return err
	}
	if selected == 0 {
		p.log.Warn("no band products offered", zap.String("dataset", dataset))
		p.markUnfetched(plans, nil, stats)
		return nil
	}
	if err := order.Request(ctx); err != nil {
		return err
	}
	if err := order.AwaitPrepared(ctx); err != nil {
		return err
	}

	tasks, covered := p.buildTasks(order.Products(), bandsByEntity)
	p.markUnfetched(plans, covered, stats)

	results := p.downloads.Run(ctx, tasks)
	p.ingestResults(ctx, plans, results, stats)
	return nil
}

// planScenes resolves each catalog hit into the band files it must deliver.
// Scenes that cannot be mapped are dropped with a log line; bands whose
// audit entry already shows success are counted skipped and never generate
// provider traffic again.
func (p *PipelineService) planScenes(dataset string, hits []m2m.SceneResult, stats *metrics.RunStats) ([]*scenePlan, error) {
	plans := make([]*scenePlan, 0, len(hits))
	for _, hit := range hits {
		sensor, err := SensorFromEntityID(hit.EntityID)
		if err != nil {
			p.log.Warn("scene dropped", zap.String("entity_id", hit.EntityID), zap.Error(err))
			continue
		}
		acquired, err := acquisitionDate(hit)
		if err != nil {
			p.log.Warn("scene dropped", zap.String("entity_id", hit.EntityID), zap.Error(err))
			continue
		}
		mapping, err := p.resolver.Resolve(sensor, acquired)
		if err != nil {
			p.log.Warn("scene dropped", zap.String("entity_id", hit.EntityID), zap.Error(err))
			continue
		}

		wanted, err := p.remainingBands(hit.EntityID, mapping, stats)
		if err != nil {
			return nil, err
		}
		if len(wanted) == 0 {
			p.log.Debug("scene already ingested", zap.String("entity_id", hit.EntityID))
			continue
		}

		stored, err := p.scenes.GetByEntityID(hit.EntityID)
		if err != nil {
			return nil, errors.Wrap(err, "reading stored scene")
		}

		plans = append(plans, &scenePlan{
			scene: &models.Scene{
				EntityID:        hit.EntityID,
				DisplayID:       hit.DisplayID,
				DatasetName:     dataset,
				Sensor:          sensor,
				AcquisitionDate: acquired,
				CloudCover:      hit.CloudCover,
			},
			mapping: mapping,
			wanted:  wanted,
			needMTL: stored == nil && mapping.MetadataSuffix != "",
		})
	}
	return plans, nil
}

// remainingBands consults the audit log and keeps only bands without a prior
// verified download.
func (p *PipelineService) remainingBands(entityID string, mapping BandRoleMapping, stats *metrics.RunStats) ([]string, error) {
	var needed []string
	for _, band := range mapping.AllBands() {
		entry, err := p.audit.Get(entityID, band)
		if err != nil {
			return nil, errors.Wrap(err, "reading download log")
		}
		if entry != nil && entry.Status == models.DownloadSuccess {
			stats.AddSkipped()
			continue
		}
		needed = append(needed, band)
	}
	return needed, nil
}

// acquisitionDate reads the scene's acquisition day from its temporal
// coverage, tolerating timestamps with a time-of-day suffix.
func acquisitionDate(hit m2m.SceneResult) (time.Time, error) {
	if hit.TemporalCoverage == nil || hit.TemporalCoverage.StartDate == "" {
		return time.Time{}, errors.Errorf("scene %s has no temporal coverage", hit.EntityID)
	}
	raw := hit.TemporalCoverage.StartDate
	if len(raw) > 10 {
		raw = raw[:10]
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "scene %s acquisition date", hit.EntityID)
	}
	return t, nil
}

// bundleBandName labels the transfer of a full product bundle in task
// bookkeeping and logs. It is never written to the audit log; the bands
// extracted from the bundle are.
const bundleBandName = "BUNDLE"

// buildTasks turns prepared URLs into download jobs, one directory per
// scene. A bundle product stands in for every wanted band of its scene.
// Returns which (scene, band) pairs actually got a URL.
func (p *PipelineService) buildTasks(products []PreparedProduct, bandsByEntity map[string][]string) ([]DownloadTask, map[string]map[string]bool) {
	tasks := make([]DownloadTask, 0, len(products))
	covered := make(map[string]map[string]bool)
	mark := func(sceneID, band string) {
		if covered[sceneID] == nil {
			covered[sceneID] = make(map[string]bool)
		}
		covered[sceneID][band] = true
	}

	for _, pp := range products {
		sceneID := pp.Product.SceneEntityID
		size := pp.Download.FileSize
		if size == 0 {
			size = pp.Product.FileSize
		}
		if pp.Product.Bundle {
			tasks = append(tasks, DownloadTask{
				EntityID: sceneID,
				BandName: bundleBandName,
				URL:      pp.Download.URL,
				FileSize: size,
				DestDir:  filepath.Join(p.tempDir, sceneID),
				NoAudit:  true,
			})
			for _, band := range bandsByEntity[sceneID] {
				mark(sceneID, band)
			}
			continue
		}
		tasks = append(tasks, DownloadTask{
			EntityID: sceneID,
			BandName: pp.Product.BandName,
			URL:      pp.Download.URL,
			FileSize: size,
			DestDir:  filepath.Join(p.tempDir, sceneID),
		})
		mark(sceneID, pp.Product.BandName)
	}
	return tasks, covered
}

// markUnfetched writes failed audit rows for wanted bands the provider never
// produced a URL for, so failure reasons stay retrievable after the run.
func (p *PipelineService) markUnfetched(plans []*scenePlan, covered map[string]map[string]bool, stats *metrics.RunStats) {
	for _, plan := range plans {
		for _, band := range plan.wanted {
			if covered[plan.scene.EntityID][band] {
				continue
			}
			p.recordBandFailure(plan.scene.EntityID, band, "provider prepared no download for this product", stats)
		}
	}
}

// ingestResults groups download results per scene and hands each scene with
// at least one delivered band to the loader.
func (p *PipelineService) ingestResults(ctx context.Context, plans []*scenePlan, results []DownloadResult, stats *metrics.RunStats) {
	byScene := make(map[string][]DownloadResult)
	for _, res := range results {
		byScene[res.Task.EntityID] = append(byScene[res.Task.EntityID], res)
	}
	for _, plan := range plans {
		if ctx.Err() != nil {
			return
		}
		p.ingestScene(ctx, plan, byScene[plan.scene.EntityID], stats)
	}
}

// ingestScene loads the bands one scene delivered, enriching the scene row
// from its MTL file when one came along. Bands count as succeeded only once
// their tiles are in place; a verified download whose load fails counts as
// failed even though its audit entry keeps the download success.
func (p *PipelineService) ingestScene(ctx context.Context, plan *scenePlan, results []DownloadResult, stats *metrics.RunStats) {
	defer p.removeSceneDir(plan.scene.EntityID)

	var bands []BandLoad
	bandBytes := make(map[string]int64)
	mtlPath := ""

	for _, res := range results {
		if res.Task.NoAudit {
			files, bundleMTL := p.unpackBundle(ctx, plan, res, stats)
			for band, f := range files {
				bands = append(bands, BandLoad{BandName: band, FilePath: f.path})
				bandBytes[band] = f.bytes
			}
			if bundleMTL != "" {
				mtlPath = bundleMTL
			}
			continue
		}
		isMetadata := res.Task.BandName == plan.mapping.MetadataSuffix
		switch {
		case res.Skipped:
			if !isMetadata {
				stats.AddSkipped()
			}
		case res.Err != nil:
			if isMetadata {
				p.log.Warn("metadata download failed",
					zap.String("entity_id", res.Task.EntityID),
					zap.Error(res.Err))
			} else {
				stats.AddFailed()
			}
		default:
			if isMetadata {
				mtlPath = res.Path
			} else {
				bands = append(bands, BandLoad{BandName: res.Task.BandName, FilePath: res.Path})
				bandBytes[res.Task.BandName] = res.Bytes
			}
		}
	}

	if len(bands) == 0 {
		return
	}
	if mtlPath != "" {
		p.enrichFromMTL(plan.scene, mtlPath)
	}

	loads, err := p.ingest.IngestScene(ctx, plan.scene, bands)
	if err != nil {
		p.log.Error("scene rejected",
			zap.String("entity_id", plan.scene.EntityID),
			zap.Error(err))
		for range bands {
			stats.AddFailed()
		}
		return
	}

	loadedAny := false
	for _, load := range loads {
		switch {
		case load.Err != nil:
			stats.AddFailed()
			p.log.Error("band load failed",
				zap.String("entity_id", plan.scene.EntityID),
				zap.String("band", load.BandName),
				zap.Error(load.Err))
		case load.AlreadyPresent:
			stats.AddSucceeded(bandBytes[load.BandName])
			p.log.Info("band tiles already present",
				zap.String("entity_id", plan.scene.EntityID),
				zap.String("band", load.BandName))
		default:
			stats.AddSucceeded(bandBytes[load.BandName])
			stats.AddTiles(load.Tiles)
			loadedAny = true
		}
	}
	if loadedAny {
		stats.AddSceneIngested()
	}
}

// bundleFile is one band file recovered from a product bundle.
type bundleFile struct {
	path  string
	bytes int64
}

// unpackBundle turns a bundle transfer into per-band files and audit rows.
// Each wanted band found in the archive gets a success entry pointing at the
// bundle URL; extraction trouble is an integrity failure for every band the
// bundle was supposed to deliver.
func (p *PipelineService) unpackBundle(ctx context.Context, plan *scenePlan, res DownloadResult, stats *metrics.RunStats) (map[string]bundleFile, string) {
	entityID := plan.scene.EntityID
	if res.Skipped {
		for range plan.wanted {
			stats.AddSkipped()
		}
		return nil, ""
	}
	if res.Err != nil {
		p.failPlanBands(plan, "bundle download failed: "+res.Err.Error(), stats)
		return nil, ""
	}

	suffixes := append([]string(nil), plan.wanted...)
	if plan.needMTL {
		suffixes = append(suffixes, plan.mapping.MetadataSuffix)
	}
	extracted, err := extraction.ExtractSelected(ctx, res.Path, filepath.Dir(res.Path), suffixes)
	if err != nil {
		p.failPlanBands(plan, "bundle extraction failed: "+err.Error(), stats)
		return nil, ""
	}

	files := make(map[string]bundleFile)
	mtlPath := ""
	for _, path := range extracted {
		band := bandForFile(filepath.Base(path), suffixes)
		if band == "" {
			continue
		}
		if plan.needMTL && band == plan.mapping.MetadataSuffix {
			mtlPath = path
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			p.recordBandFailure(entityID, band, "bundle extraction failed: "+err.Error(), stats)
			continue
		}
		files[band] = bundleFile{path: path, bytes: info.Size()}
		if _, err := p.audit.EnsurePending(entityID, band, res.Task.URL); err != nil {
			p.log.Error("recording bundle band", zap.String("entity_id", entityID), zap.String("band", band), zap.Error(err))
			continue
		}
		if err := p.audit.MarkSuccess(entityID, band, info.Size(), res.Duration); err != nil {
			p.log.Error("recording bundle band", zap.String("entity_id", entityID), zap.String("band", band), zap.Error(err))
		}
	}

	for _, band := range plan.wanted {
		if _, ok := files[band]; !ok {
			p.recordBandFailure(entityID, band, "bundle did not contain this band", stats)
		}
	}
	if plan.needMTL && mtlPath == "" {
		p.log.Warn("metadata unavailable",
			zap.String("entity_id", entityID),
			zap.String("reason", "bundle did not contain a metadata file"))
	}
	return files, mtlPath
}

// failPlanBands records the same failure for every band the plan wanted.
func (p *PipelineService) failPlanBands(plan *scenePlan, msg string, stats *metrics.RunStats) {
	for _, band := range plan.wanted {
		p.recordBandFailure(plan.scene.EntityID, band, msg, stats)
	}
	if plan.needMTL {
		p.log.Warn("metadata unavailable", zap.String("entity_id", plan.scene.EntityID), zap.String("reason", msg))
	}
}

func (p *PipelineService) recordBandFailure(entityID, band, msg string, stats *metrics.RunStats) {
	stats.AddFailed()
	if _, err := p.audit.EnsurePending(entityID, band, ""); err != nil {
		p.log.Error("recording band failure", zap.String("entity_id", entityID), zap.String("band", band), zap.Error(err))
		return
	}
	if err := p.audit.MarkFailed(entityID, band, msg); err != nil {
		p.log.Error("recording band failure", zap.String("entity_id", entityID), zap.String("band", band), zap.Error(err))
	}
}

// bandForFile matches an extracted file back to the band suffix it carries.
func bandForFile(base string, bands []string) string {
	stem := base
	for {
		ext := filepath.Ext(stem)
		if ext == "" {
			break
		}
		stem = strings.TrimSuffix(stem, ext)
	}
	for _, band := range bands {
		if strings.HasSuffix(stem, "_"+band) {
			return band
		}
	}
	return ""
}

// enrichFromMTL fills scene attributes from the downloaded metadata file.
// Parse failure leaves the scene with catalog-derived fields only.
func (p *PipelineService) enrichFromMTL(scene *models.Scene, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		p.log.Warn("reading MTL file", zap.String("entity_id", scene.EntityID), zap.Error(err))
		return
	}
	meta, err := mtl.Extract(mtl.Parse(string(raw)))
	if err != nil {
		p.log.Warn("parsing MTL file", zap.String("entity_id", scene.EntityID), zap.Error(err))
		return
	}
	scene.Satellite = meta.SpacecraftID
	scene.PathRow = meta.PathRow()
	scene.SunAzimuth = meta.SunAzimuth
	scene.SunElevation = meta.SunElevation
	scene.ProcessingLevel = meta.ProcessingLevel
	if meta.CloudCover > 0 {
		scene.CloudCover = meta.CloudCover
	}
	if meta.FootprintWKT != "" {
		scene.Footprint = meta.FootprintWKT
	}
	if !meta.DateAcquired.IsZero() {
		scene.AcquisitionDate = meta.DateAcquired
	}
}

func (p *PipelineService) removeSceneDir(entityID string) {
	dir := filepath.Join(p.tempDir, entityID)
	if err := os.RemoveAll(dir); err != nil {
		p.log.Warn("removing scene directory", zap.String("dir", dir), zap.Error(err))
	}
}
