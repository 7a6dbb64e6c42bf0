package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"ingest-service/internal/config"
	"ingest-service/internal/handlers"
	"ingest-service/internal/logging"
	"ingest-service/internal/m2m"
	"ingest-service/internal/metrics"
	"ingest-service/internal/raster"
	"ingest-service/internal/repository"
	"ingest-service/internal/retry"
	"ingest-service/internal/services"
	"ingest-service/internal/storage"
)

// @title Landsat Bronze Ingest Service
// @version 1.0
// @description Searches the USGS M2M catalog, downloads Landsat Collection 2 Level-2 band files and loads them as raster tiles into a PostGIS bronze schema.
// @BasePath /api/ingest
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg := InitConfig(*configPath)
	logger := InitLogger(cfg)

	db := ConnectDatabase(cfg, logger)
	SetupSchema(db, cfg, logger)

	sceneRepo := repository.NewSceneRepository(db)
	tileRepo := repository.NewBandTileRepository(db)
	auditRepo := repository.NewDownloadLogRepository(db)
	sensorRepo := repository.NewSensorBandRepository(db)
	runRepo := repository.NewIngestRunRepository(db)

	resolver := InitResolver(sensorRepo, logger)
	m := metrics.NewMetrics()

	policy := retry.Policy{
		MaxAttempts: cfg.M2M.MaxAttempts,
		BackoffBase: cfg.M2M.BackoffBase,
		BackoffCap:  cfg.M2M.BackoffCap,
	}
	downloads := services.NewDownloadService(auditRepo, policy, cfg.Download.Concurrency, m, logger.Named("download"))
	ingest := services.NewIngestService(
		sceneRepo,
		tileRepo,
		raster.NewPGRasterLoader(cfg, logger.Named("raster")),
		InitArchiver(cfg, logger),
		cfg.Partitions,
		m,
		logger.Named("ingest"),
	)
	pipeline := services.NewPipelineService(
		m2m.NewClient(cfg.M2M, logger.Named("m2m")),
		resolver,
		downloads,
		ingest,
		sceneRepo,
		auditRepo,
		runRepo,
		cfg,
		logger.Named("pipeline"),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	group, ctx := errgroup.WithContext(ctx)

	var app *fiber.App
	if cfg.Server.Enabled {
		app = buildServer(db, sceneRepo, tileRepo, auditRepo, runRepo, logger)
		group.Go(func() error {
			logger.Info("status API listening", zap.String("port", cfg.Server.Port))
			return app.Listen(":" + cfg.Server.Port)
		})
	}

	group.Go(func() error {
		_, runErr := pipeline.Run(ctx)
		if app != nil {
			if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
				logger.Warn("server shutdown", zap.Error(err))
			}
		}
		return runErr
	})

	if err := group.Wait(); err != nil {
		logger.Error("ingestion run failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func buildServer(
	db *gorm.DB,
	scenes repository.SceneRepository,
	tiles repository.BandTileRepository,
	audit repository.DownloadLogRepository,
	runs repository.IngestRunRepository,
	logger *zap.Logger,
) *fiber.App {
	app := fiber.New()

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	h := handlers.NewIngestHandler(db, scenes, tiles, audit, runs, logger.Named("api"))
	api := app.Group("/api/ingest")
	api.Get("/health", h.Health)
	api.Get("/scenes", h.ListScenes)
	api.Get("/inventory", h.Inventory)
	api.Get("/downloads", h.ListDownloads)
	api.Get("/runs", h.ListRuns)
	api.Get("/swagger/*", swagger.HandlerDefault)

	return app
}

func InitConfig(path string) *config.Config {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	return cfg
}

func InitLogger(cfg *config.Config) *zap.Logger {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Logger init failed: %v", err)
	}
	return logger
}

func ConnectDatabase(cfg *config.Config, logger *zap.Logger) *gorm.DB {
	db, err := config.ConnectDatabase(cfg)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	return db
}

func SetupSchema(db *gorm.DB, cfg *config.Config, logger *zap.Logger) {
	if err := repository.SetupSchema(db, cfg.Partitions); err != nil {
		logger.Fatal("schema setup failed", zap.Error(err))
	}
}

func InitResolver(repo repository.SensorBandRepository, logger *zap.Logger) *services.BandResolver {
	resolver, err := services.NewBandResolver(repo)
	if err != nil {
		logger.Fatal("band resolver init failed", zap.Error(err))
	}
	return resolver
}

// InitArchiver returns nil when archival is disabled; the ingest service
// treats a nil archiver as "keep nothing".
func InitArchiver(cfg *config.Config, logger *zap.Logger) storage.Archiver {
	if !cfg.Archive.Enabled {
		return nil
	}
	archiver, err := storage.NewMinioArchiver(cfg.Archive, logger.Named("archive"))
	if err != nil {
		logger.Fatal("archive client init failed", zap.Error(err))
	}
	return archiver
}
