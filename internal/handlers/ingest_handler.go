package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ingest-service/internal/models"
	"ingest-service/internal/repository"
)

const maxListLimit = 500

// IngestHandler serves the read-only status API over the bronze schema. It
// never writes; all mutation happens in the pipeline.
type IngestHandler struct {
	db     *gorm.DB
	scenes repository.SceneRepository
	tiles  repository.BandTileRepository
	audit  repository.DownloadLogRepository
	runs   repository.IngestRunRepository
	log    *zap.Logger
}

func NewIngestHandler(
	db *gorm.DB,
	scenes repository.SceneRepository,
	tiles repository.BandTileRepository,
	audit repository.DownloadLogRepository,
	runs repository.IngestRunRepository,
	log *zap.Logger,
) *IngestHandler {
	return &IngestHandler{
		db:     db,
		scenes: scenes,
		tiles:  tiles,
		audit:  audit,
		runs:   runs,
		log:    log,
	}
}

func listLimit(c *fiber.Ctx, fallback int) int {
	limit := c.QueryInt("limit", fallback)
	if limit <= 0 {
		limit = fallback
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}

// Health reports whether the service and its database are reachable
// @Summary Health check
// @Description Verify the service is up and its database answers
// @Tags status
// @Produce json
// @Success 200 {object} map[string]interface{} "Service healthy"
// @Failure 503 {object} map[string]interface{} "Database unreachable"
// @Router /health [get]
func (h *IngestHandler) Health(c *fiber.Ctx) error {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		h.log.Error("health check failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   true,
			"message": "Database unreachable",
			"details": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// ListScenes returns ingested scenes, newest first
// @Summary List ingested scenes
// @Description List scenes that have at least one band in the bronze schema
// @Tags scenes
// @Produce json
// @Param limit query int false "Maximum rows to return" default(100)
// @Success 200 {array} models.Scene "Scenes"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /scenes [get]
func (h *IngestHandler) ListScenes(c *fiber.Ctx) error {
	scenes, err := h.scenes.List(listLimit(c, 100))
	if err != nil {
		h.log.Error("listing scenes failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list scenes",
			"details": err.Error(),
		})
	}
	return c.JSON(scenes)
}

// Inventory returns the per-band tile inventory
// @Summary Scene band inventory
// @Description Tile counts, load times and extents per scene and band
// @Tags scenes
// @Produce json
// @Param entity_id query string false "Restrict to one scene"
// @Param limit query int false "Maximum rows to return" default(100)
// @Success 200 {array} repository.InventoryRow "Inventory rows"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /inventory [get]
func (h *IngestHandler) Inventory(c *fiber.Ctx) error {
	rows, err := h.tiles.Inventory(c.Query("entity_id"), listLimit(c, 100))
	if err != nil {
		h.log.Error("reading inventory failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to read inventory",
			"details": err.Error(),
		})
	}
	return c.JSON(rows)
}

// ListDownloads returns audit log entries
// @Summary List download audit entries
// @Description Audit log of band downloads, newest first, optionally filtered by status
// @Tags downloads
// @Produce json
// @Param status query string false "Filter by status" Enums(pending, success, failed, skipped)
// @Param limit query int false "Maximum rows to return" default(100)
// @Success 200 {array} models.DownloadLogEntry "Audit entries"
// @Failure 400 {object} map[string]interface{} "Unknown status filter"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /downloads [get]
func (h *IngestHandler) ListDownloads(c *fiber.Ctx) error {
	status := models.DownloadStatus(c.Query("status"))
	switch status {
	case "", models.DownloadPending, models.DownloadSuccess, models.DownloadFailed, models.DownloadSkipped:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Unknown status filter",
			"details": "status must be one of pending, success, failed, skipped",
		})
	}

	entries, err := h.audit.ListByStatus(status, listLimit(c, 100))
	if err != nil {
		h.log.Error("listing downloads failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list downloads",
			"details": err.Error(),
		})
	}
	return c.JSON(entries)
}

// ListRuns returns recent pipeline runs
// @Summary List pipeline runs
// @Description Provenance of recent ingestion runs, newest first
// @Tags runs
// @Produce json
// @Param limit query int false "Maximum rows to return" default(20)
// @Success 200 {array} models.IngestRun "Runs"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /runs [get]
func (h *IngestHandler) ListRuns(c *fiber.Ctx) error {
	runs, err := h.runs.Recent(listLimit(c, 20))
	if err != nil {
		h.log.Error("listing runs failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list runs",
			"details": err.Error(),
		})
	}
	return c.JSON(runs)
}
