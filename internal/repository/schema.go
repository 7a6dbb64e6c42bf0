package repository

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"ingest-service/internal/config"
	"ingest-service/internal/models"
)

//go:embed sensor_bands.yaml
var sensorBandSeed []byte

// SetupSchema creates the bronze schema, migrates the plain tables, lays down
// the partitioned tile table with its per-year partitions, and seeds the
// sensor band reference data. Every statement is idempotent so the function
// is safe to run on every start.
func SetupSchema(db *gorm.DB, partitions config.PartitionConfig) error {
	if err := db.Exec("CREATE SCHEMA IF NOT EXISTS bronze").Error; err != nil {
		return errors.Wrap(err, "creating bronze schema")
	}
	for _, ext := range []string{"postgis", "postgis_raster"} {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS " + ext).Error; err != nil {
			return errors.Wrapf(err, "creating extension %s", ext)
		}
	}
	if err := db.AutoMigrate(
		&models.Scene{},
		&models.DownloadLogEntry{},
		&models.SensorBandConfig{},
		&models.IngestRun{},
	); err != nil {
		return errors.Wrap(err, "migrating tables")
	}
	if err := createTileTable(db, partitions); err != nil {
		return err
	}
	if err := createInventoryView(db); err != nil {
		return err
	}
	return seedSensorBands(db)
}

// createTileTable lays down the range-partitioned tile table. GORM migrations
// cannot express declarative partitioning, so this is raw DDL. The year column
// must be part of the primary key on a partitioned table.
func createTileTable(db *gorm.DB, partitions config.PartitionConfig) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS bronze.landsat_band_tiles (
			tile_id BIGSERIAL,
			scene_id BIGINT NOT NULL REFERENCES bronze.landsat_scenes (scene_id) ON DELETE CASCADE,
			band_name TEXT NOT NULL,
			year INT NOT NULL,
			rast RASTER,
			filename TEXT NOT NULL,
			loaded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tile_id, year)
		) PARTITION BY RANGE (year)
	`
	if err := db.Exec(ddl).Error; err != nil {
		return errors.Wrap(err, "creating tile parent table")
	}

	// Partitions are provisioned once for the configured range, never created
	// on demand during ingestion.
	for year := partitions.StartYear; year < partitions.EndYear; year++ {
		part := fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS bronze.landsat_band_tiles_%d PARTITION OF bronze.landsat_band_tiles FOR VALUES FROM (%d) TO (%d)",
			year, year, year+1,
		)
		if err := db.Exec(part).Error; err != nil {
			return errors.Wrapf(err, "creating partition for year %d", year)
		}
	}

	idx := "CREATE INDEX IF NOT EXISTS idx_band_tiles_scene_band ON bronze.landsat_band_tiles (scene_id, band_name)"
	if err := db.Exec(idx).Error; err != nil {
		return errors.Wrap(err, "indexing tile table")
	}
	return nil
}

// createInventoryView builds the per-band rollup consumed by the status API.
func createInventoryView(db *gorm.DB) error {
	view := `
		CREATE OR REPLACE VIEW bronze.scene_band_inventory AS
		SELECT
			s.entity_id,
			s.display_id,
			s.sensor,
			s.acquisition_date,
			s.cloud_cover,
			t.band_name,
			t.year,
			count(*)                             AS tile_count,
			max(t.loaded_at)                     AS last_loaded_at,
			ST_Extent(ST_Envelope(t.rast))::text AS extent
		FROM bronze.landsat_band_tiles t
		JOIN bronze.landsat_scenes s ON s.scene_id = t.scene_id
		GROUP BY s.entity_id, s.display_id, s.sensor, s.acquisition_date, s.cloud_cover, t.band_name, t.year
	`
	if err := db.Exec(view).Error; err != nil {
		return errors.Wrap(err, "creating inventory view")
	}
	return nil
}

type sensorBandSeedFile struct {
	Sensors []sensorBandSeedEntry `yaml:"sensors"`
}

type sensorBandSeedEntry struct {
	Sensor         string   `yaml:"sensor"`
	Dataset        string   `yaml:"dataset"`
	GreenBand      string   `yaml:"green_band"`
	SwirBand       string   `yaml:"swir_band"`
	QABands        []string `yaml:"qa_bands"`
	MetadataSuffix string   `yaml:"metadata_suffix"`
	ValidFrom      string   `yaml:"valid_from"`
	ValidTo        string   `yaml:"valid_to"`
}

// seedSensorBands loads the embedded band role assignments on first setup.
// A non-empty table is left alone so operators can adjust rows in place.
func seedSensorBands(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.SensorBandConfig{}).Count(&count).Error; err != nil {
		return errors.Wrap(err, "counting sensor band configs")
	}
	if count > 0 {
		return nil
	}

	var seed sensorBandSeedFile
	if err := yaml.Unmarshal(sensorBandSeed, &seed); err != nil {
		return errors.Wrap(err, "parsing sensor band seed")
	}
	for _, entry := range seed.Sensors {
		cfg := models.SensorBandConfig{
			Sensor:         entry.Sensor,
			DatasetName:    entry.Dataset,
			GreenBand:      entry.GreenBand,
			SwirBand:       entry.SwirBand,
			MetadataSuffix: entry.MetadataSuffix,
		}
		if err := cfg.SetQABands(entry.QABands); err != nil {
			return errors.Wrapf(err, "encoding qa bands for %s", entry.Sensor)
		}
		if entry.ValidFrom != "" {
			from, err := time.Parse("2006-01-02", entry.ValidFrom)
			if err != nil {
				return errors.Wrapf(err, "parsing valid_from for %s", entry.Sensor)
			}
			cfg.ValidFrom = &from
		}
		if entry.ValidTo != "" {
			to, err := time.Parse("2006-01-02", entry.ValidTo)
			if err != nil {
				return errors.Wrapf(err, "parsing valid_to for %s", entry.Sensor)
			}
			cfg.ValidTo = &to
		}
		if err := db.Create(&cfg).Error; err != nil {
			return errors.Wrapf(err, "seeding sensor %s", entry.Sensor)
		}
	}
	return nil
}
