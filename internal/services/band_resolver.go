package services

import (
	"fmt"
	"strings"
	"time"

	"ingest-service/internal/models"
	"ingest-service/internal/repository"
)

// satellitePrefixes maps the leading characters of a catalog entity ID to the
// sensor generation that produced the scene.
var satellitePrefixes = map[string]string{
	"LC08": "OLI",
	"LC09": "OLI",
	"LE07": "ETM+",
	"LT05": "TM",
	"LT04": "TM",
}

// UnknownSensorError reports an entity ID whose prefix matches no known
// sensor generation. The scene is dropped, not the run.
type UnknownSensorError struct {
	EntityID string
}

func (e *UnknownSensorError) Error() string {
	return fmt.Sprintf("no sensor known for entity ID %s", e.EntityID)
}

// NoValidConfigError reports that no band configuration row covers the
// scene's acquisition date.
type NoValidConfigError struct {
	Sensor string
	Date   time.Time
}

func (e *NoValidConfigError) Error() string {
	return fmt.Sprintf("no band configuration for sensor %s valid on %s",
		e.Sensor, e.Date.Format("2006-01-02"))
}

// BandRoleMapping is the resolved set of files one scene must deliver.
type BandRoleMapping struct {
	Sensor         string
	DatasetName    string
	Green          string
	Swir           string
	QABands        []string
	MetadataSuffix string
}

// AllBands lists the band files to download, quality bands included. The
// metadata file is not a band and is handled separately.
func (m BandRoleMapping) AllBands() []string {
	bands := make([]string, 0, 2+len(m.QABands))
	bands = append(bands, m.Green, m.Swir)
	bands = append(bands, m.QABands...)
	return bands
}

// BandResolver answers which band files a scene must deliver, based on the
// seeded sensor configuration table. The table is read once at construction;
// it is reference data and does not change during a run.
type BandResolver struct {
	configs []models.SensorBandConfig
}

// NewBandResolver loads every sensor band configuration row.
func NewBandResolver(repo repository.SensorBandRepository) (*BandResolver, error) {
	configs, err := repo.All()
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("sensor band configuration table is empty")
	}
	return &BandResolver{configs: configs}, nil
}

// SensorFromEntityID derives the sensor generation from the entity ID prefix.
func SensorFromEntityID(entityID string) (string, error) {
	for prefix, sensor := range satellitePrefixes {
		if strings.HasPrefix(entityID, prefix) {
			return sensor, nil
		}
	}
	return "", &UnknownSensorError{EntityID: entityID}
}

// Resolve picks the configuration for a sensor valid on the acquisition date.
// When several rows qualify, the narrowest validity window wins so dated
// exceptions can override an open-ended default.
func (r *BandResolver) Resolve(sensor string, date time.Time) (BandRoleMapping, error) {
	var best *models.SensorBandConfig
	for i := range r.configs {
		cfg := &r.configs[i]
		if cfg.Sensor != sensor || !validOn(cfg, date) {
			continue
		}
		if best == nil || windowWidth(cfg) < windowWidth(best) {
			best = cfg
		}
	}
	if best == nil {
		return BandRoleMapping{}, &NoValidConfigError{Sensor: sensor, Date: date}
	}
	return BandRoleMapping{
		Sensor:         best.Sensor,
		DatasetName:    best.DatasetName,
		Green:          best.GreenBand,
		Swir:           best.SwirBand,
		QABands:        best.QABandNames(),
		MetadataSuffix: best.MetadataSuffix,
	}, nil
}

func validOn(cfg *models.SensorBandConfig, date time.Time) bool {
	if cfg.ValidFrom != nil && date.Before(*cfg.ValidFrom) {
		return false
	}
	if cfg.ValidTo != nil && date.After(*cfg.ValidTo) {
		return false
	}
	return true
}

// windowWidth orders validity windows; a window open on either side counts as
// unbounded and loses to any closed one.
func windowWidth(cfg *models.SensorBandConfig) time.Duration {
	if cfg.ValidFrom == nil || cfg.ValidTo == nil {
		return time.Duration(1<<63 - 1)
	}
	return cfg.ValidTo.Sub(*cfg.ValidFrom)
}
