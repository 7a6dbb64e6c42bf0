package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// SensorBandConfig maps a sensor to the band files it must deliver: the green
// and shortwave-infrared surface reflectance bands plus the quality bands.
// Rows are seeded at schema setup and read-only afterwards. ValidFrom/ValidTo
// bound the dates a row applies to; nil means open-ended on that side.
type SensorBandConfig struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Sensor         string         `gorm:"not null;index" json:"sensor"`
	DatasetName    string         `json:"dataset_name"`
	GreenBand      string         `gorm:"not null" json:"green_band"`
	SwirBand       string         `gorm:"not null" json:"swir_band"`
	QABands        datatypes.JSON `json:"qa_bands"`
	MetadataSuffix string         `json:"metadata_suffix"`
	ValidFrom      *time.Time     `gorm:"type:date" json:"valid_from,omitempty"`
	ValidTo        *time.Time     `gorm:"type:date" json:"valid_to,omitempty"`
}

// TableName places the reference table in the bronze schema.
func (SensorBandConfig) TableName() string {
	return "bronze.sensor_band_configs"
}

// QABandNames decodes the JSON array of quality band names.
func (c *SensorBandConfig) QABandNames() []string {
	var names []string
	if len(c.QABands) == 0 {
		return names
	}
	_ = json.Unmarshal(c.QABands, &names)
	return names
}

// SetQABands encodes the quality band names into the JSON column.
func (c *SensorBandConfig) SetQABands(names []string) error {
	raw, err := json.Marshal(names)
	if err != nil {
		return err
	}
	c.QABands = datatypes.JSON(raw)
	return nil
}
