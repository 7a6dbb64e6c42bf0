package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingest-service/internal/models"
)

type stubSensorBandRepo struct {
	configs []models.SensorBandConfig
}

func (s *stubSensorBandRepo) All() ([]models.SensorBandConfig, error) {
	return s.configs, nil
}

func bandConfig(t *testing.T, sensor, green, swir string, qa []string, from, to string) models.SensorBandConfig {
	t.Helper()
	cfg := models.SensorBandConfig{
		Sensor:         sensor,
		DatasetName:    "landsat_ot_c2_l2",
		GreenBand:      green,
		SwirBand:       swir,
		MetadataSuffix: "MTL",
	}
	require.NoError(t, cfg.SetQABands(qa))
	if from != "" {
		d, err := time.Parse("2006-01-02", from)
		require.NoError(t, err)
		cfg.ValidFrom = &d
	}
	if to != "" {
		d, err := time.Parse("2006-01-02", to)
		require.NoError(t, err)
		cfg.ValidTo = &d
	}
	return cfg
}

func TestSensorFromEntityID(t *testing.T) {
	cases := []struct {
		entityID string
		sensor   string
	}{
		{"LC08_L2SP_194026_20240315_20240320_02_T1", "OLI"},
		{"LC09_L2SP_199030_20230710_20230712_02_T1", "OLI"},
		{"LE07_L2SP_194026_20050812_20200914_02_T1", "ETM+"},
		{"LT05_L2SP_194026_20100623_20200823_02_T1", "TM"},
		{"LT04_L2SP_194026_19890504_20200916_02_T1", "TM"},
	}
	for _, c := range cases {
		sensor, err := SensorFromEntityID(c.entityID)
		require.NoError(t, err, c.entityID)
		assert.Equal(t, c.sensor, sensor, c.entityID)
	}
}

func TestSensorFromEntityIDRejectsUnknownPrefix(t *testing.T) {
	_, err := SensorFromEntityID("S2A_MSIL2A_20240315T101021")
	require.Error(t, err)

	var unknown *UnknownSensorError
	require.True(t, errors.As(err, &unknown))
	assert.Contains(t, unknown.Error(), "S2A_MSIL2A")
}

func TestResolveReturnsMatchingConfig(t *testing.T) {
	resolver, err := NewBandResolver(&stubSensorBandRepo{configs: []models.SensorBandConfig{
		bandConfig(t, "OLI", "SR_B3", "SR_B6", []string{"QA_PIXEL", "QA_RADSAT", "SR_QA_AEROSOL"}, "2013-02-11", ""),
		bandConfig(t, "TM", "SR_B2", "SR_B5", []string{"QA_PIXEL", "QA_RADSAT"}, "1982-07-16", "2013-06-05"),
	}})
	require.NoError(t, err)

	mapping, err := resolver.Resolve("OLI", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "SR_B3", mapping.Green)
	assert.Equal(t, "SR_B6", mapping.Swir)
	assert.Equal(t, []string{"QA_PIXEL", "QA_RADSAT", "SR_QA_AEROSOL"}, mapping.QABands)
	assert.Equal(t, "MTL", mapping.MetadataSuffix)
	assert.ElementsMatch(t, []string{"SR_B3", "SR_B6", "QA_PIXEL", "QA_RADSAT", "SR_QA_AEROSOL"}, mapping.AllBands())
}

func TestResolveNarrowestWindowWins(t *testing.T) {
	resolver, err := NewBandResolver(&stubSensorBandRepo{configs: []models.SensorBandConfig{
		bandConfig(t, "ETM+", "SR_B2", "SR_B5", []string{"QA_PIXEL", "QA_RADSAT"}, "1999-04-15", ""),
		bandConfig(t, "ETM+", "SR_B2_ALT", "SR_B5", []string{"QA_PIXEL"}, "2003-05-01", "2003-12-31"),
	}})
	require.NoError(t, err)

	inside, err := resolver.Resolve("ETM+", time.Date(2003, 7, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "SR_B2_ALT", inside.Green)

	outside, err := resolver.Resolve("ETM+", time.Date(2004, 7, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "SR_B2", outside.Green)
}

func TestResolveOutsideValidityFails(t *testing.T) {
	resolver, err := NewBandResolver(&stubSensorBandRepo{configs: []models.SensorBandConfig{
		bandConfig(t, "TM", "SR_B2", "SR_B5", []string{"QA_PIXEL", "QA_RADSAT"}, "1982-07-16", "2013-06-05"),
	}})
	require.NoError(t, err)

	_, err = resolver.Resolve("TM", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)

	var noConfig *NoValidConfigError
	require.True(t, errors.As(err, &noConfig))
	assert.Equal(t, "TM", noConfig.Sensor)
}

func TestNewBandResolverRequiresSeededTable(t *testing.T) {
	_, err := NewBandResolver(&stubSensorBandRepo{})
	require.Error(t, err)
}
