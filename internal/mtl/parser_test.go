package mtl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMetadata = `GROUP = LANDSAT_METADATA_FILE
  GROUP = PRODUCT_CONTENTS
    LANDSAT_PRODUCT_ID = "LC08_L2SP_005052_20240115_20240123_02_T1"
    PROCESSING_LEVEL = "L2SP"
    COLLECTION_NUMBER = 02
  END_GROUP = PRODUCT_CONTENTS
  GROUP = IMAGE_ATTRIBUTES
    SPACECRAFT_ID = "LANDSAT_8"
    SENSOR_ID = "OLI_TIRS"
    WRS_PATH = 5
    WRS_ROW = 52
    DATE_ACQUIRED = 2024-01-15
    CLOUD_COVER = 23.45
    SUN_AZIMUTH = 140.85624508
    SUN_ELEVATION = 48.93431326
  END_GROUP = IMAGE_ATTRIBUTES
  GROUP = PROJECTION_ATTRIBUTES
    CORNER_UL_LAT_PRODUCT = 10.54124
    CORNER_UL_LON_PRODUCT = -67.10936
    CORNER_UR_LAT_PRODUCT = 10.53205
    CORNER_UR_LON_PRODUCT = -65.02757
    CORNER_LL_LAT_PRODUCT = 8.42809
    CORNER_LL_LON_PRODUCT = -67.11362
    CORNER_LR_LAT_PRODUCT = 8.42086
    CORNER_LR_LON_PRODUCT = -65.04485
  END_GROUP = PROJECTION_ATTRIBUTES
END_GROUP = LANDSAT_METADATA_FILE
END
`

func TestParseFlattensKeyValuePairs(t *testing.T) {
	values := Parse(sampleMetadata)

	assert.Equal(t, "LANDSAT_8", values["SPACECRAFT_ID"])
	assert.Equal(t, "L2SP", values["PROCESSING_LEVEL"], "quotes are stripped")
	assert.Equal(t, "23.45", values["CLOUD_COVER"])
	assert.NotContains(t, values, "GROUP")
	assert.NotContains(t, values, "END_GROUP")
}

func TestExtractTypedMetadata(t *testing.T) {
	m, err := Extract(Parse(sampleMetadata))
	require.NoError(t, err)

	assert.Equal(t, "LANDSAT_8", m.SpacecraftID)
	assert.Equal(t, "OLI_TIRS", m.SensorID)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), m.DateAcquired)
	assert.Equal(t, 5, m.WRSPath)
	assert.Equal(t, 52, m.WRSRow)
	assert.Equal(t, "005/052", m.PathRow())
	assert.InDelta(t, 23.45, m.CloudCover, 1e-9)
	assert.InDelta(t, 140.85624508, m.SunAzimuth, 1e-9)
	assert.InDelta(t, 48.93431326, m.SunElevation, 1e-9)
}

func TestExtractBuildsClosedCornerPolygon(t *testing.T) {
	m, err := Extract(Parse(sampleMetadata))
	require.NoError(t, err)

	assert.Equal(t,
		"SRID=4326;POLYGON((-67.10936 10.54124, -65.02757 10.53205, -65.04485 8.42086, -67.11362 8.42809, -67.10936 10.54124))",
		m.FootprintWKT)
}

func TestExtractWithoutCornersSkipsFootprint(t *testing.T) {
	values := Parse(sampleMetadata)
	delete(values, "CORNER_LR_LAT_PRODUCT")

	m, err := Extract(values)
	require.NoError(t, err)
	assert.Empty(t, m.FootprintWKT)
}

func TestExtractRequiresAcquisitionDate(t *testing.T) {
	values := Parse(sampleMetadata)
	delete(values, "DATE_ACQUIRED")

	_, err := Extract(values)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATE_ACQUIRED")
}

func TestExtractRequiresSpacecraft(t *testing.T) {
	values := Parse(sampleMetadata)
	delete(values, "SPACECRAFT_ID")

	_, err := Extract(values)
	require.Error(t, err)
}
