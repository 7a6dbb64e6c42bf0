package mtl

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Parse reads Landsat metadata text into a flat key/value map. The format is
// one "KEY = VALUE" pair per line; GROUP markers only structure the file and
// are dropped. Quoted values lose their quotes.
func Parse(text string) map[string]string {
	values := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "END" {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "GROUP" || key == "END_GROUP" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"")
	}
	return values
}

// Metadata holds the scene attributes a metadata file contributes.
type Metadata struct {
	SpacecraftID    string
	SensorID        string
	ProcessingLevel string
	DateAcquired    time.Time
	WRSPath         int
	WRSRow          int
	CloudCover      float64
	SunAzimuth      float64
	SunElevation    float64
	FootprintWKT    string
}

// PathRow formats the WRS path/row the way the scene table stores it.
func (m *Metadata) PathRow() string {
	return fmt.Sprintf("%03d/%03d", m.WRSPath, m.WRSRow)
}

// Extract pulls typed scene metadata out of a parsed key/value map. The
// acquisition date and spacecraft id are required; numeric fields parse
// best-effort and the footprint is only built when all four product corners
// are present.
func Extract(values map[string]string) (*Metadata, error) {
	m := &Metadata{
		SpacecraftID:    values["SPACECRAFT_ID"],
		SensorID:        values["SENSOR_ID"],
		ProcessingLevel: values["PROCESSING_LEVEL"],
	}
	if m.SpacecraftID == "" {
		return nil, errors.New("metadata missing SPACECRAFT_ID")
	}

	raw, ok := values["DATE_ACQUIRED"]
	if !ok {
		return nil, errors.New("metadata missing DATE_ACQUIRED")
	}
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing DATE_ACQUIRED %q", raw)
	}
	m.DateAcquired = date

	m.WRSPath = parseInt(values["WRS_PATH"])
	m.WRSRow = parseInt(values["WRS_ROW"])
	m.CloudCover = parseFloat(values["CLOUD_COVER"])
	m.SunAzimuth = parseFloat(values["SUN_AZIMUTH"])
	m.SunElevation = parseFloat(values["SUN_ELEVATION"])
	m.FootprintWKT = cornerPolygon(values)

	return m, nil
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

// cornerPolygon builds the scene footprint from the four product corners as
// an EWKT polygon, upper-left around to lower-left and closed. Returns empty
// when any corner is missing.
func cornerPolygon(values map[string]string) string {
	corners := []string{"UL", "UR", "LR", "LL"}
	points := make([]string, 0, 5)
	for _, c := range corners {
		lat, okLat := values["CORNER_"+c+"_LAT_PRODUCT"]
		lon, okLon := values["CORNER_"+c+"_LON_PRODUCT"]
		if !okLat || !okLon {
			return ""
		}
		points = append(points, strings.TrimSpace(lon)+" "+strings.TrimSpace(lat))
	}
	points = append(points, points[0])
	return "SRID=4326;POLYGON((" + strings.Join(points, ", ") + "))"
}
