package utils

import (
	"encoding/json"
	"fmt"
	"os"
)

// Geometry is a minimal GeoJSON geometry. Coordinates stay raw so any
// polygon nesting passes through to the catalog API untouched.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

type feature struct {
	Type     string    `json:"type"`
	Geometry *Geometry `json:"geometry"`
}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

// LoadAOI reads an area-of-interest geometry from a GeoJSON file. Accepts a
// bare geometry, a Feature, or a FeatureCollection (first feature wins).
func LoadAOI(path string) (*Geometry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading aoi file: %w", err)
	}
	return ParseAOI(raw)
}

// ParseAOI unwraps GeoJSON bytes down to the geometry.
func ParseAOI(raw []byte) (*Geometry, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("parsing aoi geojson: %w", err)
	}

	switch probe.Type {
	case "FeatureCollection":
		var fc featureCollection
		if err := json.Unmarshal(raw, &fc); err != nil {
			return nil, fmt.Errorf("parsing feature collection: %w", err)
		}
		if len(fc.Features) == 0 || fc.Features[0].Geometry == nil {
			return nil, fmt.Errorf("aoi feature collection is empty")
		}
		return fc.Features[0].Geometry, nil
	case "Feature":
		var f feature
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("parsing feature: %w", err)
		}
		if f.Geometry == nil {
			return nil, fmt.Errorf("aoi feature has no geometry")
		}
		return f.Geometry, nil
	case "":
		return nil, fmt.Errorf("aoi geojson has no type")
	default:
		var g Geometry
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, fmt.Errorf("parsing geometry: %w", err)
		}
		return &g, nil
	}
}
