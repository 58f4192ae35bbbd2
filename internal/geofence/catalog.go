package geofence

import (
	"fmt"
	"os"

	"github.com/safetyhub/internal/model"
	"gopkg.in/yaml.v3"
)

// DefaultZones is used when no catalog file is configured.
func DefaultZones() []model.GeofenceZone {
	return []model.GeofenceZone{
		{
			ID:       "high-crime-mumbai",
			Name:     "High Crime Area",
			Shape:    model.Shape{Kind: model.ShapeCircle, Center: model.Coordinates{Lat: 19.0760, Lon: 72.8777}, RadiusKm: 2},
			Severity: model.SeverityDanger,
		},
		{
			ID:       "flood-delhi",
			Name:     "Flood Zone",
			Shape:    model.Shape{Kind: model.ShapeCircle, Center: model.Coordinates{Lat: 28.7041, Lon: 77.1025}, RadiusKm: 5},
			Severity: model.SeverityDanger,
		},
		{
			ID:       "earthquake-la",
			Name:     "Earthquake Zone",
			Shape:    model.Shape{Kind: model.ShapeCircle, Center: model.Coordinates{Lat: 34.0522, Lon: -118.2437}, RadiusKm: 10},
			Severity: model.SeverityRed,
		},
	}
}

type catalogFile struct {
	Zones []model.GeofenceZone `yaml:"zones"`
}

// LoadCatalog reads zones from a YAML file. An empty path returns DefaultZones.
func LoadCatalog(path string) ([]model.GeofenceZone, error) {
	if path == "" {
		return DefaultZones(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zones %s: %w", path, err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) ([]model.GeofenceZone, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse zones: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Zones))
	for i, z := range f.Zones {
		if err := validateZone(z); err != nil {
			return nil, fmt.Errorf("zone #%d: %w", i, err)
		}
		if _, dup := seen[z.ID]; dup {
			return nil, fmt.Errorf("zone #%d: duplicate id %q", i, z.ID)
		}
		seen[z.ID] = struct{}{}
	}
	return f.Zones, nil
}

func validateZone(z model.GeofenceZone) error {
	if z.ID == "" {
		return fmt.Errorf("id required")
	}
	if z.Severity.Rank() == 0 {
		return fmt.Errorf("%s: unknown severity %q", z.ID, z.Severity)
	}
	switch z.Shape.Kind {
	case model.ShapeCircle:
		if z.Shape.RadiusKm <= 0 {
			return fmt.Errorf("%s: radius_km must be positive", z.ID)
		}
	case model.ShapePolygon:
		if len(z.Shape.Points) < 3 {
			return fmt.Errorf("%s: polygon needs at least 3 points", z.ID)
		}
	default:
		return fmt.Errorf("%s: unknown shape %q", z.ID, z.Shape.Kind)
	}
	return nil
}
