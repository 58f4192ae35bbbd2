package model

type Severity string

const (
	SeverityNone    Severity = ""
	SeverityNormal  Severity = "normal"
	SeverityCaution Severity = "caution"
	SeverityDanger  Severity = "danger"
	SeverityRed     Severity = "red"
)

// Rank orders severities: none < normal < caution < danger < red.
func (s Severity) Rank() int {
	switch s {
	case SeverityNormal:
		return 1
	case SeverityCaution:
		return 2
	case SeverityDanger:
		return 3
	case SeverityRed:
		return 4
	default:
		return 0
	}
}

// Alerting reports whether entering a zone of this severity warrants an alert.
func (s Severity) Alerting() bool { return s == SeverityDanger || s == SeverityRed }

type ShapeKind string

const (
	ShapeCircle  ShapeKind = "circle"
	ShapePolygon ShapeKind = "polygon"
)

type Shape struct {
	Kind     ShapeKind     `json:"kind" yaml:"kind"`
	Center   Coordinates   `json:"center,omitempty" yaml:"center"`
	RadiusKm float64       `json:"radius_km,omitempty" yaml:"radius_km"`
	Points   []Coordinates `json:"points,omitempty" yaml:"points"`
}

// GeofenceZone is read-only reference data loaded at startup.
type GeofenceZone struct {
	ID       string   `json:"zone_id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Shape    Shape    `json:"shape" yaml:"shape"`
	Severity Severity `json:"severity" yaml:"severity"`
}
