package planner

import (
	"math"

	"github.com/aegisfleet/sentinel/internal/domain"
	"github.com/aegisfleet/sentinel/internal/geo"
)

// CoveragePattern names one of the area-search patterns a dispatched
// mission can fly over a tile once it arrives at an alert's vicinity.
type CoveragePattern int

const (
	// PatternLawnmower sweeps parallel lines across the tile; best for
	// wide, roughly rectangular search areas (wildfire, flood).
	PatternLawnmower CoveragePattern = iota
	// PatternSpiral expands outward from the alert point; best when the
	// point itself is the most likely location (wildlife, person).
	PatternSpiral
	// PatternSector sweeps a bounded arc back and forth around the
	// alert point; best for a fast first look before committing to a
	// wider search.
	PatternSector
)

func (p CoveragePattern) String() string {
	switch p {
	case PatternLawnmower:
		return "lawnmower"
	case PatternSpiral:
		return "spiral"
	case PatternSector:
		return "sector"
	default:
		return "unknown"
	}
}

// SelectPattern maps an alert's event type to its default coverage
// pattern. Unrecognized event types fall back to the spiral pattern,
// since centering on the reported point is always a safe default.
func SelectPattern(eventType string) CoveragePattern {
	switch eventType {
	case "wildfire", "flood", "structural_damage":
		return PatternLawnmower
	case "person_in_distress", "wildlife_conflict":
		return PatternSpiral
	case "vehicle_accident", "intrusion":
		return PatternSector
	default:
		return PatternSpiral
	}
}

// CoverageParams bounds the size and resolution of a generated pattern.
type CoverageParams struct {
	// RadiusMeters sizes the pattern around the center; the lawnmower
	// covers a square of half-width RadiusMeters, so its corners lie
	// about 1.41·RadiusMeters from the center.
	RadiusMeters float64
	// SpacingMeters is the lawnmower leg spacing / spiral pitch.
	SpacingMeters float64
}

// GenerateCoverage produces a sequence of lat/lon waypoints implementing
// pattern around center, using the local tangent-plane projection from
// internal/geo since tile-scale areas (a few kilometers) make the
// small-angle approximation accurate to well under a meter.
func GenerateCoverage(center domain.LatLon, pattern CoveragePattern, params CoverageParams) []domain.LatLon {
	if params.RadiusMeters <= 0 || params.SpacingMeters <= 0 {
		return nil
	}
	switch pattern {
	case PatternLawnmower:
		return lawnmower(center, params)
	case PatternSector:
		return sector(center, params)
	default:
		return spiral(center, params)
	}
}

func project(center domain.LatLon, dNorth, dEast float64) domain.LatLon {
	lat, lon := geo.OffsetLatLon(center.Lat, center.Lon, dNorth, dEast)
	return domain.LatLon{Lat: lat, Lon: lon}
}

func lawnmower(center domain.LatLon, params CoverageParams) []domain.LatLon {
	half := params.RadiusMeters
	spacing := params.SpacingMeters
	legs := int(math.Ceil((2 * half) / spacing))
	if legs < 1 {
		legs = 1
	}

	var out []domain.LatLon
	for i := 0; i <= legs; i++ {
		north := -half + float64(i)*spacing
		if north > half {
			north = half
		}
		if i%2 == 0 {
			out = append(out, project(center, north, -half), project(center, north, half))
		} else {
			out = append(out, project(center, north, half), project(center, north, -half))
		}
	}
	return out
}

func spiral(center domain.LatLon, params CoverageParams) []domain.LatLon {
	const pointsPerTurn = 16
	growthPerRadian := params.SpacingMeters / twoPi

	var out []domain.LatLon
	for angle := 0.0; ; angle += twoPi / pointsPerTurn {
		r := growthPerRadian * angle
		if r > params.RadiusMeters {
			break
		}
		north := r * math.Cos(angle)
		east := r * math.Sin(angle)
		out = append(out, project(center, north, east))
	}
	if len(out) == 0 {
		out = append(out, center)
	}
	return out
}

func sector(center domain.LatLon, params CoverageParams) []domain.LatLon {
	const halfArc = math.Pi / 3 // 60 degrees either side of north
	const sweepsPerRing = 6
	rings := int(math.Ceil(params.RadiusMeters / params.SpacingMeters))
	if rings < 1 {
		rings = 1
	}

	out := []domain.LatLon{center}
	for ring := 1; ring <= rings; ring++ {
		ringRadius := math.Min(float64(ring)*params.SpacingMeters, params.RadiusMeters)
		for i := 0; i <= sweepsPerRing; i++ {
			frac := float64(i) / float64(sweepsPerRing)
			angle := -halfArc + frac*2*halfArc
			if ring%2 == 0 {
				angle = -angle // alternate sweep direction so consecutive rings join smoothly
			}
			north := ringRadius * math.Cos(angle)
			east := ringRadius * math.Sin(angle)
			out = append(out, project(center, north, east))
		}
	}
	return out
}
