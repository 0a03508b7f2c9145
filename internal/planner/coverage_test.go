package planner

import (
	"testing"

	"github.com/aegisfleet/sentinel/internal/domain"
	"github.com/aegisfleet/sentinel/internal/geo"
	"github.com/stretchr/testify/require"
)

func TestSelectPatternKnownEventTypes(t *testing.T) {
	require.Equal(t, PatternLawnmower, SelectPattern("wildfire"))
	require.Equal(t, PatternSpiral, SelectPattern("person_in_distress"))
	require.Equal(t, PatternSector, SelectPattern("vehicle_accident"))
	require.Equal(t, PatternSpiral, SelectPattern("unknown_event"))
}

func TestGenerateCoverageRejectsNonPositiveParams(t *testing.T) {
	center := domain.LatLon{Lat: 37.78, Lon: -122.42}
	require.Nil(t, GenerateCoverage(center, PatternLawnmower, CoverageParams{}))
}

func TestGenerateCoverageLawnmowerStaysWithinRadius(t *testing.T) {
	center := domain.LatLon{Lat: 37.78, Lon: -122.42}
	params := CoverageParams{RadiusMeters: 500, SpacingMeters: 100}

	points := GenerateCoverage(center, PatternLawnmower, params)
	require.NotEmpty(t, points)
	for _, p := range points {
		d := geo.HaversineMeters(center.Lat, center.Lon, p.Lat, p.Lon)
		require.LessOrEqual(t, d, params.RadiusMeters*1.5)
	}
}

func TestGenerateCoverageSpiralExpandsOutward(t *testing.T) {
	center := domain.LatLon{Lat: 10, Lon: 10}
	params := CoverageParams{RadiusMeters: 300, SpacingMeters: 50}

	points := GenerateCoverage(center, PatternSpiral, params)
	require.NotEmpty(t, points)
	last := points[len(points)-1]
	d := geo.HaversineMeters(center.Lat, center.Lon, last.Lat, last.Lon)
	require.Greater(t, d, 0.0)
	require.LessOrEqual(t, d, params.RadiusMeters*1.2)
}

func TestGenerateCoverageSectorStartsAtCenter(t *testing.T) {
	center := domain.LatLon{Lat: -5, Lon: 40}
	params := CoverageParams{RadiusMeters: 200, SpacingMeters: 50}

	points := GenerateCoverage(center, PatternSector, params)
	require.NotEmpty(t, points)
	require.InDelta(t, center.Lat, points[0].Lat, 1e-9)
	require.InDelta(t, center.Lon, points[0].Lon, 1e-9)
}
