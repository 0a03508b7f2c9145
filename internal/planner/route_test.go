package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegisfleet/sentinel/internal/domain"
	"github.com/aegisfleet/sentinel/internal/geo"
)

func TestRouteAroundWithNoZonesGoesDirect(t *testing.T) {
	start := domain.LatLon{Lat: 37.77, Lon: -122.41}
	goal := domain.LatLon{Lat: 37.78, Lon: -122.42}

	leg, ok := RouteAround(start, goal, nil, 50)
	require.True(t, ok)
	require.NotEmpty(t, leg)
	require.Equal(t, goal, leg[len(leg)-1])
}

func TestRouteAroundDetoursAroundZone(t *testing.T) {
	start := domain.LatLon{Lat: 0, Lon: 0}
	goal := domain.LatLon{Lat: 0.02, Lon: 0} // ~2.2km due north
	midpoint := domain.LatLon{Lat: 0.01, Lon: 0}
	zones := []NoFlyZone{{Lat: midpoint.Lat, Lon: midpoint.Lon, RadiusMeters: 300}}

	leg, ok := RouteAround(start, goal, zones, 50)
	require.True(t, ok)
	require.Equal(t, goal, leg[len(leg)-1])

	// Every emitted waypoint clears the zone.
	for _, p := range leg[:len(leg)-1] {
		d := geo.HaversineMeters(p.Lat, p.Lon, midpoint.Lat, midpoint.Lon)
		require.Greater(t, d, 250.0, "waypoint %v inside exclusion zone", p)
	}
}

func TestRouteAroundReportsInfeasibleWhenGoalWalledOff(t *testing.T) {
	start := domain.LatLon{Lat: 0, Lon: 0}
	goal := domain.LatLon{Lat: 0.01, Lon: 0}
	// A zone big enough to swallow the goal and every cell around it.
	zones := []NoFlyZone{{Lat: goal.Lat, Lon: goal.Lon, RadiusMeters: 600}}

	leg, ok := RouteAround(start, goal, zones, 50)
	_ = leg
	// The goal cell itself is unblocked so the vehicle could in theory
	// reach it, but every neighbor is blocked: A* must report absence.
	require.False(t, ok)
}

func TestSmoothApproachEndsAtGoal(t *testing.T) {
	start := domain.LatLon{Lat: 37.77, Lon: -122.41}
	goal := domain.LatLon{Lat: 37.78, Lon: -122.40}

	leg, ok := SmoothApproach(start, 90, goal, 60, 8)
	require.True(t, ok)
	require.NotEmpty(t, leg)
	require.InDelta(t, goal.Lat, leg[len(leg)-1].Lat, 1e-9)
	require.InDelta(t, goal.Lon, leg[len(leg)-1].Lon, 1e-9)
}

func TestSmoothApproachSamePointIsTrivial(t *testing.T) {
	p := domain.LatLon{Lat: 1, Lon: 1}
	leg, ok := SmoothApproach(p, 0, p, 60, 8)
	require.True(t, ok)
	require.Equal(t, []domain.LatLon{p}, leg)
}
