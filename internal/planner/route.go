package planner

import (
	"math"

	"github.com/aegisfleet/sentinel/internal/domain"
	"github.com/aegisfleet/sentinel/internal/geo"
)

// NoFlyZone is a circular exclusion area transit legs must route around.
type NoFlyZone struct {
	Lat, Lon     float64
	RadiusMeters float64
}

// maxRouteCells bounds the A* grid in either dimension; when a route's
// span exceeds it at the requested resolution, the cell size is coarsened
// so the search stays within its compute deadline.
const maxRouteCells = 512

// RouteAround plans a transit leg from start to goal that avoids every
// zone, by discretizing the local tangent plane around start into a grid
// of cellMeters cells and running the A* search over it. Returns the
// waypoint sequence (excluding start, including goal) and true, or
// (nil, false) when the zones wall the goal off entirely.
func RouteAround(start, goal domain.LatLon, zones []NoFlyZone, cellMeters float64) ([]domain.LatLon, bool) {
	if cellMeters <= 0 {
		cellMeters = 50
	}

	perLat, perLon := geo.MetersPerDegree(start.Lat)
	toMeters := func(p domain.LatLon) (east, north float64) {
		return (p.Lon - start.Lon) * perLon, (p.Lat - start.Lat) * perLat
	}

	goalE, goalN := toMeters(goal)

	minE, maxE := math.Min(0, goalE), math.Max(0, goalE)
	minN, maxN := math.Min(0, goalN), math.Max(0, goalN)
	pad := 2 * cellMeters
	for _, z := range zones {
		pad = math.Max(pad, z.RadiusMeters+2*cellMeters)
	}
	minE, maxE = minE-pad, maxE+pad
	minN, maxN = minN-pad, maxN+pad

	for (maxE-minE)/cellMeters > maxRouteCells || (maxN-minN)/cellMeters > maxRouteCells {
		cellMeters *= 2
	}

	width := int(math.Ceil((maxE-minE)/cellMeters)) + 1
	height := int(math.Ceil((maxN-minN)/cellMeters)) + 1

	toCell := func(east, north float64) Cell {
		return Cell{
			X: int(math.Round((east - minE) / cellMeters)),
			Y: int(math.Round((north - minN) / cellMeters)),
		}
	}
	toPoint := func(c Cell) domain.LatLon {
		east := minE + float64(c.X)*cellMeters
		north := minN + float64(c.Y)*cellMeters
		return domain.LatLon{Lat: start.Lat + north/perLat, Lon: start.Lon + east/perLon}
	}

	blocked := make(map[Cell]bool)
	for _, z := range zones {
		zE, zN := toMeters(domain.LatLon{Lat: z.Lat, Lon: z.Lon})
		lo := toCell(zE-z.RadiusMeters, zN-z.RadiusMeters)
		hi := toCell(zE+z.RadiusMeters, zN+z.RadiusMeters)
		for x := lo.X; x <= hi.X; x++ {
			for y := lo.Y; y <= hi.Y; y++ {
				cE := minE + float64(x)*cellMeters
				cN := minN + float64(y)*cellMeters
				if math.Hypot(cE-zE, cN-zN) <= z.RadiusMeters {
					blocked[Cell{x, y}] = true
				}
			}
		}
	}

	grid := &Grid{Width: width, Height: height, Blocked: blocked}
	startCell := toCell(0, 0)
	goalCell := toCell(goalE, goalN)
	// The endpoints themselves are never treated as blocked: a UAV
	// already inside a zone's discretization fringe must still be able
	// to leave it.
	delete(blocked, startCell)
	delete(blocked, goalCell)

	cells, ok := PlanAStar(grid, startCell, goalCell)
	if !ok {
		return nil, false
	}

	cells = dropCollinear(cells)
	out := make([]domain.LatLon, 0, len(cells))
	for i, c := range cells {
		if i == 0 {
			continue // caller is already at start
		}
		out = append(out, toPoint(c))
	}
	if len(out) == 0 {
		return []domain.LatLon{goal}, true
	}
	out[len(out)-1] = goal // snap the final cell center to the exact goal
	return out, true
}

// dropCollinear removes interior cells of straight runs so the emitted
// route is turn points only.
func dropCollinear(cells []Cell) []Cell {
	if len(cells) <= 2 {
		return cells
	}
	out := []Cell{cells[0]}
	for i := 1; i < len(cells)-1; i++ {
		prev, cur, next := cells[i-1], cells[i], cells[i+1]
		d1 := Cell{cur.X - prev.X, cur.Y - prev.Y}
		d2 := Cell{next.X - cur.X, next.Y - cur.Y}
		if d1 != d2 {
			out = append(out, cur)
		}
	}
	return append(out, cells[len(cells)-1])
}

// SmoothApproach plans a curvature-bounded transit leg from start
// (facing headingDeg, compass degrees) to goal, arriving aligned with
// the straight-in bearing, and samples it into n waypoints. When start
// and goal coincide the leg is just the goal. Returns (nil, false) when
// no Dubins family is feasible for the geometry.
func SmoothApproach(start domain.LatLon, headingDeg float64, goal domain.LatLon, turnRadiusMeters float64, n int) ([]domain.LatLon, bool) {
	perLat, perLon := geo.MetersPerDegree(start.Lat)
	goalE := (goal.Lon - start.Lon) * perLon
	goalN := (goal.Lat - start.Lat) * perLat
	if goalE == 0 && goalN == 0 {
		return []domain.LatLon{goal}, true
	}

	// Compass heading (clockwise from north) to math angle
	// (counter-clockwise from east).
	theta := func(compassDeg float64) float64 {
		return mod2pi((90 - compassDeg) * math.Pi / 180)
	}
	approach := math.Atan2(goalN, goalE)

	startCfg := DubinsConfig{X: 0, Y: 0, Theta: theta(headingDeg)}
	goalCfg := DubinsConfig{X: goalE, Y: goalN, Theta: mod2pi(approach)}

	path, ok := PlanDubins(startCfg, goalCfg, turnRadiusMeters)
	if !ok {
		return nil, false
	}

	samples := SampleWaypoints(startCfg, path, turnRadiusMeters, n)
	out := make([]domain.LatLon, 0, len(samples))
	for i, s := range samples {
		if i == 0 {
			continue
		}
		out = append(out, domain.LatLon{Lat: start.Lat + s.Y/perLat, Lon: start.Lon + s.X/perLon})
	}
	if len(out) == 0 {
		return []domain.LatLon{goal}, true
	}
	out[len(out)-1] = goal
	return out, true
}
