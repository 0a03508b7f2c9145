// Package planner implements the two route-finding primitives used by the
// mission dispatcher: a Dubins-curve planner for oriented minimum-length
// paths under a turning-radius constraint, and an A* grid planner for
// obstacle-avoiding routes. Both are pure and deterministic.
package planner

import "math"

// DubinsPathType names one of the six canonical Dubins path families.
type DubinsPathType int

const (
	LSL DubinsPathType = iota
	LSR
	RSL
	RSR
	RLR
	LRL
)

func (t DubinsPathType) String() string {
	return [...]string{"LSL", "LSR", "RSL", "RSR", "RLR", "LRL"}[t]
}

// DubinsConfig is an oriented 2-D configuration (x, y, heading in radians).
type DubinsConfig struct {
	X, Y, Theta float64
}

// DubinsPath is the shortest-length path found between two configurations:
// its type, the three normalized segment lengths (t, p, q), and the total
// length in the same units as the input coordinates (already scaled by ρ).
type DubinsPath struct {
	Type    DubinsPathType
	T, P, Q float64
	Length  float64
}

const twoPi = 2 * math.Pi

func mod2pi(theta float64) float64 {
	theta = math.Mod(theta, twoPi)
	if theta < 0 {
		theta += twoPi
	}
	return theta
}

// segment holds one candidate family's feasibility and (t, p, q).
type segment struct {
	feasible bool
	t, p, q  float64
}

// PlanDubins computes the minimum-length Dubins path between start and
// goal under turning radius rho, evaluating all six canonical families and
// returning the shortest feasible one. ok is false when no family is
// feasible (degenerate rho, or — for this planner, which has no obstacle
// awareness — never for finite rho in practice, but the contract is kept
// explicit so callers can treat it as PlanningInfeasible uniformly with
// the A* planner).
func PlanDubins(start, goal DubinsConfig, rho float64) (DubinsPath, bool) {
	if rho <= 0 {
		return DubinsPath{}, false
	}

	// Normalize to the unit-rho frame: the start-to-goal line becomes
	// the x-axis, headings become offsets from it, distance scales by
	// 1/rho.
	dx := goal.X - start.X
	dy := goal.Y - start.Y
	lineAngle := math.Atan2(dy, dx)
	d := math.Hypot(dx, dy) / rho
	alpha := mod2pi(start.Theta - lineAngle)
	beta := mod2pi(goal.Theta - lineAngle)

	candidates := [...]segment{
		LSL: dubinsLSL(d, alpha, beta),
		LSR: dubinsLSR(d, alpha, beta),
		RSL: dubinsRSL(d, alpha, beta),
		RSR: dubinsRSR(d, alpha, beta),
		RLR: dubinsRLR(d, alpha, beta),
		LRL: dubinsLRL(d, alpha, beta),
	}

	best := DubinsPath{}
	found := false
	for i, seg := range candidates {
		typ := DubinsPathType(i)
		if !seg.feasible {
			continue
		}
		length := (seg.t + seg.p + seg.q) * rho
		if !found || length < best.Length {
			best = DubinsPath{Type: typ, T: seg.t, P: seg.p, Q: seg.q, Length: length}
			found = true
		}
	}
	return best, found
}

// The six families below follow the closed-form expressions of Shkel &
// Lumelsky in the normalized frame: d is the start-goal distance in rho
// units, alpha and beta the start and goal headings measured from the
// start-goal line. Infeasible geometry shows up as a negative radicand
// or an out-of-range arccos argument.
func dubinsLSL(d, alpha, beta float64) segment {
	sa, ca := math.Sin(alpha), math.Cos(alpha)
	sb, cb := math.Sin(beta), math.Cos(beta)
	pSq := 2 + d*d - 2*math.Cos(alpha-beta) + 2*d*(sa-sb)
	if pSq < 0 {
		return segment{}
	}
	tmp := math.Atan2(cb-ca, d+sa-sb)
	t := mod2pi(-alpha + tmp)
	q := mod2pi(beta - tmp)
	return segment{feasible: true, t: t, p: math.Sqrt(pSq), q: q}
}

func dubinsRSR(d, alpha, beta float64) segment {
	sa, ca := math.Sin(alpha), math.Cos(alpha)
	sb, cb := math.Sin(beta), math.Cos(beta)
	pSq := 2 + d*d - 2*math.Cos(alpha-beta) + 2*d*(sb-sa)
	if pSq < 0 {
		return segment{}
	}
	tmp := math.Atan2(ca-cb, d-sa+sb)
	t := mod2pi(alpha - tmp)
	q := mod2pi(-beta + tmp)
	return segment{feasible: true, t: t, p: math.Sqrt(pSq), q: q}
}

func dubinsLSR(d, alpha, beta float64) segment {
	sa, ca := math.Sin(alpha), math.Cos(alpha)
	sb, cb := math.Sin(beta), math.Cos(beta)
	pSq := -2 + d*d + 2*math.Cos(alpha-beta) + 2*d*(sa+sb)
	if pSq < 0 {
		return segment{}
	}
	p := math.Sqrt(pSq)
	tmp := math.Atan2(-ca-cb, d+sa+sb) - math.Atan2(-2, p)
	t := mod2pi(-alpha + tmp)
	q := mod2pi(-mod2pi(beta) + tmp)
	return segment{feasible: true, t: t, p: p, q: q}
}

func dubinsRSL(d, alpha, beta float64) segment {
	sa, ca := math.Sin(alpha), math.Cos(alpha)
	sb, cb := math.Sin(beta), math.Cos(beta)
	pSq := -2 + d*d + 2*math.Cos(alpha-beta) - 2*d*(sa+sb)
	if pSq < 0 {
		return segment{}
	}
	p := math.Sqrt(pSq)
	tmp := math.Atan2(ca+cb, d-sa-sb) - math.Atan2(2, p)
	t := mod2pi(alpha - tmp)
	q := mod2pi(beta - tmp)
	return segment{feasible: true, t: t, p: p, q: q}
}

func dubinsRLR(d, alpha, beta float64) segment {
	sa, ca := math.Sin(alpha), math.Cos(alpha)
	sb, cb := math.Sin(beta), math.Cos(beta)
	term := (6 - d*d + 2*math.Cos(alpha-beta) + 2*d*(sa-sb)) / 8
	if term < -1 || term > 1 {
		return segment{}
	}
	p := mod2pi(twoPi - math.Acos(term))
	t := mod2pi(alpha - math.Atan2(ca-cb, d-sa+sb) + p/2)
	q := mod2pi(alpha - beta - t + p)
	return segment{feasible: true, t: t, p: p, q: q}
}

func dubinsLRL(d, alpha, beta float64) segment {
	sa, ca := math.Sin(alpha), math.Cos(alpha)
	sb, cb := math.Sin(beta), math.Cos(beta)
	term := (6 - d*d + 2*math.Cos(alpha-beta) + 2*d*(sb-sa)) / 8
	if term < -1 || term > 1 {
		return segment{}
	}
	p := mod2pi(twoPi - math.Acos(term))
	t := mod2pi(-alpha + math.Atan2(cb-ca, d+sa-sb) + p/2)
	q := mod2pi(mod2pi(beta) - alpha - t + mod2pi(p))
	return segment{feasible: true, t: t, p: p, q: q}
}

// SampleWaypoints discretizes a Dubins path into n+1 evenly spaced (x, y,
// heading) points, start and end included, in the original (unrotated,
// un-scaled) frame, useful
// when the dispatcher wants to smooth heading transitions into concrete
// waypoints rather than just reporting a length.
func SampleWaypoints(start DubinsConfig, path DubinsPath, rho float64, n int) []DubinsConfig {
	if n <= 0 {
		return nil
	}
	out := make([]DubinsConfig, 0, n)
	// T, P, Q are unit-rho segment lengths; scale to world units before
	// walking the path.
	segs := [3]float64{path.T * rho, path.P * rho, path.Q * rho}
	total := segs[0] + segs[1] + segs[2]
	if total <= 0 {
		return []DubinsConfig{start}
	}
	letters := dubinsLetters(path.Type)
	for i := 0; i <= n; i++ {
		s := total * float64(i) / float64(n)
		out = append(out, dubinsStateAt(start, letters, segs, rho, s))
	}
	return out
}

func dubinsLetters(t DubinsPathType) [3]byte {
	switch t {
	case LSL:
		return [3]byte{'L', 'S', 'L'}
	case LSR:
		return [3]byte{'L', 'S', 'R'}
	case RSL:
		return [3]byte{'R', 'S', 'L'}
	case RSR:
		return [3]byte{'R', 'S', 'R'}
	case RLR:
		return [3]byte{'R', 'L', 'R'}
	case LRL:
		return [3]byte{'L', 'R', 'L'}
	}
	return [3]byte{'S', 'S', 'S'}
}

// dubinsStateAt walks s world-units along the path from its start
// configuration, applying each of the three primitives in order.
func dubinsStateAt(start DubinsConfig, letters [3]byte, segs [3]float64, rho, s float64) DubinsConfig {
	cur := start
	remaining := s
	for i := 0; i < 3; i++ {
		segLen := segs[i]
		if segLen <= 0 {
			continue
		}
		take := math.Min(remaining, segLen)
		cur = applyPrimitive(cur, letters[i], take, rho)
		remaining -= take
		if remaining <= 1e-12 {
			break
		}
	}
	return cur
}

func applyPrimitive(c DubinsConfig, letter byte, length, rho float64) DubinsConfig {
	switch letter {
	case 'S':
		return DubinsConfig{
			X:     c.X + length*math.Cos(c.Theta),
			Y:     c.Y + length*math.Sin(c.Theta),
			Theta: c.Theta,
		}
	case 'L':
		dtheta := length / rho
		cx := c.X - rho*math.Sin(c.Theta)
		cy := c.Y + rho*math.Cos(c.Theta)
		newTheta := mod2pi(c.Theta + dtheta)
		return DubinsConfig{
			X:     cx + rho*math.Sin(newTheta),
			Y:     cy - rho*math.Cos(newTheta),
			Theta: newTheta,
		}
	case 'R':
		dtheta := length / rho
		cx := c.X + rho*math.Sin(c.Theta)
		cy := c.Y - rho*math.Cos(c.Theta)
		newTheta := mod2pi(c.Theta - dtheta)
		return DubinsConfig{
			X:     cx - rho*math.Sin(newTheta),
			Y:     cy + rho*math.Cos(newTheta),
			Theta: newTheta,
		}
	}
	return c
}
