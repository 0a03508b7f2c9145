// Package kalman implements a constant-velocity Kalman filter over a
// fixed 4-element state (x, y, vx, vy). The state and covariance are
// plain arrays rather than a general matrix type: the dimension is
// fixed and known at compile time, so a dynamic matrix library only
// adds allocation and indirection without buying generality we use.
package kalman

// State is the filter's belief: position and velocity in a local
// tangent-plane frame (meters, meters/second), plus its covariance.
type State struct {
	X [4]float64    // x, y, vx, vy
	P [4][4]float64 // covariance
}

// Filter holds the process and measurement noise parameters shared by
// every call; it has no mutable fields of its own so a single Filter
// can be reused across many independent State values.
type Filter struct {
	// ProcessVar is the per-second variance injected into velocity each
	// predict step, modelling unmodelled acceleration.
	ProcessVar float64
	// MeasurementVar is the variance of a single position measurement
	// along each axis.
	MeasurementVar float64
}

// initialVar is the diagonal of a fresh state's covariance (P = 10·I):
// loose enough that the first few updates dominate the prior, and the
// value the tracker's association gate is tuned against.
const initialVar = 10.0

// NewState initializes a filter state at the given position with zero
// velocity, reflecting that the first detection tells us nothing about
// velocity yet.
func NewState(x, y float64) State {
	var s State
	s.X = [4]float64{x, y, 0, 0}
	for i := 0; i < 4; i++ {
		s.P[i][i] = initialVar
	}
	return s
}

// Predict advances s by dt seconds under the constant-velocity model:
//
//	x' = x + vx*dt, y' = y + vy*dt, vx' = vx, vy' = vy
//
// It returns the new state; s is left unmodified.
func (f *Filter) Predict(s State, dt float64) State {
	var out State
	out.X = [4]float64{
		s.X[0] + s.X[2]*dt,
		s.X[1] + s.X[3]*dt,
		s.X[2],
		s.X[3],
	}

	// F is the state-transition matrix for the model above.
	F := [4][4]float64{
		{1, 0, dt, 0},
		{0, 1, 0, dt},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
	FP := mul4(F, s.P)
	Ft := transpose4(F)
	out.P = mul4(FP, Ft)

	q := f.ProcessVar * dt
	out.P[2][2] += q
	out.P[3][3] += q
	return out
}

// Update incorporates a position measurement (zx, zy) via the standard
// Kalman gain/innovation equations, restricted to the 2-D position
// observation model H = [[1,0,0,0],[0,1,0,0]].
func (f *Filter) Update(s State, zx, zy float64) State {
	// Innovation y = z - Hx
	innovX := zx - s.X[0]
	innovY := zy - s.X[1]

	// Innovation covariance S = H P H^T + R, a 2x2 submatrix of P plus R.
	s00 := s.P[0][0] + f.MeasurementVar
	s01 := s.P[0][1]
	s10 := s.P[1][0]
	s11 := s.P[1][1] + f.MeasurementVar

	det := s00*s11 - s01*s10
	if det == 0 {
		return s
	}
	// Inverse of S (2x2).
	invDet := 1.0 / det
	si00 := s11 * invDet
	si01 := -s01 * invDet
	si10 := -s10 * invDet
	si11 := s00 * invDet

	// Kalman gain K = P H^T S^-1, a 4x2 matrix: columns 0/1 of P times S^-1.
	var K [4][2]float64
	for i := 0; i < 4; i++ {
		p0 := s.P[i][0]
		p1 := s.P[i][1]
		K[i][0] = p0*si00 + p1*si10
		K[i][1] = p0*si01 + p1*si11
	}

	var out State
	for i := 0; i < 4; i++ {
		out.X[i] = s.X[i] + K[i][0]*innovX + K[i][1]*innovY
	}

	// P' = (I - K H) P
	var KH [4][4]float64
	for i := 0; i < 4; i++ {
		KH[i][0] = K[i][0]
		KH[i][1] = K[i][1]
	}
	var IminusKH [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			identity := 0.0
			if i == j {
				identity = 1.0
			}
			IminusKH[i][j] = identity - KH[i][j]
		}
	}
	out.P = mul4(IminusKH, s.P)
	return out
}

// Position returns the filter's current position estimate.
func (s State) Position() (x, y float64) { return s.X[0], s.X[1] }

// Velocity returns the filter's current velocity estimate.
func (s State) Velocity() (vx, vy float64) { return s.X[2], s.X[3] }

// MahalanobisSq returns the squared Mahalanobis distance from s's
// predicted position to measurement (zx, zy), used by the tracker to
// gate implausible associations before calling Update.
func (f *Filter) MahalanobisSq(s State, zx, zy float64) float64 {
	dx := zx - s.X[0]
	dy := zy - s.X[1]
	s00 := s.P[0][0] + f.MeasurementVar
	s01 := s.P[0][1]
	s10 := s.P[1][0]
	s11 := s.P[1][1] + f.MeasurementVar
	det := s00*s11 - s01*s10
	if det == 0 {
		return 0
	}
	invDet := 1.0 / det
	si00 := s11 * invDet
	si01 := -s01 * invDet
	si10 := -s10 * invDet
	si11 := s00 * invDet
	return dx*(dx*si00+dy*si10) + dy*(dx*si01+dy*si11)
}

func mul4(a, b [4][4]float64) [4][4]float64 {
	var out [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += a[i][k] * b[k][j]
			}
			out[i][j] = sum
		}
	}
	return out
}

func transpose4(a [4][4]float64) [4][4]float64 {
	var out [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[j][i] = a[i][j]
		}
	}
	return out
}
