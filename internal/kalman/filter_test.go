package kalman

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPredictAdvancesPositionByVelocity(t *testing.T) {
	f := &Filter{ProcessVar: 1, MeasurementVar: 4}
	s := NewState(0, 0)
	s.X[2], s.X[3] = 2, -1 // vx=2, vy=-1

	next := f.Predict(s, 3.0)
	x, y := next.Position()
	require.InDelta(t, 6.0, x, 1e-9)
	require.InDelta(t, -3.0, y, 1e-9)
}

func TestUpdateConvergesTowardRepeatedMeasurement(t *testing.T) {
	f := &Filter{ProcessVar: 0.5, MeasurementVar: 2.0}
	s := NewState(0, 0)

	// A stationary object repeatedly measured at (10, 10): after enough
	// predict/update cycles the estimate should converge close to it.
	for i := 0; i < 50; i++ {
		s = f.Predict(s, 1.0)
		s = f.Update(s, 10, 10)
	}
	x, y := s.Position()
	require.InDelta(t, 10.0, x, 0.5)
	require.InDelta(t, 10.0, y, 0.5)
}

func TestUpdateTracksConstantVelocity(t *testing.T) {
	f := &Filter{ProcessVar: 0.1, MeasurementVar: 1.0}
	s := NewState(0, 0)

	// True object moves at (1, 0.5) m/s; feed exact noiseless measurements.
	truth := [2]float64{0, 0}
	for i := 0; i < 100; i++ {
		s = f.Predict(s, 1.0)
		truth[0] += 1.0
		truth[1] += 0.5
		s = f.Update(s, truth[0], truth[1])
	}
	vx, vy := s.Velocity()
	require.InDelta(t, 1.0, vx, 0.2)
	require.InDelta(t, 0.5, vy, 0.2)
}

func TestFourStepTrackLocksOntoUnitVelocity(t *testing.T) {
	f := &Filter{ProcessVar: 1.0, MeasurementVar: 1.0}
	s := NewState(0, 0)

	// Measurements of a 1 m/s mover at (1,0), (2,0), (3,0), 1s apart.
	for i := 1; i <= 3; i++ {
		s = f.Predict(s, 1.0)
		s = f.Update(s, float64(i), 0)
	}

	x, y := s.Position()
	require.InDelta(t, 3.0, x, 0.1)
	require.InDelta(t, 0.0, y, 1e-9)
	vx, _ := s.Velocity()
	require.InDelta(t, 1.0, vx, 0.2)
}

func TestMahalanobisSqZeroAtMean(t *testing.T) {
	f := &Filter{ProcessVar: 1, MeasurementVar: 4}
	s := NewState(5, 5)
	require.InDelta(t, 0.0, f.MahalanobisSq(s, 5, 5), 1e-9)
	require.Greater(t, f.MahalanobisSq(s, 50, 50), 0.0)
}
