package governor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRailSmoother_FirstSampleSeedsCurrent(t *testing.T) {
	var s RailSmootherState
	result := s.Update(1000, DefaultRailSmootherConfig())

	assert.Equal(t, 1000.0, result)
	assert.Equal(t, 1000.0, s.Current)
}

func TestRailSmoother_WithinDeadbandDoesNotMove(t *testing.T) {
	var s RailSmootherState
	config := RailSmootherConfig{Alpha: 0.5, Deadband: 1.0, MaxStepPerSample: 1000}
	s.Update(100, config)

	result := s.Update(100.5, config) // diff 0.5 < deadband 1.0

	assert.Equal(t, 100.0, result, "a sub-deadband diff must be ignored entirely")
}

func TestRailSmoother_BeyondDeadbandMovesByAlphaFraction(t *testing.T) {
	var s RailSmootherState
	config := RailSmootherConfig{Alpha: 0.5, Deadband: 1.0, MaxStepPerSample: 1000}
	s.Update(100, config)

	result := s.Update(200, config) // diff 100, step = 0.5*100 = 50

	assert.Equal(t, 150.0, result)
}

func TestRailSmoother_ConvergesTowardSustainedTarget(t *testing.T) {
	var s RailSmootherState
	config := RailSmootherConfig{Alpha: 0.2, Deadband: 0.1, MaxStepPerSample: 1000}
	s.Update(0, config)

	var last float64
	for range 50 {
		last = s.Update(1000, config)
	}

	assert.InDelta(t, 1000.0, last, 1.0, "should converge closely after enough samples")
}

func TestRailSmoother_LargeStepIsClampedToMaxStepPerSample(t *testing.T) {
	var s RailSmootherState
	config := RailSmootherConfig{Alpha: 1.0, Deadband: 0, MaxStepPerSample: 10}
	s.Update(0, config)

	result := s.Update(10000, config) // unclamped step would be 10000

	assert.Equal(t, 10.0, result, "a single outlier sample must not move Current by more than the slew clamp")
}

func TestRailSmoother_ClampAppliesSymmetricallyInBothDirections(t *testing.T) {
	var s RailSmootherState
	config := RailSmootherConfig{Alpha: 1.0, Deadband: 0, MaxStepPerSample: 10}
	s.Update(1000, config)

	result := s.Update(-1000, config)

	assert.Equal(t, 990.0, result, "the downward clamp must mirror the upward one")
}

func TestRailSmoother_RepeatedOutliersStillSlewLimited(t *testing.T) {
	var s RailSmootherState
	config := RailSmootherConfig{Alpha: 1.0, Deadband: 0, MaxStepPerSample: 5}
	s.Update(0, config)

	for i := 1; i <= 3; i++ {
		result := s.Update(1e6, config)
		assert.Equal(t, float64(5*i), result, "each sample may move Current by at most the clamp, never more")
	}
}

func TestDefaultRailSmootherConfig_IsUsable(t *testing.T) {
	config := DefaultRailSmootherConfig()
	assert.Greater(t, config.Alpha, 0.0)
	assert.LessOrEqual(t, config.Alpha, 1.0)
	assert.Greater(t, config.MaxStepPerSample, 0.0)
}
