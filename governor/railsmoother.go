// Package governor provides power governing algorithms for smoothing and rate limiting.
package governor

import "math"

// RailSmootherState tracks one rail's exponentially-smoothed wattage.
type RailSmootherState struct {
	Current     float64 // current smoothed output value
	initialized bool
}

// RailSmootherConfig holds tunable parameters for the rail smoother.
type RailSmootherConfig struct {
	Alpha            float64 // EMA weight given to each new sample, (0,1]
	Deadband         float64 // diff magnitude below which a sample is pure noise and ignored outright
	MaxStepPerSample float64 // slew-rate clamp, watts per sample
}

// DefaultRailSmootherConfig returns the default configuration for turning a
// rail's raw per-sample wattage into the value the release evaluator
// compares against its thresholds: a fairly reactive EMA (alpha=0.2, i.e.
// a ~5-sample time constant) with a deadband tuned to mA-class sampling
// noise and a 50 W/sample slew clamp so a single bad reading can't jump the
// tracked value by more than that in one sample.
func DefaultRailSmootherConfig() RailSmootherConfig {
	return RailSmootherConfig{
		Alpha:            0.2,
		Deadband:         0.05,
		MaxStepPerSample: 50.0,
	}
}

// Update folds one new wattage sample into the smoothed value and returns
// it. The first call seeds Current directly. After that:
//  1. A diff smaller than Deadband is treated as sampling jitter and
//     dropped — Current does not move at all.
//  2. Otherwise Current moves by Alpha*diff, the standard exponential
//     moving average recurrence (equivalent to
//     Current = Alpha*sample + (1-Alpha)*Current).
//  3. That step is clamped to MaxStepPerSample so one outlier sample can't
//     move the tracked value further than the configured slew rate allows.
func (s *RailSmootherState) Update(sample float64, config RailSmootherConfig) float64 {
	if !s.initialized {
		s.Current = sample
		s.initialized = true
		return s.Current
	}

	diff := sample - s.Current
	if math.Abs(diff) < config.Deadband {
		return s.Current
	}

	step := config.Alpha * diff
	if math.Abs(step) > config.MaxStepPerSample {
		step = math.Copysign(config.MaxStepPerSample, step)
	}
	s.Current += step
	return s.Current
}
