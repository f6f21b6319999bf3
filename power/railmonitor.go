// Package power turns raw per-rail sample readings into the smoothed
// throttle.PowerStatusMap the control core consumes.
package power

import (
	"log"
	"math"
	"sync"

	"github.com/arlobridge/thermalctl/governor"
	"github.com/arlobridge/thermalctl/throttle"
)

// railState holds one rail's smoothing state: a deadbanded, slew-clamped
// exponential moving average over raw wattage samples and a rolling average the release evaluator reads as
// "measured rail power" with a bounded memory footprint.
type railState struct {
	smoother       governor.RailSmootherState
	smootherConfig governor.RailSmootherConfig
	rolling        governor.RollingAverage

	lastEnergyJoules float64
	haveEnergy       bool
	frozen           bool
}

// RailMonitor samples per-rail cumulative energy counters and derives a
// smoothed average power reading for each, guarding against a counter that
// rolls over or resets by freezing that rail's reading at "absent" (NaN)
// until a clean sample arrives, rather than surfacing a transient read as
// an error.
type RailMonitor struct {
	mu    sync.Mutex
	rails map[string]*railState
}

// NewRailMonitor returns an empty monitor; rails are created lazily on
// first sample.
func NewRailMonitor() *RailMonitor {
	return &RailMonitor{rails: make(map[string]*railState)}
}

// Sample records a cumulative energy counter reading (joules) for rail at
// the given sample interval and folds its derived wattage into that rail's
// smoothing state. A counter that decreases since the last sample is an
// EnergyCounterRegression: the rail is logged and frozen at NaN rather than
// fed a negative power delta.
func (m *RailMonitor) Sample(rail string, energyJoules float64, intervalSeconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.rails[rail]
	if !ok {
		state = &railState{smootherConfig: governor.DefaultRailSmootherConfig(), rolling: governor.NewRollingAverage()}
		m.rails[rail] = state
	}

	if !state.haveEnergy {
		state.lastEnergyJoules = energyJoules
		state.haveEnergy = true
		return
	}

	delta := energyJoules - state.lastEnergyJoules
	state.lastEnergyJoules = energyJoules

	if delta < 0 {
		log.Printf("power: rail %s: energy counter regressed by %.3fJ, freezing average", rail, -delta)
		state.frozen = true
		return
	}
	state.frozen = false

	if intervalSeconds <= 0 {
		return
	}
	watts := delta / intervalSeconds
	smoothed := state.smoother.Update(watts, state.smootherConfig)
	state.rolling.Update(smoothed)
}

// Status builds the throttle.PowerStatusMap snapshot consumed by one
// control tick. Rails frozen by an energy-counter regression, or with no
// derived reading yet, report NaN; rails never sampled have no entry.
func (m *RailMonitor) Status() throttle.PowerStatusMap {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(throttle.PowerStatusMap, len(m.rails))
	for rail, state := range m.rails {
		if state.frozen {
			out[rail] = throttle.PowerStatus{LastUpdatedAvgPower: math.NaN()}
			continue
		}
		out[rail] = throttle.PowerStatus{LastUpdatedAvgPower: state.rolling.Average()}
	}
	return out
}
