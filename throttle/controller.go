package throttle

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Controller owns the per-sensor ThrottlingStatus store and the shared
// CdevVoteRegistry, and is the sole entry point external callers use to
// drive the control core.
type Controller struct {
	mu       sync.RWMutex
	statuses map[string]*Status
	registry *CdevVoteRegistry
	profiles ProfileSource
	trace    TraceSink
}

// NewController builds an empty Controller. A nil ProfileSource disables
// profile switching (every sensor stays on its default binding).
func NewController(profiles ProfileSource) *Controller {
	if profiles == nil {
		profiles = noopProfileSource{}
	}
	return &Controller{
		statuses: make(map[string]*Status),
		registry: NewCdevVoteRegistry(),
		profiles: profiles,
	}
}

// SetTraceSink installs a collaborator notified with the PID term breakdown
// on every ThermalThrottlingUpdate call that runs the PID step (a registered
// sensor with at least one PID-tracked CDEV). Passing nil disables tracing.
func (c *Controller) SetTraceSink(sink TraceSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trace = sink
}

// RegisterThermalThrottling registers a sensor exactly once, populating its
// status maps from throttlingInfo.BindedCdevInfoMap. It fails if the sensor
// is already registered or if any bound CDEV is unknown to cdevInfoMap.
func (c *Controller) RegisterThermalThrottling(sensor string, throttlingInfo *ThrottlingInfo, cdevInfoMap CoolingDeviceInfoMap) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.statuses[sensor]; exists {
		return ErrAlreadyRegistered
	}
	if throttlingInfo == nil {
		return &ConfigError{Sensor: sensor, Reason: "no throttling info"}
	}

	status := newStatus()

	for cdev, binding := range throttlingInfo.BindedCdevInfoMap {
		if _, ok := cdevInfoMap[cdev]; !ok {
			return &ConfigError{Sensor: sensor, Reason: "unknown bound cdev " + cdev}
		}

		hasPidWeight := false
		for s := SeverityNone; s <= SeverityShutdown; s++ {
			if !isAbsent(binding.CdevWeightForPid[s]) {
				hasPidWeight = true
				break
			}
		}
		if hasPidWeight {
			status.PidPowerBudgetMap[cdev] = math.MaxFloat32
			status.PidCdevRequestMap[cdev] = 0
		}

		hasLimit := false
		for s := SeverityNone; s <= SeverityShutdown; s++ {
			if binding.LimitInfo[s] > 0 {
				hasLimit = true
				break
			}
		}
		if hasLimit {
			status.HardlimitCdevRequestMap[cdev] = 0
		}

		hasThreshold := false
		if binding.PowerRail != "" {
			for s := SeverityNone; s <= SeverityShutdown; s++ {
				if !isAbsent(binding.PowerThresholds[s]) {
					hasThreshold = true
					break
				}
			}
		}
		if hasThreshold {
			status.ThrottlingReleaseMap[cdev] = 0
		}

		if hasPidWeight || hasLimit || hasThreshold {
			status.CdevStatusMap[cdev] = 0
			c.registry.Insert(cdev, 0)
		}
	}

	c.statuses[sensor] = status
	return nil
}

// ClearThrottlingData resets a sensor's PID memory and zeroes its per-CDEV
// fields, and drops this sensor's votes from the registry. Clearing an
// unregistered sensor is a no-op.
func (c *Controller) ClearThrottlingData(sensor string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, ok := c.statuses[sensor]
	if !ok {
		return
	}
	for cdev, vote := range status.CdevStatusMap {
		if vote != 0 {
			c.registry.Update(cdev, vote, 0)
		}
	}
	status.reset()
}

// ThermalThrottlingUpdate runs one control tick for sensor: profile
// resolution, the PID budget calculation, excluded-power adjustment, the
// power allocator, the hard-limit resolver, and the release evaluator, in
// that order. It reads the registry's max votes but does not change any
// vote or emit change notifications — call ComputeCoolingDevicesRequest
// afterward for that.
//
// It returns ErrPowerLinkInvalid, wrapped with the sensor name, if the
// power allocator aborted because it read a power-linked CDEV's rail
// reading. The rest of the tick (hard-limit resolution, release
// evaluation) still runs even when this happens — only the PID allocation
// step is affected, and its pid_cdev_request entries are zeroed rather
// than left stale.
func (c *Controller) ThermalThrottlingUpdate(
	sensor string,
	temp float64,
	sensorInfo *SensorInfo,
	curr Severity,
	elapsed time.Duration,
	powerStatusMap PowerStatusMap,
	cdevInfoMap CoolingDeviceInfoMap,
	maxThrottling bool,
	sensorPredictions []float64,
) error {
	c.mu.Lock()
	status, ok := c.statuses[sensor]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if sensorInfo.ThrottlingInfo == nil {
		return nil
	}
	info := sensorInfo.ThrottlingInfo

	c.mu.Lock()
	if len(info.ProfileMap) > 0 {
		resolveProfile(sensor, status, info, c.profiles)
	}
	c.mu.Unlock()

	elapsedMs := float64(elapsed / time.Millisecond)

	var allocErr error

	if len(status.PidPowerBudgetMap) > 0 {
		c.mu.Lock()
		totalBudget, trace := computePowerBudget(status, sensorInfo, cdevInfoMap, c.registry, temp, elapsedMs, curr, maxThrottling, sensorPredictions)

		if len(info.ExcludedPowerInfoMap) > 0 && !math.IsInf(totalBudget, 1) {
			totalBudget = computeExcludedPower(info, curr, powerStatusMap, totalBudget)
		}

		ok := allocatePowerToCdev(status, sensorInfo, cdevInfoMap, c.registry, powerStatusMap, curr, maxThrottling, totalBudget)
		if !ok {
			allocErr = fmt.Errorf("throttle: %s: %w", sensor, ErrPowerLinkInvalid)
			for cdev := range status.PidCdevRequestMap {
				status.PidCdevRequestMap[cdev] = 0
			}
		} else {
			updateCdevRequestByPower(status, cdevInfoMap)
		}
		c.mu.Unlock()

		trace.Sensor = sensor
		if c.trace != nil {
			c.trace.OnPidTrace(trace)
		}
	}

	if len(status.HardlimitCdevRequestMap) > 0 {
		c.mu.Lock()
		updateCdevRequestBySeverity(status, info, curr)
		c.mu.Unlock()
	}

	if len(status.ThrottlingReleaseMap) > 0 {
		c.mu.Lock()
		throttlingReleaseUpdate(status, info, cdevInfoMap, powerStatusMap, curr)
		c.mu.Unlock()
	}

	return allocErr
}

// ComputeCoolingDevicesRequest runs the combiner for sensor and returns the
// names of CDEVs whose aggregated max vote changed.
// Callers should notify actuators for exactly these CDEVs, and must not
// hold any Controller lock while doing so.
func (c *Controller) ComputeCoolingDevicesRequest(sensor string, sensorInfo *SensorInfo, curr Severity, stats ThermalStatsHelper) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, ok := c.statuses[sensor]
	if !ok || sensorInfo.ThrottlingInfo == nil {
		return nil
	}
	return combineCdevRequests(sensor, status, sensorInfo.ThrottlingInfo, curr, c.registry, stats)
}

// GetCdevMaxRequest returns the current maximum vote across all sensors for
// cdev, and whether the CDEV is known at all.
func (c *Controller) GetCdevMaxRequest(cdev string) (int, bool) {
	return c.registry.MaxVote(cdev)
}
