package throttle

import "math"

// targetStateOfPID picks the severity index used to index every PID table
// for the current tick. It walks severities in ascending
// order, remembering the last one with a defined (non-NaN) s_power entry,
// and stops as soon as it has recorded a severity strictly greater than
// curr. This reproduces a deliberate off-by-one: if every severity up to
// and including curr is NaN, the loop still keeps walking past curr and
// will latch onto the first valid severity above it, rather than refusing
// to pick a target at all. See DESIGN.md for why this is kept as-is.
func targetStateOfPID(info *ThrottlingInfo, curr Severity) Severity {
	targetState := SeverityNone
	for s := SeverityNone; s <= SeverityShutdown; s++ {
		if isAbsent(info.SPower[s]) {
			continue
		}
		targetState = s
		if s > curr {
			break
		}
	}
	return targetState
}

// computePowerBudget runs the PID law for one sensor tick
// and returns the resulting power budget in mW, persisting PID memory on
// status as it goes. curr == SeverityNone short-circuits to +Inf before any
// state is touched.
func computePowerBudget(
	status *Status,
	sensorInfo *SensorInfo,
	cdevInfoMap CoolingDeviceInfoMap,
	registry *CdevVoteRegistry,
	temp float64,
	elapsedMs float64,
	curr Severity,
	maxThrottling bool,
	sensorPredictions []float64,
) (float64, PidTrace) {
	info := sensorInfo.ThrottlingInfo
	if curr == SeverityNone {
		return math.Inf(1), PidTrace{}
	}

	bindings := activeBindings(info, status.Profile)

	// Saturation flags over the active bindings (§4.2 step 1).
	isFullyRelease := true
	isFullyThrottle := true
	for cdev, binding := range bindings {
		req := status.PidCdevRequestMap[cdev]
		if req > binding.LimitInfo[curr] {
			isFullyRelease = false
		}
		if req < binding.CdevCeiling[curr] {
			isFullyThrottle = false
		}
	}

	// Target change / transient detection (§4.2 step 2).
	targetState := targetStateOfPID(info, curr)
	targetChanged := false
	if status.PrevTarget != SeverityNone && targetState != status.PrevTarget && info.TranCycle > 0 {
		status.TranCycle = info.TranCycle - 1
		targetChanged = true
	}
	status.PrevTarget = targetState

	// Setpoint (§4.2 step 3).
	target := sensorInfo.HotThresholds[targetState]
	err := target - temp

	// Max-throttling shortcut (§4.2 step 4).
	if maxThrottling && err <= 0 {
		return info.MinAllocPower[targetState], PidTrace{
			Sensor: "", TargetState: targetState, Err: err, PowerBudget: info.MinAllocPower[targetState],
		}
	}

	// P term (§4.2 step 5).
	var p float64
	if err < 0 {
		p = err * info.KPO[targetState]
	} else {
		p = err * info.KPU[targetState]
	}

	// I initialization (§4.2 step 6), first tick only.
	if isAbsent(status.IBudget) {
		if isAbsent(info.IDefaultPct) {
			status.IBudget = info.IDefault
		} else {
			status.IBudget = initialIntegralFromCdevPower(info, cdevInfoMap, registry) * info.IDefaultPct / 100
		}
	}

	// I accumulation (§4.2 step 7).
	if err < info.ICutoff[targetState] {
		switch {
		case err < 0 && status.PrevPowerBudget > info.MinAllocPower[targetState] && !isFullyThrottle:
			status.IBudget += err * info.KIO[targetState]
		case err > 0 && status.PrevPowerBudget < info.MaxAllocPower[targetState] && !isFullyRelease:
			status.IBudget += err * info.KIU[targetState]
		}
	}
	if iMax := info.IMax[targetState]; math.Abs(status.IBudget) > iMax {
		if status.IBudget > 0 {
			status.IBudget = iMax
		} else {
			status.IBudget = -iMax
		}
	}

	// D term (§4.2 step 8).
	var d float64
	if !isAbsent(status.PrevErr) && elapsedMs > 0 {
		d = info.KD[targetState] * (err - status.PrevErr) / elapsedMs
	}

	// Predictive compensation (§4.2 step 9).
	var compensation float64
	if p := sensorInfo.PredictorInfo; p != nil && p.SupportPidCompensation {
		for i, weight := range p.PredictionWeights {
			if i >= len(sensorPredictions) {
				break
			}
			predictionErr := target - sensorPredictions[i]*sensorInfo.Multiplier
			compensation += weight * predictionErr
		}
		compensation *= p.KPCompensate[targetState]
	}

	status.PrevErr = err

	// Raw budget + clamp (§4.2 steps 10-11).
	powerBudget := info.SPower[targetState] + p + status.IBudget + d + compensation
	powerBudget = clamp(powerBudget, info.MinAllocPower[targetState], info.MaxAllocPower[targetState])

	// Transient blending (§4.2 step 12).
	if targetChanged {
		status.BudgetTransient = status.PrevPowerBudget - powerBudget
	}
	var appliedTransient float64
	if status.TranCycle > 0 {
		appliedTransient = status.BudgetTransient * (float64(status.TranCycle) / float64(info.TranCycle))
		powerBudget += appliedTransient
		status.TranCycle--
	}

	status.PrevPowerBudget = powerBudget

	return powerBudget, PidTrace{
		TargetState:     targetState,
		Err:             err,
		P:               p,
		I:               status.IBudget,
		D:               d,
		Compensation:    compensation,
		BudgetTransient: appliedTransient,
		PowerBudget:     powerBudget,
	}
}

// initialIntegralFromCdevPower sums, over every default-bound CDEV, the
// power draw at that CDEV's currently registered max vote (§4.2 step 6,
// i_default_pct branch). Any CDEV whose registry has no max yet (not
// registered) contributes 0.
func initialIntegralFromCdevPower(info *ThrottlingInfo, cdevInfoMap CoolingDeviceInfoMap, registry *CdevVoteRegistry) float64 {
	var total float64
	for cdev := range info.BindedCdevInfoMap {
		cdevInfo, ok := cdevInfoMap[cdev]
		if !ok {
			continue
		}
		maxVote, ok := registry.MaxVote(cdev)
		if !ok {
			continue
		}
		maxVote = clampInt(maxVote, 0, len(cdevInfo.State2Power)-1)
		total += cdevInfo.State2Power[maxVote]
	}
	return total
}

// computeExcludedPower subtracts, for every configured power rail with a
// defined last-average reading, that rail's weighted contribution from the
// sensor's budget, clamped to >= 0.
func computeExcludedPower(info *ThrottlingInfo, curr Severity, powerStatusMap PowerStatusMap, budget float64) float64 {
	for rail, weights := range info.ExcludedPowerInfoMap {
		status, ok := powerStatusMap[rail]
		if !ok || isAbsent(status.LastUpdatedAvgPower) {
			continue
		}
		budget -= status.LastUpdatedAvgPower * weights[curr]
	}
	if budget < 0 {
		budget = 0
	}
	return budget
}
