package throttle

import (
	"math"
	"sort"
)

// allocatePowerToCdev splits totalBudget across a sensor's bound CDEVs in
// proportion to their per-severity PID weight, running a two-pass
// low-power-device exclusion pass first. It writes status.PidPowerBudgetMap
// in place and reports false as soon as a power-linked CDEV's rail reading
// is read successfully (a missing reading instead marks the power data
// invalid and allocation carries on by weight alone), in which case the
// caller must zero every pid_cdev_request entry and skip the
// budget-to-state mapping for this tick.
func allocatePowerToCdev(
	status *Status,
	sensorInfo *SensorInfo,
	cdevInfoMap CoolingDeviceInfoMap,
	registry *CdevVoteRegistry,
	powerStatusMap PowerStatusMap,
	curr Severity,
	maxThrottling bool,
	totalBudget float64,
) bool {
	info := sensorInfo.ThrottlingInfo
	bindings := activeBindings(info, status.Profile)

	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Strings(names)

	totalWeight := 0.0
	allocatedCdev := make(map[string]bool)
	for _, name := range names {
		binding := bindings[name]
		weight := binding.CdevWeightForPid[curr]
		if !binding.Enabled {
			continue
		}
		if isAbsent(weight) || weight == 0 {
			allocatedCdev[name] = true
			continue
		}
		totalWeight += weight
	}

	powerDataInvalid := false

	for pass := 0; pass < 2; pass++ {
		lowPowerDeviceCheck := pass == 0
		allocatedPower := 0.0
		allocatedWeight := 0.0

		for _, name := range names {
			if allocatedCdev[name] {
				continue
			}
			binding := bindings[name]
			weight := binding.CdevWeightForPid[curr]

			var avgPower float64
			if !powerDataInvalid {
				if binding.PowerRail == "" {
					powerDataInvalid = true
					break
				}
				status, ok := powerStatusMap[binding.PowerRail]
				if !ok || isAbsent(status.LastUpdatedAvgPower) {
					powerDataInvalid = true
					break
				}
				avgPower = status.LastUpdatedAvgPower
				if binding.ThrottlingWithPowerLink {
					return false
				}
			}

			cdevPowerBudget := totalBudget * (weight / totalWeight)
			adj := cdevPowerBudget - avgPower

			if lowPowerDeviceCheck {
				if adj > 0 && statusPidRequest(status, name) == 0 {
					allocatedPower += avgPower
					allocatedWeight += weight
					allocatedCdev[name] = true
				}
				continue
			}

			cdevInfo, ok := cdevInfoMap[name]
			if !ok {
				continue
			}
			currCdevVote := statusPidRequest(status, name)
			if adj < 0 && currCdevVote == cdevInfo.MaxState {
				continue
			}

			switch {
			case !binding.Enabled:
				cdevPowerBudget = cdevInfo.State2Power[0]
			case !powerDataInvalid && binding.PowerRail != "":
				currBudget := status.PidPowerBudgetMap[name]
				if avgPower > currBudget && avgPower > 0 {
					cdevPowerBudget = currBudget + adj*(currBudget/avgPower)
				} else {
					cdevPowerBudget = currBudget + adj
				}
			default:
				cdevPowerBudget = totalBudget * (weight / totalWeight)
			}

			if len(cdevInfo.State2Power) > 0 && !math.IsNaN(cdevInfo.State2Power[0]) && cdevPowerBudget > cdevInfo.State2Power[0] {
				cdevPowerBudget = cdevInfo.State2Power[0]
			} else if cdevPowerBudget < 0 {
				cdevPowerBudget = 0
			}

			maxCdevVote, haveMax := registry.MaxVote(name)

			if !maxThrottling {
				if binding.MaxReleaseStep != Uncapped && (powerDataInvalid || adj > 0) {
					if !powerDataInvalid && haveMax && currCdevVote < maxCdevVote {
						cdevPowerBudget = cdevInfo.State2Power[currCdevVote]
					} else {
						step := binding.MaxReleaseStep
						for currCdevVote-step > binding.LimitInfo[curr] &&
							samePower(cdevInfo, currCdevVote-step, currCdevVote) {
							step++
						}
						targetState := max(currCdevVote-step, 0)
						cdevPowerBudget = math.Min(cdevPowerBudget, cdevInfo.State2Power[clampInt(targetState, 0, len(cdevInfo.State2Power)-1)])
					}
				}

				if binding.MaxThrottleStep != Uncapped && (powerDataInvalid || adj < 0) {
					step := binding.MaxThrottleStep
					for currCdevVote+step < binding.CdevCeiling[curr] &&
						samePower(cdevInfo, currCdevVote+step, currCdevVote) {
						step++
					}
					targetState := min(currCdevVote+step, binding.CdevCeiling[curr])
					cdevPowerBudget = math.Max(cdevPowerBudget, cdevInfo.State2Power[clampInt(targetState, 0, len(cdevInfo.State2Power)-1)])
				}
			}

			status.PidPowerBudgetMap[name] = cdevPowerBudget
		}

		if !powerDataInvalid {
			totalBudget -= allocatedPower
			totalWeight -= allocatedWeight
		}
	}

	return true
}

func statusPidRequest(status *Status, cdev string) int {
	return status.PidCdevRequestMap[cdev]
}

// samePower reports whether two CDEV states draw identical power, so the
// slew-limit walk can skip duplicate-power states.
// Out-of-range indices are treated as not matching.
func samePower(info CdevInfo, a, b int) bool {
	if a < 0 || b < 0 || a >= len(info.State2Power) || b >= len(info.State2Power) {
		return false
	}
	return info.State2Power[a] == info.State2Power[b]
}

// updateCdevRequestByPower maps every per-CDEV power budget to the lowest
// CDEV state whose power draw is at or below that budget.
func updateCdevRequestByPower(status *Status, cdevInfoMap CoolingDeviceInfoMap) {
	for cdev, budget := range status.PidPowerBudgetMap {
		info, ok := cdevInfoMap[cdev]
		if !ok || len(info.State2Power) == 0 {
			continue
		}
		state := len(info.State2Power) - 1
		for i := 0; i < len(info.State2Power)-1; i++ {
			if budget >= info.State2Power[i] {
				state = i
				break
			}
		}
		status.PidCdevRequestMap[cdev] = state
	}
}
