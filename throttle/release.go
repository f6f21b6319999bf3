package throttle

// throttlingReleaseUpdate advances each bound CDEV's release_step according
// to measured rail power versus its per-severity threshold. It uses the
// sensor's default binding — release logic is not profile-switched, so it
// always reads throttling_info's default binded-cdev map rather than the
// active profile set.
func throttlingReleaseUpdate(status *Status, info *ThrottlingInfo, cdevInfoMap CoolingDeviceInfoMap, powerStatusMap PowerStatusMap, curr Severity) {
	for cdev, binding := range info.BindedCdevInfoMap {
		releaseStep, tracked := status.ThrottlingReleaseMap[cdev]
		if !tracked {
			continue
		}

		cdevInfo, ok := cdevInfoMap[cdev]
		if !ok {
			continue
		}
		maxState := cdevInfo.MaxState

		railStatus, ok := powerStatusMap[binding.PowerRail]
		if !ok {
			continue
		}
		avgPower := railStatus.LastUpdatedAvgPower

		if isAbsent(avgPower) || avgPower < 0 {
			if binding.ThrottlingWithPowerLink {
				status.ThrottlingReleaseMap[cdev] = maxState
			} else {
				status.ThrottlingReleaseMap[cdev] = 0
			}
			continue
		}

		threshold := binding.PowerThresholds[curr]
		isOverBudget := true
		if !binding.HighPowerCheck {
			if avgPower < threshold {
				isOverBudget = false
			}
		} else {
			if avgPower > threshold {
				isOverBudget = false
			}
		}

		switch binding.ReleaseLogic {
		case ReleaseIncrease:
			if !isOverBudget {
				if abs(releaseStep) < maxState {
					releaseStep--
				}
			} else {
				releaseStep = 0
			}
		case ReleaseDecrease:
			if !isOverBudget {
				if releaseStep < maxState {
					releaseStep++
				}
			} else {
				releaseStep = 0
			}
		case ReleaseStepwise:
			if !isOverBudget {
				if releaseStep < maxState {
					releaseStep++
				}
			} else {
				if abs(releaseStep) < maxState {
					releaseStep--
				}
			}
		case ReleaseToFloor:
			if isOverBudget {
				releaseStep = 0
			} else {
				releaseStep = maxState
			}
		case ReleaseNone:
			// no-op
		}

		status.ThrottlingReleaseMap[cdev] = releaseStep
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
