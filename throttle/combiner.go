package throttle

import "sort"

// combineCdevRequests fuses pid_request, hardlimit_request and release_step
// into each bound CDEV's final request, updates the CdevVoteRegistry, and
// returns the names of CDEVs whose registry max vote changed as a result.
// stats is notified once per CDEV whose combined request actually changed
// for this sensor.
func combineCdevRequests(
	sensor string,
	status *Status,
	info *ThrottlingInfo,
	curr Severity,
	registry *CdevVoteRegistry,
	stats ThermalStatsHelper,
) []string {
	bindings := activeBindings(info, status.Profile)

	names := make([]string, 0, len(status.CdevStatusMap))
	for cdev := range status.CdevStatusMap {
		names = append(names, cdev)
	}
	sort.Strings(names)

	var changed []string
	for _, cdev := range names {
		binding, ok := bindings[cdev]
		if !ok {
			continue
		}
		cdevCeiling := binding.CdevCeiling[curr]
		cdevFloor := binding.CdevFloorWithPowerLink[curr]

		pid := status.PidCdevRequestMap[cdev]
		hard := status.HardlimitCdevRequestMap[cdev]
		releaseStep := status.ThrottlingReleaseMap[cdev]

		req := max(pid, hard)
		if releaseStep != 0 {
			if releaseStep >= req {
				req = 0
			} else {
				req -= releaseStep
			}
			req = max(req, cdevFloor)
		}
		req = min(req, cdevCeiling)

		prev := status.CdevStatusMap[cdev]
		if req != prev {
			if registry.Update(cdev, prev, req) {
				changed = append(changed, cdev)
			}
			status.CdevStatusMap[cdev] = req
			if stats != nil {
				stats.UpdateSensorCdevRequestStats(sensor, cdev, req)
			}
		}
	}
	return changed
}
