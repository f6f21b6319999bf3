package throttle

// updateCdevRequestBySeverity resolves each bound CDEV's hard-limit request
// directly from the severity-indexed limit table, independent of the PID
// path.
func updateCdevRequestBySeverity(status *Status, info *ThrottlingInfo, curr Severity) {
	bindings := activeBindings(info, status.Profile)
	for cdev, binding := range bindings {
		if _, tracked := status.HardlimitCdevRequestMap[cdev]; !tracked {
			continue
		}
		if binding.Enabled {
			status.HardlimitCdevRequestMap[cdev] = binding.LimitInfo[curr]
		} else {
			status.HardlimitCdevRequestMap[cdev] = 0
		}
	}
}
