package throttle

import "log"

// resolveProfile reads the external "<sensor>.profile" property. An unset
// or unrecognized value falls back to the default binding (profile "").
// PID state is never touched here — only
// status.Profile changes, so gains and the integral term carry over
// seamlessly across a profile switch.
func resolveProfile(sensor string, status *Status, info *ThrottlingInfo, source ProfileSource) {
	if len(info.ProfileMap) == 0 {
		return
	}

	profile := source.GetProfileProperty(sensor)
	if profile != "" {
		if _, ok := info.ProfileMap[profile]; !ok {
			log.Printf("throttle: %s: profile %q is invalid, falling back to default", sensor, profile)
			profile = ""
		}
	}

	if profile != status.Profile {
		name := profile
		if name == "" {
			name = "default"
		}
		log.Printf("throttle: %s: throttling profile change to %s", sensor, name)
		status.Profile = profile
	}
}
