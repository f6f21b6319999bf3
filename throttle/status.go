package throttle

import "math"

// Status is the per-sensor mutable control state:
// PID memory, per-CDEV power budget, and the three request paths that feed
// the combiner.
type Status struct {
	PrevErr         float64
	IBudget         float64
	PrevPowerBudget float64
	PrevTarget      Severity
	TranCycle       int
	BudgetTransient float64
	Profile         string

	PidPowerBudgetMap       map[string]float64
	PidCdevRequestMap       map[string]int
	HardlimitCdevRequestMap map[string]int
	ThrottlingReleaseMap    map[string]int

	// CdevStatusMap holds, per bound CDEV that participates in at least one
	// of PID/hard-limit/release, the last combined request this sensor
	// issued to the CdevVoteRegistry.
	CdevStatusMap map[string]int
}

func newStatus() *Status {
	return &Status{
		PrevErr:                 math.NaN(),
		IBudget:                 math.NaN(),
		PrevPowerBudget:         math.NaN(),
		PrevTarget:              SeverityNone,
		TranCycle:               0,
		Profile:                 "",
		PidPowerBudgetMap:       make(map[string]float64),
		PidCdevRequestMap:       make(map[string]int),
		HardlimitCdevRequestMap: make(map[string]int),
		ThrottlingReleaseMap:    make(map[string]int),
		CdevStatusMap:           make(map[string]int),
	}
}

// reset restores PID memory and zeroes every per-CDEV field in place,
// without touching which CDEVs are registered.
func (s *Status) reset() {
	s.PrevErr = math.NaN()
	s.IBudget = math.NaN()
	s.PrevPowerBudget = math.NaN()
	s.PrevTarget = SeverityNone
	s.TranCycle = 0
	s.BudgetTransient = 0
	for k := range s.PidPowerBudgetMap {
		s.PidPowerBudgetMap[k] = math.MaxFloat32
	}
	for k := range s.PidCdevRequestMap {
		s.PidCdevRequestMap[k] = 0
	}
	for k := range s.HardlimitCdevRequestMap {
		s.HardlimitCdevRequestMap[k] = 0
	}
	for k := range s.ThrottlingReleaseMap {
		s.ThrottlingReleaseMap[k] = 0
	}
	for k := range s.CdevStatusMap {
		s.CdevStatusMap[k] = 0
	}
}

// activeBindings returns the profile-selected binding set if the sensor's
// current profile resolves to one, otherwise the default binding. Factored
// out here since every caller below needs the same lookup.
func activeBindings(info *ThrottlingInfo, profile string) map[string]*BindedCdevInfo {
	if profile != "" {
		if bindings, ok := info.ProfileMap[profile]; ok {
			return bindings
		}
	}
	return info.BindedCdevInfoMap
}
