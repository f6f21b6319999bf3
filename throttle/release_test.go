package throttle

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func releaseFixture(logic ReleaseLogic, highPowerCheck bool) (*ThrottlingInfo, CoolingDeviceInfoMap) {
	binding := &BindedCdevInfo{
		PowerRail:      "rail0",
		ReleaseLogic:   logic,
		HighPowerCheck: highPowerCheck,
	}
	binding.PowerThresholds[SeverityModerate] = 1000
	info := &ThrottlingInfo{BindedCdevInfoMap: map[string]*BindedCdevInfo{"fan0": binding}}
	cdevMap := CoolingDeviceInfoMap{"fan0": CdevInfo{State2Power: []float64{10, 8, 6, 4, 2, 0}, MaxState: 5}}
	return info, cdevMap
}

func TestThrottlingReleaseUpdate_Increase(t *testing.T) {
	info, cdevMap := releaseFixture(ReleaseIncrease, false)
	status := newStatus()
	status.ThrottlingReleaseMap["fan0"] = 0

	// Under the 1000mW threshold: steps toward more negative release.
	throttlingReleaseUpdate(status, info, cdevMap, PowerStatusMap{"rail0": {LastUpdatedAvgPower: 500}}, SeverityModerate)
	assert.Equal(t, -1, status.ThrottlingReleaseMap["fan0"])

	// Over budget resets to 0.
	throttlingReleaseUpdate(status, info, cdevMap, PowerStatusMap{"rail0": {LastUpdatedAvgPower: 1500}}, SeverityModerate)
	assert.Equal(t, 0, status.ThrottlingReleaseMap["fan0"])
}

func TestThrottlingReleaseUpdate_Decrease(t *testing.T) {
	info, cdevMap := releaseFixture(ReleaseDecrease, false)
	status := newStatus()
	status.ThrottlingReleaseMap["fan0"] = 0

	throttlingReleaseUpdate(status, info, cdevMap, PowerStatusMap{"rail0": {LastUpdatedAvgPower: 500}}, SeverityModerate)
	assert.Equal(t, 1, status.ThrottlingReleaseMap["fan0"])

	throttlingReleaseUpdate(status, info, cdevMap, PowerStatusMap{"rail0": {LastUpdatedAvgPower: 1500}}, SeverityModerate)
	assert.Equal(t, 0, status.ThrottlingReleaseMap["fan0"])
}

func TestThrottlingReleaseUpdate_StepwiseCapsAtMaxState(t *testing.T) {
	info, cdevMap := releaseFixture(ReleaseStepwise, false)
	status := newStatus()
	status.ThrottlingReleaseMap["fan0"] = 5 // already at maxState

	throttlingReleaseUpdate(status, info, cdevMap, PowerStatusMap{"rail0": {LastUpdatedAvgPower: 500}}, SeverityModerate)
	assert.Equal(t, 5, status.ThrottlingReleaseMap["fan0"], "must not exceed maxState")
}

func TestThrottlingReleaseUpdate_ToFloor(t *testing.T) {
	info, cdevMap := releaseFixture(ReleaseToFloor, false)
	status := newStatus()
	status.ThrottlingReleaseMap["fan0"] = 0

	throttlingReleaseUpdate(status, info, cdevMap, PowerStatusMap{"rail0": {LastUpdatedAvgPower: 500}}, SeverityModerate)
	assert.Equal(t, 5, status.ThrottlingReleaseMap["fan0"])

	throttlingReleaseUpdate(status, info, cdevMap, PowerStatusMap{"rail0": {LastUpdatedAvgPower: 1500}}, SeverityModerate)
	assert.Equal(t, 0, status.ThrottlingReleaseMap["fan0"])
}

func TestThrottlingReleaseUpdate_HighPowerCheckInvertsComparison(t *testing.T) {
	info, cdevMap := releaseFixture(ReleaseToFloor, true)
	status := newStatus()
	status.ThrottlingReleaseMap["fan0"] = 0

	// With HighPowerCheck, avgPower above threshold means NOT over budget.
	throttlingReleaseUpdate(status, info, cdevMap, PowerStatusMap{"rail0": {LastUpdatedAvgPower: 1500}}, SeverityModerate)
	assert.Equal(t, 5, status.ThrottlingReleaseMap["fan0"])
}

func TestThrottlingReleaseUpdate_MissingRailDataWithPowerLinkGoesToMax(t *testing.T) {
	info, cdevMap := releaseFixture(ReleaseToFloor, false)
	info.BindedCdevInfoMap["fan0"].ThrottlingWithPowerLink = true
	status := newStatus()
	status.ThrottlingReleaseMap["fan0"] = 0

	throttlingReleaseUpdate(status, info, cdevMap, PowerStatusMap{"rail0": {LastUpdatedAvgPower: math.NaN()}}, SeverityModerate)
	assert.Equal(t, 5, status.ThrottlingReleaseMap["fan0"])
}

func TestThrottlingReleaseUpdate_MissingRailDataWithoutPowerLinkGoesToZero(t *testing.T) {
	info, cdevMap := releaseFixture(ReleaseToFloor, false)
	status := newStatus()
	status.ThrottlingReleaseMap["fan0"] = 5

	throttlingReleaseUpdate(status, info, cdevMap, PowerStatusMap{"rail0": {LastUpdatedAvgPower: math.NaN()}}, SeverityModerate)
	assert.Equal(t, 0, status.ThrottlingReleaseMap["fan0"])
}

func TestThrottlingReleaseUpdate_NoneIsNoOp(t *testing.T) {
	info, cdevMap := releaseFixture(ReleaseNone, false)
	status := newStatus()
	status.ThrottlingReleaseMap["fan0"] = 3

	throttlingReleaseUpdate(status, info, cdevMap, PowerStatusMap{"rail0": {LastUpdatedAvgPower: 500}}, SeverityModerate)
	assert.Equal(t, 3, status.ThrottlingReleaseMap["fan0"])
}
