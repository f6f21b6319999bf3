package throttle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingStats struct {
	calls []string
}

func (r *recordingStats) UpdateSensorCdevRequestStats(sensor, cdev string, state int) {
	r.calls = append(r.calls, sensor+":"+cdev)
}

func combinerFixture() (*ThrottlingInfo, *Status) {
	binding := &BindedCdevInfo{}
	binding.CdevCeiling[SeverityModerate] = 8
	binding.CdevFloorWithPowerLink[SeverityModerate] = 1
	info := &ThrottlingInfo{BindedCdevInfoMap: map[string]*BindedCdevInfo{"fan0": binding}}

	status := newStatus()
	status.CdevStatusMap["fan0"] = 0
	status.PidCdevRequestMap["fan0"] = 0
	status.HardlimitCdevRequestMap["fan0"] = 0
	status.ThrottlingReleaseMap["fan0"] = 0
	return info, status
}

func TestCombineCdevRequests_TakesMaxOfPidAndHardLimit(t *testing.T) {
	info, status := combinerFixture()
	status.PidCdevRequestMap["fan0"] = 3
	status.HardlimitCdevRequestMap["fan0"] = 5

	registry := NewCdevVoteRegistry()
	registry.Insert("fan0", 0)
	changed := combineCdevRequests("cpu0", status, info, SeverityModerate, registry, nil)

	assert.Equal(t, []string{"fan0"}, changed)
	assert.Equal(t, 5, status.CdevStatusMap["fan0"])
}

func TestCombineCdevRequests_ClampsToCeiling(t *testing.T) {
	info, status := combinerFixture()
	status.PidCdevRequestMap["fan0"] = 20

	registry := NewCdevVoteRegistry()
	registry.Insert("fan0", 0)
	combineCdevRequests("cpu0", status, info, SeverityModerate, registry, nil)

	assert.Equal(t, 8, status.CdevStatusMap["fan0"])
}

func TestCombineCdevRequests_ReleaseStepPullsTowardFloorNotBelowIt(t *testing.T) {
	info, status := combinerFixture()
	status.PidCdevRequestMap["fan0"] = 6
	status.ThrottlingReleaseMap["fan0"] = 10 // bigger than the raw request

	registry := NewCdevVoteRegistry()
	registry.Insert("fan0", 0)
	combineCdevRequests("cpu0", status, info, SeverityModerate, registry, nil)

	// releaseStep >= req so req would go to 0, but the floor pulls it back up.
	assert.Equal(t, 1, status.CdevStatusMap["fan0"])
}

func TestCombineCdevRequests_PartialReleaseSubtracts(t *testing.T) {
	info, status := combinerFixture()
	status.PidCdevRequestMap["fan0"] = 6
	status.ThrottlingReleaseMap["fan0"] = 2

	registry := NewCdevVoteRegistry()
	registry.Insert("fan0", 0)
	combineCdevRequests("cpu0", status, info, SeverityModerate, registry, nil)

	assert.Equal(t, 4, status.CdevStatusMap["fan0"])
}

func TestCombineCdevRequests_NoChangeSkipsStatsAndRegistry(t *testing.T) {
	info, status := combinerFixture()
	// request stays at 0, identical to current CdevStatusMap value.
	registry := NewCdevVoteRegistry()
	registry.Insert("fan0", 0)
	stats := &recordingStats{}

	changed := combineCdevRequests("cpu0", status, info, SeverityModerate, registry, stats)

	assert.Empty(t, changed)
	assert.Empty(t, stats.calls)
}

func TestCombineCdevRequests_NotifiesStatsOnChange(t *testing.T) {
	info, status := combinerFixture()
	status.PidCdevRequestMap["fan0"] = 3
	registry := NewCdevVoteRegistry()
	registry.Insert("fan0", 0)
	stats := &recordingStats{}

	combineCdevRequests("cpu0", status, info, SeverityModerate, registry, stats)

	assert.Equal(t, []string{"cpu0:fan0"}, stats.calls)
}
