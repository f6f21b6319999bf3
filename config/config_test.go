package config

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arlobridge/thermalctl/throttle"
)

func minimalDoc() Document {
	return Document{
		CoolingDevices: []CdevYAML{
			{Name: "fan0", State2Power: []float64{100, 80, 60, 40, 20, 0}, MaxState: 5},
		},
		Sensors: []SensorYAML{
			{
				Name:          "cpu0",
				HotThresholds: []float64{40, 45, 50},
				Multiplier:    1.0,
				Throttling: &ThrottlingYAML{
					SPower: []float64{0, 0, 50},
					KPO:    []float64{0, 0, -1.0},
					IMax:   []float64{0, 0, -4.0},
					Bindings: []CdevBindingYAML{
						{Cdev: "fan0", CdevWeightForPid: []float64{0, 0, 1.0}, Enabled: true, ReleaseLogic: "decrease"},
					},
				},
			},
		},
	}
}

func TestBuild_ValidDocumentProducesSensorAndCdevInfo(t *testing.T) {
	doc := minimalDoc()
	sensors, cdevs, err := doc.Build()
	require.NoError(t, err)

	require.Contains(t, sensors, "cpu0")
	require.Contains(t, cdevs, "fan0")

	info := sensors["cpu0"]
	assert.Equal(t, 1.0, info.Multiplier)
	assert.Equal(t, 50.0, info.ThrottlingInfo.SPower[throttle.SeverityModerate])
	assert.True(t, math.IsNaN(info.ThrottlingInfo.SPower[throttle.SeveritySevere]), "unset entries must pad to NaN")

	binding := info.ThrottlingInfo.BindedCdevInfoMap["fan0"]
	require.NotNil(t, binding)
	assert.True(t, binding.Enabled)
	assert.Equal(t, throttle.ReleaseDecrease, binding.ReleaseLogic)
	assert.Equal(t, throttle.Uncapped, binding.MaxThrottleStep, "unset step caps must default to uncapped")
}

func TestBuild_BindingToUnknownCdevIsAValidationError(t *testing.T) {
	doc := minimalDoc()
	doc.Sensors[0].Throttling.Bindings[0].Cdev = "ghost_fan"

	_, _, err := doc.Build()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestBuild_UnrecognizedReleaseLogicIsAValidationError(t *testing.T) {
	doc := minimalDoc()
	doc.Sensors[0].Throttling.Bindings[0].ReleaseLogic = "not_a_real_policy"

	_, _, err := doc.Build()
	require.Error(t, err)
}

func TestBuild_EmptySensorNameIsAValidationError(t *testing.T) {
	doc := minimalDoc()
	doc.Sensors[0].Name = ""

	_, _, err := doc.Build()
	require.Error(t, err)
}

func TestBuild_CollectsErrorsAcrossMultipleSensorsConcurrently(t *testing.T) {
	doc := minimalDoc()
	broken := minimalDoc().Sensors[0]
	broken.Name = "cpu1"
	broken.Throttling.Bindings[0].Cdev = "ghost_fan"
	doc.Sensors = append(doc.Sensors, broken)

	_, _, err := doc.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cpu1")
}

func TestBuild_CdevWithNoState2PowerIsAValidationError(t *testing.T) {
	doc := minimalDoc()
	doc.CoolingDevices[0].State2Power = nil

	_, _, err := doc.Build()
	require.Error(t, err)
}

func TestBuild_SensorWithNoThrottlingInfoIsAllowed(t *testing.T) {
	doc := minimalDoc()
	doc.Sensors[0].Throttling = nil

	sensors, _, err := doc.Build()
	require.NoError(t, err)
	assert.Nil(t, sensors["cpu0"].ThrottlingInfo)
}

func TestBuild_ProfileBindingsAreKeptSeparateFromDefault(t *testing.T) {
	doc := minimalDoc()
	doc.Sensors[0].Throttling.Profiles = map[string][]CdevBindingYAML{
		"quiet": {{Cdev: "fan0", Enabled: true, ReleaseLogic: "to_floor"}},
	}

	sensors, _, err := doc.Build()
	require.NoError(t, err)

	info := sensors["cpu0"].ThrottlingInfo
	require.Contains(t, info.ProfileMap, "quiet")
	assert.Equal(t, throttle.ReleaseToFloor, info.ProfileMap["quiet"]["fan0"].ReleaseLogic)
	assert.Equal(t, throttle.ReleaseDecrease, info.BindedCdevInfoMap["fan0"].ReleaseLogic)
}

func TestBuild_AbsentIDefaultPctFallsBackToIDefault(t *testing.T) {
	doc := minimalDoc()
	doc.Sensors[0].Throttling.IDefault = 12.5

	sensors, _, err := doc.Build()
	require.NoError(t, err)
	assert.True(t, math.IsNaN(sensors["cpu0"].ThrottlingInfo.IDefaultPct), "an unset i_default_pct must stay the absent sentinel, not fall back to 0")
}

func TestBuild_ExplicitZeroIDefaultPctIsPreservedNotTreatedAsAbsent(t *testing.T) {
	doc := minimalDoc()
	zero := 0.0
	doc.Sensors[0].Throttling.IDefaultPct = &zero

	sensors, _, err := doc.Build()
	require.NoError(t, err)
	assert.Equal(t, 0.0, sensors["cpu0"].ThrottlingInfo.IDefaultPct, "an explicit i_default_pct: 0 is a real value distinct from absent and must not become NaN")
}

func TestToSeverityTable_PadsMissingEntriesWithNaN(t *testing.T) {
	table := toSeverityTable([]float64{1, 2})
	assert.Equal(t, 1.0, table[0])
	assert.Equal(t, 2.0, table[1])
	assert.True(t, math.IsNaN(table[2]))
}

func TestToSeverityIntTable_PadsMissingEntriesWithZero(t *testing.T) {
	table := toSeverityIntTable([]int{5})
	assert.Equal(t, 5, table[0])
	assert.Equal(t, 0, table[1])
}
